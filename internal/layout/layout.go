// Package layout holds the sheet names and fixed coordinates of the workbook.
package layout

import (
	"fmt"

	"github.com/shpitdev/listing-enricher/pkg/a1"
)

// ImageSlots is the number of image columns (D..AA) on the memo sheet.
const ImageSlots = 24

// Layout describes where everything lives. Zero values are replaced by
// Default() fields in WithDefaults.
type Layout struct {
	MemoSheet    string `yaml:"memo_sheet" toml:"memo_sheet"`
	SettingSheet string `yaml:"setting_sheet" toml:"setting_sheet"`
	ListingSheet string `yaml:"listing_sheet" toml:"listing_sheet"`

	CredentialColumn string `yaml:"credential_column" toml:"credential_column"`
	PlaceholderCell  string `yaml:"placeholder_cell" toml:"placeholder_cell"`

	TitleColumn       string `yaml:"title_column" toml:"title_column"`
	DescriptionColumn string `yaml:"description_column" toml:"description_column"`
	AttributeBase     int    `yaml:"attribute_base" toml:"attribute_base"`
	FirstDataRow      int    `yaml:"first_data_row" toml:"first_data_row"`
}

// Default is the layout used by the listing workbook.
func Default() Layout {
	return Layout{
		MemoSheet:         "AI-memo",
		SettingSheet:      "Setting",
		ListingSheet:      "出品用CSV",
		CredentialColumn:  "F",
		PlaceholderCell:   "B2",
		TitleColumn:       "AB",
		DescriptionColumn: "AC",
		AttributeBase:     29,
		FirstDataRow:      2,
	}
}

// WithDefaults fills unset fields from Default.
func (l Layout) WithDefaults() Layout {
	d := Default()
	if l.MemoSheet == "" {
		l.MemoSheet = d.MemoSheet
	}
	if l.SettingSheet == "" {
		l.SettingSheet = d.SettingSheet
	}
	if l.ListingSheet == "" {
		l.ListingSheet = d.ListingSheet
	}
	if l.CredentialColumn == "" {
		l.CredentialColumn = d.CredentialColumn
	}
	if l.PlaceholderCell == "" {
		l.PlaceholderCell = d.PlaceholderCell
	}
	if l.TitleColumn == "" {
		l.TitleColumn = d.TitleColumn
	}
	if l.DescriptionColumn == "" {
		l.DescriptionColumn = d.DescriptionColumn
	}
	if l.AttributeBase <= 0 {
		l.AttributeBase = d.AttributeBase
	}
	if l.FirstDataRow <= 0 {
		l.FirstDataRow = d.FirstDataRow
	}
	return l
}

// Validate checks that every column reference parses.
func (l Layout) Validate() error {
	for field, col := range map[string]string{
		"credential_column":  l.CredentialColumn,
		"title_column":       l.TitleColumn,
		"description_column": l.DescriptionColumn,
	} {
		if _, err := a1.ColumnIndex(col); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}
	if _, err := a1.ParseRange(l.PlaceholderCell); err != nil {
		return fmt.Errorf("placeholder_cell: %w", err)
	}
	return nil
}

func column(sheet, col string, row int) string {
	return fmt.Sprintf("%s!%s%d:%s", a1.QuoteSheet(sheet), col, row, col)
}

// MemoTitles is the reference (Japanese) title column.
func (l Layout) MemoTitles() string { return column(l.MemoSheet, "A", l.FirstDataRow) }

// MemoDescriptions is the reference description column.
func (l Layout) MemoDescriptions() string { return column(l.MemoSheet, "B", l.FirstDataRow) }

// MemoImages is the first image slot column.
func (l Layout) MemoImages() string { return column(l.MemoSheet, "D", l.FirstDataRow) }

// MemoAttributeHeader is the header row from the attribute base column on.
func (l Layout) MemoAttributeHeader() string {
	return fmt.Sprintf("%s!%s1:1", a1.QuoteSheet(l.MemoSheet), a1.ColumnLetters(l.AttributeBase))
}

// Credentials is the API key column on the settings sheet.
func (l Layout) Credentials() string {
	return fmt.Sprintf("%s!%s1:%s", a1.QuoteSheet(l.SettingSheet), l.CredentialColumn, l.CredentialColumn)
}

// Placeholder is the cell holding the placeholder image link.
func (l Layout) Placeholder() string {
	return fmt.Sprintf("%s!%s", a1.QuoteSheet(l.SettingSheet), l.PlaceholderCell)
}

// MemoHeaders returns the fixed memo sheet headers: reference title,
// description and SKU, the image slots, then the two output columns.
func MemoHeaders() []string {
	out := make([]string, 0, 5+ImageSlots)
	out = append(out, "日本語タイトル", "日本語説明", "SKU")
	for i := 1; i <= ImageSlots; i++ {
		out = append(out, fmt.Sprintf("画像-%02d", i))
	}
	return append(out, "New-Titel", "New-Discription")
}
