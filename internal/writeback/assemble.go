// Package writeback turns enrichment results into targeted cell writes and
// submits them in throttled batches.
package writeback

import (
	"strconv"

	"github.com/shpitdev/listing-enricher/internal/enrich"
	"github.com/shpitdev/listing-enricher/internal/layout"
	"github.com/shpitdev/listing-enricher/pkg/a1"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/schema"
	"github.com/shpitdev/listing-enricher/pkg/sheets"
)

// Assembler knows where results go on the memo sheet.
type Assembler struct {
	Sheet             string
	TitleColumn       string
	DescriptionColumn string
	// AttributeBase is the column index of the first attribute (29 = AD).
	AttributeBase int
	// FirstRow is the sheet row of results[0].
	FirstRow int
}

// NewAssembler derives an Assembler from the workbook layout.
func NewAssembler(l layout.Layout) Assembler {
	return Assembler{
		Sheet:             l.MemoSheet,
		TitleColumn:       l.TitleColumn,
		DescriptionColumn: l.DescriptionColumn,
		AttributeBase:     l.AttributeBase,
		FirstRow:          l.FirstDataRow,
	}
}

// Assemble emits one single-cell write per value. Rows with a nil result get
// nothing. Attribute keys missing from the schema are dropped. Writes are
// ordered by row, then title, description and attributes in schema order.
func (a Assembler) Assemble(results []*enrich.Result, attrs schema.Attributes) []sheets.ValueRange {
	var ops []sheets.ValueRange
	cell := func(col string, row int) string {
		return a1.QuoteSheet(a.Sheet) + "!" + col + strconv.Itoa(row)
	}
	for i, r := range results {
		if r == nil {
			continue
		}
		row := a.FirstRow + i
		ops = append(ops,
			sheets.ValueRange{Range: cell(a.TitleColumn, row), Values: [][]string{{r.Title}}},
			sheets.ValueRange{Range: cell(a.DescriptionColumn, row), Values: [][]string{{r.Description}}},
		)
		for _, w := range attributeWrites(r.Attributes, attrs) {
			ops = append(ops, sheets.ValueRange{
				Range:  a1.Cell(a.Sheet, w.index+a.AttributeBase, row-1),
				Values: [][]string{{w.value}},
			})
		}
	}
	return ops
}

type attributeWrite struct {
	index int
	value string
}

func attributeWrites(values map[string]string, attrs schema.Attributes) []attributeWrite {
	if len(values) == 0 {
		return nil
	}
	byIndex := make(map[int]string, len(values))
	for k, v := range values {
		idx, ok := attrs.Index(k)
		if !ok {
			continue
		}
		byIndex[idx] = v
	}
	out := make([]attributeWrite, 0, len(byIndex))
	for i := 0; i < attrs.Len(); i++ {
		if v, ok := byIndex[i]; ok {
			out = append(out, attributeWrite{index: i, value: v})
		}
	}
	return out
}
