// Package prepare builds the memo sheet from the raw listing sheet: reference
// columns, split image slots, highlights and placeholder padding.
package prepare

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shpitdev/listing-enricher/internal/imagefetch"
	"github.com/shpitdev/listing-enricher/internal/layout"
	"github.com/shpitdev/listing-enricher/pkg/a1"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/redact"
	"github.com/shpitdev/listing-enricher/pkg/sheets"
)

// Listing sheet columns copied to the memo sheet.
const (
	listingTitleColumn       = "AD"
	listingDescriptionColumn = "AE"
	listingSKUColumn         = "B"
	listingImagesColumn      = "H"
	listingHeaderColumn      = "AF"

	imageSeparator = "|"
	firstImageCol  = 3 // D
)

type Preparer struct {
	Store  sheets.Store
	Layout layout.Layout
	Logger *slog.Logger
}

// Report summarizes one prepare run.
type Report struct {
	Rows        int
	Headers     int
	Images      int
	Dropped     int
	Padded      int
	Placeholder string
	Duration    time.Duration
}

type listing struct {
	titles       []string
	descriptions []string
	skus         []string
	images       []string
	headers      []string
	placeholder  string
}

// Run rebuilds the memo sheet. The sheet is cleared first, so a failure part
// way through leaves it partially written; rerunning is safe.
func (p Preparer) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	l := p.Layout.WithDefaults()
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "prepare")

	src, err := p.read(ctx, l)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Rows: len(src.titles)}

	memoID, err := p.Store.SheetID(ctx, l.MemoSheet)
	if err != nil {
		return Report{}, err
	}
	if err := p.Store.Clear(ctx, a1.QuoteSheet(l.MemoSheet)); err != nil {
		return Report{}, fmt.Errorf("clear memo sheet: %w", err)
	}
	if err := p.Store.BatchFormat(ctx, memoID, []sheets.FormatRequest{{Background: sheets.White}}); err != nil {
		return Report{}, fmt.Errorf("reset memo sheet colours: %w", err)
	}
	logger.Info("memo sheet cleared", "sheet", l.MemoSheet)

	headers := append(layout.MemoHeaders(), src.headers...)
	rep.Headers = len(headers)
	if err := p.Store.Write(ctx, a1.Cell(l.MemoSheet, 0, 0), [][]string{headers}); err != nil {
		return Report{}, fmt.Errorf("write headers: %w", err)
	}

	for i, col := range [][]string{src.titles, src.descriptions, src.skus} {
		if len(col) == 0 {
			continue
		}
		if err := p.Store.Write(ctx, a1.Cell(l.MemoSheet, i, l.FirstDataRow-1), sheets.ColumnValues(col)); err != nil {
			return Report{}, fmt.Errorf("write column %s: %w", a1.ColumnLetters(i), err)
		}
	}

	grid, counts, dropped := splitImages(src.images)
	rep.Dropped = dropped
	for _, n := range counts {
		rep.Images += n
	}
	if dropped > 0 {
		logger.Warn("image slots exceeded; extra images dropped", "dropped", dropped, "slots", layout.ImageSlots)
	}

	if link, ok := imagefetch.DriveImageURL(src.placeholder); ok {
		rep.Placeholder = link
		rep.Padded = pad(grid, link)
	} else {
		logger.Error("placeholder image link missing or invalid; padding skipped",
			"cell", l.Placeholder(), "value", redact.Secrets(src.placeholder))
	}

	if len(grid) > 0 {
		if err := p.Store.Write(ctx, a1.Cell(l.MemoSheet, firstImageCol, l.FirstDataRow-1), grid); err != nil {
			return Report{}, fmt.Errorf("write images: %w", err)
		}
	}
	if reqs := highlights(counts, l.FirstDataRow-1); len(reqs) > 0 {
		if err := p.Store.BatchFormat(ctx, memoID, reqs); err != nil {
			return Report{}, fmt.Errorf("highlight images: %w", err)
		}
	}

	rep.Duration = time.Since(start)
	logger.Info("memo sheet prepared",
		"rows", rep.Rows,
		"images", rep.Images,
		"padded", rep.Padded,
		"duration", rep.Duration.Round(time.Millisecond),
	)
	return rep, nil
}

func (p Preparer) read(ctx context.Context, l layout.Layout) (listing, error) {
	var src listing
	column := func(col string) string {
		return fmt.Sprintf("%s!%s2:%s", a1.QuoteSheet(l.ListingSheet), col, col)
	}

	g, gctx := errgroup.WithContext(ctx)
	readColumn := func(rng string, dst *[]string) {
		g.Go(func() error {
			grid, err := p.Store.Read(gctx, rng)
			if err != nil {
				return fmt.Errorf("read %s: %w", rng, err)
			}
			*dst = sheets.Column(grid)
			return nil
		})
	}
	readColumn(column(listingTitleColumn), &src.titles)
	readColumn(column(listingDescriptionColumn), &src.descriptions)
	readColumn(column(listingSKUColumn), &src.skus)
	readColumn(column(listingImagesColumn), &src.images)
	g.Go(func() error {
		rng := fmt.Sprintf("%s!%s1:1", a1.QuoteSheet(l.ListingSheet), listingHeaderColumn)
		grid, err := p.Store.Read(gctx, rng)
		if err != nil {
			return fmt.Errorf("read %s: %w", rng, err)
		}
		src.headers = sheets.FirstRow(grid)
		return nil
	})
	g.Go(func() error {
		grid, err := p.Store.Read(gctx, l.Placeholder())
		if err != nil {
			return fmt.Errorf("read %s: %w", l.Placeholder(), err)
		}
		if row := sheets.FirstRow(grid); len(row) > 0 {
			src.placeholder = row[0]
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return listing{}, err
	}
	return src, nil
}

// splitImages turns pipe-separated cells into rows of image slots. Row i of
// the grid always belongs to cell i. counts[i] is the number of real images
// kept for row i.
func splitImages(cells []string) (grid [][]string, counts []int, dropped int) {
	grid = make([][]string, len(cells))
	counts = make([]int, len(cells))
	for i, cell := range cells {
		var row []string
		for _, part := range strings.Split(cell, imageSeparator) {
			if part = strings.TrimSpace(part); part != "" {
				row = append(row, part)
			}
		}
		if len(row) > layout.ImageSlots {
			dropped += len(row) - layout.ImageSlots
			row = row[:layout.ImageSlots]
		}
		grid[i] = row
		counts[i] = len(row)
	}
	return grid, counts, dropped
}

// pad fills every row up to the slot count and returns the number of cells added.
func pad(grid [][]string, placeholder string) int {
	added := 0
	for i, row := range grid {
		for len(row) < layout.ImageSlots {
			row = append(row, placeholder)
			added++
		}
		grid[i] = row
	}
	return added
}

func highlights(counts []int, firstRow0 int) []sheets.FormatRequest {
	var reqs []sheets.FormatRequest
	for i, n := range counts {
		if n == 0 {
			continue
		}
		row := int64(firstRow0 + i)
		reqs = append(reqs, sheets.FormatRequest{
			Range: &sheets.GridRange{
				StartRow: row,
				EndRow:   row + 1,
				StartCol: firstImageCol,
				EndCol:   int64(firstImageCol + n),
			},
			Background: sheets.Yellow,
		})
	}
	return reqs
}
