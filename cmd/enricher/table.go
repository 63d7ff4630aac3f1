package main

import (
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

func renderTable(w io.Writer, headers []string, rows [][]any) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	configs := make([]table.ColumnConfig, 0, len(headers))
	for i, h := range headers {
		header[i] = h
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: text.AlignRight, AlignHeader: text.AlignCenter})
	}
	t.AppendHeader(header)
	t.SetColumnConfigs(configs)

	for _, r := range rows {
		row := make(table.Row, len(r))
		for i, v := range r {
			if n, ok := v.(int); ok {
				row[i] = humanize.Comma(int64(n))
				continue
			}
			row[i] = v
		}
		t.AppendRow(row)
	}
	t.Render()
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Minute:
		return d.Round(time.Second).String()
	case d >= time.Second:
		return d.Round(10 * time.Millisecond).String()
	default:
		return d.Round(time.Millisecond).String()
	}
}
