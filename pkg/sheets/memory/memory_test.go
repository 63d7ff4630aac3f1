package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/listing-enricher/pkg/pipeline/core"
	"github.com/shpitdev/listing-enricher/pkg/sheets"
	"github.com/shpitdev/listing-enricher/pkg/sheets/memory"
)

func TestReadTrimsLikeSheets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	wb := memory.New("AI-memo")
	wb.SetGrid("AI-memo", [][]string{
		{"title", "desc"},
		{"t1", "d1", "", ""},
		{},
		{"t3", ""},
		{"", ""},
	})

	got, err := wb.Read(ctx, "AI-memo!A2:A")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"t1"}, nil, {"t3"}}, got)

	got, err = wb.Read(ctx, "AI-memo!B2:B")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"d1"}}, got)

	got, err = wb.Read(ctx, "AI-memo!A1:1")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"title", "desc"}}, got)

	got, err = wb.Read(ctx, "AI-memo!Z1:Z")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWriteAndBatchWrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	wb := memory.New("AI-memo")

	require.NoError(t, wb.Write(ctx, "AI-memo!A2:A", sheets.ColumnValues([]string{"a", "b"})))
	require.NoError(t, wb.BatchWrite(ctx, []sheets.ValueRange{
		{Range: "AI-memo!AB2:AB2", Values: [][]string{{"title"}}},
		{Range: "AI-memo!AD3", Values: [][]string{{"Brand X"}}},
	}))

	assert.Equal(t, "a", wb.Cell("AI-memo!A2"))
	assert.Equal(t, "b", wb.Cell("AI-memo!A3"))
	assert.Equal(t, "title", wb.Cell("AI-memo!AB2"))
	assert.Equal(t, "Brand X", wb.Cell("AI-memo!AD3"))
	assert.Equal(t, "", wb.Cell("AI-memo!AC2"))
}

func TestBatchWriteIsAllOrNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	wb := memory.New("AI-memo")
	err := wb.BatchWrite(ctx, []sheets.ValueRange{
		{Range: "AI-memo!A1", Values: [][]string{{"x"}}},
		{Range: "Missing!A1", Values: [][]string{{"y"}}},
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, sheets.ErrSheetNotFound))
	assert.Equal(t, 400, core.StatusCode(err))
	assert.Equal(t, "", wb.Cell("AI-memo!A1"))
}

func TestClearKeepsOtherCells(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	wb := memory.New("AI-memo")
	wb.SetGrid("AI-memo", [][]string{{"h1", "h2"}, {"a", "b"}})

	require.NoError(t, wb.Clear(ctx, "AI-memo!B1:B"))
	grid, ok := wb.Grid("AI-memo")
	require.True(t, ok)
	assert.Equal(t, [][]string{{"h1"}, {"a"}}, grid)

	require.NoError(t, wb.Clear(ctx, "AI-memo"))
	got, err := wb.Read(ctx, "AI-memo")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSheetIDAndFormatting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	wb := memory.New("出品用CSV", "AI-memo")

	id, err := wb.SheetID(ctx, "AI-memo")
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)

	_, err = wb.SheetID(ctx, "Nope")
	assert.True(t, core.IsConfig(err))
	assert.ErrorIs(t, err, sheets.ErrSheetNotFound)

	require.NoError(t, wb.BatchFormat(ctx, id, []sheets.FormatRequest{{
		Range:      &sheets.GridRange{StartRow: 1, EndRow: 2, StartCol: 3, EndCol: 5},
		Background: sheets.Yellow,
	}}))
	assert.Equal(t, [][2]int{{1, 3}, {1, 4}}, wb.Colored("AI-memo"))
	assert.Equal(t, sheets.Yellow, wb.Background("AI-memo", 3, 1))

	require.NoError(t, wb.BatchFormat(ctx, id, []sheets.FormatRequest{{Background: sheets.White}}))
	assert.Empty(t, wb.Colored("AI-memo"))

	err = wb.BatchFormat(ctx, 99, nil)
	assert.Equal(t, 400, core.StatusCode(err))
}
