package sheets_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/listing-enricher/pkg/mocksheets"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/core"
	"github.com/shpitdev/listing-enricher/pkg/sheets"
	"github.com/shpitdev/listing-enricher/pkg/sheets/memory"
)

func newClient(t *testing.T, wb *memory.Workbook) (*sheets.Client, *mocksheets.Server) {
	t.Helper()
	mock := mocksheets.New("sheet-123", wb)
	ts := httptest.NewServer(mock.Handler())
	t.Cleanup(ts.Close)

	c, err := sheets.NewClient(context.Background(), sheets.Config{
		SpreadsheetID: "sheet-123",
		Endpoint:      ts.URL,
	})
	require.NoError(t, err)
	return c, mock
}

func TestClientReadWriteRoundTrip(t *testing.T) {
	t.Parallel()

	wb := memory.New("出品用CSV", "AI-memo")
	wb.SetGrid("AI-memo", [][]string{
		{"日本語タイトル", "日本語説明"},
		{"腕時計", "説明"},
		{},
		{"財布"},
	})
	c, _ := newClient(t, wb)
	ctx := context.Background()

	got, err := c.Read(ctx, "AI-memo!A2:A")
	require.NoError(t, err)
	assert.Equal(t, []string{"腕時計", "", "財布"}, sheets.Column(got))

	require.NoError(t, c.Write(ctx, "AI-memo!AB2:AB", sheets.ColumnValues([]string{"Watch"})))
	require.NoError(t, c.BatchWrite(ctx, []sheets.ValueRange{
		{Range: "AI-memo!AC2", Values: [][]string{{"A watch"}}},
		{Range: "AI-memo!AD4", Values: [][]string{{"Brand"}}},
	}))
	assert.Equal(t, "Watch", wb.Cell("AI-memo!AB2"))
	assert.Equal(t, "A watch", wb.Cell("AI-memo!AC2"))
	assert.Equal(t, "Brand", wb.Cell("AI-memo!AD4"))

	require.NoError(t, c.Clear(ctx, "AI-memo!B1:B"))
	assert.Equal(t, "", wb.Cell("AI-memo!B2"))
	assert.Equal(t, "腕時計", wb.Cell("AI-memo!A2"))
}

func TestClientSheetIDAndFormat(t *testing.T) {
	t.Parallel()

	wb := memory.New("出品用CSV", "AI-memo")
	wb.SetGrid("AI-memo", [][]string{{"a", "b"}, {"c", "d"}})
	c, mock := newClient(t, wb)
	ctx := context.Background()

	id, err := c.SheetID(ctx, "出品用CSV")
	require.NoError(t, err)
	assert.EqualValues(t, 0, id)

	id, err = c.SheetID(ctx, "AI-memo")
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)

	_, err = c.SheetID(ctx, "Missing")
	assert.True(t, core.IsConfig(err))

	require.NoError(t, c.BatchFormat(ctx, id, []sheets.FormatRequest{
		{Range: &sheets.GridRange{StartRow: 0, EndRow: 1, StartCol: 0, EndCol: 1}, Background: sheets.Yellow},
	}))
	assert.Equal(t, sheets.Yellow, wb.Background("AI-memo", 0, 0))
	assert.Equal(t, [][2]int{{0, 0}}, wb.Colored("AI-memo"))

	require.NoError(t, c.BatchFormat(ctx, id, []sheets.FormatRequest{{Background: sheets.White}}))
	assert.Empty(t, wb.Colored("AI-memo"))
	assert.Equal(t, 2, mock.CountOp(mocksheets.OpBatchFormat))
}

func TestClientMapsAPIErrors(t *testing.T) {
	t.Parallel()

	c, mock := newClient(t, memory.New("AI-memo"))
	ctx := context.Background()

	mock.FailNext(mocksheets.OpBatchWrite, 429, 1)
	err := c.BatchWrite(ctx, []sheets.ValueRange{{Range: "AI-memo!AB2", Values: [][]string{{"x"}}}})
	require.Error(t, err)
	assert.Equal(t, 429, core.StatusCode(err))
	assert.True(t, core.IsThrottledWrite(err))

	mock.FailNext(mocksheets.OpRead, 500, 1)
	_, err = c.Read(ctx, "AI-memo!A2:A")
	require.Error(t, err)
	assert.Equal(t, 500, core.StatusCode(err))
	assert.False(t, core.IsThrottledWrite(err))

	_, err = c.Read(ctx, "Nope!A1")
	require.Error(t, err)
	assert.Equal(t, 400, core.StatusCode(err))
}

func TestNewClientValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := sheets.NewClient(context.Background(), sheets.Config{})
	assert.True(t, core.IsConfig(err))

	_, err = sheets.NewClient(context.Background(), sheets.Config{SpreadsheetID: "x"})
	assert.True(t, core.IsConfig(err))

	_, err = sheets.NewClient(context.Background(), sheets.Config{SpreadsheetID: "x", ServiceAccountFile: "/does/not/exist.json"})
	assert.True(t, core.IsConfig(err))
}
