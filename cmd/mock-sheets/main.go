package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/shpitdev/listing-enricher/pkg/mocksheets"
	"github.com/shpitdev/listing-enricher/pkg/sheets/local"
	"github.com/shpitdev/listing-enricher/pkg/sheets/memory"
)

func main() {
	addr := defaultString("MOCK_SHEETS_ADDR", ":8080")
	spreadsheetID := defaultString("MOCK_SHEETS_SPREADSHEET_ID", "local")
	seedDir := defaultString("MOCK_SHEETS_SEED_DIR", "")
	token := defaultString("MOCK_SHEETS_TOKEN", "")

	fs := flag.NewFlagSet("mock-sheets", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&spreadsheetID, "spreadsheet-id", spreadsheetID, "Spreadsheet id served by the mock")
	fs.StringVar(&seedDir, "seed-dir", seedDir, "Directory of <sheet>.csv files loaded at startup")
	fs.StringVar(&token, "token", token, "Require this bearer token when set")
	_ = fs.Parse(os.Args[1:])

	wb := memory.New("出品用CSV", "AI-memo", "Setting")
	if seedDir != "" {
		loaded, err := local.LoadDir(seedDir)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "load seed dir: %v\n", err)
			os.Exit(1)
		}
		for _, name := range loaded.SheetNames() {
			grid, _ := loaded.Grid(name)
			wb.SetGrid(name, grid)
		}
	}

	srv := mocksheets.New(spreadsheetID, wb)
	srv.RequireBearerToken(token)

	_, _ = fmt.Fprintf(os.Stdout, "mock-sheets listening on %s (spreadsheet=%s sheets=%s)\n",
		addr, spreadsheetID, strings.Join(wb.SheetNames(), ","))
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
