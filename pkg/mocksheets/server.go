// Package mocksheets serves a minimal subset of the Google Sheets v4 REST API
// from an in-memory workbook. It covers the calls made by sheets.Client.
package mocksheets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/shpitdev/listing-enricher/pkg/pipeline/core"
	"github.com/shpitdev/listing-enricher/pkg/sheets"
	"github.com/shpitdev/listing-enricher/pkg/sheets/memory"
)

// Operation names used by Call.Op and FailNext.
const (
	OpGetSpreadsheet = "getSpreadsheet"
	OpRead           = "read"
	OpWrite          = "write"
	OpBatchWrite     = "batchWrite"
	OpClear          = "clear"
	OpBatchFormat    = "batchFormat"
)

// Call records a request made to the mock service.
type Call struct {
	Method string
	Path   string
	Op     string
}

type failure struct {
	status  int
	remains int
}

// Server implements the spreadsheet and values endpoints over one workbook.
type Server struct {
	spreadsheetID string
	wb            *memory.Workbook

	mu                    sync.Mutex
	calls                 []Call
	failures              map[string]*failure
	expectedAuthorization string
}

// New constructs a mock for spreadsheetID backed by wb.
func New(spreadsheetID string, wb *memory.Workbook) *Server {
	if wb == nil {
		wb = memory.New()
	}
	return &Server{
		spreadsheetID: spreadsheetID,
		wb:            wb,
		failures:      make(map[string]*failure),
	}
}

// Workbook returns the backing workbook for assertions.
func (s *Server) Workbook() *memory.Workbook { return s.wb }

// RequireBearerToken enforces that requests include an Authorization header matching the token.
// If token is empty, authorization is not enforced.
func (s *Server) RequireBearerToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token = strings.TrimSpace(token)
	if token == "" {
		s.expectedAuthorization = ""
		return
	}
	s.expectedAuthorization = "Bearer " + token
}

// FailNext makes the next n requests for op fail with status.
func (s *Server) FailNext(op string, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 {
		delete(s.failures, op)
		return
	}
	s.failures[op] = &failure{status: status, remains: n}
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CountOp reports how many calls were made for op, failed ones included.
func (s *Server) CountOp(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Handler returns an http.Handler that serves the mock API.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serve)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	segs, err := splitPath(r.URL.EscapedPath())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// v4 / spreadsheets / {id}[:batchUpdate] [/ values[:op] [/ {range}[:clear]]]
	if len(segs) < 3 || segs[0] != "v4" || segs[1] != "spreadsheets" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	id, verb, _ := strings.Cut(segs[2], ":")
	op, handler := s.route(r.Method, verb, segs[3:])
	s.record(r, op)

	if !s.authorize(w, r) {
		return
	}
	if handler == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if id != s.spreadsheetID {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Requested entity was not found: %s", id))
		return
	}
	if status, ok := s.takeFailure(op); ok {
		writeError(w, status, fmt.Sprintf("injected failure for %s", op))
		return
	}
	handler(w, r)
}

func (s *Server) route(method, verb string, rest []string) (string, http.HandlerFunc) {
	switch {
	case len(rest) == 0 && verb == "" && method == http.MethodGet:
		return OpGetSpreadsheet, s.handleGetSpreadsheet
	case len(rest) == 0 && verb == "batchUpdate" && method == http.MethodPost:
		return OpBatchFormat, s.handleBatchFormat
	case len(rest) == 1 && rest[0] == "values:batchUpdate" && method == http.MethodPost:
		return OpBatchWrite, s.handleBatchWrite
	case len(rest) == 1 && rest[0] == "values:batchClear" && method == http.MethodPost:
		return OpClear, s.handleBatchClear
	case len(rest) == 2 && rest[0] == "values":
		if rng, ok := strings.CutSuffix(rest[1], ":clear"); ok && method == http.MethodPost {
			return OpClear, func(w http.ResponseWriter, r *http.Request) { s.clearRanges(r.Context(), w, []string{rng}) }
		}
		switch method {
		case http.MethodGet:
			return OpRead, func(w http.ResponseWriter, r *http.Request) { s.handleRead(w, r, rest[1]) }
		case http.MethodPut:
			return OpWrite, func(w http.ResponseWriter, r *http.Request) { s.handleWrite(w, r, rest[1]) }
		}
	}
	return "", nil
}

func (s *Server) record(r *http.Request, op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path, Op: op})
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	expected := s.expectedAuthorization
	s.mu.Unlock()

	if expected == "" {
		return true
	}
	if r.Header.Get("Authorization") != expected {
		writeError(w, http.StatusUnauthorized, "Request is missing required authentication credential.")
		return false
	}
	return true
}

func (s *Server) takeFailure(op string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.failures[op]
	if !ok {
		return 0, false
	}
	f.remains--
	if f.remains <= 0 {
		delete(s.failures, op)
	}
	return f.status, true
}

type sheetProperties struct {
	SheetID int64  `json:"sheetId"`
	Title   string `json:"title"`
	Index   int    `json:"index"`
}

type sheetEntry struct {
	Properties sheetProperties `json:"properties"`
}

func (s *Server) handleGetSpreadsheet(w http.ResponseWriter, r *http.Request) {
	var entries []sheetEntry
	for i, name := range s.wb.SheetNames() {
		id, err := s.wb.SheetID(r.Context(), name)
		if err != nil {
			continue
		}
		entries = append(entries, sheetEntry{Properties: sheetProperties{SheetID: id, Title: name, Index: i}})
	}
	writeJSON(w, map[string]any{
		"spreadsheetId": s.spreadsheetID,
		"sheets":        entries,
	})
}

type valueRange struct {
	Range          string  `json:"range"`
	MajorDimension string  `json:"majorDimension,omitempty"`
	Values         [][]any `json:"values,omitempty"`
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request, rng string) {
	grid, err := s.wb.Read(r.Context(), rng)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, valueRange{Range: rng, MajorDimension: "ROWS", Values: toAny(grid)})
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request, rng string) {
	var body valueRange
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.wb.Write(r.Context(), rng, toStrings(body.Values)); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"spreadsheetId": s.spreadsheetID,
		"updatedRange":  rng,
		"updatedRows":   len(body.Values),
	})
}

func (s *Server) handleBatchWrite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ValueInputOption string       `json:"valueInputOption"`
		Data             []valueRange `json:"data"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data := make([]sheets.ValueRange, 0, len(body.Data))
	cells := 0
	for _, vr := range body.Data {
		vals := toStrings(vr.Values)
		for _, row := range vals {
			cells += len(row)
		}
		data = append(data, sheets.ValueRange{Range: vr.Range, Values: vals})
	}
	if err := s.wb.BatchWrite(r.Context(), data); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"spreadsheetId":     s.spreadsheetID,
		"totalUpdatedCells": cells,
	})
}

func (s *Server) handleBatchClear(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Ranges []string `json:"ranges"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.clearRanges(r.Context(), w, body.Ranges)
}

func (s *Server) clearRanges(ctx context.Context, w http.ResponseWriter, ranges []string) {
	for _, rng := range ranges {
		if err := s.wb.Clear(ctx, rng); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	writeJSON(w, map[string]any{
		"spreadsheetId": s.spreadsheetID,
		"clearedRanges": ranges,
	})
}

type gridRange struct {
	SheetID          int64  `json:"sheetId"`
	StartRowIndex    *int64 `json:"startRowIndex"`
	EndRowIndex      *int64 `json:"endRowIndex"`
	StartColumnIndex *int64 `json:"startColumnIndex"`
	EndColumnIndex   *int64 `json:"endColumnIndex"`
}

type batchUpdateRequest struct {
	Requests []struct {
		RepeatCell *struct {
			Range gridRange `json:"range"`
			Cell  struct {
				UserEnteredFormat struct {
					BackgroundColor sheets.Color `json:"backgroundColor"`
				} `json:"userEnteredFormat"`
			} `json:"cell"`
			Fields string `json:"fields"`
		} `json:"repeatCell"`
	} `json:"requests"`
}

func (s *Server) handleBatchFormat(w http.ResponseWriter, r *http.Request) {
	var body batchUpdateRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bySheet := make(map[int64][]sheets.FormatRequest)
	var order []int64
	for _, req := range body.Requests {
		rc := req.RepeatCell
		if rc == nil {
			writeError(w, http.StatusBadRequest, "only repeatCell requests are supported")
			return
		}
		fr := sheets.FormatRequest{Background: rc.Cell.UserEnteredFormat.BackgroundColor}
		if g := rc.Range; g.StartRowIndex != nil || g.StartColumnIndex != nil {
			fr.Range = &sheets.GridRange{
				StartRow: deref(g.StartRowIndex),
				EndRow:   deref(g.EndRowIndex),
				StartCol: deref(g.StartColumnIndex),
				EndCol:   deref(g.EndColumnIndex),
			}
		}
		if _, ok := bySheet[rc.Range.SheetID]; !ok {
			order = append(order, rc.Range.SheetID)
		}
		bySheet[rc.Range.SheetID] = append(bySheet[rc.Range.SheetID], fr)
	}
	for _, id := range order {
		if err := s.wb.BatchFormat(r.Context(), id, bySheet[id]); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	replies := make([]struct{}, len(body.Requests))
	writeJSON(w, map[string]any{
		"spreadsheetId": s.spreadsheetID,
		"replies":       replies,
	})
}

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func splitPath(escaped string) ([]string, error) {
	raw := strings.Split(strings.Trim(escaped, "/"), "/")
	out := make([]string, 0, len(raw))
	for _, seg := range raw {
		v, err := url.PathUnescape(seg)
		if err != nil {
			return nil, fmt.Errorf("invalid path segment %q", seg)
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeBody(r *http.Request, dst any) error {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}

func toAny(grid [][]string) [][]any {
	out := make([][]any, len(grid))
	for i, row := range grid {
		r := make([]any, len(row))
		for j, v := range row {
			r[j] = v
		}
		out[i] = r
	}
	return out
}

func toStrings(values [][]any) [][]string {
	out := make([][]string, len(values))
	for i, row := range values {
		r := make([]string, len(row))
		for j, v := range row {
			if v != nil {
				r[j] = fmt.Sprint(v)
			}
		}
		out[i] = r
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeStoreError(w http.ResponseWriter, err error) {
	status := core.StatusCode(err)
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": msg,
			"status":  statusName(status),
		},
	})
}

func statusName(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "INVALID_ARGUMENT"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "PERMISSION_DENIED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	case http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}
