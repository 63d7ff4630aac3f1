package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/shpitdev/listing-enricher/pkg/pipeline/core"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/redact"
)

const valueInputRaw = "RAW"

// Client is a Store backed by one Google Sheets spreadsheet.
type Client struct {
	svc           *sheetsapi.Service
	spreadsheetID string
}

var _ Store = (*Client)(nil)

// Config selects the spreadsheet and how to authenticate.
type Config struct {
	SpreadsheetID string

	// ServiceAccountFile is a path to a service account JSON key.
	ServiceAccountFile string

	// Endpoint overrides the API base URL (mock servers). When set without a
	// service account, requests are sent unauthenticated.
	Endpoint string
}

// NewClient constructs a client. Extra options are appended after the ones
// derived from cfg.
func NewClient(ctx context.Context, cfg Config, extra ...option.ClientOption) (*Client, error) {
	id := strings.TrimSpace(cfg.SpreadsheetID)
	if id == "" {
		return nil, &core.ConfigError{Field: "spreadsheet_id", Err: errors.New("is required")}
	}

	var opts []option.ClientOption
	switch {
	case strings.TrimSpace(cfg.ServiceAccountFile) != "":
		creds, err := loadServiceAccount(ctx, cfg.ServiceAccountFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithCredentials(creds))
	case strings.TrimSpace(cfg.Endpoint) != "":
		opts = append(opts, option.WithoutAuthentication())
	default:
		return nil, &core.ConfigError{Field: "service_account_file", Err: errors.New("is required")}
	}
	if ep := strings.TrimSpace(cfg.Endpoint); ep != "" {
		if !strings.HasSuffix(ep, "/") {
			ep += "/"
		}
		opts = append(opts, option.WithEndpoint(ep))
	}
	opts = append(opts, extra...)

	svc, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{svc: svc, spreadsheetID: id}, nil
}

func loadServiceAccount(ctx context.Context, path string) (*google.Credentials, error) {
	b, err := os.ReadFile(strings.TrimSpace(path))
	if err != nil {
		return nil, &core.ConfigError{Field: "service_account_file", Err: err}
	}
	creds, err := google.CredentialsFromJSON(ctx, b, sheetsapi.SpreadsheetsScope)
	if err != nil {
		return nil, &core.ConfigError{Field: "service_account_file", Err: errors.New(redact.Secrets(err.Error()))}
	}
	return creds, nil
}

func (c *Client) Read(ctx context.Context, rng string) ([][]string, error) {
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, wrapErr("read", rng, err)
	}
	out := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		vals := make([]string, len(row))
		for j, v := range row {
			vals[j] = cellString(v)
		}
		out[i] = vals
	}
	return out, nil
}

func (c *Client) Write(ctx context.Context, rng string, values [][]string) error {
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, &sheetsapi.ValueRange{
		Range:  rng,
		Values: toAPIValues(values),
	}).ValueInputOption(valueInputRaw).Context(ctx).Do()
	if err != nil {
		return wrapErr("write", rng, err)
	}
	return nil
}

func (c *Client) BatchWrite(ctx context.Context, data []ValueRange) error {
	if len(data) == 0 {
		return nil
	}
	req := &sheetsapi.BatchUpdateValuesRequest{
		ValueInputOption: valueInputRaw,
		Data:             make([]*sheetsapi.ValueRange, 0, len(data)),
	}
	for _, vr := range data {
		req.Data = append(req.Data, &sheetsapi.ValueRange{Range: vr.Range, Values: toAPIValues(vr.Values)})
	}
	if _, err := c.svc.Spreadsheets.Values.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return wrapErr("batchWrite", data[0].Range, err)
	}
	return nil
}

func (c *Client) Clear(ctx context.Context, rng string) error {
	_, err := c.svc.Spreadsheets.Values.BatchClear(c.spreadsheetID, &sheetsapi.BatchClearValuesRequest{
		Ranges: []string{rng},
	}).Context(ctx).Do()
	if err != nil {
		return wrapErr("clear", rng, err)
	}
	return nil
}

func (c *Client) SheetID(ctx context.Context, name string) (int64, error) {
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, wrapErr("getSheetId", name, err)
	}
	for _, s := range ss.Sheets {
		if s != nil && s.Properties != nil && s.Properties.Title == name {
			return s.Properties.SheetId, nil
		}
	}
	return 0, &core.ConfigError{Field: "sheet " + name, Err: ErrSheetNotFound}
}

func (c *Client) BatchFormat(ctx context.Context, sheetID int64, reqs []FormatRequest) error {
	if len(reqs) == 0 {
		return nil
	}
	body := &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: make([]*sheetsapi.Request, 0, len(reqs)),
	}
	for _, fr := range reqs {
		body.Requests = append(body.Requests, &sheetsapi.Request{
			RepeatCell: &sheetsapi.RepeatCellRequest{
				Range: gridRange(sheetID, fr.Range),
				Cell: &sheetsapi.CellData{
					UserEnteredFormat: &sheetsapi.CellFormat{
						BackgroundColor: &sheetsapi.Color{
							Red:             fr.Background.Red,
							Green:           fr.Background.Green,
							Blue:            fr.Background.Blue,
							ForceSendFields: []string{"Red", "Green", "Blue"},
						},
					},
				},
				Fields: "userEnteredFormat.backgroundColor",
			},
		})
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, body).Context(ctx).Do(); err != nil {
		return wrapErr("batchFormat", fmt.Sprintf("sheetId=%d", sheetID), err)
	}
	return nil
}

func gridRange(sheetID int64, g *GridRange) *sheetsapi.GridRange {
	// Zero is a valid sheet id and row/column index, so they must be sent explicitly.
	out := &sheetsapi.GridRange{SheetId: sheetID, ForceSendFields: []string{"SheetId"}}
	if g == nil {
		return out
	}
	out.StartRowIndex = g.StartRow
	out.EndRowIndex = g.EndRow
	out.StartColumnIndex = g.StartCol
	out.EndColumnIndex = g.EndCol
	out.ForceSendFields = append(out.ForceSendFields, "StartRowIndex", "EndRowIndex", "StartColumnIndex", "EndColumnIndex")
	return out
}

func toAPIValues(values [][]string) [][]interface{} {
	out := make([][]interface{}, len(values))
	for i, row := range values {
		r := make([]interface{}, len(row))
		for j, v := range row {
			r[j] = v
		}
		out[i] = r
	}
	return out
}

func cellString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// wrapErr turns API failures into StoreErrors carrying the HTTP status.
// Response bodies are reduced to the API message, redacted.
func wrapErr(op, rng string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		msg := strings.TrimSpace(gerr.Message)
		if msg == "" {
			msg = redact.Snippet([]byte(gerr.Body), 256)
		}
		return &core.StoreError{
			Op:         op,
			Range:      rng,
			StatusCode: gerr.Code,
			Err:        fmt.Errorf("sheets api: %s", redact.Secrets(msg)),
		}
	}
	return &core.StoreError{Op: op, Range: rng, Err: err}
}
