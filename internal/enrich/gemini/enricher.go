// Package gemini enriches listings with Gemini structured JSON output.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/shpitdev/listing-enricher/internal/enrich"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/core"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/redact"
)

const (
	DefaultModel     = "gemini-2.5-flash"
	DefaultMaxTokens = 4000
)

type Config struct {
	Model     string
	MaxTokens int

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string

	// HTTPClient overrides the client used by genai.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Enricher keeps one genai client per credential.
type Enricher struct {
	cfg    Config
	model  string
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*genai.Client
}

var (
	_ enrich.Enricher   = (*Enricher)(nil)
	_ enrich.Summarizer = (*Enricher)(nil)
)

func New(cfg Config) *Enricher {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		cfg:     cfg,
		model:   model,
		logger:  logger.With("component", "gemini"),
		clients: make(map[string]*genai.Client),
	}
}

func (e *Enricher) client(ctx context.Context, credential string) (*genai.Client, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, &core.ConfigError{Field: "credential", Err: errors.New("empty API key")}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.clients[credential]; ok {
		return c, nil
	}
	cc := &genai.ClientConfig{
		APIKey:     credential,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: e.cfg.HTTPClient,
	}
	if strings.TrimSpace(e.cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(e.cfg.BaseURL)
	}
	c, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, &core.ConfigError{Field: "gemini", Err: errors.New(redact.Secrets(err.Error()))}
	}
	e.clients[credential] = c
	e.logger.Debug("genai client created", "model", e.model, "credential", redact.Fingerprint(credential))
	return c, nil
}

func outputSchema(attributes []string) *genai.Schema {
	specifics := &genai.Schema{Type: genai.TypeObject}
	if len(attributes) > 0 {
		specifics.Properties = make(map[string]*genai.Schema, len(attributes))
		for _, name := range attributes {
			specifics.Properties[name] = &genai.Schema{Type: genai.TypeString}
		}
		specifics.PropertyOrdering = append([]string(nil), attributes...)
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"NewTitle":       {Type: genai.TypeString},
			"NewDescription": {Type: genai.TypeString},
			"ItemSpecifics":  specifics,
		},
		Required:         []string{"NewTitle", "NewDescription"},
		PropertyOrdering: []string{"NewTitle", "NewDescription", "ItemSpecifics"},
	}
}

func (e *Enricher) Enrich(ctx context.Context, req enrich.Request) (enrich.Result, error) {
	base := enrich.Result{Model: e.model}
	c, err := e.client(ctx, req.Credential)
	if err != nil {
		return base, err
	}

	parts := []*genai.Part{genai.NewPartFromText(enrich.BuildPrompt(req.Title, req.Description, req.Attributes))}
	if req.Image != nil && len(req.Image.Data) > 0 {
		mime := req.Image.MIMEType
		if mime == "" {
			mime = "image/jpeg"
		}
		parts = append(parts, genai.NewPartFromBytes(req.Image.Data, mime))
	}

	resp, err := c.Models.GenerateContent(
		ctx,
		e.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{
			Temperature:      genai.Ptr[float32](0),
			MaxOutputTokens:  int32(e.cfg.MaxTokens),
			CandidateCount:   1,
			ResponseMIMEType: "application/json",
			ResponseSchema:   outputSchema(req.Attributes),
		},
	)
	if err != nil {
		return base, classifyErr("gemini.enrich", err)
	}

	out, err := enrich.Decode("gemini.enrich", resp.Text())
	if err != nil {
		return base, err
	}
	out.Model = e.model
	return out, nil
}

// Summarize rewrites a description without wording unrelated to the product.
func (e *Enricher) Summarize(ctx context.Context, description, credential string) (string, error) {
	c, err := e.client(ctx, credential)
	if err != nil {
		return "", err
	}
	resp, err := c.Models.GenerateContent(ctx, e.model, genai.Text(enrich.SummaryPrompt(description)),
		&genai.GenerateContentConfig{
			Temperature:     genai.Ptr[float32](0.5),
			MaxOutputTokens: 500,
		})
	if err != nil {
		return "", classifyErr("gemini.summarize", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", &core.DecodeError{Op: "gemini.summarize", Err: errors.New("empty response")}
	}
	return text, nil
}

// classifyErr maps genai failures onto the shared taxonomy. Only 429 is retried.
func classifyErr(op string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		msg := errors.New(redact.Secrets(fmt.Sprintf("%d %s: %s", apiErr.Code, apiErr.Status, apiErr.Message)))
		if apiErr.Code == http.StatusTooManyRequests {
			return &core.RateLimitError{Op: op, Err: msg}
		}
		return &core.TransportError{Op: op, StatusCode: apiErr.Code, Err: msg}
	}
	return &core.TransportError{Op: op, Err: errors.New(redact.Secrets(err.Error()))}
}
