// Package openai enriches listings through the OpenAI chat completions API
// using langchaingo, with the answer returned as a function call.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"

	"github.com/shpitdev/listing-enricher/internal/enrich"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/core"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/redact"
)

const (
	DefaultModel     = "gpt-4o-mini"
	DefaultMaxTokens = 4000

	summaryMaxTokens   = 500
	summaryTemperature = 0.5
)

// ModelFactory builds a chat model for one API key. The doer must be used as
// the HTTP client so response statuses can be observed.
type ModelFactory func(token string, doer HTTPDoer) (llms.Model, error)

// HTTPDoer is the HTTP client interface langchaingo accepts.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int

	// HTTPClient is wrapped for status recording. Defaults to http.DefaultClient.
	HTTPClient HTTPDoer
	// Factory overrides model construction (tests).
	Factory ModelFactory
	Logger  *slog.Logger
}

// Enricher implements enrich.Enricher and enrich.Summarizer. One model is
// cached per credential.
type Enricher struct {
	model       string
	temperature float64
	maxTokens   int
	factory     ModelFactory
	doer        HTTPDoer
	logger      *slog.Logger

	mu     sync.Mutex
	models map[string]llms.Model
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
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	var base HTTPDoer = http.DefaultClient
	if cfg.HTTPClient != nil {
		base = cfg.HTTPClient
	}
	factory := cfg.Factory
	if factory == nil {
		baseURL := strings.TrimSpace(cfg.BaseURL)
		factory = func(token string, doer HTTPDoer) (llms.Model, error) {
			opts := []lcopenai.Option{
				lcopenai.WithToken(token),
				lcopenai.WithModel(model),
				lcopenai.WithHTTPClient(doer),
			}
			if baseURL != "" {
				opts = append(opts, lcopenai.WithBaseURL(baseURL))
			}
			return lcopenai.New(opts...)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		factory:     factory,
		doer:        &recordingDoer{next: base},
		logger:      logger.With("component", "openai"),
		models:      make(map[string]llms.Model),
	}
}

func (e *Enricher) client(credential string) (llms.Model, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, &core.ConfigError{Field: "credential", Err: errors.New("empty API key")}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.models[credential]; ok {
		return m, nil
	}
	m, err := e.factory(credential, e.doer)
	if err != nil {
		return nil, &core.ConfigError{Field: "openai", Err: errors.New(redact.Secrets(err.Error()))}
	}
	e.models[credential] = m
	e.logger.Debug("chat model created", "model", e.model, "credential", redact.Fingerprint(credential))
	return m, nil
}

func (e *Enricher) Enrich(ctx context.Context, req enrich.Request) (enrich.Result, error) {
	base := enrich.Result{Model: e.model}
	m, err := e.client(req.Credential)
	if err != nil {
		return base, err
	}

	parts := []llms.ContentPart{
		llms.TextPart(enrich.BuildPrompt(req.Title, req.Description, req.Attributes)),
	}
	if req.Image != nil && len(req.Image.Data) > 0 {
		parts = append(parts, llms.ImageURLPart(req.Image.DataURI()))
	}
	messages := []llms.MessageContent{{Role: llms.ChatMessageTypeHuman, Parts: parts}}

	rec := &statusRecord{}
	resp, err := m.GenerateContent(withRecorder(ctx, rec), messages,
		llms.WithTemperature(e.temperature),
		llms.WithMaxTokens(e.maxTokens),
		llms.WithTools([]llms.Tool{{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        enrich.FunctionName,
				Description: enrich.FunctionDescription,
				Parameters:  enrich.ResponseSchema(req.Attributes),
			},
		}}),
	)
	if err != nil {
		return base, classifyErr("openai.enrich", rec, err)
	}

	args, err := functionArguments(resp)
	if err != nil {
		return base, err
	}
	out, err := enrich.Decode("openai.enrich", args)
	if err != nil {
		return base, err
	}
	out.Model = e.model
	return out, nil
}

// Summarize rewrites a description without wording unrelated to the product.
func (e *Enricher) Summarize(ctx context.Context, description, credential string) (string, error) {
	m, err := e.client(credential)
	if err != nil {
		return "", err
	}
	rec := &statusRecord{}
	resp, err := m.GenerateContent(withRecorder(ctx, rec),
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, enrich.SummaryPrompt(description))},
		llms.WithTemperature(summaryTemperature),
		llms.WithMaxTokens(summaryMaxTokens),
	)
	if err != nil {
		return "", classifyErr("openai.summarize", rec, err)
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", &core.DecodeError{Op: "openai.summarize", Err: errors.New("empty response")}
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

// functionArguments prefers the tool call, then the legacy function call,
// then plain content.
func functionArguments(resp *llms.ContentResponse) (string, error) {
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", &core.DecodeError{Op: "openai.enrich", Err: errors.New("no choices in response")}
	}
	c := resp.Choices[0]
	for _, tc := range c.ToolCalls {
		if tc.FunctionCall != nil && strings.TrimSpace(tc.FunctionCall.Arguments) != "" {
			return tc.FunctionCall.Arguments, nil
		}
	}
	if c.FuncCall != nil && strings.TrimSpace(c.FuncCall.Arguments) != "" {
		return c.FuncCall.Arguments, nil
	}
	if strings.TrimSpace(c.Content) != "" {
		return c.Content, nil
	}
	return "", &core.DecodeError{Op: "openai.enrich", Err: fmt.Errorf("no %s call in response", enrich.FunctionName)}
}

func classifyErr(op string, rec *statusRecord, err error) error {
	status, retryAfter := rec.get()
	msg := redact.Secrets(err.Error())
	if status == http.StatusTooManyRequests || strings.Contains(msg, "status code: 429") {
		return &core.RateLimitError{Op: op, RetryAfter: retryAfter, Err: errors.New(msg)}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &core.TransportError{Op: op, Err: err}
	}
	return &core.TransportError{Op: op, StatusCode: status, Err: errors.New(msg)}
}

type statusKey struct{}

type statusRecord struct {
	mu         sync.Mutex
	status     int
	retryAfter time.Duration
}

func (r *statusRecord) set(status int, h http.Header) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	r.retryAfter = 0
	if secs, err := strconv.Atoi(strings.TrimSpace(h.Get("Retry-After"))); err == nil && secs > 0 {
		r.retryAfter = time.Duration(secs) * time.Second
	}
}

func (r *statusRecord) get() (int, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.retryAfter
}

func withRecorder(ctx context.Context, rec *statusRecord) context.Context {
	return context.WithValue(ctx, statusKey{}, rec)
}

// recordingDoer notes the response status of each call on the record carried
// by the request context. langchaingo folds statuses into error strings.
type recordingDoer struct {
	next HTTPDoer
}

func (d *recordingDoer) Do(req *http.Request) (*http.Response, error) {
	resp, err := d.next.Do(req)
	if resp != nil {
		if rec, ok := req.Context().Value(statusKey{}).(*statusRecord); ok {
			rec.set(resp.StatusCode, resp.Header)
		}
	}
	return resp, err
}
