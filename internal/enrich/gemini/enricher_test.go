package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/shpitdev/listing-enricher/internal/enrich"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/core"
)

func TestClassifyErr(t *testing.T) {
	tests := []struct {
		name          string
		in            error
		wantRateLimit bool
		wantStatus    int
	}{
		{name: "api_429", in: genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}, wantRateLimit: true, wantStatus: 429},
		{name: "api_500", in: genai.APIError{Code: 500}, wantStatus: 500},
		{name: "api_401", in: genai.APIError{Code: 401}, wantStatus: 401},
		{name: "plain", in: errors.New("dial tcp: connection refused"), wantStatus: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyErr("gemini.enrich", tt.in)
			assert.Equal(t, tt.wantRateLimit, core.IsRateLimited(got))
			assert.Equal(t, tt.wantStatus, core.StatusCode(got))
		})
	}
}

func TestOutputSchema(t *testing.T) {
	s := outputSchema([]string{"Brand", "Color"})
	require.Contains(t, s.Properties, "ItemSpecifics")
	specifics := s.Properties["ItemSpecifics"]
	assert.Equal(t, genai.TypeObject, specifics.Type)
	assert.Equal(t, []string{"Brand", "Color"}, specifics.PropertyOrdering)
	assert.Equal(t, []string{"NewTitle", "NewDescription"}, s.Required)

	empty := outputSchema(nil)
	assert.Nil(t, empty.Properties["ItemSpecifics"].Properties)
}

type fakeGemini struct {
	mu     sync.Mutex
	bodies []string
	keys   []string
	status int
	text   string
}

func (f *fakeGemini) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.bodies = append(f.bodies, string(b))
	f.keys = append(f.keys, r.Header.Get("x-goog-api-key"))
	status, text := f.status, f.text
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !strings.HasSuffix(r.URL.Path, ":generateContent") {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"not found","status":"NOT_FOUND"}}`))
		return
	}
	if status != 0 && status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"code":` + strconv.Itoa(status) + `,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`))
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{
				"role":  "model",
				"parts": []any{map[string]any{"text": text}},
			},
		}},
	})
	_, _ = w.Write(payload)
}

func TestEnrichAgainstFakeServer(t *testing.T) {
	fake := &fakeGemini{text: `{"NewTitle":"Seiko Watch","NewDescription":"Works.","ItemSpecifics":{"Brand":"Seiko"}}`}
	ts := httptest.NewServer(fake)
	defer ts.Close()

	e := New(Config{BaseURL: ts.URL, HTTPClient: ts.Client()})
	got, err := e.Enrich(context.Background(), enrich.Request{
		Title:      "セイコー",
		Attributes: []string{"Brand"},
		Credential: "AIzaTESTKEY0000",
		Image:      &enrich.Image{MIMEType: "image/jpeg", Data: []byte{1, 2, 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Seiko Watch", got.Title)
	assert.Equal(t, "Seiko", got.Attributes["Brand"])
	assert.Equal(t, DefaultModel, got.Model)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.bodies, 1)
	assert.Equal(t, "AIzaTESTKEY0000", fake.keys[0])
	assert.Contains(t, fake.bodies[0], `"inlineData"`)
	assert.Contains(t, fake.bodies[0], "responseMimeType")
}

func TestEnrichRateLimited(t *testing.T) {
	fake := &fakeGemini{status: http.StatusTooManyRequests}
	ts := httptest.NewServer(fake)
	defer ts.Close()

	e := New(Config{BaseURL: ts.URL, HTTPClient: ts.Client()})
	_, err := e.Enrich(context.Background(), enrich.Request{Title: "t", Credential: "k"})
	require.Error(t, err)
	assert.True(t, core.IsRateLimited(err))
	assert.Equal(t, "rate_limit", core.Stage(err))
}

func TestEnrichMalformedJSONIsDecodeError(t *testing.T) {
	fake := &fakeGemini{text: `{"NewTitle":"only title"}`}
	ts := httptest.NewServer(fake)
	defer ts.Close()

	e := New(Config{BaseURL: ts.URL, HTTPClient: ts.Client()})
	_, err := e.Enrich(context.Background(), enrich.Request{Title: "t", Credential: "k"})
	require.Error(t, err)
	assert.Equal(t, "decode", core.Stage(err))
}
