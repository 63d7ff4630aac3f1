package enrich

import (
	"context"
	"encoding/base64"
)

// Image is an already-thumbnailed product photo.
type Image struct {
	MIMEType string
	Data     []byte
	Width    int
	Height   int
}

// DataURI encodes the image for inline use in a chat message.
func (i *Image) DataURI() string {
	mime := i.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// Request is one listing row to enrich.
type Request struct {
	// Row is the 1-based sheet row, used for logging only.
	Row         int
	Title       string
	Description string
	Image       *Image
	Attributes  []string
	Credential  string
}

// Result is the structured enrichment output for a single listing.
type Result struct {
	Title       string
	Description string
	// Attributes maps item specific names to values. Keys outside the
	// requested attribute list may appear; write-back drops them.
	Attributes map[string]string
	Model      string
}

// Enricher produces an English title, description and item specifics for a row.
type Enricher interface {
	Enrich(ctx context.Context, req Request) (Result, error)
}

// EnricherFunc adapts a function to Enricher.
type EnricherFunc func(ctx context.Context, req Request) (Result, error)

func (f EnricherFunc) Enrich(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// Summarizer rewrites a reference description without wording unrelated to
// the product.
type Summarizer interface {
	Summarize(ctx context.Context, description, credential string) (string, error)
}
