// Package imagefetch downloads product photos and shrinks them to small
// JPEG thumbnails for model requests.
package imagefetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/shpitdev/listing-enricher/internal/enrich"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/core"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/redact"
)

const (
	DefaultMaxSide  = 150
	DefaultQuality  = 85
	DefaultMaxBytes = 20 << 20
)

// ErrTooLarge is returned when a source image exceeds MaxBytes.
var ErrTooLarge = errors.New("image exceeds size limit")

// ObjectGetter opens an object from a bucket. See NewS3Getter.
type ObjectGetter interface {
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

type Options struct {
	HTTPClient *http.Client
	// Objects serves s3:// references. Nil disables them.
	Objects ObjectGetter

	MaxSide  int
	Quality  int
	MaxBytes int64
	Logger   *slog.Logger
}

type Fetcher struct {
	client   *http.Client
	objects  ObjectGetter
	maxSide  int
	quality  int
	maxBytes int64
	logger   *slog.Logger
}

func New(opts Options) *Fetcher {
	f := &Fetcher{
		client:   opts.HTTPClient,
		objects:  opts.Objects,
		maxSide:  opts.MaxSide,
		quality:  opts.Quality,
		maxBytes: opts.MaxBytes,
		logger:   opts.Logger,
	}
	if f.client == nil {
		f.client = http.DefaultClient
	}
	if f.maxSide <= 0 {
		f.maxSide = DefaultMaxSide
	}
	if f.quality <= 0 || f.quality > 100 {
		f.quality = DefaultQuality
	}
	if f.maxBytes <= 0 {
		f.maxBytes = DefaultMaxBytes
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	f.logger = f.logger.With("component", "imagefetch")
	return f
}

// Fetch loads ref and returns a thumbnail. An empty ref returns (nil, nil).
func (f *Fetcher) Fetch(ctx context.Context, ref string) (*enrich.Image, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}
	raw, err := f.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	img, err := Thumbnail(raw, f.maxSide, f.quality)
	if err != nil {
		return nil, &core.DecodeError{Op: "image.decode", Err: err}
	}
	f.logger.Debug("image fetched",
		"ref", redact.Secrets(ref),
		"source", humanize.Bytes(uint64(len(raw))),
		"thumbnail", humanize.Bytes(uint64(len(img.Data))),
		"size", fmt.Sprintf("%dx%d", img.Width, img.Height),
	)
	return img, nil
}

func (f *Fetcher) load(ctx context.Context, ref string) ([]byte, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, &core.TransportError{Op: "image.fetch", Err: fmt.Errorf("invalid image reference: %w", err)}
	}
	switch strings.ToLower(u.Scheme) {
	case "s3":
		return f.loadObject(ctx, u)
	case "http", "https":
		if isDriveHost(u.Host) {
			if direct, ok := DriveImageURL(ref); ok {
				ref = direct
			}
		}
		return f.loadHTTP(ctx, ref)
	default:
		return nil, &core.TransportError{Op: "image.fetch", Err: fmt.Errorf("unsupported image scheme %q", u.Scheme)}
	}
}

func (f *Fetcher) loadHTTP(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, &core.TransportError{Op: "image.fetch", Err: err}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &core.TransportError{Op: "image.fetch", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &core.TransportError{Op: "image.fetch", StatusCode: resp.StatusCode, Err: fmt.Errorf("GET %s", redact.Secrets(ref))}
	}
	return f.readCapped(resp.Body)
}

func (f *Fetcher) loadObject(ctx context.Context, u *url.URL) ([]byte, error) {
	if f.objects == nil {
		return nil, &core.ConfigError{Field: "images.s3", Err: errors.New("s3 image source is not configured")}
	}
	bucket, key := u.Host, strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, &core.TransportError{Op: "image.fetch", Err: fmt.Errorf("invalid object reference %q", u.String())}
	}
	rc, err := f.objects.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, &core.TransportError{Op: "image.fetch", Err: err}
	}
	defer func() {
		_ = rc.Close()
	}()
	return f.readCapped(rc)
}

func (f *Fetcher) readCapped(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, &core.TransportError{Op: "image.fetch", Err: err}
	}
	if int64(len(b)) > f.maxBytes {
		return nil, fmt.Errorf("%w (%s)", ErrTooLarge, humanize.Bytes(uint64(f.maxBytes)))
	}
	return b, nil
}

// Thumbnail decodes raw and re-encodes it as a JPEG that fits inside a
// maxSide square. Images are never upscaled; transparency becomes white.
func Thumbnail(raw []byte, maxSide, quality int) (*enrich.Image, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	w, h := Fit(b.Dx(), b.Dy(), maxSide)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return &enrich.Image{MIMEType: "image/jpeg", Data: buf.Bytes(), Width: w, Height: h}, nil
}

// Fit scales (w, h) down to fit inside a maxSide square, keeping the aspect
// ratio. Sizes already inside are returned unchanged.
func Fit(w, h, maxSide int) (int, int) {
	if w <= 0 || h <= 0 {
		return max(w, 1), max(h, 1)
	}
	if w <= maxSide && h <= maxSide {
		return w, h
	}
	if w >= h {
		return maxSide, max(1, h*maxSide/w)
	}
	return max(1, w*maxSide/h), maxSide
}

// DriveImageURL turns a Google Drive share link into a direct image URL.
// The file id is the path segment after "/d/", or the "id" query parameter.
func DriveImageURL(link string) (string, bool) {
	link = strings.TrimSpace(link)
	if _, rest, ok := strings.Cut(link, "/d/"); ok {
		id, _, _ := strings.Cut(rest, "/")
		id, _, _ = strings.Cut(id, "?")
		if id != "" {
			return "https://lh3.googleusercontent.com/d/" + id, true
		}
		return "", false
	}
	u, err := url.Parse(link)
	if err != nil || !isDriveHost(u.Host) {
		return "", false
	}
	if id := u.Query().Get("id"); id != "" {
		return "https://lh3.googleusercontent.com/d/" + id, true
	}
	return "", false
}

func isDriveHost(host string) bool {
	host = strings.ToLower(host)
	return host == "drive.google.com" || host == "docs.google.com"
}
