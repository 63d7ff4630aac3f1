package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ConfigError is fatal for a whole run: it aborts before any row is enriched.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "configuration error"
	}
	if strings.TrimSpace(e.Field) == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TransportError is a network or HTTP failure other than a rate limit.
// It is never retried.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "transport error"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: http %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *TransportError) HTTPStatus() int { return e.StatusCode }

// RateLimitError marks an HTTP 429 from a remote service. It is the only
// enrichment failure retried in place.
type RateLimitError struct {
	Op         string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e == nil || e.Err == nil {
		return "rate limited"
	}
	return fmt.Sprintf("%s: rate limited: %v", e.Op, e.Err)
}

func (e *RateLimitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *RateLimitError) HTTPStatus() int { return http.StatusTooManyRequests }

// DecodeError is a malformed structured payload. The call succeeded, so
// retrying would only repeat the same answer.
type DecodeError struct {
	Op      string
	Snippet string
	Err     error
}

func (e *DecodeError) Error() string {
	if e == nil {
		return "decode error"
	}
	if e.Snippet != "" {
		return fmt.Sprintf("%s: decode: %v (payload=%s)", e.Op, e.Err, e.Snippet)
	}
	return fmt.Sprintf("%s: decode: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// StoreError is a failed tabular store call. StatusCode is zero when the
// failure happened before an HTTP response was received.
type StoreError struct {
	Op         string
	Range      string
	StatusCode int
	Err        error
}

func (e *StoreError) Error() string {
	if e == nil {
		return "store error"
	}
	parts := []string{"store " + strings.TrimSpace(e.Op)}
	if e.Range != "" {
		parts = append(parts, "range="+e.Range)
	}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	return strings.Join(parts, " ") + ": " + fmt.Sprint(e.Err)
}

func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) HTTPStatus() int { return e.StatusCode }

type statusCoder interface {
	HTTPStatus() int
}

// StatusCode returns the HTTP status carried by the first typed error in the
// chain, or 0.
func StatusCode(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus()
	}
	return 0
}

// IsRateLimited reports whether err is (or wraps) a RateLimitError.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsConfig reports whether err is (or wraps) a ConfigError.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsThrottledWrite reports whether a store failure is one the store asks us
// to back off from (403 quota or 429).
func IsThrottledWrite(err error) bool {
	var se *StoreError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode == http.StatusForbidden || se.StatusCode == http.StatusTooManyRequests
}

// Stage returns a short label for the failure class, used in row logs.
func Stage(err error) string {
	var (
		ce *ConfigError
		rl *RateLimitError
		de *DecodeError
		te *TransportError
		se *StoreError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ce):
		return "config"
	case errors.As(err, &rl):
		return "rate_limit"
	case errors.As(err, &de):
		return "decode"
	case errors.As(err, &te):
		return "transport"
	case errors.As(err, &se):
		return "store"
	default:
		return "unknown"
	}
}
