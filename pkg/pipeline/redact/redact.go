package redact

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// Matches "Bearer <token>" (JWTs and opaque tokens).
	bearerTokenRe = regexp.MustCompile(`(?i)\bBearer\s+[^\s"']+`)

	// Common key=value formats that sometimes leak in error strings.
	apiKeyKVRe = regexp.MustCompile(`(?i)\b(api[_-]?key|key|private[_-]?key|secret[_-]?key)\b\s*[:=]\s*[^\s"'&,]+`)

	// OpenAI-style keys ("sk-...", "sk-proj-...").
	openAIKeyRe = regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{16,}`)

	// Google API keys.
	googleKeyRe = regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{30,}`)
)

// Secrets removes obvious secret-bearing substrings from error/log strings.
func Secrets(s string) string {
	if s == "" {
		return ""
	}
	out := s
	out = bearerTokenRe.ReplaceAllString(out, "Bearer <redacted>")
	out = apiKeyKVRe.ReplaceAllString(out, "<redacted_kv>")
	out = openAIKeyRe.ReplaceAllString(out, "<redacted_key>")
	out = googleKeyRe.ReplaceAllString(out, "<redacted_key>")
	return strings.TrimSpace(out)
}

// Fingerprint identifies a credential in logs without revealing it: only the
// last four characters survive.
func Fingerprint(secret string) string {
	secret = strings.TrimSpace(secret)
	if len(secret) <= 8 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

// Snippet returns a small, single-line, redacted hint of a response body.
func Snippet(body []byte, max int) string {
	if len(body) == 0 {
		return ""
	}
	if max <= 0 {
		max = 256
	}
	b := body
	if len(b) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(b[cut]) {
			cut--
		}
		b = b[:cut]
	}
	s := Secrets(string(b))
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(body) > max {
		return s + "..."
	}
	return s
}
