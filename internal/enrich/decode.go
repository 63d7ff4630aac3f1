package enrich

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shpitdev/listing-enricher/pkg/pipeline/core"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/redact"
)

type payload struct {
	NewTitle       *string                    `json:"NewTitle"`
	NewDescription *string                    `json:"NewDescription"`
	ItemSpecifics  map[string]json.RawMessage `json:"ItemSpecifics"`
}

// Decode parses a structured answer. NewTitle and NewDescription must be
// present; item specific values that are not strings are rendered as text.
// Every failure is a *core.DecodeError.
func Decode(op, raw string) (Result, error) {
	body := StripCodeFence(raw)
	fail := func(err error) (Result, error) {
		return Result{}, &core.DecodeError{Op: op, Snippet: redact.Snippet([]byte(body), 200), Err: err}
	}
	if body == "" {
		return fail(errors.New("empty payload"))
	}

	var p payload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return fail(err)
	}
	if p.NewTitle == nil {
		return fail(errors.New("missing NewTitle"))
	}
	if p.NewDescription == nil {
		return fail(errors.New("missing NewDescription"))
	}

	out := Result{
		Title:       strings.TrimSpace(*p.NewTitle),
		Description: strings.TrimSpace(*p.NewDescription),
		Attributes:  make(map[string]string, len(p.ItemSpecifics)),
	}
	for k, v := range p.ItemSpecifics {
		s, err := specificString(v)
		if err != nil {
			return fail(fmt.Errorf("ItemSpecifics[%q]: %w", k, err))
		}
		out.Attributes[strings.TrimSpace(k)] = s
	}
	return out, nil
}

func specificString(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(t), nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ", "), nil
	default:
		return string(raw), nil
	}
}

// StripCodeFence removes a surrounding ``` or ```json fence.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
