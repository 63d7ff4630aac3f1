package schema

import (
	"strings"
)

// Attributes is the ordered list of item-specific names read from the memo
// sheet header. It drives both the prompt and the output column layout, and
// does not change during a run.
type Attributes struct {
	names []string
	index map[string]int
}

// NewAttributes builds a schema from header cells. Blank cells keep their
// position (the column still exists) but cannot be matched. When a name
// repeats, the first column wins.
func NewAttributes(header []string) Attributes {
	a := Attributes{
		names: make([]string, len(header)),
		index: make(map[string]int, len(header)),
	}
	for i, raw := range header {
		name := strings.TrimSpace(raw)
		a.names[i] = name
		if name == "" {
			continue
		}
		if _, dup := a.index[name]; !dup {
			a.index[name] = i
		}
	}
	return a
}

// Len is the number of header columns, blanks included.
func (a Attributes) Len() int { return len(a.names) }

// Names returns the non-blank attribute names in column order.
func (a Attributes) Names() []string {
	out := make([]string, 0, len(a.names))
	seen := make(map[string]struct{}, len(a.names))
	for _, n := range a.names {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Index returns the zero-based column offset of name inside the schema.
func (a Attributes) Index(name string) (int, bool) {
	i, ok := a.index[strings.TrimSpace(name)]
	return i, ok
}
