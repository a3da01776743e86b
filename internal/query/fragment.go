// Package query builds parameterized graph queries from immutable text
// fragments. Fragments carry their parameter bindings with them, so a
// statement assembled from several clauses cannot silently drop or shadow
// a binding: conflicts are surfaced when fragments are joined.
package query

import (
	"fmt"
	"sort"
	"strings"
)

// Fragment is an immutable (text, parameters) value. The zero value is the
// empty fragment, which joins as a no-op.
type Fragment struct {
	text   string
	params map[string]any
}

// New creates a fragment from a clause and its parameter bindings.
// Parameter names must be non-empty and must be referenced as $name
// placeholders by convention of the backing store.
func New(text string, params map[string]any) (Fragment, error) {
	for name := range params {
		if name == "" {
			return Fragment{}, fmt.Errorf("fragment %q: empty parameter name", text)
		}
	}
	cp := make(map[string]any, len(params))
	for k, v := range params {
		cp[k] = v
	}
	return Fragment{text: text, params: cp}, nil
}

// Text creates a fragment with no parameters.
func Text(text string) Fragment {
	return Fragment{text: text}
}

// Join concatenates fragments line by line, merging their parameters.
// Empty fragments are skipped. Joining fails if two fragments bind the
// same parameter name to different values.
func Join(fragments ...Fragment) (Fragment, error) {
	var lines []string
	merged := make(map[string]any)
	for _, f := range fragments {
		if f.text == "" && len(f.params) == 0 {
			continue
		}
		if f.text != "" {
			lines = append(lines, f.text)
		}
		for name, value := range f.params {
			if existing, ok := merged[name]; ok && existing != value {
				return Fragment{}, fmt.Errorf("parameter %q bound to conflicting values", name)
			}
			merged[name] = value
		}
	}
	return Fragment{text: strings.Join(lines, "\n"), params: merged}, nil
}

// Query returns the assembled statement text.
func (f Fragment) Query() string {
	return f.text
}

// Params returns a copy of the parameter bindings.
func (f Fragment) Params() map[string]any {
	cp := make(map[string]any, len(f.params))
	for k, v := range f.params {
		cp[k] = v
	}
	return cp
}

// ParamNames returns the bound parameter names in sorted order.
func (f Fragment) ParamNames() []string {
	names := make([]string, 0, len(f.params))
	for name := range f.params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
