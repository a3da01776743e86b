package scope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedKey is returned when a ScopedKey string cannot be parsed.
// Malformed keys are rejected at the boundary and never reach the store.
var ErrMalformedKey = errors.New("malformed scoped key")

// ScopedKey is the globally unique identifier for a domain entity: a stable
// content-derived token qualified by the Scope it lives in. Two entities
// with identical content keys but different Scopes are distinct.
//
// The string form is "<content-key>-<org>-<campaign>-<project>". Content
// keys may themselves contain '-' (e.g. "Transformation-abc123"); scope
// components may not, so parsing splits on the final three delimiters.
type ScopedKey struct {
	Key   string `json:"key"`
	Scope Scope  `json:"scope"`
}

// NewScopedKey builds a ScopedKey from a content key and a concrete Scope.
func NewScopedKey(contentKey string, sc Scope) (ScopedKey, error) {
	if contentKey == "" {
		return ScopedKey{}, fmt.Errorf("%w: empty content key", ErrMalformedKey)
	}
	if strings.HasSuffix(contentKey, "-") {
		return ScopedKey{}, fmt.Errorf("%w: content key %q ends with delimiter", ErrMalformedKey, contentKey)
	}
	if !sc.IsConcrete() {
		return ScopedKey{}, fmt.Errorf("%w: scope %q contains wildcards", ErrMalformedKey, sc)
	}
	for _, c := range []string{sc.Org, sc.Campaign, sc.Project} {
		if !safeComponent(c) {
			return ScopedKey{}, fmt.Errorf("%w: scope component %q is not namespace-safe", ErrMalformedKey, c)
		}
	}
	return ScopedKey{Key: contentKey, Scope: sc}, nil
}

// Parse parses the string form of a ScopedKey. It is the exact inverse of
// String: the last three '-'-separated components are the Scope, everything
// before them is the content key.
func Parse(s string) (ScopedKey, error) {
	parts := strings.Split(s, "-")
	if len(parts) < 4 {
		return ScopedKey{}, fmt.Errorf("%w: %q has fewer than four '-'-separated components", ErrMalformedKey, s)
	}
	contentKey := strings.Join(parts[:len(parts)-3], "-")
	sc, err := New(parts[len(parts)-3], parts[len(parts)-2], parts[len(parts)-1])
	if err != nil {
		return ScopedKey{}, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	return NewScopedKey(contentKey, sc)
}

// String returns the delimited form, parseable by Parse.
func (k ScopedKey) String() string {
	return k.Key + "-" + k.Scope.String()
}

// IsZero reports whether the key is the zero value.
func (k ScopedKey) IsZero() bool {
	return k == ScopedKey{}
}

// MarshalJSON serializes the key as its delimited string form, which is the
// only externally meaningful identifier for persisted entities.
func (k ScopedKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON parses the delimited string form.
func (k *ScopedKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
