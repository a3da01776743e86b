// Package scope provides the multi-tenancy primitives every entity in the
// system is addressed by: the Scope namespace triple and the ScopedKey
// identifier built on top of it.
package scope

import (
	"fmt"
	"strings"
)

// Wildcard matches any value for a Scope component in a pattern.
const Wildcard = "*"

// Scope is the tenant namespace triple (organization, campaign, project).
// Unrelated projects share one deployment without visibility into each
// other's data by living in different Scopes. A Scope is immutable once
// attached to an entity; equality is structural.
type Scope struct {
	Org      string `json:"org"`
	Campaign string `json:"campaign"`
	Project  string `json:"project"`
}

// New creates a fully-qualified Scope. All three components must be
// non-empty, namespace-safe strings (alphanumerics and underscores).
func New(org, campaign, project string) (Scope, error) {
	s := Scope{Org: org, Campaign: campaign, Project: project}
	for _, c := range []string{org, campaign, project} {
		if !safeComponent(c) {
			return Scope{}, fmt.Errorf("scope component %q is not namespace-safe", c)
		}
	}
	return s, nil
}

// NewPattern creates a Scope pattern for multi-scope queries. Components may
// be "*" (or empty, normalized to "*") to match any value.
func NewPattern(org, campaign, project string) (Scope, error) {
	norm := func(c string) string {
		if c == "" {
			return Wildcard
		}
		return c
	}
	s := Scope{Org: norm(org), Campaign: norm(campaign), Project: norm(project)}
	for _, c := range []string{s.Org, s.Campaign, s.Project} {
		if c != Wildcard && !safeComponent(c) {
			return Scope{}, fmt.Errorf("scope pattern component %q is not namespace-safe", c)
		}
	}
	return s, nil
}

// ParseScope parses an "org-campaign-project" string. Wildcard components
// are accepted, so the result may be a pattern.
func ParseScope(s string) (Scope, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return Scope{}, fmt.Errorf("scope %q must have exactly three '-'-separated components", s)
	}
	return NewPattern(parts[0], parts[1], parts[2])
}

// String returns the canonical "org-campaign-project" form.
func (s Scope) String() string {
	return s.Org + "-" + s.Campaign + "-" + s.Project
}

// IsConcrete reports whether the Scope has no wildcard components and can
// be attached to an entity.
func (s Scope) IsConcrete() bool {
	return s.Org != Wildcard && s.Campaign != Wildcard && s.Project != Wildcard
}

// Matches reports whether this Scope falls within the given pattern.
// Wildcard components of the pattern match any value.
func (s Scope) Matches(pattern Scope) bool {
	match := func(val, pat string) bool {
		return pat == Wildcard || pat == val
	}
	return match(s.Org, pattern.Org) &&
		match(s.Campaign, pattern.Campaign) &&
		match(s.Project, pattern.Project)
}

// safeComponent reports whether a component contains only alphanumerics and
// underscores. In particular this excludes '-', the ScopedKey delimiter, so
// scope components never need escaping in serialized keys.
func safeComponent(c string) bool {
	if c == "" {
		return false
	}
	for _, r := range c {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}
	return true
}
