package scope

import (
	"testing"
)

func TestNewScopeValidation(t *testing.T) {
	tests := []struct {
		name    string
		org     string
		camp    string
		proj    string
		wantErr bool
	}{
		{name: "valid simple", org: "openff", camp: "tyk2", proj: "benchmark"},
		{name: "valid with underscores", org: "open_ff", camp: "c_1", proj: "p_2"},
		{name: "valid alphanumeric", org: "org1", camp: "Camp2", proj: "PROJ3"},
		{name: "empty component", org: "openff", camp: "", proj: "p", wantErr: true},
		{name: "dash in component", org: "open-ff", camp: "c", proj: "p", wantErr: true},
		{name: "space in component", org: "open ff", camp: "c", proj: "p", wantErr: true},
		{name: "wildcard rejected", org: "*", camp: "c", proj: "p", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.org, tt.camp, tt.proj)
			if (err != nil) != tt.wantErr {
				t.Errorf("New(%q, %q, %q) error = %v, wantErr %v", tt.org, tt.camp, tt.proj, err, tt.wantErr)
			}
		})
	}
}

func TestScopeString(t *testing.T) {
	s, err := New("org", "campaign", "project")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := s.String(); got != "org-campaign-project" {
		t.Errorf("String() = %q, want %q", got, "org-campaign-project")
	}
}

func TestParseScope(t *testing.T) {
	s, err := ParseScope("org-campaign-project")
	if err != nil {
		t.Fatalf("ParseScope: %v", err)
	}
	want := Scope{Org: "org", Campaign: "campaign", Project: "project"}
	if s != want {
		t.Errorf("ParseScope = %+v, want %+v", s, want)
	}

	if _, err := ParseScope("only-two"); err == nil {
		t.Error("expected error for two components")
	}
	if _, err := ParseScope("a-b-c-d"); err == nil {
		t.Error("expected error for four components")
	}
}

func TestScopeMatches(t *testing.T) {
	concrete := Scope{Org: "openff", Campaign: "tyk2", Project: "bench"}

	tests := []struct {
		name    string
		pattern string
		want    bool
	}{
		{name: "exact match", pattern: "openff-tyk2-bench", want: true},
		{name: "all wildcards", pattern: "*-*-*", want: true},
		{name: "org only", pattern: "openff-*-*", want: true},
		{name: "org and campaign", pattern: "openff-tyk2-*", want: true},
		{name: "wrong org", pattern: "other-*-*", want: false},
		{name: "wrong project", pattern: "openff-tyk2-other", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pattern, err := ParseScope(tt.pattern)
			if err != nil {
				t.Fatalf("ParseScope(%q): %v", tt.pattern, err)
			}
			if got := concrete.Matches(pattern); got != tt.want {
				t.Errorf("Matches(%q) = %v, want %v", tt.pattern, got, tt.want)
			}
		})
	}
}

func TestNewPatternNormalizesEmpty(t *testing.T) {
	p, err := NewPattern("openff", "", "")
	if err != nil {
		t.Fatalf("NewPattern: %v", err)
	}
	if p.Campaign != Wildcard || p.Project != Wildcard {
		t.Errorf("empty components should normalize to wildcard, got %+v", p)
	}
	if p.IsConcrete() {
		t.Error("pattern with wildcards reported as concrete")
	}
}
