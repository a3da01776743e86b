package query

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind enumerates the closed set of literal kinds a query may embed.
// Adding a kind means extending the switch in Encode, which the compiler
// checks for exhaustiveness via the default panic.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
	KindNodeRef
	KindRelRef
)

// Literal is a tagged union over the supported literal kinds. Values are
// constructed through the typed constructors below and rendered with
// Encode; there is no shared mutable encoder state.
type Literal struct {
	kind    Kind
	boolVal bool
	intVal  int64
	fltVal  float64
	isFloat bool
	strVal  string
	list    []Literal
	mapVal  map[string]Literal
	label   string // node label or relationship type for ref kinds
}

// Null returns the null literal.
func Null() Literal { return Literal{kind: KindNull} }

// Bool returns a boolean literal.
func Bool(b bool) Literal { return Literal{kind: KindBool, boolVal: b} }

// Int returns an integer number literal.
func Int(i int64) Literal { return Literal{kind: KindNumber, intVal: i} }

// Float returns a floating-point number literal.
func Float(f float64) Literal { return Literal{kind: KindNumber, fltVal: f, isFloat: true} }

// String returns a string literal.
func String(s string) Literal { return Literal{kind: KindString, strVal: s} }

// List returns a list literal.
func List(items ...Literal) Literal { return Literal{kind: KindList, list: items} }

// Map returns a map literal. Keys are encoded as identifiers and rendered
// in sorted order for deterministic output.
func Map(m map[string]Literal) Literal {
	cp := make(map[string]Literal, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Literal{kind: KindMap, mapVal: cp}
}

// NodeRef returns a node reference literal: a labeled node matched by its
// scoped key property, e.g. (:Task {key: "..."}).
func NodeRef(label, scopedKey string) Literal {
	return Literal{kind: KindNodeRef, label: label, strVal: scopedKey}
}

// RelRef returns a relationship reference literal, e.g. [:ACTIONS].
func RelRef(relType string) Literal {
	return Literal{kind: KindRelRef, label: relType}
}

// Kind returns the literal's kind tag.
func (l Literal) Kind() Kind { return l.kind }

// Encode renders the literal in query text form. The switch is exhaustive
// over Kind; an unknown tag is a programming error.
func (l Literal) Encode() string {
	switch l.kind {
	case KindNull:
		return "null"
	case KindBool:
		if l.boolVal {
			return "true"
		}
		return "false"
	case KindNumber:
		if l.isFloat {
			return strconv.FormatFloat(l.fltVal, 'g', -1, 64)
		}
		return strconv.FormatInt(l.intVal, 10)
	case KindString:
		return encodeString(l.strVal)
	case KindList:
		parts := make([]string, len(l.list))
		for i, item := range l.list {
			parts[i] = item.Encode()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		keys := make([]string, 0, len(l.mapVal))
		for k := range l.mapVal {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = EscapeIdent(k) + ": " + l.mapVal[k].Encode()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case KindNodeRef:
		return "(:" + EscapeIdent(l.label) + " {key: " + encodeString(l.strVal) + "})"
	case KindRelRef:
		return "[:" + EscapeIdent(l.label) + "]"
	default:
		panic(fmt.Sprintf("query: unknown literal kind %d", l.kind))
	}
}

// KeyList builds a list literal of scoped key strings, skipping empties.
func KeyList(keys []string) Literal {
	items := make([]Literal, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		items = append(items, String(k))
	}
	return List(items...)
}

// EscapeIdent returns an identifier usable in query text. Identifiers made
// of alphanumerics and underscores pass through; anything else is wrapped
// in backticks with embedded backticks doubled.
func EscapeIdent(ident string) string {
	if safeIdent(ident) {
		return ident
	}
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func safeIdent(ident string) bool {
	if ident == "" {
		return false
	}
	for i, r := range ident {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// encodeString renders a double-quoted string literal, escaping the quote,
// backslashes and control characters.
func encodeString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if r < 0x20 {
				b.WriteString(fmt.Sprintf(`\u%04x`, r))
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}
