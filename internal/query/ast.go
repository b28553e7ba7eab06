package query

import "github.com/indexd/gomu/internal/registry"

// Node is one element of a parsed query expression tree.
type Node interface {
	isNode()
}

// MatchAll matches every document; it is what an empty expression
// compiles to.
type MatchAll struct{}

func (MatchAll) isNode() {}

// Term is a bare free-text word, searched across every default-search
// field. Wildcard marks a trailing "*" prefix match.
type Term struct {
	Text     string
	Wildcard bool
}

func (Term) isNode() {}

// Phrase is a bare quoted free-text phrase. Approximated as a
// conjunction of its constituent words across the default-search
// fields: the store has no positional index to test word adjacency.
type Phrase struct {
	Words []string
}

func (Phrase) isNode() {}

// FieldTerm is a "name:value" or "shortcut:value" query, value being a
// bare word or a wildcard ("value*") prefix.
type FieldTerm struct {
	Field    registry.Field
	Value    string
	Wildcard bool
}

func (FieldTerm) isNode() {}

// FieldPhrase is "name:\"quoted value\"", approximated the same way as
// Phrase but scoped to a single field.
type FieldPhrase struct {
	Field registry.Field
	Words []string
}

func (FieldPhrase) isNode() {}

// Range is "field:a..b". Bounds are kept as raw text; Exec parses them
// according to the field's kind (date, size, or plain integer).
type Range struct {
	Field    registry.Field
	Low      string
	High     string
}

func (Range) isNode() {}

// FreeText is an unknown-field-name token ("bogus:value"): per spec,
// unrecognised field names fall back to free text over the whole token.
type FreeText struct {
	Text string
}

func (FreeText) isNode() {}

type And struct{ Left, Right Node }

func (And) isNode() {}

type Or struct{ Left, Right Node }

func (Or) isNode() {}

type Not struct{ Child Node }

func (Not) isNode() {}
