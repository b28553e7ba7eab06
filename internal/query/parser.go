package query

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/indexd/gomu/internal/registry"
)

// maxParseDepth bounds parenthesis/negation nesting, guarding against a
// pathological or adversarial expression driving unbounded recursion.
const maxParseDepth = 64

// ParseError reports a position and reason within the (preprocessed)
// expression string, matching spec's query-parse-error{position, reason}
// error kind.
type ParseError struct {
	Pos    int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("query: parse error at %d: %s", e.Pos, e.Reason)
}

type parser struct {
	lex   *lexer
	tok   Token
	depth int
}

// Parse compiles a raw (not yet preprocessed) query expression into an
// AST. An empty or all-whitespace expression yields MatchAll, per spec.
func Parse(expr string) (Node, error) {
	pre := Preprocess(expr)
	if strings.TrimSpace(pre) == "" {
		return MatchAll{}, nil
	}
	p := &parser{lex: newLexer(pre)}
	p.advance()
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.Kind != TokEOF {
		return nil, &ParseError{Pos: p.tok.Pos, Reason: fmt.Sprintf("unexpected %q", p.tok.Value)}
	}
	return node, nil
}

func (p *parser) advance() {
	p.tok = p.lex.Next()
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxParseDepth {
		return &ParseError{Pos: p.tok.Pos, Reason: "expression nested too deeply"}
	}
	return nil
}

func (p *parser) leave() {
	p.depth--
}

// parseOr := parseAnd (OR parseAnd)*
func (p *parser) parseOr() (Node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok.Kind == TokWord && strings.EqualFold(p.tok.Value, "or") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Or{Left: left, Right: right}
	}
	return left, nil
}

// parseAnd := parseNot ((AND)? parseNot)* — juxtaposition defaults to AND.
func (p *parser) parseAnd() (Node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.startsOperand() {
		if p.tok.Kind == TokWord && strings.EqualFold(p.tok.Value, "and") {
			p.advance()
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = And{Left: left, Right: right}
	}
	return left, nil
}

// startsOperand reports whether the current token can begin another
// and/not/atom term, i.e. parsing should continue rather than return to
// the enclosing OR or close-paren.
func (p *parser) startsOperand() bool {
	switch p.tok.Kind {
	case TokEOF, TokRParen:
		return false
	case TokWord:
		if strings.EqualFold(p.tok.Value, "or") {
			return false
		}
		return true
	default:
		return true
	}
}

// parseNot := ('-' | NOT) parseNot | atom
func (p *parser) parseNot() (Node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	if p.tok.Kind == TokWord && strings.EqualFold(p.tok.Value, "not") {
		p.advance()
		child, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return Not{Child: child}, nil
	}
	if p.tok.Kind == TokWord && p.tok.Value == "-" {
		p.advance()
		child, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return Not{Child: child}, nil
	}
	if p.tok.Kind == TokWord && strings.HasPrefix(p.tok.Value, "-") && len(p.tok.Value) > 1 {
		stripped := p.tok.Value[1:]
		pos := p.tok.Pos
		node, err := p.atomFromWord(stripped, pos)
		if err != nil {
			return nil, err
		}
		p.advance()
		return Not{Child: node}, nil
	}
	return p.parseAtom()
}

// parseAtom := '(' parseOr ')' | quotedPhrase | word-atom
func (p *parser) parseAtom() (Node, error) {
	switch p.tok.Kind {
	case TokLParen:
		p.advance()
		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.Kind != TokRParen {
			return nil, &ParseError{Pos: p.tok.Pos, Reason: "expected ')'"}
		}
		p.advance()
		return node, nil
	case TokQuoted:
		words := splitWords(p.tok.Value)
		p.advance()
		return Phrase{Words: words}, nil
	case TokWord:
		if p.tok.Value == "" {
			return nil, &ParseError{Pos: p.tok.Pos, Reason: "empty token"}
		}
		pos := p.tok.Pos
		val := p.tok.Value
		end := p.tok.End

		// field:"quoted phrase" spans two raw tokens when the value is
		// a quoted phrase glued directly onto the field prefix.
		if strings.HasSuffix(val, ":") && len(val) > 1 {
			fieldName := val[:len(val)-1]
			if f, ok := resolveField(fieldName); ok {
				next := p.lex.Next()
				if next.Kind == TokQuoted && next.Pos == end {
					p.tok = next
					p.advance()
					return FieldPhrase{Field: f, Words: splitWords(next.Value)}, nil
				}
				// Not glued to a quoted phrase after all; put the
				// lookahead token back by treating val+value as one
				// logical unit from source made unnecessary here since
				// the lexer has no pushback. Restore by re-lexing from
				// fieldName's end is not available; fall through using
				// whatever the lookahead token turned out to be as the
				// value instead (handles "field:value" split only by
				// an errant colon, which normalization never produces).
				p.tok = next
				combined := val + next.Value
				node, err := p.atomFromWord(combined, pos)
				if err != nil {
					return nil, err
				}
				p.advance()
				return node, nil
			}
		}

		node, err := p.atomFromWord(val, pos)
		if err != nil {
			return nil, err
		}
		p.advance()
		return node, nil
	default:
		return nil, &ParseError{Pos: p.tok.Pos, Reason: "expected a term"}
	}
}

// atomFromWord classifies a single raw (unquoted, non-negated) word into
// a field term, a range, or a bare term/free-text fallback.
func (p *parser) atomFromWord(val string, pos int) (Node, error) {
	if idx := strings.IndexByte(val, ':'); idx > 0 {
		fieldName, rest := val[:idx], val[idx+1:]
		if f, ok := resolveField(fieldName); ok {
			if rest == "" {
				// "field:" with nothing glued on: treat as free text,
				// there was no quoted phrase to combine with either.
				return FreeText{Text: val}, nil
			}
			if lo, hi, isRange := splitRange(rest); isRange {
				return Range{Field: f, Low: lo, High: hi}, nil
			}
			if strings.HasSuffix(rest, "*") {
				return FieldTerm{Field: f, Value: rest[:len(rest)-1], Wildcard: true}, nil
			}
			return FieldTerm{Field: f, Value: rest}, nil
		}
		// Unknown field name: whole token is free text.
		return FreeText{Text: val}, nil
	}
	if strings.HasSuffix(val, "*") && len(val) > 1 {
		return Term{Text: val[:len(val)-1], Wildcard: true}, nil
	}
	return Term{Text: val}, nil
}

// resolveField looks up name as a full field name first, then (only
// when it is a single character) as a shortcut.
func resolveField(name string) (registry.Field, bool) {
	if f, ok := registry.ByName(name); ok {
		return f, true
	}
	if len(name) == 1 {
		return registry.ByShortcut(name[0])
	}
	return registry.Field{}, false
}

// splitRange recognizes "a..b"; both bounds must be non-empty.
func splitRange(s string) (lo, hi string, ok bool) {
	i := strings.Index(s, "..")
	if i <= 0 || i+2 >= len(s) {
		return "", "", false
	}
	return s[:i], s[i+2:], true
}

// splitWords breaks a quoted phrase into runs of letters and digits, the
// same units the store indexes as tokens.
func splitWords(phrase string) []string {
	return strings.FieldsFunc(phrase, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
