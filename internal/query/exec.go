// Package query compiles a human-friendly search expression into an AST
// (lexer.go, ast.go, parser.go) and executes it against a Store
// (exec.go), returning a lazy, sort-ordered, size-bounded iterator of
// matching documents.
package query

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/indexd/gomu/internal/metrics"
	"github.com/indexd/gomu/internal/registry"
	"github.com/indexd/gomu/internal/store"
)

// ErrUnknownSortField is returned by Run when sortField does not name a
// stored-as-value field.
var ErrUnknownSortField = errors.New("query: unknown sort field")

// Hit is one matching document, as produced by an Iterator.
type Hit struct {
	DocID int64
	store *store.Store
}

// Value returns the stored text value of field for this hit, or "" if
// absent.
func (h Hit) Value(field registry.ID) string {
	v, _, _ := h.store.TextValue(h.DocID, field)
	return v
}

// Path returns the document's indexed path, suitable for loading the
// full message from disk.
func (h Hit) Path() (string, error) {
	return h.store.PathOf(h.DocID)
}

// Iterator walks a query's matching documents in their final sort
// order. It is read-only and forward-moving.
type Iterator struct {
	store *store.Store
	ids   []int64
	pos   int
}

// Len returns the total number of hits this iterator will yield.
func (it *Iterator) Len() int { return len(it.ids) }

// Next returns the next hit, or false when the iterator is exhausted.
func (it *Iterator) Next() (Hit, bool) {
	if it.pos >= len(it.ids) {
		return Hit{}, false
	}
	h := Hit{DocID: it.ids[it.pos], store: it.store}
	it.pos++
	return h, true
}

// Reset rewinds the iterator to its first hit.
func (it *Iterator) Reset() { it.pos = 0 }

// Run compiles expression and executes it against s. sortField, when
// non-empty, must name a stored-as-value field; results are ordered by
// that field (ties broken by document id ascending), otherwise by
// document id, ascending or descending as ascending says. limit of 0
// means unlimited. Every call records
// its outcome and duration, and refreshes the store's document-count
// gauge, under internal/metrics.
func Run(s *store.Store, expression string, sortField string, ascending bool, limit int) (*Iterator, error) {
	start := time.Now()
	it, err := run(s, expression, sortField, ascending, limit)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.RecordQuery(outcome, time.Since(start).Seconds())
	if err == nil {
		if n, cerr := s.Count(); cerr == nil {
			metrics.DocumentCount.Set(float64(n))
		}
	}
	return it, err
}

func run(s *store.Store, expression string, sortField string, ascending bool, limit int) (*Iterator, error) {
	node, err := Parse(expression)
	if err != nil {
		return nil, err
	}

	var sortFieldID registry.ID
	hasSort := sortField != ""
	if hasSort {
		f, ok := registry.ByName(sortField)
		if !ok || !f.StoredAsValue {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSortField, sortField)
		}
		sortFieldID = f.ID
	}

	ids, err := eval(s, node)
	if err != nil {
		return nil, err
	}

	if hasSort {
		if err := sortByField(s, ids, sortFieldID, ascending); err != nil {
			return nil, err
		}
	} else {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		if !ascending {
			reverse(ids)
		}
	}

	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	return &Iterator{store: s, ids: ids}, nil
}

// Explain renders a debug form of expression's parsed query tree.
func Explain(expression string) (string, error) {
	node, err := Parse(expression)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	explainNode(&b, node, 0)
	return b.String(), nil
}

func explainNode(b *strings.Builder, n Node, depth int) {
	indent := strings.Repeat("  ", depth)
	switch v := n.(type) {
	case MatchAll:
		fmt.Fprintf(b, "%sMATCH_ALL\n", indent)
	case Term:
		fmt.Fprintf(b, "%sTERM %q wildcard=%v\n", indent, v.Text, v.Wildcard)
	case Phrase:
		fmt.Fprintf(b, "%sPHRASE %q\n", indent, strings.Join(v.Words, " "))
	case FieldTerm:
		fmt.Fprintf(b, "%sFIELD %s=%q wildcard=%v\n", indent, v.Field.Name, v.Value, v.Wildcard)
	case FieldPhrase:
		fmt.Fprintf(b, "%sFIELD_PHRASE %s=%q\n", indent, v.Field.Name, strings.Join(v.Words, " "))
	case Range:
		fmt.Fprintf(b, "%sRANGE %s=%s..%s\n", indent, v.Field.Name, v.Low, v.High)
	case FreeText:
		fmt.Fprintf(b, "%sFREE_TEXT %q\n", indent, v.Text)
	case And:
		fmt.Fprintf(b, "%sAND\n", indent)
		explainNode(b, v.Left, depth+1)
		explainNode(b, v.Right, depth+1)
	case Or:
		fmt.Fprintf(b, "%sOR\n", indent)
		explainNode(b, v.Left, depth+1)
		explainNode(b, v.Right, depth+1)
	case Not:
		fmt.Fprintf(b, "%sNOT\n", indent)
		explainNode(b, v.Child, depth+1)
	default:
		fmt.Fprintf(b, "%s?\n", indent)
	}
}

// eval compiles node into the set of matching document ids.
func eval(s *store.Store, node Node) ([]int64, error) {
	switch v := node.(type) {
	case MatchAll:
		return s.AllDocumentIDs()

	case Term:
		fields := store.DefaultSearchFieldIDs()
		if v.Wildcard {
			return s.MatchTokenPrefix(fields, v.Text)
		}
		return s.MatchToken(fields, v.Text)

	case Phrase:
		return evalWordsAcross(s, store.DefaultSearchFieldIDs(), v.Words)

	case FreeText:
		fields := store.DefaultSearchFieldIDs()
		return evalWordsAcross(s, fields, tokenizeLoose(v.Text))

	case FieldTerm:
		return evalFieldTerm(s, v.Field, v.Value, v.Wildcard)

	case FieldPhrase:
		return evalWordsAcross(s, []registry.ID{v.Field.ID}, v.Words)

	case Range:
		return evalRange(s, v)

	case And:
		left, err := eval(s, v.Left)
		if err != nil {
			return nil, err
		}
		right, err := eval(s, v.Right)
		if err != nil {
			return nil, err
		}
		return intersect(left, right), nil

	case Or:
		left, err := eval(s, v.Left)
		if err != nil {
			return nil, err
		}
		right, err := eval(s, v.Right)
		if err != nil {
			return nil, err
		}
		return union(left, right), nil

	case Not:
		all, err := s.AllDocumentIDs()
		if err != nil {
			return nil, err
		}
		child, err := eval(s, v.Child)
		if err != nil {
			return nil, err
		}
		return difference(all, child), nil

	default:
		return nil, fmt.Errorf("query: unhandled node type %T", node)
	}
}

func evalFieldTerm(s *store.Store, f registry.Field, value string, wildcard bool) ([]int64, error) {
	switch {
	case f.IndexedAsText && wildcard:
		return s.MatchTokenPrefix([]registry.ID{f.ID}, value)
	case f.IndexedAsText:
		return s.MatchToken([]registry.ID{f.ID}, value)
	case f.StoredAsTerm && wildcard:
		return s.MatchPrefixTerm(f.ID, value)
	case f.StoredAsTerm:
		return s.MatchExactTerm(f.ID, value)
	default:
		return nil, nil
	}
}

func evalWordsAcross(s *store.Store, fields []registry.ID, words []string) ([]int64, error) {
	if len(words) == 0 {
		return s.AllDocumentIDs()
	}
	var result []int64
	for i, w := range words {
		ids, err := s.MatchToken(fields, w)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			result = ids
			continue
		}
		result = intersect(result, ids)
	}
	return result, nil
}

func evalRange(s *store.Store, r Range) ([]int64, error) {
	var low, high int64
	var err error
	switch r.Field.Kind {
	case registry.KindTimestamp:
		low, high, err = parseDateRange(r.Low, r.High)
	case registry.KindByteSize:
		low, high, err = parseSizeRange(r.Low, r.High)
	default:
		low, high, err = parseIntRange(r.Low, r.High)
	}
	if err != nil {
		return nil, &ParseError{Reason: err.Error()}
	}
	if high < low {
		low, high = high, low
	}
	return s.MatchNumRange(r.Field.ID, low, high)
}

var sizeRe = regexp.MustCompile(`(?i)^(\d+)([km]?)$`)

func parseSizeBound(s string) (int64, error) {
	m := sizeRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid size bound %q", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, err
	}
	switch strings.ToLower(m[2]) {
	case "k":
		n *= 1000
	case "m":
		n *= 1000000
	}
	return n, nil
}

func parseSizeRange(lo, hi string) (int64, int64, error) {
	l, err := parseSizeBound(lo)
	if err != nil {
		return 0, 0, err
	}
	h, err := parseSizeBound(hi)
	if err != nil {
		return 0, 0, err
	}
	return l, h, nil
}

func parseIntRange(lo, hi string) (int64, int64, error) {
	l, err := strconv.ParseInt(lo, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid integer bound %q", lo)
	}
	h, err := strconv.ParseInt(hi, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid integer bound %q", hi)
	}
	return l, h, nil
}

func parseDateRange(lo, hi string) (int64, int64, error) {
	l, err := parseDateBound(lo)
	if err != nil {
		return 0, 0, err
	}
	h, err := parseDateBound(hi)
	if err != nil {
		return 0, 0, err
	}
	return l, h, nil
}

func parseDateBound(s string) (int64, error) {
	switch strings.ToLower(s) {
	case "now":
		return time.Now().Unix(), nil
	case "today":
		now := time.Now()
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.Local).Unix(), nil
	}
	if strings.Contains(s, "-") {
		if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
			return t.Unix(), nil
		}
	}
	switch len(s) {
	case 8:
		if t, err := time.ParseInLocation("20060102", s, time.Local); err == nil {
			return t.Unix(), nil
		}
	case 14:
		if t, err := time.ParseInLocation("20060102150405", s, time.Local); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("invalid date bound %q", s)
}

func sortByField(s *store.Store, ids []int64, field registry.ID, ascending bool) error {
	textKeys, numKeys, err := s.SortKeysForDocs(ids, field)
	if err != nil {
		return err
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		na, okA := numKeys[a]
		nb, okB := numKeys[b]
		if okA && okB && na != nb {
			if ascending {
				return na < nb
			}
			return na > nb
		}
		ta, tb := textKeys[a], textKeys[b]
		if ta != tb {
			if ascending {
				return ta < tb
			}
			return ta > tb
		}
		return a < b // tie-break by document id
	})
	return nil
}

func reverse(ids []int64) {
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
}

func intersect(a, b []int64) []int64 {
	set := make(map[int64]bool, len(b))
	for _, id := range b {
		set[id] = true
	}
	var out []int64
	for _, id := range a {
		if set[id] {
			out = append(out, id)
		}
	}
	return out
}

func union(a, b []int64) []int64 {
	set := make(map[int64]bool, len(a)+len(b))
	var out []int64
	for _, id := range a {
		if !set[id] {
			set[id] = true
			out = append(out, id)
		}
	}
	for _, id := range b {
		if !set[id] {
			set[id] = true
			out = append(out, id)
		}
	}
	return out
}

func difference(all, exclude []int64) []int64 {
	set := make(map[int64]bool, len(exclude))
	for _, id := range exclude {
		set[id] = true
	}
	var out []int64
	for _, id := range all {
		if !set[id] {
			out = append(out, id)
		}
	}
	return out
}

// tokenizeLoose splits an unrecognised "field:value" token into words
// for free-text fallback matching, the same way the store tokenizes
// indexed text.
func tokenizeLoose(s string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, strings.ToLower(cur.String()))
			cur.Reset()
		}
	}
	for _, r := range s {
		if r == '_' || r == ':' || r == '-' || r == '.' {
			flush()
			continue
		}
		cur.WriteRune(r)
	}
	flush()
	return words
}
