package query

import (
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/indexd/gomu/internal/metrics"
	"github.com/indexd/gomu/internal/registry"
	"github.com/indexd/gomu/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(store.Options{
		DatabasePath:      filepath.Join(dir, "gomu.db"),
		ContactsPath:      filepath.Join(dir, "contacts"),
		LockPath:          filepath.Join(dir, "lock"),
		BatchSize:         10000,
		Mode:              store.CreateOrOpen,
		MaildirRoot:       "/home/u/Maildir",
		PersonalAddresses: []string{"me@example.com"},
	})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedCorpus loads a handful of documents approximating the spec's
// worked corpus: an umlaut sender, a Gmail folder name, a tagged
// message, and a couple of plain messages spread across two dates.
func seedCorpus(t *testing.T, s *store.Store) {
	t.Helper()
	docs := []store.Document{
		{
			Path: "/m/INBOX/cur/1:2,S", RelMaildir: "INBOX", MTime: 1000, Size: 1200,
			MessageID: "m1@example.com", Subject: "Hello world",
			From: store.Address{Name: "mü Team", Email: "mueller@example.com"},
			To:   []store.Address{{Email: "me@example.com"}},
			Date: mustUnix("2008-07-31"), Priority: registry.PriorityNormal,
			Flags: registry.FlagSeen, BodyText: "hello there", Tags: []string{"work"},
		},
		{
			Path: "/m/[Gmail]/All Mail/cur/2:2,S", RelMaildir: "[Gmail]/All Mail", MTime: 1100, Size: 50000,
			MessageID: "m2@example.com", Subject: "Big attachment",
			From: store.Address{Name: "Bob", Email: "bob@example.com"},
			To:   []store.Address{{Email: "me@example.com"}},
			Date: mustUnix("2008-08-01"), Priority: registry.PriorityHigh,
			Flags: registry.FlagSeen | registry.FlagHasAttach, BodyText: "see attached report",
		},
		{
			Path: "/m/INBOX/cur/3:2,", RelMaildir: "INBOX", MTime: 1200, Size: 800,
			MessageID: "m3@example.com", Subject: "Re: Hello world",
			From: store.Address{Name: "Carol", Email: "carol@example.com"},
			To:   []store.Address{{Email: "me@example.com"}},
			Date: mustUnix("2008-08-05"), Priority: registry.PriorityNormal,
			Flags: 0, BodyText: "replying now", Tags: []string{"personal"},
		},
	}
	for _, d := range docs {
		if err := s.AddOrUpdate(d); err != nil {
			t.Fatalf("AddOrUpdate(%s): %v", d.Path, err)
		}
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func mustUnix(date string) int64 {
	t, err := parseDateBound(date)
	if err != nil {
		panic(err)
	}
	return t
}

func runQuery(t *testing.T, s *store.Store, expr string) []int64 {
	t.Helper()
	it, err := Run(s, expr, "", true, 0)
	if err != nil {
		t.Fatalf("Run(%q): %v", expr, err)
	}
	var ids []int64
	for {
		h, ok := it.Next()
		if !ok {
			break
		}
		ids = append(ids, h.DocID)
	}
	return ids
}

func TestPreprocessIdempotent(t *testing.T) {
	cases := []string{
		`from:"Jane Doe" AND subject:Re`,
		`[Gmail]/All Mail`,
		`f:mü OR t:Bob`,
	}
	for _, c := range cases {
		once := Preprocess(c)
		twice := Preprocess(once)
		if once != twice {
			t.Errorf("Preprocess not idempotent for %q: %q vs %q", c, once, twice)
		}
	}
}

func TestPreprocessBrackets(t *testing.T) {
	got := Preprocess("[Gmail]")
	want := "__gmail__"
	if got != want {
		t.Errorf("Preprocess([Gmail]) = %q, want %q", got, want)
	}
}

func TestParseEmptyMatchesAll(t *testing.T) {
	node, err := Parse("   ")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := node.(MatchAll); !ok {
		t.Errorf("Parse(empty) = %T, want MatchAll", node)
	}
}

func TestParseAndOrNotParens(t *testing.T) {
	node, err := Parse("subject:hello and (from:bob or not to:me)")
	if err != nil {
		t.Fatal(err)
	}
	and, ok := node.(And)
	if !ok {
		t.Fatalf("top node = %T, want And", node)
	}
	if _, ok := and.Left.(FieldTerm); !ok {
		t.Errorf("left = %T, want FieldTerm", and.Left)
	}
	if _, ok := and.Right.(Or); !ok {
		t.Errorf("right = %T, want Or", and.Right)
	}
}

func TestParseJuxtapositionIsAnd(t *testing.T) {
	node, err := Parse("hello world")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := node.(And); !ok {
		t.Fatalf("Parse(\"hello world\") = %T, want And", node)
	}
}

func TestParseWildcard(t *testing.T) {
	node, err := Parse("hel*")
	if err != nil {
		t.Fatal(err)
	}
	term, ok := node.(Term)
	if !ok || !term.Wildcard || term.Text != "hel" {
		t.Fatalf("Parse(hel*) = %#v", node)
	}
}

func TestParseNegationDash(t *testing.T) {
	node, err := Parse("-subject:spam")
	if err != nil {
		t.Fatal(err)
	}
	not, ok := node.(Not)
	if !ok {
		t.Fatalf("Parse(-subject:spam) = %T, want Not", node)
	}
	if _, ok := not.Child.(FieldTerm); !ok {
		t.Errorf("Not.Child = %T, want FieldTerm", not.Child)
	}
}

func TestParseUnknownFieldFallsBackToFreeText(t *testing.T) {
	node, err := Parse("bogus:value")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := node.(FreeText); !ok {
		t.Fatalf("Parse(bogus:value) = %T, want FreeText", node)
	}
}

func TestParseRange(t *testing.T) {
	node, err := Parse("date:20080731..20080804")
	if err != nil {
		t.Fatal(err)
	}
	r, ok := node.(Range)
	if !ok || r.Low != "20080731" || r.High != "20080804" {
		t.Fatalf("Parse(date range) = %#v", node)
	}
}

func TestParseShortcut(t *testing.T) {
	node, err := Parse("f:bob")
	if err != nil {
		t.Fatal(err)
	}
	ft, ok := node.(FieldTerm)
	if !ok || ft.Field.ID != registry.From {
		t.Fatalf("Parse(f:bob) = %#v", node)
	}
}

func TestParseQuotedPhrase(t *testing.T) {
	node, err := Parse(`"hello world"`)
	if err != nil {
		t.Fatal(err)
	}
	p, ok := node.(Phrase)
	if !ok || len(p.Words) != 2 {
		t.Fatalf("Parse(quoted) = %#v", node)
	}
}

func TestParseDeepNestingRejected(t *testing.T) {
	expr := ""
	for i := 0; i < maxParseDepth+5; i++ {
		expr += "("
	}
	expr += "foo"
	for i := 0; i < maxParseDepth+5; i++ {
		expr += ")"
	}
	_, err := Parse(expr)
	if err == nil {
		t.Fatal("expected parse error for excessive nesting")
	}
	var perr *ParseError
	if !asParseError(err, &perr) {
		t.Fatalf("error = %v, want *ParseError", err)
	}
}

func asParseError(err error, target **ParseError) bool {
	if pe, ok := err.(*ParseError); ok {
		*target = pe
		return true
	}
	return false
}

func TestRunMatchAllOnEmptyExpression(t *testing.T) {
	s := openTestStore(t)
	seedCorpus(t, s)
	ids := runQuery(t, s, "")
	if len(ids) != 3 {
		t.Fatalf("run(\"\") matched %d docs, want 3", len(ids))
	}
}

func TestRunRecordsMetricsAndDocumentCount(t *testing.T) {
	s := openTestStore(t)
	seedCorpus(t, s)

	okBefore := testutil.ToFloat64(metrics.QueriesExecuted.WithLabelValues("ok"))
	if _, err := Run(s, "hello", "", true, 0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := testutil.ToFloat64(metrics.QueriesExecuted.WithLabelValues("ok")); got != okBefore+1 {
		t.Errorf("QueriesExecuted[ok] = %v, want %v", got, okBefore+1)
	}
	if got := testutil.ToFloat64(metrics.DocumentCount); got != 3 {
		t.Errorf("DocumentCount = %v, want 3", got)
	}

	errBefore := testutil.ToFloat64(metrics.QueriesExecuted.WithLabelValues("error"))
	if _, err := Run(s, "(", "", true, 0); err == nil {
		t.Fatal("expected a parse error")
	}
	if got := testutil.ToFloat64(metrics.QueriesExecuted.WithLabelValues("error")); got != errBefore+1 {
		t.Errorf("QueriesExecuted[error] = %v, want %v", got, errBefore+1)
	}
}

func TestRunFromFieldMatchesUnicodeWord(t *testing.T) {
	s := openTestStore(t)
	seedCorpus(t, s)
	ids := runQuery(t, s, "f:mü")
	if len(ids) != 1 {
		t.Fatalf("run(f:mü) matched %d docs, want 1", len(ids))
	}
}

func TestRunMaildirExactMatch(t *testing.T) {
	s := openTestStore(t)
	seedCorpus(t, s)
	ids := runQuery(t, s, "maildir:inbox")
	if len(ids) != 2 {
		t.Fatalf("run(maildir:inbox) matched %d docs, want 2", len(ids))
	}
}

func TestRunDateRangeAcrossTimezoneBoundary(t *testing.T) {
	s := openTestStore(t)
	seedCorpus(t, s)
	ids := runQuery(t, s, "date:20080731..20080804")
	if len(ids) < 2 {
		t.Fatalf("run(date range) matched %d docs, want >= 2", len(ids))
	}
}

func TestRunTagQuery(t *testing.T) {
	s := openTestStore(t)
	seedCorpus(t, s)
	ids := runQuery(t, s, "tag:work")
	if len(ids) != 1 {
		t.Fatalf("run(tag:work) matched %d docs, want 1", len(ids))
	}
}

func TestRunNotExcludesMatches(t *testing.T) {
	s := openTestStore(t)
	seedCorpus(t, s)
	ids := runQuery(t, s, "not subject:hello")
	if len(ids) != 1 {
		t.Fatalf("run(not subject:hello) matched %d docs, want 1", len(ids))
	}
}

func TestRunAndOrCombination(t *testing.T) {
	s := openTestStore(t)
	seedCorpus(t, s)
	ids := runQuery(t, s, "subject:hello and (from:mueller or from:carol)")
	if len(ids) != 2 {
		t.Fatalf("run(and/or) matched %d docs, want 2", len(ids))
	}
}

func TestRunSizeRangeWithSuffix(t *testing.T) {
	s := openTestStore(t)
	seedCorpus(t, s)
	ids := runQuery(t, s, "size:10k..100k")
	if len(ids) != 1 {
		t.Fatalf("run(size range) matched %d docs, want 1", len(ids))
	}
}

func TestRunUnknownSortFieldErrors(t *testing.T) {
	s := openTestStore(t)
	seedCorpus(t, s)
	_, err := Run(s, "hello", "not-a-field", true, 0)
	if err == nil {
		t.Fatal("expected error for unknown sort field")
	}
}

func TestRunSortByDateDescending(t *testing.T) {
	s := openTestStore(t)
	seedCorpus(t, s)
	it, err := Run(s, "", "date", false, 0)
	if err != nil {
		t.Fatal(err)
	}
	var prev int64 = 1<<62
	for {
		h, ok := it.Next()
		if !ok {
			break
		}
		n, found, err := it.store.NumValue(h.DocID, registry.Date)
		if err != nil || !found {
			t.Fatal(err)
		}
		if n > prev {
			t.Fatalf("results not sorted descending by date: %d came after %d", n, prev)
		}
		prev = n
	}
}

func TestRunLimitTruncates(t *testing.T) {
	s := openTestStore(t)
	seedCorpus(t, s)
	it, err := Run(s, "", "", true, 1)
	if err != nil {
		t.Fatal(err)
	}
	if it.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", it.Len())
	}
}

func TestExplainRendersTree(t *testing.T) {
	out, err := Explain("subject:hello and not from:bob")
	if err != nil {
		t.Fatal(err)
	}
	if out == "" {
		t.Fatal("Explain returned empty string")
	}
}

func TestExplainParseError(t *testing.T) {
	_, err := Explain("(unterminated")
	if err == nil {
		t.Fatal("expected parse error for unbalanced parens")
	}
}
