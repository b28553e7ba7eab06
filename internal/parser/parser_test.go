package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/indexd/gomu/internal/registry"
)

func writeMessage(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const basicMessage = "From: Alice Example <alice@example.com>\r\n" +
	"To: bob@example.com, carol@example.com\r\n" +
	"Subject: basic test\r\n" +
	"Message-Id: <m1@example.com>\r\n" +
	"Date: Thu, 31 Jul 2008 12:00:00 +0300\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"hello world\r\n"

func TestParseBasicMessage(t *testing.T) {
	dir := t.TempDir()
	path := writeMessage(t, dir, "1:2,S", basicMessage)

	p := New(FirstPlainText)
	rec, err := p.Parse(path, "INBOX/cur", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.Subject != "basic test" {
		t.Errorf("Subject = %q", rec.Subject)
	}
	if rec.MessageID != "m1@example.com" {
		t.Errorf("MessageID = %q", rec.MessageID)
	}
	if rec.From.Email != "alice@example.com" {
		t.Errorf("From.Email = %q", rec.From.Email)
	}
	if len(rec.To) != 2 {
		t.Fatalf("To = %v", rec.To)
	}
	if rec.BodyText != "hello world\r\n" && rec.BodyText != "hello world\n" {
		t.Errorf("BodyText = %q", rec.BodyText)
	}
	if !rec.Flags.Has(registry.FlagSeen) {
		t.Error("expected Seen flag from filename suffix")
	}
	if rec.Flags.Has(registry.FlagNew) {
		t.Error("did not expect New flag, file was not in new/")
	}
}

// TestParseDecodesFlagsViaGoMaildirUnderRealMaildirLayout exercises the
// go-maildir path of resolveFlags: a message under a real root/cur
// layout lets walker.DecodeFlags resolve the flags directly from disk
// rather than falling back to the raw filename-suffix parse.
func TestParseDecodesFlagsViaGoMaildirUnderRealMaildirLayout(t *testing.T) {
	root := t.TempDir()
	curDir := filepath.Join(root, "cur")
	if err := os.MkdirAll(curDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "new"), 0755); err != nil {
		t.Fatal(err)
	}
	path := writeMessage(t, curDir, "1:2,RF", basicMessage)

	p := New(FirstPlainText)
	rec, err := p.Parse(path, "INBOX", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rec.Flags.Has(registry.FlagReplied) || !rec.Flags.Has(registry.FlagFlagged) {
		t.Errorf("Flags = %v, want Replied and Flagged decoded via go-maildir", rec.Flags)
	}
	if rec.Flags.Has(registry.FlagSeen) {
		t.Error("did not expect Seen flag")
	}
}

func TestParseMalformedFlagSuffixStillIndexes(t *testing.T) {
	dir := t.TempDir()
	path := writeMessage(t, dir, "1:2,ZZZ", basicMessage)

	p := New(FirstPlainText)
	rec, err := p.Parse(path, "INBOX/new", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rec.Flags.Has(registry.FlagNew) {
		t.Error("expected New flag from new/ placement despite malformed suffix")
	}
	if rec.Flags.Has(registry.FlagSeen) {
		t.Error("malformed suffix should yield no decodable maildir flags")
	}
}

func TestParseNoBodyYieldsEmptyBodyText(t *testing.T) {
	dir := t.TempDir()
	msg := "From: a@example.com\r\nTo: b@example.com\r\nSubject: empty\r\n\r\n"
	path := writeMessage(t, dir, "1", msg)

	p := New(FirstPlainText)
	rec, err := p.Parse(path, "INBOX/cur", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.BodyText != "" {
		t.Errorf("BodyText = %q, want empty", rec.BodyText)
	}
}

func TestParseMissingFileReturnsUnreadable(t *testing.T) {
	p := New(FirstPlainText)
	if _, err := p.Parse("/nonexistent/path/xyz", "INBOX/cur", false); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseDirectoryReturnsNotRegular(t *testing.T) {
	dir := t.TempDir()
	p := New(FirstPlainText)
	if _, err := p.Parse(dir, "INBOX/cur", false); err == nil {
		t.Fatal("expected error for directory path")
	}
}

func TestResolvePriority(t *testing.T) {
	headers := map[string]string{"Precedence": "bulk"}
	got := resolvePriority(func(name string) string { return headers[name] })
	if got != registry.PriorityLow {
		t.Errorf("priority = %d, want low", got)
	}
}

func TestResolvePriorityDefaultsNormal(t *testing.T) {
	got := resolvePriority(func(name string) string { return "" })
	if got != registry.PriorityNormal {
		t.Errorf("priority = %d, want normal", got)
	}
}

func TestResolvePriorityPrecedenceBeatsXPriority(t *testing.T) {
	headers := map[string]string{"Precedence": "normal", "X-Priority": "1 (highest)"}
	got := resolvePriority(func(name string) string { return headers[name] })
	if got != registry.PriorityNormal {
		t.Errorf("priority = %d, want normal (Precedence wins)", got)
	}
}

func TestFormatAddress(t *testing.T) {
	if got := FormatAddress(Address{Name: "Bob", Email: "bob@example.com"}); got != "Bob <bob@example.com>" {
		t.Errorf("FormatAddress = %q", got)
	}
	if got := FormatAddress(Address{Email: "bob@example.com"}); got != "bob@example.com" {
		t.Errorf("FormatAddress = %q", got)
	}
}

func TestAsciify(t *testing.T) {
	got := asciify("h\xe9llo")
	if got != "h.llo" {
		t.Errorf("asciify = %q", got)
	}
}

func TestSplitLabelList(t *testing.T) {
	got := splitLabelList(" work, , urgent ,")
	if len(got) != 2 || got[0] != "work" || got[1] != "urgent" {
		t.Errorf("splitLabelList = %v", got)
	}
}

func TestIsAttachmentContentType(t *testing.T) {
	cases := map[string]bool{
		"image/png":       true,
		"application/pdf": true,
		"message/rfc822":  true,
		"text/plain":      false,
	}
	for ct, want := range cases {
		if got := isAttachmentContentType(ct); got != want {
			t.Errorf("isAttachmentContentType(%q) = %v, want %v", ct, got, want)
		}
	}
}

func TestIsMultipartSignedEncrypted(t *testing.T) {
	if !isMultipartSigned("multipart/signed; protocol=...") {
		t.Error("expected signed detection")
	}
	if !isMultipartEncrypted("multipart/encrypted") {
		t.Error("expected encrypted detection")
	}
	if isMultipartSigned("text/plain") {
		t.Error("unexpected signed detection")
	}
}
