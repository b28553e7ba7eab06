// Package parser turns a single Maildir message file into a normalized
// Record: decoded headers, recipient address lists, priority, flags,
// a text body recovered across charsets, references, tags, and an
// attachment heuristic.
//
// Parsing never aborts on malformed input. A missing or unparseable
// piece of a message degrades to a zero value (empty body, mtime in
// place of a missing Date header, asciified text in place of a bad
// charset) rather than failing the whole parse; only an unreadable or
// non-regular file returns an error.
package parser

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-maildir"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	_ "github.com/emersion/go-message/charset" // registers non-UTF-8 charset decoders

	"github.com/indexd/gomu/internal/registry"
	"github.com/indexd/gomu/internal/walker"
)

// Error kinds surfaced by Parse. Each is returned wrapped with
// fmt.Errorf("%w: ...") so callers can match with errors.Is while still
// seeing the underlying cause.
var (
	ErrFileUnreadable = errors.New("parser: file not readable")
	ErrNotRegularFile = errors.New("parser: not a regular file")
	ErrParseFailed    = errors.New("parser: mime parse failed")
)

// BodyMode selects how the parser extracts the plain-text body field.
type BodyMode int

const (
	// FirstPlainText takes the first inline text/plain part only.
	FirstPlainText BodyMode = iota
	// ConcatenatedText depth-first joins every inline text/plain part.
	ConcatenatedText
)

// Record is the normalized, in-memory form of one parsed message.
type Record struct {
	Path       string
	RelMaildir string
	MTime      int64 // epoch seconds, filesystem mtime
	Size       int64

	MessageID string
	Subject   string
	From      Address
	To        []Address
	Cc        []Address
	Bcc       []Address

	Date     int64 // epoch seconds
	Priority int   // registry.PriorityLow/Normal/High
	Flags    registry.Flags

	BodyText string

	References []string
	Tags       []string
}

// Parser parses Maildir message files into Records. One Parser is
// created per Indexer run and shared read-only across the worker pool;
// it holds no mutable state of its own.
type Parser struct {
	Mode BodyMode
}

// New returns a Parser using the given body-extraction mode.
func New(mode BodyMode) *Parser {
	return &Parser{Mode: mode}
}

// Parse reads the message at path and produces its Record. relMaildir
// is the maildir-relative path the walker assigned this file; inNew
// reports whether the file was found under a new/ directory.
func (p *Parser) Parse(path, relMaildir string, inNew bool) (*Record, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFileUnreadable, path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotRegularFile, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFileUnreadable, path, err)
	}
	defer f.Close()

	rec := &Record{
		Path:       path,
		RelMaildir: relMaildir,
		MTime:      info.ModTime().Unix(),
		Size:       info.Size(),
		Date:       info.ModTime().Unix(),
		Priority:   registry.PriorityNormal,
		Flags:      resolveFlags(path, inNew),
	}

	mr, err := mail.CreateReader(f)
	if err != nil && (mr == nil || !message.IsUnknownCharset(err)) {
		// Malformed MIME never aborts indexing: fall back to a bare
		// record carrying only what the filesystem told us. An unknown
		// charset still yields a usable reader, so its headers are kept.
		return rec, nil
	}

	header := mr.Header

	rec.MessageID = cleanAngleBrackets(headerText(&header.Header, "Message-Id"))
	rec.Subject = asciifyIfInvalid(headerText(&header.Header, "Subject"))

	if addrs, err := header.AddressList("From"); err == nil {
		rec.From = firstAddress(addressList(addrs))
	}
	if addrs, err := header.AddressList("To"); err == nil {
		rec.To = addressList(addrs)
	}
	if addrs, err := header.AddressList("Cc"); err == nil {
		rec.Cc = addressList(addrs)
	}
	if addrs, err := header.AddressList("Bcc"); err == nil {
		rec.Bcc = addressList(addrs)
	}

	if d, err := header.Date(); err == nil && !d.IsZero() {
		rec.Date = d.Unix()
	}

	rec.Priority = resolvePriority(func(name string) string {
		return headerText(&header.Header, name)
	})

	rec.References = harvestReferences(header)
	rec.Tags = splitLabelList(headerText(&header.Header, "X-Label"))

	topContentType, _, _ := header.ContentType()
	if isMultipartSigned(topContentType) {
		rec.Flags |= registry.FlagSigned
	}
	if isMultipartEncrypted(topContentType) {
		rec.Flags |= registry.FlagEncrypted
	}

	body, hasAttach := p.walkParts(mr)
	rec.BodyText = body
	if hasAttach {
		rec.Flags |= registry.FlagHasAttach
	}

	return rec, nil
}

// walkParts traverses every MIME part in depth-first order, building the
// body text according to the parser's Mode and detecting attachments
// along the way.
func (p *Parser) walkParts(mr *mail.Reader) (body string, hasAttach bool) {
	var firstPlain string
	var firstPlainFound bool
	var concatenated strings.Builder

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.AttachmentHeader:
			disp, _, _ := h.ContentDisposition()
			ct, _, _ := h.ContentType()
			if isAttachmentDisposition(disp) || isAttachmentContentType(ct) {
				hasAttach = true
			}
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			disp, _, _ := h.ContentDisposition()

			if isAttachmentDisposition(disp) {
				hasAttach = true
				continue
			}
			if isAttachmentContentType(ct) {
				hasAttach = true
				continue
			}

			if !hasSubtype(ct, "plain") {
				continue
			}
			text := decodePart(part.Body)
			if !firstPlainFound {
				firstPlain = text
				firstPlainFound = true
			}
			if concatenated.Len() > 0 {
				concatenated.WriteByte('\n')
			}
			concatenated.WriteString(text)
		}
	}

	switch p.Mode {
	case ConcatenatedText:
		return concatenated.String(), hasAttach
	default:
		return firstPlain, hasAttach
	}
}

// ExtractHTMLBody re-reads path looking for the first inline text/html
// part. It is a separate, on-demand pass: the HTML body is not part of
// the Record populated by Parse.
func (p *Parser) ExtractHTMLBody(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrFileUnreadable, path, err)
	}
	defer f.Close()

	mr, err := mail.CreateReader(f)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrParseFailed, path, err)
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		disp, _, _ := h.ContentDisposition()
		if isAttachmentDisposition(disp) || !hasSubtype(ct, "html") {
			continue
		}
		return decodePart(part.Body), nil
	}
	return "", nil
}

// decodePart reads a part body already charset-decoded to UTF-8 by
// go-message/charset; invalid UTF-8 that slips through is asciified
// rather than dropped.
func decodePart(r io.Reader) string {
	b, err := io.ReadAll(r)
	if err != nil {
		return ""
	}
	s := string(b)
	if !utf8.ValidString(s) {
		return asciify(s)
	}
	return s
}

func asciifyIfInvalid(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return asciify(s)
}

// headerTexter is satisfied by *message.Header: RFC 2047-decoded text
// access plus the raw fallback.
type headerTexter interface {
	Text(string) (string, error)
	Get(string) string
}

// headerText fetches a header's RFC 2047-decoded text value, falling
// back to the raw value if decoding fails.
func headerText(h headerTexter, name string) string {
	if v, err := h.Text(name); err == nil {
		return v
	}
	return h.Get(name)
}

func cleanAngleBrackets(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	return s
}

// harvestReferences builds the oldest-first, deduplicated reference
// list: the References header first, then any new ids contributed by
// In-Reply-To.
func harvestReferences(header mail.Header) []string {
	seen := make(map[string]bool)
	var ordered []string

	add := func(ids []string) {
		for _, id := range ids {
			id = cleanAngleBrackets(id)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			ordered = append(ordered, id)
		}
	}

	if ids, err := header.MsgIDList("References"); err == nil {
		add(ids)
	}
	if ids, err := header.MsgIDList("In-Reply-To"); err == nil {
		add(ids)
	}
	return ordered
}

// resolveFlags decodes a message's maildir flags through go-maildir, the
// library the walker also uses for on-disk flag access, falling back to
// a direct filename-suffix parse when go-maildir can't resolve the key
// (an unusual directory layout, or a key it doesn't recognize).
func resolveFlags(path string, inNew bool) registry.Flags {
	leaf := filepath.Dir(path)
	key := filepath.Base(path)

	var flags registry.Flags
	if mf, err := walker.DecodeFlags(leaf, key); err == nil {
		flags = registry.ParseMaildirSuffix(flagRunesToSuffix(mf))
	} else {
		flags = maildirFlagsFromName(key)
	}
	if inNew {
		flags |= registry.FlagNew
	}
	return flags
}

// flagRunesToSuffix renders go-maildir's decoded flag runes as the
// DFPRST-style suffix string registry.ParseMaildirSuffix expects.
func flagRunesToSuffix(flags []maildir.Flag) string {
	b := make([]byte, len(flags))
	for i, f := range flags {
		b[i] = byte(f)
	}
	return string(b)
}

// maildirFlagsFromName decodes the maildir flag suffix from a message
// filename (the part after the last ":2,"). It is the fallback path when
// go-maildir cannot resolve the file's key.
func maildirFlagsFromName(name string) registry.Flags {
	if idx := strings.LastIndex(name, ":2,"); idx >= 0 {
		return registry.ParseMaildirSuffix(name[idx+len(":2,"):])
	}
	return 0
}
