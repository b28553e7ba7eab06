package parser

import "strings"

// isAttachmentDisposition reports whether a part's Content-Disposition
// value, taken alone, always marks it an attachment.
func isAttachmentDisposition(disposition string) bool {
	return strings.EqualFold(strings.TrimSpace(disposition), "attachment")
}

// isAttachmentContentType reports whether an inline part's content type
// is one of the kinds the attachment heuristic treats as an attachment
// even without an explicit "attachment" disposition: image, application,
// or message top-level types. A text/plain inline part never counts.
func isAttachmentContentType(contentType string) bool {
	major, _, ok := strings.Cut(contentType, "/")
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(major)) {
	case "image", "application", "message":
		return true
	default:
		return false
	}
}

// isMultipartSigned reports whether a top-level content type marks the
// message as cryptographically signed (detection only, no verification).
func isMultipartSigned(contentType string) bool {
	return hasSubtype(contentType, "signed")
}

// isMultipartEncrypted reports whether a top-level content type marks
// the message as encrypted (detection only, no verification).
func isMultipartEncrypted(contentType string) bool {
	return hasSubtype(contentType, "encrypted")
}

func hasSubtype(contentType, subtype string) bool {
	_, sub, ok := strings.Cut(contentType, "/")
	if !ok {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(sub), subtype)
}

// asciify replaces every byte of s that isn't valid as part of a clean
// UTF-8 string with '.', preserving the field's length and indexability
// instead of dropping it outright. Used as the last-resort fallback when
// charset conversion fails or is absent and the raw bytes aren't valid
// UTF-8 on their own.
func asciify(s string) string {
	b := []byte(s)
	out := make([]byte, len(b))
	for i, c := range b {
		if c < 0x80 {
			out[i] = c
		} else {
			out[i] = '.'
		}
	}
	return string(out)
}

// splitLabelList parses an X-Label-style comma-separated header into a
// trimmed, non-empty tag list.
func splitLabelList(header string) []string {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
