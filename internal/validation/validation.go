// Package validation provides input validation for configuration and
// query-engine inputs.
package validation

import (
	"errors"
	"net/mail"
	"strings"
)

var (
	// ErrInvalidAddress is returned when a personal address in config
	// isn't a parseable e-mail address.
	ErrInvalidAddress = errors.New("invalid personal address: must be a valid e-mail address")
	// ErrQueryTooLong is returned when a query expression exceeds the
	// configured maximum length, a DoS guard on user input.
	ErrQueryTooLong = errors.New("query expression exceeds maximum length")
	// ErrMaildirRootMissing is returned when a configured maildir root
	// path is empty.
	ErrMaildirRootMissing = errors.New("maildir root path must not be empty")
)

// MaxQueryLength bounds user-supplied query expressions before they ever
// reach the lexer.
const MaxQueryLength = 8192

// PersonalAddress checks that addr is a syntactically valid e-mail
// address, as used for the Store's personal-addresses metadata list.
func PersonalAddress(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ErrInvalidAddress
	}
	if _, err := mail.ParseAddress(addr); err != nil {
		return ErrInvalidAddress
	}
	return nil
}

// QueryExpression checks a raw query string's length before parsing.
func QueryExpression(expr string) error {
	if len(expr) > MaxQueryLength {
		return ErrQueryTooLong
	}
	return nil
}

// MaildirRoot checks that a configured maildir root path is non-empty.
func MaildirRoot(path string) error {
	if strings.TrimSpace(path) == "" {
		return ErrMaildirRootMissing
	}
	return nil
}
