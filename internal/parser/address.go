package parser

import (
	"strings"

	"github.com/emersion/go-message/mail"
)

// Address is a parsed display-name/e-mail pair. Email is always
// lowercased; Name preserves the original casing as decoded from the
// header.
type Address struct {
	Name  string
	Email string
}

// FormatAddress renders a as the "Name <email>" display form the
// contacts cache stores as the full-address column. When Name is empty
// it renders as a bare address.
func FormatAddress(a Address) string {
	if a.Name == "" {
		return a.Email
	}
	return a.Name + " <" + a.Email + ">"
}

func toAddress(a *mail.Address) Address {
	return Address{
		Name:  strings.TrimSpace(a.Name),
		Email: strings.ToLower(strings.TrimSpace(a.Address)),
	}
}

// addressList parses a header value already split into *mail.Address
// values by go-message into our Address type, dropping whitespace-only
// entries.
func addressList(addrs []*mail.Address) []Address {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]Address, 0, len(addrs))
	for _, a := range addrs {
		if a == nil || strings.TrimSpace(a.Address) == "" {
			continue
		}
		out = append(out, toAddress(a))
	}
	return out
}

// firstAddress returns the first entry of a list, or the zero Address.
func firstAddress(addrs []Address) Address {
	if len(addrs) == 0 {
		return Address{}
	}
	return addrs[0]
}
