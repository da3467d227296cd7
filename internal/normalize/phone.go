// Package normalize maps the heterogeneous inbound payload shapes into strict
// internal records. It owns the phone/identity canonicalization used as the
// contact lookup key, the provider event parser with its content fallback
// chain, and the automation payload schema.
//
// Nothing in this package touches the store; every function is pure.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Phone strips every non-digit rune from s. The result is the canonical key
// for contact lookup within a workspace.
func Phone(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PhoneFromJID extracts the digits of the user part of a provider remote id
// ("5511999990000@s.whatsapp.net" → "5511999990000"). A device suffix
// ("5511...:12@...") is dropped.
func PhoneFromJID(jid string) string {
	user := jid
	if i := strings.IndexByte(user, '@'); i >= 0 {
		user = user[:i]
	}
	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}
	return Phone(user)
}

// IsGroupJID reports whether the jid addresses a group, a broadcast list or the
// status feed. Those are never persisted as contact conversations.
func IsGroupJID(jid string) bool {
	j := strings.ToLower(jid)
	return strings.HasSuffix(j, "@g.us") ||
		strings.HasSuffix(j, "@broadcast") ||
		strings.HasPrefix(j, "status@")
}

// DisplayName returns the NFC-normalized, whitespace-collapsed name, or fallback
// when the name is blank or has no printable content.
func DisplayName(name, fallback string) string {
	n := norm.NFC.String(name)
	n = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, n)
	n = strings.Join(strings.Fields(n), " ")
	if n == "" {
		return fallback
	}
	return n
}
