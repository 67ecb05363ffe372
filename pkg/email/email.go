// Package email holds small, pure helpers around email addresses used during
// magic-link provisioning.
package email

import (
	"strings"
	"unicode"
)

// Normalize lowercases and trims an address so (email, code) lookups are
// stable regardless of how the user typed the address.
func Normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// DeriveNameFromEmail guesses a display first/last name from the local part
// of an address, for users provisioned through a magic link before they ever
// fill in a profile.
func DeriveNameFromEmail(address string) (string, string) {
	localPart := address
	if at := strings.IndexByte(address, '@'); at > 0 {
		localPart = address[:at]
	}

	parts := strings.FieldsFunc(localPart, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})

	if len(parts) == 0 {
		return "User", "User"
	}

	first := capitalize(parts[0])
	last := "User"
	if len(parts) > 1 {
		last = capitalize(parts[len(parts)-1])
	}

	return first, last
}

func capitalize(s string) string {
	if s == "" {
		return s
	}

	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
