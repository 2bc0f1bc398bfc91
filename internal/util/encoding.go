package util

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize applies NFKD so visually identical input hashes identically.
func Normalize(s string) string {
	return norm.NFKD.String(s)
}

// NormalizeEmail trims and lowercases an address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
