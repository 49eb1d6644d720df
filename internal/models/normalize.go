package models

import (
	"strings"
	"unicode"
)

// NormalizeDescription derives the normalized form used in the duplicate
// grouping key. It is a deterministic function of the description: lower-
// cased, punctuation stripped, and interior whitespace runs collapsed to a
// single space.
func NormalizeDescription(description string) string {
	var b strings.Builder
	b.Grow(len(description))

	lastSpace := true
	for _, r := range strings.ToLower(description) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}

	return strings.TrimSpace(b.String())
}

// NormalizePattern normalizes learned-pattern text: lower-cased and
// trimmed, applied both before storage and before matching
func NormalizePattern(pattern string) string {
	return strings.ToLower(strings.TrimSpace(pattern))
}

// NormalizeIBAN strips all whitespace from an IBAN and upper-cases it
func NormalizeIBAN(iban string) string {
	var b strings.Builder
	b.Grow(len(iban))
	for _, r := range iban {
		if !unicode.IsSpace(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}
