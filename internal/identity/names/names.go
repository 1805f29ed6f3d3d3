// Package names canonicalizes and validates registry names.
//
// Uniqueness is decided on the canonical form only: two names that fold to
// the same string are the same name. The display form the caller typed is
// kept next to the canonical key for responses.
package names

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"

	dErrors "soulid/pkg/domain-errors"
)

// MaxLength is the longest accepted name, in characters.
const MaxLength = 64

// Normalize returns the canonical form of name: surrounding whitespace
// trimmed, Unicode case folded, then lowercased. Folding alone is not
// idempotent for scripts such as Cherokee, where it maps lowercase letters to
// uppercase ones; the final lowercase makes Normalize(Normalize(x)) equal
// Normalize(x).
func Normalize(name string) string {
	// A Caser carries state and is not safe for concurrent use.
	return strings.ToLower(cases.Fold().String(strings.TrimSpace(name)))
}

// Display returns the form of name that is stored for display.
func Display(name string) string {
	return strings.TrimSpace(name)
}

// Validate checks name (before or after Normalize) against the naming rules:
// 1 to MaxLength characters of letters, digits, hyphen or underscore.
// Dots are reserved for the extension suffix.
func Validate(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "name is required")
	}
	if !utf8.ValidString(name) {
		return dErrors.New(dErrors.CodeInvalidInput, "name must be valid UTF-8")
	}
	if utf8.RuneCountInString(name) > MaxLength {
		return dErrors.New(dErrors.CodeInvalidInput, "name must be 64 characters or less")
	}
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_':
		default:
			return dErrors.New(dErrors.CodeInvalidInput, "name may only contain letters, digits, hyphens and underscores")
		}
	}
	return nil
}

// Equal reports whether a and b are the same name.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
