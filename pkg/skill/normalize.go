// Package skill provides skill-name canonicalization utilities.
package skill

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Canonicalize maps a raw skill string to its canonical form: trimmed,
// whitespace collapsed to single spaces, each word Title-Cased.
//
// This is the one canonicalization contract for the whole pipeline. Every
// comparison site (similarity matching, dictionary upserts, the unique
// constraint on skills.canonical_name) uses this form, so two skills compare
// equal iff their canonical forms are byte-equal. Returns "" for empty or
// whitespace-only input. Idempotent: Canonicalize(Canonicalize(s)) == Canonicalize(s).
func Canonicalize(raw string) string {
	words := strings.Fields(strings.ToLower(raw))
	if len(words) == 0 {
		return ""
	}
	for i, w := range words {
		words[i] = capitalizeFirst(w)
	}
	return strings.Join(words, " ")
}

// DisplayName derives the human-facing name for a promoted skill from its
// representative mention text. The text is kept as written except that a
// short leading word (4 characters or fewer, typically an acronym like "sql"
// or "aws") gets its first letter capitalized.
func DisplayName(raw string) string {
	words := strings.Fields(raw)
	if len(words) == 0 {
		return ""
	}
	if utf8.RuneCountInString(words[0]) <= 4 {
		words[0] = capitalizeFirst(words[0])
	}
	return strings.Join(words, " ")
}

// capitalizeFirst upper-cases the first rune of w, leaving the rest intact.
func capitalizeFirst(w string) string {
	r, size := utf8.DecodeRuneInString(w)
	if r == utf8.RuneError {
		return w
	}
	return string(unicode.ToUpper(r)) + w[size:]
}
