package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Clean lower-cases s, strips diacritics, turns every non-alphanumeric rune
// into a separator and collapses runs of separators into single spaces.
// "Cât timp durează rețeta?" becomes "cat timp dureaza reteta".
func Clean(s string) string {
	if s == "" {
		return ""
	}
	// Transformers carry state, so each call builds its own chain.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, folded)
	return strings.Join(strings.Fields(mapped), " ")
}

// Words returns the cleaned words of s
func Words(s string) []string {
	return strings.Fields(Clean(s))
}

// containsPhrase reports the byte offset of phrase inside text when it occurs
// on word boundaries, or -1. Both arguments must already be cleaned.
func containsPhrase(text, phrase string) int {
	if phrase == "" {
		return -1
	}
	padded := " " + text + " "
	idx := strings.Index(padded, " "+phrase+" ")
	if idx < 0 {
		return -1
	}
	return idx
}

// ContainsPhrase reports whether the cleaned phrase occurs in the cleaned text
// on word boundaries.
func ContainsPhrase(text, phrase string) bool {
	return containsPhrase(text, phrase) >= 0
}
