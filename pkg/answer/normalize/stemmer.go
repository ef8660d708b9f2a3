package normalize

import "strings"

// Suffixes are tried longest first. Romanian inflections dominate the list,
// followed by the handful of English endings seen in recipe questions.
var suffixes = []string{
	"urilor", "ilor", "elor", "ului", "iesc", "eaza", "este",
	"esc", "eze", "ati", "iti", "tor", "uri", "ing", "lor", "ez",
	"ul", "ii", "le", "ea", "ed", "es",
	"s", "e", "a", "i",
}

const minStemLength = 3

// Stem strips inflection suffixes repeatedly until none applies or the stem
// would become shorter than three letters.
func Stem(word string) string {
	for {
		stripped := false
		for _, suf := range suffixes {
			if len(word)-len(suf) >= minStemLength && strings.HasSuffix(word, suf) {
				word = word[:len(word)-len(suf)]
				stripped = true
				break
			}
		}
		if !stripped {
			return word
		}
	}
}

// StemPhrase stems every word of a cleaned phrase
func StemPhrase(phrase string) string {
	words := strings.Fields(phrase)
	for i, w := range words {
		words[i] = Stem(w)
	}
	return strings.Join(words, " ")
}
