package ai

import (
	"strings"
	"unicode/utf8"
)

const (
	// MaxInputRunes is the longest text sent to an embedding model.
	MaxInputRunes = 10000

	// MinInputRunes is the shortest text worth embedding.
	MinInputRunes = 10
)

// PrepareInput trims text and cuts it to MaxInputRunes. It reports false when
// what remains is shorter than MinInputRunes.
func PrepareInput(text string) (string, bool) {
	text = TruncateRunes(strings.TrimSpace(text), MaxInputRunes)
	return text, utf8.RuneCountInString(text) >= MinInputRunes
}

// TruncateRunes cuts s to at most n runes.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
