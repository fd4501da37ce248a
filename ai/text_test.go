package ai

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "abc", TruncateRunes("abc", 5))
	assert.Equal(t, "ab", TruncateRunes("abc", 2))
	assert.Equal(t, "पा", TruncateRunes("पानी", 2))
	assert.Equal(t, "", TruncateRunes("abc", 0))
}

func TestPrepareInput(t *testing.T) {
	text, ok := PrepareInput("  Water supply restored.  ")
	assert.True(t, ok)
	assert.Equal(t, "Water supply restored.", text)

	_, ok = PrepareInput("  ok  ")
	assert.False(t, ok)

	text, ok = PrepareInput(strings.Repeat("जल", MaxInputRunes))
	assert.True(t, ok)
	assert.Equal(t, MaxInputRunes, utf8.RuneCountInString(text))
}
