package normalize

import (
	"testing"

	"github.com/poiesic/civicrag/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/unicode/norm"
)

func TestNormalize_CollapsesWhitespace(t *testing.T) {
	n := New()

	text, fp, err := n.Normalize("  Ward 12   residents\t\tprotest  \r\n\r\n\r\n\nNagar Nigam   responds ", core.SourceTypeMedia)
	require.NoError(t, err)

	assert.Equal(t, "Ward 12 residents protest\n\nNagar Nigam responds", text)
	assert.Equal(t, core.FingerprintOf(text), fp)
}

func TestNormalize_KeepsSingleLineBreaks(t *testing.T) {
	text := Canonicalize("line one\nline two\n\n\n\nline three")
	assert.Equal(t, "line one\nline two\n\nline three", text)
}

func TestNormalize_StripsInvisibleCharacters(t *testing.T) {
	raw := "\ufeffpani\u200b ki\u00ad samasya\u0007 \u200e"
	assert.Equal(t, "pani ki samasya", Canonicalize(raw))
}

func TestNormalize_KeepsJoinersInsideDevanagari(t *testing.T) {
	// An explicit ZWJ between Devanagari letters keeps its half-form rendering.
	withJoiner := "क्\u200dष"
	assert.Equal(t, withJoiner, Canonicalize(withJoiner))

	// A joiner next to Latin text is noise.
	assert.Equal(t, "ab", Canonicalize("a\u200db"))
}

func TestNormalize_AppliesNFC(t *testing.T) {
	// Decomposed "é" (e + combining acute) composes to U+00E9.
	assert.Equal(t, "café", Canonicalize("cafe\u0301"))

	// Devanagari nukta sequences come out in NFC form.
	decomposed := "ड\u093c" // ड + nukta
	assert.Equal(t, norm.NFC.String(decomposed), Canonicalize(decomposed))
}

func TestNormalize_PreservesMixedScript(t *testing.T) {
	raw := "इंदौर नगर निगम ने Ward 5 में पानी की supply शुरू की।"
	assert.Equal(t, raw, Canonicalize(raw))
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"  a \u200b b\n\n\n c  ",
		"क्\u200dष \u200d x",
		"cafe\u0301\r\nline",
		"इंदौर   में\t\tबारिश",
	}
	for _, in := range inputs {
		once := Canonicalize(in)
		assert.Equal(t, once, Canonicalize(once), "input %q", in)
	}
}

func TestNormalize_EmptyContent(t *testing.T) {
	n := New()

	for _, raw := range []string{"", "   ", "\u200b\u200b", "\n\n\t\r\n"} {
		_, _, err := n.Normalize(raw, core.SourceTypeSocial)
		assert.ErrorIs(t, err, core.ErrEmptyContent, "input %q", raw)
	}
}

func TestNormalize_InvalidSourceType(t *testing.T) {
	_, _, err := New().Normalize("text", core.SourceType("radio"))
	assert.ErrorIs(t, err, core.ErrInvalidSourceType)
}

func TestNormalize_FingerprintStableAcrossWhitespaceNoise(t *testing.T) {
	n := New()

	_, fp1, err := n.Normalize("Road damage on AB Road", core.SourceTypeMedia)
	require.NoError(t, err)
	_, fp2, err := n.Normalize("  Road   damage on\tAB Road\u200b ", core.SourceTypeMedia)
	require.NoError(t, err)

	assert.Equal(t, fp1, fp2)
}
