package normalize

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/poiesic/civicrag/core"
	"golang.org/x/text/unicode/norm"
)

// Normalizer turns extracted payload text into canonical text plus a fingerprint.
// It is stateless and safe for concurrent use.
type Normalizer struct {
	logger *slog.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Normalizer) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// New creates a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{logger: slog.Default()}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("component", "normalizer")
	return n
}

// Normalize produces the canonical form of raw and its fingerprint.
// Markup has already been removed by the source adapter; this only normalizes
// Unicode form, whitespace, and invisible characters.
// Returns core.ErrEmptyContent when nothing remains.
func (n *Normalizer) Normalize(raw string, sourceType core.SourceType) (string, core.Fingerprint, error) {
	if !sourceType.Valid() {
		return "", core.Fingerprint{}, fmt.Errorf("%w: %q", core.ErrInvalidSourceType, sourceType)
	}

	text := Canonicalize(raw)
	if text == "" {
		n.logger.Debug("payload empty after normalization", "type", sourceType, "raw_bytes", len(raw))
		return "", core.Fingerprint{}, core.ErrEmptyContent
	}
	return text, core.FingerprintOf(text), nil
}

// Canonicalize applies the normalization rules to s:
// NFC composition, removal of zero-width and control characters,
// horizontal whitespace collapsed to single spaces, lines trimmed,
// and runs of blank lines collapsed to a single paragraph break.
// Canonicalize is idempotent.
func Canonicalize(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = norm.NFC.String(s)
	s = stripInvisible(s)
	s = collapseWhitespace(s)
	// Dropping joiners can leave new composable sequences behind.
	return norm.NFC.String(s)
}

func stripInvisible(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range runes {
		switch {
		case r == '\r':
			if i+1 < len(runes) && runes[i+1] == '\n' {
				continue
			}
			b.WriteRune('\n')
		case r == '\n':
			b.WriteRune('\n')
		case r == '\t' || isSpace(r):
			b.WriteRune(' ')
		case r == '\u200c' || r == '\u200d':
			// ZWNJ and ZWJ shape Devanagari conjuncts; anywhere else they are noise.
			if i > 0 && i+1 < len(runes) && isDevanagari(runes[i-1]) && isDevanagari(runes[i+1]) {
				b.WriteRune(r)
			}
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
			// Covers zero-width space, BOM, word joiner, soft hyphen and bidi marks.
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var b strings.Builder
	b.Grow(len(s))
	pendingBreak := ""
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if b.Len() > 0 {
				pendingBreak = "\n\n"
			}
			continue
		}
		if b.Len() > 0 {
			if pendingBreak == "" {
				pendingBreak = "\n"
			}
			b.WriteString(pendingBreak)
		}
		b.WriteString(line)
		pendingBreak = ""
	}
	return b.String()
}

func isSpace(r rune) bool {
	return r != '\n' && r != '\r' && (unicode.IsSpace(r) || unicode.Is(unicode.Zs, r))
}

func isDevanagari(r rune) bool {
	return unicode.Is(unicode.Devanagari, r)
}
