package chunking

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/civicrag/core"
	"github.com/rivo/uniseg"
)

// Chunker splits canonical text into segments. It holds no mutable state and is
// safe for concurrent use.
type Chunker struct {
	cfg    Config
	logger *slog.Logger
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chunker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Chunker for cfg.
func New(cfg Config, opts ...Option) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Chunker{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "chunker")
	return c, nil
}

// Config returns the chunker's configuration.
func (c *Chunker) Config() Config {
	return c.cfg
}

// span is a half-open byte range of the input text.
type span struct {
	start, end int
}

// Chunk splits text into segments. The same text always produces the same segments.
//
// Empty text, and text shorter than MinChars, produce no segments and no error.
// Invalid UTF-8 is rejected with core.ErrChunking.
func (c *Chunker) Chunk(text string) ([]core.Segment, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: text is not valid UTF-8", core.ErrChunking)
	}
	if text == "" || utf8.RuneCountInString(text) < c.cfg.MinChars {
		return nil, nil
	}

	var (
		segments []core.Segment
		start    int // byte offset of the current body
		end      int
		used     int // runes in the current body
		overlap  string
		budget   = c.cfg.TargetSize
	)

	emit := func() {
		segments = append(segments, core.Segment{
			Text:    overlap + text[start:end],
			Start:   start,
			End:     end,
			Overlap: utf8.RuneCountInString(overlap),
		})
		overlap = tailClusters(segments[len(segments)-1].Text, c.cfg.Overlap)
		start = end
		used = 0
		budget = max(c.cfg.TargetSize-utf8.RuneCountInString(overlap), 1)
	}

	for _, u := range sentences(text) {
		pos := u.start
		for pos < u.end {
			n := utf8.RuneCountInString(text[pos:u.end])
			if used+n <= budget {
				end = u.end
				used += n
				pos = u.end
				continue
			}
			if used > 0 {
				emit()
				continue
			}
			if n <= c.cfg.TargetSize {
				// The sentence fits a chunk of its own once the overlap gives way.
				overlap = fitTail(overlap, c.cfg.TargetSize-n)
				budget = c.cfg.TargetSize - utf8.RuneCountInString(overlap)
				continue
			}
			// The rest of this sentence is longer than a whole chunk.
			end = pos + cutClusters(text[pos:u.end], budget)
			pos = end
			emit()
		}
	}
	if end > start {
		emit()
	}

	c.logger.Debug("chunked text", "runes", utf8.RuneCountInString(text), "segments", len(segments))
	return segments, nil
}

// sentences partitions text into UAX #29 sentences. Whitespace-only sentences,
// such as the second newline of a paragraph break, are folded into the sentence
// before them so that no chunk starts with a blank line.
func sentences(text string) []span {
	var spans []span
	state := -1
	pos := 0
	rest := text
	for len(rest) > 0 {
		var sentence string
		sentence, rest, state = uniseg.FirstSentenceInString(rest, state)
		s := span{start: pos, end: pos + len(sentence)}
		pos = s.end
		if len(spans) > 0 && strings.TrimSpace(sentence) == "" {
			spans[len(spans)-1].end = s.end
			continue
		}
		spans = append(spans, s)
	}
	return spans
}

// cutClusters returns the byte length of the longest prefix of s made of whole
// grapheme clusters with at most maxRunes runes. At least one cluster is always taken.
func cutClusters(s string, maxRunes int) int {
	n, runes := 0, 0
	state := -1
	for len(s) > 0 {
		cluster, rest, _, newState := uniseg.FirstGraphemeClusterInString(s, state)
		r := utf8.RuneCountInString(cluster)
		if n > 0 && runes+r > maxRunes {
			break
		}
		n += len(cluster)
		runes += r
		s = rest
		state = newState
	}
	return n
}

// tailClusters returns the shortest suffix of s made of whole grapheme clusters
// that has at least minRunes runes, or all of s when it is shorter.
func tailClusters(s string, minRunes int) string {
	if minRunes <= 0 || s == "" {
		return ""
	}

	var bounds []int
	state := -1
	rest := s
	for pos := 0; len(rest) > 0; {
		bounds = append(bounds, pos)
		var cluster string
		cluster, rest, _, state = uniseg.FirstGraphemeClusterInString(rest, state)
		pos += len(cluster)
	}

	runes := 0
	for i := len(bounds) - 1; i >= 0; i-- {
		end := len(s)
		if i+1 < len(bounds) {
			end = bounds[i+1]
		}
		runes += utf8.RuneCountInString(s[bounds[i]:end])
		if runes >= minRunes {
			return s[bounds[i]:]
		}
	}
	return s
}

// fitTail returns the longest suffix of s made of whole grapheme clusters
// that has at most maxRunes runes.
func fitTail(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	state := -1
	runes := utf8.RuneCountInString(s)
	for len(s) > 0 && runes > maxRunes {
		var cluster string
		cluster, s, _, state = uniseg.FirstGraphemeClusterInString(s, state)
		runes -= utf8.RuneCountInString(cluster)
	}
	return s
}

// Reconstruct rebuilds the chunked text by dropping each segment's overlap prefix.
func Reconstruct(segments []core.Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		b.WriteString(seg.Text[overlapBytes(seg.Text, seg.Overlap):])
	}
	return b.String()
}

// Body returns the part of a chunk's text that does not repeat its predecessor.
func Body(text string, overlap int) string {
	return text[overlapBytes(text, overlap):]
}

func overlapBytes(s string, runes int) int {
	for i := range s {
		if runes == 0 {
			return i
		}
		runes--
	}
	return len(s)
}
