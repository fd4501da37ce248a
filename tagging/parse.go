package tagging

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/poiesic/civicrag/core"
)

// ParseResult is the outcome of interpreting a classifier answer.
// It is either ParsedMetadata or ParseFailure; callers switch on the concrete type.
type ParseResult interface {
	parseResult()
}

// ParsedMetadata is a classifier answer that passed validation.
type ParsedMetadata struct {
	Metadata core.TagMetadata
	// Dropped lists taxonomy values the model returned that are not in the vocabulary.
	Dropped []string
}

// FailureKind distinguishes answers that are not JSON from JSON that breaks the schema.
type FailureKind int

const (
	// FailureMalformed means the answer could not be decoded at all.
	FailureMalformed FailureKind = iota
	// FailureInvalid means the answer decoded but violates the tag schema.
	FailureInvalid
)

func (k FailureKind) String() string {
	if k == FailureInvalid {
		return "invalid"
	}
	return "malformed"
}

// ParseFailure is a classifier answer that could not be used.
type ParseFailure struct {
	Kind   FailureKind
	Reason string
	Raw    string
}

func (ParsedMetadata) parseResult() {}
func (ParseFailure) parseResult()   {}

func (f ParseFailure) Error() string {
	return fmt.Sprintf("%s classifier answer: %s", f.Kind, f.Reason)
}

// wireMetadata mirrors the JSON a model is asked to produce. Pointers tell a
// missing field from a zero value.
type wireMetadata struct {
	Category           *string        `json:"category"`
	Domain             *string        `json:"domain"` // older prompts used this name
	Issues             []string       `json:"issues"`
	Cohorts            []string       `json:"cohorts"`
	Actors             []string       `json:"actors"`
	Frame              string         `json:"frame"`
	Sentiment          *wireSentiment `json:"sentiment"`
	LeadershipPolarity *wireSentiment `json:"leadership_polarity"`
	Actionability      []string       `json:"actionability"`
	Relevance          *float64       `json:"relevance"`
}

type wireSentiment struct {
	Polarity  string   `json:"polarity"`
	Score     *float64 `json:"score"`
	Reasoning string   `json:"reasoning"`
}

// Parse interprets a raw classifier answer.
//
// Markdown fences and surrounding prose are stripped and common JSON mistakes
// are repaired before decoding. Issue, cohort and frame values outside the
// vocabulary are dropped. An unknown category or polarity, a missing polarity
// block, or a score outside [0, 1] is a FailureInvalid.
func Parse(raw string) ParseResult {
	body := repairJSON(stripFences(raw))
	if body == "" {
		return ParseFailure{Kind: FailureMalformed, Reason: "empty answer", Raw: raw}
	}

	var w wireMetadata
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return ParseFailure{Kind: FailureMalformed, Reason: err.Error(), Raw: raw}
	}

	invalid := func(format string, args ...any) ParseResult {
		return ParseFailure{Kind: FailureInvalid, Reason: fmt.Sprintf(format, args...), Raw: raw}
	}

	category := w.Category
	if category == nil {
		category = w.Domain
	}
	if category == nil {
		return invalid("category is required")
	}
	m := core.TagMetadata{Category: core.Category(token(*category))}
	if !m.Category.Valid() {
		return invalid("unknown category %q", *category)
	}

	sentiment, reason := polarity("sentiment", w.Sentiment)
	if reason != "" {
		return invalid("%s", reason)
	}
	m.Sentiment = core.Sentiment{Polarity: sentiment.Polarity, Score: sentiment.Score}

	leadership, reason := polarity("leadership_polarity", w.LeadershipPolarity)
	if reason != "" {
		return invalid("%s", reason)
	}
	m.LeadershipPolarity = leadership

	if w.Relevance != nil {
		if *w.Relevance < 0 || *w.Relevance > 1 {
			return invalid("relevance %v out of range [0, 1]", *w.Relevance)
		}
		m.Relevance = *w.Relevance
	}

	var dropped []string
	m.Issues, dropped = keepKnown(w.Issues, core.KnownIssue, dropped)
	m.Cohorts, dropped = keepKnown(w.Cohorts, core.KnownCohort, dropped)
	if f := token(w.Frame); f != "" {
		if core.KnownFrame(f) {
			m.Frame = f
		} else {
			dropped = append(dropped, w.Frame)
		}
	}
	m.Actors = cleanList(w.Actors)
	m.Actionability = cleanList(w.Actionability)
	m.Entities = []core.Entity{}
	m.Confidence = m.ComputeConfidence()

	return ParsedMetadata{Metadata: m, Dropped: dropped}
}

// polarity validates a polarity block. It returns a non-empty reason on failure.
func polarity(field string, w *wireSentiment) (core.LeadershipPolarity, string) {
	if w == nil {
		return core.LeadershipPolarity{}, field + " is required"
	}
	p := core.Polarity(token(w.Polarity))
	if !p.Valid() {
		return core.LeadershipPolarity{}, fmt.Sprintf("%s: unknown polarity %q", field, w.Polarity)
	}
	if w.Score == nil {
		return core.LeadershipPolarity{}, field + ": score is required"
	}
	if *w.Score < 0 || *w.Score > 1 {
		return core.LeadershipPolarity{}, fmt.Sprintf("%s: score %v out of range [0, 1]", field, *w.Score)
	}
	return core.LeadershipPolarity{Polarity: p, Score: *w.Score, Reasoning: strings.TrimSpace(w.Reasoning)}, ""
}

// token lower-cases a taxonomy value and joins words with underscores,
// so "Water Supply" matches "water_supply".
func token(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}

func keepKnown(values []string, known func(string) bool, dropped []string) ([]string, []string) {
	kept := make([]string, 0, len(values))
	for _, v := range values {
		t := token(v)
		switch {
		case t == "":
		case !known(t):
			dropped = append(dropped, v)
		case !slices.Contains(kept, t):
			kept = append(kept, t)
		}
	}
	return kept, dropped
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
