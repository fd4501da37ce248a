package core

import "slices"

// Category is the top-level political classification of a chunk.
type Category string

const (
	CategoryPolitical  Category = "political"
	CategoryGovernance Category = "governance"
	CategoryLegal      Category = "legal"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == CategoryPolitical || c == CategoryGovernance || c == CategoryLegal
}

// Polarity is the direction of a sentiment or leadership reading.
type Polarity string

const (
	PolarityPositive Polarity = "positive"
	PolarityNegative Polarity = "negative"
	PolarityNeutral  Polarity = "neutral"
)

// Valid reports whether p is a known polarity.
func (p Polarity) Valid() bool {
	return p == PolarityPositive || p == PolarityNegative || p == PolarityNeutral
}

// Sentiment is the overall tone of a chunk.
type Sentiment struct {
	Polarity Polarity `json:"polarity"`
	Score    float64  `json:"score"`
}

// LeadershipPolarity is how a chunk portrays local leadership.
type LeadershipPolarity struct {
	Polarity  Polarity `json:"polarity"`
	Score     float64  `json:"score"`
	Reasoning string   `json:"reasoning"`
}

// EntityKind is the kind of a named entity.
type EntityKind string

const (
	EntityPerson       EntityKind = "PERSON"
	EntityOrganization EntityKind = "ORG"
	EntityLocation     EntityKind = "LOC"
)

// Entity is a named entity found in a chunk.
type Entity struct {
	Text string     `json:"text"`
	Kind EntityKind `json:"kind"`
}

// TagMetadata is the fixed tag schema attached to every chunk.
type TagMetadata struct {
	Category           Category           `json:"category"`
	Issues             []string           `json:"issues"`
	Cohorts            []string           `json:"cohorts"`
	Actors             []string           `json:"actors"`
	Frame              string             `json:"frame"`
	Sentiment          Sentiment          `json:"sentiment"`
	LeadershipPolarity LeadershipPolarity `json:"leadership_polarity"`
	Actionability      []string           `json:"actionability"`
	Relevance          float64            `json:"relevance"`
	Confidence         float64            `json:"confidence"`
	Entities           []Entity           `json:"entities"`
}

// Issue, cohort and frame vocabularies the classifier must choose from.
var (
	IssueTags = []string{
		"water_supply", "irrigation", "unemployment", "healthcare",
		"school_infrastructure", "road_damage", "electricity", "sanitation",
		"corruption", "law_and_order", "housing",
	}
	CohortTags = []string{
		"farmers", "labour", "students", "women", "smallholder",
		"tribal", "slum_residents", "teachers", "businessmen",
	}
	FrameTags = []string{
		"development", "neglect", "infrastructure", "corruption",
		"identity", "populism", "rights", "service_delivery",
	}
)

// DefaultTagMetadata returns the neutral metadata used when classification gives up.
func DefaultTagMetadata() TagMetadata {
	return TagMetadata{
		Category: CategoryGovernance,
		Issues:   []string{},
		Cohorts:  []string{},
		Actors:   []string{},
		Frame:    "service_delivery",
		Sentiment: Sentiment{
			Polarity: PolarityNeutral,
			Score:    0.5,
		},
		LeadershipPolarity: LeadershipPolarity{
			Polarity:  PolarityNeutral,
			Score:     0.5,
			Reasoning: "Unable to determine",
		},
		Actionability: []string{},
		Relevance:     0,
		Confidence:    0.3,
		Entities:      []Entity{},
	}
}

// ComputeConfidence derives a confidence score from how much signal the metadata carries:
// the mean of the two polarity scores plus 0.8 for each non-empty issue or cohort list.
func (m *TagMetadata) ComputeConfidence() float64 {
	scores := []float64{m.LeadershipPolarity.Score, m.Sentiment.Score}
	if len(m.Issues) > 0 {
		scores = append(scores, 0.8)
	}
	if len(m.Cohorts) > 0 {
		scores = append(scores, 0.8)
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

// KnownIssue reports whether tag is in the issue vocabulary.
func KnownIssue(tag string) bool { return slices.Contains(IssueTags, tag) }

// KnownCohort reports whether tag is in the cohort vocabulary.
func KnownCohort(tag string) bool { return slices.Contains(CohortTags, tag) }

// KnownFrame reports whether tag is in the frame vocabulary.
func KnownFrame(tag string) bool { return slices.Contains(FrameTags, tag) }
