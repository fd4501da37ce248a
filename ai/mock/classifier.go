package mock

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"sync"
)

// MockClassifier is a test double for ai.Classifier.
// It allows custom behavior injection via function fields and is safe for
// concurrent use once the function field is set.
type MockClassifier struct {
	// ClassifyFunc is called by Classify if set.
	// If nil, answers with well-formed tag JSON derived from keywords in the text.
	ClassifyFunc func(ctx context.Context, systemPrompt, text string) (string, error)

	mu        sync.Mutex
	callCount int
	prompts   []string
}

// NewMockClassifier creates a mock classifier with default keyword behavior.
func NewMockClassifier() *MockClassifier {
	return &MockClassifier{}
}

// Classify returns the injected answer, or a keyword-based default.
func (m *MockClassifier) Classify(ctx context.Context, systemPrompt, text string) (string, error) {
	m.mu.Lock()
	m.callCount++
	m.prompts = append(m.prompts, systemPrompt)
	fn := m.ClassifyFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, systemPrompt, text)
	}
	return KeywordAnswer(text), nil
}

// CallCount returns the number of times Classify was called.
func (m *MockClassifier) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Prompts returns the system prompts received, in call order.
func (m *MockClassifier) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Reset clears the call history and any injected behavior.
func (m *MockClassifier) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.prompts = nil
	m.ClassifyFunc = nil
}

// keywordIssues maps a lower-cased keyword to the issue tag it implies.
var keywordIssues = [][2]string{
	{"water", "water_supply"},
	{"पानी", "water_supply"},
	{"road", "road_damage"},
	{"सड़क", "road_damage"},
	{"school", "school_infrastructure"},
	{"hospital", "healthcare"},
}

// KeywordAnswer builds a valid classifier answer for text: governance category,
// issues picked from a small keyword table, neutral polarity.
func KeywordAnswer(text string) string {
	lower := strings.ToLower(text)
	issues := []string{}
	for _, kv := range keywordIssues {
		if strings.Contains(lower, kv[0]) && !slices.Contains(issues, kv[1]) {
			issues = append(issues, kv[1])
		}
	}

	answer := map[string]any{
		"category": "governance",
		"issues":   issues,
		"cohorts":  []string{},
		"actors":   []string{},
		"frame":    "service_delivery",
		"sentiment": map[string]any{
			"polarity": "neutral",
			"score":    0.5,
		},
		"leadership_polarity": map[string]any{
			"polarity":  "neutral",
			"score":     0.5,
			"reasoning": "mock",
		},
		"actionability": []string{},
		"relevance":     0.7,
	}
	b, _ := json.Marshal(answer)
	return string(b)
}
