package tagging

import (
	"fmt"
	"strings"

	"github.com/poiesic/civicrag/core"
)

const systemPromptTemplate = `You analyze text from the political and civic context of Indore, Madhya Pradesh, India.
The text may be in Hindi, English, or a mix of both. Extract structured tags and return them as JSON.

Output ONLY valid JSON with exactly these keys. Do not include any preamble, explanation, or markdown.
{
  "category": "political|governance|legal",
  "issues": [],
  "cohorts": [],
  "actors": ["politician names", "organizations"],
  "frame": "",
  "sentiment": {"polarity": "positive|neutral|negative", "score": 0.0},
  "leadership_polarity": {"polarity": "positive|neutral|negative", "score": 0.0, "reasoning": "brief explanation"},
  "actionability": ["press_release", "field_visit", "policy_fix"],
  "relevance": 0.0
}

Rules:
- "category" must be exactly one of: political, governance, legal.
- "issues" may only contain: %s.
- "cohorts" may only contain: %s.
- "frame" must be one of: %s.
- Every score and "relevance" is a number from 0.0 to 1.0.
- Use empty lists when nothing applies. Do not invent values outside the lists above.
- The JSON must parse without errors; no trailing commas and no text outside the object.`

// SystemPrompt returns the instruction sent with every chunk. It embeds the
// issue, cohort and frame vocabularies.
func SystemPrompt() string {
	return fmt.Sprintf(systemPromptTemplate,
		strings.Join(core.IssueTags, ", "),
		strings.Join(core.CohortTags, ", "),
		strings.Join(core.FrameTags, ", "),
	)
}

// RepairMessage builds the user message for the single repair attempt: the
// original text, why the previous answer was rejected, and that answer.
func RepairMessage(text string, failure ParseFailure) string {
	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n\n---\nYour previous answer was rejected: ")
	b.WriteString(failure.Reason)
	b.WriteString("\nPrevious answer:\n")
	b.WriteString(failure.Raw)
	b.WriteString("\n\nReturn the corrected JSON object only.")
	return b.String()
}
