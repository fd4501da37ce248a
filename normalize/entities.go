package normalize

import (
	"regexp"
	"slices"
	"strings"

	"github.com/poiesic/civicrag/core"
)

type entityPattern struct {
	kind core.EntityKind
	re   *regexp.Regexp
}

// Regex entity patterns for the Indore civic domain. Devanagari patterns avoid \b,
// which only understands ASCII word characters.
var entityPatterns = []entityPattern{
	{core.EntityPerson, regexp.MustCompile(`\b[A-Z][a-z]+ [A-Z][a-z]+(?: [A-Z][a-z]+)?\b`)},
	{core.EntityPerson, regexp.MustCompile(`(?:श्रीमती|श्री|डॉ\.?)\s*\p{Devanagari}+(?: \p{Devanagari}+)?`)},
	{core.EntityOrganization, regexp.MustCompile(`(?i)\b(?:nagar nigam|collectorate|police)\b`)},
	{core.EntityOrganization, regexp.MustCompile(`नगर निगम|कलेक्ट्रेट|पुलिस`)},
	{core.EntityLocation, regexp.MustCompile(`(?i)\bward\s*\d+\b`)},
	{core.EntityLocation, regexp.MustCompile(`वार्ड\s*\d+`)},
}

// ExtractEntities finds people, organizations and wards mentioned in text.
// Results are de-duplicated and ordered by first appearance.
func ExtractEntities(text string) []core.Entity {
	type hit struct {
		entity core.Entity
		pos    int
	}
	seen := make(map[core.Entity]bool)
	var hits []hit
	for _, p := range entityPatterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			e := core.Entity{Text: strings.TrimSpace(text[loc[0]:loc[1]]), Kind: p.kind}
			if e.Text == "" || seen[e] {
				continue
			}
			seen[e] = true
			hits = append(hits, hit{entity: e, pos: loc[0]})
		}
	}

	slices.SortStableFunc(hits, func(a, b hit) int {
		return a.pos - b.pos
	})

	entities := make([]core.Entity, len(hits))
	for i, h := range hits {
		entities[i] = h.entity
	}
	return entities
}
