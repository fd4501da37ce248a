package sources

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/poiesic/civicrag/core"
)

type seedFile struct {
	Sources []seedEntry `toml:"source"`
}

type seedEntry struct {
	Type  string `toml:"type"`
	URL   string `toml:"url"`
	Title string `toml:"title"`
}

// LoadSeeds reads a TOML seed list:
//
//	[[source]]
//	type = "media"
//	url = "https://example.org/indore/ward-12"
//	title = "Ward 12 water supply"
//
// Entries with the same external ID and type are kept once.
func LoadSeeds(path string) ([]Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSeeds(data)
}

// ParseSeeds parses the contents of a seed list.
func ParseSeeds(data []byte) ([]Target, error) {
	var file seedFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSeed, err)
	}

	seen := make(map[core.SourceKey]bool, len(file.Sources))
	targets := make([]Target, 0, len(file.Sources))
	for i, entry := range file.Sources {
		typ, err := core.ParseSourceType(entry.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %w", ErrInvalidSeed, i+1, err)
		}
		if entry.URL == "" {
			return nil, fmt.Errorf("%w: entry %d: url is required", ErrInvalidSeed, i+1)
		}
		target, err := NewTarget(typ, entry.URL, entry.Title)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %w", ErrInvalidSeed, i+1, err)
		}
		if seen[target.Key()] {
			continue
		}
		seen[target.Key()] = true
		targets = append(targets, target)
	}
	return targets, nil
}

// GroupByType splits targets by source type, keeping their order.
func GroupByType(targets []Target) map[core.SourceType][]Target {
	groups := make(map[core.SourceType][]Target)
	for _, t := range targets {
		groups[t.Type] = append(groups[t.Type], t)
	}
	return groups
}
