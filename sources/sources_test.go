package sources

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/civicrag/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	typ core.SourceType
}

func (s stubAdapter) Type() core.SourceType { return s.typ }

func (s stubAdapter) Discover(context.Context) ([]Target, error) { return nil, nil }

func (s stubAdapter) Fetch(context.Context, Target) (*RawRecord, error) { return nil, nil }

func TestCanonicalURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://Example.ORG/news/1/", "https://example.org/news/1"},
		{"https://example.org/news/1#comments", "https://example.org/news/1"},
		{"  http://example.org/  ", "http://example.org/"},
		{"https://example.org/a?b=1", "https://example.org/a?b=1"},
	}
	for _, tt := range tests {
		got, err := CanonicalURL(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"ftp://example.org/x", "not a url", "https://"} {
		_, err := CanonicalURL(bad)
		assert.ErrorIs(t, err, ErrInvalidURL, bad)
	}
}

func TestNewTarget(t *testing.T) {
	target, err := NewTarget(core.SourceTypeGovernment, "https://IMC.gov.in/notice/", "Notice")
	require.NoError(t, err)
	assert.Equal(t, "https://imc.gov.in/notice", target.ExternalID)
	assert.Equal(t, "https://IMC.gov.in/notice/", target.URL)
	assert.Equal(t, core.SourceKey{ExternalID: "https://imc.gov.in/notice", Type: core.SourceTypeGovernment}, target.Key())

	_, err = NewTarget("blog", "https://example.org", "")
	assert.ErrorIs(t, err, core.ErrInvalidSourceType)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(stubAdapter{core.SourceTypeSocial}, stubAdapter{core.SourceTypeGovernment})

	a, err := r.Get(core.SourceTypeSocial)
	require.NoError(t, err)
	assert.Equal(t, core.SourceTypeSocial, a.Type())

	_, err = r.Get(core.SourceTypeYouTube)
	assert.ErrorIs(t, err, ErrAdapterNotFound)

	assert.Equal(t, []core.SourceType{core.SourceTypeGovernment, core.SourceTypeSocial}, r.Types())

	selected, err := r.Select(nil)
	require.NoError(t, err)
	assert.Equal(t, r.Types(), selected)

	selected, err = r.Select([]core.SourceType{core.SourceTypeSocial, core.SourceTypeSocial})
	require.NoError(t, err)
	assert.Equal(t, []core.SourceType{core.SourceTypeSocial}, selected)

	_, err = r.Select([]core.SourceType{core.SourceTypeMedia})
	assert.ErrorIs(t, err, ErrAdapterNotFound)
}

const seedTOML = `
[[source]]
type = "media"
url = "https://example.org/indore/ward-12/"
title = "Ward 12 water supply"

[[source]]
type = "government"
url = "https://imc.gov.in/notices/42"

[[source]]
type = "media"
url = "https://EXAMPLE.org/indore/ward-12"
title = "duplicate"
`

func TestLoadSeeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seeds.toml")
	require.NoError(t, os.WriteFile(path, []byte(seedTOML), 0o644))

	targets, err := LoadSeeds(path)
	require.NoError(t, err)
	require.Len(t, targets, 2)

	assert.Equal(t, "https://example.org/indore/ward-12", targets[0].ExternalID)
	assert.Equal(t, "Ward 12 water supply", targets[0].Title)
	assert.Equal(t, core.SourceTypeGovernment, targets[1].Type)

	groups := GroupByType(targets)
	assert.Len(t, groups[core.SourceTypeMedia], 1)
	assert.Len(t, groups[core.SourceTypeGovernment], 1)
}

func TestParseSeeds_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown type": "[[source]]\ntype = \"blog\"\nurl = \"https://example.org\"\n",
		"missing url":  "[[source]]\ntype = \"media\"\n",
		"bad url":      "[[source]]\ntype = \"media\"\nurl = \"mailto:x@example.org\"\n",
		"bad toml":     "[[source]\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSeeds([]byte(data))
			assert.ErrorIs(t, err, ErrInvalidSeed)
		})
	}
}

func TestLoadSeeds_MissingFile(t *testing.T) {
	_, err := LoadSeeds(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
