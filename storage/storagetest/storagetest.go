// Package storagetest is a conformance suite for storage.Gateway implementations.
//
// Each backend runs it from its own tests:
//
//	func TestConformance(t *testing.T) {
//		storagetest.Run(t, func(t *testing.T) storage.Gateway { return openTestStore(t) })
//	}
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/civicrag/core"
	"github.com/poiesic/civicrag/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty, open gateway. The suite closes it.
type Factory func(t *testing.T) storage.Gateway

// Run runs every conformance test against gateways made by newGateway.
func Run(t *testing.T, newGateway Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, g storage.Gateway)
	}{
		{"UpsertInsertsSourceAndChunks", testUpsertInsert},
		{"UpsertReplacesChunkSet", testUpsertReplace},
		{"UpsertIsAtomicForExistingSource", testUpsertAtomicExisting},
		{"UpsertIsAtomicForNewSource", testUpsertAtomicNew},
		{"UpsertRejectsInvalidSource", testUpsertInvalid},
		{"Touch", testTouch},
		{"FingerprintExists", testFingerprintExists},
		{"MarkFailed", testMarkFailed},
		{"GetSourceNotFound", testGetSourceNotFound},
		{"ForEachFingerprint", testForEachFingerprint},
		{"LogIngestion", testLogIngestion},
		{"EmbeddingBackfill", testEmbeddingBackfill},
		{"UpdateChunkEmbeddingsMissingChunk", testUpdateMissingChunk},
		{"ConcurrentUpserts", testConcurrentUpserts},
		{"Closed", testClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGateway(t)
			t.Cleanup(func() { _ = g.Close() })
			tt.fn(t, g)
		})
	}
}

// NewSource returns a valid, unsaved source for text.
func NewSource(externalID string, typ core.SourceType, text string) *core.Source {
	return &core.Source{
		ExternalID:  externalID,
		Type:        typ,
		Title:       "title of " + externalID,
		Text:        text,
		Fingerprint: core.FingerprintOf(text),
		FetchedAt:   time.Now().UTC().Truncate(time.Millisecond),
		Domain:      "example.org",
		Language:    "mixed",
		Layer:       3,
		TrustScore:  0.7,
		Geo:         core.Geo{Country: "India", State: "Madhya Pradesh", District: "Indore", Ward: "12"},
	}
}

// NewChunks returns n valid chunks with seq 0..n-1.
func NewChunks(n int, prefix string) []*core.Chunk {
	chunks := make([]*core.Chunk, n)
	for i := range chunks {
		tags := core.DefaultTagMetadata()
		tags.Issues = []string{"water_supply"}
		text := fmt.Sprintf("%s वार्ड %d chunk", prefix, i)
		chunks[i] = &core.Chunk{
			Seq:         i,
			Text:        text,
			CharLen:     len([]rune(text)),
			Tags:        tags,
			TagStatus:   core.TagStatusTagged,
			EmbedStatus: core.EmbedStatusSkipped,
		}
	}
	return chunks
}

func ctx() context.Context {
	return context.Background()
}

func testUpsertInsert(t *testing.T, g storage.Gateway) {
	src := NewSource("https://example.org/news/1", core.SourceTypeMedia, "पहला लेख। First article.")
	chunks := NewChunks(3, "a")
	chunks[1].Overlap = 4
	chunks[2].Embedding = []float32{0.25, -0.5, 1}
	chunks[2].EmbedStatus = core.EmbedStatusEmbedded

	id, err := g.Upsert(ctx(), src, chunks)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, id, src.ID)
	assert.Equal(t, core.SourceStatusProcessed, src.Status)

	got, err := g.GetSource(ctx(), src.Key())
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, src.Title, got.Title)
	assert.Equal(t, src.Text, got.Text)
	assert.Equal(t, src.Fingerprint, got.Fingerprint)
	assert.Equal(t, core.SourceStatusProcessed, got.Status)
	assert.Equal(t, src.Domain, got.Domain)
	assert.Equal(t, src.Language, got.Language)
	assert.Equal(t, src.Layer, got.Layer)
	assert.InDelta(t, src.TrustScore, got.TrustScore, 1e-9)
	assert.Equal(t, src.Geo, got.Geo)
	assert.WithinDuration(t, src.FetchedAt, got.FetchedAt, time.Millisecond)
	assert.False(t, got.CreatedAt.IsZero())

	stored, err := g.GetChunks(ctx(), id)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for i, c := range stored {
		assert.Equal(t, i, c.Seq)
		assert.Equal(t, id, c.SourceID)
		assert.Equal(t, chunks[i].Text, c.Text)
		assert.Equal(t, chunks[i].CharLen, c.CharLen)
		assert.Equal(t, chunks[i].Overlap, c.Overlap)
		assert.Equal(t, chunks[i].Tags, c.Tags)
		assert.Equal(t, chunks[i].TagStatus, c.TagStatus)
		assert.Equal(t, chunks[i].EmbedStatus, c.EmbedStatus)
	}
	assert.Nil(t, stored[0].Embedding)
	assert.Equal(t, []float32{0.25, -0.5, 1}, stored[2].Embedding)
}

func testUpsertReplace(t *testing.T, g storage.Gateway) {
	src := NewSource("https://example.org/news/2", core.SourceTypeMedia, "old text")
	id, err := g.Upsert(ctx(), src, NewChunks(3, "old"))
	require.NoError(t, err)
	first, err := g.GetSource(ctx(), src.Key())
	require.NoError(t, err)

	changed := NewSource(src.ExternalID, src.Type, "new text")
	changed.Title = "updated title"
	newID, err := g.Upsert(ctx(), changed, NewChunks(2, "new"))
	require.NoError(t, err)
	assert.Equal(t, id, newID, "source ID must be stable across re-ingests")

	got, err := g.GetSource(ctx(), src.Key())
	require.NoError(t, err)
	assert.Equal(t, "new text", got.Text)
	assert.Equal(t, "updated title", got.Title)
	assert.Equal(t, core.FingerprintOf("new text"), got.Fingerprint)
	assert.WithinDuration(t, first.CreatedAt, got.CreatedAt, time.Millisecond)

	stored, err := g.GetChunks(ctx(), id)
	require.NoError(t, err)
	require.Len(t, stored, 2, "no chunks of the old set may remain")
	for _, c := range stored {
		assert.Contains(t, c.Text, "new")
	}
}

func testUpsertAtomicExisting(t *testing.T, g storage.Gateway) {
	src := NewSource("https://example.org/news/3", core.SourceTypeGovernment, "prior text")
	id, err := g.Upsert(ctx(), src, NewChunks(2, "prior"))
	require.NoError(t, err)

	// The third chunk collides with the second, so the write fails partway through.
	broken := NewChunks(3, "broken")
	broken[2].Seq = 1
	changed := NewSource(src.ExternalID, src.Type, "replacement text")
	_, err = g.Upsert(ctx(), changed, broken)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrPersistence)

	got, err := g.GetSource(ctx(), src.Key())
	require.NoError(t, err)
	assert.Equal(t, "prior text", got.Text)
	assert.Equal(t, core.FingerprintOf("prior text"), got.Fingerprint)

	stored, err := g.GetChunks(ctx(), id)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	for _, c := range stored {
		assert.Contains(t, c.Text, "prior")
	}
}

func testUpsertAtomicNew(t *testing.T, g storage.Gateway) {
	src := NewSource("https://example.org/news/4", core.SourceTypeMedia, "text")
	broken := NewChunks(4, "broken")
	broken[3].Seq = 0

	_, err := g.Upsert(ctx(), src, broken)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrPersistence)

	_, err = g.GetSource(ctx(), src.Key())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	exists, err := g.FingerprintExists(ctx(), src.Fingerprint)
	require.NoError(t, err)
	assert.False(t, exists)
}

func testUpsertInvalid(t *testing.T, g storage.Gateway) {
	src := NewSource("", core.SourceTypeMedia, "text")
	_, err := g.Upsert(ctx(), src, NewChunks(1, "x"))
	assert.ErrorIs(t, err, core.ErrPersistence)
	assert.ErrorIs(t, err, core.ErrInvalidSource)

	src = NewSource("https://example.org/empty", core.SourceTypeMedia, "text")
	_, err = g.Upsert(ctx(), src, nil)
	assert.ErrorIs(t, err, core.ErrPersistence)
}

func testTouch(t *testing.T, g storage.Gateway) {
	src := NewSource("yt:abc123", core.SourceTypeYouTube, "transcript")
	_, err := g.Upsert(ctx(), src, NewChunks(1, "t"))
	require.NoError(t, err)

	later := src.FetchedAt.Add(time.Hour)
	touched, err := g.Touch(ctx(), src.Key(), src.Fingerprint, later)
	require.NoError(t, err)
	assert.True(t, touched)

	got, err := g.GetSource(ctx(), src.Key())
	require.NoError(t, err)
	assert.WithinDuration(t, later, got.FetchedAt, time.Millisecond)
	assert.Equal(t, "transcript", got.Text)

	touched, err = g.Touch(ctx(), src.Key(), core.FingerprintOf("different"), later)
	require.NoError(t, err)
	assert.False(t, touched)

	touched, err = g.Touch(ctx(), core.SourceKey{ExternalID: "yt:missing", Type: core.SourceTypeYouTube}, src.Fingerprint, later)
	require.NoError(t, err)
	assert.False(t, touched)

	// Same external ID under another type is a different source.
	touched, err = g.Touch(ctx(), core.SourceKey{ExternalID: src.ExternalID, Type: core.SourceTypeSocial}, src.Fingerprint, later)
	require.NoError(t, err)
	assert.False(t, touched)

	_, err = g.MarkFailed(ctx(), src.Key(), "fetch")
	require.NoError(t, err)
	touched, err = g.Touch(ctx(), src.Key(), src.Fingerprint, later)
	require.NoError(t, err)
	assert.False(t, touched, "failed sources must be reprocessed")
}

func testFingerprintExists(t *testing.T, g storage.Gateway) {
	src := NewSource("https://example.org/5", core.SourceTypeMedia, "shared text")
	exists, err := g.FingerprintExists(ctx(), src.Fingerprint)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = g.Upsert(ctx(), src, NewChunks(1, "s"))
	require.NoError(t, err)

	exists, err = g.FingerprintExists(ctx(), src.Fingerprint)
	require.NoError(t, err)
	assert.True(t, exists)
}

func testMarkFailed(t *testing.T, g storage.Gateway) {
	src := NewSource("https://example.org/6", core.SourceTypeMedia, "text six")
	id, err := g.Upsert(ctx(), src, NewChunks(2, "six"))
	require.NoError(t, err)

	marked, err := g.MarkFailed(ctx(), src.Key(), "persistence: connection reset")
	require.NoError(t, err)
	assert.True(t, marked)

	got, err := g.GetSource(ctx(), src.Key())
	require.NoError(t, err)
	assert.Equal(t, core.SourceStatusFailed, got.Status)
	assert.Equal(t, "persistence: connection reset", got.LastError)

	stored, err := g.GetChunks(ctx(), id)
	require.NoError(t, err)
	assert.Len(t, stored, 2, "sources are never hard-deleted")

	exists, err := g.FingerprintExists(ctx(), src.Fingerprint)
	require.NoError(t, err)
	assert.False(t, exists)

	marked, err = g.MarkFailed(ctx(), core.SourceKey{ExternalID: "missing", Type: core.SourceTypeMedia}, "fetch")
	require.NoError(t, err)
	assert.False(t, marked)

	// A successful re-ingest clears the failure.
	_, err = g.Upsert(ctx(), NewSource(src.ExternalID, src.Type, "text six"), NewChunks(1, "six"))
	require.NoError(t, err)
	got, err = g.GetSource(ctx(), src.Key())
	require.NoError(t, err)
	assert.Equal(t, core.SourceStatusProcessed, got.Status)
	assert.Empty(t, got.LastError)
}

func testGetSourceNotFound(t *testing.T, g storage.Gateway) {
	_, err := g.GetSource(ctx(), core.SourceKey{ExternalID: "nope", Type: core.SourceTypeMedia})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	chunks, err := g.GetChunks(ctx(), "no-such-source")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func testForEachFingerprint(t *testing.T, g storage.Gateway) {
	want := map[core.Fingerprint]string{}
	for i := range 4 {
		src := NewSource(fmt.Sprintf("https://example.org/fp/%d", i), core.SourceTypeMedia, fmt.Sprintf("text %d", i))
		id, err := g.Upsert(ctx(), src, NewChunks(1, "fp"))
		require.NoError(t, err)
		want[src.Fingerprint] = id
	}
	failed := NewSource("https://example.org/fp/failed", core.SourceTypeMedia, "failed text")
	_, err := g.Upsert(ctx(), failed, NewChunks(1, "fp"))
	require.NoError(t, err)
	_, err = g.MarkFailed(ctx(), failed.Key(), "x")
	require.NoError(t, err)

	got := map[core.Fingerprint]string{}
	err = g.ForEachFingerprint(ctx(), func(fp core.Fingerprint, id string) error {
		got[fp] = id
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	stop := errors.New("stop")
	calls := 0
	err = g.ForEachFingerprint(ctx(), func(core.Fingerprint, string) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func testLogIngestion(t *testing.T, g storage.Gateway) {
	for i, outcome := range []core.IngestOutcome{core.OutcomePersisted, core.OutcomeSkipped, core.OutcomeFailed} {
		err := g.LogIngestion(ctx(), &core.IngestionLog{
			RunID:      "run-1",
			Key:        core.SourceKey{ExternalID: fmt.Sprintf("https://example.org/log/%d", i), Type: core.SourceTypeMedia},
			Outcome:    outcome,
			Chunks:     i,
			Error:      "",
			RecordedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
	}
	// The same source may be logged more than once per run.
	err := g.LogIngestion(ctx(), &core.IngestionLog{
		RunID:      "run-1",
		Key:        core.SourceKey{ExternalID: "https://example.org/log/0", Type: core.SourceTypeMedia},
		Outcome:    core.OutcomeFailed,
		Error:      "fetch failed",
		RecordedAt: time.Now().UTC(),
	})
	assert.NoError(t, err)
}

func testEmbeddingBackfill(t *testing.T, g storage.Gateway) {
	var ids []string
	for i := range 3 {
		src := NewSource(fmt.Sprintf("https://example.org/emb/%d", i), core.SourceTypeMedia, fmt.Sprintf("emb %d", i))
		chunks := NewChunks(3, "emb")
		chunks[1].Embedding = []float32{1, 0}
		chunks[1].EmbedStatus = core.EmbedStatusEmbedded
		chunks[2].EmbedStatus = core.EmbedStatusFailed
		id, err := g.Upsert(ctx(), src, chunks)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// Six chunks lack vectors; page through them two at a time.
	var all []*core.Chunk
	cursor := storage.ChunkCursor{}
	for {
		page, err := g.ChunksMissingEmbeddings(ctx(), cursor, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		require.LessOrEqual(t, len(page), 2)
		for _, c := range page {
			assert.Nil(t, c.Embedding)
			assert.True(t, storage.CursorOf(c).After(cursor))
			cursor = storage.CursorOf(c)
		}
		all = append(all, page...)
	}
	require.Len(t, all, 6)

	for _, c := range all {
		c.Embedding = []float32{0.5, 0.5}
		c.EmbedStatus = core.EmbedStatusEmbedded
	}
	require.NoError(t, g.UpdateChunkEmbeddings(ctx(), all...))

	page, err := g.ChunksMissingEmbeddings(ctx(), storage.ChunkCursor{}, 10)
	require.NoError(t, err)
	assert.Empty(t, page)

	for _, id := range ids {
		stored, err := g.GetChunks(ctx(), id)
		require.NoError(t, err)
		for _, c := range stored {
			assert.Equal(t, core.EmbedStatusEmbedded, c.EmbedStatus)
			assert.Len(t, c.Embedding, 2)
			assert.NotEmpty(t, c.Text, "updating embeddings must keep chunk text")
		}
	}
}

func testUpdateMissingChunk(t *testing.T, g storage.Gateway) {
	err := g.UpdateChunkEmbeddings(ctx(), &core.Chunk{
		SourceID:    "no-such-source",
		Seq:         0,
		Embedding:   []float32{1},
		EmbedStatus: core.EmbedStatusEmbedded,
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testConcurrentUpserts(t *testing.T, g storage.Gateway) {
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Two writers per key exercise the same-source path too.
			src := NewSource(fmt.Sprintf("https://example.org/c/%d", i%8), core.SourceTypeSocial, fmt.Sprintf("post %d", i))
			if _, err := g.Upsert(ctx(), src, NewChunks(2, "c")); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	count := 0
	require.NoError(t, g.ForEachFingerprint(ctx(), func(core.Fingerprint, string) error {
		count++
		return nil
	}))
	assert.Equal(t, 8, count)
}

func testClosed(t *testing.T, g storage.Gateway) {
	require.NoError(t, g.Close())

	_, err := g.GetSource(ctx(), core.SourceKey{ExternalID: "x", Type: core.SourceTypeMedia})
	assert.ErrorIs(t, err, storage.ErrStorageClosed)

	_, err = g.Upsert(ctx(), NewSource("x", core.SourceTypeMedia, "x"), NewChunks(1, "x"))
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	assert.ErrorIs(t, err, core.ErrPersistence)

	_, err = g.Touch(ctx(), core.SourceKey{ExternalID: "x", Type: core.SourceTypeMedia}, core.FingerprintOf("x"), time.Now())
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}
