package badger

import (
	"testing"
	"time"

	"github.com/poiesic/civicrag/core"
	"github.com/poiesic/civicrag/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wardSource() *core.Source {
	text := "इंदौर के वार्ड 12 में पानी की आपूर्ति बाधित है।"
	return &core.Source{
		ID:          core.NewSourceID(),
		ExternalID:  "https://imc.gov.in/notices/water",
		Type:        core.SourceTypeGovernment,
		Title:       "Water supply notice",
		Text:        text,
		Fingerprint: core.FingerprintOf(text),
		FetchedAt:   time.Date(2025, 3, 1, 10, 0, 0, 123456789, time.UTC),
		Status:      core.SourceStatusProcessed,
		Domain:      "imc.gov.in",
		Language:    "hi",
		Layer:       1,
		TrustScore:  0.9,
		Geo:         core.Geo{Country: "IN", State: "Madhya Pradesh", District: "Indore", Ward: "12"},
		RawURI:      "s3://civicrag-raw/government/water.html",
		CreatedAt:   time.Date(2025, 2, 1, 8, 30, 0, 0, time.UTC),
	}
}

func TestSourceRecord_SurvivesEncoding(t *testing.T) {
	src := wardSource()

	rec, err := unmarshalSource(marshalSource(newSourceRecord(src)))
	require.NoError(t, err)
	got, err := rec.source()
	require.NoError(t, err)

	assert.Equal(t, src.Key(), rec.key())
	assert.Equal(t, src.Geo, got.Geo)
	assert.Equal(t, src.Fingerprint, got.Fingerprint)
	assert.Equal(t, src.TrustScore, got.TrustScore)
	assert.Equal(t, src.Text, got.Text)
	assert.Equal(t, src.FetchedAt.Truncate(time.Microsecond), got.FetchedAt, "times keep microsecond precision")
	assert.True(t, got.UpdatedAt.IsZero(), "unset times stay unset")
	assert.Equal(t, src.CreatedAt, got.CreatedAt)
}

func TestSourceRecord_TruncatedValue(t *testing.T) {
	data := marshalSource(newSourceRecord(wardSource()))

	_, err := unmarshalSource(data[:len(data)/2])
	assert.ErrorIs(t, err, storage.ErrSerializationFailed)
}

func TestSourceRecord_BadFingerprint(t *testing.T) {
	rec := newSourceRecord(wardSource())
	rec.Fingerprint = "not-hex"

	_, err := rec.source()
	assert.ErrorIs(t, err, storage.ErrSerializationFailed)
}

func TestChunkRecord_SurvivesEncoding(t *testing.T) {
	chunk := &core.Chunk{
		Seq:     2,
		Text:    "पानी की आपूर्ति तीन दिन से बाधित है।",
		CharLen: 36,
		Overlap: 4,
		Tags: core.TagMetadata{
			Category:  core.CategoryGovernance,
			Issues:    []string{"water"},
			Relevance: 0.8,
		},
		Embedding:   []float32{0.25, -0.5, 1},
		TagStatus:   core.TagStatusTagged,
		EmbedStatus: core.EmbedStatusEmbedded,
	}

	rec, err := newChunkRecord("source-1", chunk)
	require.NoError(t, err)
	decoded, err := unmarshalChunk(marshalChunk(rec))
	require.NoError(t, err)
	got, err := decoded.chunk()
	require.NoError(t, err)

	assert.Equal(t, "source-1", got.SourceID)
	assert.Equal(t, chunk.Seq, got.Seq)
	assert.Equal(t, chunk.Overlap, got.Overlap)
	assert.Equal(t, chunk.Tags.Category, got.Tags.Category)
	assert.Equal(t, chunk.Tags.Issues, got.Tags.Issues)
	assert.Equal(t, chunk.Embedding, got.Embedding)
	assert.Equal(t, chunk.TagStatus, got.TagStatus)
	assert.Equal(t, chunk.EmbedStatus, got.EmbedStatus)
}

func TestChunkRecord_NoEmbedding(t *testing.T) {
	rec, err := newChunkRecord("source-1", &core.Chunk{
		Text:        "short",
		TagStatus:   core.TagStatusDefault,
		EmbedStatus: core.EmbedStatusSkipped,
	})
	require.NoError(t, err)

	decoded, err := unmarshalChunk(marshalChunk(rec))
	require.NoError(t, err)
	got, err := decoded.chunk()
	require.NoError(t, err)
	assert.Nil(t, got.Embedding)
}

func TestLogRecord_Size(t *testing.T) {
	rec := &LogRecord{
		RunID:      "run-1",
		ExternalID: "https://news.example.in/story-1",
		Type:       string(core.SourceTypeMedia),
		Outcome:    string(core.OutcomeSkipped),
		RecordedAt: micros(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)),
	}
	data := marshalLog(rec)
	assert.Len(t, data, LogRecordMUS.Size(*rec))

	got, n, err := LogRecordMUS.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, *rec, got)
}
