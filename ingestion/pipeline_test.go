package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/civicrag/ai/mock"
	"github.com/poiesic/civicrag/chunking"
	"github.com/poiesic/civicrag/core"
	"github.com/poiesic/civicrag/dedup"
	"github.com/poiesic/civicrag/metrics"
	"github.com/poiesic/civicrag/retry"
	"github.com/poiesic/civicrag/sources"
	"github.com/poiesic/civicrag/storage"
	badgerstore "github.com/poiesic/civicrag/storage/badger"
	"github.com/poiesic/civicrag/tagging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testAdapter implements sources.Adapter for testing.
type testAdapter struct {
	typ         core.SourceType
	targets     []sources.Target
	pages       map[string]string // external ID -> text
	discoverErr error
	fetchErr    map[string]error
	fetchedAt   time.Time
	onFetch     func(target sources.Target)
	fetches     atomic.Int32
}

func newTestAdapter(typ core.SourceType) *testAdapter {
	return &testAdapter{
		typ:       typ,
		pages:     make(map[string]string),
		fetchErr:  make(map[string]error),
		fetchedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func (a *testAdapter) add(t *testing.T, rawURL, text string) sources.Target {
	t.Helper()
	target, err := sources.NewTarget(a.typ, rawURL, "")
	require.NoError(t, err)
	a.targets = append(a.targets, target)
	a.pages[target.ExternalID] = text
	return target
}

func (a *testAdapter) Type() core.SourceType { return a.typ }

func (a *testAdapter) Discover(context.Context) ([]sources.Target, error) {
	if a.discoverErr != nil {
		return nil, a.discoverErr
	}
	return a.targets, nil
}

func (a *testAdapter) Fetch(_ context.Context, target sources.Target) (*sources.RawRecord, error) {
	a.fetches.Add(1)
	if a.onFetch != nil {
		a.onFetch(target)
	}
	if err := a.fetchErr[target.ExternalID]; err != nil {
		return nil, err
	}
	text, ok := a.pages[target.ExternalID]
	if !ok {
		return nil, sources.FetchError(target, errors.New("404 not found"))
	}
	return &sources.RawRecord{
		Target:      target,
		Title:       "Title of " + target.ExternalID,
		Text:        text,
		Payload:     []byte("<html>" + text + "</html>"),
		ContentType: "text/html",
		FetchedAt:   a.fetchedAt,
	}, nil
}

// recordingArchive implements archive.Archive for testing.
type recordingArchive struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (r *recordingArchive) Put(_ context.Context, key, _ string, _ []byte) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	return "mem://" + key, nil
}

// failingGateway replaces Upsert of a real gateway with a fixed error.
type failingGateway struct {
	storage.Gateway
	upsertErr error
	upserts   atomic.Int32
}

func (g *failingGateway) Upsert(context.Context, *core.Source, []*core.Chunk) (string, error) {
	g.upserts.Add(1)
	return "", g.upsertErr
}

type testEnv struct {
	store      *badgerstore.Store
	index      *dedup.Index
	embedder   *mock.MockEmbedder
	classifier *mock.MockClassifier
	registry   *sources.Registry
}

func noSleepPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		Sleep:       func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	}
}

func newTestEnv(t *testing.T, adapters ...sources.Adapter) *testEnv {
	t.Helper()
	store, err := badgerstore.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return &testEnv{
		store:      store,
		index:      dedup.New(),
		embedder:   mock.NewMockEmbedder(),
		classifier: mock.NewMockClassifier(),
		registry:   sources.NewRegistry(adapters...),
	}
}

func (e *testEnv) pipeline(t *testing.T, gateway storage.Gateway, opts ...Option) *Pipeline {
	t.Helper()
	if gateway == nil {
		gateway = e.store
	}
	tagger, err := tagging.New(e.classifier, tagging.WithRetryPolicy(noSleepPolicy()))
	require.NoError(t, err)

	opts = append([]Option{WithRetryPolicy(noSleepPolicy()), WithPoolSize(2)}, opts...)
	p, err := NewPipeline(gateway, e.index, tagger, e.embedder, e.registry, opts...)
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return p
}

const (
	waterText = "Ward 12 residents reported that the water supply has been irregular for two weeks. " +
		"The municipal corporation said repairs to the main pipeline will finish by Friday."
	roadText = "The road near the bus stand in Indore is badly damaged after the monsoon rains. " +
		"Shopkeepers say the potholes have caused several accidents this month."
	schoolText = "Parents demanded new classrooms at the government school because the old building leaks. " +
		"The district education officer promised an inspection next week."
)

func TestNewPipeline_RequiresDependencies(t *testing.T) {
	env := newTestEnv(t)
	tagger, err := tagging.New(env.classifier)
	require.NoError(t, err)

	_, err = NewPipeline(nil, env.index, tagger, env.embedder, env.registry)
	assert.ErrorIs(t, err, ErrGatewayRequired)

	_, err = NewPipeline(env.store, nil, tagger, env.embedder, env.registry)
	assert.ErrorIs(t, err, ErrIndexRequired)

	_, err = NewPipeline(env.store, env.index, nil, env.embedder, env.registry)
	assert.ErrorIs(t, err, ErrTaggerRequired)

	_, err = NewPipeline(env.store, env.index, tagger, nil, env.registry)
	assert.ErrorIs(t, err, ErrEmbedderRequired)

	_, err = NewPipeline(env.store, env.index, tagger, env.embedder, nil)
	assert.ErrorIs(t, err, ErrRegistryRequired)

	_, err = NewPipeline(env.store, env.index, tagger, env.embedder, env.registry,
		WithRetryPolicy(retry.Policy{}))
	assert.ErrorIs(t, err, retry.ErrInvalidMaxAttempts)
}

func TestRun_PersistsSources(t *testing.T) {
	ctx := context.Background()
	gov := newTestAdapter(core.SourceTypeGovernment)
	water := gov.add(t, "https://imc.gov.in/notices/water", waterText)
	gov.add(t, "https://imc.gov.in/notices/road", roadText)

	env := newTestEnv(t, gov)
	m := metrics.New()
	p := env.pipeline(t, nil, WithMetrics(m))

	summary, err := p.Run(ctx, RunRequest{EmbeddingsEnabled: true})
	require.NoError(t, err)

	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 2, summary.Scheduled)
	assert.Equal(t, 2, summary.Persisted)
	assert.Zero(t, summary.Skipped)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, summary.Chunks, summary.Embedded)
	assert.False(t, summary.FinishedAt.Before(summary.StartedAt))
	assert.Equal(t, 2, env.index.Len())

	source, err := env.store.GetSource(ctx, water.Key())
	require.NoError(t, err)
	assert.Equal(t, core.SourceStatusProcessed, source.Status)
	assert.Equal(t, "imc.gov.in", source.Domain)
	assert.Equal(t, "en", source.Language)
	assert.Equal(t, "Title of "+water.ExternalID, source.Title)
	assert.Equal(t, "Ward12", source.Geo.Ward)
	assert.Equal(t, core.FingerprintOf(waterText), source.Fingerprint)

	chunks, err := env.store.GetChunks(ctx, source.ID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.Equal(t, i, c.Seq)
		assert.Equal(t, core.TagStatusTagged, c.TagStatus)
		assert.Equal(t, core.EmbedStatusEmbedded, c.EmbedStatus)
		assert.Len(t, c.Embedding, mock.Dimension)
	}
	assert.Contains(t, chunks[0].Tags.Issues, "water_supply")

	assert.Equal(t, 2.0, counterValue(t, m, "civicrag_sources_total", "outcome", "persisted"))
	assert.Equal(t, float64(summary.Chunks), counterValue(t, m, "civicrag_chunks_tagged_total", "status", "tagged"))
}

// counterValue reads one labelled counter from the metrics registry.
func counterValue(t *testing.T, m *metrics.Metrics, name, label, value string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestRun_UnchangedSourceIsSkipped(t *testing.T) {
	ctx := context.Background()
	gov := newTestAdapter(core.SourceTypeGovernment)
	water := gov.add(t, "https://imc.gov.in/notices/water", waterText)

	env := newTestEnv(t, gov)
	p := env.pipeline(t, nil)

	first, err := p.Run(ctx, RunRequest{EmbeddingsEnabled: true})
	require.NoError(t, err)
	require.Equal(t, 1, first.Persisted)
	before, err := env.store.GetSource(ctx, water.Key())
	require.NoError(t, err)
	classifierCalls := env.classifier.CallCount()
	embedderCalls := env.embedder.CallCount()

	gov.fetchedAt = gov.fetchedAt.Add(24 * time.Hour)
	second, err := p.Run(ctx, RunRequest{EmbeddingsEnabled: true})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Skipped)
	assert.Zero(t, second.Persisted)
	assert.NotEqual(t, first.RunID, second.RunID)

	assert.Equal(t, classifierCalls, env.classifier.CallCount(), "unchanged content must not be re-tagged")
	assert.Equal(t, embedderCalls, env.embedder.CallCount(), "unchanged content must not be re-embedded")

	after, err := env.store.GetSource(ctx, water.Key())
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID)
	assert.True(t, after.FetchedAt.Equal(gov.fetchedAt), "fetch time should be refreshed")
}

func TestRun_ColdIndexStillRefreshesFetchTime(t *testing.T) {
	ctx := context.Background()
	gov := newTestAdapter(core.SourceTypeGovernment)
	water := gov.add(t, "https://imc.gov.in/notices/water", waterText)

	env := newTestEnv(t, gov)
	first, err := env.pipeline(t, nil).Run(ctx, RunRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, first.Persisted)

	// A fresh index knows nothing the store holds.
	env.index = dedup.New()
	gov.fetchedAt = gov.fetchedAt.Add(24 * time.Hour)
	second, err := env.pipeline(t, nil).Run(ctx, RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Skipped)
	assert.Zero(t, second.Persisted)

	after, err := env.store.GetSource(ctx, water.Key())
	require.NoError(t, err)
	assert.True(t, after.FetchedAt.Equal(time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)),
		"fetch time should be refreshed, got %s", after.FetchedAt)
}

func TestRun_ChangedContentReplacesChunks(t *testing.T) {
	ctx := context.Background()
	gov := newTestAdapter(core.SourceTypeGovernment)
	water := gov.add(t, "https://imc.gov.in/notices/water", waterText)

	env := newTestEnv(t, gov)
	p := env.pipeline(t, nil)

	_, err := p.Run(ctx, RunRequest{})
	require.NoError(t, err)
	before, err := env.store.GetSource(ctx, water.Key())
	require.NoError(t, err)

	gov.pages[water.ExternalID] = roadText
	summary, err := p.Run(ctx, RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Persisted)

	after, err := env.store.GetSource(ctx, water.Key())
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID, "source identity is stable across content changes")
	assert.Equal(t, core.FingerprintOf(roadText), after.Fingerprint)

	chunks, err := env.store.GetChunks(ctx, after.ID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Contains(t, chunks[0].Text, "bus stand")

	exists, err := env.store.FingerprintExists(ctx, core.FingerprintOf(waterText))
	require.NoError(t, err)
	assert.False(t, exists, "old fingerprint should be gone")
}

func TestRun_CrossSourceDuplicateIsSkipped(t *testing.T) {
	ctx := context.Background()
	media := newTestAdapter(core.SourceTypeMedia)
	media.add(t, "https://news.example.in/story-1", waterText)
	media.add(t, "https://mirror.example.in/story-1", waterText)

	env := newTestEnv(t, media)
	p := env.pipeline(t, nil)

	summary, err := p.Run(ctx, RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Persisted)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, env.index.Len())
}

func TestRun_StaleIndexEntryFallsThrough(t *testing.T) {
	ctx := context.Background()
	gov := newTestAdapter(core.SourceTypeGovernment)
	water := gov.add(t, "https://imc.gov.in/notices/water", waterText)

	env := newTestEnv(t, gov)
	env.index.Record(core.FingerprintOf(waterText), "deleted-source")
	p := env.pipeline(t, nil)

	summary, err := p.Run(ctx, RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Persisted)

	source, err := env.store.GetSource(ctx, water.Key())
	require.NoError(t, err)
	id, ok := env.index.Lookup(core.FingerprintOf(waterText))
	require.True(t, ok)
	assert.Equal(t, source.ID, id)
}

func TestRun_TagAndEmbedFailuresDegradeChunks(t *testing.T) {
	ctx := context.Background()
	gov := newTestAdapter(core.SourceTypeGovernment)
	water := gov.add(t, "https://imc.gov.in/notices/water", waterText)

	env := newTestEnv(t, gov)
	env.classifier.ClassifyFunc = func(context.Context, string, string) (string, error) {
		return "", errors.New("quota exceeded")
	}
	env.embedder.EmbedTextFunc = func(context.Context, string) ([]float32, error) {
		return nil, errors.New("model unavailable")
	}
	p := env.pipeline(t, nil)

	summary, err := p.Run(ctx, RunRequest{EmbeddingsEnabled: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Persisted, "degraded chunks never fail a source")
	assert.Equal(t, summary.Chunks, summary.TagDefaulted)
	assert.Equal(t, summary.Chunks, summary.EmbedFailed)
	assert.Zero(t, summary.Embedded)

	source, err := env.store.GetSource(ctx, water.Key())
	require.NoError(t, err)
	chunks, err := env.store.GetChunks(ctx, source.ID)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.Equal(t, core.TagStatusDefault, c.TagStatus)
		assert.Equal(t, core.CategoryGovernance, c.Tags.Category)
		assert.Equal(t, core.EmbedStatusFailed, c.EmbedStatus)
		assert.Nil(t, c.Embedding)
	}
	assert.Contains(t, chunks[0].Tags.Entities, core.Entity{Text: "Ward 12", Kind: core.EntityLocation})
}

func TestRun_SkipEmbeddings(t *testing.T) {
	ctx := context.Background()
	gov := newTestAdapter(core.SourceTypeGovernment)
	gov.add(t, "https://imc.gov.in/notices/water", waterText)

	env := newTestEnv(t, gov)
	p := env.pipeline(t, nil)

	summary, err := p.Run(ctx, RunRequest{EmbeddingsEnabled: false})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Persisted)
	assert.Equal(t, summary.Chunks, summary.EmbedSkipped)
	assert.Zero(t, env.embedder.CallCount())

	missing, err := env.store.ChunksMissingEmbeddings(ctx, storage.ChunkCursor{}, 100)
	require.NoError(t, err)
	assert.Len(t, missing, summary.Chunks, "skipped chunks are left for the backfill")
}

func TestRun_MultipleChunksKeepOrder(t *testing.T) {
	ctx := context.Background()
	gov := newTestAdapter(core.SourceTypeGovernment)
	text := strings.Repeat(waterText+" "+roadText+" "+schoolText+"\n\n", 4)
	target := gov.add(t, "https://imc.gov.in/notices/all", text)

	env := newTestEnv(t, gov)
	chunker, err := chunking.New(chunking.NewConfig(chunking.WithTargetSize(200), chunking.WithOverlap(20)))
	require.NoError(t, err)
	p := env.pipeline(t, nil, WithChunker(chunker), WithChunkWorkers(3))

	summary, err := p.Run(ctx, RunRequest{EmbeddingsEnabled: true})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Persisted)
	assert.Greater(t, summary.Chunks, 3)

	source, err := env.store.GetSource(ctx, target.Key())
	require.NoError(t, err)
	chunks, err := env.store.GetChunks(ctx, source.ID)
	require.NoError(t, err)
	require.Len(t, chunks, summary.Chunks)

	segments, err := chunker.Chunk(source.Text)
	require.NoError(t, err)
	for i, c := range chunks {
		assert.Equal(t, i, c.Seq)
		assert.Equal(t, segments[i].Text, c.Text)
		assert.Equal(t, mock.DeterministicVector(strings.TrimSpace(c.Text), mock.Dimension), c.Embedding)
	}
}

func TestRun_FetchFailureMarksSourceFailed(t *testing.T) {
	ctx := context.Background()
	gov := newTestAdapter(core.SourceTypeGovernment)
	water := gov.add(t, "https://imc.gov.in/notices/water", waterText)

	env := newTestEnv(t, gov)
	p := env.pipeline(t, nil)

	_, err := p.Run(ctx, RunRequest{})
	require.NoError(t, err)

	gov.fetchErr[water.ExternalID] = errors.New("connection reset")
	before := gov.fetches.Load()
	summary, err := p.Run(ctx, RunRequest{})
	require.NoError(t, err, "source failures are not run failures")
	assert.Equal(t, 1, summary.Failed)
	assert.EqualValues(t, 2, gov.fetches.Load()-before, "fetch is retried")
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "fetch", summary.Failures[0].Reason)
	assert.ErrorIs(t, summary.Failures[0].Err, core.ErrFetch)

	source, err := env.store.GetSource(ctx, water.Key())
	require.NoError(t, err)
	assert.Equal(t, core.SourceStatusFailed, source.Status)
	assert.Contains(t, source.LastError, "connection reset")
}

func TestRun_EmptyContentFails(t *testing.T) {
	ctx := context.Background()
	gov := newTestAdapter(core.SourceTypeGovernment)
	blank := gov.add(t, "https://imc.gov.in/notices/blank", " \n\u200b\t ")

	env := newTestEnv(t, gov)
	p := env.pipeline(t, nil)

	summary, err := p.Run(ctx, RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, "empty_content", summary.Failures[0].Reason)

	_, err = env.store.GetSource(ctx, blank.Key())
	assert.ErrorIs(t, err, storage.ErrNotFound, "a new source that fails leaves nothing behind")
}

func TestRun_NoChunksFails(t *testing.T) {
	ctx := context.Background()
	gov := newTestAdapter(core.SourceTypeGovernment)
	gov.add(t, "https://imc.gov.in/notices/water", waterText)

	env := newTestEnv(t, gov)
	chunker, err := chunking.New(chunking.NewConfig(chunking.WithMinChars(10000)))
	require.NoError(t, err)
	p := env.pipeline(t, nil, WithChunker(chunker))

	summary, err := p.Run(ctx, RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, "chunking", summary.Failures[0].Reason)
	assert.Zero(t, env.classifier.CallCount())
}

func TestRun_PersistenceFailureLeavesNoPartialState(t *testing.T) {
	ctx := context.Background()
	gov := newTestAdapter(core.SourceTypeGovernment)
	water := gov.add(t, "https://imc.gov.in/notices/water", waterText)

	env := newTestEnv(t, gov)
	gateway := &failingGateway{
		Gateway:   env.store,
		upsertErr: storage.PersistenceError("upsert", errors.New("disk full")),
	}
	p := env.pipeline(t, gateway)

	summary, err := p.Run(ctx, RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, "persistence", summary.Failures[0].Reason)
	assert.EqualValues(t, 2, gateway.upserts.Load(), "transient write errors are retried")
	assert.False(t, env.index.Seen(core.FingerprintOf(waterText)))

	_, err = env.store.GetSource(ctx, water.Key())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRun_StorageClosedHaltsRun(t *testing.T) {
	ctx := context.Background()
	gov := newTestAdapter(core.SourceTypeGovernment)
	for i := range 6 {
		gov.add(t, fmt.Sprintf("https://imc.gov.in/notices/%d", i), fmt.Sprintf("%s Notice %d.", waterText, i))
	}

	env := newTestEnv(t, gov)
	gateway := &failingGateway{
		Gateway:   env.store,
		upsertErr: storage.PersistenceError("upsert", storage.ErrStorageClosed),
	}
	p := env.pipeline(t, gateway, WithPoolSize(1))

	summary, err := p.Run(ctx, RunRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunHalted)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	require.NotNil(t, summary, "the summary so far is returned with the error")
	assert.Less(t, summary.Scheduled, 6)
	assert.Equal(t, summary.Scheduled, summary.Failed)
	assert.EqualValues(t, summary.Scheduled, gateway.upserts.Load(), "hard stops are not retried")
}

func TestRun_CancellationFinishesInFlightSources(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gov := newTestAdapter(core.SourceTypeGovernment)
	for i := range 6 {
		gov.add(t, fmt.Sprintf("https://imc.gov.in/notices/%d", i), fmt.Sprintf("%s Notice %d.", waterText, i))
	}
	gov.onFetch = func(sources.Target) { cancel() }

	env := newTestEnv(t, gov)
	p := env.pipeline(t, nil, WithPoolSize(1))

	summary, err := p.Run(ctx, RunRequest{EmbeddingsEnabled: true})
	require.NoError(t, err)
	assert.True(t, summary.Interrupted)
	assert.Less(t, summary.Scheduled, 6)
	assert.Equal(t, summary.Scheduled, summary.Persisted, "in-flight sources are completed")
	assert.Zero(t, summary.TagFailed)
	assert.Equal(t, summary.Chunks, summary.Embedded)
}

func TestRun_LimitCountsScheduledSources(t *testing.T) {
	ctx := context.Background()
	gov := newTestAdapter(core.SourceTypeGovernment)
	for i := range 5 {
		gov.add(t, fmt.Sprintf("https://imc.gov.in/notices/%d", i), fmt.Sprintf("%s Notice %d.", waterText, i))
	}

	env := newTestEnv(t, gov)
	p := env.pipeline(t, nil)

	summary, err := p.Run(ctx, RunRequest{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Scheduled)
	assert.Equal(t, 2, summary.Persisted)
	assert.EqualValues(t, 2, gov.fetches.Load())

	// Unchanged sources still use up the limit.
	summary, err = p.Run(ctx, RunRequest{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Skipped)
	assert.Zero(t, summary.Persisted)
}

func TestRun_SourceTypeFilter(t *testing.T) {
	ctx := context.Background()
	gov := newTestAdapter(core.SourceTypeGovernment)
	gov.add(t, "https://imc.gov.in/notices/water", waterText)
	media := newTestAdapter(core.SourceTypeMedia)
	media.add(t, "https://news.example.in/road", roadText)

	env := newTestEnv(t, gov, media)
	p := env.pipeline(t, nil)

	summary, err := p.Run(ctx, RunRequest{SourceTypes: []core.SourceType{core.SourceTypeMedia}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Persisted)
	assert.Zero(t, gov.fetches.Load())
	assert.EqualValues(t, 1, media.fetches.Load())

	_, err = p.Run(ctx, RunRequest{SourceTypes: []core.SourceType{core.SourceTypeYouTube}})
	assert.ErrorIs(t, err, sources.ErrAdapterNotFound)
}

func TestRun_DiscoveryErrorIsRecorded(t *testing.T) {
	ctx := context.Background()
	gov := newTestAdapter(core.SourceTypeGovernment)
	gov.discoverErr = errors.New("sitemap unavailable")
	media := newTestAdapter(core.SourceTypeMedia)
	media.add(t, "https://news.example.in/road", roadText)

	env := newTestEnv(t, gov, media)
	p := env.pipeline(t, nil)

	summary, err := p.Run(ctx, RunRequest{})
	require.NoError(t, err)
	require.Len(t, summary.AdapterErrors, 1)
	assert.Equal(t, core.SourceTypeGovernment, summary.AdapterErrors[0].Type)
	assert.Equal(t, 1, summary.Persisted)
}

func TestRun_URLMode(t *testing.T) {
	ctx := context.Background()
	media := newTestAdapter(core.SourceTypeMedia)
	media.add(t, "https://news.example.in/other", schoolText)
	media.pages["https://news.example.in/road"] = roadText

	env := newTestEnv(t, media)
	p := env.pipeline(t, nil)

	summary, err := p.Run(ctx, RunRequest{URL: "https://News.Example.in/road/"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Scheduled)
	assert.Equal(t, 1, summary.Persisted)

	_, err = env.store.GetSource(ctx, core.SourceKey{ExternalID: "https://news.example.in/road", Type: core.SourceTypeMedia})
	assert.NoError(t, err)

	_, err = p.Run(ctx, RunRequest{URL: "https://imc.gov.in/x", URLType: core.SourceTypeGovernment})
	assert.ErrorIs(t, err, sources.ErrAdapterNotFound)

	_, err = p.Run(ctx, RunRequest{URL: "ftp://news.example.in/x"})
	assert.ErrorIs(t, err, sources.ErrInvalidURL)
}

func TestRun_ArchivesRawPayload(t *testing.T) {
	ctx := context.Background()
	gov := newTestAdapter(core.SourceTypeGovernment)
	water := gov.add(t, "https://imc.gov.in/notices/water", waterText)

	env := newTestEnv(t, gov)
	arch := &recordingArchive{}
	p := env.pipeline(t, nil, WithArchive(arch))

	_, err := p.Run(ctx, RunRequest{})
	require.NoError(t, err)

	wantKey := "raw/government/" + core.FingerprintOf(waterText).String()
	assert.Equal(t, []string{wantKey}, arch.keys)
	source, err := env.store.GetSource(ctx, water.Key())
	require.NoError(t, err)
	assert.Equal(t, "mem://"+wantKey, source.RawURI)
}

func TestRun_ArchiveFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	gov := newTestAdapter(core.SourceTypeGovernment)
	water := gov.add(t, "https://imc.gov.in/notices/water", waterText)

	env := newTestEnv(t, gov)
	p := env.pipeline(t, nil, WithArchive(&recordingArchive{err: errors.New("access denied")}))

	summary, err := p.Run(ctx, RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Persisted)

	source, err := env.store.GetSource(ctx, water.Key())
	require.NoError(t, err)
	assert.Empty(t, source.RawURI)
}

func TestRun_ReportsProgress(t *testing.T) {
	ctx := context.Background()
	gov := newTestAdapter(core.SourceTypeGovernment)
	gov.add(t, "https://imc.gov.in/notices/water", waterText)
	gov.add(t, "https://imc.gov.in/notices/road", roadText)

	env := newTestEnv(t, gov)
	var buf bytes.Buffer
	p := env.pipeline(t, nil, WithProgress(&buf, 1), WithPoolSize(1))

	_, err := p.Run(ctx, RunRequest{})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "2/2 sources")
}

func TestIsHardStop(t *testing.T) {
	assert.True(t, isHardStop(storage.PersistenceError("upsert", storage.ErrStorageClosed)))
	assert.False(t, isHardStop(storage.PersistenceError("upsert", errors.New("disk full"))))
	assert.False(t, isHardStop(nil))
}
