package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/civicrag/ai"
	"github.com/poiesic/civicrag/archive"
	"github.com/poiesic/civicrag/chunking"
	"github.com/poiesic/civicrag/core"
	"github.com/poiesic/civicrag/dedup"
	"github.com/poiesic/civicrag/metrics"
	"github.com/poiesic/civicrag/normalize"
	"github.com/poiesic/civicrag/progress"
	"github.com/poiesic/civicrag/retry"
	"github.com/poiesic/civicrag/sources"
	"github.com/poiesic/civicrag/storage"
	"github.com/poiesic/civicrag/tagging"
)

// Pipeline orchestrates ingestion runs: discovery, fetching, normalization,
// deduplication, chunking, enrichment and persistence of sources.
type Pipeline struct {
	gateway    storage.Gateway
	index      *dedup.Index
	registry   *sources.Registry
	normalizer *normalize.Normalizer
	chunker    *chunking.Chunker
	archive    archive.Archive
	metrics    *metrics.Metrics
	pool       *ants.Pool
	policy     retry.Policy
	tagProc    processor
	embedProc  processor
	locks      *keyLocks

	poolSize         int
	chunkWorkers     int
	progressWriter   io.Writer
	progressInterval int
	logger           *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the number of sources processed concurrently.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		p.poolSize = max(size, 1)
		return nil
	}
}

// WithChunkWorkers bounds the chunks of one source tagged and embedded at once.
// Default is 4.
func WithChunkWorkers(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			n = 1
		}
		p.chunkWorkers = n
		return nil
	}
}

// WithChunker sets the chunker. Default uses chunking.DefaultConfig().
func WithChunker(c *chunking.Chunker) Option {
	return func(p *Pipeline) error {
		if c != nil {
			p.chunker = c
		}
		return nil
	}
}

// WithNormalizer sets the content normalizer.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(p *Pipeline) error {
		if n != nil {
			p.normalizer = n
		}
		return nil
	}
}

// WithArchive stores raw payloads before chunking. Default is archive.Discard.
func WithArchive(a archive.Archive) Option {
	return func(p *Pipeline) error {
		if a == nil {
			a = archive.Discard{}
		}
		p.archive = a
		return nil
	}
}

// WithMetrics records run, source, chunk and retry counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) error {
		p.metrics = m
		return nil
	}
}

// WithRetryPolicy sets the retry policy for fetches, embeddings and writes.
// Default is retry.DefaultPolicy().
func WithRetryPolicy(policy retry.Policy) Option {
	return func(p *Pipeline) error {
		if policy.MaxAttempts <= 0 {
			return retry.ErrInvalidMaxAttempts
		}
		p.policy = policy
		return nil
	}
}

// WithProgress reports scheduled and completed sources to w every interval sources.
func WithProgress(w io.Writer, interval int) Option {
	return func(p *Pipeline) error {
		p.progressWriter = w
		p.progressInterval = interval
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(
	gateway storage.Gateway,
	index *dedup.Index,
	tagger *tagging.Tagger,
	embedder ai.Embedder,
	registry *sources.Registry,
	opts ...Option,
) (*Pipeline, error) {
	if gateway == nil {
		return nil, ErrGatewayRequired
	}
	if index == nil {
		return nil, ErrIndexRequired
	}
	if tagger == nil {
		return nil, ErrTaggerRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if registry == nil {
		return nil, ErrRegistryRequired
	}

	chunker, err := chunking.New(chunking.DefaultConfig())
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		gateway:          gateway,
		index:            index,
		registry:         registry,
		normalizer:       normalize.New(),
		chunker:          chunker,
		archive:          archive.Discard{},
		poolSize:         max(runtime.NumCPU()/2, 1),
		policy:           retry.DefaultPolicy(),
		locks:            newKeyLocks(),
		chunkWorkers:     4,
		progressInterval: 10,
		logger:           slog.Default(),
	}

	// Apply options (may override defaults)
	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	p.logger = p.logger.With("component", "ingestion")

	pool, err := ants.NewPool(p.poolSize, ants.WithLogger(antsLogger{p.logger}))
	if err != nil {
		return nil, err
	}
	p.pool = pool

	// Create processors after options are applied (so they get final config)
	tagProc, err := newTaggingProcessor(tagger)
	if err != nil {
		p.Release()
		return nil, err
	}
	embedProc, err := newEmbeddingProcessor(embedder, p.policyFor("embed"), p.logger)
	if err != nil {
		p.Release()
		return nil, err
	}
	p.tagProc = tagProc
	p.embedProc = embedProc

	return p, nil
}

// RunRequest selects what one run ingests.
type RunRequest struct {
	// SourceTypes filters the adapters to run. Empty means every registered type.
	SourceTypes []core.SourceType

	// Limit caps the number of sources scheduled. Zero means unlimited.
	// Sources skipped as duplicates count toward the limit.
	Limit int

	// EmbeddingsEnabled turns on vector generation for new chunks.
	EmbeddingsEnabled bool

	// URL, when set, ingests exactly this page and nothing else.
	URL string

	// URLType is the source type of URL. Default is media.
	URLType core.SourceType
}

// work is one scheduled target and the adapter that fetches it.
type work struct {
	adapter sources.Adapter
	target  sources.Target
}

// run holds the state shared by the sources of one Run call.
type run struct {
	id       string
	summary  *Summary
	stages   []processor
	tracker  *progress.Tracker
	haltOnce sync.Once
	haltErr  error
	halted   chan struct{}
}

func (r *run) halt(err error) {
	r.haltOnce.Do(func() {
		r.haltErr = err
		close(r.halted)
	})
}

func (r *run) isHalted() bool {
	select {
	case <-r.halted:
		return true
	default:
		return false
	}
}

// Run executes one ingestion run and returns its summary.
//
// Cancelling ctx stops scheduling; sources already in flight are finished and
// the summary is returned with Interrupted set and a nil error. If the store
// goes away mid-run, scheduling stops and the summary so far is returned with
// an error wrapping ErrRunHalted and storage.ErrStorageClosed.
func (p *Pipeline) Run(ctx context.Context, req RunRequest) (*Summary, error) {
	summary := newSummary(uuid.NewString())
	logger := p.logger.With("run_id", summary.RunID)

	queue, err := p.discover(ctx, req, summary)
	if err != nil {
		return nil, err
	}
	logger.Info("ingestion run started", "targets", len(queue), "limit", req.Limit, "embeddings", req.EmbeddingsEnabled)

	r := &run{
		id:      summary.RunID,
		summary: summary,
		stages:  p.stages(req.EmbeddingsEnabled),
		tracker: progress.NewTracker(p.progressWriter, 0, p.progressInterval, "sources"),
		halted:  make(chan struct{}),
	}
	r.tracker.Start()

	// In-flight sources must reach a terminal state even if ctx is cancelled.
	detached := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	var submitErr error
schedule:
	for _, w := range queue {
		switch {
		case ctx.Err() != nil:
			summary.interrupted()
			logger.Info("run cancelled, no further sources scheduled", "scheduled", summary.scheduledCount())
			break schedule
		case r.isHalted():
			break schedule
		case req.Limit > 0 && summary.scheduledCount() >= req.Limit:
			logger.Debug("source limit reached", "limit", req.Limit)
			break schedule
		}

		summary.scheduled()
		r.tracker.AddTotal(1)
		wg.Add(1)
		if err := p.pool.Submit(func() {
			defer wg.Done()
			p.processSource(detached, r, w)
		}); err != nil {
			wg.Done()
			submitErr = fmt.Errorf("schedule %s: %w", w.target.Key(), err)
			break schedule
		}
	}
	wg.Wait()

	r.tracker.Finish()
	summary.finish()
	p.metrics.ObserveRun(summary.Duration())
	logger.Info("ingestion run finished",
		"persisted", summary.Persisted,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"chunks", summary.Chunks,
		"duration", summary.Duration())

	if r.haltErr != nil {
		return summary, fmt.Errorf("%w: %w", ErrRunHalted, r.haltErr)
	}
	if submitErr != nil {
		return summary, submitErr
	}
	return summary, nil
}

// discover builds the ordered work list for req.
func (p *Pipeline) discover(ctx context.Context, req RunRequest, summary *Summary) ([]work, error) {
	if req.URL != "" {
		typ := req.URLType
		if typ == "" {
			typ = core.SourceTypeMedia
		}
		adapter, err := p.registry.Get(typ)
		if err != nil {
			return nil, err
		}
		target, err := sources.NewTarget(typ, req.URL, "")
		if err != nil {
			return nil, err
		}
		return []work{{adapter: adapter, target: target}}, nil
	}

	types, err := p.registry.Select(req.SourceTypes)
	if err != nil {
		return nil, err
	}

	var out []work
	for _, typ := range types {
		adapter, err := p.registry.Get(typ)
		if err != nil {
			return nil, err
		}
		targets, err := adapter.Discover(ctx)
		if err != nil {
			p.logger.Warn("source discovery failed", "type", typ, "err", err)
			summary.adapterFailed(typ, err)
			continue
		}
		p.logger.Debug("sources discovered", "type", typ, "targets", len(targets))
		for _, t := range targets {
			out = append(out, work{adapter: adapter, target: t})
		}
	}
	return out, nil
}

func (p *Pipeline) stages(embeddings bool) []processor {
	if embeddings {
		return []processor{p.tagProc, p.embedProc}
	}
	return []processor{p.tagProc, skipEmbeddings{}}
}

// policyFor returns the retry policy with the metrics retry hook for op.
func (p *Pipeline) policyFor(op string) retry.Policy {
	policy := p.policy
	next := policy.OnRetry
	policy.OnRetry = func(attempt int, err error) {
		p.metrics.ObserveRetry(op)
		if next != nil {
			next(attempt, err)
		}
	}
	return policy
}

// Release releases resources including the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// antsLogger routes pool messages to slog.
type antsLogger struct {
	logger *slog.Logger
}

func (l antsLogger) Printf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...), "source", "ants")
}

// isHardStop reports whether err means the store is gone for good.
func isHardStop(err error) bool {
	return errors.Is(err, storage.ErrStorageClosed)
}

func now() time.Time {
	return time.Now().UTC()
}
