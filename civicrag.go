// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package civicrag wires the configured store, AI provider, archive and
// source adapters into ingestion pipelines and embedding backfills.
package civicrag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/poiesic/civicrag/ai"
	"github.com/poiesic/civicrag/ai/gemini"
	"github.com/poiesic/civicrag/ai/openai"
	"github.com/poiesic/civicrag/archive"
	"github.com/poiesic/civicrag/chunking"
	"github.com/poiesic/civicrag/config"
	"github.com/poiesic/civicrag/core"
	"github.com/poiesic/civicrag/dedup"
	"github.com/poiesic/civicrag/ingestion"
	"github.com/poiesic/civicrag/metrics"
	"github.com/poiesic/civicrag/reembed"
	"github.com/poiesic/civicrag/sources"
	"github.com/poiesic/civicrag/sources/web"
	"github.com/poiesic/civicrag/storage"
	"github.com/poiesic/civicrag/storage/badger"
	"github.com/poiesic/civicrag/storage/postgres"
	"github.com/poiesic/civicrag/storage/sqlite"
	"github.com/poiesic/civicrag/tagging"
)

// ErrConfigRequired is returned by Open when no configuration is given.
var ErrConfigRequired = errors.New("config is required")

// Service owns every long-lived dependency of a run.
type Service struct {
	config   *config.Config
	store    storage.Gateway
	provider ai.AIProvider
	embedder ai.Embedder
	tagger   *tagging.Tagger
	index    *dedup.Index
	registry *sources.Registry
	archive  archive.Archive
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*options)

type options struct {
	store    storage.Gateway
	provider ai.AIProvider
	archive  archive.Archive
	seeds    []sources.Target
	adapters []sources.Adapter
	logger   *slog.Logger
}

// WithStore uses an already open store instead of opening the configured one.
// The service takes ownership and closes it.
func WithStore(store storage.Gateway) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithProvider uses the given AI provider instead of the configured one.
func WithProvider(provider ai.AIProvider) Option {
	return func(o *options) {
		o.provider = provider
	}
}

// WithArchive overrides the configured raw payload archive.
func WithArchive(a archive.Archive) Option {
	return func(o *options) {
		o.archive = a
	}
}

// WithSeeds sets the targets handed to the web adapters.
func WithSeeds(targets []sources.Target) Option {
	return func(o *options) {
		o.seeds = targets
	}
}

// WithAdapters registers adapters after the web adapters, replacing any of
// the same type.
func WithAdapters(adapters ...sources.Adapter) Option {
	return func(o *options) {
		o.adapters = append(o.adapters, adapters...)
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Open validates cfg and opens everything a run needs. On error, whatever was
// already opened is closed again.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, ErrConfigRequired
	}
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		config:  cfg,
		metrics: metrics.New(),
		logger:  o.logger,
	}

	s.store = o.store
	if s.store == nil {
		store, err := OpenStore(ctx, cfg, o.logger)
		if err != nil {
			return nil, err
		}
		s.store = store
	}

	s.provider = o.provider
	if s.provider == nil {
		provider, err := NewProvider(ctx, cfg)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.provider = provider
	}

	limiter := ai.NewLimiter(cfg.AIRequestsPerSecond, 1)
	classifier := s.provider.Classifier()
	s.embedder = s.provider.Embedder()
	if limiter != nil {
		classifier = ai.NewRateLimitedClassifier(classifier, limiter)
		s.embedder = ai.NewRateLimitedEmbedder(s.embedder, limiter)
	}

	policy := cfg.RetryPolicy()
	policy.OnRetry = func(int, error) {
		s.metrics.ObserveRetry("classify")
	}
	tagger, err := tagging.New(classifier,
		tagging.WithRetryPolicy(policy),
		tagging.WithLogger(o.logger),
	)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.tagger = tagger

	s.archive = o.archive
	if s.archive == nil {
		s.archive = archive.Discard{}
		if cfg.ArchiveEnabled() {
			s3, err := archive.NewS3(ctx, cfg.S3Config(), o.logger)
			if err != nil {
				s.Close()
				return nil, err
			}
			s.archive = s3
		}
	}

	s.index = dedup.New(dedup.WithLogger(o.logger))
	if err := s.index.Hydrate(ctx, s.store); err != nil {
		s.Close()
		return nil, fmt.Errorf("hydrating dedup index: %w", err)
	}

	s.registry = newRegistry(cfg, o)

	s.logger.Info("service opened",
		"component", "service",
		"store", cfg.Store,
		"provider", cfg.AIProvider,
		"archive", cfg.ArchiveEnabled(),
		"fingerprints", s.index.Len(),
		"sourceTypes", len(s.registry.Types()))
	return s, nil
}

func newRegistry(cfg *config.Config, o *options) *sources.Registry {
	grouped := sources.GroupByType(o.seeds)
	registry := sources.NewRegistry()
	for _, typ := range core.SourceTypes {
		registry.Register(web.New(typ, grouped[typ],
			web.WithDelay(cfg.ScrapeDelay),
			web.WithUserAgent(cfg.UserAgent),
			web.WithLogger(o.logger),
		))
	}
	for _, a := range o.adapters {
		registry.Register(a)
	}
	return registry
}

// OpenStore opens the store selected by cfg.Store and brings its schema up to date.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Gateway, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		store, err := sqlite.Open(ctx, cfg.DSN, sqlite.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StorePostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN(), postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	case config.StoreBadger:
		store, err := badger.Open(cfg.DSN, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// NewProvider creates the AI provider selected by cfg.AIProvider.
func NewProvider(ctx context.Context, cfg *config.Config) (ai.AIProvider, error) {
	aiConfig := cfg.AIConfig()
	switch strings.ToLower(aiConfig.Provider) {
	case ai.ProviderGemini:
		return gemini.NewProvider(ctx, aiConfig)
	default:
		return openai.NewProvider(aiConfig)
	}
}

// Close shuts the service down in reverse order of Open. The dedup index is
// released before the store.
func (s *Service) Close() error {
	var errs []error
	if s.provider != nil {
		if err := s.provider.Close(); err != nil {
			s.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	if s.index != nil {
		s.index.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("error closing store", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewPipeline creates an ingestion pipeline configured from the service
// settings. opts are applied after the defaults.
func (s *Service) NewPipeline(opts ...ingestion.Option) (*ingestion.Pipeline, error) {
	chunker, err := chunking.New(s.config.ChunkingConfig(), chunking.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	base := []ingestion.Option{
		ingestion.WithPoolSize(s.config.Workers),
		ingestion.WithChunkWorkers(s.config.ChunkWorkers),
		ingestion.WithChunker(chunker),
		ingestion.WithArchive(s.archive),
		ingestion.WithMetrics(s.metrics),
		ingestion.WithRetryPolicy(s.config.RetryPolicy()),
		ingestion.WithLogger(s.logger),
	}
	return ingestion.NewPipeline(s.store, s.index, s.tagger, s.embedder, s.registry, append(base, opts...)...)
}

// NewBackfiller creates an embedding backfill over the service store.
func (s *Service) NewBackfiller(cfg *reembed.Config, progress io.Writer) (*reembed.Backfiller, error) {
	return reembed.NewBackfiller(s.store, s.embedder, cfg, progress,
		reembed.WithMetrics(s.metrics),
		reembed.WithLogger(s.logger),
	)
}

// WriteMetrics exports the metrics to the configured textfile, if any.
func (s *Service) WriteMetrics() error {
	if s.config.MetricsFile == "" {
		return nil
	}
	return s.metrics.WriteTextfile(s.config.MetricsFile)
}

// Store returns the store.
func (s *Service) Store() storage.Gateway {
	return s.store
}

// Index returns the dedup index.
func (s *Service) Index() *dedup.Index {
	return s.index
}

// Registry returns the source adapter registry.
func (s *Service) Registry() *sources.Registry {
	return s.registry
}

// Metrics returns the run metrics.
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}
