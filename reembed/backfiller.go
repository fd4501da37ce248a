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


package reembed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/civicrag/ai"
	"github.com/poiesic/civicrag/core"
	"github.com/poiesic/civicrag/metrics"
	"github.com/poiesic/civicrag/progress"
	"github.com/poiesic/civicrag/retry"
	"github.com/poiesic/civicrag/storage"
)

// Config holds configuration for the backfill operation.
type Config struct {
	// BatchSize is the number of chunks to embed in each batch
	BatchSize int

	// ReportInterval is how often to report progress (number of chunks)
	ReportInterval int

	// Policy controls retries of failed embedding calls
	Policy retry.Policy
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 100,
		Policy: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
		},
	}
}

// Result summarizes a backfill run.
type Result struct {
	BatchResult
	Elapsed time.Duration
}

// Backfiller orchestrates embedding of every stored chunk that has no vector.
type Backfiller struct {
	gateway   storage.Gateway
	config    *Config
	progress  io.Writer
	processor *BatchProcessor
	iterator  *ChunkIterator
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Option configures a Backfiller.
type Option func(*Backfiller)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backfiller) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics counts retries and records the run duration.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Backfiller) {
		b.metrics = m
	}
}

// NewBackfiller creates a new backfiller.
// progress: where to write progress output (typically os.Stderr); nil discards it
func NewBackfiller(gateway storage.Gateway, embedder ai.Embedder, config *Config, progress io.Writer, opts ...Option) (*Backfiller, error) {
	if gateway == nil {
		return nil, ErrGatewayRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Policy.MaxAttempts <= 0 {
		return nil, retry.ErrInvalidMaxAttempts
	}
	if progress == nil {
		progress = io.Discard
	}

	b := &Backfiller{
		gateway:  gateway,
		config:   config,
		progress: progress,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "backfill")

	policy := config.Policy
	next := policy.OnRetry
	policy.OnRetry = func(attempt int, err error) {
		b.metrics.ObserveRetry("backfill")
		if next != nil {
			next(attempt, err)
		}
	}
	b.processor = NewBatchProcessor(gateway, embedder, policy, b.logger)
	b.iterator = NewChunkIterator(gateway, config.BatchSize)
	return b, nil
}

// Run embeds every chunk that has no vector.
// Progress is reported to the configured writer.
func (b *Backfiller) Run(ctx context.Context) (*Result, error) {
	fmt.Fprintf(b.progress, "Starting embedding backfill (batch size: %d)\n", b.iterator.batchSize)

	// The number of chunks without a vector is not known up front.
	tracker := progress.NewTracker(b.progress, 0, b.config.ReportInterval, "chunks")
	tracker.Start()

	result := &Result{}
	err := b.iterator.ForEach(ctx, func(chunks []*core.Chunk) error {
		res, err := b.processor.Process(ctx, chunks)
		result.add(res)
		if err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}
		tracker.Increment(len(chunks))
		return nil
	})

	tracker.Finish()
	result.Elapsed = tracker.Elapsed()
	b.metrics.ObserveRun(result.Elapsed)
	if err != nil {
		return result, err
	}

	if result.Processed() == 0 {
		fmt.Fprintf(b.progress, "No chunks without embeddings found\n")
		return result, nil
	}

	b.logger.Info("embedding backfill finished",
		"embedded", result.Embedded,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"elapsed", result.Elapsed)
	fmt.Fprintf(b.progress, "Backfill complete. Embedded %d chunks (%d failed, %d skipped) in %v (%.1f chunks/sec)\n",
		result.Embedded, result.Failed, result.Skipped, result.Elapsed.Round(time.Second),
		float64(result.Processed())/result.Elapsed.Seconds())
	return result, nil
}
