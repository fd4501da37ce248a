package reembed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/civicrag/ai"
	"github.com/poiesic/civicrag/core"
	"github.com/poiesic/civicrag/retry"
	"github.com/poiesic/civicrag/storage"
)

// BatchResult counts what happened to the chunks of one or more batches.
type BatchResult struct {
	Embedded int
	Failed   int
	Skipped  int
}

// Processed returns the number of chunks handled.
func (r BatchResult) Processed() int {
	return r.Embedded + r.Failed + r.Skipped
}

func (r *BatchResult) add(other BatchResult) {
	r.Embedded += other.Embedded
	r.Failed += other.Failed
	r.Skipped += other.Skipped
}

// BatchProcessor handles embedding generation for batches of chunks.
type BatchProcessor struct {
	gateway  storage.Gateway
	embedder ai.Embedder
	policy   retry.Policy
	logger   *slog.Logger
}

// NewBatchProcessor creates a new batch processor.
// policy: retry policy for embedding API calls
func NewBatchProcessor(gateway storage.Gateway, embedder ai.Embedder, policy retry.Policy, logger *slog.Logger) *BatchProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchProcessor{
		gateway:  gateway,
		embedder: embedder,
		policy:   policy,
		logger:   logger,
	}
}

// Process generates embeddings for a batch of chunks and stores them.
// Vectors are normalized after embedding to ensure compatibility with cosine similarity.
//
// When the embedder gives up, the batch is stored with EmbedStatusFailed and
// no error is returned. Errors are returned for cancellation and for store
// failures; the result is then empty because nothing was written.
func (bp *BatchProcessor) Process(ctx context.Context, chunks []*core.Chunk) (BatchResult, error) {
	var res BatchResult
	if len(chunks) == 0 {
		return res, nil
	}

	texts := make([]string, 0, len(chunks))
	targets := make([]*core.Chunk, 0, len(chunks))
	for _, c := range chunks {
		text, ok := ai.PrepareInput(c.Text)
		if !ok {
			c.Embedding = nil
			c.EmbedStatus = core.EmbedStatusSkipped
			res.Skipped++
			continue
		}
		texts = append(texts, text)
		targets = append(targets, c)
	}

	if len(texts) > 0 {
		var embeddings [][]float32
		err := retry.Do(ctx, bp.policy, func(ctx context.Context) error {
			out, err := bp.embedder.EmbedTexts(ctx, texts)
			if err != nil {
				return err
			}
			if len(out) != len(texts) {
				return fmt.Errorf("%w: expected %d, got %d", ai.ErrDimensionMismatch, len(texts), len(out))
			}
			embeddings = out
			return nil
		})

		switch {
		case err != nil && ctx.Err() != nil:
			return res, err
		case err != nil:
			bp.logger.Warn("embedding batch failed", "chunks", len(targets), "attempts", bp.policy.MaxAttempts, "err", err)
			for _, c := range targets {
				c.Embedding = nil
				c.EmbedStatus = core.EmbedStatusFailed
			}
			res.Failed += len(targets)
		default:
			for i, c := range targets {
				if len(embeddings[i]) == 0 {
					c.Embedding = nil
					c.EmbedStatus = core.EmbedStatusFailed
					res.Failed++
					continue
				}
				c.Embedding = NormalizeVector(embeddings[i])
				c.EmbedStatus = core.EmbedStatusEmbedded
				res.Embedded++
			}
		}
	}

	if err := bp.gateway.UpdateChunkEmbeddings(ctx, chunks...); err != nil {
		return BatchResult{}, fmt.Errorf("failed to update chunks: %w", err)
	}
	return res, nil
}
