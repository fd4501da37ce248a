package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/civicrag/ai"
	"github.com/poiesic/civicrag/core"
	"github.com/poiesic/civicrag/retry"
)

// embeddingProcessor generates embeddings for chunks.
type embeddingProcessor struct {
	embedder ai.Embedder
	policy   retry.Policy
	logger   *slog.Logger
}

var _ processor = (*embeddingProcessor)(nil)

// newEmbeddingProcessor creates a new embedding processor.
func newEmbeddingProcessor(embedder ai.Embedder, policy retry.Policy, logger *slog.Logger) (*embeddingProcessor, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if policy.MaxAttempts <= 0 {
		return nil, retry.ErrInvalidMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &embeddingProcessor{
		embedder: embedder,
		policy:   policy,
		logger:   logger.With("processor", "embeddings"),
	}, nil
}

func (ep *embeddingProcessor) name() string {
	return "embeddings"
}

// process embeds the chunk text. On failure the chunk keeps a nil vector.
func (ep *embeddingProcessor) process(ctx context.Context, chunk *core.Chunk) error {
	text, ok := ai.PrepareInput(chunk.Text)
	if !ok {
		ep.logger.Debug("text too short to embed", "seq", chunk.Seq)
		chunk.Embedding = nil
		chunk.EmbedStatus = core.EmbedStatusSkipped
		return nil
	}

	var vector []float32
	err := retry.Do(ctx, ep.policy, func(ctx context.Context) error {
		v, err := ep.embedder.EmbedText(ctx, text)
		if err != nil {
			return err
		}
		if len(v) == 0 {
			return ai.ErrEmptyResponse
		}
		vector = v
		return nil
	})
	if err != nil {
		chunk.Embedding = nil
		chunk.EmbedStatus = core.EmbedStatusFailed
		return fmt.Errorf("%w: chunk %d: %w", core.ErrEmbedding, chunk.Seq, err)
	}

	chunk.Embedding = vector
	chunk.EmbedStatus = core.EmbedStatusEmbedded
	return nil
}

// skipEmbeddings marks chunks as deliberately left without a vector.
type skipEmbeddings struct{}

var _ processor = skipEmbeddings{}

func (skipEmbeddings) name() string {
	return "embeddings"
}

func (skipEmbeddings) process(_ context.Context, chunk *core.Chunk) error {
	chunk.Embedding = nil
	chunk.EmbedStatus = core.EmbedStatusSkipped
	return nil
}
