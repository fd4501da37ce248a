package storage

import (
	"context"
	"time"

	"github.com/poiesic/civicrag/core"
)

// ChunkCursor is a position in (SourceID, Seq) order. The zero value is
// before the first chunk.
type ChunkCursor struct {
	SourceID string
	Seq      int
}

// After reports whether c sorts after other.
func (c ChunkCursor) After(other ChunkCursor) bool {
	if c.SourceID != other.SourceID {
		return c.SourceID > other.SourceID
	}
	return c.Seq > other.Seq
}

// CursorOf returns the cursor positioned at chunk.
func CursorOf(chunk *core.Chunk) ChunkCursor {
	return ChunkCursor{SourceID: chunk.SourceID, Seq: chunk.Seq}
}

// Gateway is the only write path to the store. Each method is its own unit of
// work; no intermediate state of one call is visible to another.
// Implementations must be safe for concurrent use.
type Gateway interface {
	// Upsert writes a source and its complete chunk set atomically.
	// An existing source with the same key keeps its ID and CreatedAt; its
	// fields are overwritten and its previous chunks are replaced. A new source
	// gets a fresh ID unless source.ID is already set.
	// Either everything is written or nothing is: any failure rolls back and
	// returns an error wrapping core.ErrPersistence.
	// The source's ID, Status and timestamps are updated in place.
	Upsert(ctx context.Context, source *core.Source, chunks []*core.Chunk) (string, error)

	// Touch refreshes FetchedAt of the processed source with the given key
	// when its fingerprint equals fp. It reports whether a source was touched.
	Touch(ctx context.Context, key core.SourceKey, fp core.Fingerprint, at time.Time) (bool, error)

	// FingerprintExists reports whether any processed source carries fp.
	FingerprintExists(ctx context.Context, fp core.Fingerprint) (bool, error)

	// MarkFailed sets the status of an existing source to failed and records
	// reason. Chunks are left in place. It reports whether the source existed.
	MarkFailed(ctx context.Context, key core.SourceKey, reason string) (bool, error)

	// GetSource returns the source with the given key, or ErrNotFound.
	GetSource(ctx context.Context, key core.SourceKey) (*core.Source, error)

	// GetChunks returns the chunks of a source in Seq order.
	GetChunks(ctx context.Context, sourceID string) ([]*core.Chunk, error)

	// ForEachFingerprint calls fn for every processed source.
	// Iteration stops at the first error fn returns.
	ForEachFingerprint(ctx context.Context, fn func(fp core.Fingerprint, sourceID string) error) error

	// LogIngestion appends one ingestion log entry.
	LogIngestion(ctx context.Context, entry *core.IngestionLog) error

	// ChunksMissingEmbeddings returns up to limit chunks without a vector that
	// sort after the cursor, in (SourceID, Seq) order.
	ChunksMissingEmbeddings(ctx context.Context, after ChunkCursor, limit int) ([]*core.Chunk, error)

	// UpdateChunkEmbeddings stores Embedding and EmbedStatus of existing chunks.
	// Other chunk fields are ignored. Returns ErrNotFound if a chunk is missing.
	UpdateChunkEmbeddings(ctx context.Context, chunks ...*core.Chunk) error

	// Close releases the store. Calls after Close return ErrStorageClosed.
	Close() error
}

// Migrator is implemented by backends whose schema is managed explicitly.
type Migrator interface {
	// Migrate brings the schema up to date. It is idempotent.
	Migrate(ctx context.Context) error
}
