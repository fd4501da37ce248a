package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/civicrag/core"
	"github.com/poiesic/civicrag/retry"
	"github.com/poiesic/civicrag/storage"
)

// conflictPolicy retries write transactions that lose an optimistic
// concurrency check against another writer.
var conflictPolicy = retry.Policy{
	MaxAttempts: 8,
	BaseDelay:   2 * time.Millisecond,
	MaxDelay:    100 * time.Millisecond,
}

// Store implements storage.Gateway on BadgerDB. Every method runs in a single
// badger transaction.
type Store struct {
	backend *Backend
	logSeq  *badger.Sequence
}

var _ storage.Gateway = (*Store)(nil)

// Open opens (or creates) a badger store in dir.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: badger directory required", storage.ErrInvalidQuery)
	}
	backend, err := OpenBackend(dir, false, logger)
	if err != nil {
		return nil, err
	}
	store, err := NewStore(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return store, nil
}

// NewStore creates a Store on an open backend. Closing the store closes the backend.
func NewStore(backend *Backend) (*Store, error) {
	seq, err := backend.GetSequence(logSeq)
	if err != nil {
		return nil, err
	}
	return &Store{backend: backend, logSeq: seq}, nil
}

// Close releases the log sequence and closes the backend.
func (s *Store) Close() error {
	if s.backend.IsClosed() {
		return nil
	}
	if err := s.logSeq.Release(); err != nil {
		s.backend.logger.Warn("releasing log sequence", "error", err)
	}
	return s.backend.Close()
}

// update runs fn in a read-write transaction and commits it, retrying on conflicts.
func (s *Store) update(ctx context.Context, fn func(tx *badger.Txn) error) error {
	return retry.Do(ctx, conflictPolicy, func(ctx context.Context) error {
		err := s.backend.WithTx(func(tx *badger.Txn) error {
			if err := fn(tx); err != nil {
				return err
			}
			return tx.Commit()
		}, true)
		if err != nil && !errors.Is(err, badger.ErrConflict) {
			return retry.Permanent(err)
		}
		return err
	})
}

// view runs fn in a read-only transaction.
func (s *Store) view(ctx context.Context, fn func(tx *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.backend.WithTx(fn, false)
}

// Upsert implements storage.Gateway.
func (s *Store) Upsert(ctx context.Context, source *core.Source, chunks []*core.Chunk) (string, error) {
	if err := storage.CheckUnit(source, chunks); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	var rec *SourceRecord
	err := s.update(ctx, func(tx *badger.Txn) error {
		key := makeSourceKey(source.Key())
		old, err := readSource(tx, key)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		rec = newSourceRecord(source)
		rec.Status = string(core.SourceStatusProcessed)
		rec.LastError = ""
		rec.UpdatedAt = micros(now)

		if old != nil {
			rec.ID = old.ID
			rec.CreatedAt = old.CreatedAt
			if err := dropFingerprint(tx, old); err != nil {
				return err
			}
			if err := deleteChunks(tx, old.ID); err != nil {
				return err
			}
		} else {
			if rec.ID == "" {
				rec.ID = core.NewSourceID()
			}
			rec.CreatedAt = micros(now)
			if err := tx.Set(makeSourceIDKey(rec.ID), key); err != nil {
				return err
			}
		}

		if err := tx.Set(key, marshalSource(rec)); err != nil {
			return err
		}
		if err := tx.Set(makeFingerprintKey(source.Fingerprint, rec.ID), nil); err != nil {
			return err
		}

		for _, c := range chunks {
			chunkKey := makeChunkKey(rec.ID, c.Seq)
			if _, err := tx.Get(chunkKey); err == nil {
				return fmt.Errorf("%w: chunk %d", storage.ErrDuplicateKey, c.Seq)
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			chunkRec, err := newChunkRecord(rec.ID, c)
			if err != nil {
				return err
			}
			if err := tx.Set(chunkKey, marshalChunk(chunkRec)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", storage.PersistenceError("upsert", err)
	}

	source.ID = rec.ID
	source.Status = core.SourceStatus(rec.Status)
	source.LastError = ""
	source.CreatedAt = fromMicros(rec.CreatedAt)
	source.UpdatedAt = fromMicros(rec.UpdatedAt)
	for _, c := range chunks {
		c.SourceID = rec.ID
	}
	return rec.ID, nil
}

func readSource(tx *badger.Txn, key []byte) (*SourceRecord, error) {
	item, err := tx.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec *SourceRecord
	err = item.Value(func(val []byte) error {
		rec, err = unmarshalSource(val)
		return err
	})
	return rec, err
}

func writeSource(tx *badger.Txn, rec *SourceRecord) error {
	return tx.Set(makeSourceKey(rec.key()), marshalSource(rec))
}

// dropFingerprint removes a source from the fingerprint index.
func dropFingerprint(tx *badger.Txn, rec *SourceRecord) error {
	fp, err := rec.fingerprint()
	if err != nil {
		return err
	}
	return tx.Delete(makeFingerprintKey(fp, rec.ID))
}

// deleteChunks removes every chunk of a source.
func deleteChunks(tx *badger.Txn, sourceID string) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = makePartialChunkKey(sourceID)
	iter := tx.NewIterator(opts)

	var keys [][]byte
	for iter.Rewind(); iter.Valid(); iter.Next() {
		keys = append(keys, iter.Item().KeyCopy(nil))
	}
	iter.Close()

	for _, k := range keys {
		if err := tx.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// Touch implements storage.Gateway.
func (s *Store) Touch(ctx context.Context, key core.SourceKey, fp core.Fingerprint, at time.Time) (bool, error) {
	touched := false
	err := s.update(ctx, func(tx *badger.Txn) error {
		touched = false
		rec, err := readSource(tx, makeSourceKey(key))
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.Status != string(core.SourceStatusProcessed) || rec.Fingerprint != fp.String() {
			return nil
		}
		rec.FetchedAt = micros(at)
		touched = true
		return writeSource(tx, rec)
	})
	return touched, err
}

// FingerprintExists implements storage.Gateway.
func (s *Store) FingerprintExists(ctx context.Context, fp core.Fingerprint) (bool, error) {
	exists := false
	err := s.view(ctx, func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = makePartialFingerprintKey(fp)
		iter := tx.NewIterator(opts)
		defer iter.Close()
		iter.Rewind()
		exists = iter.Valid()
		return nil
	})
	return exists, err
}

// MarkFailed implements storage.Gateway.
func (s *Store) MarkFailed(ctx context.Context, key core.SourceKey, reason string) (bool, error) {
	marked := false
	err := s.update(ctx, func(tx *badger.Txn) error {
		marked = false
		rec, err := readSource(tx, makeSourceKey(key))
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := dropFingerprint(tx, rec); err != nil {
			return err
		}
		rec.Status = string(core.SourceStatusFailed)
		rec.LastError = reason
		rec.UpdatedAt = micros(time.Now())
		marked = true
		return writeSource(tx, rec)
	})
	return marked, err
}

// GetSource implements storage.Gateway.
func (s *Store) GetSource(ctx context.Context, key core.SourceKey) (*core.Source, error) {
	var src *core.Source
	err := s.view(ctx, func(tx *badger.Txn) error {
		rec, err := readSource(tx, makeSourceKey(key))
		if err != nil {
			return err
		}
		src, err = rec.source()
		return err
	})
	return src, err
}

// GetChunks implements storage.Gateway.
func (s *Store) GetChunks(ctx context.Context, sourceID string) ([]*core.Chunk, error) {
	var chunks []*core.Chunk
	err := s.view(ctx, func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialChunkKey(sourceID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			c, err := readChunk(iter.Item())
			if err != nil {
				return err
			}
			chunks = append(chunks, c)
		}
		return nil
	})
	return chunks, err
}

func readChunk(item *badger.Item) (*core.Chunk, error) {
	// Chunk records carry byte slices, so they are decoded from a copy.
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	rec, err := unmarshalChunk(val)
	if err != nil {
		return nil, err
	}
	return rec.chunk()
}

// ForEachFingerprint implements storage.Gateway.
func (s *Store) ForEachFingerprint(ctx context.Context, fn func(fp core.Fingerprint, sourceID string) error) error {
	return s.view(ctx, func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(fingerprintPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			fp, id, err := parseFingerprintKey(iter.Item().Key())
			if err != nil {
				return fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
			}
			if err := fn(fp, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// LogIngestion implements storage.Gateway.
func (s *Store) LogIngestion(ctx context.Context, entry *core.IngestionLog) error {
	if s.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	id, err := s.logSeq.Next()
	if err != nil {
		return mapErr(err)
	}
	at := entry.RecordedAt
	if at.IsZero() {
		at = time.Now()
	}
	value := marshalLog(&LogRecord{
		RunID:      entry.RunID,
		ExternalID: entry.Key.ExternalID,
		Type:       string(entry.Key.Type),
		Outcome:    string(entry.Outcome),
		Chunks:     entry.Chunks,
		Error:      entry.Error,
		RecordedAt: micros(at),
	})
	return s.update(ctx, func(tx *badger.Txn) error {
		return tx.Set(makeLogKey(id), value)
	})
}

// ChunksMissingEmbeddings implements storage.Gateway.
func (s *Store) ChunksMissingEmbeddings(ctx context.Context, after storage.ChunkCursor, limit int) ([]*core.Chunk, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", storage.ErrInvalidQuery)
	}

	var chunks []*core.Chunk
	err := s.view(ctx, func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(chunkPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		start := []byte(chunkPrefix)
		if after != (storage.ChunkCursor{}) {
			start = makeChunkKey(after.SourceID, after.Seq)
		}
		for iter.Seek(start); iter.Valid() && len(chunks) < limit; iter.Next() {
			if bytes.Equal(iter.Item().Key(), start) {
				continue
			}
			c, err := readChunk(iter.Item())
			if err != nil {
				return err
			}
			if c.Embedding == nil {
				chunks = append(chunks, c)
			}
		}
		return nil
	})
	return chunks, err
}

// UpdateChunkEmbeddings implements storage.Gateway.
func (s *Store) UpdateChunkEmbeddings(ctx context.Context, chunks ...*core.Chunk) error {
	return s.update(ctx, func(tx *badger.Txn) error {
		for _, c := range chunks {
			key := makeChunkKey(c.SourceID, c.Seq)
			item, err := tx.Get(key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: chunk %s/%d", storage.ErrNotFound, c.SourceID, c.Seq)
			}
			if err != nil {
				return err
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			rec, err := unmarshalChunk(val)
			if err != nil {
				return err
			}
			rec.Embedding = storage.EncodeVector(c.Embedding)
			rec.EmbedStatus = string(c.EmbedStatus)
			if err := tx.Set(key, marshalChunk(rec)); err != nil {
				return err
			}
		}
		return nil
	})
}
