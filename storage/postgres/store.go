package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"

	"github.com/poiesic/civicrag/core"
	"github.com/poiesic/civicrag/storage"
)

//go:embed schema.sql
var schemaSQL string

// Store is a storage.Gateway backed by PostgreSQL with the pgvector extension.
type Store struct {
	db     *sql.DB
	closed atomic.Bool
	logger *slog.Logger
}

var (
	_ storage.Gateway  = (*Store)(nil)
	_ storage.Migrator = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open connects to the database at dsn and bootstraps the schema.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres: DATABASE_URL is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "postgres")

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the connection pool. It is safe to call more than once.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// Migrate runs the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, schemaSQL)
		return err
	})
	if err != nil {
		return fmt.Errorf("bootstrap schema: %w", s.mapErr(err))
	}
	return nil
}

// Upsert implements storage.Gateway.
func (s *Store) Upsert(ctx context.Context, source *core.Source, chunks []*core.Chunk) (string, error) {
	if err := storage.CheckUnit(source, chunks); err != nil {
		return "", err
	}
	if err := s.check(); err != nil {
		return "", storage.PersistenceError("upsert", err)
	}
	geo, err := storage.MarshalGeo(source.Geo)
	if err != nil {
		return "", storage.PersistenceError("upsert", err)
	}

	id := source.ID
	if id == "" {
		id = core.NewSourceID()
	}
	var created, updated time.Time
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		const q = `
			INSERT INTO sources (id, external_id, source_type, title, text, fingerprint, fetched_at, status,
				domain, language, layer, trust_score, geo, raw_uri)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb, $14)
			ON CONFLICT (external_id, source_type) DO UPDATE SET
				title = EXCLUDED.title,
				text = EXCLUDED.text,
				fingerprint = EXCLUDED.fingerprint,
				fetched_at = EXCLUDED.fetched_at,
				status = EXCLUDED.status,
				last_error = '',
				domain = EXCLUDED.domain,
				language = EXCLUDED.language,
				layer = EXCLUDED.layer,
				trust_score = EXCLUDED.trust_score,
				geo = EXCLUDED.geo,
				raw_uri = EXCLUDED.raw_uri,
				updated_at = now()
			RETURNING id, created_at, updated_at`
		err := tx.QueryRowContext(ctx, q,
			id, source.ExternalID, string(source.Type), source.Title, source.Text, source.Fingerprint[:],
			source.FetchedAt.UTC(), string(core.SourceStatusProcessed), source.Domain, source.Language,
			source.Layer, source.TrustScore, string(geo), source.RawURI,
		).Scan(&id, &created, &updated)
		if err != nil {
			return fmt.Errorf("upsert source: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE source_id = $1", id); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (source_id, seq, text, char_len, overlap, tags, embedding, tag_status, embed_status)
			VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range chunks {
			tags, err := storage.MarshalTags(c.Tags)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, id, c.Seq, c.Text, c.CharLen, c.Overlap, string(tags),
				vectorArg(c.Embedding), string(c.TagStatus), string(c.EmbedStatus)); err != nil {
				return fmt.Errorf("insert chunk %d: %w", c.Seq, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", storage.PersistenceError("upsert", s.mapErr(err))
	}

	source.ID = id
	source.Status = core.SourceStatusProcessed
	source.LastError = ""
	source.CreatedAt = created.UTC()
	source.UpdatedAt = updated.UTC()
	for _, c := range chunks {
		c.SourceID = id
	}
	return id, nil
}

// vectorArg binds a missing vector as SQL NULL.
func vectorArg(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

// Touch implements storage.Gateway.
func (s *Store) Touch(ctx context.Context, key core.SourceKey, fp core.Fingerprint, at time.Time) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sources SET fetched_at = $1
		WHERE external_id = $2 AND source_type = $3 AND fingerprint = $4 AND status = $5`,
		at.UTC(), key.ExternalID, string(key.Type), fp[:], string(core.SourceStatusProcessed))
	if err != nil {
		return false, s.mapErr(err)
	}
	n, err := res.RowsAffected()
	return n > 0, s.mapErr(err)
}

// FingerprintExists implements storage.Gateway.
func (s *Store) FingerprintExists(ctx context.Context, fp core.Fingerprint) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM sources WHERE fingerprint = $1 AND status = $2)",
		fp[:], string(core.SourceStatusProcessed)).Scan(&exists)
	return exists, s.mapErr(err)
}

// MarkFailed implements storage.Gateway.
func (s *Store) MarkFailed(ctx context.Context, key core.SourceKey, reason string) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sources SET status = $1, last_error = $2, updated_at = now()
		WHERE external_id = $3 AND source_type = $4`,
		string(core.SourceStatusFailed), reason, key.ExternalID, string(key.Type))
	if err != nil {
		return false, s.mapErr(err)
	}
	n, err := res.RowsAffected()
	return n > 0, s.mapErr(err)
}

// GetSource implements storage.Gateway.
func (s *Store) GetSource(ctx context.Context, key core.SourceKey) (*core.Source, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	const q = `
		SELECT id, external_id, source_type, title, text, fingerprint, fetched_at, status, last_error,
			domain, language, layer, trust_score, geo, raw_uri, created_at, updated_at
		FROM sources
		WHERE external_id = $1 AND source_type = $2`
	var (
		src         core.Source
		typ, status string
		fp, geo     []byte
	)
	err := s.db.QueryRowContext(ctx, q, key.ExternalID, string(key.Type)).Scan(
		&src.ID, &src.ExternalID, &typ, &src.Title, &src.Text, &fp, &src.FetchedAt, &status, &src.LastError,
		&src.Domain, &src.Language, &src.Layer, &src.TrustScore, &geo, &src.RawURI, &src.CreatedAt, &src.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, s.mapErr(err)
	}
	if len(fp) != core.FingerprintSize {
		return nil, fmt.Errorf("%w: fingerprint of %d bytes", storage.ErrTruncatedData, len(fp))
	}
	copy(src.Fingerprint[:], fp)
	src.Type = core.SourceType(typ)
	src.Status = core.SourceStatus(status)
	src.FetchedAt = src.FetchedAt.UTC()
	src.CreatedAt = src.CreatedAt.UTC()
	src.UpdatedAt = src.UpdatedAt.UTC()
	if src.Geo, err = storage.UnmarshalGeo(geo); err != nil {
		return nil, err
	}
	return &src, nil
}

// The vector is read in its text form so that NULL scans cleanly.
const chunkColumns = "source_id, seq, text, char_len, overlap, tags, embedding::text, tag_status, embed_status"

// GetChunks implements storage.Gateway.
func (s *Store) GetChunks(ctx context.Context, sourceID string) ([]*core.Chunk, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+chunkColumns+" FROM chunks WHERE source_id = $1 ORDER BY seq ASC", sourceID)
	if err != nil {
		return nil, s.mapErr(err)
	}
	return scanChunks(rows)
}

func scanChunks(rows *sql.Rows) ([]*core.Chunk, error) {
	defer rows.Close()

	var out []*core.Chunk
	for rows.Next() {
		var (
			c                     core.Chunk
			tags                  []byte
			embedding             sql.NullString
			tagStatus, embedState string
		)
		if err := rows.Scan(&c.SourceID, &c.Seq, &c.Text, &c.CharLen, &c.Overlap, &tags, &embedding,
			&tagStatus, &embedState); err != nil {
			return nil, err
		}
		var err error
		if c.Tags, err = storage.UnmarshalTags(tags); err != nil {
			return nil, err
		}
		if embedding.Valid {
			var v pgvector.Vector
			if err := v.Parse(embedding.String); err != nil {
				return nil, fmt.Errorf("%w: embedding: %w", storage.ErrSerializationFailed, err)
			}
			c.Embedding = v.Slice()
		}
		c.TagStatus = core.TagStatus(tagStatus)
		c.EmbedStatus = core.EmbedStatus(embedState)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ForEachFingerprint implements storage.Gateway.
func (s *Store) ForEachFingerprint(ctx context.Context, fn func(fp core.Fingerprint, sourceID string) error) error {
	if err := s.check(); err != nil {
		return err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT fingerprint, id FROM sources WHERE status = $1 ORDER BY id", string(core.SourceStatusProcessed))
	if err != nil {
		return s.mapErr(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			raw []byte
			id  string
			fp  core.Fingerprint
		)
		if err := rows.Scan(&raw, &id); err != nil {
			return err
		}
		if len(raw) != core.FingerprintSize {
			return fmt.Errorf("%w: fingerprint of source %s", storage.ErrTruncatedData, id)
		}
		copy(fp[:], raw)
		if err := fn(fp, id); err != nil {
			return err
		}
	}
	return rows.Err()
}

// LogIngestion implements storage.Gateway.
func (s *Store) LogIngestion(ctx context.Context, entry *core.IngestionLog) error {
	if err := s.check(); err != nil {
		return err
	}
	at := entry.RecordedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestion_logs (run_id, external_id, source_type, outcome, chunks, error, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.RunID, entry.Key.ExternalID, string(entry.Key.Type), string(entry.Outcome), entry.Chunks,
		entry.Error, at.UTC())
	return s.mapErr(err)
}

// ChunksMissingEmbeddings implements storage.Gateway.
func (s *Store) ChunksMissingEmbeddings(ctx context.Context, after storage.ChunkCursor, limit int) ([]*core.Chunk, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", storage.ErrInvalidQuery)
	}
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT "+chunkColumns+` FROM chunks
		WHERE embedding IS NULL AND (source_id, seq) > ($1, $2)
		ORDER BY source_id, seq
		LIMIT $3`,
		after.SourceID, after.Seq, limit)
	if err != nil {
		return nil, s.mapErr(err)
	}
	return scanChunks(rows)
}

// UpdateChunkEmbeddings implements storage.Gateway.
func (s *Store) UpdateChunkEmbeddings(ctx context.Context, chunks ...*core.Chunk) error {
	if err := s.check(); err != nil {
		return err
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			"UPDATE chunks SET embedding = $1, embed_status = $2 WHERE source_id = $3 AND seq = $4")
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range chunks {
			res, err := stmt.ExecContext(ctx, vectorArg(c.Embedding), string(c.EmbedStatus), c.SourceID, c.Seq)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("%w: chunk %s/%d", storage.ErrNotFound, c.SourceID, c.Seq)
			}
		}
		return nil
	})
	return s.mapErr(err)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Error("rollback failed", "error", rbErr)
		}
		return err
	}
	return tx.Commit()
}

func (s *Store) check() error {
	if s.closed.Load() {
		return storage.ErrStorageClosed
	}
	return nil
}

// mapErr marks a closed pool or an unreachable server with storage.ErrStorageClosed.
func (s *Store) mapErr(err error) error {
	if err == nil || errors.Is(err, storage.ErrStorageClosed) {
		return err
	}
	var connectErr *pgconn.ConnectError
	if s.closed.Load() || errors.Is(err, sql.ErrConnDone) || errors.As(err, &connectErr) {
		return fmt.Errorf("%w: %w", storage.ErrStorageClosed, err)
	}
	return err
}
