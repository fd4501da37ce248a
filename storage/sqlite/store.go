package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/poiesic/civicrag/core"
	"github.com/poiesic/civicrag/storage"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store is a storage.Gateway backed by a single SQLite database file.
type Store struct {
	db     *sql.DB
	path   string
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

// Open opens (creating if needed) the database at path and applies pending
// migrations. The parent directory is created when missing.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection serializes writers; SQLite allows a single writer anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "sqlite")

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// Migrate applies every embedded NNN_name.up.sql file newer than the recorded
// schema version, each in its own transaction.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current schema version: %w", err)
	}

	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		content, err := fs.ReadFile(migrationFiles, "migrations/"+name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		err = s.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(content)); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
				version, time.Now().UTC().UnixMicro())
			return err
		})
		if err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		s.logger.Info("applied migration", "version", version, "file", name)
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

	now := time.Now().UTC()
	var (
		id      string
		created time.Time
	)
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var createdMicros int64
		err := tx.QueryRowContext(ctx,
			"SELECT id, created_at FROM sources WHERE external_id = ? AND source_type = ?",
			source.ExternalID, string(source.Type),
		).Scan(&id, &createdMicros)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			id = source.ID
			if id == "" {
				id = core.NewSourceID()
			}
			created = now
			_, err = tx.ExecContext(ctx, `
				INSERT INTO sources (id, external_id, source_type, title, text, fingerprint, fetched_at,
					status, last_error, domain, language, layer, trust_score, geo, raw_uri, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?, ?, ?, ?, ?, ?, ?)`,
				id, source.ExternalID, string(source.Type), source.Title, source.Text, source.Fingerprint[:],
				source.FetchedAt.UTC().UnixMicro(), string(core.SourceStatusProcessed), source.Domain,
				source.Language, source.Layer, source.TrustScore, string(geo), source.RawURI,
				now.UnixMicro(), now.UnixMicro())
			if err != nil {
				return fmt.Errorf("insert source: %w", err)
			}

		case err != nil:
			return fmt.Errorf("lookup source: %w", err)

		default:
			created = time.UnixMicro(createdMicros).UTC()
			_, err = tx.ExecContext(ctx, `
				UPDATE sources SET title = ?, text = ?, fingerprint = ?, fetched_at = ?, status = ?,
					last_error = '', domain = ?, language = ?, layer = ?, trust_score = ?, geo = ?,
					raw_uri = ?, updated_at = ?
				WHERE id = ?`,
				source.Title, source.Text, source.Fingerprint[:], source.FetchedAt.UTC().UnixMicro(),
				string(core.SourceStatusProcessed), source.Domain, source.Language, source.Layer,
				source.TrustScore, string(geo), source.RawURI, now.UnixMicro(), id)
			if err != nil {
				return fmt.Errorf("update source: %w", err)
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE source_id = ?", id); err != nil {
				return fmt.Errorf("delete chunks: %w", err)
			}
		}

		return insertChunks(ctx, tx, id, chunks)
	})
	if err != nil {
		return "", storage.PersistenceError("upsert", s.mapErr(err))
	}

	source.ID = id
	source.Status = core.SourceStatusProcessed
	source.LastError = ""
	source.CreatedAt = created
	source.UpdatedAt = now
	for _, c := range chunks {
		c.SourceID = id
	}
	return id, nil
}

func insertChunks(ctx context.Context, tx *sql.Tx, sourceID string, chunks []*core.Chunk) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (source_id, seq, text, char_len, overlap, tags, embedding, tag_status, embed_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		tags, err := storage.MarshalTags(c.Tags)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx, sourceID, c.Seq, c.Text, c.CharLen, c.Overlap, string(tags),
			vectorArg(c.Embedding), string(c.TagStatus), string(c.EmbedStatus))
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.Seq, err)
		}
	}
	return nil
}

// vectorArg binds a missing vector as SQL NULL rather than an empty blob.
func vectorArg(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return storage.EncodeVector(v)
}

// Touch implements storage.Gateway.
func (s *Store) Touch(ctx context.Context, key core.SourceKey, fp core.Fingerprint, at time.Time) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sources SET fetched_at = ?
		WHERE external_id = ? AND source_type = ? AND fingerprint = ? AND status = ?`,
		at.UTC().UnixMicro(), key.ExternalID, string(key.Type), fp[:], string(core.SourceStatusProcessed))
	if err != nil {
		return false, s.mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, s.mapErr(err)
	}
	return n > 0, nil
}

// FingerprintExists implements storage.Gateway.
func (s *Store) FingerprintExists(ctx context.Context, fp core.Fingerprint) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM sources WHERE fingerprint = ? AND status = ?)",
		fp[:], string(core.SourceStatusProcessed),
	).Scan(&exists)
	if err != nil {
		return false, s.mapErr(err)
	}
	return exists, nil
}

// MarkFailed implements storage.Gateway.
func (s *Store) MarkFailed(ctx context.Context, key core.SourceKey, reason string) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sources SET status = ?, last_error = ?, updated_at = ?
		WHERE external_id = ? AND source_type = ?`,
		string(core.SourceStatusFailed), reason, time.Now().UTC().UnixMicro(), key.ExternalID, string(key.Type))
	if err != nil {
		return false, s.mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, s.mapErr(err)
	}
	return n > 0, nil
}

const sourceColumns = `id, external_id, source_type, title, text, fingerprint, fetched_at, status,
	last_error, domain, language, layer, trust_score, geo, raw_uri, created_at, updated_at`

// GetSource implements storage.Gateway.
func (s *Store) GetSource(ctx context.Context, key core.SourceKey) (*core.Source, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sourceColumns+" FROM sources WHERE external_id = ? AND source_type = ?",
		key.ExternalID, string(key.Type))

	var (
		src                           core.Source
		typ, status, geo              string
		fp                            []byte
		fetched, createdAt, updatedAt int64
	)
	err := row.Scan(&src.ID, &src.ExternalID, &typ, &src.Title, &src.Text, &fp, &fetched, &status,
		&src.LastError, &src.Domain, &src.Language, &src.Layer, &src.TrustScore, &geo, &src.RawURI,
		&createdAt, &updatedAt)
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
	src.FetchedAt = time.UnixMicro(fetched).UTC()
	src.CreatedAt = time.UnixMicro(createdAt).UTC()
	src.UpdatedAt = time.UnixMicro(updatedAt).UTC()
	if src.Geo, err = storage.UnmarshalGeo([]byte(geo)); err != nil {
		return nil, err
	}
	return &src, nil
}

const chunkColumns = "source_id, seq, text, char_len, overlap, tags, embedding, tag_status, embed_status"

// GetChunks implements storage.Gateway.
func (s *Store) GetChunks(ctx context.Context, sourceID string) ([]*core.Chunk, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+chunkColumns+" FROM chunks WHERE source_id = ? ORDER BY seq", sourceID)
	if err != nil {
		return nil, s.mapErr(err)
	}
	return scanChunks(rows)
}

func scanChunks(rows *sql.Rows) ([]*core.Chunk, error) {
	defer rows.Close()

	var chunks []*core.Chunk
	for rows.Next() {
		var (
			c                     core.Chunk
			tags                  string
			embedding             []byte
			tagStatus, embedState string
		)
		if err := rows.Scan(&c.SourceID, &c.Seq, &c.Text, &c.CharLen, &c.Overlap, &tags, &embedding,
			&tagStatus, &embedState); err != nil {
			return nil, err
		}
		var err error
		if c.Tags, err = storage.UnmarshalTags([]byte(tags)); err != nil {
			return nil, err
		}
		if c.Embedding, err = storage.DecodeVector(embedding); err != nil {
			return nil, err
		}
		c.TagStatus = core.TagStatus(tagStatus)
		c.EmbedStatus = core.EmbedStatus(embedState)
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// ForEachFingerprint implements storage.Gateway.
func (s *Store) ForEachFingerprint(ctx context.Context, fn func(fp core.Fingerprint, sourceID string) error) error {
	if err := s.check(); err != nil {
		return err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT fingerprint, id FROM sources WHERE status = ? ORDER BY id", string(core.SourceStatusProcessed))
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
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID, entry.Key.ExternalID, string(entry.Key.Type), string(entry.Outcome), entry.Chunks,
		entry.Error, at.UTC().UnixMicro())
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
		WHERE embedding IS NULL AND (source_id > ? OR (source_id = ? AND seq > ?))
		ORDER BY source_id, seq
		LIMIT ?`,
		after.SourceID, after.SourceID, after.Seq, limit)
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
			"UPDATE chunks SET embedding = ?, embed_status = ? WHERE source_id = ? AND seq = ?")
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

// withTx runs fn in a transaction, committing when fn returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
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

// mapErr marks errors caused by a closed database with storage.ErrStorageClosed.
func (s *Store) mapErr(err error) error {
	if err == nil || errors.Is(err, storage.ErrStorageClosed) {
		return err
	}
	if s.closed.Load() || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", storage.ErrStorageClosed, err)
	}
	return err
}
