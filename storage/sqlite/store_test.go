package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/poiesic/civicrag/storage"
	"github.com/poiesic/civicrag/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "civicrag.db"))
	require.NoError(t, err)
	return s
}

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Gateway {
		return openTestStore(t)
	})
}

func TestMigrate_Idempotent(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	require.NoError(t, s.Migrate(context.Background()))

	var version, count int
	require.NoError(t, s.db.QueryRow("SELECT MAX(version), COUNT(*) FROM schema_migrations").Scan(&version, &count))
	assert.Equal(t, 2, version)
	assert.Equal(t, 2, count)
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "civicrag.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	require.NoError(t, err)
	src := storagetest.NewSource("https://example.org/persist", "media", "persisted text")
	_, err = s.Upsert(ctx, src, storagetest.NewChunks(2, "p"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.GetSource(ctx, src.Key())
	require.NoError(t, err)
	assert.Equal(t, "persisted text", got.Text)
}

func TestForeignKeyCascade(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()
	ctx := context.Background()

	src := storagetest.NewSource("https://example.org/cascade", "media", "cascade text")
	id, err := s.Upsert(ctx, src, storagetest.NewChunks(3, "c"))
	require.NoError(t, err)

	_, err = s.db.Exec("DELETE FROM sources WHERE id = ?", id)
	require.NoError(t, err)

	chunks, err := s.GetChunks(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "")
	assert.Error(t, err)
}
