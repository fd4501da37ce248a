// Package sqlite implements storage.Gateway on an embedded SQLite database
// (modernc.org/sqlite, no cgo).
//
// The database runs in WAL mode with foreign keys on, so deleting a source
// cascades to its chunks. The schema is created by numbered migrations
// embedded in the binary and tracked in the schema_migrations table.
// Tag metadata is stored as JSON and embeddings as little-endian float32 blobs.
package sqlite
