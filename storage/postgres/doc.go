// Package postgres implements storage.Gateway on PostgreSQL through the pgx
// database/sql driver. Embeddings live in a pgvector column; the schema is
// bootstrapped from an embedded script on Open.
package postgres
