// Package reembed backfills embeddings for stored chunks that have none.
//
// Chunks end up without a vector when a run had embeddings disabled or when
// the embedding model kept failing. The Backfiller pages through those chunks
// in (SourceID, Seq) order, embeds each page in one batch call under a retry
// policy, normalizes the vectors to unit length for cosine similarity and
// writes them back. Chunks the model still cannot embed are marked failed and
// picked up again by the next backfill.
package reembed
