// Package ingestion orchestrates one ingestion run over the registered source adapters.
//
// For every discovered target the Pipeline walks the same state machine:
//
//	fetched -> normalized -> deduped (skip | continue) -> chunked -> tagged+embedded -> persisted
//
// Sources are processed concurrently on a worker pool; the chunks of one source
// are tagged and embedded on a bounded fan-out. Tagging and embedding failures
// degrade individual chunks and never fail a source. A source is written to the
// store in a single unit of work or not at all.
//
// Cancelling the run context stops scheduling new sources. Sources already in
// flight finish and are persisted before Run returns.
package ingestion
