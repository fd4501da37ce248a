// Package normalize converts extracted payload text into canonical text.
//
// Canonical text is NFC-composed, free of zero-width and control characters,
// and has collapsed whitespace; Devanagari and Latin script pass through
// unchanged. The BLAKE2b-256 fingerprint of canonical text drives both
// duplicate detection and idempotent re-ingestion.
//
// The package also derives provenance attributes from text and source
// identity: named entities, geography, trust score, evidence layer and
// language.
package normalize
