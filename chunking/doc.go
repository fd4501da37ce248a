// Package chunking splits canonical text into ordered, size-bounded segments.
//
// Boundaries come from Unicode text segmentation (UAX #29): sentences are
// packed greedily into chunks, and a sentence that cannot fit on its own is
// cut between grapheme clusters, so a Devanagari conjunct or a base letter
// with its combining marks always stays in one piece.
//
// Each chunk after the first begins with a short run copied from the end of
// the previous chunk. Segment.Overlap records its length, which lets
// Reconstruct rebuild the original text exactly.
package chunking
