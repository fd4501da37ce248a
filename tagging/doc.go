// Package tagging classifies chunk text into the fixed tag schema.
//
// A Tagger sends each chunk to an ai.Classifier with a system prompt that
// lists the issue, cohort and frame vocabularies, then interprets the answer
// with Parse. Answers are cleaned up before decoding (markdown fences,
// surrounding prose, unquoted keys, trailing commas) because small local
// models produce them routinely.
//
// Tagging never fails a chunk. An answer that cannot be used gets one repair
// re-prompt carrying the rejection reason; after that the neutral defaults
// from core.DefaultTagMetadata are used and the Result says so:
//
//	res := tagger.Tag(ctx, chunk.Text)
//	chunk.Tags, chunk.TagStatus = res.Metadata, res.Status
//	if res.Err != nil {
//		logger.Warn("chunk tagged with defaults", "err", res.Err)
//	}
package tagging
