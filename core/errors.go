// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import "errors"

// Pipeline error taxonomy. Components wrap these with context; callers match with errors.Is.
var (
	// ErrFetch indicates a source adapter could not retrieve a payload.
	ErrFetch = errors.New("fetch failed")

	// ErrEmptyContent indicates canonical text was empty after normalization.
	ErrEmptyContent = errors.New("content is empty after normalization")

	// ErrChunking indicates the chunker produced no chunks.
	ErrChunking = errors.New("chunking produced no chunks")

	// ErrClassification indicates the classifier failed and defaults were applied.
	ErrClassification = errors.New("classification failed")

	// ErrEmbedding indicates the embedder failed and the chunk has no vector.
	ErrEmbedding = errors.New("embedding failed")

	// ErrPersistence indicates a unit of work was rolled back.
	ErrPersistence = errors.New("persistence failed")
)

// Domain validation errors
var (
	// ErrInvalidSource indicates a Source failed validation.
	ErrInvalidSource = errors.New("invalid source")

	// ErrInvalidChunk indicates a Chunk failed validation.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrInvalidSourceType indicates an unknown SourceType value.
	ErrInvalidSourceType = errors.New("invalid source type")

	// ErrEmptyExternalID indicates the ExternalID field is empty.
	ErrEmptyExternalID = errors.New("external id cannot be empty")

	// ErrMissingFingerprint indicates the Fingerprint field is unset.
	ErrMissingFingerprint = errors.New("fingerprint is required")

	// ErrNonContiguousChunks indicates chunk sequence indices have gaps or do not start at 0.
	ErrNonContiguousChunks = errors.New("chunk sequence must be contiguous from 0")
)

// FailureReason maps an error to a short reason code used in run summaries.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFetch):
		return "fetch"
	case errors.Is(err, ErrEmptyContent):
		return "empty_content"
	case errors.Is(err, ErrChunking):
		return "chunking"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, ErrInvalidSource), errors.Is(err, ErrInvalidChunk):
		return "validation"
	default:
		return "internal"
	}
}
