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

import (
	"fmt"
)

// ValidateSource validates a Source before it is handed to storage.
//
// Validation rules:
//   - ExternalID must not be empty
//   - Type must be a known SourceType
//   - Text must not be empty
//   - Fingerprint must be set
//
// NOT validated (assigned by storage):
//   - ID (empty for sources that were never persisted)
//   - CreatedAt / UpdatedAt
func ValidateSource(source *Source) error {
	if source == nil {
		return fmt.Errorf("%w: source is nil", ErrInvalidSource)
	}

	if source.ExternalID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidSource, ErrEmptyExternalID)
	}

	if !source.Type.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidSource, ErrInvalidSourceType, source.Type)
	}

	if source.Text == "" {
		return fmt.Errorf("%w: %w", ErrInvalidSource, ErrEmptyContent)
	}

	if source.Fingerprint.IsZero() {
		return fmt.Errorf("%w: %w", ErrInvalidSource, ErrMissingFingerprint)
	}

	return nil
}

// ValidateChunks validates a chunk set for one source.
// Sequence indices must be exactly 0..len(chunks)-1 in order and no chunk may be empty.
func ValidateChunks(chunks []*Chunk) error {
	if len(chunks) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrChunking)
	}
	for i, c := range chunks {
		if c == nil {
			return fmt.Errorf("%w: chunk %d is nil", ErrInvalidChunk, i)
		}
		if c.Seq != i {
			return fmt.Errorf("%w: %w: position %d has seq %d", ErrInvalidChunk, ErrNonContiguousChunks, i, c.Seq)
		}
		if c.Text == "" {
			return fmt.Errorf("%w: chunk %d: %w", ErrInvalidChunk, i, ErrEmptyContent)
		}
	}
	return nil
}
