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


package reembed

import (
	"context"

	"github.com/poiesic/civicrag/core"
	"github.com/poiesic/civicrag/storage"
)

const (
	// DefaultBatchSize is the default number of chunks to fetch in each batch
	DefaultBatchSize = 100
)

// ChunkIterator pages through chunks that have no embedding.
type ChunkIterator struct {
	gateway   storage.Gateway
	batchSize int
}

// NewChunkIterator creates a new chunk iterator.
// batchSize: number of chunks to fetch in each batch (non-positive uses DefaultBatchSize)
func NewChunkIterator(gateway storage.Gateway, batchSize int) *ChunkIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &ChunkIterator{
		gateway:   gateway,
		batchSize: batchSize,
	}
}

// ForEach calls fn for each batch of chunks without an embedding, in
// (SourceID, Seq) order. The cursor moves past every batch whether or not fn
// fills it in, so one pass never visits a chunk twice.
// Iteration stops on the first error from fn, and context cancellation is
// checked between batches.
func (it *ChunkIterator) ForEach(ctx context.Context, fn func([]*core.Chunk) error) error {
	var cursor storage.ChunkCursor
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := it.gateway.ChunksMissingEmbeddings(ctx, cursor, it.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		next := storage.CursorOf(batch[len(batch)-1])
		if err := fn(batch); err != nil {
			return err
		}
		cursor = next

		if len(batch) < it.batchSize {
			return nil
		}
	}
}
