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


package ingestion

import (
	"context"

	"github.com/poiesic/civicrag/core"
)

// processor is an internal interface for enriching chunks.
// Implementations handle one enrichment task such as tagging or embeddings.
type processor interface {
	// name identifies the processor in logs.
	name() string

	// process enriches chunk in place. It always leaves the chunk in a
	// persistable state; a returned error only explains a degraded result.
	process(ctx context.Context, chunk *core.Chunk) error
}
