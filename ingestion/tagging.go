package ingestion

import (
	"context"
	"fmt"

	"github.com/poiesic/civicrag/core"
	"github.com/poiesic/civicrag/normalize"
	"github.com/poiesic/civicrag/tagging"
)

// taggingProcessor attaches classifier metadata and extracted entities to chunks.
type taggingProcessor struct {
	tagger *tagging.Tagger
}

var _ processor = (*taggingProcessor)(nil)

func newTaggingProcessor(tagger *tagging.Tagger) (processor, error) {
	if tagger == nil {
		return nil, ErrTaggerRequired
	}
	return &taggingProcessor{tagger: tagger}, nil
}

func (tp *taggingProcessor) name() string {
	return "tagging"
}

func (tp *taggingProcessor) process(ctx context.Context, chunk *core.Chunk) error {
	res := tp.tagger.Tag(ctx, chunk.Text)
	chunk.Tags = res.Metadata
	chunk.TagStatus = res.Status
	chunk.Tags.Entities = mergeEntities(chunk.Tags.Entities, normalize.ExtractEntities(chunk.Text))
	if res.Err != nil {
		return fmt.Errorf("chunk %d: %w", chunk.Seq, res.Err)
	}
	return nil
}

// mergeEntities appends the entities of extra missing from base.
func mergeEntities(base, extra []core.Entity) []core.Entity {
	out := make([]core.Entity, 0, len(base)+len(extra))
	seen := make(map[core.Entity]bool, len(base)+len(extra))
	for _, list := range [][]core.Entity{base, extra} {
		for _, e := range list {
			if seen[e] {
				continue
			}
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}
