package storage

import (
	"errors"
	"fmt"

	"github.com/poiesic/civicrag/core"
)

// CheckUnit validates the parts of a unit of work that backends cannot check
// with their own constraints. Chunk ordering is left to the store, so that a
// duplicate Seq surfaces as a constraint violation inside the transaction.
func CheckUnit(source *core.Source, chunks []*core.Chunk) error {
	if err := core.ValidateSource(source); err != nil {
		return PersistenceError("validate", err)
	}
	if len(chunks) == 0 {
		return PersistenceError("validate", fmt.Errorf("%w: no chunks", core.ErrInvalidChunk))
	}
	for i, c := range chunks {
		if c == nil {
			return PersistenceError("validate", fmt.Errorf("%w: chunk %d is nil", core.ErrInvalidChunk, i))
		}
	}
	return nil
}

// PersistenceError wraps err in core.ErrPersistence unless it already is one.
func PersistenceError(op string, err error) error {
	if err == nil || errors.Is(err, core.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", core.ErrPersistence, op, err)
}
