package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/poiesic/civicrag/core"
)

// FingerprintSource enumerates the fingerprints a store already holds.
// storage.Gateway satisfies it.
type FingerprintSource interface {
	ForEachFingerprint(ctx context.Context, fn func(fp core.Fingerprint, sourceID string) error) error
}

// Index maps content fingerprints to the ID of the source that carries them.
//
// The index is a cache in front of the store, never the authority: an entry
// may be stale after a failed write or an external change, so callers confirm
// with the store before acting on a hit. Every method is safe for concurrent use.
type Index struct {
	mu       sync.RWMutex
	bySource map[string]core.Fingerprint
	byFP     map[core.Fingerprint]string
	closed   bool
	logger   *slog.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Index) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// New creates an empty Index.
func New(opts ...Option) *Index {
	i := &Index{
		bySource: make(map[string]core.Fingerprint),
		byFP:     make(map[core.Fingerprint]string),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With("component", "dedup")
	return i
}

// Hydrate loads every fingerprint held by src. Existing entries are kept;
// entries loaded from src win on conflict.
func (i *Index) Hydrate(ctx context.Context, src FingerprintSource) error {
	n := 0
	err := src.ForEachFingerprint(ctx, func(fp core.Fingerprint, sourceID string) error {
		i.Record(fp, sourceID)
		n++
		return nil
	})
	if err != nil {
		return fmt.Errorf("hydrate dedup index: %w", err)
	}
	i.logger.Info("dedup index hydrated", "fingerprints", n)
	return nil
}

// Seen reports whether fp is in the index.
func (i *Index) Seen(fp core.Fingerprint) bool {
	_, ok := i.Lookup(fp)
	return ok
}

// Lookup returns the source ID recorded for fp.
func (i *Index) Lookup(fp core.Fingerprint) (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return "", false
	}
	id, ok := i.byFP[fp]
	return id, ok
}

// Record maps fp to sourceID. A source has one fingerprint at a time, so the
// source's previous fingerprint, if any, is removed.
func (i *Index) Record(fp core.Fingerprint, sourceID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return
	}
	if old, ok := i.bySource[sourceID]; ok && old != fp {
		delete(i.byFP, old)
	}
	if prev, ok := i.byFP[fp]; ok && prev != sourceID {
		delete(i.bySource, prev)
	}
	i.byFP[fp] = sourceID
	i.bySource[sourceID] = fp
}

// Forget removes fp from the index.
func (i *Index) Forget(fp core.Fingerprint) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if id, ok := i.byFP[fp]; ok {
		delete(i.byFP, fp)
		delete(i.bySource, id)
	}
}

// Len returns the number of fingerprints in the index.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.byFP)
}

// Close drops every entry. After Close, Seen and Lookup report nothing and
// Record does nothing.
func (i *Index) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	clear(i.byFP)
	clear(i.bySource)
}
