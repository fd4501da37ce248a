package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/poiesic/civicrag/archive"
	"github.com/poiesic/civicrag/core"
	"github.com/poiesic/civicrag/normalize"
	"github.com/poiesic/civicrag/retry"
	"github.com/poiesic/civicrag/sources"
	"github.com/poiesic/civicrag/storage"
	"golang.org/x/sync/errgroup"
)

// dedupVerdict is the outcome of checking a fingerprint against the store.
type dedupVerdict int

const (
	verdictNew dedupVerdict = iota
	verdictUnchanged
	verdictDuplicate
)

func (v dedupVerdict) String() string {
	switch v {
	case verdictUnchanged:
		return "unchanged"
	case verdictDuplicate:
		return "duplicate"
	}
	return "new"
}

// processSource drives one target to a terminal state and records the outcome.
func (p *Pipeline) processSource(ctx context.Context, r *run, w work) {
	key := w.target.Key()
	logger := p.logger.With("run_id", r.id, "type", key.Type, "external_id", key.ExternalID)

	unlock := p.locks.lock("key:" + key.String())
	defer unlock()

	outcome, chunks, err := p.ingest(ctx, r, w, logger)
	entry := &core.IngestionLog{
		RunID:      r.id,
		Key:        key,
		Outcome:    outcome,
		Chunks:     len(chunks),
		RecordedAt: now(),
	}

	switch outcome {
	case core.OutcomePersisted:
		r.summary.persisted(chunks)
		for _, c := range chunks {
			p.metrics.ObserveChunk(c.TagStatus, c.EmbedStatus)
		}
		logger.Debug("source persisted", "chunks", len(chunks))
	case core.OutcomeSkipped:
		r.summary.skipped()
	default:
		entry.Error = err.Error()
		r.summary.failed(key, err)
		logger.Warn("source failed", "reason", core.FailureReason(err), "err", err)
		if isHardStop(err) {
			r.halt(err)
		} else if _, markErr := p.gateway.MarkFailed(ctx, key, err.Error()); markErr != nil {
			logger.Error("error marking source failed", "err", markErr)
			if isHardStop(markErr) {
				r.halt(markErr)
			}
		}
	}
	p.metrics.ObserveSource(outcome)

	if !r.isHalted() {
		if logErr := p.gateway.LogIngestion(ctx, entry); logErr != nil {
			logger.Error("error writing ingestion log", "err", logErr)
			if isHardStop(logErr) {
				r.halt(logErr)
			}
		}
	}
	r.tracker.Increment(1)
}

// ingest runs the per-source state machine. It returns the chunks written when
// the outcome is persisted.
func (p *Pipeline) ingest(ctx context.Context, r *run, w work, logger *slog.Logger) (core.IngestOutcome, []*core.Chunk, error) {
	record, err := p.fetch(ctx, w)
	if err != nil {
		return core.OutcomeFailed, nil, err
	}
	logger.Debug("source fetched", "bytes", len(record.Payload), "content_type", record.ContentType)

	source, err := p.buildSource(record)
	if err != nil {
		return core.OutcomeFailed, nil, err
	}
	logger.Debug("source normalized", "fingerprint", source.Fingerprint, "language", source.Language)

	// Two sources with the same content must not both pass the dedup check.
	unlock := p.locks.lock("fp:" + source.Fingerprint.String())
	defer unlock()

	verdict, err := p.dedupe(ctx, source)
	if err != nil {
		return core.OutcomeFailed, nil, err
	}
	logger.Debug("source deduped", "verdict", verdict)
	if verdict != verdictNew {
		return core.OutcomeSkipped, nil, nil
	}

	if len(record.Payload) > 0 {
		uri, err := p.archive.Put(ctx, archive.Key(source.Type, source.Fingerprint), record.ContentType, record.Payload)
		if err != nil {
			logger.Warn("error archiving raw payload", "err", err)
		} else {
			source.RawURI = uri
		}
	}

	chunks, err := p.chunk(source.Text)
	if err != nil {
		return core.OutcomeFailed, nil, err
	}
	logger.Debug("source chunked", "chunks", len(chunks))

	p.enrich(ctx, r.stages, chunks, logger)
	if err := core.ValidateChunks(chunks); err != nil {
		return core.OutcomeFailed, nil, storage.PersistenceError("validate", err)
	}

	if err := p.persist(ctx, source, chunks); err != nil {
		return core.OutcomeFailed, nil, err
	}
	p.index.Record(source.Fingerprint, source.ID)
	return core.OutcomePersisted, chunks, nil
}

// fetch retrieves the target payload under the retry policy.
func (p *Pipeline) fetch(ctx context.Context, w work) (*sources.RawRecord, error) {
	var record *sources.RawRecord
	err := retry.Do(ctx, p.policyFor("fetch"), func(ctx context.Context) error {
		rec, err := w.adapter.Fetch(ctx, w.target)
		if err != nil {
			return err
		}
		record = rec
		return nil
	})
	if err != nil {
		if !errors.Is(err, core.ErrFetch) {
			err = sources.FetchError(w.target, err)
		}
		return nil, err
	}
	if record == nil {
		return nil, sources.FetchError(w.target, errors.New("adapter returned no record"))
	}
	return record, nil
}

// buildSource normalizes the record text and fills in provenance.
func (p *Pipeline) buildSource(record *sources.RawRecord) (*core.Source, error) {
	target := record.Target
	text, fp, err := p.normalizer.Normalize(record.Text, target.Type)
	if err != nil {
		return nil, err
	}

	title := normalize.Canonicalize(record.Title)
	if title == "" {
		title = normalize.Canonicalize(target.Title)
	}
	fetchedAt := record.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = now()
	}
	domain := normalize.Domain(target.ExternalID)

	return &core.Source{
		ExternalID:  target.ExternalID,
		Type:        target.Type,
		Title:       title,
		Text:        text,
		Fingerprint: fp,
		FetchedAt:   fetchedAt.UTC(),
		Status:      core.SourceStatusPending,
		Domain:      domain,
		Language:    normalize.DetectLanguage(text),
		Layer:       normalize.Layer(target.Type),
		TrustScore:  normalize.TrustScore(target.Type, domain),
		Geo:         normalize.ExtractGeo(text),
	}, nil
}

// dedupe decides whether source needs processing. The index only spares the
// store lookup for new content; every hit the store confirms refreshes the
// fetch time of an unchanged source.
func (p *Pipeline) dedupe(ctx context.Context, source *core.Source) (dedupVerdict, error) {
	fp := source.Fingerprint
	seen := p.index.Seen(fp)
	if !seen {
		exists, err := p.gateway.FingerprintExists(ctx, fp)
		if err != nil {
			return verdictNew, storage.PersistenceError("dedup lookup", err)
		}
		if !exists {
			return verdictNew, nil
		}
	}

	touched, err := p.gateway.Touch(ctx, source.Key(), fp, source.FetchedAt)
	if err != nil {
		return verdictNew, storage.PersistenceError("touch", err)
	}
	if touched {
		return verdictUnchanged, nil
	}

	if seen {
		exists, err := p.gateway.FingerprintExists(ctx, fp)
		if err != nil {
			return verdictNew, storage.PersistenceError("dedup lookup", err)
		}
		if !exists {
			// Whatever the index remembered is no longer in the store.
			p.index.Forget(fp)
			return verdictNew, nil
		}
	}
	return verdictDuplicate, nil
}

// chunk splits canonical text into chunks numbered from 0.
func (p *Pipeline) chunk(text string) ([]*core.Chunk, error) {
	segments, err := p.chunker.Chunk(text)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: %d runes of text", core.ErrChunking, utf8.RuneCountInString(text))
	}

	chunks := make([]*core.Chunk, len(segments))
	for i, seg := range segments {
		chunks[i] = &core.Chunk{
			Seq:     i,
			Text:    seg.Text,
			CharLen: utf8.RuneCountInString(seg.Text),
			Overlap: seg.Overlap,
		}
	}
	return chunks, nil
}

// enrich runs every stage over every chunk with at most chunkWorkers chunks in
// flight. Each goroutine owns exactly one chunk, so order is kept by Seq.
func (p *Pipeline) enrich(ctx context.Context, stages []processor, chunks []*core.Chunk, logger *slog.Logger) {
	var g errgroup.Group
	g.SetLimit(p.chunkWorkers)
	for _, chunk := range chunks {
		g.Go(func() error {
			for _, stage := range stages {
				if err := stage.process(ctx, chunk); err != nil {
					logger.Warn("chunk degraded", "processor", stage.name(), "seq", chunk.Seq, "err", err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// persist writes the unit of work, retrying transient store errors.
func (p *Pipeline) persist(ctx context.Context, source *core.Source, chunks []*core.Chunk) error {
	return retry.Do(ctx, p.policyFor("persist"), func(ctx context.Context) error {
		_, err := p.gateway.Upsert(ctx, source, chunks)
		switch {
		case err == nil:
			return nil
		case isHardStop(err),
			errors.Is(err, core.ErrInvalidSource),
			errors.Is(err, core.ErrInvalidChunk),
			errors.Is(err, storage.ErrDuplicateKey):
			return retry.Permanent(err)
		}
		return err
	})
}
