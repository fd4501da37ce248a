package ingestion

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/civicrag/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummary_Rates(t *testing.T) {
	s := newSummary("run-1")
	assert.Zero(t, s.AvgChunksPerSource())
	assert.Zero(t, s.SuccessRate())

	s.persisted([]*core.Chunk{{}, {}, {}})
	s.persisted([]*core.Chunk{{}})
	s.persisted([]*core.Chunk{{}, {}})
	s.skipped()
	s.failed(core.SourceKey{ExternalID: "x", Type: core.SourceTypeMedia}, core.ErrFetch)

	assert.InDelta(t, 2.0, s.AvgChunksPerSource(), 1e-9)
	assert.InDelta(t, 75.0, s.SuccessRate(), 1e-9, "skipped sources are not attempts")
}

func TestSummary_ChunkStatusCounts(t *testing.T) {
	s := newSummary("run-1")
	s.persisted([]*core.Chunk{
		{TagStatus: core.TagStatusTagged, EmbedStatus: core.EmbedStatusEmbedded},
		{TagStatus: core.TagStatusDefault, EmbedStatus: core.EmbedStatusFailed},
		{TagStatus: core.TagStatusFailed, EmbedStatus: core.EmbedStatusSkipped},
	})
	assert.Equal(t, 3, s.Chunks)
	assert.Equal(t, 1, s.TagDefaulted)
	assert.Equal(t, 1, s.TagFailed)
	assert.Equal(t, 1, s.Embedded)
	assert.Equal(t, 1, s.EmbedFailed)
	assert.Equal(t, 1, s.EmbedSkipped)
}

func TestSummary_ConcurrentUpdates(t *testing.T) {
	s := newSummary("run-1")
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.scheduled()
			s.persisted([]*core.Chunk{{}})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, s.Scheduled)
	assert.Equal(t, 50, s.Persisted)
}

func TestSummary_Report(t *testing.T) {
	s := newSummary("run-42")
	s.persisted([]*core.Chunk{{}, {}})
	s.failed(core.SourceKey{ExternalID: "https://imc.gov.in/a", Type: core.SourceTypeGovernment},
		errors.Join(core.ErrFetch, errors.New("timeout")))
	s.adapterFailed(core.SourceTypeYouTube, errors.New("quota"))
	s.interrupted()
	s.FinishedAt = s.StartedAt.Add(90 * time.Second)

	var buf bytes.Buffer
	require.NoError(t, s.Report(&buf))
	out := buf.String()

	assert.Contains(t, out, "run-42")
	assert.Contains(t, out, "90.00 seconds (1.50 minutes)")
	assert.Contains(t, out, "Persisted sources: 1")
	assert.Contains(t, out, "Failed sources:    1")
	assert.Contains(t, out, "Average chunks per source: 2.00")
	assert.Contains(t, out, "Success rate: 50.00%")
	assert.Contains(t, out, "FAILED government:https://imc.gov.in/a [fetch]")
	assert.Contains(t, out, "ADAPTER youtube: quota")
	assert.Contains(t, out, "interrupted")
}

func TestSummary_Duration(t *testing.T) {
	s := newSummary("run-1")
	s.FinishedAt = s.StartedAt.Add(time.Minute)
	assert.Equal(t, time.Minute, s.Duration())
}
