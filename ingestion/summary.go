package ingestion

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/poiesic/civicrag/core"
)

// Failure describes one source that ended the run in the failed state.
type Failure struct {
	ExternalID string
	Type       core.SourceType
	Reason     string
	Err        error
}

// AdapterError records a source type whose discovery failed.
type AdapterError struct {
	Type core.SourceType
	Err  error
}

// Summary is the outcome of one ingestion run. It is safe for concurrent
// use while the run is in progress; read it after Run returns.
type Summary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	Scheduled int
	Persisted int
	Skipped   int
	Failed    int

	Failures      []Failure
	AdapterErrors []AdapterError

	// Chunks is the number of chunks written by persisted sources.
	Chunks int

	TagDefaulted int
	TagFailed    int
	Embedded     int
	EmbedFailed  int
	EmbedSkipped int

	// Interrupted is set when cancellation stopped scheduling early.
	Interrupted bool

	mu sync.Mutex
}

func newSummary(runID string) *Summary {
	return &Summary{RunID: runID, StartedAt: time.Now().UTC()}
}

func (s *Summary) scheduled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Scheduled++
}

func (s *Summary) scheduledCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Scheduled
}

func (s *Summary) persisted(chunks []*core.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Persisted++
	s.Chunks += len(chunks)
	for _, c := range chunks {
		switch c.TagStatus {
		case core.TagStatusDefault:
			s.TagDefaulted++
		case core.TagStatusFailed:
			s.TagFailed++
		}
		switch c.EmbedStatus {
		case core.EmbedStatusEmbedded:
			s.Embedded++
		case core.EmbedStatusFailed:
			s.EmbedFailed++
		case core.EmbedStatusSkipped:
			s.EmbedSkipped++
		}
	}
}

func (s *Summary) skipped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Skipped++
}

func (s *Summary) failed(key core.SourceKey, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Failed++
	s.Failures = append(s.Failures, Failure{
		ExternalID: key.ExternalID,
		Type:       key.Type,
		Reason:     core.FailureReason(err),
		Err:        err,
	})
}

func (s *Summary) adapterFailed(typ core.SourceType, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AdapterErrors = append(s.AdapterErrors, AdapterError{Type: typ, Err: err})
}

func (s *Summary) interrupted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Interrupted = true
}

func (s *Summary) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FinishedAt = time.Now().UTC()
}

// Duration returns the wall time of the run.
func (s *Summary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// AvgChunksPerSource returns the mean number of chunks per persisted source.
func (s *Summary) AvgChunksPerSource() float64 {
	if s.Persisted == 0 {
		return 0
	}
	return float64(s.Chunks) / float64(s.Persisted)
}

// SuccessRate returns persisted sources as a percentage of persisted plus
// failed ones. Skipped sources are not counted.
func (s *Summary) SuccessRate() float64 {
	attempted := s.Persisted + s.Failed
	if attempted == 0 {
		return 0
	}
	return float64(s.Persisted) / float64(attempted) * 100
}

// Report writes a human readable run report to w.
func (s *Summary) Report(w io.Writer) error {
	rule := strings.Repeat("=", 72)
	thin := strings.Repeat("-", 72)
	d := s.Duration()

	var b strings.Builder
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "INGESTION RUN REPORT  %s\n", s.RunID)
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "Start time:        %s\n", s.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "End time:          %s\n", s.FinishedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Total duration:    %.2f seconds (%.2f minutes)\n", d.Seconds(), d.Minutes())
	if s.Interrupted {
		fmt.Fprintln(&b, "Run was interrupted before all sources were scheduled")
	}
	fmt.Fprintln(&b, thin)
	fmt.Fprintf(&b, "Scheduled sources: %d\n", s.Scheduled)
	fmt.Fprintf(&b, "Persisted sources: %d\n", s.Persisted)
	fmt.Fprintf(&b, "Skipped sources:   %d\n", s.Skipped)
	fmt.Fprintf(&b, "Failed sources:    %d\n", s.Failed)
	fmt.Fprintf(&b, "Total chunks:      %d\n", s.Chunks)
	fmt.Fprintf(&b, "Embedded chunks:   %d (failed %d, skipped %d)\n", s.Embedded, s.EmbedFailed, s.EmbedSkipped)
	fmt.Fprintf(&b, "Default tags:      %d (failed %d)\n", s.TagDefaulted, s.TagFailed)
	fmt.Fprintln(&b, thin)
	if s.Persisted+s.Failed > 0 {
		fmt.Fprintf(&b, "Average chunks per source: %.2f\n", s.AvgChunksPerSource())
		fmt.Fprintf(&b, "Success rate: %.2f%%\n", s.SuccessRate())
	}
	for _, f := range s.Failures {
		fmt.Fprintf(&b, "FAILED %s:%s [%s] %v\n", f.Type, f.ExternalID, f.Reason, f.Err)
	}
	for _, a := range s.AdapterErrors {
		fmt.Fprintf(&b, "ADAPTER %s: %v\n", a.Type, a.Err)
	}
	fmt.Fprintln(&b, rule)

	_, err := io.WriteString(w, b.String())
	return err
}
