package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTracker_Basic(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewTracker(&buf, 100, 10, "sources")

	tracker.Start()
	assert.True(t, tracker.started, "should be started")

	tracker.Increment(25)
	tracker.Increment(25)
	tracker.Increment(50)

	assert.Equal(t, 100, tracker.Current())
	assert.Greater(t, tracker.Elapsed(), time.Duration(0), "elapsed time should be positive")

	output := buf.String()
	assert.Contains(t, output, "100/100 sources", "should show completion")
	assert.Contains(t, output, "100.0%", "should show 100%")
}

func TestTracker_FinishKeepsCount(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewTracker(&buf, 100, 10, "sources")

	tracker.Start()
	tracker.Update(75)
	tracker.Finish()

	output := buf.String()
	assert.Contains(t, output, "75/100", "finish reports where the operation stopped")
	assert.True(t, strings.HasSuffix(output, "\n"), "finish should print newline")
}

func TestTracker_UnknownTotal(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewTracker(&buf, 0, 10, "chunks")

	tracker.Start()
	tracker.Increment(250)
	tracker.Finish()

	output := buf.String()
	assert.Contains(t, output, "Progress: 250 chunks")
	assert.NotContains(t, output, "%")
}

func TestTracker_AddTotal(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewTracker(&buf, 0, 1, "sources")

	tracker.Start()
	tracker.AddTotal(4)
	tracker.Increment(2)

	assert.Contains(t, buf.String(), "2/4 sources (50.0%)")
}

func TestTracker_IncrementBeyondTotal(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewTracker(&buf, 100, 10, "sources")

	tracker.Start()
	tracker.Increment(150)

	assert.Contains(t, buf.String(), "100/100", "should not exceed total")
}

func TestTracker_Rate(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewTracker(&buf, 1000, 100, "records")

	tracker.Start()
	time.Sleep(20 * time.Millisecond)
	tracker.Update(100)
	tracker.Finish()

	assert.Contains(t, buf.String(), "records/s", "should show rate")
}

func TestTracker_NotStarted(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewTracker(&buf, 100, 10, "sources")

	tracker.Increment(10)
	tracker.Finish()

	assert.Equal(t, "", buf.String(), "should have no output when not started")
}

func TestTracker_ReportInterval(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewTracker(&buf, 1000, 100, "records")

	tracker.Start()

	buf.Reset()
	tracker.Update(50)
	assert.Equal(t, "", buf.String(), "should not print under interval")

	buf.Reset()
	tracker.Update(100)
	assert.NotEmpty(t, buf.String(), "should print at interval")

	buf.Reset()
	tracker.Update(250)
	assert.NotEmpty(t, buf.String(), "should print beyond interval")
}

func TestTracker_NilWriter(t *testing.T) {
	tracker := NewTracker(nil, 10, 0, "sources")
	assert.NotPanics(t, func() {
		tracker.Start()
		tracker.Increment(5)
		tracker.Finish()
	})
}
