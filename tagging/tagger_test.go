package tagging

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/civicrag/ai/mock"
	"github.com/poiesic/civicrag/core"
	"github.com/poiesic/civicrag/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func newTestTagger(t *testing.T, classifier *mock.MockClassifier, attempts int) *Tagger {
	t.Helper()
	tagger, err := New(classifier, WithRetryPolicy(retry.Policy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		Sleep:       noSleep,
	}))
	require.NoError(t, err)
	return tagger
}

func TestNew_RequiresClassifier(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrClassifierRequired)
}

func TestNew_RejectsInvalidPolicy(t *testing.T) {
	_, err := New(mock.NewMockClassifier(), WithRetryPolicy(retry.Policy{}))
	assert.ErrorIs(t, err, retry.ErrInvalidMaxAttempts)
}

func TestTag_Success(t *testing.T) {
	classifier := mock.NewMockClassifier()
	tagger := newTestTagger(t, classifier, 2)

	res := tagger.Tag(context.Background(), "Water supply in ward 12 was restored; सड़क की मरम्मत बाकी है।")
	require.NoError(t, res.Err)
	assert.Equal(t, core.TagStatusTagged, res.Status)
	assert.Equal(t, []string{"water_supply", "road_damage"}, res.Metadata.Issues)
	assert.Equal(t, 1, classifier.CallCount())
	assert.Equal(t, SystemPrompt(), classifier.Prompts()[0])
}

func TestTag_TimeoutOnEveryAttemptFallsBackToDefaults(t *testing.T) {
	classifier := &mock.MockClassifier{
		ClassifyFunc: func(ctx context.Context, _, _ string) (string, error) {
			callCtx, cancel := context.WithTimeout(ctx, time.Nanosecond)
			defer cancel()
			<-callCtx.Done()
			return "", callCtx.Err()
		},
	}
	tagger := newTestTagger(t, classifier, 3)

	res := tagger.Tag(context.Background(), "इंदौर नगर निगम")
	assert.Equal(t, core.TagStatusDefault, res.Status)
	assert.Equal(t, core.DefaultTagMetadata(), res.Metadata)
	assert.ErrorIs(t, res.Err, core.ErrClassification)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Equal(t, 3, classifier.CallCount())
}

func TestTag_TransientErrorIsRetried(t *testing.T) {
	var calls atomic.Int32
	classifier := &mock.MockClassifier{
		ClassifyFunc: func(_ context.Context, _, text string) (string, error) {
			if calls.Add(1) == 1 {
				return "", errors.New("503 service unavailable")
			}
			return mock.KeywordAnswer(text), nil
		},
	}
	tagger := newTestTagger(t, classifier, 2)

	res := tagger.Tag(context.Background(), "hospital beds")
	require.NoError(t, res.Err)
	assert.Equal(t, core.TagStatusTagged, res.Status)
	assert.Equal(t, []string{"healthcare"}, res.Metadata.Issues)
	assert.Equal(t, 2, classifier.CallCount())
}

func TestTag_RepairSucceeds(t *testing.T) {
	var repairMessage string
	var calls atomic.Int32
	classifier := &mock.MockClassifier{
		ClassifyFunc: func(_ context.Context, _, text string) (string, error) {
			if calls.Add(1) == 1 {
				return `{"category": "sports"}`, nil
			}
			repairMessage = text
			return mock.KeywordAnswer("school"), nil
		},
	}
	tagger := newTestTagger(t, classifier, 2)

	res := tagger.Tag(context.Background(), "original chunk")
	require.NoError(t, res.Err)
	assert.Equal(t, core.TagStatusTagged, res.Status)
	assert.Equal(t, []string{"school_infrastructure"}, res.Metadata.Issues)
	assert.Equal(t, 2, classifier.CallCount())

	assert.True(t, strings.HasPrefix(repairMessage, "original chunk"))
	assert.Contains(t, repairMessage, `unknown category "sports"`)
	assert.Contains(t, repairMessage, `{"category": "sports"}`)
}

func TestTag_MalformedAnswerGetsOneRepair(t *testing.T) {
	classifier := &mock.MockClassifier{
		ClassifyFunc: func(context.Context, string, string) (string, error) {
			return "Sorry, I cannot help with that.", nil
		},
	}
	tagger := newTestTagger(t, classifier, 3)

	res := tagger.Tag(context.Background(), "text")
	assert.Equal(t, core.TagStatusDefault, res.Status)
	assert.Equal(t, core.DefaultTagMetadata(), res.Metadata)
	assert.ErrorIs(t, res.Err, core.ErrClassification)

	var failure ParseFailure
	require.ErrorAs(t, res.Err, &failure)
	assert.Equal(t, FailureMalformed, failure.Kind)
	// One original request and one repair; parse failures are not retried.
	assert.Equal(t, 2, classifier.CallCount())
}

func TestTag_RepairRequestFails(t *testing.T) {
	var calls atomic.Int32
	classifier := &mock.MockClassifier{
		ClassifyFunc: func(context.Context, string, string) (string, error) {
			if calls.Add(1) == 1 {
				return `{"category": "governance"}`, nil
			}
			return "", errors.New("connection reset")
		},
	}
	tagger := newTestTagger(t, classifier, 2)

	res := tagger.Tag(context.Background(), "text")
	assert.Equal(t, core.TagStatusDefault, res.Status)
	assert.ErrorIs(t, res.Err, core.ErrClassification)
	assert.Equal(t, 3, classifier.CallCount())
}

func TestTag_CancelledBeforeAnswer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	classifier := mock.NewMockClassifier()
	tagger := newTestTagger(t, classifier, 2)

	res := tagger.Tag(ctx, "text")
	assert.Equal(t, core.TagStatusFailed, res.Status)
	assert.Equal(t, core.DefaultTagMetadata(), res.Metadata)
	assert.ErrorIs(t, res.Err, core.ErrClassification)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Zero(t, classifier.CallCount())
}

func TestTag_CancelledDuringCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	classifier := &mock.MockClassifier{
		ClassifyFunc: func(ctx context.Context, _, _ string) (string, error) {
			cancel()
			return "", ctx.Err()
		},
	}
	tagger := newTestTagger(t, classifier, 3)

	res := tagger.Tag(ctx, "text")
	assert.Equal(t, core.TagStatusFailed, res.Status)
	assert.Equal(t, 1, classifier.CallCount())
}

func TestTag_RateLimiterIsHonoured(t *testing.T) {
	classifier := mock.NewMockClassifier()
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	tagger, err := New(classifier, WithRateLimiter(limiter), WithRetryPolicy(retry.Policy{MaxAttempts: 1, Sleep: noSleep}))
	require.NoError(t, err)

	first := tagger.Tag(context.Background(), "water")
	assert.Equal(t, core.TagStatusTagged, first.Status)

	// The burst is spent; the next call cannot get a token before the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	second := tagger.Tag(ctx, "water")
	assert.NotEqual(t, core.TagStatusTagged, second.Status)
	assert.Equal(t, 1, classifier.CallCount())
}
