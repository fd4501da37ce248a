package tagging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/civicrag/ai"
	"github.com/poiesic/civicrag/core"
	"github.com/poiesic/civicrag/retry"
	"golang.org/x/time/rate"
)

// Result is the outcome of tagging one chunk. Metadata is always usable:
// when Status is not TagStatusTagged it holds the neutral defaults and Err
// (wrapping core.ErrClassification) says why.
type Result struct {
	Metadata core.TagMetadata
	Status   core.TagStatus
	Err      error
}

// Tagger classifies chunk text into core.TagMetadata through an ai.Classifier.
// It has no mutable state and is safe for concurrent use.
type Tagger struct {
	classifier ai.Classifier
	limiter    *rate.Limiter
	policy     retry.Policy
	prompt     string
	logger     *slog.Logger
}

// Option configures a Tagger.
type Option func(*Tagger) error

// WithRetryPolicy sets the retry policy for classifier calls.
// Default is retry.DefaultPolicy() (2 attempts).
func WithRetryPolicy(policy retry.Policy) Option {
	return func(t *Tagger) error {
		if policy.MaxAttempts <= 0 {
			return retry.ErrInvalidMaxAttempts
		}
		t.policy = policy
		return nil
	}
}

// WithRateLimiter throttles classifier calls. A nil limiter disables throttling.
func WithRateLimiter(limiter *rate.Limiter) Option {
	return func(t *Tagger) error {
		t.limiter = limiter
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tagger) error {
		if logger == nil {
			logger = slog.Default()
		}
		t.logger = logger
		return nil
	}
}

// New creates a Tagger.
func New(classifier ai.Classifier, opts ...Option) (*Tagger, error) {
	if classifier == nil {
		return nil, ErrClassifierRequired
	}
	t := &Tagger{
		classifier: classifier,
		policy:     retry.DefaultPolicy(),
		prompt:     SystemPrompt(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	t.logger = t.logger.With("component", "tagger")
	return t, nil
}

// Tag classifies text. It never fails outright:
//
//   - a valid answer yields TagStatusTagged;
//   - an answer that cannot be used gets exactly one repair re-prompt;
//   - exhausted retries or a failed repair yield defaults with TagStatusDefault;
//   - cancellation before any answer yields defaults with TagStatusFailed.
func (t *Tagger) Tag(ctx context.Context, text string) Result {
	answer, err := t.ask(ctx, text)
	if err != nil {
		return t.giveUp(ctx, "classifier unavailable", err)
	}

	var failure ParseFailure
	switch res := Parse(answer).(type) {
	case ParsedMetadata:
		return t.tagged(res)
	case ParseFailure:
		failure = res
	}

	t.logger.Debug("classifier answer rejected, asking for repair", "kind", failure.Kind, "reason", failure.Reason)
	answer, err = t.ask(ctx, RepairMessage(text, failure))
	if err != nil {
		return t.giveUp(ctx, "repair request failed", err)
	}

	switch res := Parse(answer).(type) {
	case ParsedMetadata:
		return t.tagged(res)
	case ParseFailure:
		return t.giveUp(ctx, "repair answer rejected", res)
	}
	return t.giveUp(ctx, "repair answer rejected", failure)
}

// ask sends one message under the retry policy and the rate limiter.
func (t *Tagger) ask(ctx context.Context, message string) (string, error) {
	var answer string
	err := retry.Do(ctx, t.policy, func(ctx context.Context) error {
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		out, err := t.classifier.Classify(ctx, t.prompt, message)
		if err != nil {
			return err
		}
		answer = out
		return nil
	})
	return answer, err
}

func (t *Tagger) tagged(p ParsedMetadata) Result {
	if len(p.Dropped) > 0 {
		t.logger.Debug("dropped unknown taxonomy values", "values", p.Dropped)
	}
	return Result{Metadata: p.Metadata, Status: core.TagStatusTagged}
}

func (t *Tagger) giveUp(ctx context.Context, what string, cause error) Result {
	status := core.TagStatusDefault
	if ctx.Err() != nil && !errors.As(cause, new(ParseFailure)) {
		status = core.TagStatusFailed
	}
	t.logger.Warn("using default tags", "reason", what, "status", status, "err", cause)
	return Result{
		Metadata: core.DefaultTagMetadata(),
		Status:   status,
		Err:      fmt.Errorf("%w: %s: %w", core.ErrClassification, what, cause),
	}
}
