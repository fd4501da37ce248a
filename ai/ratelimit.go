package ai

import (
	"context"

	"golang.org/x/time/rate"
)

// NewLimiter returns a token-bucket limiter allowing rps requests per second
// with the given burst. A non-positive rps returns nil, meaning unlimited.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

type rateLimitedClassifier struct {
	next    Classifier
	limiter *rate.Limiter
}

// NewRateLimitedClassifier wraps c so every call first waits for a token from limiter.
// A nil limiter returns c unchanged.
func NewRateLimitedClassifier(c Classifier, limiter *rate.Limiter) Classifier {
	if limiter == nil {
		return c
	}
	return &rateLimitedClassifier{next: c, limiter: limiter}
}

func (r *rateLimitedClassifier) Classify(ctx context.Context, systemPrompt, text string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return r.next.Classify(ctx, systemPrompt, text)
}

type rateLimitedEmbedder struct {
	next    Embedder
	limiter *rate.Limiter
}

// NewRateLimitedEmbedder wraps e so every call first waits for a token from limiter.
// A batch call consumes one token. A nil limiter returns e unchanged.
func NewRateLimitedEmbedder(e Embedder, limiter *rate.Limiter) Embedder {
	if limiter == nil {
		return e
	}
	return &rateLimitedEmbedder{next: e, limiter: limiter}
}

func (r *rateLimitedEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.EmbedText(ctx, text)
}

func (r *rateLimitedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.EmbedTexts(ctx, texts)
}
