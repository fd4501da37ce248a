// Package gemini implements the ai interfaces on Google Gemini through the
// generative-ai-go SDK. One genai.Client is shared by the classifier and the
// embedder and is closed with the provider.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/poiesic/civicrag/ai"
	"google.golang.org/api/option"
)

// Provider implements ai.AIProvider on Gemini.
type Provider struct {
	client     *genai.Client
	embedder   *Embedder
	classifier *Classifier
	logger     *slog.Logger
}

// NewProvider creates a Gemini provider. The config must select the Gemini provider
// and carry an API key.
func NewProvider(ctx context.Context, config *ai.Config) (ai.AIProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Provider != ai.ProviderGemini {
		return nil, fmt.Errorf("ai config: Provider must be %q, got %q", ai.ProviderGemini, config.Provider)
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	return &Provider{
		client: client,
		embedder: &Embedder{
			client:  client,
			model:   config.EmbeddingModel,
			timeout: config.RequestTimeout,
			logger:  slog.Default().With("component", "gemini-embedder"),
		},
		classifier: &Classifier{
			client:  client,
			model:   config.ClassifierModel,
			timeout: config.RequestTimeout,
			logger:  slog.Default().With("component", "gemini-classifier"),
		},
		logger: slog.Default().With("component", "gemini-provider"),
	}, nil
}

// Embedder returns the text embedding service.
func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// Classifier returns the text classification service.
func (p *Provider) Classifier() ai.Classifier {
	return p.classifier
}

// Close releases the underlying client connection.
func (p *Provider) Close() error {
	p.logger.Debug("closing Gemini provider")
	return p.client.Close()
}

// Classifier implements ai.Classifier with a Gemini generative model.
type Classifier struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// Classify sends text with systemPrompt as the system instruction and returns the
// concatenated text parts of the first candidate.
func (c *Classifier) Classify(ctx context.Context, systemPrompt, text string) (string, error) {
	m := c.client.GenerativeModel(c.model)
	m.SetTemperature(0)
	m.ResponseMIMEType = "application/json"
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}

	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := m.GenerateContent(ctx, genai.Text(text))
	if err != nil {
		c.logger.Warn("failed to generate content", "err", err)
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	out := candidateText(resp)
	if out == "" {
		return "", ai.ErrEmptyResponse
	}
	return out, nil
}

func candidateText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

// Embedder implements ai.Embedder with a Gemini embedding model.
type Embedder struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// EmbedText embeds a single text.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.EmbeddingModel(e.model).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if resp.Embedding == nil {
		return nil, ai.ErrEmptyResponse
	}
	return resp.Embedding.Values, nil
}

// EmbedTexts batches all texts into one request.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	e.logger.Debug("generating embeddings for texts", "count", len(texts))

	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	em := e.client.EmbeddingModel(e.model)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini batch embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d for %d texts", ai.ErrDimensionMismatch, len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, 0, len(resp.Embeddings))
	for _, emb := range resp.Embeddings {
		out = append(out, emb.Values)
	}
	return out, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
