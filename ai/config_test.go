package ai

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ollamaHost = "http://localhost:11434/v1"

func TestDefaultConfig_TargetsLocalOllama(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, ProviderOpenAI, cfg.Provider)
	assert.Empty(t, cfg.APIKey, "a local server needs no key")
	assert.Equal(t, ollamaHost, cfg.EmbeddingHost)
	assert.Equal(t, cfg.EmbeddingHost, cfg.ClassifierHost)
	assert.Equal(t, "embeddinggemma", cfg.EmbeddingModel)
	assert.Equal(t, "qwen2.5:3b", cfg.ClassifierModel)
	assert.Equal(t, time.Minute, cfg.RequestTimeout)
	require.NoError(t, cfg.Validate())
}

func TestNewConfig_ProviderSetups(t *testing.T) {
	tests := []struct {
		name string
		opts []ConfigOption
		want Config
	}{
		{
			name: "ollama on another machine",
			opts: []ConfigOption{WithHost("http://gpu-box.lan:11434")},
			want: Config{
				Provider:        ProviderOpenAI,
				EmbeddingHost:   "http://gpu-box.lan:11434",
				ClassifierHost:  "http://gpu-box.lan:11434",
				EmbeddingModel:  "embeddinggemma",
				ClassifierModel: "qwen2.5:3b",
				RequestTimeout:  time.Minute,
			},
		},
		{
			name: "embeddings and tagging on separate servers",
			opts: []ConfigOption{
				WithEmbeddingHost("http://embed.lan:8080/v1"),
				WithClassifierHost("http://vllm.lan:8000/v1"),
				WithEmbeddingModel("multilingual-e5-large"),
				WithClassifierModel("sarvam-m"),
			},
			want: Config{
				Provider:        ProviderOpenAI,
				EmbeddingHost:   "http://embed.lan:8080/v1",
				ClassifierHost:  "http://vllm.lan:8000/v1",
				EmbeddingModel:  "multilingual-e5-large",
				ClassifierModel: "sarvam-m",
				RequestTimeout:  time.Minute,
			},
		},
		{
			name: "gemini with its default models",
			opts: []ConfigOption{
				WithProvider(ProviderGemini),
				WithAPIKey("gemini-key"),
				WithEmbeddingModel(DefaultGeminiEmbeddingModel),
				WithClassifierModel(DefaultGeminiClassifierModel),
				WithRequestTimeout(20 * time.Second),
			},
			want: Config{
				Provider:        ProviderGemini,
				APIKey:          "gemini-key",
				EmbeddingHost:   ollamaHost,
				ClassifierHost:  ollamaHost,
				EmbeddingModel:  "text-embedding-004",
				ClassifierModel: "gemini-1.5-flash",
				RequestTimeout:  20 * time.Second,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, &tt.want, NewConfig(tt.opts...))
		})
	}
}

func TestConfigNormalize(t *testing.T) {
	tests := []struct {
		name         string
		provider     string
		host         string
		wantProvider string
		wantHost     string
	}{
		{"openai host gains /v1", ProviderOpenAI, "http://localhost:11434", ProviderOpenAI, ollamaHost},
		{"trailing slash is folded", ProviderOpenAI, "http://localhost:11434/", ProviderOpenAI, ollamaHost},
		{"existing /v1 is kept", ProviderOpenAI, ollamaHost, ProviderOpenAI, ollamaHost},
		{"empty provider means openai", "", "http://vllm.lan:8000", ProviderOpenAI, "http://vllm.lan:8000/v1"},
		{"provider name is case-folded", " OpenAI ", "http://vllm.lan:8000", ProviderOpenAI, "http://vllm.lan:8000/v1"},
		{"empty host stays empty", ProviderOpenAI, "", ProviderOpenAI, ""},
		{"gemini hosts are left alone", " Gemini ", "http://embed.lan:8080", ProviderGemini, "http://embed.lan:8080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Provider: tt.provider, EmbeddingHost: tt.host, ClassifierHost: tt.host}
			cfg.Normalize()

			assert.Equal(t, tt.wantProvider, cfg.Provider)
			assert.Equal(t, tt.wantHost, cfg.EmbeddingHost)
			assert.Equal(t, tt.wantHost, cfg.ClassifierHost)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	gemini := func() *Config {
		return NewConfig(
			WithProvider(ProviderGemini),
			WithAPIKey("gemini-key"),
			WithHost(""),
			WithEmbeddingModel(DefaultGeminiEmbeddingModel),
			WithClassifierModel(DefaultGeminiClassifierModel),
		)
	}

	tests := []struct {
		name    string
		cfg     *Config
		wantErr string
	}{
		{"local defaults", NewConfig(), ""},
		{"gemini needs no host", gemini(), ""},
		{"openai without embedding host", NewConfig(WithEmbeddingHost("")), "EmbeddingHost"},
		{"openai without classifier host", NewConfig(WithClassifierHost("")), "ClassifierHost"},
		{"gemini without key", func() *Config { c := gemini(); c.APIKey = ""; return c }(), "APIKey"},
		{"openai key is optional", NewConfig(WithAPIKey("")), ""},
		{"missing embedding model", NewConfig(WithEmbeddingModel("")), "EmbeddingModel"},
		{"missing classifier model", NewConfig(WithProvider(ProviderGemini), WithAPIKey("gemini-key"), WithClassifierModel("")), "ClassifierModel"},
		{"unknown provider", NewConfig(WithProvider("bedrock")), "Provider"},
		{"negative timeout", NewConfig(WithRequestTimeout(-time.Second)), "RequestTimeout"},
		{"zero timeout disables the limit", NewConfig(WithRequestTimeout(0)), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigValidate_NormalizesHosts(t *testing.T) {
	cfg := NewConfig(WithHost("http://localhost:11434"))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ollamaHost, cfg.EmbeddingHost)
	assert.Equal(t, ollamaHost, cfg.ClassifierHost)
}

