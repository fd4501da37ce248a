// Package config loads process settings from the environment.
//
// Load reads an optional .env file with godotenv first, so local development
// can keep credentials out of the shell. Variables already set in the
// environment win over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/poiesic/civicrag/ai"
	"github.com/poiesic/civicrag/archive"
	"github.com/poiesic/civicrag/chunking"
	"github.com/poiesic/civicrag/retry"
)

// Store backends.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreBadger   = "badger"
)

// DefaultMinContentChars is the shortest canonical text worth chunking.
const DefaultMinContentChars = 50

// Config holds every setting of a run.
type Config struct {
	Store       string
	DSN         string
	DatabaseURL string

	AIProvider          string
	AIHost              string
	EmbeddingModel      string
	ClassifierModel     string
	GeminiAPIKey        string
	AIRequestsPerSecond float64

	UserAgent   string
	ScrapeDelay time.Duration

	MaxRetries int
	RetryDelay time.Duration

	ChunkSize       int
	ChunkOverlap    int
	MinContentChars int

	EmbeddingsEnabled bool

	Workers      int
	ChunkWorkers int

	S3Bucket     string
	AWSRegion    string
	AWSAccessKey string
	AWSSecretKey string

	MetricsFile string
}

// Load reads the given env files (".env" when none are given) and then the
// environment. A missing default .env file is not an error.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		if len(envFiles) > 0 || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}
	return FromEnv(), nil
}

// FromEnv builds a Config from the current environment only.
func FromEnv() *Config {
	return &Config{
		Store:       getEnv("CIVICRAG_STORE", StoreSQLite),
		DSN:         getEnv("CIVICRAG_DSN", "civicrag.db"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		AIProvider:          getEnv("AI_PROVIDER", ai.ProviderOpenAI),
		AIHost:              getEnv("AI_HOST", "http://localhost:11434/v1"),
		EmbeddingModel:      getEnv("EMBEDDING_MODEL", ""),
		ClassifierModel:     getEnv("CLASSIFIER_MODEL", ""),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		AIRequestsPerSecond: getEnvFloat("AI_RPS", 0),

		UserAgent:   getEnv("USER_AGENT", ""),
		ScrapeDelay: getEnvDuration("SCRAPE_DELAY", 2*time.Second),

		MaxRetries: getEnvInt("MAX_RETRIES", 2),
		RetryDelay: getEnvDuration("RETRY_DELAY", time.Second),

		ChunkSize:       getEnvInt("CHUNK_SIZE", chunking.DefaultConfig().TargetSize),
		ChunkOverlap:    getEnvInt("CHUNK_OVERLAP", chunking.DefaultConfig().Overlap),
		MinContentChars: getEnvInt("MIN_CONTENT_CHARS", DefaultMinContentChars),

		EmbeddingsEnabled: getEnvBool("EMBEDDINGS_ENABLED", true),

		Workers:      getEnvInt("WORKERS", DefaultWorkers()),
		ChunkWorkers: getEnvInt("CHUNK_WORKERS", 4),

		S3Bucket:     getEnv("S3_BUCKET", ""),
		AWSRegion:    getEnv("AWS_REGION", ""),
		AWSAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AWSSecretKey: getEnv("AWS_SECRET_KEY", ""),

		MetricsFile: getEnv("METRICS_FILE", ""),
	}
}

// DefaultWorkers returns NumCPU/2, at least 1.
func DefaultWorkers() int {
	return max(runtime.NumCPU()/2, 1)
}

// Validate checks the settings that have no usable default.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreSQLite, StoreBadger:
		if c.DSN == "" {
			return fmt.Errorf("store config: DSN is required for %s", c.Store)
		}
	case StorePostgres:
		if c.PostgresDSN() == "" {
			return errors.New("store config: DATABASE_URL is required for postgres")
		}
	default:
		return fmt.Errorf("store config: unknown store %q", c.Store)
	}
	if c.MaxRetries < 1 {
		return errors.New("retry config: MaxRetries must be at least 1")
	}
	if c.Workers < 1 {
		return errors.New("pipeline config: Workers must be at least 1")
	}
	if c.ChunkWorkers < 1 {
		return errors.New("pipeline config: ChunkWorkers must be at least 1")
	}
	if err := c.ChunkingConfig().Validate(); err != nil {
		return err
	}
	return c.AIConfig().Validate()
}

// PostgresDSN returns DATABASE_URL, falling back to DSN when it looks like a postgres URL.
func (c *Config) PostgresDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	if strings.HasPrefix(c.DSN, "postgres://") || strings.HasPrefix(c.DSN, "postgresql://") {
		return c.DSN
	}
	return ""
}

// AIConfig returns the provider configuration.
func (c *Config) AIConfig() *ai.Config {
	opts := []ai.ConfigOption{
		ai.WithProvider(c.AIProvider),
		ai.WithHost(c.AIHost),
		ai.WithAPIKey(c.GeminiAPIKey),
	}
	embeddingModel, classifierModel := c.EmbeddingModel, c.ClassifierModel
	if strings.EqualFold(c.AIProvider, ai.ProviderGemini) {
		if embeddingModel == "" {
			embeddingModel = ai.DefaultGeminiEmbeddingModel
		}
		if classifierModel == "" {
			classifierModel = ai.DefaultGeminiClassifierModel
		}
	}
	if embeddingModel != "" {
		opts = append(opts, ai.WithEmbeddingModel(embeddingModel))
	}
	if classifierModel != "" {
		opts = append(opts, ai.WithClassifierModel(classifierModel))
	}
	return ai.NewConfig(opts...)
}

// ChunkingConfig returns the chunker configuration.
func (c *Config) ChunkingConfig() chunking.Config {
	return chunking.NewConfig(
		chunking.WithTargetSize(c.ChunkSize),
		chunking.WithOverlap(c.ChunkOverlap),
		chunking.WithMinChars(c.MinContentChars),
	)
}

// RetryPolicy returns the policy for outbound calls.
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = c.MaxRetries
	p.BaseDelay = c.RetryDelay
	return p
}

// ArchiveEnabled reports whether raw payloads should be archived to S3.
func (c *Config) ArchiveEnabled() bool {
	return c.S3Bucket != ""
}

// S3Config returns the archive configuration.
func (c *Config) S3Config() archive.S3Config {
	return archive.S3Config{
		Bucket:    c.S3Bucket,
		Region:    c.AWSRegion,
		AccessKey: c.AWSAccessKey,
		SecretKey: c.AWSSecretKey,
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring invalid integer", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("ignoring invalid number", "key", key, "value", v, "default", def)
		return def
	}
	return f
}

// getEnvDuration accepts Go durations ("1500ms") and bare numbers of seconds ("2").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	slog.Warn("ignoring invalid duration", "key", key, "value", v, "default", def)
	return def
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("ignoring invalid boolean", "key", key, "value", v, "default", def)
		return def
	}
	return b
}
