// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/poiesic/civicrag"
	"github.com/poiesic/civicrag/config"
	"github.com/poiesic/civicrag/core"
	"github.com/poiesic/civicrag/ingestion"
	"github.com/poiesic/civicrag/reembed"
	"github.com/poiesic/civicrag/retry"
	"github.com/poiesic/civicrag/sources"
	"github.com/poiesic/civicrag/storage"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "civicrag",
		Usage: "Ingest Hindi/English civic content into a searchable chunk store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Read settings from this .env file instead of ./.env",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Fetch, chunk, tag, embed and store sources",
				Action: runCommand,
				Flags: append(storeFlags(),
					&cli.StringFlag{
						Name:  "types",
						Usage: "Comma-separated source types to run (government, media, youtube, social)",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of sources to schedule (0 = unlimited)",
					},
					&cli.BoolFlag{
						Name:  "skip-embeddings",
						Usage: "Store chunks without vectors",
					},
					&cli.StringFlag{
						Name:  "url",
						Usage: "Ingest only this URL",
					},
					&cli.StringFlag{
						Name:  "url-type",
						Usage: "Source type of --url",
						Value: string(core.SourceTypeMedia),
					},
					&cli.StringFlag{
						Name:  "seeds",
						Usage: "TOML file listing the targets of each source type",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of sources processed concurrently",
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum attempts for failed external calls",
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
					},
					&cli.StringFlag{
						Name:  "metrics-file",
						Usage: "Write Prometheus metrics to this file after the run",
					},
				),
			},
			{
				Name:   "backfill-embeddings",
				Usage:  "Embed stored chunks that have no vector",
				Action: backfillCommand,
				Flags: append(storeFlags(),
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of chunks to process in each batch",
						Value: reembed.DefaultBatchSize,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N chunks",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed operations",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
				),
			},
			{
				Name:   "migrate",
				Usage:  "Create or upgrade the store schema",
				Action: migrateCommand,
				Flags:  storeFlags(),
			},
		},
	}
}

func storeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "store",
			Usage: "Store backend (sqlite, postgres, badger)",
		},
		&cli.StringFlag{
			Name:  "dsn",
			Usage: "SQLite file, badger directory or postgres URL",
		},
	}
}

// loadConfig reads the environment and applies the flags set on the command line.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var files []string
	if f := c.String("env-file"); f != "" {
		files = append(files, f)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, err
	}

	if c.IsSet("store") {
		cfg.Store = c.String("store")
	}
	if c.IsSet("dsn") {
		cfg.DSN = c.String("dsn")
		if cfg.Store == config.StorePostgres {
			cfg.DatabaseURL = cfg.DSN
		}
	}
	if c.IsSet("workers") {
		cfg.Workers = c.Int("workers")
	}
	if c.IsSet("max-retries") {
		cfg.MaxRetries = c.Int("max-retries")
	}
	if c.IsSet("retry-delay") {
		cfg.RetryDelay = c.Duration("retry-delay")
	}
	if c.IsSet("metrics-file") {
		cfg.MetricsFile = c.String("metrics-file")
	}
	if c.Bool("skip-embeddings") {
		cfg.EmbeddingsEnabled = false
	}
	return cfg, nil
}

func parseTypes(list string) ([]core.SourceType, error) {
	var types []core.SourceType
	for _, s := range strings.Split(list, ",") {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		t, err := core.ParseSourceType(s)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

func runCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	types, err := parseTypes(c.String("types"))
	if err != nil {
		return err
	}
	urlType, err := core.ParseSourceType(strings.ToLower(c.String("url-type")))
	if err != nil {
		return fmt.Errorf("url-type: %w", err)
	}
	if c.Int("limit") < 0 {
		return fmt.Errorf("limit must not be negative")
	}

	var seeds []sources.Target
	if path := c.String("seeds"); path != "" {
		seeds, err = sources.LoadSeeds(path)
		if err != nil {
			return fmt.Errorf("failed to load seeds: %w", err)
		}
	}

	svc, err := civicrag.Open(ctx, cfg, civicrag.WithSeeds(seeds))
	if err != nil {
		return fmt.Errorf("failed to open service: %w", err)
	}
	defer svc.Close()

	pipeline, err := svc.NewPipeline(ingestion.WithProgress(os.Stderr, 10))
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer pipeline.Release()

	fmt.Fprintf(os.Stderr, "Store: %s (%s)\n", cfg.Store, cfg.DSN)
	fmt.Fprintf(os.Stderr, "AI provider: %s\n", cfg.AIProvider)
	fmt.Fprintf(os.Stderr, "Embeddings: %t\n", cfg.EmbeddingsEnabled)
	fmt.Fprintln(os.Stderr)

	summary, runErr := pipeline.Run(ctx, ingestion.RunRequest{
		SourceTypes:       types,
		Limit:             c.Int("limit"),
		EmbeddingsEnabled: cfg.EmbeddingsEnabled,
		URL:               c.String("url"),
		URLType:           urlType,
	})
	if summary != nil {
		if err := summary.Report(os.Stdout); err != nil {
			slog.Error("failed to write report", "err", err)
		}
	}
	if err := svc.WriteMetrics(); err != nil {
		slog.Error("failed to write metrics", "file", cfg.MetricsFile, "err", err)
	}
	if runErr != nil {
		return cli.Exit(fmt.Sprintf("ingestion failed: %v", runErr), 1)
	}
	return nil
}

func backfillCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backfillConfig := &reembed.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		Policy: retry.Policy{
			MaxAttempts: c.Int("max-retries"),
			BaseDelay:   c.Duration("retry-delay"),
			MaxDelay:    30 * time.Second,
		},
	}

	// Validate config
	if backfillConfig.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if backfillConfig.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if backfillConfig.Policy.MaxAttempts <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	svc, err := civicrag.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open service: %w", err)
	}
	defer svc.Close()

	backfiller, err := svc.NewBackfiller(backfillConfig, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create backfiller: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Store: %s (%s)\n", cfg.Store, cfg.DSN)
	fmt.Fprintf(os.Stderr, "Embedding model: %s\n", cfg.AIConfig().EmbeddingModel)
	fmt.Fprintln(os.Stderr)

	if _, err := backfiller.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("backfill failed: %w", err)
	}
	return nil
}

func migrateCommand(c *cli.Context) error {
	ctx := context.Background()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	store, err := civicrag.OpenStore(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	if m, ok := store.(storage.Migrator); ok {
		if err := m.Migrate(ctx); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	fmt.Fprintf(os.Stderr, "Store %s is up to date\n", cfg.Store)
	return nil
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	// Map string to slog.Level
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
