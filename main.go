// Package main implements a service and CLI that highlight Reddit comments
// posted since a reader's previous visit to a thread and collapse the
// branches that hold nothing new.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/storage"
	"github.com/joho/godotenv"

	"reddit-highlighter/config"
	"reddit-highlighter/pageview"
	"reddit-highlighter/scraper"
	hstorage "reddit-highlighter/storage"
	"reddit-highlighter/visits"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	// A missing .env file is fine
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newCLIApp(os.Stdout, os.Stderr)
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// deps holds everything a command needs, built from configuration.
type deps struct {
	cfg     *config.Config
	logger  *slog.Logger
	kv      visits.KV
	history *visits.History
	close   func()
}

func setup(ctx context.Context, configPath string, logOut io.Writer) (*deps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	kv, closeKV, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &deps{
		cfg:     cfg,
		logger:  logger,
		kv:      kv,
		history: visits.New(kv, logger),
		close:   closeKV,
	}, nil
}

// openStore selects the visit history backend: SQLite, then a Cloud Storage
// bucket, then a local directory.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (visits.KV, func(), error) {
	switch {
	case cfg.Storage.SQLitePath != "":
		db, err := hstorage.OpenSQLite(cfg.Storage.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return db, func() {
			if err := db.Close(); err != nil {
				logger.Warn("Failed to close database", "error", err)
			}
		}, nil

	case cfg.Storage.Bucket != "":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize storage client: %w", err)
		}
		logger.Info("Using Cloud Storage for visit history", "bucket", cfg.Storage.Bucket)
		return hstorage.New(client, cfg.Storage.Bucket, "", logger), func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}, nil

	default:
		logger.Debug("Using local storage for visit history", "storage_path", cfg.Storage.LocalPath)
		return hstorage.New(nil, "", cfg.Storage.LocalPath, logger), func() {}, nil
	}
}

func (d *deps) runner() *pageview.Runner {
	s := scraper.New(&http.Client{Timeout: d.cfg.HTTP.Timeout}, d.logger, scraper.Config{
		UserAgent: d.cfg.HTTP.UserAgent,
	})
	return pageview.New(s, d.history, pageview.Config{
		Logger:      d.logger,
		Expiration:  d.cfg.Expiration,
		StepDelay:   d.cfg.LoadAll.StepDelay,
		MaxFailures: d.cfg.LoadAll.MaxFailures,
		Inclusive:   d.cfg.InclusiveBoundary,
	})
}
