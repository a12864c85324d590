package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jonathan/careercraft/internal/config"
	"github.com/jonathan/careercraft/internal/db"
	"github.com/jonathan/careercraft/internal/ingestion"
	"github.com/jonathan/careercraft/internal/observability"
	"github.com/jonathan/careercraft/internal/pipeline"
	"github.com/jonathan/careercraft/internal/records"
)

// newIngester builds the backend client. Tests replace it.
var newIngester = func(cfg config.Config) ingestion.Ingester {
	return ingestion.NewHTTPIngester(cfg.IngestURL, nil)
}

// app holds what every command needs: configuration, a logger and the
// record store on its configured backend.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	backend  records.Backend
	store    *records.Store
	database *db.DB

	// runTimeout overrides the configured run timeout when positive
	runTimeout time.Duration
}

// openApp loads configuration and opens the record store. With a database
// URL the collection lives in PostgreSQL, otherwise in the store file.
func openApp(ctx context.Context, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, err := observability.NewLogger(cfg.LogLevel, logOut)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}

	if cfg.DatabaseURL != "" {
		database, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := database.EnsureSchema(ctx); err != nil {
			database.Close()
			return nil, err
		}
		a.database = database
		a.backend = database.Collection(cfg.Collection)
		logger.Debug("using database record collection", slog.String("collection", cfg.Collection))
	} else {
		a.backend = records.NewFileBackend(cfg.StorePath)
		logger.Debug("using record file", slog.String("path", cfg.StorePath))
	}

	store, err := records.Open(ctx, a.backend, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store
	return a, nil
}

// Close releases the database pool, if any
func (a *app) Close() {
	if a.database != nil {
		a.database.Close()
	}
}

// requireDatabase fails commands that read the run journal without one
func (a *app) requireDatabase() error {
	if a.database == nil {
		return fmt.Errorf("run history requires a database: set DATABASE_URL or database_url in the config file")
	}
	return nil
}

// newOrchestrator wires the pipeline to the store and the backend client
func (a *app) newOrchestrator(onProgress pipeline.ProgressCallback) *pipeline.Orchestrator {
	opts := pipeline.DefaultOptions()
	opts.Logger = a.logger
	opts.MaxFileSize = a.cfg.MaxFileSizeBytes()
	opts.TickInterval = a.cfg.TickInterval()
	opts.TimeoutFactor = a.cfg.TimeoutFactor
	opts.RunTimeout = a.cfg.RunTimeout()
	if a.runTimeout > 0 {
		opts.RunTimeout = a.runTimeout
	}
	opts.PaceStages = a.cfg.PaceStagesEnabled()
	opts.OnProgress = onProgress

	return pipeline.NewOrchestrator(a.store, newIngester(a.cfg), opts)
}

// newJournal returns a run journal when a database is configured. The
// returned observe func is a no-op without one.
func (a *app) newJournal() (observe pipeline.ProgressCallback, closeFn func()) {
	if a.database == nil {
		return func(pipeline.ProgressEvent) {}, func() {}
	}
	j := db.NewJournal(a.database, a.logger)
	return j.Observe, j.Close
}

// fanOut calls every callback in order
func fanOut(callbacks ...pipeline.ProgressCallback) pipeline.ProgressCallback {
	return func(event pipeline.ProgressEvent) {
		for _, cb := range callbacks {
			cb(event)
		}
	}
}
