package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/recall/internal/config"
	"github.com/phrazzld/recall/internal/domain"
	"github.com/phrazzld/recall/internal/enrich"
	"github.com/phrazzld/recall/internal/ingest"
	"github.com/phrazzld/recall/internal/metrics"
	"github.com/phrazzld/recall/internal/platform/gemini"
	"github.com/phrazzld/recall/internal/platform/sqlstore"
	"github.com/phrazzld/recall/internal/retry"
	"github.com/phrazzld/recall/internal/service/auth"
	"github.com/phrazzld/recall/internal/task"
	"github.com/phrazzld/recall/internal/toggle"
)

// application holds the shared dependencies so they can be wired once and
// torn down together.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	metrics   *metrics.Metrics
	taskStore *sqlstore.TaskStore
	registry  *toggle.Registry
	ingest    *ingest.Service
	tokens    auth.TokenService
	runner    *task.Runner
}

// newApplication migrates the schema and builds every component. The
// workers are not started until Run.
func newApplication(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	db *sql.DB,
	dialect sqlstore.Dialect,
) (*application, error) {
	app := &application{
		config:  cfg,
		logger:  logger,
		db:      db,
		metrics: metrics.New(),
	}

	if err := sqlstore.Migrate(ctx, db, dialect, logger); err != nil {
		return nil, err
	}

	app.taskStore = sqlstore.NewTaskStore(db, dialect,
		sqlstore.WithRetryPolicy(app.retryPolicy()),
		sqlstore.WithLogger(logger.With("component", "task_store")))

	app.registry = toggle.New(map[domain.ArtifactKind]bool{
		domain.KindScreenshot: cfg.Worker.ScreenshotEnabled,
		domain.KindVideo:      cfg.Worker.VideoEnabled,
		domain.KindAudio:      cfg.Worker.AudioEnabled,
	}, logger)
	app.registry.SetCanceller(app.taskStore)

	artifacts, err := ingest.NewArtifactStore(cfg.Storage.ArtifactDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize artifact store: %w", err)
	}
	app.ingest, err = ingest.NewService(app.taskStore, artifacts, app.registry, logger, app.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ingest service: %w", err)
	}

	app.tokens, err = auth.NewTokenService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}
	logger.Info("Device token service initialized", "token_lifetime", cfg.Auth.TokenLifetime)

	collaborators, err := buildCollaborators(ctx, cfg.Enrich, logger)
	if err != nil {
		return nil, err
	}

	app.runner = task.NewRunner(
		app.taskStore,
		db,
		app.registry,
		task.Pipelines(collaborators),
		task.RunnerConfig{
			LIFOThreshold: cfg.Worker.LIFOThreshold,
			IdleWait:      cfg.Worker.IdleWait,
			ClaimBackoff:  cfg.Worker.ClaimBackoff,
			ErrorPause:    cfg.Worker.ErrorPause,
		},
		logger,
		app.metrics,
	)

	logger.Info("Application initialized successfully")
	return app, nil
}

// retryPolicy builds the store write policy from config and counts every
// retry in metrics.
func (app *application) retryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: app.config.Retry.MaxAttempts,
		BaseDelay:   app.config.Retry.BaseDelay,
		MaxDelay:    app.config.Retry.MaxDelay,
		OnRetry: func(attempt int, err error) {
			app.metrics.StoreRetried()
			app.logger.Debug("store busy, retrying", "attempt", attempt, "error", err)
		},
	}
}

// buildCollaborators selects the enrichment services for the configured
// provider.
func buildCollaborators(ctx context.Context, cfg config.EnrichConfig, logger *slog.Logger) (task.Collaborators, error) {
	c := task.Collaborators{
		OCR:         enrich.StubExtractor{},
		Transcriber: enrich.StubExtractor{},
		Describer:   enrich.StubDescriber{},
		Embedder:    enrich.StubEmbedder{},
	}

	switch cfg.Provider {
	case "stub":
	case "http", "gemini":
		c.OCR = enrich.NewHTTPExtractor(cfg.OCRURL, cfg.Timeout)
		if cfg.TranscribeURL != "" {
			c.Transcriber = enrich.NewHTTPExtractor(cfg.TranscribeURL, cfg.Timeout)
		}
		if cfg.Provider == "gemini" {
			client, err := gemini.NewClient(ctx, logger, gemini.Config{
				APIKey:         cfg.GeminiAPIKey,
				VisionModel:    cfg.VisionModel,
				EmbeddingModel: cfg.EmbeddingModel,
			})
			if err != nil {
				return task.Collaborators{}, fmt.Errorf("failed to initialize gemini client: %w", err)
			}
			c.Describer = client
			c.Embedder = client
		}
	default:
		return task.Collaborators{}, fmt.Errorf("unknown enrichment provider %q", cfg.Provider)
	}

	logger.Info("Enrichment collaborators configured",
		"provider", cfg.Provider,
		"http_transcription", cfg.TranscribeURL != "")
	return c, nil
}

// Run starts the workers and serves HTTP until ctx is cancelled, then shuts
// both down and releases the database.
func (app *application) Run(ctx context.Context) error {
	if err := app.runner.Start(ctx); err != nil {
		app.cleanup()
		return fmt.Errorf("failed to start task runner: %w", err)
	}

	if err := app.startHTTPServer(ctx, app.setupRouter()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.runner != nil {
		app.runner.Stop()
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
