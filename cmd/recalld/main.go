// Package main implements the recall server: the fast ingest endpoint, the
// per-kind enrichment workers and the control surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/phrazzld/recall/internal/config"
	"github.com/phrazzld/recall/internal/platform/logger"
)

func main() {
	envFile := flag.String("env", ".env", "Optional dotenv file loaded before configuration")
	migrateCmd := flag.String("migrate", "", "Run a migration command (up, status) and exit")
	flag.Parse()

	if err := loadEnvFile(*envFile); err != nil {
		log.Fatalf("Failed to load %s: %v", *envFile, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *migrateCmd); err != nil {
		slog.Error("recalld exited with error", "error", err)
		os.Exit(1)
	}
}

// run loads configuration, opens the database and either executes a
// migration command or serves until ctx is cancelled.
func run(ctx context.Context, migrateCmd string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	l, err := logger.Setup(logger.LoggerConfig{Level: cfg.Server.LogLevel})
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	l.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"database_driver", cfg.Database.Driver,
		"enrich_provider", cfg.Enrich.Provider)

	db, dialect, err := setupAppDatabase(ctx, cfg, l)
	if err != nil {
		return err
	}

	if migrateCmd != "" {
		defer func() { _ = db.Close() }()
		return handleMigrations(ctx, db, dialect, migrateCmd, os.Stdout, l)
	}

	app, err := newApplication(ctx, cfg, l, db, dialect)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return app.Run(ctx)
}

// loadEnvFile loads path into the environment when it exists. Variables
// already set take precedence.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
