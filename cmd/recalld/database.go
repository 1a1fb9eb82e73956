package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/recall/internal/config"
	"github.com/phrazzld/recall/internal/platform/postgres"
	"github.com/phrazzld/recall/internal/platform/sqlite"
	"github.com/phrazzld/recall/internal/platform/sqlstore"
)

// setupAppDatabase opens the configured engine and returns the dialect the
// task store needs to talk to it.
func setupAppDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sql.DB, sqlstore.Dialect, error) {
	var (
		db      *sql.DB
		dialect sqlstore.Dialect
		err     error
	)

	switch cfg.Database.Driver {
	case "postgres":
		db, err = postgres.Open(ctx, cfg.Database.URL, postgres.Options{
			MaxOpenConns: cfg.Database.MaxOpenConns,
		})
		dialect = postgres.Dialect{}
	case "sqlite":
		db, err = sqlite.Open(ctx, cfg.Database.URL, sqlite.Options{
			BusyTimeout:  time.Duration(cfg.Database.BusyTimeoutMS) * time.Millisecond,
			MaxOpenConns: cfg.Database.MaxOpenConns,
		})
		dialect = sqlite.Dialect{}
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	if err != nil {
		return nil, nil, err
	}

	logger.Info("Database connection established", "driver", dialect.Name())
	return db, dialect, nil
}
