package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"

	"github.com/phrazzld/recall/internal/platform/sqlstore"
)

// handleMigrations executes a migration command against db. Status output
// is written to out as one line per migration.
func handleMigrations(ctx context.Context, db *sql.DB, dialect sqlstore.Dialect, command string, out io.Writer, logger *slog.Logger) error {
	switch command {
	case "up":
		logger.Info("Executing migrations", "command", command)
		return sqlstore.Migrate(ctx, db, dialect, logger)

	case "status":
		states, err := sqlstore.MigrationStatus(ctx, db, dialect)
		if err != nil {
			return err
		}
		for _, s := range states {
			state := "pending"
			if s.Applied {
				state = "applied"
			}
			if _, err := fmt.Fprintf(out, "%05d %-8s %s\n", s.Version, state, s.Path); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown migration command %q (want up or status)", command)
	}
}
