package sqlstore_test

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/phrazzld/recall/internal/domain"
	"github.com/phrazzld/recall/internal/platform/logger"
	"github.com/phrazzld/recall/internal/platform/sqlite"
	"github.com/phrazzld/recall/internal/platform/sqlstore"
	"github.com/phrazzld/recall/internal/retry"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func fastRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 8, BaseDelay: time.Millisecond, MaxDelay: 20 * time.Millisecond}
}

// newTestDB opens a migrated SQLite database in a temp directory.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "tasks.db"), sqlite.Options{
		BusyTimeout:  2 * time.Second,
		MaxOpenConns: 8,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, sqlstore.Migrate(ctx, db, sqlite.Dialect{}, logger.Discard()))
	return db
}

func newTestStore(t *testing.T) (*sqlstore.TaskStore, *sql.DB) {
	t.Helper()
	db := newTestDB(t)
	s := sqlstore.NewTaskStore(db, sqlite.Dialect{},
		sqlstore.WithRetryPolicy(fastRetry()),
		sqlstore.WithLogger(logger.Discard()))
	return s, db
}

// newCapture builds a screenshot task captured offset milliseconds after baseTime.
func newCapture(kind domain.ArtifactKind, offsetMS int) domain.NewTask {
	meta := domain.CaptureMetadata{
		CapturedAt:  baseTime.Add(time.Duration(offsetMS) * time.Millisecond),
		AppName:     "Terminal",
		WindowTitle: fmt.Sprintf("window %d", offsetMS),
	}
	return domain.NewTask{
		IdentityKey: meta.IdentityKey(kind),
		Kind:        kind,
		ArtifactRef: fmt.Sprintf("/artifacts/%s/%d.png", kind, offsetMS),
		Capture:     meta,
	}
}

func insert(t *testing.T, s *sqlstore.TaskStore, task domain.NewTask) int64 {
	t.Helper()
	id, inserted, err := s.InsertPending(context.Background(), task)
	require.NoError(t, err)
	require.True(t, inserted)
	return id
}
