package sqlstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/recall/internal/platform/logger"
	"github.com/phrazzld/recall/internal/platform/postgres"
	"github.com/phrazzld/recall/internal/platform/sqlstore"
	"github.com/phrazzld/recall/internal/retry"
	"github.com/phrazzld/recall/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T, attempts int) (*sqlstore.TaskStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := sqlstore.NewTaskStore(db, postgres.Dialect{},
		sqlstore.WithRetryPolicy(retry.Policy{
			MaxAttempts: attempts,
			BaseDelay:   time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
		}),
		sqlstore.WithLogger(logger.Discard()),
		sqlstore.WithClock(func() time.Time { return baseTime }))
	return s, mock
}

func TestRetry_AbsorbsTransientContention(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t, 5)

	busy := &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
	mock.ExpectExec(`UPDATE capture_tasks`).WillReturnError(busy)
	mock.ExpectExec(`UPDATE capture_tasks`).WillReturnError(busy)
	mock.ExpectExec(`UPDATE capture_tasks`).
		WithArgs("processing", baseTime.UnixMilli(), int64(7), "pending", "cancelled").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.MarkProcessing(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetry_ExhaustedBudgetSurfaces(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t, 3)

	deadlock := &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}
	for i := 0; i < 3; i++ {
		mock.ExpectExec(`UPDATE capture_tasks`).WillReturnError(deadlock)
	}

	_, err := s.MarkFailed(context.Background(), 7, "boom")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrRetryExhausted)
	assert.ErrorIs(t, err, store.ErrTransient)

	var storeErr *store.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "mark_failed", storeErr.Operation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetry_PermanentErrorNotRetried(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t, 5)

	mock.ExpectExec(`UPDATE capture_tasks`).
		WillReturnError(&pgconn.PgError{Code: "23514", ConstraintName: "capture_tasks_status_check"})

	_, err := s.CancelProcessing(context.Background(), "video")
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
	assert.NotErrorIs(t, err, store.ErrRetryExhausted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPlaceholders(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t, 1)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM capture_tasks\s+WHERE kind = \$1 AND status IN \(\$2, \$3\)`).
		WithArgs("audio", "pending", "cancelled").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	n, err := s.CountPending(context.Background(), "audio")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
