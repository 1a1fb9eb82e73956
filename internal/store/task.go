package store

import (
	"context"

	"github.com/phrazzld/recall/internal/domain"
)

// TaskStore is the single source of truth for capture task state. Every
// mutation is a conditional update that reports whether it changed a row;
// callers must not assume a transition happened.
// Version: 2.0
type TaskStore interface {
	// InsertPending inserts a task in the pending state.
	// Returns inserted=false (and no error) when the identity key already exists.
	InsertPending(ctx context.Context, task domain.NewTask) (id int64, inserted bool, err error)

	// ClaimNext returns the oldest (FIFO) or newest (LIFO) claimable task of the
	// given kind without changing it. Returns nil, nil when nothing is claimable.
	ClaimNext(ctx context.Context, kind domain.ArtifactKind, order domain.ClaimOrder) (*domain.Task, error)

	// MarkProcessing moves a pending or cancelled task to processing.
	MarkProcessing(ctx context.Context, id int64) (bool, error)

	// MarkCompleted stores the enrichment results of a processing task.
	MarkCompleted(ctx context.Context, id int64, results domain.Results) (bool, error)

	// MarkFailed resolves a processing task as failed with a reason.
	MarkFailed(ctx context.Context, id int64, reason string) (bool, error)

	// MarkCancelledIfProcessing resolves a processing task as cancelled.
	MarkCancelledIfProcessing(ctx context.Context, id int64) (bool, error)

	// CancelProcessing cancels every processing task of the given kind.
	CancelProcessing(ctx context.Context, kind domain.ArtifactKind) (int64, error)

	// ResetStuck moves every processing task of the given kind back to pending.
	// It is only safe to call when no worker for that kind is running.
	ResetStuck(ctx context.Context, kind domain.ArtifactKind) (int64, error)

	// CountPending counts claimable (pending or cancelled) tasks of a kind.
	CountPending(ctx context.Context, kind domain.ArtifactKind) (int, error)

	// CountByStatus reports queue depth per kind and status.
	CountByStatus(ctx context.Context) (map[domain.ArtifactKind]map[domain.TaskStatus]int, error)

	// Get retrieves a task by ID.
	// Returns ErrTaskNotFound if the task does not exist.
	Get(ctx context.Context, id int64) (*domain.Task, error)

	// GetByIdentity retrieves a task by its identity key.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByIdentity(ctx context.Context, identityKey string) (*domain.Task, error)

	// WithDB returns a TaskStore bound to the given connection or transaction.
	// Workers use this to pin one connection for the life of their loop.
	WithDB(db DBTX) TaskStore
}
