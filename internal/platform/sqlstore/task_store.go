package sqlstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/phrazzld/recall/internal/domain"
	"github.com/phrazzld/recall/internal/retry"
	"github.com/phrazzld/recall/internal/store"
)

// Dialect captures what differs between the supported SQL engines.
type Dialect interface {
	// Name identifies the engine ("sqlite" or "postgres").
	Name() string

	// Rebind converts ? placeholders to the engine's native form.
	Rebind(query string) string

	// MapError translates driver errors to store sentinels. Lock contention
	// must map to store.ErrTransient.
	MapError(err error) error
}

const taskColumns = `id, identity_key, kind, status, artifact_ref, captured_at, app_name,
	window_title, device_id, extracted_text, description, embedding, attempts,
	error_message, created_at, updated_at`

const (
	insertPendingQuery = `
		INSERT INTO capture_tasks (identity_key, kind, status, artifact_ref, captured_at,
			app_name, window_title, device_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (identity_key) DO NOTHING
		RETURNING id`

	claimOldestQuery = `
		SELECT ` + taskColumns + `
		FROM capture_tasks
		WHERE kind = ? AND status IN (?, ?)
		ORDER BY captured_at ASC, id ASC
		LIMIT 1`

	claimNewestQuery = `
		SELECT ` + taskColumns + `
		FROM capture_tasks
		WHERE kind = ? AND status IN (?, ?)
		ORDER BY captured_at DESC, id DESC
		LIMIT 1`

	markProcessingQuery = `
		UPDATE capture_tasks
		SET status = ?, attempts = attempts + 1, error_message = '', updated_at = ?
		WHERE id = ? AND status IN (?, ?)`

	markCompletedQuery = `
		UPDATE capture_tasks
		SET status = ?, extracted_text = ?, description = ?, embedding = ?,
			error_message = '', updated_at = ?
		WHERE id = ? AND status = ?`

	markFailedQuery = `
		UPDATE capture_tasks
		SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?`

	transitionByIDQuery = `
		UPDATE capture_tasks
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`

	transitionByKindQuery = `
		UPDATE capture_tasks
		SET status = ?, updated_at = ?
		WHERE kind = ? AND status = ?`

	countClaimableQuery = `
		SELECT COUNT(*) FROM capture_tasks
		WHERE kind = ? AND status IN (?, ?)`

	countByStatusQuery = `
		SELECT kind, status, COUNT(*) FROM capture_tasks
		GROUP BY kind, status`

	getByIDQuery = `SELECT ` + taskColumns + ` FROM capture_tasks WHERE id = ?`

	getByIdentityQuery = `SELECT ` + taskColumns + ` FROM capture_tasks WHERE identity_key = ?`
)

// TaskStore implements store.TaskStore on database/sql for any Dialect.
type TaskStore struct {
	db      store.DBTX
	dialect Dialect
	policy  retry.Policy
	logger  *slog.Logger
	now     func() time.Time
}

// Option customizes a TaskStore.
type Option func(*TaskStore)

// WithRetryPolicy overrides the write retry schedule. The Retryable
// classifier is always store.IsTransientError.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *TaskStore) {
		s.policy = p
	}
}

// WithLogger sets the logger used to report retried writes.
func WithLogger(l *slog.Logger) Option {
	return func(s *TaskStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the timestamp source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *TaskStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewTaskStore creates a TaskStore over db using dialect for SQL differences.
func NewTaskStore(db store.DBTX, dialect Dialect, opts ...Option) *TaskStore {
	s := &TaskStore{
		db:      db,
		dialect: dialect,
		policy:  retry.DefaultPolicy(store.IsTransientError),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.policy.Retryable = store.IsTransientError
	if s.policy.OnRetry == nil {
		s.policy.OnRetry = func(attempt int, err error) {
			s.logger.Debug("store busy, retrying",
				"attempt", attempt,
				"dialect", s.dialect.Name(),
				"error", err)
		}
	}
	return s
}

// Ensure TaskStore implements store.TaskStore interface
var _ store.TaskStore = (*TaskStore)(nil)

// WithDB returns a copy of the store bound to db.
func (s *TaskStore) WithDB(db store.DBTX) store.TaskStore {
	clone := *s
	clone.db = db
	return &clone
}

// run executes op under the retry policy, mapping driver errors first so the
// policy can recognize contention.
func run[T any](ctx context.Context, s *TaskStore, operation string, op func(ctx context.Context) (T, error)) (T, error) {
	v, err := retry.Do(ctx, s.policy, func(ctx context.Context) (T, error) {
		v, err := op(ctx)
		if err != nil {
			return v, s.dialect.MapError(err)
		}
		return v, nil
	})
	if err == nil {
		return v, nil
	}
	if errors.Is(err, retry.ErrExhausted) {
		err = fmt.Errorf("%w: %w", store.ErrRetryExhausted, err)
	}
	return v, store.NewStoreError("task", operation, "query failed", err)
}

func (s *TaskStore) q(query string) string {
	return s.dialect.Rebind(query)
}

func (s *TaskStore) stamp() int64 {
	return s.now().UTC().UnixMilli()
}

// InsertPending inserts a pending task. A duplicate identity key leaves the
// existing row untouched and reports inserted=false.
func (s *TaskStore) InsertPending(ctx context.Context, task domain.NewTask) (int64, bool, error) {
	if err := task.Validate(); err != nil {
		return 0, false, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	type outcome struct {
		id       int64
		inserted bool
	}

	res, err := run(ctx, s, "insert_pending", func(ctx context.Context) (outcome, error) {
		now := s.stamp()
		var id int64
		err := s.db.QueryRowContext(ctx, s.q(insertPendingQuery),
			task.IdentityKey,
			string(task.Kind),
			string(domain.TaskStatusPending),
			task.ArtifactRef,
			task.Capture.CapturedAt.UTC().UnixMilli(),
			task.Capture.AppName,
			task.Capture.WindowTitle,
			task.Capture.DeviceID,
			now,
			now,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return outcome{}, nil
		}
		if err != nil {
			return outcome{}, err
		}
		return outcome{id: id, inserted: true}, nil
	})
	if err != nil {
		return 0, false, err
	}
	return res.id, res.inserted, nil
}

// ClaimNext returns the next claimable task of kind in the requested order
// without modifying it. Returns nil, nil when the queue is empty.
func (s *TaskStore) ClaimNext(ctx context.Context, kind domain.ArtifactKind, order domain.ClaimOrder) (*domain.Task, error) {
	var query string
	switch order {
	case domain.OrderFIFO:
		query = claimOldestQuery
	case domain.OrderLIFO:
		query = claimNewestQuery
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidClaimOrder, order)
	}

	return run(ctx, s, "claim_next", func(ctx context.Context) (*domain.Task, error) {
		row := s.db.QueryRowContext(ctx, s.q(query),
			string(kind),
			string(domain.TaskStatusPending),
			string(domain.TaskStatusCancelled),
		)
		t, err := scanTask(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return t, err
	})
}

// MarkProcessing claims a pending or cancelled task. Returns false when
// another worker got there first.
func (s *TaskStore) MarkProcessing(ctx context.Context, id int64) (bool, error) {
	return s.exec(ctx, "mark_processing", markProcessingQuery,
		string(domain.TaskStatusProcessing),
		s.stamp(),
		id,
		string(domain.TaskStatusPending),
		string(domain.TaskStatusCancelled),
	)
}

// MarkCompleted stores results for a processing task.
func (s *TaskStore) MarkCompleted(ctx context.Context, id int64, results domain.Results) (bool, error) {
	return s.exec(ctx, "mark_completed", markCompletedQuery,
		string(domain.TaskStatusCompleted),
		nullString(results.ExtractedText),
		nullString(results.Description),
		encodeEmbedding(results.Embedding),
		s.stamp(),
		id,
		string(domain.TaskStatusProcessing),
	)
}

// MarkFailed resolves a processing task as failed, keeping reason for operators.
func (s *TaskStore) MarkFailed(ctx context.Context, id int64, reason string) (bool, error) {
	return s.exec(ctx, "mark_failed", markFailedQuery,
		string(domain.TaskStatusFailed),
		reason,
		s.stamp(),
		id,
		string(domain.TaskStatusProcessing),
	)
}

// MarkCancelledIfProcessing resolves a processing task as cancelled.
func (s *TaskStore) MarkCancelledIfProcessing(ctx context.Context, id int64) (bool, error) {
	return s.exec(ctx, "mark_cancelled", transitionByIDQuery,
		string(domain.TaskStatusCancelled),
		s.stamp(),
		id,
		string(domain.TaskStatusProcessing),
	)
}

// CancelProcessing cancels every in-flight task of kind.
func (s *TaskStore) CancelProcessing(ctx context.Context, kind domain.ArtifactKind) (int64, error) {
	return s.execCount(ctx, "cancel_processing", transitionByKindQuery,
		string(domain.TaskStatusCancelled),
		s.stamp(),
		string(kind),
		string(domain.TaskStatusProcessing),
	)
}

// ResetStuck returns every processing task of kind to pending.
func (s *TaskStore) ResetStuck(ctx context.Context, kind domain.ArtifactKind) (int64, error) {
	return s.execCount(ctx, "reset_stuck", transitionByKindQuery,
		string(domain.TaskStatusPending),
		s.stamp(),
		string(kind),
		string(domain.TaskStatusProcessing),
	)
}

// CountPending counts claimable tasks of kind.
func (s *TaskStore) CountPending(ctx context.Context, kind domain.ArtifactKind) (int, error) {
	return run(ctx, s, "count_pending", func(ctx context.Context) (int, error) {
		var n int
		err := s.db.QueryRowContext(ctx, s.q(countClaimableQuery),
			string(kind),
			string(domain.TaskStatusPending),
			string(domain.TaskStatusCancelled),
		).Scan(&n)
		return n, err
	})
}

// CountByStatus reports how many tasks sit in each status, per kind. Every
// known kind and status is present in the result, zero-filled.
func (s *TaskStore) CountByStatus(ctx context.Context) (map[domain.ArtifactKind]map[domain.TaskStatus]int, error) {
	return run(ctx, s, "count_by_status", func(ctx context.Context) (map[domain.ArtifactKind]map[domain.TaskStatus]int, error) {
		out := make(map[domain.ArtifactKind]map[domain.TaskStatus]int, len(domain.AllArtifactKinds))
		for _, k := range domain.AllArtifactKinds {
			out[k] = make(map[domain.TaskStatus]int, len(domain.AllTaskStatuses))
			for _, st := range domain.AllTaskStatuses {
				out[k][st] = 0
			}
		}

		rows, err := s.db.QueryContext(ctx, s.q(countByStatusQuery))
		if err != nil {
			return nil, err
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var kind, status string
			var n int
			if err := rows.Scan(&kind, &status, &n); err != nil {
				return nil, err
			}
			k := domain.ArtifactKind(kind)
			if out[k] == nil {
				out[k] = make(map[domain.TaskStatus]int)
			}
			out[k][domain.TaskStatus(status)] = n
		}
		return out, rows.Err()
	})
}

// Get retrieves a task by ID.
func (s *TaskStore) Get(ctx context.Context, id int64) (*domain.Task, error) {
	return s.getOne(ctx, "get", getByIDQuery, id)
}

// GetByIdentity retrieves a task by its identity key.
func (s *TaskStore) GetByIdentity(ctx context.Context, identityKey string) (*domain.Task, error) {
	return s.getOne(ctx, "get_by_identity", getByIdentityQuery, identityKey)
}

func (s *TaskStore) getOne(ctx context.Context, operation, query string, arg any) (*domain.Task, error) {
	t, err := run(ctx, s, operation, func(ctx context.Context) (*domain.Task, error) {
		t, err := scanTask(s.db.QueryRowContext(ctx, s.q(query), arg))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return t, err
	})
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, store.ErrTaskNotFound
	}
	return t, nil
}

// exec runs a conditional single-row update and reports whether a row changed.
func (s *TaskStore) exec(ctx context.Context, operation, query string, args ...any) (bool, error) {
	n, err := s.execCount(ctx, operation, query, args...)
	return n > 0, err
}

func (s *TaskStore) execCount(ctx context.Context, operation, query string, args ...any) (int64, error) {
	return run(ctx, s, operation, func(ctx context.Context) (int64, error) {
		res, err := s.db.ExecContext(ctx, s.q(query), args...)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t                      domain.Task
		kind, status           string
		capturedAt             int64
		createdAt, updatedAt   int64
		extracted, description sql.NullString
		embedding              []byte
	)

	err := row.Scan(
		&t.ID,
		&t.IdentityKey,
		&kind,
		&status,
		&t.ArtifactRef,
		&capturedAt,
		&t.Capture.AppName,
		&t.Capture.WindowTitle,
		&t.Capture.DeviceID,
		&extracted,
		&description,
		&embedding,
		&t.Attempts,
		&t.ErrorMessage,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Kind = domain.ArtifactKind(kind)
	t.Status = domain.TaskStatus(status)
	t.Capture.CapturedAt = time.UnixMilli(capturedAt).UTC()
	t.CreatedAt = time.UnixMilli(createdAt).UTC()
	t.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if extracted.Valid {
		t.ExtractedText = &extracted.String
	}
	if description.Valid {
		t.Description = &description.String
	}
	if t.Embedding, err = decodeEmbedding(embedding); err != nil {
		return nil, fmt.Errorf("task %d: %w", t.ID, err)
	}
	return &t, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// encodeEmbedding packs vectors as little-endian float32s. Empty vectors are
// stored as NULL.
func encodeEmbedding(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
