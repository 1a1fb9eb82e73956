package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/phrazzld/recall/internal/domain"
	"github.com/phrazzld/recall/internal/metrics"
	"github.com/phrazzld/recall/internal/store"
	"golang.org/x/sync/errgroup"
)

// RunnerConfig holds configuration for the runner and the workers it starts.
type RunnerConfig struct {
	// Kinds lists the artifact kinds to run workers for. Empty means all.
	Kinds []domain.ArtifactKind

	LIFOThreshold int
	IdleWait      time.Duration
	ClaimBackoff  time.Duration
	ErrorPause    time.Duration
}

// WorkerStatus is a point-in-time view of one worker.
type WorkerStatus struct {
	Kind      domain.ArtifactKind `json:"kind"`
	State     WorkerState         `json:"state"`
	Order     domain.ClaimOrder   `json:"order"`
	Recovered int64               `json:"recovered"`
	Processed int64               `json:"processed"`
}

// Runner starts one Worker per kind, each on its own pinned connection, and
// stops them together.
type Runner struct {
	store     store.TaskStore
	db        *sql.DB
	controls  Controls
	pipelines map[domain.ArtifactKind]Pipeline
	config    RunnerConfig
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu      sync.Mutex
	workers []*Worker
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// NewRunner creates a Runner. When db is non-nil every worker pins one
// connection from it for the life of its loop; otherwise workers share st.
func NewRunner(
	st store.TaskStore,
	db *sql.DB,
	controls Controls,
	pipelines map[domain.ArtifactKind]Pipeline,
	config RunnerConfig,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if len(config.Kinds) == 0 {
		config.Kinds = domain.AllArtifactKinds
	}
	return &Runner{
		store:     st,
		db:        db,
		controls:  controls,
		pipelines: pipelines,
		config:    config,
		logger:    logger.With("component", "task_runner"),
		metrics:   m,
	}
}

// Start launches the workers. It returns an error if a worker cannot be
// constructed or the runner is already started.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return errors.New("task runner already started")
	}

	workers := make([]*Worker, 0, len(r.config.Kinds))
	for _, kind := range r.config.Kinds {
		w, err := NewWorker(WorkerConfig{
			Kind:          kind,
			LIFOThreshold: r.config.LIFOThreshold,
			IdleWait:      r.config.IdleWait,
			ClaimBackoff:  r.config.ClaimBackoff,
			ErrorPause:    r.config.ErrorPause,
		}, r.store, r.controls, r.pipelines[kind], r.logger, r.metrics)
		if err != nil {
			return fmt.Errorf("failed to create %s worker: %w", kind, err)
		}
		workers = append(workers, w)
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(runCtx)
	for _, w := range workers {
		group.Go(func() error {
			return r.runWorker(gctx, w)
		})
	}

	r.workers = workers
	r.cancel = cancel
	r.group = group

	r.logger.Info("task runner started", "workers", len(workers))
	return nil
}

// runWorker pins a connection (retrying on failure) and runs w on it.
func (r *Runner) runWorker(ctx context.Context, w *Worker) error {
	if r.db == nil {
		return w.Run(ctx)
	}

	errorPause := w.cfg.ErrorPause
	for {
		conn, err := r.db.Conn(ctx)
		if err == nil {
			defer func() { _ = conn.Close() }()
			w.store = r.store.WithDB(conn)
			return w.Run(ctx)
		}
		if ctx.Err() != nil {
			return nil
		}
		r.logger.Error("failed to acquire worker connection",
			"kind", w.Kind(),
			"error", err)
		if !sleep(ctx, errorPause) {
			return nil
		}
	}
}

// Stop cancels every worker and waits for them to exit.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, group := r.cancel, r.group
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if err := group.Wait(); err != nil {
		r.logger.Error("worker exited with error", "error", err)
	}
	r.logger.Info("task runner stopped")
}

// Status reports every worker, ordered by kind.
func (r *Runner) Status() []WorkerStatus {
	r.mu.Lock()
	workers := append([]*Worker(nil), r.workers...)
	r.mu.Unlock()

	out := make([]WorkerStatus, 0, len(workers))
	for _, w := range workers {
		out = append(out, WorkerStatus{
			Kind:      w.Kind(),
			State:     w.State(),
			Order:     w.Order(),
			Recovered: w.Recovered(),
			Processed: w.Processed(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}
