package task

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/phrazzld/recall/internal/domain"
	"github.com/phrazzld/recall/internal/enrich"
	"github.com/phrazzld/recall/internal/metrics"
	"github.com/phrazzld/recall/internal/store"
)

// Controls is the view of the toggle registry a worker needs.
// *toggle.Registry implements it.
type Controls interface {
	Enabled(kind domain.ArtifactKind) bool
	Generation() int64
	WaitForChange(ctx context.Context, timeout time.Duration) bool
}

// WorkerState is the lifecycle state of a worker.
type WorkerState string

// Worker states
const (
	WorkerStopped WorkerState = "stopped"
	WorkerRunning WorkerState = "running"
)

// WorkerConfig holds the scheduling knobs of one worker.
type WorkerConfig struct {
	Kind domain.ArtifactKind

	// LIFOThreshold switches to newest-first once this many tasks are
	// claimable. Zero keeps FIFO.
	LIFOThreshold int

	// IdleWait bounds how long the worker waits for a change notification
	// when disabled or idle.
	IdleWait time.Duration

	// ClaimBackoff is the pause after losing a claim race.
	ClaimBackoff time.Duration

	// ErrorPause is the pause after a store error before the loop continues.
	ErrorPause time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.IdleWait <= 0 {
		c.IdleWait = 5 * time.Second
	}
	if c.ClaimBackoff <= 0 {
		c.ClaimBackoff = 200 * time.Millisecond
	}
	if c.ErrorPause <= 0 {
		c.ErrorPause = 2 * time.Second
	}
	return c
}

// releaseTimeout bounds the write that releases a task when the worker is
// stopped mid-task.
const releaseTimeout = 5 * time.Second

// outcome is what a single loop iteration did.
type outcome int

const (
	outcomeDisabled outcome = iota
	outcomeIdle
	outcomeRaced
	outcomeProcessed
	outcomeStoreError
)

// Worker drains the claimable tasks of one artifact kind.
type Worker struct {
	cfg      WorkerConfig
	store    store.TaskStore
	controls Controls
	pipeline Pipeline
	logger   *slog.Logger
	metrics  *metrics.Metrics

	state     atomic.Value // WorkerState
	order     atomic.Value // domain.ClaimOrder
	recovered atomic.Int64
	processed atomic.Int64
}

// NewWorker creates a worker. st should be bound to a connection the worker
// owns for its whole loop (see store.TaskStore.WithDB).
func NewWorker(
	cfg WorkerConfig,
	st store.TaskStore,
	controls Controls,
	pipeline Pipeline,
	logger *slog.Logger,
	m *metrics.Metrics,
) (*Worker, error) {
	if !cfg.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidKind, cfg.Kind)
	}
	if err := pipeline.validate(cfg.Kind); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := &Worker{
		cfg:      cfg.withDefaults(),
		store:    st,
		controls: controls,
		pipeline: pipeline,
		logger:   logger.With("component", "worker", "kind", cfg.Kind),
		metrics:  m,
	}
	w.state.Store(WorkerStopped)
	w.order.Store(domain.OrderFIFO)
	return w, nil
}

// Kind returns the artifact kind this worker drains.
func (w *Worker) Kind() domain.ArtifactKind { return w.cfg.Kind }

// State reports whether the worker loop is running.
func (w *Worker) State() WorkerState { return w.state.Load().(WorkerState) }

// Order reports the claim order used by the most recent claim.
func (w *Worker) Order() domain.ClaimOrder { return w.order.Load().(domain.ClaimOrder) }

// Recovered reports how many tasks were reset by the last crash recovery.
func (w *Worker) Recovered() int64 { return w.recovered.Load() }

// Processed reports how many tasks this worker has taken through its pipeline.
func (w *Worker) Processed() int64 { return w.processed.Load() }

// Run resets stuck tasks and then loops until ctx is done. Store failures
// inside the loop are logged and followed by a bounded pause; they never end
// the loop. Run returns nil when stopped through ctx.
func (w *Worker) Run(ctx context.Context) error {
	w.state.Store(WorkerRunning)
	defer w.state.Store(WorkerStopped)

	w.logger.Info("worker starting",
		"lifo_threshold", w.cfg.LIFOThreshold,
		"stages", w.pipeline.Names())

	if !w.resetStuck(ctx) {
		return nil
	}

	for ctx.Err() == nil {
		w.step(ctx)
	}

	w.logger.Info("worker stopped", "processed", w.Processed())
	return nil
}

// resetStuck resets processing rows left by a previous crash. It retries until
// it succeeds or ctx is done, reporting which.
func (w *Worker) resetStuck(ctx context.Context) bool {
	for {
		n, err := w.store.ResetStuck(ctx, w.cfg.Kind)
		if err == nil {
			w.recovered.Store(n)
			w.metrics.SetRecovered(w.cfg.Kind, n)
			if n > 0 {
				w.logger.Warn("reset tasks left processing by a previous run", "count", n)
			}
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		w.logger.Error("failed to reset stuck tasks", "error", err)
		if !sleep(ctx, w.cfg.ErrorPause) {
			return false
		}
	}
}

// step runs one iteration of the scheduling loop.
func (w *Worker) step(ctx context.Context) outcome {
	// Snapshot before the enabled check so a disable that lands anywhere
	// between here and MarkProcessing is seen by process.
	gen := w.controls.Generation()
	if !w.controls.Enabled(w.cfg.Kind) {
		w.controls.WaitForChange(ctx, w.cfg.IdleWait)
		return outcomeDisabled
	}

	pending, err := w.store.CountPending(ctx, w.cfg.Kind)
	if err != nil {
		return w.storeError(ctx, "count pending", err)
	}
	if pending == 0 {
		w.controls.WaitForChange(ctx, w.cfg.IdleWait)
		return outcomeIdle
	}

	order := domain.OrderFor(pending, w.cfg.LIFOThreshold)
	if prev := w.Order(); prev != order {
		w.logger.Info("claim order changed", "from", prev, "to", order, "pending", pending)
	}
	w.order.Store(order)
	w.metrics.SetOrder(w.cfg.Kind, order)

	t, err := w.store.ClaimNext(ctx, w.cfg.Kind, order)
	if err != nil {
		return w.storeError(ctx, "claim next", err)
	}
	if t == nil {
		w.logger.Debug("queue drained between count and claim")
		sleep(ctx, w.cfg.ClaimBackoff)
		return outcomeRaced
	}

	ok, err := w.store.MarkProcessing(ctx, t.ID)
	if err != nil {
		return w.storeError(ctx, "mark processing", err)
	}
	if !ok {
		w.logger.Debug("lost claim race", "task_id", t.ID)
		sleep(ctx, w.cfg.ClaimBackoff)
		return outcomeRaced
	}

	w.process(ctx, t, gen)
	w.processed.Add(1)
	return outcomeProcessed
}

func (w *Worker) storeError(ctx context.Context, op string, err error) outcome {
	if ctx.Err() == nil {
		w.logger.Error("store operation failed, pausing",
			"operation", op,
			"pause", w.cfg.ErrorPause,
			"error", err)
		sleep(ctx, w.cfg.ErrorPause)
	}
	return outcomeStoreError
}

// process drives one claimed task to a terminal status. gen is the
// generation observed before the task was claimed.
func (w *Worker) process(ctx context.Context, t *domain.Task, gen int64) {
	log := w.logger.With("task_id", t.ID, "identity_key", t.IdentityKey, "generation", gen)

	if live := w.controls.Generation(); live != gen {
		log.Info("processing generation changed before start, cancelling task", "live_generation", live)
		w.cancel(ctx, log, t)
		return
	}

	if _, err := os.Stat(t.ArtifactRef); err != nil {
		reason := fmt.Sprintf("artifact unavailable: %v", err)
		if errors.Is(err, fs.ErrNotExist) {
			reason = "artifact missing"
		}
		log.Warn("failing task without running pipeline", "reason", reason)
		w.fail(ctx, log, t, reason)
		return
	}

	job := &Job{
		Task: t,
		Artifact: enrich.Artifact{
			TaskID:  t.ID,
			Kind:    t.Kind,
			Path:    t.ArtifactRef,
			Capture: t.Capture,
		},
	}

	log.Info("processing task", "attempt", t.Attempts+1)
	started := time.Now()

	for _, stage := range w.pipeline.Stages {
		if ctx.Err() != nil {
			w.release(ctx, log, t, "worker stopping")
			return
		}
		if live := w.controls.Generation(); live != gen {
			log.Info("processing generation changed, cancelling task",
				"stage", stage.Name,
				"live_generation", live)
			w.cancel(ctx, log, t)
			return
		}

		stageStart := time.Now()
		err := stage.Run(ctx, job)
		w.metrics.ObserveStage(t.Kind, stage.Name, time.Since(stageStart))

		if err != nil {
			if ctx.Err() != nil {
				w.release(ctx, log, t, "worker stopping")
				return
			}
			log.Error("stage failed", "stage", stage.Name, "error", err)
			w.fail(ctx, log, t, fmt.Sprintf("%s: %v", stage.Name, err))
			return
		}
		log.Debug("stage completed", "stage", stage.Name, "duration_ms", time.Since(stageStart).Milliseconds())
	}

	ok, err := w.store.MarkCompleted(ctx, t.ID, job.Results)
	switch {
	case err != nil:
		log.Error("failed to mark task completed", "error", err)
	case !ok:
		log.Info("task no longer processing, results discarded")
	default:
		w.metrics.Resolved(t.Kind, domain.TaskStatusCompleted)
		log.Info("task completed", "duration_ms", time.Since(started).Milliseconds())
	}
}

func (w *Worker) fail(ctx context.Context, log *slog.Logger, t *domain.Task, reason string) {
	ok, err := w.store.MarkFailed(ctx, t.ID, reason)
	if err != nil {
		log.Error("failed to mark task failed", "error", err)
		return
	}
	if ok {
		w.metrics.Resolved(t.Kind, domain.TaskStatusFailed)
	}
}

func (w *Worker) cancel(ctx context.Context, log *slog.Logger, t *domain.Task) {
	ok, err := w.store.MarkCancelledIfProcessing(ctx, t.ID)
	if err != nil {
		log.Error("failed to mark task cancelled", "error", err)
		return
	}
	if ok {
		w.metrics.Resolved(t.Kind, domain.TaskStatusCancelled)
	}
}

// release cancels a task the worker is abandoning because it is stopping, so
// the next run can claim it again. ctx is already done, so the write uses a
// detached context with its own deadline.
func (w *Worker) release(ctx context.Context, log *slog.Logger, t *domain.Task, reason string) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if _, err := w.store.MarkCancelledIfProcessing(wctx, t.ID); err != nil {
		log.Warn("failed to release task, it will be reset at next start", "reason", reason, "error", err)
		return
	}
	log.Info("released task", "reason", reason)
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
