package task

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/recall/internal/domain"
	"github.com/phrazzld/recall/internal/enrich"
	"github.com/phrazzld/recall/internal/platform/logger"
	"github.com/phrazzld/recall/internal/platform/sqlite"
	"github.com/phrazzld/recall/internal/platform/sqlstore"
	"github.com/phrazzld/recall/internal/retry"
	"github.com/phrazzld/recall/internal/toggle"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	db       *sql.DB
	store    *sqlstore.TaskStore
	registry *toggle.Registry
	dir      string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	db, err := sqlite.Open(ctx, filepath.Join(dir, "tasks.db"), sqlite.Options{
		BusyTimeout:  2 * time.Second,
		MaxOpenConns: 8,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlstore.Migrate(ctx, db, sqlite.Dialect{}, logger.Discard()))

	st := sqlstore.NewTaskStore(db, sqlite.Dialect{},
		sqlstore.WithRetryPolicy(retry.Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}),
		sqlstore.WithLogger(logger.Discard()))

	reg := toggle.New(map[domain.ArtifactKind]bool{
		domain.KindScreenshot: true,
		domain.KindVideo:      true,
		domain.KindAudio:      true,
	}, logger.Discard())
	reg.SetCanceller(st)

	return &testEnv{db: db, store: st, registry: reg, dir: dir}
}

// addTask writes an artifact file and inserts a pending task captured
// offsetMS after epoch.
func (e *testEnv) addTask(t *testing.T, kind domain.ArtifactKind, offsetMS int) int64 {
	t.Helper()
	meta := domain.CaptureMetadata{
		CapturedAt:  epoch.Add(time.Duration(offsetMS) * time.Millisecond),
		AppName:     "Browser",
		WindowTitle: fmt.Sprintf("tab %d", offsetMS),
	}
	path := filepath.Join(e.dir, fmt.Sprintf("%s-%d.bin", kind, offsetMS))
	require.NoError(t, os.WriteFile(path, []byte("artifact bytes"), 0o600))

	id, inserted, err := e.store.InsertPending(context.Background(), domain.NewTask{
		IdentityKey: meta.IdentityKey(kind),
		Kind:        kind,
		ArtifactRef: path,
		Capture:     meta,
	})
	require.NoError(t, err)
	require.True(t, inserted)
	return id
}

func (e *testEnv) status(t *testing.T, id int64) domain.TaskStatus {
	t.Helper()
	got, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)
	return got.Status
}

// currentStatus is safe to call from Eventually conditions.
func (e *testEnv) currentStatus(id int64) domain.TaskStatus {
	got, err := e.store.Get(context.Background(), id)
	if err != nil {
		return ""
	}
	return got.Status
}

func fastConfig(kind domain.ArtifactKind) WorkerConfig {
	return WorkerConfig{
		Kind:          kind,
		LIFOThreshold: 3,
		IdleWait:      10 * time.Millisecond,
		ClaimBackoff:  time.Millisecond,
		ErrorPause:    time.Millisecond,
	}
}

// stageRecorder records which stages ran, in order.
type stageRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *stageRecorder) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

func (r *stageRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func stubCollaborators() Collaborators {
	return Collaborators{
		OCR:         enrich.StubExtractor{},
		Transcriber: enrich.StubExtractor{},
		Describer:   enrich.StubDescriber{},
		Embedder:    enrich.StubEmbedder{},
	}
}

func newTestWorker(t *testing.T, e *testEnv, cfg WorkerConfig, p Pipeline) *Worker {
	t.Helper()
	w, err := NewWorker(cfg, e.store, e.registry, p, logger.Discard(), nil)
	require.NoError(t, err)
	return w
}
