package uploader_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/recall/internal/api"
	"github.com/phrazzld/recall/internal/buffer"
	"github.com/phrazzld/recall/internal/config"
	"github.com/phrazzld/recall/internal/domain"
	"github.com/phrazzld/recall/internal/ingest"
	"github.com/phrazzld/recall/internal/metrics"
	"github.com/phrazzld/recall/internal/platform/logger"
	"github.com/phrazzld/recall/internal/platform/sqlite"
	"github.com/phrazzld/recall/internal/platform/sqlstore"
	"github.com/phrazzld/recall/internal/service/auth"
	"github.com/phrazzld/recall/internal/toggle"
	"github.com/phrazzld/recall/internal/uploader"
	"github.com/stretchr/testify/require"
)

const testSecret = "uploader-test-secret-long-enough!!"

// server is a real ingest endpoint behind a switch that answers 503 while
// offline.
type server struct {
	*httptest.Server
	store  *sqlstore.TaskStore
	online atomic.Bool
}

func newServer(t *testing.T) *server {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	db, err := sqlite.Open(ctx, filepath.Join(dir, "server.db"), sqlite.Options{BusyTimeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlstore.Migrate(ctx, db, sqlite.Dialect{}, logger.Discard()))

	st := sqlstore.NewTaskStore(db, sqlite.Dialect{}, sqlstore.WithLogger(logger.Discard()))
	reg := toggle.New(map[domain.ArtifactKind]bool{
		domain.KindScreenshot: true,
		domain.KindVideo:      true,
		domain.KindAudio:      true,
	}, logger.Discard())
	reg.SetCanceller(st)
	m := metrics.New()

	artifacts, err := ingest.NewArtifactStore(filepath.Join(dir, "artifacts"))
	require.NoError(t, err)
	svc, err := ingest.NewService(st, artifacts, reg, logger.Discard(), m)
	require.NoError(t, err)

	router := api.NewRouter(api.RouterDeps{
		Captures: api.NewCaptureHandler(svc, logger.Discard()),
		Tasks:    api.NewTaskHandler(st, logger.Discard()),
		Control:  api.NewControlHandler(reg, st, nil, m, time.Minute, logger.Discard()),
		Tokens:   newTokens(t),
		Metrics:  m.Handler(),
		Logger:   logger.Discard(),
	})

	s := &server{store: st}
	s.online.Store(true)
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.online.Load() {
			http.Error(w, `{"error":"maintenance"}`, http.StatusServiceUnavailable)
			return
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func newTokens(t *testing.T) auth.TokenService {
	t.Helper()
	tokens, err := auth.NewTokenService(config.AuthConfig{TokenSecret: testSecret, TokenLifetime: time.Hour})
	require.NoError(t, err)
	return tokens
}

func newClient(t *testing.T, serverURL string) (*uploader.Client, *buffer.Store) {
	t.Helper()
	buf, err := buffer.Open(filepath.Join(t.TempDir(), "buffer"), logger.Discard())
	require.NoError(t, err)

	client, err := uploader.New(uploader.Config{
		ServerURL:      serverURL,
		DeviceID:       "laptop",
		BatchSize:      1,
		RequestTimeout: 5 * time.Second,
	}, buf, newTokens(t), logger.Discard())
	require.NoError(t, err)
	return client, buf
}

// writeArtifact creates a small file for upload and returns its path.
func writeArtifact(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func capture(path string, ms int64) uploader.Capture {
	return uploader.Capture{
		Kind:        domain.KindScreenshot,
		CapturedAt:  time.UnixMilli(ms).UTC(),
		AppName:     "editor",
		WindowTitle: "notes.md",
		Path:        path,
	}
}
