package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/phrazzld/recall/internal/api"
	"github.com/phrazzld/recall/internal/config"
	"github.com/phrazzld/recall/internal/domain"
	"github.com/phrazzld/recall/internal/ingest"
	"github.com/phrazzld/recall/internal/metrics"
	"github.com/phrazzld/recall/internal/platform/logger"
	"github.com/phrazzld/recall/internal/platform/sqlite"
	"github.com/phrazzld/recall/internal/platform/sqlstore"
	"github.com/phrazzld/recall/internal/service/auth"
	"github.com/phrazzld/recall/internal/toggle"
	"github.com/stretchr/testify/require"
)

const testSecret = "api-test-secret-that-is-long-enough"

type testServer struct {
	*httptest.Server
	store    *sqlstore.TaskStore
	registry *toggle.Registry
	metrics  *metrics.Metrics
	token    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	db, err := sqlite.Open(ctx, filepath.Join(dir, "api.db"), sqlite.Options{BusyTimeout: 2 * time.Second})
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

	tokens, err := auth.NewTokenService(config.AuthConfig{TokenSecret: testSecret, TokenLifetime: time.Hour})
	require.NoError(t, err)
	token, err := tokens.GenerateToken(ctx, "laptop")
	require.NoError(t, err)

	router := api.NewRouter(api.RouterDeps{
		Captures: api.NewCaptureHandler(svc, logger.Discard()),
		Tasks:    api.NewTaskHandler(st, logger.Discard()),
		Control:  api.NewControlHandler(reg, st, nil, m, time.Minute, logger.Discard()),
		Tokens:   tokens,
		Metrics:  m.Handler(),
		Logger:   logger.Discard(),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, store: st, registry: reg, metrics: m, token: token}
}

// captureForm builds a multipart capture upload. Empty values are omitted.
func captureForm(t *testing.T, fields map[string]string, artifact []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if v != "" {
			require.NoError(t, mw.WriteField(k, v))
		}
	}
	if artifact != nil {
		fw, err := mw.CreateFormFile(api.FormArtifact, "capture.png")
		require.NoError(t, err)
		_, err = fw.Write(artifact)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (s *testServer) do(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (s *testServer) postCapture(t *testing.T, kind domain.ArtifactKind, capturedAtMS int64, artifact []byte) *http.Response {
	t.Helper()
	body, ct := captureForm(t, map[string]string{
		api.FormKind:        string(kind),
		api.FormCapturedAt:  strconv.FormatInt(capturedAtMS, 10),
		api.FormAppName:     "Editor",
		api.FormWindowTitle: "main.go",
	}, artifact)
	return s.do(t, http.MethodPost, "/api/captures", body, ct)
}

func (s *testServer) putJSON(t *testing.T, path string, v any) *http.Response {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return s.do(t, http.MethodPut, path, bytes.NewReader(b), "application/json")
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}
