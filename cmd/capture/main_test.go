package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/phrazzld/recall/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCapture(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("frames"), 0o644))
	modTime := time.UnixMilli(1_700_000_000_123)
	require.NoError(t, os.Chtimes(path, modTime, modTime))

	c, err := buildCapture(path, "", "", "player", "clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, domain.KindVideo, c.Kind)
	assert.Equal(t, int64(1_700_000_000_123), c.CapturedAt.UnixMilli())
	assert.Equal(t, "player", c.AppName)

	c, err = buildCapture(path, "audio", "2024-05-01T10:00:00Z", "", "")
	require.NoError(t, err)
	assert.Equal(t, domain.KindAudio, c.Kind)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), c.CapturedAt)

	_, err = buildCapture(path, "hologram", "", "", "")
	assert.ErrorIs(t, err, domain.ErrInvalidKind)

	_, err = buildCapture(path, "", "yesterday", "", "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = buildCapture(dir, "", "", "", "")
	assert.Error(t, err)

	_, err = buildCapture(filepath.Join(dir, "missing.png"), "", "", "", "")
	assert.Error(t, err)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--env", ""}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommands_BufferWhileServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"maintenance"}`, http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	bufferDir := filepath.Join(t.TempDir(), "buffer")
	t.Setenv("RECALL_AUTH_TOKEN_SECRET", "capture-cli-test-secret-long-enough")
	t.Setenv("RECALL_CLIENT_DEVICE_ID", "laptop")
	t.Setenv("RECALL_CLIENT_BUFFER_DIR", bufferDir)
	t.Setenv("RECALL_CLIENT_SERVER_URL", srv.URL)
	t.Setenv("RECALL_CLIENT_LOG_LEVEL", "error")

	shot := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(shot, []byte("pixels"), 0o644))

	out, err := execute(t, "send", shot, "--captured-at", "1000")
	require.NoError(t, err)
	assert.Contains(t, out, "server unavailable, buffered as")

	out, err = execute(t, "drain")
	require.NoError(t, err)
	assert.Contains(t, out, "uploaded 0, duplicate 0, rejected 0, remaining 1")

	out, err = execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "buffered: 1")
	assert.Contains(t, out, "server: unreachable")
}

func TestCommands_RequireDeviceID(t *testing.T) {
	t.Setenv("RECALL_AUTH_TOKEN_SECRET", "capture-cli-test-secret-long-enough")
	t.Setenv("RECALL_CLIENT_DEVICE_ID", "")
	t.Setenv("RECALL_CLIENT_BUFFER_DIR", t.TempDir())

	_, err := execute(t, "drain")
	assert.Error(t, err)
}
