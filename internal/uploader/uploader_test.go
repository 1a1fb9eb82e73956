package uploader_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/phrazzld/recall/internal/buffer"
	"github.com/phrazzld/recall/internal/domain"
	"github.com/phrazzld/recall/internal/platform/logger"
	"github.com/phrazzld/recall/internal/uploader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Validation(t *testing.T) {
	buf, err := buffer.Open(t.TempDir(), logger.Discard())
	require.NoError(t, err)
	tokens := newTokens(t)

	_, err = uploader.New(uploader.Config{DeviceID: "laptop"}, buf, tokens, nil)
	assert.Error(t, err, "server url is required")

	_, err = uploader.New(uploader.Config{ServerURL: "http://localhost"}, buf, tokens, nil)
	assert.Error(t, err, "device id is required")

	_, err = uploader.New(uploader.Config{ServerURL: "http://localhost", DeviceID: "laptop"}, nil, tokens, nil)
	assert.Error(t, err, "buffer is required")

	_, err = uploader.New(uploader.Config{ServerURL: "http://localhost", DeviceID: "laptop"}, buf, nil, nil)
	assert.Error(t, err, "token service is required")
}

func TestSend_UploadsAndDetectsDuplicates(t *testing.T) {
	srv := newServer(t)
	client, buf := newClient(t, srv.URL)
	ctx := context.Background()
	path := writeArtifact(t, t.TempDir(), "shot.png", "pixels")

	first, err := client.Send(ctx, capture(path, 1000))
	require.NoError(t, err)
	assert.Equal(t, uploader.OutcomeAccepted, first.Outcome)
	assert.Positive(t, first.TaskID)
	assert.Empty(t, first.BufferID)

	second, err := client.Send(ctx, capture(path, 1000))
	require.NoError(t, err)
	assert.Equal(t, uploader.OutcomeDuplicate, second.Outcome)
	assert.Equal(t, first.TaskID, second.TaskID)

	task, err := srv.store.GetByIdentity(ctx, "laptop:screenshot:1000")
	require.NoError(t, err)
	assert.Equal(t, "editor", task.Capture.AppName)
	assert.Equal(t, "notes.md", task.Capture.WindowTitle)

	n, err := buf.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSend_BuffersWhenServerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, buf := newClient(t, url)
	ctx := context.Background()
	path := writeArtifact(t, t.TempDir(), "shot.png", "pixels")

	res, err := client.Send(ctx, capture(path, 1000))
	require.NoError(t, err)
	assert.Equal(t, uploader.OutcomeUnavailable, res.Outcome)
	assert.NotEmpty(t, res.BufferID)

	items, err := buf.DequeueBatch(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "shot.png", items[0].Filename)
	assert.Equal(t, "screenshot", items[0].Metadata[uploader.MetaKind])
	assert.Equal(t, "laptop", items[0].Metadata[uploader.MetaDeviceID])
	assert.Equal(t, "1970-01-01T00:00:01Z", items[0].Metadata[uploader.MetaCapturedAt])
}

func TestSend_RejectedIsNotBuffered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid artifact kind"}`))
	}))
	t.Cleanup(srv.Close)

	client, buf := newClient(t, srv.URL)
	path := writeArtifact(t, t.TempDir(), "shot.png", "pixels")

	res, err := client.Send(context.Background(), capture(path, 1000))
	require.ErrorIs(t, err, uploader.ErrRejected)
	assert.Equal(t, uploader.OutcomeRejected, res.Outcome)
	assert.Equal(t, "invalid artifact kind", res.Detail)

	n, err := buf.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

// TestDrain_OfflineThenOnline buffers two captures while the server is down
// and checks they arrive oldest first once it is back.
func TestDrain_OfflineThenOnline(t *testing.T) {
	srv := newServer(t)
	client, buf := newClient(t, srv.URL)
	ctx := context.Background()
	dir := t.TempDir()

	srv.online.Store(false)
	a, err := client.Send(ctx, capture(writeArtifact(t, dir, "a.png", "first"), 1000))
	require.NoError(t, err)
	b, err := client.Send(ctx, capture(writeArtifact(t, dir, "b.png", "second"), 1010))
	require.NoError(t, err)
	assert.NotEmpty(t, a.BufferID)
	assert.NotEmpty(t, b.BufferID)

	stats, err := client.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Uploaded)
	assert.Equal(t, 2, stats.Remaining, "nothing is lost while offline")

	srv.online.Store(true)
	stats, err = client.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Uploaded)
	assert.Zero(t, stats.Remaining)

	n, err := buf.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	first, err := srv.store.GetByIdentity(ctx, "laptop:screenshot:1000")
	require.NoError(t, err)
	second, err := srv.store.GetByIdentity(ctx, "laptop:screenshot:1010")
	require.NoError(t, err)
	assert.Less(t, first.ID, second.ID, "buffered captures are uploaded in FIFO order")
	assert.Equal(t, domain.TaskStatusPending, first.Status)
}

func TestDrain_AcknowledgementHandling(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		wantStats    uploader.DrainStats
		wantRejected int
	}{
		{name: "conflict commits", status: http.StatusConflict, wantStats: uploader.DrainStats{Duplicate: 2}},
		{name: "bad request sets aside", status: http.StatusBadRequest, wantStats: uploader.DrainStats{Rejected: 2}, wantRejected: 2},
		{name: "server error keeps items", status: http.StatusInternalServerError, wantStats: uploader.DrainStats{Remaining: 2}},
		{name: "rate limited keeps items", status: http.StatusTooManyRequests, wantStats: uploader.DrainStats{Remaining: 2}},
		{name: "unauthorized keeps items", status: http.StatusUnauthorized, wantStats: uploader.DrainStats{Remaining: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope","id":7}`))
			}))
			t.Cleanup(srv.Close)

			client, buf := newClient(t, srv.URL)
			ctx := context.Background()
			for _, name := range []string{"a.png", "b.png"} {
				_, err := buf.Enqueue(ctx, strings.NewReader(name), name, map[string]any{
					uploader.MetaKind:       "screenshot",
					uploader.MetaCapturedAt: "1970-01-01T00:00:01Z",
					uploader.MetaDeviceID:   "laptop",
				})
				require.NoError(t, err)
			}

			stats, err := client.Drain(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStats, stats)

			rejected, _ := os.ReadDir(filepath.Join(buf.Dir(), "rejected"))
			assert.Len(t, rejected, tt.wantRejected*2, "artifact and metadata are kept together")
		})
	}
}

func TestUpload_SendsDeviceToken(t *testing.T) {
	var (
		mu     sync.Mutex
		header string
		fields = map[string]string{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		header = r.Header.Get("Authorization")
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":11}`))
	}))
	t.Cleanup(srv.Close)

	client, _ := newClient(t, srv.URL)
	path := writeArtifact(t, t.TempDir(), "shot.png", "pixels")

	res, err := client.Send(context.Background(), capture(path, 1000))
	require.NoError(t, err)
	assert.Equal(t, int64(11), res.TaskID)

	mu.Lock()
	defer mu.Unlock()
	require.True(t, strings.HasPrefix(header, "Bearer "))
	claims, err := newTokens(t).ValidateToken(context.Background(), strings.TrimPrefix(header, "Bearer "))
	require.NoError(t, err)
	assert.Equal(t, "laptop", claims.DeviceID)
	assert.Equal(t, map[string]string{
		"kind":         "screenshot",
		"captured_at":  "1970-01-01T00:00:01Z",
		"app_name":     "editor",
		"window_title": "notes.md",
		"device_id":    "laptop",
	}, fields)
}

func TestHeartbeatAndStatus(t *testing.T) {
	srv := newServer(t)
	client, _ := newClient(t, srv.URL)
	ctx := context.Background()

	require.NoError(t, client.Heartbeat(ctx))

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.ProducerOnline)
	assert.Equal(t, "laptop", status.ProducerDevice)
	assert.True(t, status.Flags["processing.screenshot"])

	srv.online.Store(false)
	assert.Error(t, client.Heartbeat(ctx))
	_, err = client.Status(ctx)
	assert.Error(t, err)
}

func TestOutcome(t *testing.T) {
	assert.True(t, uploader.OutcomeAccepted.Acknowledged())
	assert.True(t, uploader.OutcomeDuplicate.Acknowledged())
	assert.False(t, uploader.OutcomeRejected.Acknowledged())
	assert.False(t, uploader.OutcomeUnavailable.Acknowledged())
	assert.Equal(t, "duplicate", uploader.OutcomeDuplicate.String())
}
