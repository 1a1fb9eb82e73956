// Package uploader is the capture client's transport. It uploads captures
// to the ingest endpoint, falls back to the durable buffer when the server
// is unreachable, and drains the buffer once it is back.
package uploader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/phrazzld/recall/internal/api"
	"github.com/phrazzld/recall/internal/buffer"
	"github.com/phrazzld/recall/internal/domain"
	"github.com/phrazzld/recall/internal/service/auth"
	"golang.org/x/time/rate"
)

// Metadata keys stored with buffered captures.
const (
	MetaKind        = "kind"
	MetaCapturedAt  = "captured_at"
	MetaAppName     = "app_name"
	MetaWindowTitle = "window_title"
	MetaDeviceID    = "device_id"
)

// ErrRejected is returned when the server permanently refuses a capture.
var ErrRejected = errors.New("capture rejected by server")

// Outcome classifies a single upload attempt.
type Outcome int

// Upload outcomes
const (
	// OutcomeAccepted means the server inserted a new task.
	OutcomeAccepted Outcome = iota
	// OutcomeDuplicate means the server already had the capture.
	OutcomeDuplicate
	// OutcomeRejected means the server will never accept the capture.
	OutcomeRejected
	// OutcomeUnavailable means the upload should be retried later.
	OutcomeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unavailable"
	}
}

// Acknowledged reports whether the server now holds the capture.
func (o Outcome) Acknowledged() bool {
	return o == OutcomeAccepted || o == OutcomeDuplicate
}

// Capture is one artifact on local disk plus its metadata.
type Capture struct {
	Kind        domain.ArtifactKind
	CapturedAt  time.Time
	AppName     string
	WindowTitle string
	Path        string
}

// Result reports what happened to a capture.
type Result struct {
	Outcome  Outcome
	TaskID   int64
	BufferID string
	Detail   string
}

// Config holds the client's transport settings.
type Config struct {
	ServerURL        string
	DeviceID         string
	BatchSize        int
	UploadsPerSecond float64
	RequestTimeout   time.Duration
}

// Client uploads captures and drains the buffer.
type Client struct {
	http     *resty.Client
	buffer   *buffer.Store
	limiter  *rate.Limiter
	deviceID string
	batch    int
	logger   *slog.Logger
}

// New creates a Client. Every request carries a fresh device token from
// tokens.
func New(cfg Config, buf *buffer.Store, tokens auth.TokenService, logger *slog.Logger) (*Client, error) {
	if cfg.ServerURL == "" {
		return nil, errors.New("server url cannot be empty")
	}
	if cfg.DeviceID == "" {
		return nil, auth.ErrEmptyDeviceID
	}
	if buf == nil {
		return nil, errors.New("buffer cannot be nil")
	}
	if tokens == nil {
		return nil, errors.New("token service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	limit := rate.Inf
	if cfg.UploadsPerSecond > 0 {
		limit = rate.Limit(cfg.UploadsPerSecond)
	}

	httpClient := resty.New().
		SetBaseURL(cfg.ServerURL).
		SetHeader("Accept", "application/json")
	if cfg.RequestTimeout > 0 {
		httpClient.SetTimeout(cfg.RequestTimeout)
	}
	deviceID := cfg.DeviceID
	httpClient.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		token, err := tokens.GenerateToken(r.Context(), deviceID)
		if err != nil {
			return fmt.Errorf("failed to create device token: %w", err)
		}
		r.SetAuthToken(token)
		return nil
	})

	return &Client{
		http:     httpClient,
		buffer:   buf,
		limiter:  rate.NewLimiter(limit, 1),
		deviceID: deviceID,
		batch:    cfg.BatchSize,
		logger:   logger.With("component", "uploader"),
	}, nil
}

// Send uploads c. When the server is unavailable the capture is buffered
// instead and the result carries the buffer ID. A permanent rejection
// returns ErrRejected and nothing is buffered.
func (c *Client) Send(ctx context.Context, capture Capture) (Result, error) {
	f, err := os.Open(capture.Path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open capture: %w", err)
	}
	defer func() { _ = f.Close() }()

	meta := c.metadata(capture)
	res, err := c.upload(ctx, meta, filepath.Base(capture.Path), f)
	if err != nil && ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	switch res.Outcome {
	case OutcomeAccepted, OutcomeDuplicate:
		return res, nil
	case OutcomeRejected:
		return res, fmt.Errorf("%w: %s", ErrRejected, res.Detail)
	}

	c.logger.Info("server unavailable, buffering capture", "path", filepath.Base(capture.Path), "error", err)
	id, berr := c.buffer.EnqueueFile(ctx, capture.Path, meta)
	if berr != nil {
		return res, fmt.Errorf("upload failed and buffering failed: %w", errors.Join(err, berr))
	}
	res.BufferID = id
	return res, nil
}

// DrainStats summarizes one Drain call.
type DrainStats struct {
	Uploaded  int
	Duplicate int
	Rejected  int
	Remaining int
}

// Drain uploads buffered captures oldest first until the buffer is empty or
// the server becomes unavailable. Items are committed only after the server
// acknowledges them.
func (c *Client) Drain(ctx context.Context) (DrainStats, error) {
	var (
		stats    DrainStats
		drainErr error
	)
	for {
		items, err := c.buffer.DequeueBatch(ctx, c.batch)
		if err != nil {
			return stats, err
		}
		if len(items) == 0 {
			break
		}

		progressed, stopped, err := c.drainBatch(ctx, items, &stats)
		if err != nil {
			drainErr = err
			break
		}
		if stopped || !progressed {
			break
		}
	}

	remaining, err := c.buffer.Count(ctx)
	if err != nil {
		return stats, errors.Join(drainErr, err)
	}
	stats.Remaining = remaining
	if stats.Uploaded+stats.Duplicate+stats.Rejected > 0 {
		c.logger.Info("buffer drained",
			"uploaded", stats.Uploaded,
			"duplicate", stats.Duplicate,
			"rejected", stats.Rejected,
			"remaining", stats.Remaining)
	}
	if drainErr != nil {
		return stats, drainErr
	}
	return stats, ctx.Err()
}

// drainBatch uploads items in order and commits the acknowledged ones. It
// reports whether any item left the queue, and stopped=true when the server
// became unavailable.
func (c *Client) drainBatch(ctx context.Context, items []buffer.Item, stats *DrainStats) (progressed, stopped bool, err error) {
	var acked []string

	for _, item := range items {
		res, err := c.uploadItem(ctx, item)
		if res.Outcome == OutcomeUnavailable {
			c.logger.Info("server unavailable, pausing drain", "id", item.ID, "error", err)
			stopped = true
			break
		}
		switch res.Outcome {
		case OutcomeAccepted:
			stats.Uploaded++
			acked = append(acked, item.ID)
		case OutcomeDuplicate:
			stats.Duplicate++
			acked = append(acked, item.ID)
		case OutcomeRejected:
			stats.Rejected++
			if err := c.buffer.Reject(ctx, item.ID, res.Detail); err != nil {
				c.logger.Error("failed to set rejected item aside", "id", item.ID, "error", err)
				continue
			}
			progressed = true
		}
	}

	if len(acked) > 0 {
		if err := c.buffer.Commit(ctx, acked...); err != nil {
			return progressed, stopped, fmt.Errorf("failed to commit uploaded items: %w", err)
		}
		progressed = true
	}
	return progressed, stopped, nil
}

func (c *Client) uploadItem(ctx context.Context, item buffer.Item) (Result, error) {
	f, err := os.Open(item.ArtifactPath)
	if err != nil {
		// purged between dequeue and upload; nothing left to send
		return Result{Outcome: OutcomeRejected, Detail: "artifact missing from buffer"}, err
	}
	defer func() { _ = f.Close() }()

	name := item.Filename
	if name == "" {
		name = filepath.Base(item.ArtifactPath)
	}
	return c.upload(ctx, item.Metadata, name, f)
}

// upload performs one rate-limited POST /api/captures.
func (c *Client) upload(ctx context.Context, meta map[string]any, filename string, body io.Reader) (Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Result{Outcome: OutcomeUnavailable}, err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(formFields(meta)).
		SetFileReader(api.FormArtifact, filename, body).
		Post("/api/captures")
	if err != nil {
		return Result{Outcome: OutcomeUnavailable}, err
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusCreated:
		var created api.CaptureResponse
		if err := json.Unmarshal(resp.Body(), &created); err != nil {
			return Result{Outcome: OutcomeAccepted}, nil
		}
		return Result{Outcome: OutcomeAccepted, TaskID: created.ID}, nil

	case code == http.StatusConflict:
		var conflict api.ConflictResponse
		_ = json.Unmarshal(resp.Body(), &conflict)
		return Result{Outcome: OutcomeDuplicate, TaskID: conflict.ID}, nil

	case code == http.StatusBadRequest, code == http.StatusRequestEntityTooLarge:
		return Result{Outcome: OutcomeRejected, Detail: errorMessage(resp)}, nil

	default:
		// 401, 429, 5xx and anything unexpected: keep the capture and retry.
		return Result{Outcome: OutcomeUnavailable, Detail: errorMessage(resp)},
			fmt.Errorf("unexpected status %d: %s", code, errorMessage(resp))
	}
}

// Heartbeat tells the server this producer is alive.
func (c *Client) Heartbeat(ctx context.Context) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(api.HeartbeatRequest{DeviceID: c.deviceID}).
		Post("/api/control/heartbeat")
	if err != nil {
		return fmt.Errorf("heartbeat failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("heartbeat failed with status %d: %s", resp.StatusCode(), errorMessage(resp))
	}
	return nil
}

// Status fetches the server's operational status.
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var status api.StatusResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&status).
		Get("/api/status")
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("status request failed with status %d: %s", resp.StatusCode(), errorMessage(resp))
	}
	return &status, nil
}

// Buffered returns the number of captures waiting in the buffer.
func (c *Client) Buffered(ctx context.Context) (int, error) {
	return c.buffer.Count(ctx)
}

func (c *Client) metadata(capture Capture) map[string]any {
	return buffer.Normalize(map[string]any{
		MetaKind:        string(capture.Kind),
		MetaCapturedAt:  capture.CapturedAt,
		MetaAppName:     capture.AppName,
		MetaWindowTitle: capture.WindowTitle,
		MetaDeviceID:    c.deviceID,
	})
}

// formFields maps buffered metadata onto the multipart fields.
func formFields(meta map[string]any) map[string]string {
	fields := map[string]string{}
	for key, field := range map[string]string{
		MetaKind:        api.FormKind,
		MetaCapturedAt:  api.FormCapturedAt,
		MetaAppName:     api.FormAppName,
		MetaWindowTitle: api.FormWindowTitle,
		MetaDeviceID:    api.FormDeviceID,
	} {
		switch v := meta[key].(type) {
		case string:
			if v != "" {
				fields[field] = v
			}
		case float64:
			fields[field] = strconv.FormatInt(int64(v), 10)
		case int64:
			fields[field] = strconv.FormatInt(v, 10)
		case int:
			fields[field] = strconv.Itoa(v)
		}
	}
	return fields
}

func errorMessage(resp *resty.Response) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(resp.Body(), &e); err == nil && e.Error != "" {
		return e.Error
	}
	return http.StatusText(resp.StatusCode())
}
