package api

import (
	"errors"
	"time"

	"github.com/phrazzld/recall/internal/domain"
	"github.com/phrazzld/recall/internal/task"
)

// Multipart form fields accepted by POST /api/captures.
const (
	FormArtifact    = "artifact"
	FormKind        = "kind"
	FormCapturedAt  = "captured_at"
	FormAppName     = "app_name"
	FormWindowTitle = "window_title"
	FormDeviceID    = "device_id"
)

// CaptureResponse is returned when a capture is accepted.
type CaptureResponse struct {
	ID          int64             `json:"id"`
	IdentityKey string            `json:"identity_key"`
	Status      domain.TaskStatus `json:"status"`
}

// ConflictResponse is returned when a capture with the same identity exists.
type ConflictResponse struct {
	Error       string `json:"error"`
	ID          int64  `json:"id"`
	IdentityKey string `json:"identity_key"`
	TraceID     string `json:"trace_id,omitempty"`
}

// TaskResponse is the external view of a task. Artifact paths stay internal.
type TaskResponse struct {
	ID            int64                  `json:"id"`
	IdentityKey   string                 `json:"identity_key"`
	Kind          domain.ArtifactKind    `json:"kind"`
	Status        domain.TaskStatus      `json:"status"`
	Capture       domain.CaptureMetadata `json:"capture"`
	ExtractedText *string                `json:"extracted_text,omitempty"`
	Description   *string                `json:"description,omitempty"`
	Embedding     []float32              `json:"embedding,omitempty"`
	Attempts      int                    `json:"attempts"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

func newTaskResponse(t *domain.Task) TaskResponse {
	return TaskResponse{
		ID:            t.ID,
		IdentityKey:   t.IdentityKey,
		Kind:          t.Kind,
		Status:        t.Status,
		Capture:       t.Capture,
		ExtractedText: t.ExtractedText,
		Description:   t.Description,
		Embedding:     t.Embedding,
		Attempts:      t.Attempts,
		ErrorMessage:  t.ErrorMessage,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

// TogglesRequest sets one or more processing flags, keyed by flag name
// (processing.screenshot, processing.video, processing.audio).
type TogglesRequest struct {
	Flags map[string]bool `json:"flags"`
}

// TogglesResponse reports every processing flag and the current generation.
type TogglesResponse struct {
	Flags      map[string]bool `json:"flags"`
	Generation int64           `json:"generation"`
}

// HeartbeatRequest optionally names the device; the token's device is used
// otherwise.
type HeartbeatRequest struct {
	DeviceID string `json:"device_id" validate:"omitempty,max=128"`
}

// HeartbeatResponse acknowledges a heartbeat.
type HeartbeatResponse struct {
	LastSeen       time.Time `json:"last_seen"`
	ProducerOnline bool      `json:"producer_online"`
}

// StatusResponse is the operational view served by GET /api/status.
type StatusResponse struct {
	Queue            map[domain.ArtifactKind]map[domain.TaskStatus]int `json:"queue"`
	Workers          []task.WorkerStatus                               `json:"workers"`
	Flags            map[string]bool                                   `json:"flags"`
	Generation       int64                                             `json:"generation"`
	ProducerOnline   bool                                              `json:"producer_online"`
	ProducerLastSeen *time.Time                                        `json:"producer_last_seen,omitempty"`
	ProducerDevice   string                                            `json:"producer_device,omitempty"`
}

var errNoFlags = errors.New("at least one flag is required")

// Validate implements the request validation hook used by shared.ValidateRequest.
func (r TogglesRequest) Validate() error {
	if len(r.Flags) == 0 {
		return errNoFlags
	}
	return nil
}
