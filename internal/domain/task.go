package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TaskStatus represents the processing state of a capture task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// AllTaskStatuses lists every status in state machine order.
var AllTaskStatuses = []TaskStatus{
	TaskStatusPending,
	TaskStatusProcessing,
	TaskStatusCompleted,
	TaskStatusFailed,
	TaskStatusCancelled,
}

// ArtifactKind identifies the class of captured artifact. Each kind is
// drained by its own background worker.
type ArtifactKind string

// Supported artifact kinds
const (
	KindScreenshot ArtifactKind = "screenshot"
	KindVideo      ArtifactKind = "video"
	KindAudio      ArtifactKind = "audio"
)

// AllArtifactKinds lists the kinds a server runs workers for.
var AllArtifactKinds = []ArtifactKind{KindScreenshot, KindVideo, KindAudio}

// ClaimOrder selects which end of the backlog the worker claims from.
type ClaimOrder string

// Claim orders
const (
	// OrderFIFO claims the oldest claimable task.
	OrderFIFO ClaimOrder = "fifo"
	// OrderLIFO claims the newest claimable task.
	OrderLIFO ClaimOrder = "lifo"
)

// Common validation errors for Task
var (
	ErrEmptyIdentityKey   = errors.New("task identity key cannot be empty")
	ErrEmptyArtifactRef   = errors.New("task artifact reference cannot be empty")
	ErrInvalidTaskStatus  = errors.New("invalid task status")
	ErrInvalidKind        = errors.New("invalid artifact kind")
	ErrInvalidClaimOrder  = errors.New("invalid claim order")
	ErrMissingCaptureTime = errors.New("capture timestamp is required")
)

// Task is the persisted record for one captured artifact. Content fields
// stay nil until the task reaches TaskStatusCompleted.
type Task struct {
	ID            int64           `json:"id"`
	IdentityKey   string          `json:"identity_key"`
	Kind          ArtifactKind    `json:"kind"`
	Status        TaskStatus      `json:"status"`
	ArtifactRef   string          `json:"artifact_ref"`
	Capture       CaptureMetadata `json:"capture"`
	ExtractedText *string         `json:"extracted_text,omitempty"`
	Description   *string         `json:"description,omitempty"`
	Embedding     []float32       `json:"embedding,omitempty"`
	Attempts      int             `json:"attempts"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NewTask carries the fields needed to insert a pending task.
type NewTask struct {
	IdentityKey string
	Kind        ArtifactKind
	ArtifactRef string
	Capture     CaptureMetadata
}

// Validate checks if the NewTask has valid data.
func (t NewTask) Validate() error {
	if strings.TrimSpace(t.IdentityKey) == "" {
		return ErrEmptyIdentityKey
	}
	if !t.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, t.Kind)
	}
	if t.ArtifactRef == "" {
		return ErrEmptyArtifactRef
	}
	return t.Capture.Validate()
}

// Results holds what the enrichment pipeline produced for a task.
type Results struct {
	ExtractedText *string
	Description   *string
	Embedding     []float32
}

// Valid reports whether k is a known artifact kind.
func (k ArtifactKind) Valid() bool {
	switch k {
	case KindScreenshot, KindVideo, KindAudio:
		return true
	default:
		return false
	}
}

// ParseArtifactKind converts a string into an ArtifactKind.
func ParseArtifactKind(s string) (ArtifactKind, error) {
	k := ArtifactKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
	return k, nil
}

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Claimable reports whether a task in this status may be picked up by a worker.
func (s TaskStatus) Claimable() bool {
	return s == TaskStatusPending || s == TaskStatusCancelled
}

// Terminal reports whether the status resolves an attempt.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// CanTransition reports whether the state machine allows from -> to.
//
// PROCESSING -> PENDING is the crash-recovery reset and PROCESSING -> CANCELLED
// the cooperative cancellation. CANCELLED -> PROCESSING begins a new attempt.
func CanTransition(from, to TaskStatus) bool {
	switch from {
	case TaskStatusPending, TaskStatusCancelled:
		return to == TaskStatusProcessing
	case TaskStatusProcessing:
		return to == TaskStatusCompleted || to == TaskStatusFailed ||
			to == TaskStatusCancelled || to == TaskStatusPending
	default:
		return false
	}
}

// OrderFor picks the claim order for the current backlog. A threshold of
// zero or less keeps the worker in FIFO regardless of backlog.
func OrderFor(pending, lifoThreshold int) ClaimOrder {
	if lifoThreshold > 0 && pending >= lifoThreshold {
		return OrderLIFO
	}
	return OrderFIFO
}
