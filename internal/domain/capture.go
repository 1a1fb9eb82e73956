package domain

import (
	"strconv"
	"time"
)

// CaptureMetadata describes where and when an artifact was captured.
type CaptureMetadata struct {
	CapturedAt  time.Time `json:"captured_at"`
	AppName     string    `json:"app_name,omitempty"`
	WindowTitle string    `json:"window_title,omitempty"`
	DeviceID    string    `json:"device_id,omitempty"`
}

// Validate checks if the capture metadata is usable.
func (m CaptureMetadata) Validate() error {
	if m.CapturedAt.IsZero() {
		return ErrMissingCaptureTime
	}
	return nil
}

// IdentityKey derives the unique identity for a capture of the given kind:
// <kind>:<unix ms>, prefixed by the device when one is known. Different kinds
// captured in the same millisecond stay distinct.
func (m CaptureMetadata) IdentityKey(kind ArtifactKind) string {
	key := string(kind) + ":" + strconv.FormatInt(m.CapturedAt.UnixMilli(), 10)
	if m.DeviceID == "" {
		return key
	}
	return m.DeviceID + ":" + key
}
