package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/phrazzld/recall/internal/api/shared"
	"github.com/phrazzld/recall/internal/domain"
	"github.com/phrazzld/recall/internal/ingest"
	"github.com/phrazzld/recall/internal/store"
)

const (
	// MaxArtifactBytes bounds a single capture upload.
	MaxArtifactBytes = 512 << 20
	// multipartMemory is held in memory before parts spill to temp files.
	multipartMemory = 8 << 20
)

// Ingester is the fast-ingest operation. *ingest.Service implements it.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error)
}

// CaptureHandler serves POST /api/captures.
type CaptureHandler struct {
	ingester Ingester
	logger   *slog.Logger
}

// NewCaptureHandler creates a new CaptureHandler.
func NewCaptureHandler(ingester Ingester, logger *slog.Logger) *CaptureHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CaptureHandler{
		ingester: ingester,
		logger:   logger.With("component", "capture_handler"),
	}
}

// CreateCapture accepts a multipart upload: an artifact file plus kind,
// captured_at and optional app_name, window_title and device_id fields.
// Responds 201 on insert, 409 when the identity already exists and 400 on
// validation errors. No enrichment runs on this path.
func (h *CaptureHandler) CreateCapture(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxArtifactBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			shared.RespondWithErrorAndLog(w, r, http.StatusRequestEntityTooLarge, "Artifact too large", err)
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid multipart body", err)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	req, err := h.parseRequest(r)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, GetSafeErrorMessage(err), err)
		return
	}

	file, header, err := r.FormFile(FormArtifact)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Artifact file is required", err)
		return
	}
	defer func() { _ = file.Close() }()
	req.Filename = header.Filename
	req.Body = file

	res, err := h.ingester.Ingest(r.Context(), req)
	if err != nil {
		respondWithMappedError(w, r, err)
		return
	}

	if !res.Inserted {
		shared.RespondWithJSON(w, r, http.StatusConflict, ConflictResponse{
			Error:       GetSafeErrorMessage(store.ErrDuplicate),
			ID:          res.ID,
			IdentityKey: res.IdentityKey,
			TraceID:     shared.GetTraceID(r.Context()),
		})
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, CaptureResponse{
		ID:          res.ID,
		IdentityKey: res.IdentityKey,
		Status:      domain.TaskStatusPending,
	})
}

func (h *CaptureHandler) parseRequest(r *http.Request) (ingest.Request, error) {
	kind, err := domain.ParseArtifactKind(r.FormValue(FormKind))
	if err != nil {
		return ingest.Request{}, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	capturedAt, err := ParseCaptureTime(r.FormValue(FormCapturedAt))
	if err != nil {
		return ingest.Request{}, err
	}

	deviceID := strings.TrimSpace(r.FormValue(FormDeviceID))
	if deviceID == "" {
		deviceID, _ = shared.GetDeviceID(r.Context())
	}

	return ingest.Request{
		Kind: kind,
		Capture: domain.CaptureMetadata{
			CapturedAt:  capturedAt,
			AppName:     strings.TrimSpace(r.FormValue(FormAppName)),
			WindowTitle: strings.TrimSpace(r.FormValue(FormWindowTitle)),
			DeviceID:    deviceID,
		},
	}, nil
}

// ParseCaptureTime accepts unix milliseconds or RFC 3339.
func ParseCaptureTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrMissingCaptureTime)
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		if ms <= 0 {
			return time.Time{}, fmt.Errorf("%w: captured_at must be positive", domain.ErrValidation)
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: captured_at must be unix milliseconds or RFC 3339", domain.ErrValidation)
	}
	return t.UTC(), nil
}
