package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/phrazzld/recall/internal/domain"
	"github.com/phrazzld/recall/internal/metrics"
	"github.com/phrazzld/recall/internal/store"
)

// Ingest results recorded in metrics.
const (
	ResultAccepted  = "accepted"
	ResultDuplicate = "duplicate"
	ResultRejected  = "rejected"
	ResultError     = "error"
)

// Notifier wakes idle workers after a new task is inserted.
// *toggle.Registry implements it.
type Notifier interface {
	NotifyChange()
}

// Request is one uploaded capture.
type Request struct {
	Kind     domain.ArtifactKind
	Capture  domain.CaptureMetadata
	Filename string
	Body     io.Reader
}

// Result reports what Ingest did. For a duplicate, ID is the existing task.
type Result struct {
	ID          int64
	IdentityKey string
	Inserted    bool
	Path        string
}

// Service implements the fast-ingest path.
type Service struct {
	store     store.TaskStore
	artifacts *ArtifactStore
	notifier  Notifier
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewService creates an ingest service. notifier and m may be nil.
func NewService(st store.TaskStore, artifacts *ArtifactStore, notifier Notifier, logger *slog.Logger, m *metrics.Metrics) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("task store cannot be nil")
	}
	if artifacts == nil {
		return nil, fmt.Errorf("artifact store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		artifacts: artifacts,
		notifier:  notifier,
		logger:    logger.With("component", "ingest"),
		metrics:   m,
	}, nil
}

// Ingest stages the artifact, inserts a pending task and then commits the
// artifact to its canonical path. Validation
// failures wrap domain.ErrValidation. A duplicate identity is not an error:
// the result has Inserted=false and the existing task ID.
func (s *Service) Ingest(ctx context.Context, req Request) (Result, error) {
	if err := validate(req); err != nil {
		s.metrics.Ingested(req.Kind, ResultRejected)
		return Result{}, err
	}

	identity := req.Capture.IdentityKey(req.Kind)
	log := s.logger.With("kind", req.Kind, "identity_key", identity)

	staged, err := s.artifacts.Stage(req.Kind, req.Capture, Extension(req.Kind, req.Filename), req.Body)
	if err != nil {
		if errors.Is(err, domain.ErrEmptyArtifact) {
			s.metrics.Ingested(req.Kind, ResultRejected)
			return Result{}, fmt.Errorf("%w: %w", domain.ErrValidation, err)
		}
		s.metrics.Ingested(req.Kind, ResultError)
		return Result{}, fmt.Errorf("failed to store artifact: %w", err)
	}

	// The canonical file belongs to whichever request inserted the row, so
	// the staged bytes are only renamed into place after a successful insert.
	id, inserted, err := s.store.InsertPending(ctx, domain.NewTask{
		IdentityKey: identity,
		Kind:        req.Kind,
		ArtifactRef: staged.Path,
		Capture:     req.Capture,
	})
	if err != nil {
		staged.Discard()
		s.metrics.Ingested(req.Kind, ResultError)
		return Result{}, fmt.Errorf("failed to insert task: %w", err)
	}

	if !inserted {
		staged.Discard()
		s.metrics.Ingested(req.Kind, ResultDuplicate)
		existing, err := s.store.GetByIdentity(ctx, identity)
		if err != nil {
			log.Warn("duplicate capture but existing task lookup failed", "error", err)
			return Result{ID: id, IdentityKey: identity}, nil
		}
		log.Info("duplicate capture ignored", "task_id", existing.ID)
		return Result{ID: existing.ID, IdentityKey: identity, Path: existing.ArtifactRef}, nil
	}

	if err := staged.Commit(); err != nil {
		// The row exists without its artifact; the worker fails it as missing.
		s.metrics.Ingested(req.Kind, ResultError)
		log.Error("task inserted but artifact commit failed", "task_id", id, "error", err)
		return Result{}, err
	}

	s.metrics.Ingested(req.Kind, ResultAccepted)
	if s.notifier != nil {
		s.notifier.NotifyChange()
	}
	log.Info("capture ingested", "task_id", id, "bytes", staged.Size)
	return Result{ID: id, IdentityKey: identity, Inserted: true, Path: staged.Path}, nil
}

func validate(req Request) error {
	if !req.Kind.Valid() {
		return fmt.Errorf("%w: %w: %q", domain.ErrValidation, domain.ErrInvalidKind, req.Kind)
	}
	if err := req.Capture.Validate(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	if req.Body == nil {
		return fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrEmptyArtifact)
	}
	return nil
}
