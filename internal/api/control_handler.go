package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/recall/internal/api/shared"
	"github.com/phrazzld/recall/internal/domain"
	"github.com/phrazzld/recall/internal/metrics"
	"github.com/phrazzld/recall/internal/task"
	"github.com/phrazzld/recall/internal/toggle"
)

// QueueCounter reports queue depth. store.TaskStore implements it.
type QueueCounter interface {
	CountByStatus(ctx context.Context) (map[domain.ArtifactKind]map[domain.TaskStatus]int, error)
}

// WorkerStatusProvider reports worker state. *task.Runner implements it.
type WorkerStatusProvider interface {
	Status() []task.WorkerStatus
}

// ControlHandler serves the toggle, heartbeat and status endpoints.
type ControlHandler struct {
	registry     *toggle.Registry
	queue        QueueCounter
	workers      WorkerStatusProvider
	metrics      *metrics.Metrics
	onlineWindow time.Duration
	logger       *slog.Logger
}

// NewControlHandler creates a new ControlHandler. workers and m may be nil.
func NewControlHandler(
	registry *toggle.Registry,
	queue QueueCounter,
	workers WorkerStatusProvider,
	m *metrics.Metrics,
	onlineWindow time.Duration,
	logger *slog.Logger,
) *ControlHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ControlHandler{
		registry:     registry,
		queue:        queue,
		workers:      workers,
		metrics:      m,
		onlineWindow: onlineWindow,
		logger:       logger.With("component", "control_handler"),
	}
}

// GetToggles returns every processing flag.
func (h *ControlHandler) GetToggles(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.toggles())
}

// UpdateToggles flips the named flags. Disabling a kind cancels its
// in-flight tasks; any flip bumps the processing generation.
func (h *ControlHandler) UpdateToggles(w http.ResponseWriter, r *http.Request) {
	var req TogglesRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "At least one flag is required", err)
		return
	}

	kinds := make(map[domain.ArtifactKind]bool, len(req.Flags))
	for name, enabled := range req.Flags {
		kind, err := toggle.ParseFlag(name)
		if err != nil {
			shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Unknown flag: "+name, err)
			return
		}
		kinds[kind] = enabled
	}

	// Apply in a fixed order so generation bumps are deterministic.
	for _, kind := range domain.AllArtifactKinds {
		enabled, ok := kinds[kind]
		if !ok {
			continue
		}
		changed, err := h.registry.SetEnabled(r.Context(), kind, enabled)
		if err != nil {
			// The flag has flipped; workers still stop at the next stage
			// boundary through the generation check.
			h.logger.Error("bulk cancel failed after disabling kind",
				"kind", kind,
				"error", err)
		}
		if changed {
			h.logger.Info("processing flag changed",
				"flag", toggle.FlagName(kind),
				"enabled", enabled,
				"generation", h.registry.Generation())
		}
	}

	shared.RespondWithJSON(w, r, http.StatusOK, h.toggles())
}

// Heartbeat records producer liveness.
func (h *ControlHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if r.ContentLength != 0 {
		if err := shared.DecodeJSON(w, r, &req); err != nil {
			shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
			return
		}
		if err := shared.ValidateRequest(&req); err != nil {
			shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
			return
		}
	}

	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID, _ = shared.GetDeviceID(r.Context())
	}

	seen := h.registry.Heartbeat(deviceID)
	h.metrics.Heartbeat(seen)

	shared.RespondWithJSON(w, r, http.StatusOK, HeartbeatResponse{
		LastSeen:       seen,
		ProducerOnline: true,
	})
}

// Status reports queue depth, worker ordering and recovery, producer
// liveness and the processing generation. It also refreshes the queue
// depth gauges.
func (h *ControlHandler) Status(w http.ResponseWriter, r *http.Request) {
	counts, err := h.queue.CountByStatus(r.Context())
	if err != nil {
		respondWithMappedError(w, r, err)
		return
	}
	h.metrics.SetQueueDepth(counts)

	snap := h.registry.Snapshot()
	resp := StatusResponse{
		Queue:          counts,
		Workers:        []task.WorkerStatus{},
		Flags:          flags(snap),
		Generation:     snap.Generation,
		ProducerOnline: h.registry.ProducerOnline(h.onlineWindow),
		ProducerDevice: snap.LastDevice,
	}
	if !snap.LastSeen.IsZero() {
		seen := snap.LastSeen
		resp.ProducerLastSeen = &seen
	}
	if h.workers != nil {
		resp.Workers = h.workers.Status()
	}

	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

func (h *ControlHandler) toggles() TogglesResponse {
	snap := h.registry.Snapshot()
	return TogglesResponse{Flags: flags(snap), Generation: snap.Generation}
}

func flags(snap toggle.Snapshot) map[string]bool {
	out := make(map[string]bool, len(snap.Enabled))
	for kind, enabled := range snap.Enabled {
		out[toggle.FlagName(kind)] = enabled
	}
	return out
}
