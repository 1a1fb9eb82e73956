// Package toggle holds the runtime control surface shared by the HTTP control
// endpoints and the background workers: per-kind processing flags, the
// processing generation used for cooperative cancellation, and the producer
// heartbeat.
package toggle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/phrazzld/recall/internal/domain"
)

// flagPrefix namespaces the per-kind processing flags.
const flagPrefix = "processing."

// FlagName returns the external name of the processing flag for kind,
// e.g. processing.audio.
func FlagName(kind domain.ArtifactKind) string {
	return flagPrefix + string(kind)
}

// ParseFlag resolves a flag name to its artifact kind.
func ParseFlag(name string) (domain.ArtifactKind, error) {
	rest, ok := strings.CutPrefix(name, flagPrefix)
	if !ok {
		return "", fmt.Errorf("%w: unknown flag %q", domain.ErrInvalidKind, name)
	}
	return domain.ParseArtifactKind(rest)
}

// Canceller bulk-cancels in-flight tasks of a kind when its processing is
// disabled. store.TaskStore satisfies it.
type Canceller interface {
	CancelProcessing(ctx context.Context, kind domain.ArtifactKind) (int64, error)
}

// Registry is safe for concurrent use. Construct it with New and pass it
// explicitly to every component that reads or flips flags.
type Registry struct {
	mu         sync.Mutex
	enabled    map[domain.ArtifactKind]bool
	generation int64
	changed    chan struct{}
	lastSeen   time.Time
	lastDevice string
	canceller  Canceller
	logger     *slog.Logger
	now        func() time.Time
}

// Snapshot is a consistent copy of the registry state.
type Snapshot struct {
	Enabled    map[domain.ArtifactKind]bool `json:"enabled"`
	Generation int64                        `json:"generation"`
	LastSeen   time.Time                    `json:"last_seen"`
	LastDevice string                       `json:"last_device,omitempty"`
}

// New creates a registry with the given initial flags. Kinds absent from
// initial start disabled.
func New(initial map[domain.ArtifactKind]bool, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	enabled := make(map[domain.ArtifactKind]bool, len(domain.AllArtifactKinds))
	for _, k := range domain.AllArtifactKinds {
		enabled[k] = initial[k]
	}
	return &Registry{
		enabled: enabled,
		changed: make(chan struct{}),
		logger:  logger.With("component", "toggle_registry"),
		now:     time.Now,
	}
}

// SetCanceller registers the hook invoked when a kind is disabled.
func (r *Registry) SetCanceller(c Canceller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.canceller = c
}

// Enabled reports whether processing of kind is enabled.
func (r *Registry) Enabled(kind domain.ArtifactKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled[kind]
}

// Generation returns the live processing generation.
func (r *Registry) Generation() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

// SetEnabled flips processing for kind. Any actual flip increments the
// generation and wakes waiters. Disabling additionally cancels in-flight
// tasks of that kind through the registered Canceller before the generation
// moves. Returns whether the flag changed.
func (r *Registry) SetEnabled(ctx context.Context, kind domain.ArtifactKind, enabled bool) (bool, error) {
	if !kind.Valid() {
		return false, domain.ErrInvalidKind
	}

	r.mu.Lock()
	if r.enabled[kind] == enabled {
		r.mu.Unlock()
		return false, nil
	}
	r.enabled[kind] = enabled
	canceller := r.canceller
	r.mu.Unlock()

	var cancelErr error
	if !enabled && canceller != nil {
		n, err := canceller.CancelProcessing(ctx, kind)
		if err != nil {
			cancelErr = err
			r.logger.Error("failed to cancel in-flight tasks",
				"kind", kind,
				"error", err)
		} else if n > 0 {
			r.logger.Info("cancelled in-flight tasks",
				"kind", kind,
				"count", n)
		}
	}

	r.mu.Lock()
	r.generation++
	gen := r.generation
	r.mu.Unlock()
	r.NotifyChange()

	r.logger.Info("processing toggled",
		"kind", kind,
		"enabled", enabled,
		"generation", gen)

	return true, cancelErr
}

// NotifyChange wakes every goroutine blocked in WaitForChange.
func (r *Registry) NotifyChange() {
	r.mu.Lock()
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()
}

// WaitForChange blocks until NotifyChange is called, timeout elapses or ctx
// is done. It returns true only when woken by a change. The timeout bounds
// the wake latency when a notification races the call.
func (r *Registry) WaitForChange(ctx context.Context, timeout time.Duration) bool {
	r.mu.Lock()
	ch := r.changed
	r.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Heartbeat records that the producer identified by deviceID is alive.
func (r *Registry) Heartbeat(deviceID string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSeen = r.now()
	r.lastDevice = deviceID
	return r.lastSeen
}

// ProducerOnline reports whether a heartbeat arrived within window.
func (r *Registry) ProducerOnline(window time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastSeen.IsZero() {
		return false
	}
	return r.now().Sub(r.lastSeen) <= window
}

// Snapshot returns a copy of the current state.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	enabled := make(map[domain.ArtifactKind]bool, len(r.enabled))
	for k, v := range r.enabled {
		enabled[k] = v
	}
	return Snapshot{
		Enabled:    enabled,
		Generation: r.generation,
		LastSeen:   r.lastSeen,
		LastDevice: r.lastDevice,
	}
}
