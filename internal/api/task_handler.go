package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/recall/internal/api/shared"
	"github.com/phrazzld/recall/internal/domain"
)

// TaskReader looks tasks up by ID. store.TaskStore implements it.
type TaskReader interface {
	Get(ctx context.Context, id int64) (*domain.Task, error)
}

// TaskHandler serves GET /api/tasks/{id}.
type TaskHandler struct {
	tasks  TaskReader
	logger *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(tasks TaskReader, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{tasks: tasks, logger: logger.With("component", "task_handler")}
}

// GetTask returns the task's current state and, once completed, its results.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := getPathID(r, "id")
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid task ID", err)
		return
	}

	t, err := h.tasks.Get(r.Context(), id)
	if err != nil {
		respondWithMappedError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, newTaskResponse(t))
}

// getPathID parses a positive integer path parameter.
func getPathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		return 0, fmt.Errorf("%w: %s is required", domain.ErrValidation, name)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s has invalid format", domain.ErrValidation, name)
	}
	return id, nil
}
