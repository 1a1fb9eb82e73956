package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	apiMiddleware "github.com/phrazzld/recall/internal/api/middleware"
	"github.com/phrazzld/recall/internal/service/auth"
)

// RouterDeps are the handlers and services the router is assembled from.
type RouterDeps struct {
	Captures *CaptureHandler
	Tasks    *TaskHandler
	Control  *ControlHandler
	Tokens   auth.TokenService
	Metrics  http.Handler
	Logger   *slog.Logger
}

// NewRouter wires the HTTP surface. Ingestion and control routes require a
// device token; /health and /metrics are public.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(deps.Logger))

	authMiddleware := apiMiddleware.NewAuthMiddleware(deps.Tokens)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		r.Post("/captures", deps.Captures.CreateCapture)
		r.Get("/tasks/{id}", deps.Tasks.GetTask)

		r.Get("/control/toggles", deps.Control.GetToggles)
		r.Put("/control/toggles", deps.Control.UpdateToggles)
		r.Post("/control/heartbeat", deps.Control.Heartbeat)

		r.Get("/status", deps.Control.Status)
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil && deps.Logger != nil {
			deps.Logger.Error("failed to write health check response", "error", err)
		}
	})

	return r
}
