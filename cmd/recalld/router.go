package main

import (
	"net/http"

	"github.com/phrazzld/recall/internal/api"
)

// setupRouter wires the handlers onto the API router.
func (app *application) setupRouter() http.Handler {
	return api.NewRouter(api.RouterDeps{
		Captures: api.NewCaptureHandler(app.ingest, app.logger),
		Tasks:    api.NewTaskHandler(app.taskStore, app.logger),
		Control: api.NewControlHandler(
			app.registry,
			app.taskStore,
			app.runner,
			app.metrics,
			app.config.Server.ProducerOnlineWindow,
			app.logger,
		),
		Tokens:  app.tokens,
		Metrics: app.metrics.Handler(),
		Logger:  app.logger,
	})
}
