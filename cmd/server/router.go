package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/engageai/engage-api/internal/api"
	apiMiddleware "github.com/engageai/engage-api/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes
// and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	eventHandler := api.NewEventHandler(app.engine, app.logger)
	taskHandler := api.NewTaskHandler(app.engine, app.logger)
	conversationHandler := api.NewConversationHandler(app.engine, app.logger)
	webhookHandler := api.NewWebhookHandler(app.emitter, app.logger)

	r.Route("/api", func(r chi.Router) {
		r.Post("/events", eventHandler.SubmitEvent)
		r.Post("/webhooks", webhookHandler.ReplayWebhook)
		r.Get("/tasks/{id}", taskHandler.GetTask)
		r.Delete("/tasks/{id}", taskHandler.CancelTask)
		r.Get("/conversations/{id}", conversationHandler.GetConversation)
		r.Get("/stats", taskHandler.GetStats)
	})

	r.Method(http.MethodGet, "/metrics", app.metrics.Handler())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("failed to write health check response", "error", err)
		}
	})

	return r
}
