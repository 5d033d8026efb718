package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/grimoirekb/grimoire/internal/api"
	apiMiddleware "github.com/grimoirekb/grimoire/internal/api/middleware"
	"github.com/grimoirekb/grimoire/internal/api/shared"
)

// setupRouter configures the application router with all routes and
// middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(apiMiddleware.TraceMiddleware)

	r.Get("/health", app.handleHealth)

	taskHandler := api.NewTaskHandler(app.service)
	r.Route("/api", taskHandler.Routes)

	return r
}

// handleHealth reports process and database health.
func (app *application) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := app.db.PingContext(r.Context()); err != nil {
		app.logger.Error("health check failed", "error", err)
		shared.RespondWithError(w, r, http.StatusServiceUnavailable, "database unreachable")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, map[string]any{
		"status":    "ok",
		"in_flight": app.service.InFlight(),
	})
}
