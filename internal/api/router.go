package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/canvas-studio/engine/internal/api/handlers"
	mw "github.com/canvas-studio/engine/internal/api/middleware"
)

type Dependencies struct {
	HealthHandler     *handlers.HealthHandler
	WorkspacesHandler *handlers.WorkspacesHandler
	SnapshotsHandler  *handlers.SnapshotsHandler
	StreamHandler     *handlers.StreamHandler

	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()

	// Built-in middleware
	r.Use(mw.RequestID)
	r.Use(mw.Recovery)
	r.Use(mw.Logging)
	r.Use(mw.CORS)
	if dep.RateLimitRPS > 0 {
		r.Use(mw.RateLimit(dep.RateLimitRPS, dep.RateLimitBurst))
	}

	// Health endpoints
	hh := dep.HealthHandler
	if hh == nil {
		hh = handlers.NewHealthHandler(nil)
	}
	r.Get("/healthz", hh.Liveness)
	r.Get("/readyz", hh.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	compress := chimid.Compress(5)

	r.Route("/api/v1/workspaces", func(api chi.Router) {
		api.With(compress).Get("/", dep.WorkspacesHandler.List)
		api.With(compress).Post("/", dep.WorkspacesHandler.Create)

		api.Route("/{id}", func(wr chi.Router) {
			// Streams must reach the client unbuffered, so they skip compression.
			wr.Get("/stream", dep.StreamHandler.SSE)
			wr.Get("/ws", dep.StreamHandler.WS)

			wr.Group(func(j chi.Router) {
				j.Use(compress)

				j.Get("/", dep.WorkspacesHandler.Get)
				j.Delete("/", dep.WorkspacesHandler.Delete)
				j.Get("/graph", dep.WorkspacesHandler.LoadGraph)
				j.Put("/graph", dep.WorkspacesHandler.SaveGraph)
				j.Post("/connections", dep.WorkspacesHandler.CreateConnection)

				j.Post("/broadcast", dep.StreamHandler.Broadcast)
				j.Get("/presence", dep.StreamHandler.Presence)

				j.Route("/snapshots", func(sr chi.Router) {
					sr.Get("/", dep.SnapshotsHandler.List)
					sr.Post("/", dep.SnapshotsHandler.Create)
					sr.Get("/compare", dep.SnapshotsHandler.Compare)
					sr.Get("/{sid}", dep.SnapshotsHandler.Get)
					sr.Post("/{sid}/restore", dep.SnapshotsHandler.Restore)
					sr.Delete("/{sid}", dep.SnapshotsHandler.Delete)
				})
			})
		})
	})

	return r
}
