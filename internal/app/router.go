package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lokatex/lokatex/internal/masterdata"
	"github.com/lokatex/lokatex/internal/materials"
	"github.com/lokatex/lokatex/internal/observability"
	"github.com/lokatex/lokatex/internal/production"
	"github.com/lokatex/lokatex/internal/workers"
)

// RouterDeps aggregates everything the HTTP surface needs.
type RouterDeps struct {
	Logger   *slog.Logger
	Config   *Config
	Metrics  *observability.Metrics
	Resolver ActorResolver

	Production *production.Handler
	Materials  *materials.Handler
	Workers    *workers.Handler
	Products   *masterdata.Handler
}

// NewRouter assembles the HTTP router: public health and metrics endpoints
// plus the actor-gated API.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{Logger: deps.Logger, Config: deps.Config, Metrics: deps.Metrics}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(ActorMiddleware(deps.Resolver, deps.Logger))
		api.Route("/batches", deps.Production.MountBatchRoutes)
		api.Route("/tasks", deps.Production.MountTaskRoutes)
		api.Route("/materials", deps.Materials.MountRoutes)
		api.Route("/workers", deps.Workers.MountRoutes)
		api.Route("/products", deps.Products.MountRoutes)
	})

	return r
}
