package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	consolhttp "github.com/odyssey-erp/consolidation/internal/consol/http"
	eliminationhttp "github.com/odyssey-erp/consolidation/internal/elimination/http"
	"github.com/odyssey-erp/consolidation/internal/observability"
	roundinghttp "github.com/odyssey-erp/consolidation/internal/rounding/http"
	"github.com/odyssey-erp/consolidation/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	ConsolHandler      *consolhttp.Handler
	EliminationHandler *eliminationhttp.Handler
	RoundingHandler    *roundinghttp.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with consolidation defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.ConsolHandler != nil {
		params.ConsolHandler.MountRoutes(r)
	}
	if params.EliminationHandler != nil {
		params.EliminationHandler.MountRoutes(r)
	}
	if params.RoundingHandler != nil {
		params.RoundingHandler.MountRoutes(r)
	}
	if params.JobHandler != nil {
		params.JobHandler.MountRoutes(r)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
