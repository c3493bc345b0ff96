package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/documents"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// Mounter attaches a handler's routes to the router.
type Mounter interface {
	Mount(r chi.Router)
}

// RouterConfig aggregates the handlers served by the API router.
type RouterConfig struct {
	Middleware MiddlewareConfig
	Documents  *documents.Handler
	Ledger     *ledger.Handler
	Stock      *stock.Handler
	Jobs       Mounter
	Metrics    *observability.Metrics
}

// NewRouter assembles the HTTP routing tree.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(cfg.Middleware) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authMiddleware(cfg.Middleware))
		if cfg.Documents != nil {
			cfg.Documents.Mount(r)
		}
		if cfg.Ledger != nil {
			cfg.Ledger.Mount(r)
		}
		if cfg.Stock != nil {
			cfg.Stock.Mount(r)
		}
		if cfg.Jobs != nil {
			cfg.Jobs.Mount(r)
		}
	})
	return r
}
