package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/nestfest/vote-service/internal/metrics"
)

type RouterConfig struct {
	// RequestsPerMinute caps plain HTTP traffic per client IP. The vote
	// path has its own per-connection limiter; this only shields the read
	// and health endpoints.
	RequestsPerMinute int
}

// NewRouter assembles the HTTP surface: health, metrics, results, and the
// WebSocket upgrade endpoint.
func NewRouter(h *Handlers, wsHandler http.Handler, cfg RouterConfig) http.Handler {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 120
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(AccessLog)

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", metrics.Handler())
	r.Handle("/ws", wsHandler)

	r.Route("/vote/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RequestsPerMinute, time.Minute))
		r.Get("/competitions/{competition_id}/results", h.Results)
	})

	return r
}
