package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nestfest/vote-service/internal/gateway"
	"github.com/nestfest/vote-service/internal/health"
	"github.com/nestfest/vote-service/internal/transport/http/response"
)

type Handlers struct {
	service *gateway.Service
	monitor *health.Monitor
}

func NewHandlers(service *gateway.Service, monitor *health.Monitor) *Handlers {
	return &Handlers{service: service, monitor: monitor}
}

// Healthz serves the latest health snapshot. Degraded and unhealthy states
// still answer 200; load balancers key off the status field, not the HTTP
// code, so a degraded instance keeps draining traffic gracefully.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, h.monitor.Snapshot())
}

// Results serves a competition's current tallies.
func (h *Handlers) Results(w http.ResponseWriter, r *http.Request) {
	competitionID := chi.URLParam(r, "competition_id")
	counts, err := h.service.Results(r.Context(), competitionID)
	if err != nil {
		response.Err(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"competition_id": competitionID,
		"counts":         counts,
	})
}
