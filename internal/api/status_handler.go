package api

import (
	"net/http"

	"github.com/kirychukyurii/hv-balancer/internal/model"
)

// drainResponse lists the instances never offered again as candidates
type drainResponse struct {
	Mode         model.Mode `json:"mode"`
	DrainingHost string     `json:"draining_host,omitempty"`
	Attempted    []string   `json:"attempted"`
}

// GetStatus handles GET /api/status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.service.Status())
}

// GetDrain handles GET /api/drain
func (h *Handler) GetDrain(w http.ResponseWriter, r *http.Request) {
	status := h.service.Status()
	h.respondJSON(w, http.StatusOK, drainResponse{
		Mode:         status.Mode,
		DrainingHost: status.DrainingHost,
		Attempted:    h.service.DrainAttempted(),
	})
}

// Healthz handles GET /healthz. It fails once the last iteration ended fatally.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	status := h.service.Status()
	if status.LastReport != nil && status.LastReport.Outcome == model.OutcomeFatal {
		h.respondError(w, http.StatusServiceUnavailable, status.LastReport.Message)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
