package api

import (
	"net/http"

	"github.com/ansible/ai-connect-gateway/internal/server"
)

// liveness answers as long as the process serves requests.
func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	server.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.cfg.Version})
}

// readiness runs every dependency check. A failed critical dependency
// answers 503.
func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Health == nil {
		server.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "dependencies": []any{}})
		return
	}
	report := h.cfg.Health.Run(r.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	server.WriteJSON(w, status, report)
}
