package httpd

import (
	"net/http"
	"time"
)

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"service":   "analysis-service",
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
	}

	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) GetServiceStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.analysisService.GetServiceStatus(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to get service status")
		writeError(w, http.StatusInternalServerError, "Failed to get service status")
		return
	}

	writeSuccess(w, status)
}

func (h *Handler) GetWorkerStats(w http.ResponseWriter, r *http.Request) {
	if h.assignmentWorker == nil {
		writeError(w, http.StatusServiceUnavailable, "Worker not running")
		return
	}

	writeSuccess(w, h.assignmentWorker.GetStats())
}
