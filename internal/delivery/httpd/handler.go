package httpd

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/studyassist/analysis-service/internal/service"
	"github.com/studyassist/analysis-service/internal/service/analyzer"
	"github.com/studyassist/analysis-service/internal/service/integration"
	"github.com/studyassist/analysis-service/internal/worker"
)

type Handler struct {
	analysisService     service.AnalysisService
	notificationService service.NotificationService
	corpusService       service.CorpusService
	assignmentWorker    worker.AssignmentWorker
	logger              zerolog.Logger
}

func NewHandler(
	analysisService service.AnalysisService,
	notificationService service.NotificationService,
	corpusService service.CorpusService,
	assignmentWorker worker.AssignmentWorker,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		analysisService:     analysisService,
		notificationService: notificationService,
		corpusService:       corpusService,
		assignmentWorker:    assignmentWorker,
		logger:              logger,
	}
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	// Health check
	router.Get("/health", h.HealthCheck)
	router.Get("/status", h.GetServiceStatus)
	router.Get("/stats", h.GetWorkerStats)

	// Versioned API
	router.Route("/api/v1", func(api chi.Router) {
		api.Route("/analyses", func(r chi.Router) {
			r.Post("/", h.AnalyzeAssignment)
			r.Post("/async", h.AnalyzeAssignmentAsync)
		})

		api.Route("/assignments", func(r chi.Router) {
			r.Post("/", h.CreateAssignment)
			r.Route("/{assignment_id}", func(r chi.Router) {
				r.Get("/analysis", h.GetCurrentAnalysis)
				r.Get("/analyses", h.ListAnalyses)
				r.Get("/notifications", h.GetNotificationState)
				r.Post("/notifications/confirm-teacher", h.ConfirmTeacherNotification)
			})
		})

		api.Route("/sources", func(r chi.Router) {
			r.Post("/", h.UpsertSource)
			r.Get("/search", h.SearchSources)
			r.Get("/{source_id}", h.GetSource)
		})
	})
}

// handleServiceError maps the service error classes onto HTTP statuses.
func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrAssignmentNotFound),
		errors.Is(err, service.ErrAnalysisNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, analyzer.ErrRetrievalUnavailable),
		errors.Is(err, integration.ErrEmbeddingUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, service.ErrNotificationDispatch):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error().Err(err).Msg("Unhandled service error")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func getIntQueryParam(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func writeSuccess(w http.ResponseWriter, data interface{}) {
	response := map[string]interface{}{
		"success": true,
		"data":    data,
	}
	writeJSON(w, http.StatusOK, response)
}
