package httpd

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/studyassist/analysis-service/internal/models"
)

func (h *Handler) UpsertSource(w http.ResponseWriter, r *http.Request) {
	var req models.UpsertSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Title == "" || req.SourceType == "" {
		writeError(w, http.StatusBadRequest, "title and source_type are required")
		return
	}

	source, err := h.corpusService.UpsertSource(r.Context(), &req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, source)
}

func (h *Handler) GetSource(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	if sourceID == "" {
		writeError(w, http.StatusBadRequest, "Source ID is required")
		return
	}

	source, err := h.corpusService.GetSource(r.Context(), sourceID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	if source == nil {
		writeError(w, http.StatusNotFound, "Source not found")
		return
	}

	writeSuccess(w, source)
}

func (h *Handler) SearchSources(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "Query parameter 'q' is required")
		return
	}

	k := getIntQueryParam(r, "k", 10)

	result, err := h.corpusService.SearchSources(r.Context(), query, k)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, result)
}
