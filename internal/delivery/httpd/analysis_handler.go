package httpd

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/studyassist/analysis-service/internal/models"
)

func (h *Handler) AnalyzeAssignment(w http.ResponseWriter, r *http.Request) {
	var req models.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.AssignmentID == "" {
		writeError(w, http.StatusBadRequest, "assignment_id is required")
		return
	}

	analysis, err := h.analysisService.AnalyzeAssignment(r.Context(), req.AssignmentID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, analysis)
}

func (h *Handler) AnalyzeAssignmentAsync(w http.ResponseWriter, r *http.Request) {
	var req models.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.AssignmentID == "" {
		writeError(w, http.StatusBadRequest, "assignment_id is required")
		return
	}

	if err := h.analysisService.AnalyzeAssignmentAsync(r.Context(), req.AssignmentID); err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, models.AnalyzeAsyncResponse{
		AssignmentID: req.AssignmentID,
		Message:      "Analysis started asynchronously",
		StatusURL:    "/api/v1/assignments/" + req.AssignmentID + "/analysis",
	})
}

func (h *Handler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.StudentID == "" || req.OriginalText == "" {
		writeError(w, http.StatusBadRequest, "student_id and original_text are required")
		return
	}

	assignment, err := h.analysisService.CreateAssignment(r.Context(), &req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, assignment)
}

func (h *Handler) GetCurrentAnalysis(w http.ResponseWriter, r *http.Request) {
	assignmentID := chi.URLParam(r, "assignment_id")
	if assignmentID == "" {
		writeError(w, http.StatusBadRequest, "Assignment ID is required")
		return
	}

	analysis, err := h.analysisService.GetCurrentAnalysis(r.Context(), assignmentID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, analysis)
}

func (h *Handler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	assignmentID := chi.URLParam(r, "assignment_id")
	if assignmentID == "" {
		writeError(w, http.StatusBadRequest, "Assignment ID is required")
		return
	}

	analyses, err := h.analysisService.ListAnalyses(r.Context(), assignmentID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, analyses)
}
