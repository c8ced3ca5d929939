package httpd

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/studyassist/analysis-service/internal/models"
)

func (h *Handler) GetNotificationState(w http.ResponseWriter, r *http.Request) {
	assignmentID := chi.URLParam(r, "assignment_id")
	if assignmentID == "" {
		writeError(w, http.StatusBadRequest, "Assignment ID is required")
		return
	}

	state, err := h.notificationService.GetState(r.Context(), assignmentID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, state)
}

func (h *Handler) ConfirmTeacherNotification(w http.ResponseWriter, r *http.Request) {
	assignmentID := chi.URLParam(r, "assignment_id")
	if assignmentID == "" {
		writeError(w, http.StatusBadRequest, "Assignment ID is required")
		return
	}

	var req models.ConfirmTeacherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.StudentID == "" {
		writeError(w, http.StatusBadRequest, "student_id is required")
		return
	}

	state, err := h.notificationService.ConfirmAndNotifyTeacher(r.Context(), assignmentID, req.StudentID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeSuccess(w, state)
}
