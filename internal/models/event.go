package models

import (
	"time"
)

type AssignmentSubmittedEvent struct {
	AssignmentID string `json:"assignment_id"`
	StudentID    string `json:"student_id"`
	Timestamp    int64  `json:"timestamp"`
}

type AnalysisCompletedEvent struct {
	AssignmentID    string    `json:"assignment_id"`
	AnalysisID      string    `json:"analysis_id"`
	PlagiarismScore float64   `json:"plagiarism_score"`
	ConfidenceScore float64   `json:"confidence_score"`
	FlaggedSections int       `json:"flagged_sections"`
	Degraded        bool      `json:"degraded"`
	ProcessingTime  int       `json:"processing_time_ms"`
	CompletedAt     time.Time `json:"completed_at"`
}

type AnalysisFailedEvent struct {
	AssignmentID string    `json:"assignment_id"`
	Error        string    `json:"error"`
	FailedAt     time.Time `json:"failed_at"`
}

// NotificationEvent is consumed by the external delivery collaborator (mail or
// automation engine). This service only guarantees when and at most how many
// times one is published per assignment and channel.
type NotificationEvent struct {
	AssignmentID    string    `json:"assignment_id"`
	StudentID       string    `json:"student_id"`
	Channel         string    `json:"channel"`
	AnalysisID      string    `json:"analysis_id"`
	PlagiarismScore float64   `json:"plagiarism_score"`
	ConfidenceScore float64   `json:"confidence_score"`
	DispatchedAt    time.Time `json:"dispatched_at"`
}
