package models

import "time"

// Data Transfer Objects

type AnalyzeRequest struct {
	AssignmentID string `json:"assignment_id"`
}

type AnalyzeAsyncResponse struct {
	AssignmentID string `json:"assignment_id"`
	Message      string `json:"message"`
	StatusURL    string `json:"status_url"`
}

type ConfirmTeacherRequest struct {
	StudentID string `json:"student_id"`
}

type CreateAssignmentRequest struct {
	StudentID     string `json:"student_id"`
	Filename      string `json:"filename"`
	OriginalText  string `json:"original_text"`
	Topic         string `json:"topic,omitempty"`
	AcademicLevel string `json:"academic_level,omitempty"`
}

type UpsertSourceRequest struct {
	ID              string `json:"id,omitempty"`
	Title           string `json:"title"`
	Authors         string `json:"authors,omitempty"`
	PublicationYear int    `json:"publication_year,omitempty"`
	Abstract        string `json:"abstract,omitempty"`
	FullText        string `json:"full_text,omitempty"`
	SourceType      string `json:"source_type"`
	URL             string `json:"url,omitempty"`
}

type SourceSearchResponse struct {
	Query   string      `json:"query"`
	Results []SourceHit `json:"results"`
	Lexical bool        `json:"lexical"`
}

type HealthCheckResponse struct {
	Status    string    `json:"status"`
	Database  bool      `json:"database"`
	RabbitMQ  bool      `json:"rabbitmq"`
	Timestamp time.Time `json:"timestamp"`
}
