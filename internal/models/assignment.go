package models

import "time"

// Assignment is one submitted document instance. Created once per upload and
// never mutated afterwards; analyses reference it, they do not own it.
type Assignment struct {
	ID            string    `json:"id" db:"id"`
	StudentID     string    `json:"student_id" db:"student_id"`
	Filename      string    `json:"filename" db:"filename"`
	OriginalText  string    `json:"original_text" db:"original_text"`
	Topic         string    `json:"topic,omitempty" db:"topic"`
	AcademicLevel string    `json:"academic_level,omitempty" db:"academic_level"`
	WordCount     int       `json:"word_count" db:"word_count"`
	UploadedAt    time.Time `json:"uploaded_at" db:"uploaded_at"`
}
