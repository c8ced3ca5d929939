package models

import "time"

// Span is a half-open [Start, End) byte range into the assignment text.
type Span struct {
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Excerpt string `json:"excerpt,omitempty"`
}

// Match pairs one retrieved corpus source with the similarity score and the
// assignment span it best explains.
type Match struct {
	SourceID   string  `json:"source_id"`
	Title      string  `json:"title"`
	Authors    string  `json:"authors,omitempty"`
	Similarity float64 `json:"similarity"`
	Span       Span    `json:"span"`
	Lexical    bool    `json:"lexical,omitempty"`
}

// FlaggedSection is an assignment span whose best match exceeded the flag
// threshold.
type FlaggedSection struct {
	Span       Span    `json:"span"`
	SourceID   string  `json:"source_id"`
	Title      string  `json:"title"`
	Similarity float64 `json:"similarity"`
}

// Analysis is the outcome of one scoring run over one assignment. Rows are
// insert-only: re-analysis creates a new Analysis, the latest one is current.
type Analysis struct {
	ID                      string           `json:"id" db:"id"`
	AssignmentID            string           `json:"assignment_id" db:"assignment_id"`
	OriginalSummary         string           `json:"original_summary" db:"original_summary"`
	SuggestedSources        []Match          `json:"suggested_sources" db:"suggested_sources"`
	PlagiarismScore         float64          `json:"plagiarism_score" db:"plagiarism_score"`
	FlaggedSections         []FlaggedSection `json:"flagged_sections" db:"flagged_sections"`
	ResearchSuggestions     string           `json:"research_suggestions" db:"research_suggestions"`
	CitationRecommendations string           `json:"citation_recommendations" db:"citation_recommendations"`
	ConfidenceScore         float64          `json:"confidence_score" db:"confidence_score"`
	Degraded                bool             `json:"degraded" db:"degraded"`
	AnalyzedAt              time.Time        `json:"analyzed_at" db:"analyzed_at"`
}
