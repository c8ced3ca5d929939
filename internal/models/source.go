package models

import "time"

type SourceType string

const (
	SourceTypePaper          SourceType = "paper"
	SourceTypeTextbook       SourceType = "textbook"
	SourceTypeCourseMaterial SourceType = "course_material"
)

func (st SourceType) String() string {
	return string(st)
}

func (st SourceType) Valid() bool {
	switch st {
	case SourceTypePaper, SourceTypeTextbook, SourceTypeCourseMaterial:
		return true
	}
	return false
}

// Source is one academic document in the comparison corpus. Immutable after
// creation except for re-embedding on corpus refresh.
type Source struct {
	ID              string     `json:"id" db:"id"`
	Title           string     `json:"title" db:"title"`
	Authors         string     `json:"authors,omitempty" db:"authors"`
	PublicationYear int        `json:"publication_year,omitempty" db:"publication_year"`
	Abstract        string     `json:"abstract,omitempty" db:"abstract"`
	FullText        string     `json:"full_text,omitempty" db:"full_text"`
	SourceType      SourceType `json:"source_type" db:"source_type"`
	URL             string     `json:"url,omitempty" db:"url"`
	Embedding       []float64  `json:"-" db:"embedding"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// SourceHit is one corpus lookup result: a source plus its similarity to the
// query. Lexical marks results coming from the token-based fallback channel.
type SourceHit struct {
	Source     Source  `json:"source"`
	Similarity float64 `json:"similarity"`
	Lexical    bool    `json:"lexical,omitempty"`
}
