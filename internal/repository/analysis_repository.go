package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/studyassist/analysis-service/internal/models"
)

// AnalysisRepository is insert-only: re-analysis creates a new row, the latest
// row by analyzed_at is the current analysis, older rows form the audit trail.
type AnalysisRepository interface {
	Create(ctx context.Context, analysis *models.Analysis) error
	GetCurrentByAssignment(ctx context.Context, assignmentID string) (*models.Analysis, error)
	ListByAssignment(ctx context.Context, assignmentID string) ([]models.Analysis, error)
	Ping(ctx context.Context) error
}

type analysisRepository struct {
	*PostgresRepository
}

func NewAnalysisRepository(db *sql.DB, logger zerolog.Logger) AnalysisRepository {
	return &analysisRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *analysisRepository) Create(ctx context.Context, analysis *models.Analysis) error {
	suggested, err := json.Marshal(analysis.SuggestedSources)
	if err != nil {
		return fmt.Errorf("failed to marshal suggested sources: %w", err)
	}

	flagged, err := json.Marshal(analysis.FlaggedSections)
	if err != nil {
		return fmt.Errorf("failed to marshal flagged sections: %w", err)
	}

	query := `
		INSERT INTO analyses (
			id, assignment_id, original_summary, suggested_sources, plagiarism_score,
			flagged_sections, research_suggestions, citation_recommendations,
			confidence_score, degraded, analyzed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.ExecContext(ctx, query,
		analysis.ID,
		analysis.AssignmentID,
		nullString(analysis.OriginalSummary),
		suggested,
		analysis.PlagiarismScore,
		flagged,
		nullString(analysis.ResearchSuggestions),
		nullString(analysis.CitationRecommendations),
		analysis.ConfidenceScore,
		analysis.Degraded,
		analysis.AnalyzedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create analysis: %w", err)
	}

	return nil
}

func (r *analysisRepository) GetCurrentByAssignment(ctx context.Context, assignmentID string) (*models.Analysis, error) {
	query := analysisSelect + `
		WHERE assignment_id = $1
		ORDER BY analyzed_at DESC
		LIMIT 1
	`

	analysis, err := scanAnalysis(r.db.QueryRowContext(ctx, query, assignmentID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return analysis, nil
}

func (r *analysisRepository) ListByAssignment(ctx context.Context, assignmentID string) ([]models.Analysis, error) {
	query := analysisSelect + `
		WHERE assignment_id = $1
		ORDER BY analyzed_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	defer rows.Close()

	var analyses []models.Analysis
	for rows.Next() {
		analysis, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, *analysis)
	}

	return analyses, rows.Err()
}

const analysisSelect = `
	SELECT
		id, assignment_id, original_summary, suggested_sources, plagiarism_score,
		flagged_sections, research_suggestions, citation_recommendations,
		confidence_score, degraded, analyzed_at
	FROM analyses
`

func scanAnalysis(row rowScanner) (*models.Analysis, error) {
	analysis := &models.Analysis{}
	var summary, research, citations sql.NullString
	var suggested, flagged []byte

	err := row.Scan(
		&analysis.ID,
		&analysis.AssignmentID,
		&summary,
		&suggested,
		&analysis.PlagiarismScore,
		&flagged,
		&research,
		&citations,
		&analysis.ConfidenceScore,
		&analysis.Degraded,
		&analysis.AnalyzedAt,
	)
	if err != nil {
		return nil, err
	}

	analysis.OriginalSummary = summary.String
	analysis.ResearchSuggestions = research.String
	analysis.CitationRecommendations = citations.String

	if err := json.Unmarshal(suggested, &analysis.SuggestedSources); err != nil {
		return nil, fmt.Errorf("failed to unmarshal suggested sources: %w", err)
	}
	if err := json.Unmarshal(flagged, &analysis.FlaggedSections); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flagged sections: %w", err)
	}

	return analysis, nil
}
