package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/studyassist/analysis-service/internal/models"
)

type AssignmentRepository interface {
	Create(ctx context.Context, assignment *models.Assignment) error
	GetByID(ctx context.Context, id string) (*models.Assignment, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

type assignmentRepository struct {
	*PostgresRepository
}

func NewAssignmentRepository(db *sql.DB, logger zerolog.Logger) AssignmentRepository {
	return &assignmentRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *assignmentRepository) Create(ctx context.Context, assignment *models.Assignment) error {
	query := `
		INSERT INTO assignments (id, student_id, filename, original_text, topic, academic_level, word_count, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		assignment.ID,
		assignment.StudentID,
		assignment.Filename,
		assignment.OriginalText,
		nullString(assignment.Topic),
		nullString(assignment.AcademicLevel),
		assignment.WordCount,
		assignment.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create assignment: %w", err)
	}

	return nil
}

func (r *assignmentRepository) GetByID(ctx context.Context, id string) (*models.Assignment, error) {
	query := `
		SELECT id, student_id, filename, original_text, topic, academic_level, word_count, uploaded_at
		FROM assignments
		WHERE id = $1
	`

	assignment := &models.Assignment{}
	var topic, level sql.NullString

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&assignment.ID,
		&assignment.StudentID,
		&assignment.Filename,
		&assignment.OriginalText,
		&topic,
		&level,
		&assignment.WordCount,
		&assignment.UploadedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}

	assignment.Topic = topic.String
	assignment.AcademicLevel = level.String

	return assignment, nil
}

func (r *assignmentRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM assignments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete assignment: %w", err)
	}
	return nil
}
