package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/studyassist/analysis-service/internal/models"
)

// NotificationRepository persists the per-assignment notification machine.
// Transition and ClaimDispatch are compare-and-swap operations: the UPDATE only
// matches when the stored row is in the expected state, and the boolean result
// reports whether this caller won the swap.
type NotificationRepository interface {
	Create(ctx context.Context, assignmentID string) error
	Get(ctx context.Context, assignmentID string) (*models.NotificationState, error)
	Transition(ctx context.Context, assignmentID string, from, to models.NotificationStage) (bool, error)
	ClaimDispatch(ctx context.Context, assignmentID string, channel models.NotificationChannel) (bool, error)
	ReleaseDispatch(ctx context.Context, assignmentID string, channel models.NotificationChannel) error
	Ping(ctx context.Context) error
}

type notificationRepository struct {
	*PostgresRepository
}

func NewNotificationRepository(db *sql.DB, logger zerolog.Logger) NotificationRepository {
	return &notificationRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *notificationRepository) Create(ctx context.Context, assignmentID string) error {
	query := `
		INSERT INTO notification_states (assignment_id, stage, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (assignment_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query, assignmentID, models.StageAwaitingStudentNotification.String())
	if err != nil {
		return fmt.Errorf("failed to create notification state: %w", err)
	}

	return nil
}

func (r *notificationRepository) Get(ctx context.Context, assignmentID string) (*models.NotificationState, error) {
	query := `
		SELECT assignment_id, stage, student_dispatched, teacher_dispatched,
			student_notified_at, teacher_notified_at, created_at, updated_at
		FROM notification_states
		WHERE assignment_id = $1
	`

	state := &models.NotificationState{}
	var stage string
	var studentAt, teacherAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, assignmentID).Scan(
		&state.AssignmentID,
		&stage,
		&state.StudentDispatched,
		&state.TeacherDispatched,
		&studentAt,
		&teacherAt,
		&state.CreatedAt,
		&state.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get notification state: %w", err)
	}

	state.Stage = models.NotificationStage(stage)
	if studentAt.Valid {
		t := studentAt.Time
		state.StudentNotifiedAt = &t
	}
	if teacherAt.Valid {
		t := teacherAt.Time
		state.TeacherNotifiedAt = &t
	}

	return state, nil
}

func (r *notificationRepository) Transition(ctx context.Context, assignmentID string, from, to models.NotificationStage) (bool, error) {
	var stampColumn string
	switch to {
	case models.StageStudentNotified:
		stampColumn = "student_notified_at"
	case models.StageTeacherNotified:
		stampColumn = "teacher_notified_at"
	default:
		return false, fmt.Errorf("unsupported transition target %s", to)
	}

	query := fmt.Sprintf(`
		UPDATE notification_states
		SET stage = $1, %s = now(), updated_at = now()
		WHERE assignment_id = $2 AND stage = $3
	`, stampColumn)

	result, err := r.db.ExecContext(ctx, query, to.String(), assignmentID, from.String())
	if err != nil {
		return false, fmt.Errorf("failed to transition notification state: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected == 1, nil
}

func (r *notificationRepository) ClaimDispatch(ctx context.Context, assignmentID string, channel models.NotificationChannel) (bool, error) {
	column, err := dispatchColumn(channel)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf(`
		UPDATE notification_states
		SET %s = TRUE, updated_at = now()
		WHERE assignment_id = $1 AND %s = FALSE
	`, column, column)

	result, err := r.db.ExecContext(ctx, query, assignmentID)
	if err != nil {
		return false, fmt.Errorf("failed to claim %s dispatch: %w", channel, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected == 1, nil
}

func (r *notificationRepository) ReleaseDispatch(ctx context.Context, assignmentID string, channel models.NotificationChannel) error {
	column, err := dispatchColumn(channel)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE notification_states
		SET %s = FALSE, updated_at = now()
		WHERE assignment_id = $1
	`, column)

	if _, err := r.db.ExecContext(ctx, query, assignmentID); err != nil {
		return fmt.Errorf("failed to release %s dispatch: %w", channel, err)
	}

	return nil
}

func dispatchColumn(channel models.NotificationChannel) (string, error) {
	switch channel {
	case models.ChannelStudent:
		return "student_dispatched", nil
	case models.ChannelTeacher:
		return "teacher_dispatched", nil
	default:
		return "", fmt.Errorf("unknown notification channel %q", channel)
	}
}
