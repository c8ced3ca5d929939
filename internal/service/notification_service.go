package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/studyassist/analysis-service/internal/models"
	"github.com/studyassist/analysis-service/internal/repository"
	"github.com/studyassist/analysis-service/internal/service/integration"
)

// NotificationService drives the two-stage notification flow: the student is
// told first, and the teacher only after the student confirms. Stage changes
// commit through compare-and-swap so concurrent callers and redelivered queue
// messages cannot double-send.
type NotificationService interface {
	RecordAnalysisComplete(ctx context.Context, assignmentID string) error
	ConfirmAndNotifyTeacher(ctx context.Context, assignmentID, studentID string) (*models.NotificationState, error)
	GetState(ctx context.Context, assignmentID string) (*models.NotificationState, error)
}

type notificationService struct {
	notificationRepo repository.NotificationRepository
	assignmentRepo   repository.AssignmentRepository
	analysisRepo     repository.AnalysisRepository
	notifier         integration.Notifier
	logger           zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewNotificationService(
	notificationRepo repository.NotificationRepository,
	assignmentRepo repository.AssignmentRepository,
	analysisRepo repository.AnalysisRepository,
	notifier integration.Notifier,
	logger zerolog.Logger,
) NotificationService {
	return &notificationService{
		notificationRepo: notificationRepo,
		assignmentRepo:   assignmentRepo,
		analysisRepo:     analysisRepo,
		notifier:         notifier,
		logger:           logger,
		locks:            make(map[string]*sync.Mutex),
	}
}

// assignmentLock serializes notification work per assignment within this
// process. Cross-process safety comes from the repository CAS operations.
func (s *notificationService) assignmentLock(assignmentID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[assignmentID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[assignmentID] = lock
	}
	return lock
}

// evictLock drops the per-assignment mutex once the flow reached its terminal
// stage, so the map does not grow with every assignment ever notified. A racer
// still holding the old instance is harmless: every stage change commits
// through CAS, the mutex only reduces contention on the repository.
func (s *notificationService) evictLock(assignmentID string) {
	s.mu.Lock()
	delete(s.locks, assignmentID)
	s.mu.Unlock()
}

func (s *notificationService) RecordAnalysisComplete(ctx context.Context, assignmentID string) error {
	lock := s.assignmentLock(assignmentID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.notificationRepo.Create(ctx, assignmentID); err != nil {
		return fmt.Errorf("failed to ensure notification state: %w", err)
	}

	state, err := s.notificationRepo.Get(ctx, assignmentID)
	if err != nil {
		return fmt.Errorf("failed to load notification state: %w", err)
	}

	if state.Stage != models.StageAwaitingStudentNotification {
		// A later analysis run never re-notifies; the flow already advanced.
		s.logger.Debug().
			Str("assignment_id", assignmentID).
			Str("stage", string(state.Stage)).
			Msg("Notification flow already past student stage")
		if state.Stage == models.StageTeacherNotified {
			s.evictLock(assignmentID)
		}
		return nil
	}

	claimed, err := s.notificationRepo.ClaimDispatch(ctx, assignmentID, models.ChannelStudent)
	if err != nil {
		return fmt.Errorf("failed to claim student dispatch: %w", err)
	}
	if !claimed {
		// Another worker holds the dispatch; it will transition or release.
		return nil
	}

	if err := s.dispatchStudent(ctx, assignmentID); err != nil {
		if releaseErr := s.notificationRepo.ReleaseDispatch(ctx, assignmentID, models.ChannelStudent); releaseErr != nil {
			s.logger.Error().Err(releaseErr).
				Str("assignment_id", assignmentID).
				Msg("Failed to release student dispatch claim")
		}
		return err
	}

	moved, err := s.notificationRepo.Transition(ctx, assignmentID,
		models.StageAwaitingStudentNotification, models.StageStudentNotified)
	if err != nil {
		return fmt.Errorf("failed to advance notification stage: %w", err)
	}
	if !moved {
		s.logger.Warn().
			Str("assignment_id", assignmentID).
			Msg("Student stage already advanced by a concurrent worker")
	}

	return nil
}

func (s *notificationService) dispatchStudent(ctx context.Context, assignmentID string) error {
	assignment, analysis, err := s.loadAssignmentAndAnalysis(ctx, assignmentID)
	if err != nil {
		return err
	}

	if err := s.notifier.NotifyStudent(ctx, assignment, analysis); err != nil {
		return fmt.Errorf("%w: student channel: %v", ErrNotificationDispatch, err)
	}

	s.logger.Info().
		Str("assignment_id", assignmentID).
		Msg("Student notified of completed analysis")
	return nil
}

func (s *notificationService) ConfirmAndNotifyTeacher(ctx context.Context, assignmentID, studentID string) (*models.NotificationState, error) {
	assignment, err := s.assignmentRepo.GetByID(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignment: %w", err)
	}
	if assignment == nil {
		return nil, ErrAssignmentNotFound
	}
	if assignment.StudentID != studentID {
		return nil, ErrForbidden
	}

	lock := s.assignmentLock(assignmentID)
	lock.Lock()
	defer lock.Unlock()

	state, err := s.notificationRepo.Get(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load notification state: %w", err)
	}
	if state == nil || state.Stage == models.StageAwaitingStudentNotification {
		return nil, ErrInvalidState
	}

	if state.Stage == models.StageTeacherNotified {
		// Confirming twice is fine; nothing is re-sent.
		s.evictLock(assignmentID)
		return state, nil
	}

	claimed, err := s.notificationRepo.ClaimDispatch(ctx, assignmentID, models.ChannelTeacher)
	if err != nil {
		return nil, fmt.Errorf("failed to claim teacher dispatch: %w", err)
	}
	if !claimed {
		// A concurrent confirmation is mid-dispatch; report the current state.
		return state, nil
	}

	analysis, err := s.analysisRepo.GetCurrentByAssignment(ctx, assignmentID)
	if err != nil {
		s.releaseTeacherClaim(ctx, assignmentID)
		return nil, fmt.Errorf("failed to load analysis: %w", err)
	}
	if analysis == nil {
		s.releaseTeacherClaim(ctx, assignmentID)
		return nil, ErrAnalysisNotFound
	}

	if err := s.notifier.NotifyTeacher(ctx, assignment, analysis); err != nil {
		s.releaseTeacherClaim(ctx, assignmentID)
		return nil, fmt.Errorf("%w: teacher channel: %v", ErrNotificationDispatch, err)
	}

	if _, err := s.notificationRepo.Transition(ctx, assignmentID,
		models.StageStudentNotified, models.StageTeacherNotified); err != nil {
		return nil, fmt.Errorf("failed to advance notification stage: %w", err)
	}

	s.logger.Info().
		Str("assignment_id", assignmentID).
		Msg("Teacher notified after student confirmation")

	s.evictLock(assignmentID)

	return s.notificationRepo.Get(ctx, assignmentID)
}

func (s *notificationService) releaseTeacherClaim(ctx context.Context, assignmentID string) {
	if err := s.notificationRepo.ReleaseDispatch(ctx, assignmentID, models.ChannelTeacher); err != nil {
		s.logger.Error().Err(err).
			Str("assignment_id", assignmentID).
			Msg("Failed to release teacher dispatch claim")
	}
}

func (s *notificationService) GetState(ctx context.Context, assignmentID string) (*models.NotificationState, error) {
	assignment, err := s.assignmentRepo.GetByID(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignment: %w", err)
	}
	if assignment == nil {
		return nil, ErrAssignmentNotFound
	}

	state, err := s.notificationRepo.Get(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load notification state: %w", err)
	}
	if state == nil {
		// Analysis has not completed yet; present the initial stage.
		return &models.NotificationState{
			AssignmentID: assignmentID,
			Stage:        models.StageAwaitingStudentNotification,
		}, nil
	}

	return state, nil
}

func (s *notificationService) loadAssignmentAndAnalysis(ctx context.Context, assignmentID string) (*models.Assignment, *models.Analysis, error) {
	assignment, err := s.assignmentRepo.GetByID(ctx, assignmentID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load assignment: %w", err)
	}
	if assignment == nil {
		return nil, nil, ErrAssignmentNotFound
	}

	analysis, err := s.analysisRepo.GetCurrentByAssignment(ctx, assignmentID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load analysis: %w", err)
	}
	if analysis == nil {
		return nil, nil, ErrAnalysisNotFound
	}

	return assignment, analysis, nil
}
