package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/studyassist/analysis-service/internal/models"
	"github.com/studyassist/analysis-service/internal/repository"
	"github.com/studyassist/analysis-service/internal/service/analyzer"
	"github.com/studyassist/analysis-service/internal/worker/queue"
)

type AnalysisService interface {
	AnalyzeAssignment(ctx context.Context, assignmentID string) (*models.Analysis, error)
	AnalyzeAssignmentAsync(ctx context.Context, assignmentID string) error
	GetCurrentAnalysis(ctx context.Context, assignmentID string) (*models.Analysis, error)
	ListAnalyses(ctx context.Context, assignmentID string) ([]models.Analysis, error)
	CreateAssignment(ctx context.Context, req *models.CreateAssignmentRequest) (*models.Assignment, error)
	GetServiceStatus(ctx context.Context) (*models.HealthCheckResponse, error)
}

type analysisService struct {
	assignmentRepo repository.AssignmentRepository
	analysisRepo   repository.AnalysisRepository
	retriever      analyzer.Retriever
	scorer         analyzer.Scorer
	notifications  NotificationService
	publisher      queue.RabbitMQPublisher
	rabbitMQ       repository.RabbitMQRepository
	logger         zerolog.Logger
	config         AnalysisConfig
}

type AnalysisConfig struct {
	Exchange         string
	SubmitRoutingKey string
}

func NewAnalysisService(
	assignmentRepo repository.AssignmentRepository,
	analysisRepo repository.AnalysisRepository,
	retriever analyzer.Retriever,
	scorer analyzer.Scorer,
	notifications NotificationService,
	publisher queue.RabbitMQPublisher,
	rabbitMQ repository.RabbitMQRepository,
	logger zerolog.Logger,
	config AnalysisConfig,
) AnalysisService {
	return &analysisService{
		assignmentRepo: assignmentRepo,
		analysisRepo:   analysisRepo,
		retriever:      retriever,
		scorer:         scorer,
		notifications:  notifications,
		publisher:      publisher,
		rabbitMQ:       rabbitMQ,
		logger:         logger,
		config:         config,
	}
}

// AnalyzeAssignment runs the full retrieval and scoring pipeline. On failure
// no analysis row is written, so a retried run starts clean.
func (s *analysisService) AnalyzeAssignment(ctx context.Context, assignmentID string) (*models.Analysis, error) {
	startTime := time.Now()

	assignment, err := s.assignmentRepo.GetByID(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignment: %w", err)
	}
	if assignment == nil {
		return nil, ErrAssignmentNotFound
	}

	result, err := s.retriever.Retrieve(ctx, assignment.OriginalText)
	if err != nil {
		s.publishAnalysisFailed(ctx, assignmentID, err)
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	analysis := s.scorer.Score(assignment.OriginalText, result)
	analysis.ID = uuid.New().String()
	analysis.AssignmentID = assignmentID
	analysis.AnalyzedAt = time.Now().UTC()

	if err := s.analysisRepo.Create(ctx, analysis); err != nil {
		s.publishAnalysisFailed(ctx, assignmentID, err)
		return nil, fmt.Errorf("failed to persist analysis: %w", err)
	}

	processingTime := int(time.Since(startTime).Milliseconds())
	s.publishAnalysisCompleted(ctx, analysis, processingTime)

	s.logger.Info().
		Str("assignment_id", assignmentID).
		Str("analysis_id", analysis.ID).
		Float64("plagiarism_score", analysis.PlagiarismScore).
		Int("flagged_sections", len(analysis.FlaggedSections)).
		Bool("degraded", analysis.Degraded).
		Int("processing_time_ms", processingTime).
		Msg("Analysis completed")

	// The analysis is durable at this point. A dispatch failure propagates so
	// the caller can retry; the claim flags keep the retry from double-sending.
	if err := s.notifications.RecordAnalysisComplete(ctx, assignmentID); err != nil {
		return analysis, fmt.Errorf("analysis stored but notification failed: %w", err)
	}

	return analysis, nil
}

func (s *analysisService) AnalyzeAssignmentAsync(ctx context.Context, assignmentID string) error {
	assignment, err := s.assignmentRepo.GetByID(ctx, assignmentID)
	if err != nil {
		return fmt.Errorf("failed to load assignment: %w", err)
	}
	if assignment == nil {
		return ErrAssignmentNotFound
	}

	event := models.AssignmentSubmittedEvent{
		AssignmentID: assignmentID,
		StudentID:    assignment.StudentID,
		Timestamp:    time.Now().Unix(),
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal submission event: %w", err)
	}

	if err := s.publisher.Publish(ctx, s.config.Exchange, s.config.SubmitRoutingKey, eventJSON); err != nil {
		return fmt.Errorf("failed to publish submission event: %w", err)
	}

	s.logger.Info().
		Str("assignment_id", assignmentID).
		Msg("Async analysis requested")

	return nil
}

func (s *analysisService) GetCurrentAnalysis(ctx context.Context, assignmentID string) (*models.Analysis, error) {
	analysis, err := s.analysisRepo.GetCurrentByAssignment(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}
	if analysis == nil {
		if err := s.requireAssignment(ctx, assignmentID); err != nil {
			return nil, err
		}
		return nil, ErrAnalysisNotFound
	}

	return analysis, nil
}

func (s *analysisService) ListAnalyses(ctx context.Context, assignmentID string) ([]models.Analysis, error) {
	if err := s.requireAssignment(ctx, assignmentID); err != nil {
		return nil, err
	}

	analyses, err := s.analysisRepo.ListByAssignment(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}

	return analyses, nil
}

func (s *analysisService) CreateAssignment(ctx context.Context, req *models.CreateAssignmentRequest) (*models.Assignment, error) {
	if strings.TrimSpace(req.StudentID) == "" {
		return nil, fmt.Errorf("student_id is required")
	}

	assignment := &models.Assignment{
		ID:            uuid.New().String(),
		StudentID:     req.StudentID,
		Filename:      req.Filename,
		OriginalText:  req.OriginalText,
		Topic:         req.Topic,
		AcademicLevel: req.AcademicLevel,
		WordCount:     len(strings.Fields(req.OriginalText)),
		UploadedAt:    time.Now().UTC(),
	}

	if err := s.assignmentRepo.Create(ctx, assignment); err != nil {
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}

	s.logger.Info().
		Str("assignment_id", assignment.ID).
		Str("student_id", assignment.StudentID).
		Int("word_count", assignment.WordCount).
		Msg("Assignment created")

	return assignment, nil
}

func (s *analysisService) GetServiceStatus(ctx context.Context) (*models.HealthCheckResponse, error) {
	status := &models.HealthCheckResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	}

	if err := s.assignmentRepo.Ping(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Database health check failed")
		status.Status = "degraded"
	} else {
		status.Database = true
	}

	if s.rabbitMQ != nil && s.rabbitMQ.Channel() != nil && !s.rabbitMQ.Channel().IsClosed() {
		status.RabbitMQ = true
	} else {
		status.Status = "degraded"
	}

	return status, nil
}

func (s *analysisService) requireAssignment(ctx context.Context, assignmentID string) error {
	assignment, err := s.assignmentRepo.GetByID(ctx, assignmentID)
	if err != nil {
		return fmt.Errorf("failed to load assignment: %w", err)
	}
	if assignment == nil {
		return ErrAssignmentNotFound
	}
	return nil
}

func (s *analysisService) publishAnalysisCompleted(ctx context.Context, analysis *models.Analysis, processingTime int) {
	event := models.AnalysisCompletedEvent{
		AssignmentID:    analysis.AssignmentID,
		AnalysisID:      analysis.ID,
		PlagiarismScore: analysis.PlagiarismScore,
		ConfidenceScore: analysis.ConfidenceScore,
		FlaggedSections: len(analysis.FlaggedSections),
		Degraded:        analysis.Degraded,
		ProcessingTime:  processingTime,
		CompletedAt:     analysis.AnalyzedAt,
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal analysis completed event")
		return
	}

	if err := s.publisher.Publish(ctx, s.config.Exchange, "analysis.completed", eventJSON); err != nil {
		s.logger.Error().Err(err).Msg("Failed to publish analysis completed event")
	}
}

func (s *analysisService) publishAnalysisFailed(ctx context.Context, assignmentID string, cause error) {
	event := models.AnalysisFailedEvent{
		AssignmentID: assignmentID,
		Error:        cause.Error(),
		FailedAt:     time.Now().UTC(),
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal analysis failed event")
		return
	}

	if err := s.publisher.Publish(ctx, s.config.Exchange, "analysis.failed", eventJSON); err != nil {
		s.logger.Error().Err(err).Msg("Failed to publish analysis failed event")
	}
}
