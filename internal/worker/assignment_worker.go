package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/studyassist/analysis-service/internal/models"
	"github.com/studyassist/analysis-service/internal/service"
	"github.com/studyassist/analysis-service/internal/worker/queue"
)

// AssignmentWorker consumes submission events and runs the analysis pipeline
// for each. Messages that can never succeed are acked away; transient
// failures are nacked back for redelivery.
type AssignmentWorker interface {
	Start(ctx context.Context) error
	Stop() error
	GetStats() WorkerStats
}

type WorkerStats struct {
	ActiveWorkers  int `json:"active_workers"`
	TotalProcessed int `json:"total_processed"`
	FailedJobs     int `json:"failed_jobs"`
	QueueLength    int `json:"queue_length"`
}

type assignmentWorker struct {
	workerPool      *WorkerPool
	queueConsumer   queue.RabbitMQConsumer
	analysisService service.AnalysisService
	logger          zerolog.Logger
	stats           WorkerStats
	statsMutex      sync.RWMutex
	startTime       time.Time
}

func NewAssignmentWorker(
	workerPool *WorkerPool,
	queueConsumer queue.RabbitMQConsumer,
	analysisService service.AnalysisService,
	logger zerolog.Logger,
) AssignmentWorker {
	return &assignmentWorker{
		workerPool:      workerPool,
		queueConsumer:   queueConsumer,
		analysisService: analysisService,
		logger:          logger,
		startTime:       time.Now(),
	}
}

func (w *assignmentWorker) Start(ctx context.Context) error {
	if err := w.workerPool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	msgs, err := w.queueConsumer.Consume(ctx)
	if err != nil {
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}

	go w.processMessages(ctx, msgs)

	w.logger.Info().Msg("Assignment worker started")
	return nil
}

func (w *assignmentWorker) Stop() error {
	if err := w.workerPool.Stop(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to stop worker pool")
	}

	if err := w.queueConsumer.Close(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to close queue consumer")
	}

	w.logger.Info().
		Int("total_processed", w.stats.TotalProcessed).
		Int("failed_jobs", w.stats.FailedJobs).
		Dur("uptime", time.Since(w.startTime)).
		Msg("Assignment worker stopped")

	return nil
}

func (w *assignmentWorker) processMessages(ctx context.Context, msgs <-chan queue.RabbitMQMessage) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Stopping message processing")
			return
		case msg, ok := <-msgs:
			if !ok {
				w.logger.Warn().Msg("Message channel closed")
				return
			}

			w.workerPool.Submit(func() {
				if err := w.processMessage(ctx, msg); err != nil {
					w.logger.Error().Err(err).Msg("Failed to process submission event")

					w.statsMutex.Lock()
					w.stats.FailedJobs++
					w.statsMutex.Unlock()

					if isPermanentError(err) {
						if ackErr := msg.Ack(false); ackErr != nil {
							w.logger.Error().Err(ackErr).Msg("Failed to ack message")
						}
						return
					}

					if nackErr := msg.Nack(false, true); nackErr != nil {
						w.logger.Error().Err(nackErr).Msg("Failed to nack message")
					}
					return
				}

				if err := msg.Ack(false); err != nil {
					w.logger.Error().Err(err).Msg("Failed to ack message")
				}

				w.statsMutex.Lock()
				w.stats.TotalProcessed++
				w.statsMutex.Unlock()
			})
		}
	}
}

func (w *assignmentWorker) processMessage(ctx context.Context, msg queue.RabbitMQMessage) error {
	var event models.AssignmentSubmittedEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		return permanent(fmt.Errorf("failed to unmarshal event: %w", err))
	}

	if strings.TrimSpace(event.AssignmentID) == "" {
		return permanent(errors.New("empty assignment_id"))
	}

	w.logger.Info().
		Str("assignment_id", event.AssignmentID).
		Str("student_id", event.StudentID).
		Msg("Processing submitted assignment")

	_, err := w.analysisService.AnalyzeAssignment(ctx, event.AssignmentID)
	if err != nil {
		// An assignment that no longer exists will never analyze; everything
		// else (provider outage, broker hiccup) is worth a redelivery.
		if errors.Is(err, service.ErrAssignmentNotFound) {
			return permanent(err)
		}
		return fmt.Errorf("failed to analyze assignment: %w", err)
	}

	return nil
}

func (w *assignmentWorker) GetStats() WorkerStats {
	w.statsMutex.RLock()
	defer w.statsMutex.RUnlock()

	stats := w.stats

	queueLength, err := w.queueConsumer.GetQueueLength()
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to get queue length")
	} else {
		stats.QueueLength = queueLength
	}

	stats.ActiveWorkers = w.workerPool.GetActiveWorkers()

	return stats
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return permanentError{err: err}
}

func isPermanentError(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
