package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/studyassist/analysis-service/internal/models"
	"github.com/studyassist/analysis-service/internal/worker/queue"
)

// Notifier delivers assignment notifications to the external channels. A nil
// error means the event reached the broker; actual delivery to the student or
// teacher inbox is the downstream consumer's problem.
type Notifier interface {
	NotifyStudent(ctx context.Context, assignment *models.Assignment, analysis *models.Analysis) error
	NotifyTeacher(ctx context.Context, assignment *models.Assignment, analysis *models.Analysis) error
}

type rabbitMQNotifier struct {
	publisher       queue.RabbitMQPublisher
	exchange        string
	retryCount      int
	retryDelay      time.Duration
	dispatchTimeout time.Duration
	logger          zerolog.Logger
}

type NotifierConfig struct {
	Exchange        string
	RetryCount      int
	RetryDelay      time.Duration
	DispatchTimeout time.Duration
}

func NewRabbitMQNotifier(publisher queue.RabbitMQPublisher, cfg NotifierConfig, logger zerolog.Logger) Notifier {
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	if cfg.DispatchTimeout == 0 {
		cfg.DispatchTimeout = 10 * time.Second
	}

	return &rabbitMQNotifier{
		publisher:       publisher,
		exchange:        cfg.Exchange,
		retryCount:      cfg.RetryCount,
		retryDelay:      cfg.RetryDelay,
		dispatchTimeout: cfg.DispatchTimeout,
		logger:          logger,
	}
}

func (n *rabbitMQNotifier) NotifyStudent(ctx context.Context, assignment *models.Assignment, analysis *models.Analysis) error {
	return n.publish(ctx, models.ChannelStudent, assignment, analysis)
}

func (n *rabbitMQNotifier) NotifyTeacher(ctx context.Context, assignment *models.Assignment, analysis *models.Analysis) error {
	return n.publish(ctx, models.ChannelTeacher, assignment, analysis)
}

func (n *rabbitMQNotifier) publish(ctx context.Context, channel models.NotificationChannel, assignment *models.Assignment, analysis *models.Analysis) error {
	event := models.NotificationEvent{
		AssignmentID:    assignment.ID,
		StudentID:       assignment.StudentID,
		Channel:         string(channel),
		AnalysisID:      analysis.ID,
		PlagiarismScore: analysis.PlagiarismScore,
		ConfidenceScore: analysis.ConfidenceScore,
		DispatchedAt:    time.Now().UTC(),
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal notification event: %w", err)
	}

	routingKey := "notification." + string(channel)

	var lastErr error
	for attempt := 0; attempt <= n.retryCount; attempt++ {
		if attempt > 0 {
			n.logger.Warn().
				Str("assignment_id", assignment.ID).
				Str("routing_key", routingKey).
				Int("attempt", attempt).
				Msg("Retrying notification publish")
			select {
			case <-time.After(backoffDelay(n.retryDelay, attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, n.dispatchTimeout)
		err := n.publisher.Publish(attemptCtx, n.exchange, routingKey, body)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}

		n.logger.Info().
			Str("assignment_id", assignment.ID).
			Str("channel", string(channel)).
			Msg("Notification event published")
		return nil
	}

	return fmt.Errorf("failed to publish notification after %d attempts: %w", n.retryCount+1, lastErr)
}
