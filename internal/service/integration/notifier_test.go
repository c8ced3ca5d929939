package integration

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/studyassist/analysis-service/internal/models"
)

type recordedPublish struct {
	exchange    string
	routingKey  string
	body        []byte
	hadDeadline bool
}

type flakyPublisher struct {
	failures int
	calls    []recordedPublish
}

func (p *flakyPublisher) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	_, hadDeadline := ctx.Deadline()
	p.calls = append(p.calls, recordedPublish{
		exchange:    exchange,
		routingKey:  routingKey,
		body:        body,
		hadDeadline: hadDeadline,
	})
	if len(p.calls) <= p.failures {
		return errors.New("broker unavailable")
	}
	return nil
}

func (p *flakyPublisher) Close() error { return nil }

func testNotifierFixture(failures, retries int) (*flakyPublisher, Notifier) {
	publisher := &flakyPublisher{failures: failures}
	notifier := NewRabbitMQNotifier(publisher, NotifierConfig{
		Exchange:        "assignment_exchange",
		RetryCount:      retries,
		RetryDelay:      time.Millisecond,
		DispatchTimeout: time.Second,
	}, zerolog.Nop())
	return publisher, notifier
}

func notifierTestAssignment() (*models.Assignment, *models.Analysis) {
	return &models.Assignment{ID: "assign-1", StudentID: "student-1"},
		&models.Analysis{ID: "analysis-1", AssignmentID: "assign-1", PlagiarismScore: 0.42, ConfidenceScore: 0.9}
}

func TestNotifyStudent_RetriesThenSucceeds(t *testing.T) {
	publisher, notifier := testNotifierFixture(2, 3)
	assignment, analysis := notifierTestAssignment()

	if err := notifier.NotifyStudent(context.Background(), assignment, analysis); err != nil {
		t.Fatalf("Expected retries to succeed, got %v", err)
	}

	if len(publisher.calls) != 3 {
		t.Fatalf("Expected 3 publish attempts, got %d", len(publisher.calls))
	}

	last := publisher.calls[len(publisher.calls)-1]
	if last.routingKey != "notification.student" {
		t.Errorf("Unexpected routing key %q", last.routingKey)
	}
	if last.exchange != "assignment_exchange" {
		t.Errorf("Unexpected exchange %q", last.exchange)
	}

	var event models.NotificationEvent
	if err := json.Unmarshal(last.body, &event); err != nil {
		t.Fatalf("Failed to decode event: %v", err)
	}
	if event.AssignmentID != "assign-1" || event.AnalysisID != "analysis-1" || event.Channel != "student" {
		t.Errorf("Event carries wrong identifiers: %+v", event)
	}
}

func TestNotifyTeacher_ExhaustedRetries(t *testing.T) {
	publisher, notifier := testNotifierFixture(10, 2)
	assignment, analysis := notifierTestAssignment()

	if err := notifier.NotifyTeacher(context.Background(), assignment, analysis); err == nil {
		t.Fatal("Expected error after exhausting retries")
	}

	// retryCount 2 means one initial attempt plus two retries.
	if len(publisher.calls) != 3 {
		t.Errorf("Expected 3 publish attempts, got %d", len(publisher.calls))
	}
}

func TestNotify_AttemptsCarryDispatchDeadline(t *testing.T) {
	publisher, notifier := testNotifierFixture(1, 1)
	assignment, analysis := notifierTestAssignment()

	if err := notifier.NotifyStudent(context.Background(), assignment, analysis); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	for i, call := range publisher.calls {
		if !call.hadDeadline {
			t.Errorf("Attempt %d published without a dispatch deadline", i)
		}
	}
}

func TestNotify_CanceledContextStopsRetrying(t *testing.T) {
	publisher, notifier := testNotifierFixture(10, 5)
	assignment, analysis := notifierTestAssignment()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := notifier.NotifyStudent(ctx, assignment, analysis)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if len(publisher.calls) != 1 {
		t.Errorf("Expected a single attempt before the canceled retry wait, got %d", len(publisher.calls))
	}
}

func TestBackoffDelay_DoublesAndCaps(t *testing.T) {
	base := 100 * time.Millisecond

	if got := backoffDelay(base, 1); got != base {
		t.Errorf("Attempt 1 should wait the base delay, got %v", got)
	}
	if got := backoffDelay(base, 2); got != 2*base {
		t.Errorf("Attempt 2 should double the delay, got %v", got)
	}
	if got := backoffDelay(base, 3); got != 4*base {
		t.Errorf("Attempt 3 should quadruple the delay, got %v", got)
	}
	if got := backoffDelay(time.Second, 10); got != 5*time.Second {
		t.Errorf("Delay must cap at 5s, got %v", got)
	}
}
