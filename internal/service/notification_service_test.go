package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/studyassist/analysis-service/internal/models"
	"github.com/studyassist/analysis-service/internal/repository"
)

type stubAssignmentRepo struct {
	mu          sync.Mutex
	assignments map[string]*models.Assignment
}

func newStubAssignmentRepo() *stubAssignmentRepo {
	return &stubAssignmentRepo{assignments: make(map[string]*models.Assignment)}
}

func (s *stubAssignmentRepo) Create(_ context.Context, assignment *models.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *assignment
	s.assignments[assignment.ID] = &copied
	return nil
}

func (s *stubAssignmentRepo) GetByID(_ context.Context, id string) (*models.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	assignment, ok := s.assignments[id]
	if !ok {
		return nil, nil
	}
	copied := *assignment
	return &copied, nil
}

func (s *stubAssignmentRepo) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assignments, id)
	return nil
}

func (s *stubAssignmentRepo) Ping(_ context.Context) error { return nil }

type stubAnalysisRepo struct {
	mu       sync.Mutex
	analyses []models.Analysis
}

func newStubAnalysisRepo() *stubAnalysisRepo {
	return &stubAnalysisRepo{}
}

func (s *stubAnalysisRepo) Create(_ context.Context, analysis *models.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyses = append(s.analyses, *analysis)
	return nil
}

func (s *stubAnalysisRepo) GetCurrentByAssignment(_ context.Context, assignmentID string) (*models.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *models.Analysis
	for i := range s.analyses {
		if s.analyses[i].AssignmentID != assignmentID {
			continue
		}
		if current == nil || s.analyses[i].AnalyzedAt.After(current.AnalyzedAt) {
			current = &s.analyses[i]
		}
	}
	if current == nil {
		return nil, nil
	}
	copied := *current
	return &copied, nil
}

func (s *stubAnalysisRepo) ListByAssignment(_ context.Context, assignmentID string) ([]models.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Analysis
	for _, a := range s.analyses {
		if a.AssignmentID == assignmentID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AnalyzedAt.After(out[j].AnalyzedAt)
	})
	return out, nil
}

func (s *stubAnalysisRepo) Ping(_ context.Context) error { return nil }

type fakeNotifier struct {
	mu           sync.Mutex
	studentCalls int
	teacherCalls int
	failStudent  bool
	failTeacher  bool
}

func (f *fakeNotifier) NotifyStudent(_ context.Context, _ *models.Assignment, _ *models.Analysis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStudent {
		return errors.New("student channel down")
	}
	f.studentCalls++
	return nil
}

func (f *fakeNotifier) NotifyTeacher(_ context.Context, _ *models.Assignment, _ *models.Analysis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTeacher {
		return errors.New("teacher channel down")
	}
	f.teacherCalls++
	return nil
}

func (f *fakeNotifier) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.studentCalls, f.teacherCalls
}

func setupNotificationTest(t *testing.T) (NotificationService, *repository.MemoryNotifications, *stubAssignmentRepo, *stubAnalysisRepo, *fakeNotifier) {
	t.Helper()

	notifications := repository.NewMemoryNotifications()
	assignments := newStubAssignmentRepo()
	analyses := newStubAnalysisRepo()
	notifier := &fakeNotifier{}

	svc := NewNotificationService(notifications, assignments, analyses, notifier, zerolog.Nop())
	return svc, notifications, assignments, analyses, notifier
}

func seedAnalyzedAssignment(t *testing.T, assignments *stubAssignmentRepo, analyses *stubAnalysisRepo, assignmentID, studentID string) {
	t.Helper()

	ctx := context.Background()
	if err := assignments.Create(ctx, &models.Assignment{
		ID:        assignmentID,
		StudentID: studentID,
	}); err != nil {
		t.Fatalf("Failed to seed assignment: %v", err)
	}
	if err := analyses.Create(ctx, &models.Analysis{
		ID:           "analysis-" + assignmentID,
		AssignmentID: assignmentID,
		AnalyzedAt:   time.Now().UTC(),
	}); err != nil {
		t.Fatalf("Failed to seed analysis: %v", err)
	}
}

func TestRecordAnalysisComplete_NotifiesStudentOnce(t *testing.T) {
	svc, notifications, assignments, analyses, notifier := setupNotificationTest(t)
	seedAnalyzedAssignment(t, assignments, analyses, "a1", "student-1")
	ctx := context.Background()

	if err := svc.RecordAnalysisComplete(ctx, "a1"); err != nil {
		t.Fatalf("RecordAnalysisComplete failed: %v", err)
	}

	state, _ := notifications.Get(ctx, "a1")
	if state.Stage != models.StageStudentNotified {
		t.Errorf("Expected stage %s, got %s", models.StageStudentNotified, state.Stage)
	}
	if state.StudentNotifiedAt == nil {
		t.Error("StudentNotifiedAt not stamped")
	}

	// A re-analysis of the same assignment must not re-notify.
	if err := svc.RecordAnalysisComplete(ctx, "a1"); err != nil {
		t.Fatalf("Second RecordAnalysisComplete failed: %v", err)
	}

	students, teachers := notifier.counts()
	if students != 1 {
		t.Errorf("Expected exactly 1 student notification, got %d", students)
	}
	if teachers != 0 {
		t.Errorf("Expected no teacher notifications, got %d", teachers)
	}
}

func TestRecordAnalysisComplete_ConcurrentInvocations(t *testing.T) {
	svc, _, assignments, analyses, notifier := setupNotificationTest(t)
	seedAnalyzedAssignment(t, assignments, analyses, "a1", "student-1")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = svc.RecordAnalysisComplete(context.Background(), "a1")
		}()
	}
	wg.Wait()

	students, _ := notifier.counts()
	if students != 1 {
		t.Errorf("Concurrent completion produced %d student notifications, want 1", students)
	}
}

func TestRecordAnalysisComplete_RetriesAfterDispatchFailure(t *testing.T) {
	svc, notifications, assignments, analyses, notifier := setupNotificationTest(t)
	seedAnalyzedAssignment(t, assignments, analyses, "a1", "student-1")
	ctx := context.Background()

	notifier.failStudent = true
	err := svc.RecordAnalysisComplete(ctx, "a1")
	if !errors.Is(err, ErrNotificationDispatch) {
		t.Fatalf("Expected ErrNotificationDispatch, got %v", err)
	}

	state, _ := notifications.Get(ctx, "a1")
	if state.Stage != models.StageAwaitingStudentNotification {
		t.Errorf("Failed dispatch must not advance the stage, got %s", state.Stage)
	}
	if state.StudentDispatched {
		t.Error("Failed dispatch must release its claim")
	}

	notifier.failStudent = false
	if err := svc.RecordAnalysisComplete(ctx, "a1"); err != nil {
		t.Fatalf("Retry after failure should succeed, got %v", err)
	}

	students, _ := notifier.counts()
	if students != 1 {
		t.Errorf("Expected 1 student notification after retry, got %d", students)
	}
}

func TestConfirmAndNotifyTeacher_FullFlow(t *testing.T) {
	svc, notifications, assignments, analyses, notifier := setupNotificationTest(t)
	seedAnalyzedAssignment(t, assignments, analyses, "a1", "student-1")
	ctx := context.Background()

	if err := svc.RecordAnalysisComplete(ctx, "a1"); err != nil {
		t.Fatalf("RecordAnalysisComplete failed: %v", err)
	}

	state, err := svc.ConfirmAndNotifyTeacher(ctx, "a1", "student-1")
	if err != nil {
		t.Fatalf("ConfirmAndNotifyTeacher failed: %v", err)
	}
	if state.Stage != models.StageTeacherNotified {
		t.Errorf("Expected stage %s, got %s", models.StageTeacherNotified, state.Stage)
	}
	if state.TeacherNotifiedAt == nil {
		t.Error("TeacherNotifiedAt not stamped")
	}

	// Confirming again is idempotent.
	state, err = svc.ConfirmAndNotifyTeacher(ctx, "a1", "student-1")
	if err != nil {
		t.Fatalf("Second confirmation failed: %v", err)
	}
	if state.Stage != models.StageTeacherNotified {
		t.Errorf("Expected terminal stage, got %s", state.Stage)
	}

	_, teachers := notifier.counts()
	if teachers != 1 {
		t.Errorf("Expected exactly 1 teacher notification, got %d", teachers)
	}

	stored, _ := notifications.Get(ctx, "a1")
	if stored.Stage != models.StageTeacherNotified {
		t.Errorf("Stored stage is %s, want %s", stored.Stage, models.StageTeacherNotified)
	}
}

func TestConfirmAndNotifyTeacher_WhileAwaiting(t *testing.T) {
	svc, notifications, assignments, analyses, _ := setupNotificationTest(t)
	seedAnalyzedAssignment(t, assignments, analyses, "a1", "student-1")
	ctx := context.Background()

	// State exists but the student was never notified.
	if err := notifications.Create(ctx, "a1"); err != nil {
		t.Fatalf("Failed to create state: %v", err)
	}

	if _, err := svc.ConfirmAndNotifyTeacher(ctx, "a1", "student-1"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState, got %v", err)
	}
}

func TestConfirmAndNotifyTeacher_NoStateYet(t *testing.T) {
	svc, _, assignments, analyses, _ := setupNotificationTest(t)
	seedAnalyzedAssignment(t, assignments, analyses, "a1", "student-1")

	if _, err := svc.ConfirmAndNotifyTeacher(context.Background(), "a1", "student-1"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState before analysis completion, got %v", err)
	}
}

func TestConfirmAndNotifyTeacher_WrongStudent(t *testing.T) {
	svc, _, assignments, analyses, _ := setupNotificationTest(t)
	seedAnalyzedAssignment(t, assignments, analyses, "a1", "student-1")
	ctx := context.Background()

	if err := svc.RecordAnalysisComplete(ctx, "a1"); err != nil {
		t.Fatalf("RecordAnalysisComplete failed: %v", err)
	}

	if _, err := svc.ConfirmAndNotifyTeacher(ctx, "a1", "someone-else"); !errors.Is(err, ErrForbidden) {
		t.Errorf("Expected ErrForbidden, got %v", err)
	}
}

func TestConfirmAndNotifyTeacher_UnknownAssignment(t *testing.T) {
	svc, _, _, _, _ := setupNotificationTest(t)

	if _, err := svc.ConfirmAndNotifyTeacher(context.Background(), "missing", "student-1"); !errors.Is(err, ErrAssignmentNotFound) {
		t.Errorf("Expected ErrAssignmentNotFound, got %v", err)
	}
}

func TestConfirmAndNotifyTeacher_DispatchFailureKeepsStage(t *testing.T) {
	svc, notifications, assignments, analyses, notifier := setupNotificationTest(t)
	seedAnalyzedAssignment(t, assignments, analyses, "a1", "student-1")
	ctx := context.Background()

	if err := svc.RecordAnalysisComplete(ctx, "a1"); err != nil {
		t.Fatalf("RecordAnalysisComplete failed: %v", err)
	}

	notifier.failTeacher = true
	if _, err := svc.ConfirmAndNotifyTeacher(ctx, "a1", "student-1"); !errors.Is(err, ErrNotificationDispatch) {
		t.Fatalf("Expected ErrNotificationDispatch, got %v", err)
	}

	state, _ := notifications.Get(ctx, "a1")
	if state.Stage != models.StageStudentNotified {
		t.Errorf("Failed teacher dispatch must keep stage %s, got %s", models.StageStudentNotified, state.Stage)
	}
	if state.TeacherDispatched {
		t.Error("Failed dispatch must release the teacher claim")
	}

	notifier.failTeacher = false
	state, err := svc.ConfirmAndNotifyTeacher(ctx, "a1", "student-1")
	if err != nil {
		t.Fatalf("Retry should succeed, got %v", err)
	}
	if state.Stage != models.StageTeacherNotified {
		t.Errorf("Expected terminal stage after retry, got %s", state.Stage)
	}
}

func TestConfirmAndNotifyTeacher_EvictsLockAtTerminalStage(t *testing.T) {
	svc, _, assignments, analyses, _ := setupNotificationTest(t)
	ctx := context.Background()

	for _, id := range []string{"a1", "a2", "a3"} {
		seedAnalyzedAssignment(t, assignments, analyses, id, "student-1")
		if err := svc.RecordAnalysisComplete(ctx, id); err != nil {
			t.Fatalf("RecordAnalysisComplete(%s) failed: %v", id, err)
		}
		if _, err := svc.ConfirmAndNotifyTeacher(ctx, id, "student-1"); err != nil {
			t.Fatalf("ConfirmAndNotifyTeacher(%s) failed: %v", id, err)
		}
	}

	impl := svc.(*notificationService)
	impl.mu.Lock()
	remaining := len(impl.locks)
	impl.mu.Unlock()
	if remaining != 0 {
		t.Errorf("Expected per-assignment locks to be dropped after the terminal stage, %d remain", remaining)
	}

	// A confirmation after eviction stays idempotent.
	state, err := svc.ConfirmAndNotifyTeacher(ctx, "a1", "student-1")
	if err != nil {
		t.Fatalf("Confirmation after lock eviction failed: %v", err)
	}
	if state.Stage != models.StageTeacherNotified {
		t.Errorf("Expected terminal stage, got %s", state.Stage)
	}

	impl.mu.Lock()
	remaining = len(impl.locks)
	impl.mu.Unlock()
	if remaining != 0 {
		t.Errorf("Re-confirmation must not leave a lock behind, %d remain", remaining)
	}
}

func TestGetState_BeforeAnalysis(t *testing.T) {
	svc, _, assignments, _, _ := setupNotificationTest(t)

	if err := assignments.Create(context.Background(), &models.Assignment{ID: "a1", StudentID: "student-1"}); err != nil {
		t.Fatalf("Failed to seed assignment: %v", err)
	}

	state, err := svc.GetState(context.Background(), "a1")
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if state.Stage != models.StageAwaitingStudentNotification {
		t.Errorf("Expected initial stage, got %s", state.Stage)
	}
}
