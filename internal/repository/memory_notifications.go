package repository

import (
	"context"
	"sync"
	"time"

	"github.com/studyassist/analysis-service/internal/models"
)

// MemoryNotifications implements NotificationRepository with the same
// compare-and-swap semantics as the postgres version, for tests and
// single-process deployments.
type MemoryNotifications struct {
	mu     sync.Mutex
	states map[string]*models.NotificationState
}

func NewMemoryNotifications() *MemoryNotifications {
	return &MemoryNotifications{
		states: make(map[string]*models.NotificationState),
	}
}

func (m *MemoryNotifications) Create(_ context.Context, assignmentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.states[assignmentID]; ok {
		return nil
	}

	now := time.Now()
	m.states[assignmentID] = &models.NotificationState{
		AssignmentID: assignmentID,
		Stage:        models.StageAwaitingStudentNotification,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return nil
}

func (m *MemoryNotifications) Get(_ context.Context, assignmentID string) (*models.NotificationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[assignmentID]
	if !ok {
		return nil, nil
	}
	copied := *state
	return &copied, nil
}

func (m *MemoryNotifications) Transition(_ context.Context, assignmentID string, from, to models.NotificationStage) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[assignmentID]
	if !ok || state.Stage != from {
		return false, nil
	}

	now := time.Now()
	state.Stage = to
	state.UpdatedAt = now
	switch to {
	case models.StageStudentNotified:
		state.StudentNotifiedAt = &now
	case models.StageTeacherNotified:
		state.TeacherNotifiedAt = &now
	}
	return true, nil
}

func (m *MemoryNotifications) ClaimDispatch(_ context.Context, assignmentID string, channel models.NotificationChannel) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[assignmentID]
	if !ok {
		return false, nil
	}

	switch channel {
	case models.ChannelStudent:
		if state.StudentDispatched {
			return false, nil
		}
		state.StudentDispatched = true
	case models.ChannelTeacher:
		if state.TeacherDispatched {
			return false, nil
		}
		state.TeacherDispatched = true
	}
	state.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryNotifications) ReleaseDispatch(_ context.Context, assignmentID string, channel models.NotificationChannel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[assignmentID]
	if !ok {
		return nil
	}

	switch channel {
	case models.ChannelStudent:
		state.StudentDispatched = false
	case models.ChannelTeacher:
		state.TeacherDispatched = false
	}
	state.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryNotifications) Ping(_ context.Context) error {
	return nil
}
