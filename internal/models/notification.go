package models

import "time"

type NotificationStage string

const (
	StageAwaitingStudentNotification NotificationStage = "AWAITING_STUDENT_NOTIFICATION"
	StageStudentNotified             NotificationStage = "STUDENT_NOTIFIED"
	StageTeacherNotified             NotificationStage = "TEACHER_NOTIFIED"
)

func (ns NotificationStage) String() string {
	return string(ns)
}

type NotificationChannel string

const (
	ChannelStudent NotificationChannel = "student"
	ChannelTeacher NotificationChannel = "teacher"
)

// NotificationState tracks the strictly linear per-assignment notification
// machine: AWAITING_STUDENT_NOTIFICATION -> STUDENT_NOTIFIED -> TEACHER_NOTIFIED.
// The stage field is the source of truth for whether a transition already won;
// the dispatched flags are claims for the actual send side effect, so a failed
// dispatch can be retried against the same intent without double-firing.
type NotificationState struct {
	AssignmentID      string            `json:"assignment_id" db:"assignment_id"`
	Stage             NotificationStage `json:"stage" db:"stage"`
	StudentDispatched bool              `json:"student_dispatched" db:"student_dispatched"`
	TeacherDispatched bool              `json:"teacher_dispatched" db:"teacher_dispatched"`
	StudentNotifiedAt *time.Time        `json:"student_notified_at,omitempty" db:"student_notified_at"`
	TeacherNotifiedAt *time.Time        `json:"teacher_notified_at,omitempty" db:"teacher_notified_at"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at" db:"updated_at"`
}
