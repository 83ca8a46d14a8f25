package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates live quiz session states.
type SessionStatus string

const (
	SessionStatusLobby  SessionStatus = "lobby"
	SessionStatusActive SessionStatus = "active"
	SessionStatusEnded  SessionStatus = "ended"
)

// SessionSettings is the per-session settings bag.
type SessionSettings struct {
	DurationSeconds  int  `json:"duration_seconds"`
	BufferMinutes    int  `json:"buffer_minutes"`
	ShuffleQuestions bool `json:"shuffle_questions"`
}

// Session is one proctored run of a quiz.
type Session struct {
	ID               uuid.UUID       `json:"id"`
	QuizID           uuid.UUID       `json:"quiz_id"`
	TeacherID        int             `json:"teacher_id"`
	Status           SessionStatus   `json:"status"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	EndedAt          *time.Time      `json:"ended_at,omitempty"`
	TokenSecret      string          `json:"-"`
	TokenStepSeconds int             `json:"token_step_seconds"`
	Settings         SessionSettings `json:"settings"`
	CreatedAt        time.Time       `json:"created_at"`
}

// CreateSessionRequest is the payload for scheduling a quiz run.
type CreateSessionRequest struct {
	QuizID           uuid.UUID `json:"quiz_id" binding:"required"`
	TokenStepSeconds int       `json:"token_step_seconds" binding:"omitempty,min=15,max=120"`
	DurationSeconds  int       `json:"duration_seconds" binding:"min=0,max=86400"`
	BufferMinutes    int       `json:"buffer_minutes" binding:"min=0,max=240"`
	ShuffleQuestions bool      `json:"shuffle_questions"`
}

// SessionStartResult is returned when a session is activated.
type SessionStartResult struct {
	Status    SessionStatus       `json:"status"`
	StartedAt *time.Time          `json:"started_at"`
	Snapshot  *SnapshotDescriptor `json:"snapshot,omitempty"`
}

// TokenView is the teacher-facing current checkpoint token.
type TokenView struct {
	Token            string `json:"token"`
	SecondsRemaining int    `json:"seconds_remaining"`
	StepSeconds      int    `json:"step_seconds"`
}
