package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates persisted attempt states.
type AttemptStatus string

const (
	AttemptStatusActive    AttemptStatus = "active"
	AttemptStatusSubmitted AttemptStatus = "submitted"
	AttemptStatusLocked    AttemptStatus = "locked"
)

// Attempt is one participant's run through a session's frozen question set.
type Attempt struct {
	ID               uuid.UUID     `json:"id"`
	SessionID        uuid.UUID     `json:"session_id"`
	ParticipantID    int           `json:"participant_id"`
	Status           AttemptStatus `json:"status"`
	AttemptStartedAt *time.Time    `json:"attempt_started_at,omitempty"`
	NextDueAt        *time.Time    `json:"next_due_at,omitempty"`
	FailedCount      int           `json:"failed_count"`
	CooldownCount    int           `json:"cooldown_count"`
	CooldownUntil    *time.Time    `json:"cooldown_until,omitempty"`
	LockedUntil      *time.Time    `json:"locked_until,omitempty"`
	QuestionOrder    []int         `json:"question_order,omitempty"`
	SubmittedAt      *time.Time    `json:"submitted_at,omitempty"`
	Score            *float64      `json:"score,omitempty"`
	Version          int64         `json:"-"`
	CreatedAt        time.Time     `json:"created_at"`
}

// CheckpointRequest is the payload for submitting a checkpoint code.
type CheckpointRequest struct {
	Code string `json:"code" binding:"required,max=32"`
}

// CheckpointResult is returned for every evaluated checkpoint submission.
type CheckpointResult struct {
	OK            bool          `json:"ok"`
	NextDueAt     *time.Time    `json:"next_due_at"`
	FailedCount   int           `json:"failed_count"`
	CooldownUntil *time.Time    `json:"cooldown_until"`
	LockedUntil   *time.Time    `json:"locked_until"`
	Status        AttemptStatus `json:"status"`
}

// StartAttemptResult is returned when a participant begins answering.
type StartAttemptResult struct {
	AttemptStartedAt time.Time  `json:"attempt_started_at"`
	NextDueAt        *time.Time `json:"next_due_at"`
	QuestionOrder    []int      `json:"question_order,omitempty"`
}

// AttemptState is the polled view of an attempt, recomputed on every read.
type AttemptState struct {
	Status           AttemptStatus `json:"status"`
	Due              bool          `json:"due"`
	Warning          bool          `json:"warning"`
	InCooldown       bool          `json:"in_cooldown"`
	IsLocked         bool          `json:"is_locked"`
	FailedCount      int           `json:"failed_count"`
	GraceSeconds     int           `json:"grace_seconds"`
	NextDueAt        *time.Time    `json:"next_due_at,omitempty"`
	CooldownUntil    *time.Time    `json:"cooldown_until,omitempty"`
	LockedUntil      *time.Time    `json:"locked_until,omitempty"`
	Valid            bool          `json:"valid"`
	SecondsRemaining *int64        `json:"seconds_remaining"`
	IsTimeUp         bool          `json:"is_time_up"`
}

// SaveAnswerRequest is the payload for autosaving one answer.
type SaveAnswerRequest struct {
	Position  int      `json:"position" binding:"min=0"`
	OptionIDs []string `json:"option_ids" binding:"required,min=1,max=20,dive,option_id"`
}

// SubmitResult is returned after a manual or automatic submission.
type SubmitResult struct {
	Status      AttemptStatus `json:"status"`
	SubmittedAt *time.Time    `json:"submitted_at"`
	Score       float64       `json:"score"`
}
