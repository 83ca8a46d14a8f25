package model

import (
	"time"

	"github.com/google/uuid"
)

// Monitor event types published on a session's channel.
const (
	EventSessionStarted = "session_started"
	EventSessionEnded   = "session_ended"
	EventJoined         = "joined"
	EventStarted        = "started"
	EventCheckpoint     = "checkpoint"
	EventLocked         = "locked"
	EventSubmitted      = "submitted"
)

// MonitorEvent is one live update pushed to the teacher's monitor.
type MonitorEvent struct {
	Type          string        `json:"type"`
	AttemptID     string        `json:"attempt_id,omitempty"`
	ParticipantID int           `json:"participant_id,omitempty"`
	Status        AttemptStatus `json:"status,omitempty"`
	OK            *bool         `json:"ok,omitempty"`
	FailedCount   int           `json:"failed_count,omitempty"`
	Score         *float64      `json:"score,omitempty"`
	At            time.Time     `json:"at"`
}

// RosterEntry is the monitor view of one attempt.
type RosterEntry struct {
	AttemptID         uuid.UUID     `json:"attempt_id"`
	ParticipantID     int           `json:"participant_id"`
	Status            AttemptStatus `json:"status"`
	AttemptStartedAt  *time.Time    `json:"attempt_started_at,omitempty"`
	FailedCount       int           `json:"failed_count"`
	Due               bool          `json:"due"`
	InCooldown        bool          `json:"in_cooldown"`
	IsLocked          bool          `json:"is_locked"`
	Score             *float64      `json:"score,omitempty"`
	AnsweredCount     int64         `json:"answered_count"`
	FailedCheckpoints int64         `json:"failed_checkpoints"`
}

// RosterStats are the headline counters of a session.
type RosterStats struct {
	Joined    int `json:"joined"`
	Active    int `json:"active"`
	Submitted int `json:"submitted"`
	Locked    int `json:"locked"`
}

// Roster is the full monitor snapshot of a session.
type Roster struct {
	SessionID uuid.UUID     `json:"session_id"`
	Stats     RosterStats   `json:"stats"`
	Attempts  []RosterEntry `json:"attempts"`
}
