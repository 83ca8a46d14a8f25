package model

import (
	"time"

	"github.com/google/uuid"
)

// CheckpointLog is one append-only audit row per evaluated checkpoint submission.
type CheckpointLog struct {
	ID            int64      `json:"id"`
	AttemptID     uuid.UUID  `json:"attempt_id"`
	At            time.Time  `json:"at"`
	OK            bool       `json:"ok"`
	DueAt         *time.Time `json:"due_at"`
	Submitted     string     `json:"submitted"`
	ParticipantID int        `json:"participant_id,omitempty"`
}
