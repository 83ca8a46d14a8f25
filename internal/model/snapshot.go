package model

import (
	"time"

	"github.com/google/uuid"
)

// QuestionType enumerates the question kinds a snapshot can hold.
type QuestionType string

const (
	QuestionTypeSingleChoice   QuestionType = "SINGLE_CHOICE"
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeTrueFalse      QuestionType = "TRUE_FALSE"
)

// SnapshotOption is a frozen answer option.
type SnapshotOption struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	IsCorrect bool   `json:"is_correct"`
	Order     int    `json:"order"`
}

// SelectedQuestion is one question chosen by a quiz's selection rules,
// with its options already in the order they should be frozen.
type SelectedQuestion struct {
	QuestionID uuid.UUID        `json:"question_id"`
	Type       QuestionType     `json:"type"`
	Prompt     string           `json:"prompt"`
	Options    []SnapshotOption `json:"options"`
}

// SnapshotQuestion is an immutable per-session copy of a question.
type SnapshotQuestion struct {
	SessionID        uuid.UUID        `json:"session_id"`
	Position         int              `json:"position"`
	SourceQuestionID uuid.UUID        `json:"source_question_id"`
	Type             QuestionType     `json:"type"`
	Prompt           string           `json:"prompt"`
	Options          []SnapshotOption `json:"options"`
	FrozenAt         time.Time        `json:"frozen_at"`
}

// SnapshotDescriptor summarizes a frozen question set.
type SnapshotDescriptor struct {
	SessionID     uuid.UUID `json:"session_id"`
	QuestionCount int       `json:"question_count"`
	Checksum      string    `json:"checksum"`
	FrozenAt      time.Time `json:"frozen_at"`
}

// StudentOption is an option without its correctness flag.
type StudentOption struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// StudentQuestion is a frozen question as shown to participants.
type StudentQuestion struct {
	Position int             `json:"position"`
	Type     QuestionType    `json:"type"`
	Prompt   string          `json:"prompt"`
	Options  []StudentOption `json:"options"`
}

// SnapshotPayload is the Redis-cached question paper sent to participants.
type SnapshotPayload struct {
	SessionID uuid.UUID         `json:"session_id"`
	Questions []StudentQuestion `json:"questions"`
}
