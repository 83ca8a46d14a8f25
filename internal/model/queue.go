package model

import "time"

// AnswerJob is queued on every autosave and persisted by the answer worker.
type AnswerJob struct {
	AttemptID string    `json:"attempt_id"`
	Position  int       `json:"position"`
	OptionIDs []string  `json:"option_ids"`
	SavedAt   time.Time `json:"saved_at"`
}

// ScoreJob is queued when an attempt is graded and persisted by the scoring worker.
type ScoreJob struct {
	AttemptID string  `json:"attempt_id"`
	Score     float64 `json:"score"`
}
