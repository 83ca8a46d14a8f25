package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/proctor-backend/internal/model"
	"github.com/stemsi/proctor-backend/internal/repository"
)

// SessionStore is the persistence the session lifecycle needs.
// Implemented by repository.SessionRepository.
type SessionStore interface {
	Create(ctx context.Context, s *model.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Session, error)
	Activate(ctx context.Context, id uuid.UUID, now time.Time) (*model.Session, error)
	End(ctx context.Context, id uuid.UUID, now time.Time) (*model.Session, error)
}

// AttemptStore is implemented by repository.AttemptRepository.
type AttemptStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	GetOrCreate(ctx context.Context, sessionID uuid.UUID, participantID int) (*model.Attempt, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.Attempt, error)
	Update(ctx context.Context, id uuid.UUID, fn func(a *model.Attempt) (repository.AttemptMutation, error)) (*model.Attempt, *model.CheckpointLog, error)
}

// SnapshotStore is implemented by repository.SnapshotRepository.
type SnapshotStore interface {
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.SnapshotQuestion, error)
	BuildOnce(ctx context.Context, sessionID uuid.UUID, build func(ctx context.Context) ([]model.SnapshotQuestion, error)) ([]model.SnapshotQuestion, bool, error)
}

// QuestionSource applies a quiz's selection rules to the live question pool.
// Implemented by repository.QuestionRepository.
type QuestionSource interface {
	SelectForQuiz(ctx context.Context, quizID uuid.UUID) ([]model.SelectedQuestion, error)
}

// CheckpointLogStore is implemented by repository.CheckpointLogRepository.
type CheckpointLogStore interface {
	ListBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]model.CheckpointLog, error)
}

// MonitorStore is implemented by repository.MonitorRepository.
type MonitorStore interface {
	AnsweredCounts(ctx context.Context, sessionID uuid.UUID) (map[uuid.UUID]int64, error)
	FailedCheckpointCounts(ctx context.Context, sessionID uuid.UUID) (map[uuid.UUID]int64, error)
}

// AnswerSource is the persisted copy of autosaved answers, keyed by position
// with JSON option id arrays as values. Implemented by repository.AnswerRepository.
type AnswerSource interface {
	ListByAttempt(ctx context.Context, attemptID uuid.UUID) (map[string]string, error)
}
