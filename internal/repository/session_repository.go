package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/proctor-backend/internal/model"
)

const sessionColumns = `id, quiz_id, teacher_id, status, started_at, ended_at,
	token_secret, token_step_seconds, settings, created_at`

// SessionRepository handles session data access.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func scanSession(row pgx.Row) (*model.Session, error) {
	s := &model.Session{}
	var settings []byte
	err := row.Scan(&s.ID, &s.QuizID, &s.TeacherID, &s.Status, &s.StartedAt, &s.EndedAt,
		&s.TokenSecret, &s.TokenStepSeconds, &settings, &s.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &s.Settings); err != nil {
			return nil, fmt.Errorf("decode session settings: %w", err)
		}
	}
	return s, nil
}

// Create inserts a new session in the lobby state.
func (r *SessionRepository) Create(ctx context.Context, s *model.Session) error {
	settings, err := json.Marshal(s.Settings)
	if err != nil {
		return fmt.Errorf("encode session settings: %w", err)
	}
	s.Status = model.SessionStatusLobby
	return r.pool.QueryRow(ctx,
		`INSERT INTO sessions (quiz_id, teacher_id, status, token_secret, token_step_seconds, settings)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		s.QuizID, s.TeacherID, s.Status, s.TokenSecret, s.TokenStepSeconds, settings,
	).Scan(&s.ID, &s.CreatedAt)
}

// GetByID retrieves a session by its UUID.
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

// Activate moves a lobby session to active. started_at is only ever set once.
// Returns ErrConflict when the session is no longer in lobby or active.
func (r *SessionRepository) Activate(ctx context.Context, id uuid.UUID, now time.Time) (*model.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`UPDATE sessions
		 SET status = $2, started_at = COALESCE(started_at, $3)
		 WHERE id = $1 AND status IN ($4, $2)
		 RETURNING `+sessionColumns,
		id, model.SessionStatusActive, now, model.SessionStatusLobby))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrConflict
	}
	return s, err
}

// End moves an active session to ended.
func (r *SessionRepository) End(ctx context.Context, id uuid.UUID, now time.Time) (*model.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`UPDATE sessions
		 SET status = $2, ended_at = COALESCE(ended_at, $3)
		 WHERE id = $1 AND status = $4
		 RETURNING `+sessionColumns,
		id, model.SessionStatusEnded, now, model.SessionStatusActive))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrConflict
	}
	return s, err
}
