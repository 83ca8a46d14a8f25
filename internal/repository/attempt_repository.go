package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/proctor-backend/internal/database"
	"github.com/stemsi/proctor-backend/internal/model"
)

const attemptColumns = `id, session_id, participant_id, status, attempt_started_at, next_due_at,
	failed_count, cooldown_count, cooldown_until, locked_until, question_order,
	submitted_at, score, version, created_at`

// AttemptMutation is what an attempt transition produced.
type AttemptMutation struct {
	Changed bool
	Log     *model.CheckpointLog
}

// AttemptRepository handles attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	a := &model.Attempt{}
	var order []byte
	err := row.Scan(&a.ID, &a.SessionID, &a.ParticipantID, &a.Status, &a.AttemptStartedAt, &a.NextDueAt,
		&a.FailedCount, &a.CooldownCount, &a.CooldownUntil, &a.LockedUntil, &order,
		&a.SubmittedAt, &a.Score, &a.Version, &a.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if len(order) > 0 {
		if err := json.Unmarshal(order, &a.QuestionOrder); err != nil {
			return nil, fmt.Errorf("decode question order: %w", err)
		}
	}
	return a, nil
}

// GetByID retrieves an attempt by its UUID.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id))
}

// GetOrCreate returns the participant's attempt for a session, creating it if needed.
// Concurrent calls for the same pair resolve to the same row.
func (r *AttemptRepository) GetOrCreate(ctx context.Context, sessionID uuid.UUID, participantID int) (*model.Attempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`INSERT INTO attempts (session_id, participant_id, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (session_id, participant_id) DO NOTHING
		 RETURNING `+attemptColumns,
		sessionID, participantID, model.AttemptStatusActive))
	if errors.Is(err, ErrNotFound) {
		// Lost the insert race or the attempt already existed.
		return scanAttempt(r.pool.QueryRow(ctx,
			`SELECT `+attemptColumns+` FROM attempts WHERE session_id = $1 AND participant_id = $2`,
			sessionID, participantID))
	}
	return a, err
}

// ListBySession retrieves all attempts of a session.
func (r *AttemptRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

// Update applies fn to the attempt under a row lock. The attempt fields and
// the optional checkpoint log row commit together or not at all.
func (r *AttemptRepository) Update(
	ctx context.Context,
	id uuid.UUID,
	fn func(a *model.Attempt) (AttemptMutation, error),
) (*model.Attempt, *model.CheckpointLog, error) {
	var (
		out *model.Attempt
		log *model.CheckpointLog
	)

	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		a, err := scanAttempt(tx.QueryRow(ctx,
			`SELECT `+attemptColumns+` FROM attempts WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}

		m, err := fn(a)
		if err != nil {
			return err
		}
		out = a

		if m.Changed {
			var order []byte
			if a.QuestionOrder != nil {
				if order, err = json.Marshal(a.QuestionOrder); err != nil {
					return fmt.Errorf("encode question order: %w", err)
				}
			}
			err = tx.QueryRow(ctx,
				`UPDATE attempts
				 SET status = $2, attempt_started_at = $3, next_due_at = $4,
				     failed_count = $5, cooldown_count = $6, cooldown_until = $7,
				     locked_until = $8, question_order = $9, submitted_at = $10,
				     version = version + 1
				 WHERE id = $1
				 RETURNING version`,
				a.ID, a.Status, a.AttemptStartedAt, a.NextDueAt,
				a.FailedCount, a.CooldownCount, a.CooldownUntil,
				a.LockedUntil, order, a.SubmittedAt,
			).Scan(&a.Version)
			if err != nil {
				return fmt.Errorf("update attempt: %w", err)
			}
		}

		if m.Log != nil {
			m.Log.AttemptID = a.ID
			err = tx.QueryRow(ctx,
				`INSERT INTO checkpoint_logs (attempt_id, at, ok, due_at, submitted)
				 VALUES ($1, $2, $3, $4, $5)
				 RETURNING id`,
				m.Log.AttemptID, m.Log.At, m.Log.OK, m.Log.DueAt, m.Log.Submitted,
			).Scan(&m.Log.ID)
			if err != nil {
				return fmt.Errorf("append checkpoint log: %w", err)
			}
			log = m.Log
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, log, nil
}

// SetScores records grading results for a batch of attempts.
func (r *AttemptRepository) SetScores(ctx context.Context, jobs []model.ScoreJob) error {
	ids := make([]uuid.UUID, 0, len(jobs))
	scores := make([]float64, 0, len(jobs))
	for _, j := range jobs {
		id, err := uuid.Parse(j.AttemptID)
		if err != nil {
			return err
		}
		ids = append(ids, id)
		scores = append(scores, j.Score)
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE attempts AS a
		SET score = t.score
		FROM UNNEST($1::uuid[], $2::float8[]) AS t (id, score)
		WHERE a.id = t.id`,
		ids, scores)
	return err
}

// SetScore records the grading result of one attempt.
func (r *AttemptRepository) SetScore(ctx context.Context, j model.ScoreJob) error {
	id, err := uuid.Parse(j.AttemptID)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `UPDATE attempts SET score = $2 WHERE id = $1`, id, j.Score)
	return err
}
