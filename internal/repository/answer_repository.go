package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/proctor-backend/internal/model"
)

// AnswerRepository persists autosaved answers.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// BulkUpsert writes a batch of answers in one statement. The batch must not
// contain the same (attempt, position) twice. Older saves never overwrite newer ones.
func (r *AnswerRepository) BulkUpsert(ctx context.Context, jobs []model.AnswerJob) error {
	n := len(jobs)
	attemptIDs := make([]uuid.UUID, 0, n)
	positions := make([]int, 0, n)
	options := make([]string, 0, n)
	savedAts := make([]time.Time, 0, n)

	for _, j := range jobs {
		id, err := uuid.Parse(j.AttemptID)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(j.OptionIDs)
		if err != nil {
			return err
		}
		attemptIDs = append(attemptIDs, id)
		positions = append(positions, j.Position)
		options = append(options, string(raw))
		savedAts = append(savedAts, j.SavedAt)
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO attempt_answers (attempt_id, position, option_ids, updated_at)
		SELECT u.attempt_id, u.position, u.option_ids::jsonb, u.saved_at
		FROM UNNEST(
			$1::uuid[],
			$2::int[],
			$3::text[],
			$4::timestamptz[]
		) AS u (attempt_id, position, option_ids, saved_at)
		ON CONFLICT (attempt_id, position) DO UPDATE
		SET option_ids = EXCLUDED.option_ids, updated_at = EXCLUDED.updated_at
		WHERE attempt_answers.updated_at <= EXCLUDED.updated_at`,
		attemptIDs, positions, options, savedAts)
	return err
}

// Upsert writes a single answer.
func (r *AnswerRepository) Upsert(ctx context.Context, j model.AnswerJob) error {
	id, err := uuid.Parse(j.AttemptID)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(j.OptionIDs)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO attempt_answers (attempt_id, position, option_ids, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (attempt_id, position) DO UPDATE
		 SET option_ids = EXCLUDED.option_ids, updated_at = EXCLUDED.updated_at
		 WHERE attempt_answers.updated_at <= EXCLUDED.updated_at`,
		id, j.Position, raw, j.SavedAt)
	return err
}

// ListByAttempt returns the persisted answers of one attempt in the autosave
// hash shape: position → JSON array of option ids.
func (r *AnswerRepository) ListByAttempt(ctx context.Context, attemptID uuid.UUID) (map[string]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT position, option_ids::text FROM attempt_answers WHERE attempt_id = $1`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := make(map[string]string)
	for rows.Next() {
		var (
			position int
			options  string
		)
		if err := rows.Scan(&position, &options); err != nil {
			return nil, err
		}
		answers[strconv.Itoa(position)] = options
	}
	return answers, rows.Err()
}
