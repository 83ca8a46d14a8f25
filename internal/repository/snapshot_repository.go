package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/proctor-backend/internal/database"
	"github.com/stemsi/proctor-backend/internal/model"
)

// SnapshotRepository persists the frozen per-session question set.
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listSnapshot(ctx context.Context, q querier, sessionID uuid.UUID) ([]model.SnapshotQuestion, error) {
	rows, err := q.Query(ctx,
		`SELECT session_id, position, source_question_id, question_type, prompt, options, frozen_at
		 FROM session_snapshot_questions
		 WHERE session_id = $1
		 ORDER BY position`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.SnapshotQuestion
	for rows.Next() {
		var (
			sq      model.SnapshotQuestion
			options []byte
		)
		if err := rows.Scan(&sq.SessionID, &sq.Position, &sq.SourceQuestionID, &sq.Type, &sq.Prompt, &options, &sq.FrozenAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(options, &sq.Options); err != nil {
			return nil, fmt.Errorf("decode snapshot options: %w", err)
		}
		questions = append(questions, sq)
	}
	return questions, rows.Err()
}

// ListBySession retrieves the frozen questions of a session in position order.
// An empty result means the snapshot has not been built yet.
func (r *SnapshotRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.SnapshotQuestion, error) {
	return listSnapshot(ctx, r.pool, sessionID)
}

// BuildOnce freezes the snapshot for a session unless one already exists.
//
// The existence check and the insert run in one transaction holding an
// advisory lock keyed by the session id, so concurrent builders on any
// process serialize per session and never block other sessions. A builder
// that finds rows already present returns them with built=false.
// If build fails, nothing is written.
func (r *SnapshotRepository) BuildOnce(
	ctx context.Context,
	sessionID uuid.UUID,
	build func(ctx context.Context) ([]model.SnapshotQuestion, error),
) (questions []model.SnapshotQuestion, built bool, err error) {
	err = database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended('snapshot:' || $1::text, 0))`, sessionID); err != nil {
			return fmt.Errorf("acquire snapshot lock: %w", err)
		}

		existing, err := listSnapshot(ctx, tx, sessionID)
		if err != nil {
			return fmt.Errorf("check existing snapshot: %w", err)
		}
		if len(existing) > 0 {
			questions = existing
			return nil
		}

		fresh, err := build(ctx)
		if err != nil {
			return err
		}

		rows := make([][]any, 0, len(fresh))
		for _, q := range fresh {
			options, err := json.Marshal(q.Options)
			if err != nil {
				return fmt.Errorf("encode snapshot options: %w", err)
			}
			rows = append(rows, []any{
				sessionID, q.Position, q.SourceQuestionID, q.Type, q.Prompt, options, q.FrozenAt,
			})
		}

		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"session_snapshot_questions"},
			[]string{"session_id", "position", "source_question_id", "question_type", "prompt", "options", "frozen_at"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("insert snapshot rows: %w", err)
		}

		questions = fresh
		built = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return questions, built, nil
}
