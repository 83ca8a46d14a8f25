package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/proctor-backend/internal/model"
)

// CheckpointLogRepository reads the append-only checkpoint audit trail.
// Rows are written together with the attempt transition in AttemptRepository.Update.
type CheckpointLogRepository struct {
	pool *pgxpool.Pool
}

// NewCheckpointLogRepository creates a new CheckpointLogRepository.
func NewCheckpointLogRepository(pool *pgxpool.Pool) *CheckpointLogRepository {
	return &CheckpointLogRepository{pool: pool}
}

// ListBySession returns log rows for all attempts in a session, newest first.
func (r *CheckpointLogRepository) ListBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]model.CheckpointLog, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT l.id, l.attempt_id, a.participant_id, l.at, l.ok, l.due_at, l.submitted
		 FROM checkpoint_logs l
		 JOIN attempts a ON a.id = l.attempt_id
		 WHERE a.session_id = $1
		 ORDER BY l.at DESC, l.id DESC
		 LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []model.CheckpointLog
	for rows.Next() {
		var l model.CheckpointLog
		if err := rows.Scan(&l.ID, &l.AttemptID, &l.ParticipantID, &l.At, &l.OK, &l.DueAt, &l.Submitted); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
