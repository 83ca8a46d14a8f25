package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MonitorRepository provides the aggregate counts shown on the teacher's live monitor.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// AnsweredCounts returns the number of persisted answers per attempt in a session.
func (r *MonitorRepository) AnsweredCounts(ctx context.Context, sessionID uuid.UUID) (map[uuid.UUID]int64, error) {
	return r.countByAttempt(ctx,
		`SELECT aa.attempt_id, COUNT(*)
		 FROM attempt_answers aa
		 JOIN attempts a ON a.id = aa.attempt_id
		 WHERE a.session_id = $1
		 GROUP BY aa.attempt_id`, sessionID)
}

// FailedCheckpointCounts returns the number of failed checkpoint submissions per attempt.
func (r *MonitorRepository) FailedCheckpointCounts(ctx context.Context, sessionID uuid.UUID) (map[uuid.UUID]int64, error) {
	return r.countByAttempt(ctx,
		`SELECT l.attempt_id, COUNT(*)
		 FROM checkpoint_logs l
		 JOIN attempts a ON a.id = l.attempt_id
		 WHERE a.session_id = $1 AND NOT l.ok
		 GROUP BY l.attempt_id`, sessionID)
}

func (r *MonitorRepository) countByAttempt(ctx context.Context, query string, sessionID uuid.UUID) (map[uuid.UUID]int64, error) {
	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int64)
	for rows.Next() {
		var (
			id    uuid.UUID
			count int64
		)
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}
	return counts, rows.Err()
}
