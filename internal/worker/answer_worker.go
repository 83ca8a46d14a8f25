package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/proctor-backend/internal/config"
	"github.com/stemsi/proctor-backend/internal/metrics"
	"github.com/stemsi/proctor-backend/internal/model"
)

const (
	AnswerBatchSize    = 200
	AnswerBatchTimeout = time.Second
	AnswerPollTimeout  = time.Second
)

// AnswerWriter is implemented by repository.AnswerRepository.
type AnswerWriter interface {
	BulkUpsert(ctx context.Context, jobs []model.AnswerJob) error
	Upsert(ctx context.Context, job model.AnswerJob) error
}

// AnswerWorker consumes persist_answers_queue and upserts answers to PostgreSQL.
type AnswerWorker struct {
	answers AnswerWriter
	rdb     *redis.Client
	log     zerolog.Logger
}

// NewAnswerWorker creates a new AnswerWorker.
func NewAnswerWorker(answers AnswerWriter, rdb *redis.Client, log zerolog.Logger) *AnswerWorker {
	return &AnswerWorker{
		answers: answers,
		rdb:     rdb,
		log:     log.With().Str("component", "answer_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine; it returns after ctx is
// cancelled and the pending batch has been flushed.
func (w *AnswerWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AnswerWorker started")

	batch := make([]model.AnswerJob, 0, AnswerBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= AnswerBatchSize || time.Since(lastFlush) >= AnswerBatchTimeout) {
			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, AnswerPollTimeout, config.WorkerKey.PersistAnswersQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}
			if len(item) < 2 {
				continue
			}

			var job model.AnswerJob
			if err := json.Unmarshal([]byte(item[1]), &job); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}
			batch = append(batch, job)
		}
	}
}

// flushSafe writes the batch in one statement and falls back to row-by-row
// writes, requeueing whatever still fails.
func (w *AnswerWorker) flushSafe(ctx context.Context, batch []model.AnswerJob) {
	if len(batch) == 0 {
		return
	}
	jobs := latestPerPosition(batch)

	err := w.answers.BulkUpsert(ctx, jobs)
	if err == nil {
		metrics.WorkerFlushed("answer", "bulk", len(jobs))
		return
	}
	w.log.Warn().Err(err).Int("size", len(jobs)).Msg("bulk answer upsert failed, using fallback")

	written := 0
	for _, j := range jobs {
		if err := w.answers.Upsert(ctx, j); err != nil {
			w.log.Error().Err(err).Str("attempt_id", j.AttemptID).Msg("Upsert failed, requeueing")
			raw, _ := json.Marshal(j)
			w.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, raw)
			continue
		}
		written++
	}
	metrics.WorkerFlushed("answer", "single", written)
}

// latestPerPosition keeps the newest save of every (attempt, position),
// preserving first-seen order.
func latestPerPosition(batch []model.AnswerJob) []model.AnswerJob {
	type slot struct {
		attemptID string
		position  int
	}
	index := make(map[slot]int, len(batch))
	out := make([]model.AnswerJob, 0, len(batch))
	for _, j := range batch {
		k := slot{j.AttemptID, j.Position}
		if i, ok := index[k]; ok {
			if !j.SavedAt.Before(out[i].SavedAt) {
				out[i] = j
			}
			continue
		}
		index[k] = len(out)
		out = append(out, j)
	}
	return out
}
