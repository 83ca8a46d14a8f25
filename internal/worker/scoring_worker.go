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
	ScoreBatchSize    = 50
	ScoreBatchTimeout = 2 * time.Second
	ScorePollTimeout  = 1 * time.Second
)

// ScoreWriter is implemented by repository.AttemptRepository.
type ScoreWriter interface {
	SetScores(ctx context.Context, jobs []model.ScoreJob) error
	SetScore(ctx context.Context, job model.ScoreJob) error
}

type ScoringWorker struct {
	scores ScoreWriter
	rdb    *redis.Client
	log    zerolog.Logger
}

func NewScoringWorker(scores ScoreWriter, rdb *redis.Client, log zerolog.Logger) *ScoringWorker {
	return &ScoringWorker{
		scores: scores,
		rdb:    rdb,
		log:    log.With().Str("component", "scoring_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *ScoringWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ScoringWorker started")

	batch := make([]model.ScoreJob, 0, ScoreBatchSize)
	lastFlush := time.Now()

	for {
		// Should flush?
		if len(batch) > 0 &&
			(len(batch) >= ScoreBatchSize || time.Since(lastFlush) >= ScoreBatchTimeout) {

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
			item, err := w.rdb.BLPop(ctx, ScorePollTimeout, config.WorkerKey.PersistScoresQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var job model.ScoreJob
			if err := json.Unmarshal([]byte(item[1]), &job); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, job)
		}
	}
}

// ----------------------------------------------------------------
// Batch update wrapper
// ----------------------------------------------------------------

func (w *ScoringWorker) flushSafe(ctx context.Context, batch []model.ScoreJob) {
	if len(batch) == 0 {
		return
	}

	if err := w.scores.SetScores(ctx, batch); err != nil {
		w.log.Warn().Err(err).Msg("bulk score update failed, using fallback")

		written := 0
		for _, j := range batch {
			if err := w.scores.SetScore(ctx, j); err != nil {
				w.log.Error().Err(err).Msg("SetScore failed — requeueing")
				raw, _ := json.Marshal(j)
				w.rdb.RPush(ctx, config.WorkerKey.PersistScoresQueue, raw)
				continue
			}
			written++
		}
		metrics.WorkerFlushed("scoring", "single", written)
		return
	}
	metrics.WorkerFlushed("scoring", "bulk", len(batch))

	// Graded attempts no longer need their autosave buffers.
	w.bulkClearAutosavedAnswers(ctx, batch)
}

func (w *ScoringWorker) bulkClearAutosavedAnswers(ctx context.Context, batch []model.ScoreJob) {
	pipe := w.rdb.Pipeline()
	for _, j := range batch {
		pipe.Del(ctx, config.CacheKey.AttemptAnswersKey(j.AttemptID))
	}
	_, _ = pipe.Exec(ctx)
}
