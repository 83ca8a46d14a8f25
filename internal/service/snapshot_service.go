package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/proctor-backend/internal/config"
	"github.com/stemsi/proctor-backend/internal/metrics"
	"github.com/stemsi/proctor-backend/internal/model"
	"github.com/stemsi/proctor-backend/internal/repository"
	"github.com/zeebo/blake3"
)

var errNoQuestions = errors.New("selection rules yielded no questions")

// SnapshotService freezes the question set of a session and serves it.
type SnapshotService struct {
	snapshots SnapshotStore
	sessions  SessionStore
	questions QuestionSource
	rdb       *redis.Client
	cacheTTL  time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

// NewSnapshotService creates a new SnapshotService.
func NewSnapshotService(
	snapshots SnapshotStore,
	sessions SessionStore,
	questions QuestionSource,
	rdb *redis.Client,
	cacheTTL time.Duration,
	log zerolog.Logger,
) *SnapshotService {
	return &SnapshotService{
		snapshots: snapshots,
		sessions:  sessions,
		questions: questions,
		rdb:       rdb,
		cacheTTL:  cacheTTL,
		log:       log.With().Str("component", "snapshot_service").Logger(),
		now:       time.Now,
	}
}

// EnsureBuilt freezes the session's questions if that has not happened yet
// and describes the frozen set. Safe to call from any number of concurrent
// requests: exactly one of them builds and the rest observe its rows.
func (s *SnapshotService) EnsureBuilt(ctx context.Context, sessionID uuid.UUID) (*model.SnapshotDescriptor, error) {
	rows, err := s.rows(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return Describe(sessionID, rows), nil
}

func (s *SnapshotService) rows(ctx context.Context, sessionID uuid.UUID) ([]model.SnapshotQuestion, error) {
	existing, err := s.snapshots.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list snapshot: %w", err)
	}
	if len(existing) > 0 {
		return existing, nil
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	start := time.Now()
	rows, built, err := s.snapshots.BuildOnce(ctx, sessionID, func(ctx context.Context) ([]model.SnapshotQuestion, error) {
		return s.freeze(ctx, session)
	})
	if err != nil {
		metrics.SnapshotBuild("failed", time.Since(start))
		s.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Snapshot build failed")
		return nil, fmt.Errorf("%w: %v", ErrSnapshotBuildFailed, err)
	}

	if !built {
		metrics.SnapshotBuild("existing", time.Since(start))
		return rows, nil
	}

	metrics.SnapshotBuild("built", time.Since(start))
	s.log.Info().
		Str("session_id", sessionID.String()).
		Int("questions", len(rows)).
		Msg("Snapshot frozen")

	if err := s.warmCache(ctx, sessionID, rows); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to warm snapshot cache")
	}
	return rows, nil
}

// freeze copies the selected questions as they are right now.
func (s *SnapshotService) freeze(ctx context.Context, session *model.Session) ([]model.SnapshotQuestion, error) {
	selected, err := s.questions.SelectForQuiz(ctx, session.QuizID)
	if err != nil {
		return nil, fmt.Errorf("select questions: %w", err)
	}
	if len(selected) == 0 {
		return nil, errNoQuestions
	}

	frozenAt := s.now().UTC()
	rows := make([]model.SnapshotQuestion, len(selected))
	for i, q := range selected {
		options := make([]model.SnapshotOption, len(q.Options))
		copy(options, q.Options)
		rows[i] = model.SnapshotQuestion{
			SessionID:        session.ID,
			Position:         i,
			SourceQuestionID: q.QuestionID,
			Type:             q.Type,
			Prompt:           q.Prompt,
			Options:          options,
			FrozenAt:         frozenAt,
		}
	}
	return rows, nil
}

// Describe summarizes a frozen question set. The checksum is a BLAKE3 hash
// over every row in position order, so two callers agree on it exactly when
// they saw the same rows.
func Describe(sessionID uuid.UUID, rows []model.SnapshotQuestion) *model.SnapshotDescriptor {
	h := blake3.New()
	for _, q := range rows {
		fmt.Fprintf(h, "%d\x1f%s\x1f%s\x1f%s\x1e", q.Position, q.SourceQuestionID, q.Type, q.Prompt)
		for _, o := range q.Options {
			fmt.Fprintf(h, "%s\x1f%s\x1f%t\x1f%d\x1e", o.ID, o.Content, o.IsCorrect, o.Order)
		}
	}

	d := &model.SnapshotDescriptor{
		SessionID:     sessionID,
		QuestionCount: len(rows),
		Checksum:      hex.EncodeToString(h.Sum(nil)),
	}
	if len(rows) > 0 {
		d.FrozenAt = rows[0].FrozenAt
	}
	return d
}

// Payload returns the participant-facing question paper, served from Redis
// and rebuilt from the frozen rows on a miss.
func (s *SnapshotService) Payload(ctx context.Context, sessionID uuid.UUID) (*model.SnapshotPayload, error) {
	key := config.CacheKey.SessionSnapshotKey(sessionID.String())

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var payload model.SnapshotPayload
		if err := json.Unmarshal(data, &payload); err == nil {
			metrics.SnapshotCache(true)
			return &payload, nil
		}
		s.log.Warn().Str("session_id", sessionID.String()).Msg("Corrupt snapshot payload in cache, rebuilding")
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Msg("Redis error reading snapshot payload, falling back to database")
	}
	metrics.SnapshotCache(false)

	rows, err := s.rows(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// Self-heal so the next request is served from cache.
	if err := s.warmCache(ctx, sessionID, rows); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to warm snapshot cache")
	}
	return studentPayload(sessionID, rows), nil
}

// AnswerKey returns the sorted correct option ids for every position.
func (s *SnapshotService) AnswerKey(ctx context.Context, sessionID uuid.UUID) (map[int][]string, error) {
	key := config.CacheKey.SessionAnswerKey(sessionID.String())

	cached, err := s.rdb.HGetAll(ctx, key).Result()
	if err == nil && len(cached) > 0 {
		answerKey := make(map[int][]string, len(cached))
		for field, value := range cached {
			pos, convErr := strconv.Atoi(field)
			if convErr != nil {
				continue
			}
			answerKey[pos] = splitIDs(value)
		}
		return answerKey, nil
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("Redis error reading answer key, falling back to database")
	}

	rows, err := s.rows(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.warmCache(ctx, sessionID, rows); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to warm snapshot cache")
	}
	return answerKeyOf(rows), nil
}

// warmCache stores the student payload and the answer key in one pipeline.
func (s *SnapshotService) warmCache(ctx context.Context, sessionID uuid.UUID, rows []model.SnapshotQuestion) error {
	payloadJSON, err := json.Marshal(studentPayload(sessionID, rows))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	answerKey := answerKeyOf(rows)
	fields := make(map[string]any, len(answerKey))
	for pos, ids := range answerKey {
		fields[strconv.Itoa(pos)] = strings.Join(ids, ",")
	}

	keyKey := config.CacheKey.SessionAnswerKey(sessionID.String())
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.SessionSnapshotKey(sessionID.String()), payloadJSON, s.cacheTTL)
	pipe.Del(ctx, keyKey)
	pipe.HSet(ctx, keyKey, fields)
	if s.cacheTTL > 0 {
		pipe.Expire(ctx, keyKey, s.cacheTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}
	return nil
}

func studentPayload(sessionID uuid.UUID, rows []model.SnapshotQuestion) *model.SnapshotPayload {
	questions := make([]model.StudentQuestion, len(rows))
	for i, q := range rows {
		options := make([]model.StudentOption, len(q.Options))
		for j, o := range q.Options {
			options[j] = model.StudentOption{ID: o.ID, Content: o.Content}
		}
		questions[i] = model.StudentQuestion{
			Position: q.Position,
			Type:     q.Type,
			Prompt:   q.Prompt,
			Options:  options,
		}
	}
	return &model.SnapshotPayload{SessionID: sessionID, Questions: questions}
}

func answerKeyOf(rows []model.SnapshotQuestion) map[int][]string {
	key := make(map[int][]string, len(rows))
	for _, q := range rows {
		ids := []string{}
		for _, o := range q.Options {
			if o.IsCorrect {
				ids = append(ids, o.ID)
			}
		}
		sort.Strings(ids)
		key[q.Position] = ids
	}
	return key
}

func splitIDs(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}
