package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/proctor-backend/internal/attempt"
	"github.com/stemsi/proctor-backend/internal/checkpoint"
	"github.com/stemsi/proctor-backend/internal/config"
	"github.com/stemsi/proctor-backend/internal/metrics"
	"github.com/stemsi/proctor-backend/internal/model"
	"github.com/stemsi/proctor-backend/internal/repository"
	"github.com/stemsi/proctor-backend/internal/timing"
)

const (
	maxSubmittedLen = 32
	answersTTL      = 24 * time.Hour
)

// AttemptService drives the attempt state machine against persisted attempts.
// Every transition is a single locked read-modify-write on the attempt row.
type AttemptService struct {
	attempts      AttemptStore
	sessions      SessionStore
	answers       AnswerSource
	snapshots     *SnapshotService
	monitor       *MonitorService
	rdb           *redis.Client
	policy        attempt.Policy
	intervalSteps int
	verifyWindow  int
	log           zerolog.Logger
	now           func() time.Time
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	attempts AttemptStore,
	sessions SessionStore,
	answers AnswerSource,
	snapshots *SnapshotService,
	monitor *MonitorService,
	rdb *redis.Client,
	cfg *config.Config,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		attempts:      attempts,
		sessions:      sessions,
		answers:       answers,
		snapshots:     snapshots,
		monitor:       monitor,
		rdb:           rdb,
		policy:        attempt.PolicyFromConfig(cfg.Checkpoint, cfg.Lockout),
		intervalSteps: cfg.Checkpoint.IntervalSteps,
		verifyWindow:  cfg.Checkpoint.VerifyWindow,
		log:           log.With().Str("component", "attempt_service").Logger(),
		now:           time.Now,
	}
}

// Start records the moment the participant begins answering. Repeat calls
// return the original start time.
func (s *AttemptService) Start(ctx context.Context, attemptID uuid.UUID, participantID int) (*model.StartAttemptResult, error) {
	a, sess, err := s.load(ctx, attemptID, participantID)
	if err != nil {
		return nil, err
	}
	if sess.Status != model.SessionStatusActive {
		return nil, ErrSessionNotActive
	}
	now := s.now()

	var order []int
	if sess.Settings.ShuffleQuestions && a.AttemptStartedAt == nil && a.QuestionOrder == nil {
		payload, err := s.snapshots.Payload(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		order = rand.Perm(len(payload.Questions))
	}

	var started, expired bool
	a, _, err = s.attempts.Update(ctx, attemptID, func(a *model.Attempt) (repository.AttemptMutation, error) {
		started, expired = false, false
		if attempt.Expire(a, s.timeUp(a, sess, now), now) {
			expired = true
			return repository.AttemptMutation{Changed: true}, nil
		}
		changed, err := attempt.Start(a, now, s.cadence(sess), order)
		if err != nil {
			return repository.AttemptMutation{}, err
		}
		started = changed
		return repository.AttemptMutation{Changed: changed}, nil
	})
	if err != nil {
		return nil, updateErr(err)
	}
	if expired {
		s.finish(ctx, a, "auto_submitted")
		return nil, ErrAttemptAlreadySubmitted
	}

	if started {
		metrics.AttemptTransition("started")
		s.log.Info().
			Str("attempt_id", a.ID.String()).
			Int("participant_id", a.ParticipantID).
			Msg("Attempt started")
		s.monitor.Publish(ctx, a.SessionID, model.MonitorEvent{
			Type:          model.EventStarted,
			AttemptID:     a.ID.String(),
			ParticipantID: a.ParticipantID,
			Status:        a.Status,
		})
	}

	return &model.StartAttemptResult{
		AttemptStartedAt: *a.AttemptStartedAt,
		NextDueAt:        a.NextDueAt,
		QuestionOrder:    a.QuestionOrder,
	}, nil
}

// SubmitCheckpoint evaluates one checkpoint code. A wrong code is not an
// error: it is recorded and reflected in the result and the lockout counters.
// Each evaluated call appends exactly one checkpoint log row.
func (s *AttemptService) SubmitCheckpoint(ctx context.Context, attemptID uuid.UUID, participantID int, code string) (*model.CheckpointResult, error) {
	_, sess, err := s.load(ctx, attemptID, participantID)
	if err != nil {
		return nil, err
	}
	if sess.Status != model.SessionStatusActive {
		return nil, ErrSessionNotActive
	}
	now := s.now()

	submitted := normalizeCode(code)

	var (
		out     attempt.Outcome
		expired bool
	)
	a, entry, err := s.attempts.Update(ctx, attemptID, func(a *model.Attempt) (repository.AttemptMutation, error) {
		out, expired = attempt.Outcome{}, false
		if attempt.Expire(a, s.timeUp(a, sess, now), now) {
			expired = true
			return repository.AttemptMutation{Changed: true}, nil
		}

		o, err := attempt.Checkpoint(a, s.policy, s.cadence(sess), now, func() bool {
			return checkpoint.Verify(sess.TokenSecret, sess.TokenStepSeconds, submitted, now, s.verifyWindow)
		})
		if err != nil {
			return repository.AttemptMutation{}, err
		}
		out = o
		return repository.AttemptMutation{
			Changed: true,
			Log: &model.CheckpointLog{
				At:        now,
				OK:        o.OK,
				DueAt:     o.DueAt,
				Submitted: submitted,
			},
		}, nil
	})
	if err != nil {
		return nil, updateErr(err)
	}
	if expired {
		s.finish(ctx, a, "auto_submitted")
		return nil, ErrAttemptAlreadySubmitted
	}

	switch {
	case out.OK:
		metrics.Checkpoint("ok")
	case out.CooldownViolation:
		metrics.Checkpoint("cooldown")
	default:
		metrics.Checkpoint("mismatch")
	}

	event := model.MonitorEvent{
		Type:          model.EventCheckpoint,
		AttemptID:     a.ID.String(),
		ParticipantID: a.ParticipantID,
		Status:        a.Status,
		OK:            &entry.OK,
		FailedCount:   a.FailedCount,
	}
	if out.Locked {
		event.Type = model.EventLocked
		metrics.AttemptTransition("locked")
		s.log.Warn().
			Str("attempt_id", a.ID.String()).
			Int("participant_id", a.ParticipantID).
			Int("cooldowns", a.CooldownCount).
			Msg("Attempt locked after repeated checkpoint failures")
	}
	if out.Reactivated {
		s.reopened(a)
	}
	s.monitor.Publish(ctx, a.SessionID, event)

	return &model.CheckpointResult{
		OK:            entry.OK,
		NextDueAt:     a.NextDueAt,
		FailedCount:   a.FailedCount,
		CooldownUntil: a.CooldownUntil,
		LockedUntil:   a.LockedUntil,
		Status:        a.Status,
	}, nil
}

// State returns the attempt as the client should render it right now.
// Nothing here depends on a background sweep: flags are derived from the
// stored timestamps, and an attempt whose time ran out is submitted on read.
func (s *AttemptService) State(ctx context.Context, attemptID uuid.UUID, participantID int) (*model.AttemptState, error) {
	a, sess, err := s.load(ctx, attemptID, participantID)
	if err != nil {
		return nil, err
	}
	now := s.now()

	if a, _, err = s.settle(ctx, a, sess, now); err != nil {
		return nil, err
	}
	return s.view(a, sess, now), nil
}

// Submit is the participant-initiated submission. It grades the attempt
// from the autosaved answers.
func (s *AttemptService) Submit(ctx context.Context, attemptID uuid.UUID, participantID int) (*model.SubmitResult, error) {
	if _, _, err := s.load(ctx, attemptID, participantID); err != nil {
		return nil, err
	}
	now := s.now()

	var reopened bool
	a, _, err := s.attempts.Update(ctx, attemptID, func(a *model.Attempt) (repository.AttemptMutation, error) {
		reopened = a.Status == model.AttemptStatusLocked
		if err := attempt.Submit(a, now); err != nil {
			return repository.AttemptMutation{}, err
		}
		return repository.AttemptMutation{Changed: true}, nil
	})
	if err != nil {
		return nil, updateErr(err)
	}
	if reopened {
		s.reopened(a)
	}

	score := s.finish(ctx, a, "submitted")
	return &model.SubmitResult{
		Status:      a.Status,
		SubmittedAt: a.SubmittedAt,
		Score:       score,
	}, nil
}

// Questions returns the frozen question paper in the attempt's own order.
func (s *AttemptService) Questions(ctx context.Context, attemptID uuid.UUID, participantID int) (*model.SnapshotPayload, error) {
	a, sess, err := s.gate(ctx, attemptID, participantID)
	if err != nil {
		return nil, err
	}

	payload, err := s.snapshots.Payload(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	return reorder(payload, a.QuestionOrder), nil
}

// SaveAnswer autosaves one answer to Redis and queues it for persistence.
func (s *AttemptService) SaveAnswer(ctx context.Context, attemptID uuid.UUID, participantID int, req model.SaveAnswerRequest) error {
	a, sess, err := s.gate(ctx, attemptID, participantID)
	if err != nil {
		return err
	}

	payload, err := s.snapshots.Payload(ctx, sess.ID)
	if err != nil {
		return err
	}
	if req.Position < 0 || req.Position >= len(payload.Questions) {
		return ErrInvalidPosition
	}

	selected, err := json.Marshal(req.OptionIDs)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	job, err := json.Marshal(model.AnswerJob{
		AttemptID: a.ID.String(),
		Position:  req.Position,
		OptionIDs: req.OptionIDs,
		SavedAt:   s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal answer job: %w", err)
	}

	key := config.CacheKey.AttemptAnswersKey(a.ID.String())
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, strconv.Itoa(req.Position), selected)
	pipe.Expire(ctx, key, answersTTL)
	pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, job)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("autosave answer: %w", err)
	}
	return nil
}

// gate loads an attempt that is about to touch the snapshot and checks the
// machine allows it.
func (s *AttemptService) gate(ctx context.Context, attemptID uuid.UUID, participantID int) (*model.Attempt, *model.Session, error) {
	a, sess, err := s.load(ctx, attemptID, participantID)
	if err != nil {
		return nil, nil, err
	}
	if sess.Status != model.SessionStatusActive {
		return nil, nil, ErrSessionNotActive
	}
	now := s.now()

	a, expired, err := s.settle(ctx, a, sess, now)
	if err != nil {
		return nil, nil, err
	}
	if expired {
		return nil, nil, ErrAttemptAlreadySubmitted
	}
	if err := attempt.CanAnswer(a, s.policy, now); err != nil {
		return nil, nil, err
	}
	return a, sess, nil
}

func (s *AttemptService) load(ctx context.Context, attemptID uuid.UUID, participantID int) (*model.Attempt, *model.Session, error) {
	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrAttemptNotFound
		}
		return nil, nil, fmt.Errorf("get attempt: %w", err)
	}
	if a.ParticipantID != participantID {
		return nil, nil, ErrForbidden
	}

	sess, err := s.sessions.GetByID(ctx, a.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrSessionNotFound
		}
		return nil, nil, fmt.Errorf("get session: %w", err)
	}
	return a, sess, nil
}

// settle persists the transitions that fall due with time alone: a lapsed
// time-boxed lock lifts, and an active attempt whose time ran out is
// auto-submitted. It reports whether the attempt was auto-submitted.
func (s *AttemptService) settle(ctx context.Context, a *model.Attempt, sess *model.Session, now time.Time) (*model.Attempt, bool, error) {
	if !s.unsettled(a, sess, now) {
		return a, false, nil
	}

	var reopened, expired bool
	a, _, err := s.attempts.Update(ctx, a.ID, func(a *model.Attempt) (repository.AttemptMutation, error) {
		reopened = attempt.Reopen(a, now)
		expired = attempt.Expire(a, s.timeUp(a, sess, now), now)
		return repository.AttemptMutation{Changed: reopened || expired}, nil
	})
	if err != nil {
		return nil, false, updateErr(err)
	}
	if reopened {
		s.reopened(a)
	}
	if expired {
		s.finish(ctx, a, "auto_submitted")
	}
	return a, expired, nil
}

func (s *AttemptService) unsettled(a *model.Attempt, sess *model.Session, now time.Time) bool {
	switch a.Status {
	case model.AttemptStatusActive:
		return s.timeUp(a, sess, now)
	case model.AttemptStatusLocked:
		return !attempt.Derive(a, s.policy, now).IsLocked
	}
	return false
}

func (s *AttemptService) reopened(a *model.Attempt) {
	metrics.AttemptTransition("reactivated")
	s.log.Info().
		Str("attempt_id", a.ID.String()).
		Int("participant_id", a.ParticipantID).
		Msg("Attempt lock lapsed")
}

// finish grades a freshly submitted attempt, queues the score and tells the monitor.
func (s *AttemptService) finish(ctx context.Context, a *model.Attempt, kind string) float64 {
	metrics.AttemptTransition(kind)

	score, err := s.grade(ctx, a)
	if err != nil {
		s.log.Error().Err(err).Str("attempt_id", a.ID.String()).Msg("Failed to grade attempt")
	}

	s.log.Info().
		Str("attempt_id", a.ID.String()).
		Int("participant_id", a.ParticipantID).
		Str("kind", kind).
		Float64("score", score).
		Msg("Attempt submitted")

	s.monitor.Publish(ctx, a.SessionID, model.MonitorEvent{
		Type:          model.EventSubmitted,
		AttemptID:     a.ID.String(),
		ParticipantID: a.ParticipantID,
		Status:        a.Status,
		Score:         &score,
	})
	return score
}

func (s *AttemptService) grade(ctx context.Context, a *model.Attempt) (float64, error) {
	answers, err := s.answersFor(ctx, a.ID)
	if err != nil {
		return 0, err
	}
	key, err := s.snapshots.AnswerKey(ctx, a.SessionID)
	if err != nil {
		return 0, fmt.Errorf("get answer key: %w", err)
	}

	score := Grade(key, answers)
	job, err := json.Marshal(model.ScoreJob{AttemptID: a.ID.String(), Score: score})
	if err != nil {
		return score, fmt.Errorf("marshal score job: %w", err)
	}
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistScoresQueue, job).Err(); err != nil {
		return score, fmt.Errorf("queue score: %w", err)
	}
	return score, nil
}

// answersFor reads the autosave buffer, falling back to the persisted answers
// when the buffer expired or Redis is unavailable.
func (s *AttemptService) answersFor(ctx context.Context, attemptID uuid.UUID) (map[string]string, error) {
	answers, err := s.rdb.HGetAll(ctx, config.CacheKey.AttemptAnswersKey(attemptID.String())).Result()
	if err == nil && len(answers) > 0 {
		return answers, nil
	}
	if err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Autosave buffer unavailable, grading from database")
	}

	answers, err = s.answers.ListByAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("get answers: %w", err)
	}
	return answers, nil
}

func (s *AttemptService) view(a *model.Attempt, sess *model.Session, now time.Time) *model.AttemptState {
	f := attempt.Derive(a, s.policy, now)
	rem := timing.Compute(s.timingInput(a, sess), now)

	return &model.AttemptState{
		Status:           a.Status,
		Due:              f.Due,
		Warning:          f.Warning,
		InCooldown:       f.InCooldown,
		IsLocked:         f.IsLocked,
		FailedCount:      a.FailedCount,
		GraceSeconds:     int(s.policy.Grace / time.Second),
		NextDueAt:        a.NextDueAt,
		CooldownUntil:    a.CooldownUntil,
		LockedUntil:      a.LockedUntil,
		Valid:            rem.Valid,
		SecondsRemaining: rem.SecondsRemaining,
		IsTimeUp:         rem.IsTimeUp,
	}
}

func (s *AttemptService) timingInput(a *model.Attempt, sess *model.Session) timing.Input {
	return timing.Input{
		Submitted:        a.Status == model.AttemptStatusSubmitted,
		AttemptStartedAt: a.AttemptStartedAt,
		SessionStartedAt: sess.StartedAt,
		DurationSeconds:  sess.Settings.DurationSeconds,
		BufferMinutes:    sess.Settings.BufferMinutes,
	}
}

func (s *AttemptService) timeUp(a *model.Attempt, sess *model.Session, now time.Time) bool {
	return timing.Compute(s.timingInput(a, sess), now).IsTimeUp
}

// cadence is the interval between two required checkpoints.
func (s *AttemptService) cadence(sess *model.Session) time.Duration {
	steps := s.intervalSteps
	if steps < 1 {
		steps = 1
	}
	return time.Duration(sess.TokenStepSeconds*steps) * time.Second
}

// normalizeCode trims the submitted code to what the checkpoint log can hold:
// valid UTF-8 without control characters, at most maxSubmittedLen characters.
func normalizeCode(code string) string {
	code = strings.ToValidUTF8(code, "")
	code = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, code)
	code = strings.TrimSpace(code)

	n := 0
	for i := range code {
		if n == maxSubmittedLen {
			return code[:i]
		}
		n++
	}
	return code
}

func updateErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrAttemptNotFound
	}
	return fmt.Errorf("update attempt: %w", err)
}

func reorder(payload *model.SnapshotPayload, order []int) *model.SnapshotPayload {
	if len(order) != len(payload.Questions) {
		return payload
	}
	questions := make([]model.StudentQuestion, 0, len(order))
	for _, pos := range order {
		if pos < 0 || pos >= len(payload.Questions) {
			return payload
		}
		questions = append(questions, payload.Questions[pos])
	}
	return &model.SnapshotPayload{SessionID: payload.SessionID, Questions: questions}
}
