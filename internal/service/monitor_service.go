package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/proctor-backend/internal/attempt"
	"github.com/stemsi/proctor-backend/internal/config"
	"github.com/stemsi/proctor-backend/internal/model"
)

// MonitorService feeds the teacher's live session monitor.
type MonitorService struct {
	monitorRepo MonitorStore
	attempts    AttemptStore
	rdb         *redis.Client
	policy      attempt.Policy
	log         zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(monitorRepo MonitorStore, attempts AttemptStore, rdb *redis.Client, policy attempt.Policy, log zerolog.Logger) *MonitorService {
	return &MonitorService{
		monitorRepo: monitorRepo,
		attempts:    attempts,
		rdb:         rdb,
		policy:      policy,
		log:         log.With().Str("component", "monitor_service").Logger(),
	}
}

// Publish pushes an event to everyone watching the session. Best effort.
func (s *MonitorService) Publish(ctx context.Context, sessionID uuid.UUID, event model.MonitorEvent) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return
	}
	channel := config.CacheKey.SessionMonitorChannel(sessionID.String())
	if err := s.rdb.Publish(ctx, channel, raw).Err(); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to publish monitor event")
	}
}

// Subscribe opens the session's event channel. The caller must close it.
func (s *MonitorService) Subscribe(ctx context.Context, sessionID uuid.UUID) *redis.PubSub {
	return s.rdb.Subscribe(ctx, config.CacheKey.SessionMonitorChannel(sessionID.String()))
}

// Roster returns every attempt of a session with its live flags and progress.
// Attempts are critical; the progress counts are best-effort and fetched in parallel.
func (s *MonitorService) Roster(ctx context.Context, sessionID uuid.UUID, now time.Time) (*model.Roster, error) {
	var (
		attempts       []model.Attempt
		answeredCounts map[uuid.UUID]int64
		failedCounts   map[uuid.UUID]int64
		attemptsErr    error
		answeredErr    error
		failedErr      error
		wg             sync.WaitGroup
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		attempts, attemptsErr = s.attempts.ListBySession(ctx, sessionID)
	}()
	go func() {
		defer wg.Done()
		answeredCounts, answeredErr = s.monitorRepo.AnsweredCounts(ctx, sessionID)
	}()
	go func() {
		defer wg.Done()
		failedCounts, failedErr = s.monitorRepo.FailedCheckpointCounts(ctx, sessionID)
	}()
	wg.Wait()

	if attemptsErr != nil {
		return nil, fmt.Errorf("list attempts: %w", attemptsErr)
	}
	if answeredErr != nil {
		s.log.Warn().Err(answeredErr).Msg("Failed to fetch answered counts")
	}
	if failedErr != nil {
		s.log.Warn().Err(failedErr).Msg("Failed to fetch failed checkpoint counts")
	}

	roster := &model.Roster{
		SessionID: sessionID,
		Attempts:  make([]model.RosterEntry, 0, len(attempts)),
	}
	for i := range attempts {
		a := &attempts[i]
		f := attempt.Derive(a, s.policy, now)

		roster.Stats.Joined++
		switch a.Status {
		case model.AttemptStatusActive:
			roster.Stats.Active++
		case model.AttemptStatusSubmitted:
			roster.Stats.Submitted++
		case model.AttemptStatusLocked:
			roster.Stats.Locked++
		}

		roster.Attempts = append(roster.Attempts, model.RosterEntry{
			AttemptID:         a.ID,
			ParticipantID:     a.ParticipantID,
			Status:            a.Status,
			AttemptStartedAt:  a.AttemptStartedAt,
			FailedCount:       a.FailedCount,
			Due:               f.Due,
			InCooldown:        f.InCooldown,
			IsLocked:          f.IsLocked,
			Score:             a.Score,
			AnsweredCount:     answeredCounts[a.ID],
			FailedCheckpoints: failedCounts[a.ID],
		})
	}
	return roster, nil
}
