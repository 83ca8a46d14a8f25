package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/proctor-backend/internal/checkpoint"
	"github.com/stemsi/proctor-backend/internal/config"
	"github.com/stemsi/proctor-backend/internal/model"
	"github.com/stemsi/proctor-backend/internal/repository"
)

// SessionService controls the lifecycle of live quiz sessions.
type SessionService struct {
	sessions  SessionStore
	attempts  AttemptStore
	snapshots *SnapshotService
	monitor   *MonitorService
	cfg       *config.Config
	log       zerolog.Logger
	now       func() time.Time
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	sessions SessionStore,
	attempts AttemptStore,
	snapshots *SnapshotService,
	monitor *MonitorService,
	cfg *config.Config,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		sessions:  sessions,
		attempts:  attempts,
		snapshots: snapshots,
		monitor:   monitor,
		cfg:       cfg,
		log:       log.With().Str("component", "session_service").Logger(),
		now:       time.Now,
	}
}

// CreateSession schedules a quiz run in the lobby. The token secret is
// generated here and never changes afterwards.
func (s *SessionService) CreateSession(ctx context.Context, teacherID int, req model.CreateSessionRequest) (*model.Session, error) {
	step := req.TokenStepSeconds
	if step == 0 {
		step = s.cfg.Checkpoint.DefaultStepSeconds
	}
	if step < config.MinStepSeconds || step > config.MaxStepSeconds {
		return nil, ErrInvalidTokenStep
	}

	secret, err := checkpoint.NewSecret()
	if err != nil {
		return nil, fmt.Errorf("generate token secret: %w", err)
	}

	session := &model.Session{
		QuizID:           req.QuizID,
		TeacherID:        teacherID,
		TokenSecret:      secret,
		TokenStepSeconds: step,
		Settings: model.SessionSettings{
			DurationSeconds:  req.DurationSeconds,
			BufferMinutes:    req.BufferMinutes,
			ShuffleQuestions: req.ShuffleQuestions,
		},
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.log.Info().
		Str("session_id", session.ID.String()).
		Int("teacher_id", teacherID).
		Int("step_seconds", step).
		Msg("Session created")
	return session, nil
}

// Get returns a session owned by the teacher.
func (s *SessionService) Get(ctx context.Context, sessionID uuid.UUID, teacherID int) (*model.Session, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session.TeacherID != teacherID {
		return nil, ErrForbidden
	}
	return session, nil
}

// StartSession freezes the snapshot and activates the session. Calling it
// on an active session is a no-op that returns the original start time, and
// a failed build leaves the session untouched so the call can be retried.
func (s *SessionService) StartSession(ctx context.Context, sessionID uuid.UUID, teacherID int) (*model.SessionStartResult, error) {
	session, err := s.Get(ctx, sessionID, teacherID)
	if err != nil {
		return nil, err
	}
	if session.Status == model.SessionStatusEnded {
		return nil, ErrSessionNotActive
	}

	descriptor, err := s.snapshots.EnsureBuilt(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	wasActive := session.Status == model.SessionStatusActive
	session, err = s.sessions.Activate(ctx, sessionID, s.now().UTC())
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrSessionNotActive
		}
		return nil, fmt.Errorf("activate session: %w", err)
	}

	if !wasActive {
		s.log.Info().
			Str("session_id", sessionID.String()).
			Int("questions", descriptor.QuestionCount).
			Msg("Session started")
		s.monitor.Publish(ctx, sessionID, model.MonitorEvent{Type: model.EventSessionStarted})
	}

	return &model.SessionStartResult{
		Status:    session.Status,
		StartedAt: session.StartedAt,
		Snapshot:  descriptor,
	}, nil
}

// EndSession closes an active session.
func (s *SessionService) EndSession(ctx context.Context, sessionID uuid.UUID, teacherID int) (*model.Session, error) {
	if _, err := s.Get(ctx, sessionID, teacherID); err != nil {
		return nil, err
	}

	session, err := s.sessions.End(ctx, sessionID, s.now().UTC())
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrSessionNotActive
		}
		return nil, fmt.Errorf("end session: %w", err)
	}

	s.log.Info().Str("session_id", sessionID.String()).Msg("Session ended")
	s.monitor.Publish(ctx, sessionID, model.MonitorEvent{Type: model.EventSessionEnded})
	return session, nil
}

// CurrentToken returns the code the teacher should display right now.
func (s *SessionService) CurrentToken(ctx context.Context, sessionID uuid.UUID, teacherID int) (*model.TokenView, error) {
	session, err := s.Get(ctx, sessionID, teacherID)
	if err != nil {
		return nil, err
	}
	if session.Status != model.SessionStatusActive {
		return nil, ErrSessionNotActive
	}
	return TokenFor(session, s.now()), nil
}

// TokenFor computes the token view of an active session at now.
func TokenFor(session *model.Session, now time.Time) *model.TokenView {
	code, remaining := checkpoint.Generate(session.TokenSecret, session.TokenStepSeconds, now)
	return &model.TokenView{
		Token:            code,
		SecondsRemaining: remaining,
		StepSeconds:      session.TokenStepSeconds,
	}
}

// JoinSession returns the participant's attempt in a session, creating it
// on first join. Joining twice yields the same attempt.
func (s *SessionService) JoinSession(ctx context.Context, sessionID uuid.UUID, participantID int) (*model.Attempt, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session.Status == model.SessionStatusEnded {
		return nil, ErrSessionNotActive
	}

	a, err := s.attempts.GetOrCreate(ctx, sessionID, participantID)
	if err != nil {
		return nil, fmt.Errorf("join session: %w", err)
	}

	s.monitor.Publish(ctx, sessionID, model.MonitorEvent{
		Type:          model.EventJoined,
		AttemptID:     a.ID.String(),
		ParticipantID: participantID,
		Status:        a.Status,
	})
	return a, nil
}
