package attempt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stemsi/proctor-backend/internal/model"
)

var testPolicy = Policy{
	Grace:            DefaultGrace,
	FailThreshold:    3,
	Cooldown:         30 * time.Second,
	EscalateCooldown: true,
	MaxCooldowns:     2,
}

const cadence = 45 * time.Second

func startedAttempt(t *testing.T, start time.Time) *model.Attempt {
	t.Helper()
	a := &model.Attempt{Status: model.AttemptStatusActive}
	changed, err := Start(a, start, cadence, nil)
	require.NoError(t, err)
	require.True(t, changed)
	return a
}

func always(ok bool) func() bool { return func() bool { return ok } }

func TestStartIsIdempotent(t *testing.T) {
	start := time.Unix(1_000, 0)
	a := startedAttempt(t, start)
	require.Equal(t, start.Add(cadence), *a.NextDueAt)

	changed, err := Start(a, start.Add(time.Minute), cadence, []int{1, 0})
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, start, *a.AttemptStartedAt)
	require.Nil(t, a.QuestionOrder)
}

func TestStartRejectsTerminalAttempts(t *testing.T) {
	_, err := Start(&model.Attempt{Status: model.AttemptStatusSubmitted}, time.Now(), cadence, nil)
	require.ErrorIs(t, err, ErrAlreadySubmitted)

	_, err = Start(&model.Attempt{Status: model.AttemptStatusLocked}, time.Now(), cadence, nil)
	require.ErrorIs(t, err, ErrLocked)
}

func TestCheckpointSuccessWithinGrace(t *testing.T) {
	start := time.Unix(1_000, 0)
	a := startedAttempt(t, start)
	due := *a.NextDueAt

	out, err := Checkpoint(a, testPolicy, cadence, due.Add(3*time.Second), always(true))
	require.NoError(t, err)
	require.True(t, out.OK)
	require.Equal(t, due, *out.DueAt)
	require.Equal(t, 0, a.FailedCount)
	require.Equal(t, due.Add(cadence), *a.NextDueAt)
}

func TestCheckpointFailureWarningThenDue(t *testing.T) {
	start := time.Unix(1_000, 0)
	a := startedAttempt(t, start)
	due := *a.NextDueAt

	out, err := Checkpoint(a, testPolicy, cadence, due.Add(3*time.Second), always(false))
	require.NoError(t, err)
	require.False(t, out.OK)
	require.Equal(t, 1, a.FailedCount)
	require.Nil(t, a.CooldownUntil)

	f := Derive(a, testPolicy, due.Add(3*time.Second))
	require.True(t, f.Warning)
	require.False(t, f.Due)

	f = Derive(a, testPolicy, due.Add(6*time.Second))
	require.False(t, f.Warning)
	require.True(t, f.Due)

	f = Derive(a, testPolicy, due.Add(-time.Second))
	require.False(t, f.Warning)
	require.False(t, f.Due)
}

func TestCheckpointEscalatesToCooldownThenLock(t *testing.T) {
	start := time.Unix(1_000, 0)
	a := startedAttempt(t, start)
	now := a.NextDueAt.Add(time.Second)

	for i := 0; i < 2; i++ {
		out, err := Checkpoint(a, testPolicy, cadence, now, always(false))
		require.NoError(t, err)
		require.False(t, out.CooldownImposed)
	}

	out, err := Checkpoint(a, testPolicy, cadence, now, always(false))
	require.NoError(t, err)
	require.True(t, out.CooldownImposed)
	require.Equal(t, now.Add(30*time.Second), *a.CooldownUntil)
	require.True(t, Derive(a, testPolicy, now).InCooldown)

	// Submitting during cooldown is rejected without verifying and escalates.
	verified := false
	out, err = Checkpoint(a, testPolicy, cadence, now.Add(time.Second), func() bool { verified = true; return true })
	require.NoError(t, err)
	require.False(t, verified)
	require.False(t, out.OK)
	require.True(t, out.CooldownViolation)
	require.True(t, out.CooldownImposed)
	require.Equal(t, now.Add(time.Second+60*time.Second), *a.CooldownUntil)

	out, err = Checkpoint(a, testPolicy, cadence, now.Add(2*time.Minute), always(false))
	require.NoError(t, err)
	require.True(t, out.Locked)
	require.Equal(t, model.AttemptStatusLocked, a.Status)
	require.Nil(t, a.LockedUntil)
	require.True(t, Derive(a, testPolicy, now.Add(24*time.Hour)).IsLocked)

	_, err = Checkpoint(a, testPolicy, cadence, now.Add(3*time.Minute), always(true))
	require.ErrorIs(t, err, ErrLocked)
}

func TestCheckpointTimeBoxedLockLapses(t *testing.T) {
	p := testPolicy
	p.MaxCooldowns = 0
	p.FailThreshold = 1
	p.LockDuration = 10 * time.Minute

	a := startedAttempt(t, time.Unix(1_000, 0))
	now := a.NextDueAt.Add(time.Second)

	out, err := Checkpoint(a, p, cadence, now, always(false))
	require.NoError(t, err)
	require.True(t, out.Locked)
	require.Equal(t, now.Add(10*time.Minute), *a.LockedUntil)

	require.True(t, Derive(a, p, now.Add(5*time.Minute)).IsLocked)
	require.False(t, Derive(a, p, now.Add(10*time.Minute)).IsLocked)

	later := now.Add(11 * time.Minute)
	out, err = Checkpoint(a, p, cadence, later, always(true))
	require.NoError(t, err)
	require.True(t, out.Reactivated)
	require.True(t, out.OK)
	require.Equal(t, model.AttemptStatusActive, a.Status)
	require.True(t, a.NextDueAt.After(later))
}

func TestCheckpointSuccessResetsCounters(t *testing.T) {
	a := startedAttempt(t, time.Unix(1_000, 0))
	now := a.NextDueAt.Add(time.Second)
	for i := 0; i < 3; i++ {
		_, err := Checkpoint(a, testPolicy, cadence, now, always(false))
		require.NoError(t, err)
	}
	require.NotNil(t, a.CooldownUntil)

	after := a.CooldownUntil.Add(time.Second)
	out, err := Checkpoint(a, testPolicy, cadence, after, always(true))
	require.NoError(t, err)
	require.True(t, out.OK)
	require.Zero(t, a.FailedCount)
	require.Zero(t, a.CooldownCount)
	require.Nil(t, a.CooldownUntil)
}

func TestCheckpointRequiresStart(t *testing.T) {
	_, err := Checkpoint(&model.Attempt{Status: model.AttemptStatusActive}, testPolicy, cadence, time.Now(), always(true))
	require.ErrorIs(t, err, ErrNotStarted)

	_, err = Checkpoint(&model.Attempt{Status: model.AttemptStatusSubmitted}, testPolicy, cadence, time.Now(), always(true))
	require.ErrorIs(t, err, ErrAlreadySubmitted)
}

func TestNextBoundary(t *testing.T) {
	base := time.Unix(1_000, 0)

	require.Equal(t, base, NextBoundary(base, cadence, base.Add(-10*time.Second)))
	require.Equal(t, base.Add(cadence), NextBoundary(base, cadence, base))
	require.Equal(t, base.Add(cadence), NextBoundary(base, cadence, base.Add(3*time.Second)))
	require.Equal(t, base.Add(3*cadence), NextBoundary(base, cadence, base.Add(2*cadence)))
}

func TestExpireAndSubmit(t *testing.T) {
	a := startedAttempt(t, time.Unix(1_000, 0))
	now := time.Unix(5_000, 0)

	require.False(t, Expire(a, false, now))
	require.True(t, Expire(a, true, now))
	require.Equal(t, model.AttemptStatusSubmitted, a.Status)
	require.Equal(t, now, *a.SubmittedAt)
	require.False(t, Expire(a, true, now))

	require.ErrorIs(t, Submit(a, now), ErrAlreadySubmitted)
	require.ErrorIs(t, Submit(&model.Attempt{Status: model.AttemptStatusLocked}, now), ErrLocked)
}

func TestCanAnswer(t *testing.T) {
	a := &model.Attempt{Status: model.AttemptStatusActive}
	require.ErrorIs(t, CanAnswer(a, testPolicy, time.Now()), ErrNotStarted)

	start := time.Unix(1_000, 0)
	_, err := Start(a, start, cadence, nil)
	require.NoError(t, err)

	require.NoError(t, CanAnswer(a, testPolicy, start.Add(10*time.Second)))
	require.NoError(t, CanAnswer(a, testPolicy, a.NextDueAt.Add(2*time.Second)))
	require.ErrorIs(t, CanAnswer(a, testPolicy, a.NextDueAt.Add(5*time.Second)), ErrBlocked)
}

func TestReopenLiftsOnlyLapsedLocks(t *testing.T) {
	now := time.Unix(10_000, 0)
	until := now.Add(time.Minute)
	a := &model.Attempt{
		Status:        model.AttemptStatusLocked,
		LockedUntil:   &until,
		FailedCount:   4,
		CooldownCount: 3,
	}

	require.False(t, Reopen(a, now))
	require.ErrorIs(t, Submit(a, now), ErrLocked)
	require.ErrorIs(t, CanAnswer(a, testPolicy, now), ErrLocked)

	later := now.Add(2 * time.Minute)
	require.True(t, Reopen(a, later))
	require.Equal(t, model.AttemptStatusActive, a.Status)
	require.Nil(t, a.LockedUntil)
	require.Zero(t, a.FailedCount)
	require.Zero(t, a.CooldownCount)
	require.False(t, Reopen(a, later))

	permanent := &model.Attempt{Status: model.AttemptStatusLocked}
	require.False(t, Reopen(permanent, later.Add(24*time.Hour)))
}

func TestSubmitAfterLapsedLock(t *testing.T) {
	now := time.Unix(10_000, 0)
	until := now.Add(-time.Second)
	a := &model.Attempt{Status: model.AttemptStatusLocked, LockedUntil: &until}

	require.NoError(t, Submit(a, now))
	require.Equal(t, model.AttemptStatusSubmitted, a.Status)
	require.Equal(t, now, *a.SubmittedAt)
}

func TestEarlyCheckpointKeepsDueTime(t *testing.T) {
	a := startedAttempt(t, time.Unix(1_000, 0))
	due := *a.NextDueAt

	out, err := Checkpoint(a, testPolicy, cadence, due.Add(-20*time.Second), always(true))
	require.NoError(t, err)
	require.True(t, out.OK)
	require.Equal(t, due, *a.NextDueAt)

	_, err = Checkpoint(a, testPolicy, cadence, due.Add(-10*time.Second), always(true))
	require.NoError(t, err)
	require.Equal(t, due, *a.NextDueAt)
}
