// Package attempt holds the attempt state machine. Every function is a pure
// transition over a model.Attempt and an explicit instant; persistence and
// locking are the caller's job.
package attempt

import (
	"errors"
	"time"

	"github.com/stemsi/proctor-backend/internal/config"
	"github.com/stemsi/proctor-backend/internal/model"
)

// Transition errors.
var (
	ErrAlreadySubmitted = errors.New("attempt already submitted")
	ErrLocked           = errors.New("attempt is locked")
	ErrNotStarted       = errors.New("attempt has not started")
	ErrBlocked          = errors.New("attempt is blocked until a checkpoint succeeds")
)

// DefaultGrace is how long a due checkpoint stays a warning before it blocks.
const DefaultGrace = 5 * time.Second

// Policy is the checkpoint and lockout configuration the machine runs under.
type Policy struct {
	Grace            time.Duration
	FailThreshold    int
	Cooldown         time.Duration
	EscalateCooldown bool
	MaxCooldowns     int
	LockDuration     time.Duration
}

// PolicyFromConfig builds a Policy from application configuration.
func PolicyFromConfig(cp config.CheckpointConfig, lo config.LockoutConfig) Policy {
	return Policy{
		Grace:            cp.Grace,
		FailThreshold:    lo.FailThreshold,
		Cooldown:         lo.Cooldown,
		EscalateCooldown: lo.EscalateCooldown,
		MaxCooldowns:     lo.MaxCooldowns,
		LockDuration:     lo.LockDuration,
	}
}

// Flags are the derived sub-states of an attempt at a given instant.
type Flags struct {
	Due        bool
	Warning    bool
	InCooldown bool
	IsLocked   bool
}

// Derive computes the derived flags from stored timestamps.
func Derive(a *model.Attempt, p Policy, now time.Time) Flags {
	var f Flags

	if a.Status == model.AttemptStatusLocked {
		f.IsLocked = a.LockedUntil == nil || now.Before(*a.LockedUntil)
	}
	if a.Status != model.AttemptStatusActive {
		return f
	}

	f.InCooldown = a.CooldownUntil != nil && now.Before(*a.CooldownUntil)

	if a.NextDueAt != nil {
		blockAt := a.NextDueAt.Add(p.Grace)
		f.Warning = !now.Before(*a.NextDueAt) && now.Before(blockAt)
		f.Due = !now.Before(blockAt)
	}
	return f
}

// Start marks the attempt as started. It reports whether anything changed;
// a repeat call on a started attempt is a no-op.
func Start(a *model.Attempt, now time.Time, cadence time.Duration, order []int) (bool, error) {
	var reopened bool
	switch a.Status {
	case model.AttemptStatusSubmitted:
		return false, ErrAlreadySubmitted
	case model.AttemptStatusLocked:
		if reopened = Reopen(a, now); !reopened {
			return false, ErrLocked
		}
	}
	if a.AttemptStartedAt != nil {
		return reopened, nil
	}

	started := now
	due := now.Add(cadence)
	a.AttemptStartedAt = &started
	a.NextDueAt = &due
	if a.QuestionOrder == nil && len(order) > 0 {
		a.QuestionOrder = order
	}
	return true, nil
}

// Outcome is the result of evaluating one checkpoint submission.
type Outcome struct {
	OK                bool
	DueAt             *time.Time
	CooldownViolation bool
	CooldownImposed   bool
	Locked            bool
	Reactivated       bool
}

// Checkpoint applies one checkpoint submission. verify is only consulted
// when the attempt is allowed to check in (not in cooldown).
func Checkpoint(a *model.Attempt, p Policy, cadence time.Duration, now time.Time, verify func() bool) (Outcome, error) {
	var out Outcome

	switch a.Status {
	case model.AttemptStatusSubmitted:
		return out, ErrAlreadySubmitted
	case model.AttemptStatusLocked:
		if !Reopen(a, now) {
			return out, ErrLocked
		}
		out.Reactivated = true
	}
	if a.AttemptStartedAt == nil {
		return out, ErrNotStarted
	}

	if a.NextDueAt != nil {
		due := *a.NextDueAt
		out.DueAt = &due
	}

	inCooldown := a.CooldownUntil != nil && now.Before(*a.CooldownUntil)
	out.CooldownViolation = inCooldown
	out.OK = !inCooldown && verify()

	if out.OK {
		base := now
		if a.NextDueAt != nil {
			base = *a.NextDueAt
		}
		next := NextBoundary(base, cadence, now)
		a.NextDueAt = &next
		a.FailedCount = 0
		a.CooldownCount = 0
		a.CooldownUntil = nil
		return out, nil
	}

	a.FailedCount++
	if !inCooldown && a.FailedCount < p.FailThreshold {
		return out, nil
	}

	a.CooldownCount++
	if a.CooldownCount > p.MaxCooldowns {
		a.Status = model.AttemptStatusLocked
		a.LockedUntil = nil
		if p.LockDuration > 0 {
			until := now.Add(p.LockDuration)
			a.LockedUntil = &until
		}
		out.Locked = true
		return out, nil
	}

	until := now.Add(cooldownFor(p, a.CooldownCount))
	a.CooldownUntil = &until
	out.CooldownImposed = true
	return out, nil
}

// Expire auto-submits an active attempt whose time is up.
func Expire(a *model.Attempt, timeUp bool, now time.Time) bool {
	if a.Status != model.AttemptStatusActive || !timeUp {
		return false
	}
	submitted := now
	a.Status = model.AttemptStatusSubmitted
	a.SubmittedAt = &submitted
	return true
}

// Submit is the participant-initiated submission. A lapsed time-boxed lock
// is lifted first.
func Submit(a *model.Attempt, now time.Time) error {
	switch a.Status {
	case model.AttemptStatusSubmitted:
		return ErrAlreadySubmitted
	case model.AttemptStatusLocked:
		if !Reopen(a, now) {
			return ErrLocked
		}
	}
	submitted := now
	a.Status = model.AttemptStatusSubmitted
	a.SubmittedAt = &submitted
	return nil
}

// CanAnswer reports whether the attempt may currently interact with the snapshot.
// It does not lift lapsed locks; callers persist Reopen first.
func CanAnswer(a *model.Attempt, p Policy, now time.Time) error {
	switch a.Status {
	case model.AttemptStatusSubmitted:
		return ErrAlreadySubmitted
	case model.AttemptStatusLocked:
		return ErrLocked
	}
	if a.AttemptStartedAt == nil {
		return ErrNotStarted
	}
	f := Derive(a, p, now)
	if f.Due || f.InCooldown {
		return ErrBlocked
	}
	return nil
}

// NextBoundary returns the first instant base + k*cadence (k >= 0) strictly
// after now. An early success leaves base untouched, so checking in ahead of
// time never pushes the due time further out.
func NextBoundary(base time.Time, cadence time.Duration, now time.Time) time.Time {
	if now.Before(base) || cadence <= 0 {
		return base
	}
	k := now.Sub(base)/cadence + 1
	return base.Add(k * cadence)
}

func cooldownFor(p Policy, n int) time.Duration {
	if !p.EscalateCooldown || n <= 1 {
		return p.Cooldown
	}
	d := p.Cooldown
	for i := 1; i < n; i++ {
		d *= 2
	}
	return d
}

// Reopen lifts a time-boxed lock once it has lapsed, clearing the lockout
// counters. It reports whether the attempt changed.
func Reopen(a *model.Attempt, now time.Time) bool {
	if a.Status != model.AttemptStatusLocked || !lockLapsed(a, now) {
		return false
	}
	reactivate(a)
	return true
}

func lockLapsed(a *model.Attempt, now time.Time) bool {
	return a.LockedUntil != nil && !now.Before(*a.LockedUntil)
}

func reactivate(a *model.Attempt) {
	a.Status = model.AttemptStatusActive
	a.LockedUntil = nil
	a.CooldownUntil = nil
	a.FailedCount = 0
	a.CooldownCount = 0
}
