// Package timing derives attempt deadlines from stored timestamps.
// Nothing here reads the clock; callers pass now explicitly.
package timing

import "time"

// EndTime returns the instant an attempt runs out of time, or nil when no
// limit applies yet (either start is unknown or no duration is configured).
//
// The attempt is bounded both by its own budget and by the session budget
// plus buffer, whichever comes first. Ties resolve to the attempt bound.
func EndTime(attemptStartedAt, sessionStartedAt *time.Time, durationSeconds, bufferMinutes int) *time.Time {
	if attemptStartedAt == nil || sessionStartedAt == nil || durationSeconds <= 0 {
		return nil
	}
	if bufferMinutes < 0 {
		bufferMinutes = 0
	}

	duration := time.Duration(durationSeconds) * time.Second
	attemptEnd := attemptStartedAt.Add(duration)
	sessionEnd := sessionStartedAt.Add(duration + time.Duration(bufferMinutes)*time.Minute)

	if sessionEnd.Before(attemptEnd) {
		return &sessionEnd
	}
	return &attemptEnd
}

// Input is the subset of attempt and session state the calculator needs.
type Input struct {
	Submitted        bool
	AttemptStartedAt *time.Time
	SessionStartedAt *time.Time
	DurationSeconds  int
	BufferMinutes    int
}

// Remaining describes how much time an attempt has left.
type Remaining struct {
	Valid            bool       `json:"valid"`
	SecondsRemaining *int64     `json:"seconds_remaining"`
	IsTimeUp         bool       `json:"is_time_up"`
	EndsAt           *time.Time `json:"ends_at,omitempty"`
}

// Compute evaluates the remaining time of an attempt at now.
func Compute(in Input, now time.Time) Remaining {
	if in.Submitted || in.AttemptStartedAt == nil {
		return Remaining{Valid: true}
	}

	end := EndTime(in.AttemptStartedAt, in.SessionStartedAt, in.DurationSeconds, in.BufferMinutes)
	if end == nil {
		return Remaining{Valid: true}
	}

	secs := int64(end.Sub(now) / time.Second)
	if secs < 0 {
		secs = 0
	}
	timeUp := !now.Before(*end)

	return Remaining{
		Valid:            !timeUp,
		SecondsRemaining: &secs,
		IsTimeUp:         timeUp,
		EndsAt:           end,
	}
}
