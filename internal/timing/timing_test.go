package timing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func at(sec int64) *time.Time {
	t := time.Unix(sec, 0)
	return &t
}

func TestEndTimeNoLimit(t *testing.T) {
	require.Nil(t, EndTime(nil, at(0), 60, 5))
	require.Nil(t, EndTime(at(0), nil, 60, 5))
	require.Nil(t, EndTime(at(0), at(0), 0, 5))
}

func TestEndTimeAttemptBoundWinsTies(t *testing.T) {
	a := at(1_000)
	end := EndTime(a, a, 1800, 5)
	require.NotNil(t, end)
	require.Equal(t, a.Add(1800*time.Second), *end)
}

func TestEndTimeLateStarterBoundedBySession(t *testing.T) {
	session := at(0)
	attempt := at(1200) // joined 20 minutes late

	end := EndTime(attempt, session, 1800, 5)
	require.Equal(t, time.Unix(1800+300, 0), *end)
}

func TestEndTimeMonotonicInDuration(t *testing.T) {
	session := at(0)
	attempt := at(600)

	prev := *EndTime(attempt, session, 1, 5)
	for d := 2; d < 4000; d += 97 {
		cur := *EndTime(attempt, session, d, 5)
		require.False(t, cur.Before(prev), "duration %d", d)
		prev = cur
	}
}

func TestEndTimeEarlierStartNeverLater(t *testing.T) {
	session := at(0)
	late := *EndTime(at(900), session, 1800, 5)
	early := *EndTime(at(100), session, 1800, 5)
	require.False(t, early.After(late))
}

func TestComputeTimeUp(t *testing.T) {
	a := at(0)
	in := Input{AttemptStartedAt: a, SessionStartedAt: a, DurationSeconds: 1800, BufferMinutes: 5}

	r := Compute(in, time.Unix(1801, 0))
	require.True(t, r.IsTimeUp)
	require.False(t, r.Valid)
	require.Equal(t, int64(0), *r.SecondsRemaining)

	r = Compute(in, time.Unix(1800, 0))
	require.True(t, r.IsTimeUp)

	r = Compute(in, time.Unix(1000, 0))
	require.True(t, r.Valid)
	require.False(t, r.IsTimeUp)
	require.Equal(t, int64(800), *r.SecondsRemaining)
}

func TestComputeSubmittedAndUnstarted(t *testing.T) {
	a := at(0)

	r := Compute(Input{Submitted: true, AttemptStartedAt: a, SessionStartedAt: a, DurationSeconds: 10}, time.Unix(99_999, 0))
	require.True(t, r.Valid)
	require.False(t, r.IsTimeUp)
	require.Nil(t, r.SecondsRemaining)

	r = Compute(Input{SessionStartedAt: a, DurationSeconds: 10}, time.Unix(99_999, 0))
	require.True(t, r.Valid)
	require.Nil(t, r.SecondsRemaining)
}
