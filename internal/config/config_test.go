package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	require.Equal(t, 45, cfg.Checkpoint.DefaultStepSeconds)
	require.Equal(t, 1, cfg.Checkpoint.IntervalSteps)
	require.Equal(t, 5*time.Second, cfg.Checkpoint.Grace)
	require.Equal(t, 3, cfg.Lockout.FailThreshold)
	require.Equal(t, 30*time.Second, cfg.Lockout.Cooldown)
	require.Zero(t, cfg.Lockout.LockDuration)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("TOKEN_STEP_SECONDS", "500")
	t.Setenv("LOCKOUT_LOCK_MINUTES", "10")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")

	cfg := Load()

	require.Equal(t, MaxStepSeconds, cfg.Checkpoint.DefaultStepSeconds)
	require.Equal(t, 10*time.Minute, cfg.Lockout.LockDuration)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}
