package service

import (
	"errors"

	"github.com/stemsi/proctor-backend/internal/attempt"
)

// Domain errors. Handlers translate these into response codes.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrAttemptNotFound     = errors.New("attempt not found")
	ErrForbidden           = errors.New("caller does not own this resource")
	ErrSessionNotActive    = errors.New("session is not active")
	ErrSnapshotBuildFailed = errors.New("snapshot build failed")
	ErrInvalidTokenStep    = errors.New("token step must be between 15 and 120 seconds")
	ErrInvalidPosition     = errors.New("question position out of range")
	ErrInvalidToken        = errors.New("invalid or expired token")

	ErrAttemptAlreadySubmitted = attempt.ErrAlreadySubmitted
	ErrAttemptLocked           = attempt.ErrLocked
	ErrAttemptNotStarted       = attempt.ErrNotStarted
	ErrAttemptBlocked          = attempt.ErrBlocked
)
