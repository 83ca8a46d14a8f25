package response

import (
	"errors"
	"net/http"

	"github.com/stemsi/proctor-backend/internal/service"
)

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrUnauthenticated ErrCode = "UNAUTHENTICATED"
	ErrTokenRequired   ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid    ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden       ErrCode = "FORBIDDEN"
	ErrParticipantOnly ErrCode = "PARTICIPANT_ACCESS_ONLY"
	ErrTeacherOnly     ErrCode = "TEACHER_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation       ErrCode = "VALIDATION_ERROR"
	ErrInvalidID        ErrCode = "INVALID_ID"
	ErrInvalidPayload   ErrCode = "INVALID_PAYLOAD"
	ErrInvalidTokenStep ErrCode = "INVALID_TOKEN_STEP"
	ErrInvalidPosition  ErrCode = "INVALID_POSITION"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrSessionNotFound ErrCode = "SESSION_NOT_FOUND"
	ErrAttemptNotFound ErrCode = "ATTEMPT_NOT_FOUND"

	// ─── Session / attempt state ───────────────────────────────────────
	ErrSessionNotActive        ErrCode = "SESSION_NOT_ACTIVE"
	ErrAttemptAlreadySubmitted ErrCode = "ATTEMPT_ALREADY_SUBMITTED"
	ErrAttemptLocked           ErrCode = "ATTEMPT_LOCKED"
	ErrAttemptNotStarted       ErrCode = "ATTEMPT_NOT_STARTED"
	ErrAttemptBlocked          ErrCode = "ATTEMPT_BLOCKED"
	ErrSnapshotBuildFailed     ErrCode = "SNAPSHOT_BUILD_FAILED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrUnauthenticated:
		return "Authentication is required."
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid or expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have access to this resource."
	case ErrParticipantOnly:
		return "This resource is limited to quiz participants."
	case ErrTeacherOnly:
		return "This resource is limited to teachers."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."
	case ErrInvalidTokenStep:
		return "Token step must be between 15 and 120 seconds."
	case ErrInvalidPosition:
		return "Question position is out of range."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrSessionNotFound:
		return "Session not found."
	case ErrAttemptNotFound:
		return "Attempt not found."

	// ─── Session / attempt state ───────────────────────────────────────
	case ErrSessionNotActive:
		return "The session is not active."
	case ErrAttemptAlreadySubmitted:
		return "This attempt has already been submitted."
	case ErrAttemptLocked:
		return "This attempt is locked after repeated failed checkpoints."
	case ErrAttemptNotStarted:
		return "This attempt has not been started."
	case ErrAttemptBlocked:
		return "A checkpoint is overdue. Enter the current code to continue."
	case ErrSnapshotBuildFailed:
		return "The question snapshot could not be built. Please retry."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}

// serviceErrors maps domain sentinels to their HTTP status and code.
var serviceErrors = []struct {
	err    error
	status int
	code   ErrCode
}{
	{service.ErrSessionNotFound, http.StatusNotFound, ErrSessionNotFound},
	{service.ErrAttemptNotFound, http.StatusNotFound, ErrAttemptNotFound},
	{service.ErrForbidden, http.StatusForbidden, ErrForbidden},
	{service.ErrInvalidToken, http.StatusUnauthorized, ErrTokenInvalid},
	{service.ErrInvalidTokenStep, http.StatusBadRequest, ErrInvalidTokenStep},
	{service.ErrInvalidPosition, http.StatusBadRequest, ErrInvalidPosition},
	{service.ErrSessionNotActive, http.StatusConflict, ErrSessionNotActive},
	{service.ErrAttemptAlreadySubmitted, http.StatusConflict, ErrAttemptAlreadySubmitted},
	{service.ErrAttemptLocked, http.StatusConflict, ErrAttemptLocked},
	{service.ErrAttemptNotStarted, http.StatusConflict, ErrAttemptNotStarted},
	{service.ErrAttemptBlocked, http.StatusConflict, ErrAttemptBlocked},
	{service.ErrSnapshotBuildFailed, http.StatusServiceUnavailable, ErrSnapshotBuildFailed},
}

// Classify returns the HTTP status and error code for a service error.
// Unknown errors are reported as 500 INTERNAL_ERROR.
func Classify(err error) (int, ErrCode) {
	for _, e := range serviceErrors {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, ErrInternal
}
