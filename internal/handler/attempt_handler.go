package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/proctor-backend/internal/middleware"
	"github.com/stemsi/proctor-backend/internal/model"
	"github.com/stemsi/proctor-backend/internal/response"
	"github.com/stemsi/proctor-backend/internal/service"
	"github.com/stemsi/proctor-backend/internal/validator"
)

// AttemptHandler serves the participant side of a live session.
type AttemptHandler struct {
	sessionService *service.SessionService
	attemptService *service.AttemptService
	log            zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(sessionService *service.SessionService, attemptService *service.AttemptService, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		sessionService: sessionService,
		attemptService: attemptService,
		log:            log.With().Str("component", "attempt_handler").Logger(),
	}
}

// JoinSession godoc
// POST /api/v1/participant/sessions/:id/join
func (h *AttemptHandler) JoinSession(c *gin.Context) {
	sessionID, ok := parseID(c)
	if !ok {
		return
	}
	claims := middleware.GetClaims(c)

	a, err := h.sessionService.JoinSession(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, a)
}

// Start godoc
// POST /api/v1/participant/attempts/:id/start
func (h *AttemptHandler) Start(c *gin.Context) {
	attemptID, ok := parseID(c)
	if !ok {
		return
	}
	claims := middleware.GetClaims(c)

	result, err := h.attemptService.Start(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// SubmitCheckpoint godoc
// POST /api/v1/participant/attempts/:id/checkpoint
// A wrong code is a normal 200 response with ok=false.
func (h *AttemptHandler) SubmitCheckpoint(c *gin.Context) {
	attemptID, ok := parseID(c)
	if !ok {
		return
	}
	var req model.CheckpointRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	claims := middleware.GetClaims(c)

	result, err := h.attemptService.SubmitCheckpoint(c.Request.Context(), attemptID, claims.UserID, req.Code)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// State godoc
// GET /api/v1/participant/attempts/:id/state
func (h *AttemptHandler) State(c *gin.Context) {
	attemptID, ok := parseID(c)
	if !ok {
		return
	}
	claims := middleware.GetClaims(c)

	state, err := h.attemptService.State(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, state)
}

// Questions godoc
// GET /api/v1/participant/attempts/:id/questions
func (h *AttemptHandler) Questions(c *gin.Context) {
	attemptID, ok := parseID(c)
	if !ok {
		return
	}
	claims := middleware.GetClaims(c)

	payload, err := h.attemptService.Questions(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, payload)
}

// SaveAnswer godoc
// PUT /api/v1/participant/attempts/:id/answers
func (h *AttemptHandler) SaveAnswer(c *gin.Context) {
	attemptID, ok := parseID(c)
	if !ok {
		return
	}
	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	claims := middleware.GetClaims(c)

	if err := h.attemptService.SaveAnswer(c.Request.Context(), attemptID, claims.UserID, req); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"position": req.Position, "status": "saved"})
}

// Submit godoc
// POST /api/v1/participant/attempts/:id/submit
func (h *AttemptHandler) Submit(c *gin.Context) {
	attemptID, ok := parseID(c)
	if !ok {
		return
	}
	claims := middleware.GetClaims(c)

	result, err := h.attemptService.Submit(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

func (h *AttemptHandler) fail(c *gin.Context, err error) {
	if response.FailErr(c, err) {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Attempt request failed")
	}
}

// parseID reads the :id path parameter, answering 400 when it is not a UUID.
func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
