package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/proctor-backend/internal/middleware"
	"github.com/stemsi/proctor-backend/internal/model"
	"github.com/stemsi/proctor-backend/internal/response"
	"github.com/stemsi/proctor-backend/internal/service"
	"github.com/stemsi/proctor-backend/internal/validator"
)

// SessionHandler serves the teacher side of session management.
type SessionHandler struct {
	sessionService *service.SessionService
	monitorService *service.MonitorService
	exportService  *service.ExportService
	log            zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(
	sessionService *service.SessionService,
	monitorService *service.MonitorService,
	exportService *service.ExportService,
	log zerolog.Logger,
) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		monitorService: monitorService,
		exportService:  exportService,
		log:            log.With().Str("component", "session_handler").Logger(),
	}
}

// Create godoc
// POST /api/v1/teacher/sessions
func (h *SessionHandler) Create(c *gin.Context) {
	var req model.CreateSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	claims := middleware.GetClaims(c)

	session, err := h.sessionService.CreateSession(c.Request.Context(), claims.UserID, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusCreated, session)
}

// Get godoc
// GET /api/v1/teacher/sessions/:id
func (h *SessionHandler) Get(c *gin.Context) {
	sessionID, ok := parseID(c)
	if !ok {
		return
	}
	claims := middleware.GetClaims(c)

	session, err := h.sessionService.Get(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, session)
}

// Start godoc
// POST /api/v1/teacher/sessions/:id/start
// Freezes the snapshot on first call. 503 SNAPSHOT_BUILD_FAILED is retryable.
func (h *SessionHandler) Start(c *gin.Context) {
	sessionID, ok := parseID(c)
	if !ok {
		return
	}
	claims := middleware.GetClaims(c)

	result, err := h.sessionService.StartSession(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// End godoc
// POST /api/v1/teacher/sessions/:id/end
func (h *SessionHandler) End(c *gin.Context) {
	sessionID, ok := parseID(c)
	if !ok {
		return
	}
	claims := middleware.GetClaims(c)

	session, err := h.sessionService.EndSession(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, session)
}

// Token godoc
// GET /api/v1/teacher/sessions/:id/token
func (h *SessionHandler) Token(c *gin.Context) {
	sessionID, ok := parseID(c)
	if !ok {
		return
	}
	claims := middleware.GetClaims(c)

	token, err := h.sessionService.CurrentToken(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	response.Success(c, http.StatusOK, token)
}

// Roster godoc
// GET /api/v1/teacher/sessions/:id/roster
func (h *SessionHandler) Roster(c *gin.Context) {
	sessionID, ok := parseID(c)
	if !ok {
		return
	}
	claims := middleware.GetClaims(c)
	ctx := c.Request.Context()

	if _, err := h.sessionService.Get(ctx, sessionID, claims.UserID); err != nil {
		h.fail(c, err)
		return
	}
	roster, err := h.monitorService.Roster(ctx, sessionID, time.Now())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, roster)
}

// CheckpointLog godoc
// GET /api/v1/teacher/sessions/:id/checkpoint-logs?limit=100&format=csv
func (h *SessionHandler) CheckpointLog(c *gin.Context) {
	sessionID, ok := parseID(c)
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{"limit": "limit must be a number"})
		return
	}
	claims := middleware.GetClaims(c)

	logs, err := h.exportService.CheckpointLog(c.Request.Context(), sessionID, claims.UserID, limit)
	if err != nil {
		h.fail(c, err)
		return
	}

	if c.Query("format") != "csv" {
		response.Success(c, http.StatusOK, logs)
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="checkpoints-%s.csv"`, sessionID))
	c.Status(http.StatusOK)
	if err := service.WriteCSV(c.Writer, logs); err != nil {
		h.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Failed to write checkpoint CSV")
	}
}

func (h *SessionHandler) fail(c *gin.Context, err error) {
	if response.FailErr(c, err) {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Session request failed")
	}
}
