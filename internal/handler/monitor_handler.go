package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/proctor-backend/internal/middleware"
	"github.com/stemsi/proctor-backend/internal/model"
	"github.com/stemsi/proctor-backend/internal/response"
	"github.com/stemsi/proctor-backend/internal/service"
)

const (
	tokenInterval     = time.Second
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorHandler streams a session's live state to its teacher.
type MonitorHandler struct {
	sessionService *service.SessionService
	monitorService *service.MonitorService
	log            zerolog.Logger
}

func NewMonitorHandler(
	sessionService *service.SessionService,
	monitorService *service.MonitorService,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		sessionService: sessionService,
		monitorService: monitorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorSessionSSE godoc
// GET /api/v1/teacher/sessions/:id/monitor
//
// Emits "roster" on connect and every refreshInterval, "token" every second
// while the session is active, "event" for each attempt or session change and
// "ping" as keep-alive.
func (h *MonitorHandler) MonitorSessionSSE(c *gin.Context) {
	sessionID, ok := parseID(c)
	if !ok {
		return
	}
	claims := middleware.GetClaims(c)
	reqCtx := c.Request.Context()

	session, err := h.sessionService.Get(reqCtx, sessionID, claims.UserID)
	if err != nil {
		response.FailErr(c, err)
		return
	}

	// Subscribe before the first roster so no event falls in between.
	pubsub := h.monitorService.Subscribe(reqCtx, sessionID)
	defer pubsub.Close()
	ch := pubsub.Channel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.sendRoster(c, reqCtx, sessionID)
	h.sendToken(c, session)

	tokenTicker := time.NewTicker(tokenInterval)
	defer tokenTicker.Stop()
	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()
	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	sessLog := h.log.With().Str("session_id", sessionID.String()).Int("teacher_id", claims.UserID).Logger()
	sessLog.Info().Msg("Teacher attached to live monitor SSE")

	for {
		select {
		case <-reqCtx.Done():
			sessLog.Info().Msg("Teacher disconnected from live monitor SSE")
			return

		case msg, open := <-ch:
			if !open {
				return
			}
			c.SSEvent("event", json.RawMessage(msg.Payload))
			c.Writer.Flush()

			var ev model.MonitorEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err == nil &&
				(ev.Type == model.EventSessionStarted || ev.Type == model.EventSessionEnded) {
				if fresh, err := h.sessionService.Get(reqCtx, sessionID, claims.UserID); err == nil {
					session = fresh
				}
			}

		case <-tokenTicker.C:
			h.sendToken(c, session)

		case <-refreshTicker.C:
			h.sendRoster(c, reqCtx, sessionID)

		case <-keepAliveTicker.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			c.Writer.Flush()
		}
	}
}

func (h *MonitorHandler) sendToken(c *gin.Context, session *model.Session) {
	if session.Status != model.SessionStatusActive {
		return
	}
	c.SSEvent("token", service.TokenFor(session, time.Now()))
	c.Writer.Flush()
}

func (h *MonitorHandler) sendRoster(c *gin.Context, parentCtx context.Context, sessionID uuid.UUID) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	roster, err := h.monitorService.Roster(ctx, sessionID, time.Now())
	if err != nil {
		h.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to build roster for monitor")
		return
	}
	c.SSEvent("roster", roster)
	c.Writer.Flush()
}
