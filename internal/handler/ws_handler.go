package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/proctor-backend/internal/middleware"
	"github.com/stemsi/proctor-backend/internal/model"
	"github.com/stemsi/proctor-backend/internal/response"
	"github.com/stemsi/proctor-backend/internal/service"
	"github.com/stemsi/proctor-backend/internal/validator"
	ws "github.com/stemsi/proctor-backend/internal/websocket"
)

const wsActionTimeout = 10 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler is the participant's attempt stream: checkpoints, autosave and
// submission over one socket.
type WSHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attemptService *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/attempts/:id/stream
func (h *WSHandler) AttemptStream(c *gin.Context) {
	attemptID, ok := parseID(c)
	if !ok {
		return
	}
	claims := middleware.GetClaims(c)

	// Reject foreign or unknown attempts before upgrading.
	state, err := h.attemptService.State(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		response.FailErr(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("participant_id", claims.UserID).
		Str("attempt_id", attemptID.String()).
		Logger()
	wsLog.Info().Msg("Participant connected")

	_ = ws.WriteTyped(conn, ws.StateResponse{Event: ws.EventState, State: state})

	s := &attemptStream{
		h:             h,
		conn:          conn,
		log:           wsLog,
		attemptID:     attemptID,
		participantID: claims.UserID,
	}
	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}
		if done := s.dispatch(&msg); done {
			return
		}
	}
}

type attemptStream struct {
	h             *WSHandler
	conn          *websocket.Conn
	log           zerolog.Logger
	attemptID     uuid.UUID
	participantID int
}

// dispatch handles one client frame and reports whether the stream is over.
func (s *attemptStream) dispatch(msg *ws.RequestPayload) bool {
	ctx, cancel := context.WithTimeout(context.Background(), wsActionTimeout)
	defer cancel()

	id := s.attemptID
	svc := s.h.attemptService

	switch msg.Action {
	case ws.ActionPing:
		_ = ws.WriteTyped(s.conn, ws.PongResponse{Event: ws.EventPong, At: time.Now().UTC()})

	case ws.ActionCheckpoint:
		req := model.CheckpointRequest{Code: msg.Code}
		if !s.valid(&req) {
			return false
		}
		result, err := svc.SubmitCheckpoint(ctx, id, s.participantID, req.Code)
		if err != nil {
			return s.fail(err)
		}
		_ = ws.WriteTyped(s.conn, ws.CheckpointResponse{Event: ws.EventCheckpoint, Result: result})

	case ws.ActionAutosave:
		req := model.SaveAnswerRequest{Position: msg.Position, OptionIDs: msg.OptionIDs}
		if !s.valid(&req) {
			return false
		}
		if err := svc.SaveAnswer(ctx, id, s.participantID, req); err != nil {
			return s.fail(err)
		}
		_ = ws.WriteTyped(s.conn, ws.SavedResponse{Event: ws.EventSaved, Position: msg.Position})

	case ws.ActionState:
		state, err := svc.State(ctx, id, s.participantID)
		if err != nil {
			return s.fail(err)
		}
		_ = ws.WriteTyped(s.conn, ws.StateResponse{Event: ws.EventState, State: state})

	case ws.ActionSubmit:
		result, err := svc.Submit(ctx, id, s.participantID)
		if err != nil {
			return s.fail(err)
		}
		s.log.Info().Float64("score", result.Score).Msg("Attempt submitted over stream")
		_ = ws.WriteTyped(s.conn, ws.SubmittedResponse{Event: ws.EventSubmitted, Result: result})
		return true

	default:
		s.log.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
		_ = ws.WriteError(s.conn, string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
	}
	return false
}

// valid applies the same binding rules as the REST endpoints and reports a
// validation error frame when req breaks them.
func (s *attemptStream) valid(req interface{}) bool {
	fields := validator.Struct(req)
	if fields == nil {
		return true
	}
	_ = ws.WriteError(s.conn, string(response.ErrValidation), validator.Summary(fields))
	return false
}

// fail reports err to the client. A submitted attempt ends the stream.
func (s *attemptStream) fail(err error) bool {
	_, code := response.Classify(err)
	if code == response.ErrInternal {
		s.log.Error().Err(err).Msg("Stream action failed")
	}
	_ = ws.WriteError(s.conn, string(code), response.GetMessage(code))
	return code == response.ErrAttemptAlreadySubmitted
}
