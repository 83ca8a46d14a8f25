package websocket

import (
	"time"

	"github.com/stemsi/proctor-backend/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionCheckpoint Action = "checkpoint"
	ActionAutosave   Action = "autosave"
	ActionState      Action = "state"
	ActionSubmit     Action = "submit"
	ActionPing       Action = "ping"
)

// RequestPayload is the single client frame shape; fields unused by an
// action are ignored.
type RequestPayload struct {
	Action    Action   `json:"action"`
	Code      string   `json:"code,omitempty"`
	Position  int      `json:"position,omitempty"`
	OptionIDs []string `json:"option_ids,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError      Event = "error"
	EventSaved      Event = "saved"
	EventCheckpoint Event = "checkpoint"
	EventState      Event = "state"
	EventSubmitted  Event = "submitted"
	EventPong       Event = "pong"
)

type SavedResponse struct {
	Event    Event `json:"event"`
	Position int   `json:"position"`
}

type CheckpointResponse struct {
	Event  Event                   `json:"event"`
	Result *model.CheckpointResult `json:"result"`
}

type StateResponse struct {
	Event Event               `json:"event"`
	State *model.AttemptState `json:"state"`
}

type SubmittedResponse struct {
	Event  Event               `json:"event"`
	Result *model.SubmitResult `json:"result"`
}

// ErrorResponse carries the same code the REST API would return.
type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event     `json:"event"`
	At    time.Time `json:"at"`
}
