package api

import (
	"encoding/json"

	"github.com/PiranhaCodes/ptymux/internal/mux"
)

// Action names accepted on the control socket.
const (
	ActionResize = "resize"
	ActionStatus = "status"
	ActionKill   = "kill"
	ActionDetach = "detach"
)

// Request represents an incoming request over the control socket.
type Request struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Response represents a response to a request.
type Response struct {
	Ok   bool            `json:"ok"`
	Err  string          `json:"err,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ResizeRequest is the data for a resize action.
type ResizeRequest struct {
	Rows   uint16 `json:"rows"`
	Cols   uint16 `json:"cols"`
	XPixel uint16 `json:"xpixel,omitempty"`
	YPixel uint16 `json:"ypixel,omitempty"`
}

// DetachRequest is the data for a detach action.
type DetachRequest struct {
	ID string `json:"id"`
}

// StatusResponse is the data returned from a status action.
type StatusResponse struct {
	Session string           `json:"session"`
	Pid     int              `json:"pid"`
	Exited  bool             `json:"exited"`
	Rows    uint16           `json:"rows"`
	Cols    uint16           `json:"cols"`
	Clients []mux.ClientInfo `json:"clients"`
	Count   int              `json:"count"`
}
