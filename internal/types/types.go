package types

import ptypes "github.com/DCabral11/cj-digital-bp/pkg/types"

// Client -> Server over /ws
// Login:  username, password
// Logout: {}
// Submit: station_id, pin, points
type ClientMessage struct {
	Type      string `json:"type"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	StationID string `json:"station_id,omitempty"`
	PIN       string `json:"pin,omitempty"`
	Points    *int   `json:"points,omitempty"`
}

const (
	MsgLogin  = "Login"
	MsgLogout = "Logout"
	MsgSubmit = "Submit"

	MsgViewSnapshot = "ViewSnapshot"
	MsgSubmitResult = "SubmitResult"
	MsgError        = "Error"
)

type ServerMessage struct {
	Type    string       `json:"type"` // "ViewSnapshot" | "SubmitResult" | "Error"
	Version int          `json:"version,omitempty"`
	View    *ptypes.View `json:"view,omitempty"`
	Points  *int         `json:"points,omitempty"` // set on SubmitResult, 0 included
	Message string       `json:"message,omitempty"`
	Error   string       `json:"error,omitempty"`
}
