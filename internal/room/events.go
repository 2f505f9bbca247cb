package room

import "encoding/json"

// Outbound event names. These follow the browser-facing protocol and must not
// change without a client rollout.
const (
	EventRoomJoined      = "room-joined"
	EventUserJoined      = "user-joined"
	EventUserLeft        = "user-left"
	EventSignal          = "signal"
	EventScreenSignal    = "screen-signal"
	EventRoomLockChanged = "room-lock-changed"
	EventChatMessage     = "chat-message"
	EventError           = "error"
)

// Event is one outbound signaling event addressed to a single connection.
type Event struct {
	Name string
	Data any
}

// Sender delivers outbound events. Delivery is fire-and-forget: the transport
// owns failure handling, and a failed delivery to one recipient must not
// affect the others.
type Sender interface {
	Send(connID string, ev Event)
}

// Member identifies a room participant in join payloads.
type Member struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// RoomJoined confirms a join to the joining connection only.
type RoomJoined struct {
	RoomID        string   `json:"roomId"`
	UserID        string   `json:"userId"`
	Username      string   `json:"username"`
	ExistingUsers []Member `json:"existingUsers"`
}

// UserJoined notifies existing members about a new peer.
type UserJoined struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// UserLeft notifies remaining members about a departed peer.
type UserLeft struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// SignalForward carries an opaque negotiation payload between two peers.
type SignalForward struct {
	From   string          `json:"from"`
	Signal json.RawMessage `json:"signal"`
}

// LockChanged is the advisory room lock broadcast. No lock state is stored
// server side.
type LockChanged struct {
	Locked bool `json:"locked"`
}

// ChatBroadcast is a room-wide chat message, timestamped by the server.
type ChatBroadcast struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// ErrorEvent reports a per-connection failure. Message is intentionally
// generic; details stay in the server log.
type ErrorEvent struct {
	Message string `json:"message"`
}
