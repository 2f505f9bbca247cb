package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const (
	eventJoinRoom       = "join-room"
	eventSignal         = "signal"
	eventScreenSignal   = "screen-signal"
	eventLeaveRoom      = "leave-room"
	eventToggleRoomLock = "toggle-room-lock"
	eventChatMessage    = "chat-message"
)

// clientMessage is the envelope for every inbound frame. The data payload is
// decoded per event after dispatch.
type clientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func parseClientMessage(data []byte) (clientMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg clientMessage
	if err := dec.Decode(&msg); err != nil {
		return clientMessage{}, err
	}
	if msg.Event == "" {
		return clientMessage{}, fmt.Errorf("missing event")
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return clientMessage{}, fmt.Errorf("unexpected trailing data")
	}
	return msg, nil
}

func decodePayload(data json.RawMessage, v interface{ validate() error }) error {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return v.validate()
}

type joinRoomData struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

func (d *joinRoomData) validate() error {
	if strings.TrimSpace(d.RoomID) == "" {
		return fmt.Errorf("join-room missing roomId")
	}
	return nil
}

type signalData struct {
	To     string          `json:"to"`
	Signal json.RawMessage `json:"signal"`
}

func (d *signalData) validate() error {
	if d.To == "" {
		return fmt.Errorf("signal missing to")
	}
	if len(d.Signal) == 0 {
		return fmt.Errorf("signal missing signal")
	}
	return nil
}

type toggleLockData struct {
	RoomID string `json:"roomId"`
	Lock   bool   `json:"lock"`
}

func (d *toggleLockData) validate() error {
	if strings.TrimSpace(d.RoomID) == "" {
		return fmt.Errorf("toggle-room-lock missing roomId")
	}
	return nil
}

type chatData struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

func (d *chatData) validate() error {
	if d.Message == "" {
		return fmt.Errorf("chat-message missing message")
	}
	return nil
}

type leaveRoomData struct{}

func (d *leaveRoomData) validate() error { return nil }
