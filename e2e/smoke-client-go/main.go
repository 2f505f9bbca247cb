// Command smoke-client-go exercises a running relay end to end: two clients
// join the same room, exchange a signal and a chat message, and one leaves.
// It exits non-zero on the first unexpected event, so it can gate deploys.
//
// Usage:
//
//	RELAY_URL=ws://127.0.0.1:8080/ws go run ./e2e/smoke-client-go
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type peerClient struct {
	name string
	conn *websocket.Conn
	id   string
}

func main() {
	relayURL := os.Getenv("RELAY_URL")
	if relayURL == "" {
		relayURL = "ws://127.0.0.1:8080/ws"
	}

	alice, err := dial(relayURL, "alice")
	if err != nil {
		fail("dial alice: %v", err)
	}
	defer alice.conn.Close()
	bob, err := dial(relayURL, "bob")
	if err != nil {
		fail("dial bob: %v", err)
	}
	defer bob.conn.Close()

	room := fmt.Sprintf("smoke-%d", time.Now().UnixNano())

	joined, err := alice.join(room, "Alice")
	if err != nil {
		fail("alice join: %v", err)
	}
	alice.id = joined.UserID
	if len(joined.ExistingUsers) != 0 {
		fail("alice should be alone in %s, got %v", room, joined.ExistingUsers)
	}

	joined, err = bob.join(room, "Bob")
	if err != nil {
		fail("bob join: %v", err)
	}
	bob.id = joined.UserID
	if len(joined.ExistingUsers) != 1 || joined.ExistingUsers[0].UserID != alice.id {
		fail("bob should see alice, got %v", joined.ExistingUsers)
	}
	if _, err := alice.expect("user-joined"); err != nil {
		fail("alice user-joined: %v", err)
	}

	// Point-to-point signal.
	if err := alice.send("signal", map[string]any{
		"to":     bob.id,
		"signal": map[string]string{"type": "offer", "sdp": "v=0 smoke"},
	}); err != nil {
		fail("alice signal: %v", err)
	}
	data, err := bob.expect("signal")
	if err != nil {
		fail("bob signal: %v", err)
	}
	var fwd struct {
		From string `json:"from"`
	}
	if err := json.Unmarshal(data, &fwd); err != nil || fwd.From != alice.id {
		fail("bob signal from=%q, want %q (err %v)", fwd.From, alice.id, err)
	}

	// Room-wide chat, including the sender.
	if err := bob.send("chat-message", map[string]string{"roomId": room, "message": "hello"}); err != nil {
		fail("bob chat: %v", err)
	}
	for _, c := range []*peerClient{alice, bob} {
		if _, err := c.expect("chat-message"); err != nil {
			fail("%s chat-message: %v", c.name, err)
		}
	}

	// Leave notifies the remaining member.
	if err := bob.send("leave-room", nil); err != nil {
		fail("bob leave: %v", err)
	}
	data, err = alice.expect("user-left")
	if err != nil {
		fail("alice user-left: %v", err)
	}
	var left struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(data, &left); err != nil || left.UserID != bob.id {
		fail("alice user-left for %q, want %q (err %v)", left.UserID, bob.id, err)
	}

	fmt.Println("smoke test passed")
}

func dial(relayURL, name string) (*peerClient, error) {
	conn, _, err := websocket.DefaultDialer.Dial(relayURL, nil)
	if err != nil {
		return nil, err
	}
	return &peerClient{name: name, conn: conn}, nil
}

func (c *peerClient) send(event string, data any) error {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		raw = b
	}
	return c.conn.WriteJSON(envelope{Event: event, Data: raw})
}

func (c *peerClient) expect(event string) (json.RawMessage, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg envelope
	if err := c.conn.ReadJSON(&msg); err != nil {
		return nil, err
	}
	if msg.Event != event {
		return nil, fmt.Errorf("got event %q (data %s), want %q", msg.Event, msg.Data, event)
	}
	return msg.Data, nil
}

type roomJoined struct {
	RoomID        string `json:"roomId"`
	UserID        string `json:"userId"`
	Username      string `json:"username"`
	ExistingUsers []struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
	} `json:"existingUsers"`
}

func (c *peerClient) join(room, username string) (roomJoined, error) {
	if err := c.send("join-room", map[string]string{"roomId": room, "username": username}); err != nil {
		return roomJoined{}, err
	}
	data, err := c.expect("room-joined")
	if err != nil {
		return roomJoined{}, err
	}
	var j roomJoined
	if err := json.Unmarshal(data, &j); err != nil {
		return roomJoined{}, err
	}
	return j, nil
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
