package room_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/wavecall/signal-relay/internal/room"
)

type sent struct {
	To string
	Ev room.Event
}

type captureSender struct {
	mu     sync.Mutex
	events []sent
}

func (s *captureSender) Send(connID string, ev room.Event) {
	s.mu.Lock()
	s.events = append(s.events, sent{To: connID, Ev: ev})
	s.mu.Unlock()
}

func (s *captureSender) all() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sent{}, s.events...)
}

func (s *captureSender) named(name string) []sent {
	var out []sent
	for _, e := range s.all() {
		if e.Ev.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (s *captureSender) reset() {
	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
}

func newTestRouter(s room.Sender) *room.Router {
	return room.NewRouter(room.RouterConfig{
		Sender: s,
		Log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	})
}

func TestJoinEmptyRoom(t *testing.T) {
	s := &captureSender{}
	r := newTestRouter(s)

	r.Join("A", "room1", "Alice")

	events := s.all()
	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %d: %+v", len(events), events)
	}
	if events[0].To != "A" || events[0].Ev.Name != room.EventRoomJoined {
		t.Fatalf("unexpected event %+v", events[0])
	}
	joined := events[0].Ev.Data.(room.RoomJoined)
	if joined.RoomID != "room1" || joined.UserID != "A" || joined.Username != "Alice" {
		t.Fatalf("unexpected room-joined payload %+v", joined)
	}
	if len(joined.ExistingUsers) != 0 {
		t.Fatalf("expected no existing users, got %+v", joined.ExistingUsers)
	}
}

func TestJoinNotifiesExistingMembers(t *testing.T) {
	s := &captureSender{}
	r := newTestRouter(s)

	r.Join("A", "room1", "Alice")
	s.reset()
	r.Join("B", "room1", "Bob")

	bJoined := s.named(room.EventRoomJoined)
	if len(bJoined) != 1 || bJoined[0].To != "B" {
		t.Fatalf("expected one room-joined to B, got %+v", bJoined)
	}
	existing := bJoined[0].Ev.Data.(room.RoomJoined).ExistingUsers
	if len(existing) != 1 || existing[0] != (room.Member{UserID: "A", Username: "Alice"}) {
		t.Fatalf("expected existingUsers=[Alice], got %+v", existing)
	}

	aNotified := s.named(room.EventUserJoined)
	if len(aNotified) != 1 || aNotified[0].To != "A" {
		t.Fatalf("expected one user-joined to A, got %+v", aNotified)
	}
	if got := aNotified[0].Ev.Data.(room.UserJoined); got != (room.UserJoined{UserID: "B", Username: "Bob"}) {
		t.Fatalf("unexpected user-joined payload %+v", got)
	}
}

func TestJoinSwitchesRooms(t *testing.T) {
	s := &captureSender{}
	r := newTestRouter(s)

	r.Join("A", "room1", "Alice")
	r.Join("C", "room1", "Carol")
	s.reset()

	r.Join("A", "room2", "Alice")

	// Carol, the only remaining member of room1, gets exactly one user-left.
	left := s.named(room.EventUserLeft)
	if len(left) != 1 || left[0].To != "C" {
		t.Fatalf("expected one user-left to C, got %+v", left)
	}
	if got := left[0].Ev.Data.(room.UserLeft); got != (room.UserLeft{UserID: "A", Username: "Alice"}) {
		t.Fatalf("unexpected user-left payload %+v", got)
	}

	rooms := r.Rooms()
	if len(rooms) != 2 {
		t.Fatalf("expected room1 and room2, got %+v", rooms)
	}
	for _, info := range rooms {
		switch info.RoomID {
		case "room1":
			if info.UserCount != 1 || info.Users[0] != "C" {
				t.Fatalf("room1 should hold only C: %+v", info)
			}
		case "room2":
			if info.UserCount != 1 || info.Users[0] != "A" {
				t.Fatalf("room2 should hold only A: %+v", info)
			}
		default:
			t.Fatalf("unexpected room %+v", info)
		}
	}
}

func TestDisconnectCleansUp(t *testing.T) {
	s := &captureSender{}
	r := newTestRouter(s)

	r.Join("A", "room1", "Alice")
	r.Join("B", "room1", "Bob")
	s.reset()

	r.Disconnect("B")

	left := s.named(room.EventUserLeft)
	if len(left) != 1 || left[0].To != "A" {
		t.Fatalf("expected exactly one user-left to A, got %+v", left)
	}
	if got := left[0].Ev.Data.(room.UserLeft); got != (room.UserLeft{UserID: "B", Username: "Bob"}) {
		t.Fatalf("unexpected user-left payload %+v", got)
	}
	if _, ok := r.Lookup("B"); ok {
		t.Fatalf("expected B removed from registry")
	}

	rooms := r.Rooms()
	if len(rooms) != 1 || rooms[0].RoomID != "room1" || rooms[0].UserCount != 1 {
		t.Fatalf("expected room1 -> {A}, got %+v", rooms)
	}

	// Disconnecting again is a no-op.
	s.reset()
	r.Disconnect("B")
	if got := s.all(); len(got) != 0 {
		t.Fatalf("idempotent disconnect must emit nothing, got %+v", got)
	}
}

func TestLastLeaveDestroysRoom(t *testing.T) {
	s := &captureSender{}
	r := newTestRouter(s)

	r.Join("A", "room1", "Alice")
	r.Leave("A")

	if rooms := r.Rooms(); len(rooms) != 0 {
		t.Fatalf("expected no rooms, got %+v", rooms)
	}
	// No members remained, so nobody is notified.
	if left := s.named(room.EventUserLeft); len(left) != 0 {
		t.Fatalf("expected no user-left events, got %+v", left)
	}
}

func TestRelayIgnoresMembership(t *testing.T) {
	s := &captureSender{}
	r := newTestRouter(s)

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	r.Relay(room.EventSignal, "A", "B", payload)

	events := s.all()
	if len(events) != 1 || events[0].To != "B" || events[0].Ev.Name != room.EventSignal {
		t.Fatalf("expected one signal to B, got %+v", events)
	}
	fwd := events[0].Ev.Data.(room.SignalForward)
	if fwd.From != "A" || string(fwd.Signal) != string(payload) {
		t.Fatalf("unexpected forward payload %+v", fwd)
	}
}

func TestScreenSignalKeepsKind(t *testing.T) {
	s := &captureSender{}
	r := newTestRouter(s)

	r.Relay(room.EventScreenSignal, "A", "B", json.RawMessage(`{}`))
	if events := s.named(room.EventScreenSignal); len(events) != 1 {
		t.Fatalf("expected screen-signal event, got %+v", s.all())
	}
}

func TestChatBroadcastIncludesSender(t *testing.T) {
	s := &captureSender{}
	r := newTestRouter(s)

	r.Join("A", "room1", "Alice")
	r.Join("B", "room1", "Bob")
	s.reset()

	r.Chat("A", "room1", "hello")

	chats := s.named(room.EventChatMessage)
	if len(chats) != 2 {
		t.Fatalf("expected chat to both members, got %+v", chats)
	}
	recipients := map[string]bool{}
	for _, c := range chats {
		recipients[c.To] = true
		msg := c.Ev.Data.(room.ChatBroadcast)
		if msg.UserID != "A" || msg.Username != "Alice" || msg.Message != "hello" {
			t.Fatalf("unexpected chat payload %+v", msg)
		}
		if msg.Timestamp != "2024-05-01T12:00:00Z" {
			t.Fatalf("unexpected timestamp %q", msg.Timestamp)
		}
	}
	if !recipients["A"] || !recipients["B"] {
		t.Fatalf("chat must reach sender and peer, got %v", recipients)
	}
}

func TestChatFromUnjoinedDropped(t *testing.T) {
	s := &captureSender{}
	r := newTestRouter(s)

	r.Join("A", "room1", "Alice")
	s.reset()

	r.Chat("ghost", "room1", "boo")
	if got := s.all(); len(got) != 0 {
		t.Fatalf("chat from unjoined connection must produce nothing, got %+v", got)
	}
}

func TestToggleLockExcludesSender(t *testing.T) {
	s := &captureSender{}
	r := newTestRouter(s)

	r.Join("A", "room1", "Alice")
	r.Join("B", "room1", "Bob")
	r.Join("C", "room1", "Carol")
	s.reset()

	r.ToggleLock("A", "room1", true)

	events := s.named(room.EventRoomLockChanged)
	if len(events) != 2 {
		t.Fatalf("expected lock-changed to B and C only, got %+v", events)
	}
	for _, e := range events {
		if e.To == "A" {
			t.Fatalf("sender must not receive lock-changed")
		}
		if got := e.Ev.Data.(room.LockChanged); !got.Locked {
			t.Fatalf("unexpected lock payload %+v", got)
		}
	}
}

// panicOnceSender panics on the first room-joined delivery, simulating an
// internal failure mid-join.
type panicOnceSender struct {
	captureSender
	panicked bool
}

func (s *panicOnceSender) Send(connID string, ev room.Event) {
	if !s.panicked && ev.Name == room.EventRoomJoined {
		s.panicked = true
		panic("send exploded")
	}
	s.captureSender.Send(connID, ev)
}

func TestJoinFailureReportedToJoinerOnly(t *testing.T) {
	s := &panicOnceSender{}
	r := newTestRouter(s)

	r.Join("A", "room1", "Alice")

	errs := s.named(room.EventError)
	if len(errs) != 1 || errs[0].To != "A" {
		t.Fatalf("expected one error event to A, got %+v", s.all())
	}
	if got := errs[0].Ev.Data.(room.ErrorEvent); got.Message == "" {
		t.Fatalf("error event must carry a message")
	}

	// State mutated before the failure is not rolled back.
	rooms := r.Rooms()
	if len(rooms) != 1 || rooms[0].RoomID != "room1" || rooms[0].UserCount != 1 {
		t.Fatalf("expected A still in room1, got %+v", rooms)
	}
}

func TestAliceBobScenario(t *testing.T) {
	s := &captureSender{}
	r := newTestRouter(s)

	// Alice joins an empty room.
	r.Join("A", "room1", "Alice")
	joined := s.named(room.EventRoomJoined)
	if len(joined) != 1 {
		t.Fatalf("expected room-joined for Alice")
	}
	aj := joined[0].Ev.Data.(room.RoomJoined)
	if aj.RoomID != "room1" || aj.UserID != "A" || aj.Username != "Alice" || len(aj.ExistingUsers) != 0 {
		t.Fatalf("unexpected Alice room-joined %+v", aj)
	}
	s.reset()

	// Bob joins; Bob sees Alice, Alice is notified.
	r.Join("B", "room1", "Bob")
	bj := s.named(room.EventRoomJoined)[0].Ev.Data.(room.RoomJoined)
	if len(bj.ExistingUsers) != 1 || bj.ExistingUsers[0] != (room.Member{UserID: "A", Username: "Alice"}) {
		t.Fatalf("unexpected Bob existingUsers %+v", bj.ExistingUsers)
	}
	uj := s.named(room.EventUserJoined)
	if len(uj) != 1 || uj[0].To != "A" {
		t.Fatalf("expected user-joined to Alice, got %+v", uj)
	}
	s.reset()

	// Bob disconnects; Alice is told, directory holds room1 -> {A}.
	r.Disconnect("B")
	ul := s.named(room.EventUserLeft)
	if len(ul) != 1 || ul[0].To != "A" {
		t.Fatalf("expected user-left to Alice, got %+v", ul)
	}
	if got := ul[0].Ev.Data.(room.UserLeft); got != (room.UserLeft{UserID: "B", Username: "Bob"}) {
		t.Fatalf("unexpected user-left payload %+v", got)
	}
	rooms := r.Rooms()
	if len(rooms) != 1 || rooms[0].UserCount != 1 || rooms[0].Users[0] != "A" {
		t.Fatalf("expected room1 -> {A}, got %+v", rooms)
	}
}

func TestConcurrentJoinsKeepInvariants(t *testing.T) {
	s := &captureSender{}
	r := newTestRouter(s)

	var wg sync.WaitGroup
	ids := []string{"c0", "c1", "c2", "c3", "c4", "c5", "c6", "c7"}
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			r.Join(id, "odd", id)
			r.Join(id, "even", id) // everyone ends up in "even"
			if i%2 == 0 {
				r.Disconnect(id)
			}
		}(i, id)
	}
	wg.Wait()

	rooms := r.Rooms()
	if len(rooms) != 1 || rooms[0].RoomID != "even" {
		t.Fatalf("expected only room \"even\", got %+v", rooms)
	}
	if rooms[0].UserCount != len(ids)/2 {
		t.Fatalf("expected %d members, got %+v", len(ids)/2, rooms[0])
	}
	for _, id := range rooms[0].Users {
		rec, ok := r.Lookup(id)
		if !ok || rec.RoomID != "even" {
			t.Fatalf("registry/directory mismatch for %s: %+v %v", id, rec, ok)
		}
	}
}
