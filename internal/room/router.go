package room

import (
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/wavecall/signal-relay/internal/metrics"
)

// anonymousUsername is used when a member's Registry record is missing while
// assembling a join response. That can only happen if a disconnect races the
// join; the placeholder keeps the response well-formed.
const anonymousUsername = "Anonymous"

// joinFailedMessage is the generic error surfaced to a joining connection
// when the join sequence panics.
const joinFailedMessage = "Failed to join room"

// RouterConfig wires the Router's runtime dependencies.
type RouterConfig struct {
	Sender  Sender
	Log     *slog.Logger
	Metrics *metrics.Metrics

	// Now overrides the clock used for chat timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Router is the signaling state machine. It owns the Registry and Directory
// and is the only code path that mutates them; a single mutex makes every
// join/leave/remove atomic with respect to the others.
type Router struct {
	sender  Sender
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu        sync.Mutex
	registry  *Registry
	directory *Directory
}

func NewRouter(cfg RouterConfig) *Router {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Router{
		sender:    cfg.Sender,
		log:       log,
		metrics:   m,
		now:       now,
		registry:  NewRegistry(),
		directory: NewDirectory(),
	}
}

// Join moves connID into roomID, leaving any prior room first.
//
// Fan-out order matters: remaining members of the prior room get user-left,
// the joiner alone gets room-joined with the existing member list, and the
// existing members get user-joined. A panic anywhere in the sequence is
// recovered and reported to the joiner only; state mutated before the panic
// stays mutated.
func (r *Router) Join(connID, roomID, username string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("join failed", "conn_id", connID, "room_id", roomID, "recover", rec, "stack", string(debug.Stack()))
			r.sender.Send(connID, Event{Name: EventError, Data: ErrorEvent{Message: joinFailedMessage}})
		}
	}()

	type addressed struct {
		to string
		ev Event
	}

	var members int
	sends := func() []addressed {
		r.mu.Lock()
		defer r.mu.Unlock()

		var sends []addressed

		// Implicit leave from the previous room. The departing connection gets
		// no notification; it already asked to be somewhere else.
		if prev, ok := r.registry.Get(connID); ok {
			r.directory.Leave(prev.RoomID, connID)
			left := UserLeft{UserID: connID, Username: prev.Username}
			for _, id := range r.directory.Members(prev.RoomID) {
				sends = append(sends, addressed{id, Event{Name: EventUserLeft, Data: left}})
			}
		}

		r.directory.Join(roomID, connID)
		r.registry.Set(connID, Record{RoomID: roomID, Username: username})

		peers := r.directory.Members(roomID)
		members = len(peers)
		existing := make([]Member, 0, len(peers))
		for _, id := range peers {
			if id == connID {
				continue
			}
			name := anonymousUsername
			if rec, ok := r.registry.Get(id); ok {
				name = rec.Username
			}
			existing = append(existing, Member{UserID: id, Username: name})
		}

		sends = append(sends, addressed{connID, Event{Name: EventRoomJoined, Data: RoomJoined{
			RoomID:        roomID,
			UserID:        connID,
			Username:      username,
			ExistingUsers: existing,
		}}})

		joined := UserJoined{UserID: connID, Username: username}
		for _, id := range peers {
			if id == connID {
				continue
			}
			sends = append(sends, addressed{id, Event{Name: EventUserJoined, Data: joined}})
		}

		r.metrics.ActiveRooms.Set(float64(r.directory.Len()))
		return sends
	}()

	r.metrics.JoinsTotal.Inc()
	for _, s := range sends {
		r.sender.Send(s.to, s.ev)
	}

	r.log.Info("user joined room", "conn_id", connID, "room_id", roomID, "username", username, "members", members)
}

// Relay forwards an opaque signaling payload to one connection, tagged with
// the sender. No room-membership check is made: the relay is deliberately
// non-authenticating and any live connection may address any other by ID.
func (r *Router) Relay(kind, fromConnID, toConnID string, signal json.RawMessage) {
	r.metrics.SignalsTotal.WithLabelValues(kind).Inc()
	r.sender.Send(toConnID, Event{Name: kind, Data: SignalForward{From: fromConnID, Signal: signal}})
}

// Chat broadcasts a chat message to every member of roomID, sender included.
// A connection with no Registry record has not joined anything; its messages
// are dropped silently.
func (r *Router) Chat(fromConnID, roomID, message string) {
	r.mu.Lock()
	rec, ok := r.registry.Get(fromConnID)
	members := r.directory.Members(roomID)
	r.mu.Unlock()

	if !ok {
		r.metrics.DroppedEvents.WithLabelValues(metrics.DropReasonUnjoinedChat).Inc()
		return
	}

	r.metrics.ChatTotal.Inc()
	msg := ChatBroadcast{
		UserID:    fromConnID,
		Username:  rec.Username,
		Message:   message,
		Timestamp: r.now().UTC().Format(time.RFC3339),
	}
	for _, id := range members {
		r.sender.Send(id, Event{Name: EventChatMessage, Data: msg})
	}
}

// ToggleLock broadcasts an advisory lock change to every member of roomID
// except the sender. Nothing is stored and nothing is enforced.
func (r *Router) ToggleLock(fromConnID, roomID string, locked bool) {
	r.mu.Lock()
	members := r.directory.Members(roomID)
	r.mu.Unlock()

	ev := Event{Name: EventRoomLockChanged, Data: LockChanged{Locked: locked}}
	for _, id := range members {
		if id == fromConnID {
			continue
		}
		r.sender.Send(id, ev)
	}
}

// Leave handles an explicit leave-room request.
func (r *Router) Leave(connID string) {
	r.disconnect(connID)
}

// Disconnect handles a transport-level disconnect. It shares the leave
// procedure and is idempotent; cleanup always runs to completion.
func (r *Router) Disconnect(connID string) {
	r.disconnect(connID)
}

func (r *Router) disconnect(connID string) {
	r.mu.Lock()
	rec, ok := r.registry.Get(connID)
	if !ok {
		r.mu.Unlock()
		return
	}
	r.directory.Leave(rec.RoomID, connID)
	remaining := r.directory.Members(rec.RoomID)
	r.registry.Remove(connID)
	r.metrics.ActiveRooms.Set(float64(r.directory.Len()))
	r.mu.Unlock()

	left := UserLeft{UserID: connID, Username: rec.Username}
	for _, id := range remaining {
		r.sender.Send(id, Event{Name: EventUserLeft, Data: left})
	}

	r.log.Info("user left room", "conn_id", connID, "room_id", rec.RoomID, "username", rec.Username)
}

// Rooms returns a snapshot of all live rooms for introspection.
func (r *Router) Rooms() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.directory.Snapshot()
}

// Lookup returns the Registry record for connID.
func (r *Router) Lookup(connID string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registry.Get(connID)
}
