package signaling

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wavecall/signal-relay/internal/config"
	"github.com/wavecall/signal-relay/internal/metrics"
	"github.com/wavecall/signal-relay/internal/ratelimit"
	"github.com/wavecall/signal-relay/internal/room"
)

const wsWriteWait = 1 * time.Second

// Server owns the set of live client connections and implements room.Sender
// so the router can address outbound events by connection id.
type Server struct {
	cfg     config.Config
	log     *slog.Logger
	metrics *metrics.Metrics

	router   *room.Router
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
}

func NewServer(cfg config.Config, log *slog.Logger, m *metrics.Metrics) *Server {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}

	s := &Server{
		cfg:     cfg,
		log:     log,
		metrics: m,
		clients: make(map[string]*client),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: originChecker(cfg.AllowedOrigins),
	}
	s.router = room.NewRouter(room.RouterConfig{
		Sender:  s,
		Log:     log,
		Metrics: m,
	})
	return s
}

// Router exposes the room state for read-only HTTP introspection.
func (s *Server) Router() *room.Router {
	return s.router
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /ws", s)
	mux.HandleFunc("GET /api/rooms", s.handleRooms)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade rejected", "remote_addr", r.RemoteAddr, "err", err)
		return
	}

	c := newClient(uuid.NewString(), conn, s.cfg.SendQueueSize)
	if !s.register(c) {
		writeClose(conn, websocket.CloseGoingAway, "server shutting down")
		_ = conn.Close()
		return
	}

	s.metrics.ConnectionsTotal.Inc()
	s.metrics.ActiveConnections.Inc()
	s.log.Info("client connected", "conn_id", c.id, "remote_addr", r.RemoteAddr)

	go s.writePump(c)
	s.readLoop(c)

	s.router.Disconnect(c.id)
	s.unregister(c.id)
	c.close()

	s.metrics.DisconnectsTotal.Inc()
	s.metrics.ActiveConnections.Dec()
	s.log.Info("client disconnected", "conn_id", c.id)
}

func (s *Server) register(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c.id] = c
	return true
}

func (s *Server) unregister(id string) {
	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
}

// Send implements room.Sender. Delivery is best-effort: frames to a client
// whose queue is full are dropped so fan-out to the rest of a room proceeds.
func (s *Server) Send(connID string, ev room.Event) {
	s.mu.RLock()
	c, ok := s.clients[connID]
	s.mu.RUnlock()
	if !ok {
		return
	}

	b, err := json.Marshal(clientMessage{Event: ev.Name, Data: mustRaw(ev.Data)})
	if err != nil {
		s.log.Error("encode outbound event", "event", ev.Name, "err", err)
		return
	}

	select {
	case c.out <- b:
	default:
		s.metrics.DroppedEvents.WithLabelValues(metrics.DropReasonSendBufferFull).Inc()
		s.log.Warn("send queue full, dropping event", "conn_id", connID, "event", ev.Name)
	}
}

func mustRaw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func (s *Server) readLoop(c *client) {
	conn := c.conn
	conn.SetReadLimit(s.cfg.MaxSignalingMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout))
	})

	perSecond := int64(s.cfg.MaxSignalingMessagesPerSecond)
	limiter := ratelimit.NewTokenBucket(ratelimit.RealClock{}, perSecond, perSecond)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			writeClose(conn, websocket.CloseUnsupportedData, "expected text message")
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout))

		if !limiter.Allow(1) {
			s.metrics.DroppedEvents.WithLabelValues(metrics.DropReasonRateLimited).Inc()
			writeClose(conn, websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		msg, err := parseClientMessage(data)
		if err != nil {
			s.metrics.DroppedEvents.WithLabelValues(metrics.DropReasonBadPayload).Inc()
			s.sendError(c.id, "invalid message")
			writeClose(conn, websocket.ClosePolicyViolation, "invalid message")
			return
		}

		if !s.dispatch(c, msg) {
			return
		}
	}
}

// dispatch handles one parsed inbound event. Returns false when the
// connection should be torn down.
func (s *Server) dispatch(c *client, msg clientMessage) bool {
	switch msg.Event {
	case eventJoinRoom:
		var d joinRoomData
		if !s.decode(c, msg, &d) {
			return true
		}
		s.router.Join(c.id, d.RoomID, d.Username)

	case eventSignal:
		var d signalData
		if !s.decode(c, msg, &d) {
			return true
		}
		s.router.Relay(room.EventSignal, c.id, d.To, d.Signal)

	case eventScreenSignal:
		var d signalData
		if !s.decode(c, msg, &d) {
			return true
		}
		s.router.Relay(room.EventScreenSignal, c.id, d.To, d.Signal)

	case eventChatMessage:
		var d chatData
		if !s.decode(c, msg, &d) {
			return true
		}
		s.router.Chat(c.id, d.RoomID, d.Message)

	case eventToggleRoomLock:
		var d toggleLockData
		if !s.decode(c, msg, &d) {
			return true
		}
		s.router.ToggleLock(c.id, d.RoomID, d.Lock)

	case eventLeaveRoom:
		var d leaveRoomData
		if !s.decode(c, msg, &d) {
			return true
		}
		s.router.Leave(c.id)

	default:
		s.sendError(c.id, "unknown event")
		writeClose(c.conn, websocket.ClosePolicyViolation, "unknown event")
		return false
	}
	return true
}

// decode unmarshals an event payload. Invalid payloads are dropped without
// tearing down the connection.
func (s *Server) decode(c *client, msg clientMessage, v interface{ validate() error }) bool {
	if err := decodePayload(msg.Data, v); err != nil {
		s.metrics.DroppedEvents.WithLabelValues(metrics.DropReasonBadPayload).Inc()
		s.log.Debug("dropping event with invalid payload", "conn_id", c.id, "event", msg.Event, "err", err)
		return false
	}
	return true
}

func (s *Server) sendError(connID, message string) {
	s.Send(connID, room.Event{Name: room.EventError, Data: room.ErrorEvent{Message: message}})
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(s.cfg.WSPingInterval)
	defer ticker.Stop()

	for {
		select {
		case b := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	rooms := s.router.Rooms()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(rooms)
}

// Close disconnects all clients and stops accepting new ones.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		writeClose(c.conn, websocket.CloseGoingAway, "server shutting down")
		c.close()
	}
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

// originChecker builds the upgrade origin policy. An empty allowlist permits
// any origin; otherwise the Origin header must match an entry exactly
// (scheme://host, case-insensitive).
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[strings.ToLower(origin)] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients send no Origin header.
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}
