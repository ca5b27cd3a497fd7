package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60

	outboxSize = 256
)

// Hub maintains session_id -> set of page connections and delivers events to them.
// With Redis configured, session events go through the session's channel so pages
// attached to any instance receive them exactly once.
type Hub struct {
	// sessionID -> map[clientID]*Client
	sessions map[uuid.UUID]map[string]*Client
	subs     map[uuid.UUID]func() // cancel Redis subscription per session
	pending  map[uuid.UUID]bool   // subscription in progress
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
	outbox   chan outbound
}

type outbound struct {
	sessionID uuid.UUID
	event     string
	data      []byte
}

// RedisPublisher publishes session events for cross-instance delivery.
type RedisPublisher interface {
	PublishSessionEvent(sessionID uuid.UUID, event string, payload []byte) error
}

// RedisSubscriber subscribes to session channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeSession(sessionID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. redisPub and redisSub may be nil for a single instance.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		sessions: make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		pending:  make(map[uuid.UUID]bool),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
		outbox:   make(chan outbound, outboxSize),
	}
}

// Run drains the Redis outbox in order until ctx is done. Without a publisher it returns immediately.
func (h *Hub) Run(ctx context.Context) {
	if h.redis == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-h.outbox:
			if err := h.redis.PublishSessionEvent(m.sessionID, m.event, m.data); err != nil {
				h.logger.Warn("publish session event failed", zap.Error(err), zap.String("session_id", m.sessionID.String()), zap.String("event", m.event))
				// deliver locally so this instance's pages still see it
				h.BroadcastToSession(m.sessionID, m.event, json.RawMessage(m.data))
			} else if !h.subscribed(m.sessionID) {
				// pages here are not reached through the channel
				h.BroadcastToSession(m.sessionID, m.event, json.RawMessage(m.data))
			}
		}
	}
}

// Register adds a client to a session room. Starts the Redis subscription for the
// session if it has none, retrying one that failed earlier.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.sessions[c.SessionID] == nil {
		h.sessions[c.SessionID] = make(map[string]*Client)
	}
	h.sessions[c.SessionID][c.ID] = c
	subscribe := h.redisSub != nil && h.subs[c.SessionID] == nil && !h.pending[c.SessionID]
	if subscribe {
		h.pending[c.SessionID] = true
	}
	h.mu.Unlock()
	h.logger.Debug("page attached", zap.String("client_id", c.ID), zap.String("session_id", c.SessionID.String()))

	if subscribe {
		h.subscribe(c.SessionID)
	}
}

// subscribe runs outside h.mu since it waits on Redis.
func (h *Hub) subscribe(sessionID uuid.UUID) {
	cancel, err := h.redisSub.SubscribeSession(sessionID, func(event string, payload []byte) {
		h.BroadcastToSession(sessionID, event, json.RawMessage(payload))
	})
	h.mu.Lock()
	delete(h.pending, sessionID)
	if err != nil {
		h.mu.Unlock()
		h.logger.Warn("subscribe session channel failed, delivering locally", zap.Error(err), zap.String("session_id", sessionID.String()))
		return
	}
	if len(h.sessions[sessionID]) == 0 {
		// every page left while subscribing
		h.mu.Unlock()
		cancel()
		return
	}
	h.subs[sessionID] = cancel
	h.mu.Unlock()
}

func (h *Hub) subscribed(sessionID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.subs[sessionID]
	return ok
}

// Unregister removes a client from its room. Cancels the Redis subscription when the last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.sessions[c.SessionID]; ok {
		if _, present := m[c.ID]; present {
			delete(m, c.ID)
			close(c.send)
		}
		if len(m) == 0 {
			delete(h.sessions, c.SessionID)
			if cancel, ok := h.subs[c.SessionID]; ok {
				cancel()
				delete(h.subs, c.SessionID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("page detached", zap.String("client_id", c.ID), zap.String("session_id", c.SessionID.String()))
}

// BroadcastToSession sends a message to the pages attached to this instance and
// returns how many were handed the message.
func (h *Hub) BroadcastToSession(sessionID uuid.UUID, event string, payload interface{}) int {
	data, err := encode(payload)
	if err != nil {
		h.logger.Warn("encode ws payload failed", zap.Error(err), zap.String("event", event))
		return 0
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, c := range h.sessions[sessionID] {
		select {
		case c.send <- msg:
			delivered++
		default:
			// buffer full, skip
		}
	}
	return delivered
}

// Dispatch delivers a session event to every attached page. Without Redis it is a
// local broadcast; with Redis it is queued for ordered publication and never blocks.
func (h *Hub) Dispatch(sessionID uuid.UUID, event string, payload interface{}) {
	if h.redis == nil {
		h.BroadcastToSession(sessionID, event, payload)
		return
	}
	data, err := encode(payload)
	if err != nil {
		h.logger.Warn("encode ws payload failed", zap.Error(err), zap.String("event", event))
		return
	}
	select {
	case h.outbox <- outbound{sessionID: sessionID, event: event, data: data}:
	default:
		h.logger.Warn("session outbox full, event dropped", zap.String("session_id", sessionID.String()), zap.String("event", event))
	}
}

// ListenerCount returns the number of pages attached to a session on this instance.
func (h *Hub) ListenerCount(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// SendToClient sends a message to a single client (e.g. the initial state on connect).
func (h *Hub) SendToClient(sessionID uuid.UUID, clientID string, event string, payload interface{}) {
	data, err := encode(payload)
	if err != nil {
		return
	}
	msg := WSMessage{Event: event, Data: data}
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.sessions[sessionID][clientID]
	if !ok || c == nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// CloseSession detaches every page from a session.
func (h *Hub) CloseSession(sessionID uuid.UUID) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.sessions[sessionID]))
	for _, c := range h.sessions[sessionID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.Unregister(c)
	}
}

func encode(payload interface{}) (json.RawMessage, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(payload)
	}
}
