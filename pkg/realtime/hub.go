// Package realtime implements the SessionHub and PresenceTracker of
// spec.md §4.9–§4.10: the WebSocket fan-out layer that turns EventBus
// envelopes into per-session, per-workspace-authorized delivery, with
// bounded send queues and a never-drop-terminal backpressure policy.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/auth"
	"github.com/quillforge/quillforge/pkg/events"
	"github.com/quillforge/quillforge/pkg/logging"
	"github.com/quillforge/quillforge/pkg/types"
)

const (
	defaultSendQueueCapacity = 64
	maxMessageSize           = 64 * 1024
	writeWait                = 10 * time.Second
)

// upgrader mirrors the teacher's development-mode CheckOrigin; a production
// deployment narrows this to the configured origin allowlist.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// subscription pairs a topic with the EventBus subscription id registered
// on it, so Hub can unsubscribe precisely on session close.
type subscription struct {
	topic string
	id    string
}

// session is one accepted, authenticated WebSocket connection, grounded on
// the teacher's websocket.Session (gorilla conn + bounded send channel +
// done channel, read/write pumps as independent goroutines) but with the
// send side reworked from a plain channel into a mutex-guarded slice so the
// drop-oldest-except-terminal backpressure policy of spec.md §4.9 can
// inspect and evict by event kind, not just by arrival order.
type session struct {
	id      string
	subject types.Subject
	conn    *websocket.Conn
	subs    []subscription

	mu       sync.Mutex
	queue    []*types.EventEnvelope
	capacity int
	dropped  int64

	wake chan struct{}
	done chan struct{}

	pongMu     sync.Mutex
	lastPongAt time.Time
}

func isTerminalEvent(kind types.EventKind) bool {
	return kind == types.EventTransformationComplete || kind == types.EventTransformationFailed
}

// enqueue applies spec.md §4.9's backpressure rule: when the queue is full,
// evict the oldest non-terminal event to make room; transformation.completed
// and transformation.failed are never evicted or dropped. If every queued
// event is already terminal, an incoming terminal event is appended past
// capacity and an incoming non-terminal event is dropped.
func (s *session) enqueue(envelope *types.EventEnvelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) < s.capacity {
		s.queue = append(s.queue, envelope)
		return
	}

	for i, queued := range s.queue {
		if !isTerminalEvent(queued.Kind) {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			s.queue = append(s.queue, envelope)
			s.dropped++
			return
		}
	}

	if isTerminalEvent(envelope.Kind) {
		s.queue = append(s.queue, envelope)
		return
	}

	s.dropped++
}

func (s *session) drain() []*types.EventEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queue
	s.queue = nil
	return out
}

func (s *session) recordPong() {
	s.pongMu.Lock()
	s.lastPongAt = time.Now()
	s.pongMu.Unlock()
}

func (s *session) pongAge() time.Duration {
	s.pongMu.Lock()
	defer s.pongMu.Unlock()
	return time.Since(s.lastPongAt)
}

// Hub is the SessionHub: authenticate-and-accept, subscribe to the
// subject's topics, and dispatch incoming envelopes to every matching
// session's bounded queue.
type Hub struct {
	gateway   *auth.Gateway
	bus       events.EventBus
	logger    logging.Logger
	presence  *PresenceTracker
	heartbeat time.Duration
	capacity  int

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewHub builds a Hub. heartbeat is the server ping interval H of
// spec.md §4.9; a session silent for 2H after a ping is closed. presence
// may be nil if presence tracking is not wired up.
func NewHub(gateway *auth.Gateway, bus events.EventBus, logger logging.Logger, presence *PresenceTracker, heartbeat time.Duration) *Hub {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Hub{
		gateway:   gateway,
		bus:       bus,
		logger:    logger,
		presence:  presence,
		heartbeat: heartbeat,
		capacity:  defaultSendQueueCapacity,
		sessions:  make(map[string]*session),
	}
}

// Accept authenticates the handshake credential, rejects a workspace
// mismatch between the handshake and the credential's subject, upgrades
// the connection, subscribes to the subject's workspace and per-user
// topics, publishes presence.join, and launches the session's read/write
// pumps. It returns once the upgrade and subscription setup succeed; the
// pumps run until the connection closes.
func (h *Hub) Accept(w http.ResponseWriter, r *http.Request, credential, handshakeWorkspaceID string) error {
	subject, err := h.gateway.Authenticate(credential)
	if err != nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return err
	}
	if handshakeWorkspaceID != "" && handshakeWorkspaceID != subject.WorkspaceID {
		http.Error(w, "workspace mismatch", http.StatusForbidden)
		return apperr.New(apperr.Forbidden, "handshake workspace does not match authenticated subject")
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return apperr.Wrap(apperr.Fatal, "upgrade websocket", err)
	}
	conn.SetReadLimit(maxMessageSize)

	sess := &session{
		id:         uuid.New().String(),
		subject:    subject,
		conn:       conn,
		capacity:   h.capacity,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		lastPongAt: time.Now(),
	}

	ctx := r.Context()
	workspaceTopic := events.WorkspaceTopic(subject.WorkspaceID)
	userTopic := events.UserTopic(subject.WorkspaceID, subject.UserID)

	for _, topic := range []string{workspaceTopic, userTopic} {
		subID, err := h.bus.Subscribe(context.Background(), topic, sess.deliver)
		if err != nil {
			h.teardownSubscriptions(sess)
			conn.Close()
			return apperr.Wrap(apperr.Transient, "subscribe session to topic", err)
		}
		sess.subs = append(sess.subs, subscription{topic: topic, id: subID})
	}

	h.mu.Lock()
	h.sessions[sess.id] = sess
	h.mu.Unlock()

	if h.presence != nil {
		h.presence.Join(subject.WorkspaceID, subject.UserID)
	}
	h.publishPresence(ctx, subject, types.EventPresenceJoin)

	go h.writePump(sess)
	go h.readPump(sess)

	return nil
}

// deliver is the EventBus handler bound to both of a session's topics.
// Authorization is enforced structurally: a session only ever subscribes
// to its own workspace and user topics, so no filtering by workspace_id is
// needed here — per spec.md §8 Testable Property 7.
func (s *session) deliver(ctx context.Context, envelope *types.EventEnvelope) {
	s.enqueue(envelope)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (h *Hub) readPump(sess *session) {
	defer h.cleanup(sess)

	sess.conn.SetPongHandler(func(string) error {
		sess.recordPong()
		return nil
	})

	for {
		if _, _, err := sess.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(sess *session) {
	ticker := time.NewTicker(h.heartbeat)
	staleCheck := time.NewTicker(h.heartbeat)
	defer func() {
		ticker.Stop()
		staleCheck.Stop()
		sess.conn.Close()
	}()

	for {
		select {
		case <-sess.done:
			return
		case <-sess.wake:
			for _, envelope := range sess.drain() {
				if err := h.writeEnvelope(sess, envelope); err != nil {
					return
				}
			}
		case <-ticker.C:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-staleCheck.C:
			if sess.pongAge() > 2*h.heartbeat {
				h.logger.Warn(context.Background(), "session missed heartbeat, closing", map[string]interface{}{"session_id": sess.id})
				return
			}
		}
	}
}

func (h *Hub) writeEnvelope(sess *session, envelope *types.EventEnvelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		h.logger.Warn(context.Background(), "marshal envelope failed", map[string]interface{}{"session_id": sess.id, "error": err.Error()})
		return nil
	}
	sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return sess.conn.WriteMessage(websocket.TextMessage, data)
}

func (h *Hub) cleanup(sess *session) {
	h.mu.Lock()
	delete(h.sessions, sess.id)
	h.mu.Unlock()

	h.teardownSubscriptions(sess)
	close(sess.done)
	sess.conn.Close()

	if h.presence != nil {
		h.presence.Leave(sess.subject.WorkspaceID, sess.subject.UserID)
	}
	h.publishPresence(context.Background(), sess.subject, types.EventPresenceLeave)
}

func (h *Hub) teardownSubscriptions(sess *session) {
	for _, sub := range sess.subs {
		if err := h.bus.Unsubscribe(context.Background(), sub.topic, sub.id); err != nil {
			h.logger.Warn(context.Background(), "unsubscribe failed", map[string]interface{}{"topic": sub.topic, "error": err.Error()})
		}
	}
}

func (h *Hub) publishPresence(ctx context.Context, subject types.Subject, kind types.EventKind) {
	envelope := &types.EventEnvelope{
		Kind: kind,
		Payload: map[string]interface{}{
			"user_id":      subject.UserID,
			"workspace_id": subject.WorkspaceID,
		},
	}
	if err := h.bus.Publish(ctx, events.WorkspaceTopic(subject.WorkspaceID), envelope); err != nil {
		h.logger.Warn(ctx, "publish presence event failed", map[string]interface{}{"kind": string(kind), "error": err.Error()})
	}
}

// SessionCount reports the number of currently-accepted sessions, for the
// SUPPLEMENTED /readyz surface.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
