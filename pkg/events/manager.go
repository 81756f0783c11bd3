package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/codeready-toolchain/grace-core/pkg/audit"
	"github.com/codeready-toolchain/grace-core/pkg/mesh"
)

// catchupLimit is the maximum number of entries returned in a catchup
// response; beyond it, the client is told to fall back to a full REST
// reload rather than paginate.
const catchupLimit = 200

// CatchupSource is the subset of audit.Store the manager needs to answer
// catchup requests.
type CatchupSource interface {
	Head() (uint64, string)
	Read(r audit.Range) ([]audit.AuditEntry, error)
}

// MeshSubscriber is the subset of mesh.Mesh the manager needs: one
// subscription per distinct channel pattern, torn down once its last
// WebSocket subscriber disconnects.
type MeshSubscriber interface {
	Subscribe(ctx context.Context, pattern string, handler mesh.Handler, opts mesh.SubscribeOptions) mesh.Subscription
	Unsubscribe(sub mesh.Subscription)
}

// ConnectionManager manages WebSocket connections and their Trigger Mesh
// channel subscriptions. One instance per process.
type ConnectionManager struct {
	mesh     MeshSubscriber
	catchup  CatchupSource
	log      *slog.Logger

	connections map[string]*Connection
	mu          sync.RWMutex

	// channel -> connection IDs subscribed to it
	channels  map[string]map[string]bool
	meshSubs  map[string]mesh.Subscription
	channelMu sync.RWMutex

	writeTimeout time.Duration
}

// Connection represents a single WebSocket client. subscriptions is only
// ever touched from the connection's own read-loop goroutine (and its
// deferred cleanup), so it needs no lock of its own.
type Connection struct {
	ID            string
	Conn          *websocket.Conn
	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewConnectionManager builds a manager backed by mesh for live delivery
// and catchup for replaying missed entries.
func NewConnectionManager(m MeshSubscriber, catchup CatchupSource, writeTimeout time.Duration, log *slog.Logger) *ConnectionManager {
	if log == nil {
		log = slog.Default()
	}
	return &ConnectionManager{
		mesh:         m,
		catchup:      catchup,
		log:          log.With("component", "events-manager"),
		connections:  make(map[string]*Connection),
		channels:     make(map[string]map[string]bool),
		meshSubs:     make(map[string]mesh.Subscription),
		writeTimeout: writeTimeout,
	}
}

// HandleConnection manages the lifecycle of a single WebSocket
// connection; it blocks until the connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	connID := uuid.NewString()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{ID: connID, Conn: conn, subscriptions: make(map[string]bool), ctx: ctx, cancel: cancel}

	m.registerConnection(c)
	defer m.unregisterConnection(c)

	m.sendJSON(c, map[string]string{"type": "connection.established", "connection_id": connID})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.log.Warn("invalid websocket message", "connection_id", connID, "error", err)
			continue
		}
		m.handleClientMessage(ctx, c, &msg)
	}
}

// ActiveConnections returns the count of active WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// subscriberCount reports the number of subscribers for a channel; used
// by tests to poll instead of sleeping.
func (m *ConnectionManager) subscriberCount(channel string) int {
	m.channelMu.RLock()
	defer m.channelMu.RUnlock()
	return len(m.channels[channel])
}

func (m *ConnectionManager) handleClientMessage(ctx context.Context, c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for subscribe"})
			return
		}
		m.subscribe(c, msg.Channel)
		m.sendJSON(c, map[string]string{"type": "subscription.confirmed", "channel": msg.Channel})
		m.handleCatchup(ctx, c, msg.Channel, 0)

	case "unsubscribe":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for unsubscribe"})
			return
		}
		m.unsubscribe(c, msg.Channel)

	case "catchup":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for catchup"})
			return
		}
		since := uint64(0)
		if msg.LastSequence != nil {
			since = *msg.LastSequence
		}
		m.handleCatchup(ctx, c, msg.Channel, since)

	case "ping":
		m.sendJSON(c, map[string]string{"type": "pong"})
	}
}

// subscribe registers c for channel, starting a Trigger Mesh subscription
// the first time any connection asks for that pattern.
func (m *ConnectionManager) subscribe(c *Connection, channel string) {
	m.channelMu.Lock()
	needsMeshSub := false
	if _, exists := m.channels[channel]; !exists {
		m.channels[channel] = make(map[string]bool)
		needsMeshSub = true
	}
	m.channels[channel][c.ID] = true

	if needsMeshSub {
		sub := m.mesh.Subscribe(context.Background(), channel, func(_ context.Context, e audit.Event) error {
			m.Broadcast(channel, e)
			return nil
		}, mesh.SubscribeOptions{})
		m.meshSubs[channel] = sub
	}
	m.channelMu.Unlock()

	c.subscriptions[channel] = true
}

// unsubscribe removes c from channel, tearing down the Trigger Mesh
// subscription once the last connection leaves.
func (m *ConnectionManager) unsubscribe(c *Connection, channel string) {
	m.channelMu.Lock()
	if subs, exists := m.channels[channel]; exists {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(m.channels, channel)
			if sub, ok := m.meshSubs[channel]; ok {
				m.mesh.Unsubscribe(sub)
				delete(m.meshSubs, channel)
			}
		}
	}
	m.channelMu.Unlock()
	delete(c.subscriptions, channel)
}

// Broadcast sends an event to every connection subscribed to channel.
func (m *ConnectionManager) Broadcast(channel string, e audit.Event) {
	m.channelMu.RLock()
	connIDs, exists := m.channels[channel]
	if !exists {
		m.channelMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(connIDs))
	for id := range connIDs {
		ids = append(ids, id)
	}
	m.channelMu.RUnlock()

	m.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	m.mu.RUnlock()

	payload, err := json.Marshal(map[string]any{"type": "event", "channel": channel, "event": e})
	if err != nil {
		m.log.Warn("failed to marshal broadcast event", "channel", channel, "error", err)
		return
	}
	for _, c := range conns {
		if err := m.sendRaw(c, payload); err != nil {
			m.log.Warn("failed to send to websocket client", "connection_id", c.ID, "error", err)
		}
	}
}

// handleCatchup replays audit entries whose type matches channel since
// sinceSeq, from the Audit Log directly (spec §4.A is the source of
// truth catchup reads from; no separate events table is kept).
func (m *ConnectionManager) handleCatchup(ctx context.Context, c *Connection, channel string, sinceSeq uint64) {
	if m.catchup == nil {
		return
	}
	head, _ := m.catchup.Head()
	if head == 0 || sinceSeq >= head {
		return
	}

	entries, err := m.catchup.Read(audit.Range{From: sinceSeq + 1})
	if err != nil {
		m.log.Error("catchup read failed", "channel", channel, "error", err)
		return
	}

	matched := make([]audit.AuditEntry, 0, len(entries))
	for _, entry := range entries {
		if mesh.Matches(channel, entry.Event.Type) {
			matched = append(matched, entry)
		}
	}

	hasMore := len(matched) > catchupLimit
	if hasMore {
		matched = matched[:catchupLimit]
	}

	for _, entry := range matched {
		payload, err := json.Marshal(map[string]any{"type": "event", "channel": channel, "event": entry.Event, "sequence": entry.Sequence})
		if err != nil {
			continue
		}
		if err := m.sendRaw(c, payload); err != nil {
			m.log.Warn("failed to send catchup event", "connection_id", c.ID, "error", err)
			return
		}
	}

	if hasMore {
		m.sendJSON(c, map[string]any{"type": "catchup.overflow", "channel": channel, "has_more": true})
	}
}

func (m *ConnectionManager) registerConnection(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

func (m *ConnectionManager) unregisterConnection(c *Connection) {
	for ch := range c.subscriptions {
		m.unsubscribe(c, ch)
	}
	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

func (m *ConnectionManager) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		m.log.Warn("failed to marshal websocket message", "connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		m.log.Warn("failed to send websocket message", "connection_id", c.ID, "error", err)
	}
}

func (m *ConnectionManager) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}
