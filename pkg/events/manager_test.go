package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/grace-core/pkg/audit"
	"github.com/codeready-toolchain/grace-core/pkg/mesh"
)

// fakeMesh is a minimal MeshSubscriber that records subscriptions and
// lets the test drive delivery directly, without exercising the real
// Trigger Mesh's goroutine-per-subscriber machinery.
type fakeMesh struct {
	mu   sync.Mutex
	subs map[string]mesh.Handler
	next int
}

func newFakeMesh() *fakeMesh { return &fakeMesh{subs: make(map[string]mesh.Handler)} }

func (f *fakeMesh) Subscribe(_ context.Context, pattern string, handler mesh.Handler, _ mesh.SubscribeOptions) mesh.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[pattern] = handler
	f.next++
	return mesh.Subscription{}
}

func (f *fakeMesh) Unsubscribe(_ mesh.Subscription) {}

func (f *fakeMesh) deliver(t *testing.T, pattern string, e audit.Event) {
	t.Helper()
	f.mu.Lock()
	h := f.subs[pattern]
	f.mu.Unlock()
	require.NotNil(t, h, "no subscriber registered for pattern %q", pattern)
	require.NoError(t, h(context.Background(), e))
}

func newAuditStore(t *testing.T) *audit.Store {
	t.Helper()
	s, err := audit.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func setupTestManager(t *testing.T, fm *fakeMesh, store CatchupSource) (*ConnectionManager, *httptest.Server) {
	t.Helper()
	manager := NewConnectionManager(fm, store, 5*time.Second, nil)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		manager.HandleConnection(r.Context(), conn)
	}))
	t.Cleanup(server.Close)
	return manager, server
}

func connectWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func writeJSON(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func TestConnectionEstablishedOnDial(t *testing.T) {
	_, server := setupTestManager(t, newFakeMesh(), nil)
	conn := connectWS(t, server)
	msg := readJSON(t, conn)
	require.Equal(t, "connection.established", msg["type"])
}

func TestSubscribeConfirmsAndStartsMeshSubscription(t *testing.T) {
	fm := newFakeMesh()
	manager, server := setupTestManager(t, fm, nil)
	conn := connectWS(t, server)
	_ = readJSON(t, conn) // connection.established

	writeJSON(t, conn, ClientMessage{Action: "subscribe", Channel: "mission.*"})
	msg := readJSON(t, conn)
	require.Equal(t, "subscription.confirmed", msg["type"])
	require.Equal(t, "mission.*", msg["channel"])

	require.Eventually(t, func() bool { return manager.subscriberCount("mission.*") == 1 }, time.Second, 10*time.Millisecond)
}

func TestBroadcastDeliversToSubscribedConnection(t *testing.T) {
	fm := newFakeMesh()
	_, server := setupTestManager(t, fm, nil)
	conn := connectWS(t, server)
	_ = readJSON(t, conn)

	writeJSON(t, conn, ClientMessage{Action: "subscribe", Channel: "mission.completed"})
	_ = readJSON(t, conn) // subscription.confirmed

	fm.deliver(t, "mission.completed", audit.Event{Type: "mission.completed", Source: "scheduler"})

	msg := readJSON(t, conn)
	require.Equal(t, "event", msg["type"])
	require.Equal(t, "mission.completed", msg["channel"])
}

func TestCatchupReplaysMatchingEntriesFromAuditLog(t *testing.T) {
	store := newAuditStore(t)
	_, err := store.Append(audit.Event{Type: "mission.completed", Source: "scheduler"})
	require.NoError(t, err)
	_, err = store.Append(audit.Event{Type: "error.detected", Source: "healer"})
	require.NoError(t, err)

	fm := newFakeMesh()
	_, server := setupTestManager(t, fm, store)
	conn := connectWS(t, server)
	_ = readJSON(t, conn)

	writeJSON(t, conn, ClientMessage{Action: "subscribe", Channel: "mission.*"})
	_ = readJSON(t, conn) // subscription.confirmed

	msg := readJSON(t, conn) // catchup replay of the one matching entry
	require.Equal(t, "event", msg["type"])
	require.Equal(t, "mission.*", msg["channel"])
}

func TestPingRepliesWithPong(t *testing.T) {
	_, server := setupTestManager(t, newFakeMesh(), nil)
	conn := connectWS(t, server)
	_ = readJSON(t, conn)

	writeJSON(t, conn, ClientMessage{Action: "ping"})
	msg := readJSON(t, conn)
	require.Equal(t, "pong", msg["type"])
}
