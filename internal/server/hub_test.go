package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/fleetdash/internal/fleet"
)

type wireEvent struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev wireEvent
	require.NoError(t, json.Unmarshal(data, &ev), string(data))
	return ev
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_ConnectedFirst(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts)
	ev := readEvent(t, conn)
	assert.Equal(t, fleet.EventConnected, ev.Event)

	var snap fleet.Snapshot
	require.NoError(t, json.Unmarshal(ev.Data, &snap))
	require.Len(t, snap.Hosts, 2)
	assert.Equal(t, "gpu-01", snap.Hosts[0].Hostname)
	assert.Len(t, snap.Alerts, 3)
	waitClients(t, env.srv.Hub(), 1)
}

func TestHub_HostsUpdateOnRefresh(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts)
	readEvent(t, conn)
	waitClients(t, env.srv.Hub(), 1)

	env.sched.Refresh(context.Background())

	ev := readEvent(t, conn)
	assert.Equal(t, fleet.EventHostsUpdate, ev.Event)
	var snap fleet.Snapshot
	require.NoError(t, json.Unmarshal(ev.Data, &snap))
	assert.Len(t, snap.Hosts, 2)
}

func TestHub_AckBroadcast(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts)
	readEvent(t, conn)
	waitClients(t, env.srv.Hub(), 1)

	id := env.sched.Engine().Alerts(true)[0].ID
	rec, _ := env.do(t, "POST", "/api/alerts/"+id+"/ack")
	require.Equal(t, 200, rec.Code)

	ev := readEvent(t, conn)
	assert.Equal(t, fleet.EventAlertAcknowledged, ev.Event)
	assert.JSONEq(t, `{"id":"`+id+`"}`, string(ev.Data))
}

func TestHub_PingPong(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts)
	readEvent(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(data))
}

func TestHub_IdlePing(t *testing.T) {
	env := newTestEnv(t)
	env.srv.Hub().idlePing = 50 * time.Millisecond
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts)
	readEvent(t, conn)

	ev := readEvent(t, conn)
	assert.Equal(t, fleet.EventPing, ev.Event)
	assert.Empty(t, ev.Data)
}

func TestHub_DisconnectAndClose(t *testing.T) {
	env := newTestEnv(t)
	hub := env.srv.Hub()
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	a := dialWS(t, ts)
	b := dialWS(t, ts)
	readEvent(t, a)
	readEvent(t, b)
	waitClients(t, hub, 2)

	require.NoError(t, a.Close())
	waitClients(t, hub, 1)

	hub.Close()
	waitClients(t, hub, 0)

	require.NoError(t, b.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := b.ReadMessage()
	assert.Error(t, err)
}

func TestHub_BroadcastWithoutClients(t *testing.T) {
	hub := NewHub(func() fleet.Snapshot { return fleet.Snapshot{} }, nil)
	assert.NotPanics(t, func() {
		hub.Broadcast(fleet.NewEvent(fleet.EventPing, nil, time.Now()))
	})
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHub_SlowClientDropped(t *testing.T) {
	env := newTestEnv(t)
	hub := env.srv.Hub()
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	// Never read: the socket buffers fill, the writer blocks, the queue overflows.
	_ = dialWS(t, ts)
	waitClients(t, hub, 1)

	big := strings.Repeat("x", 64*1024)
	require.Eventually(t, func() bool {
		hub.Broadcast(fleet.NewEvent(fleet.EventHostsUpdate, big, time.Now()))
		return hub.ClientCount() == 0
	}, 5*time.Second, time.Millisecond)
	assert.True(t, env.log.Contains("warn", "dropping slow client"))
}

func TestHub_BroadcastDuringConnectIsDelivered(t *testing.T) {
	var hub *Hub
	broadcasting := make(chan struct{})
	hub = NewHub(func() fleet.Snapshot {
		// A cycle finishes while the new viewer's snapshot is being built.
		go func() {
			close(broadcasting)
			hub.Broadcast(fleet.NewEvent(fleet.EventAlertAcknowledged, fleet.AckEvent{ID: "abc12345"}, time.Now()))
		}()
		<-broadcasting
		time.Sleep(50 * time.Millisecond)
		return fleet.Snapshot{}
	}, nil)
	defer hub.Close()

	r := gin.New()
	r.GET("/ws", hub.HandleWebSocket)
	ts := httptest.NewServer(r)
	defer ts.Close()

	conn := dialWS(t, ts)
	assert.Equal(t, fleet.EventConnected, readEvent(t, conn).Event)

	ev := readEvent(t, conn)
	assert.Equal(t, fleet.EventAlertAcknowledged, ev.Event)
	assert.JSONEq(t, `{"id":"abc12345"}`, string(ev.Data))
}
