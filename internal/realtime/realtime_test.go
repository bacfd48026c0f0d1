package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validToken(token string) (uuid.UUID, error) {
	if token != "good" {
		return uuid.Nil, errors.New("bad token")
	}
	return uuid.New(), nil
}

func newWSServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", ServeWs(hub, nil, validToken, []string{"http://localhost:3000"}))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	var ack WSMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, "subscribed", ack.Event)
	return conn
}

func waitSubscribers(t *testing.T, hub *Hub, room string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.SubscriberCount(room) == n }, 2*time.Second, 5*time.Millisecond)
}

func TestServeWs_DeliversRoomEvents(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	srv := newWSServer(t, hub)

	a := dial(t, srv, "room=standup&token=good")
	other := dial(t, srv, "room=retro&token=good")
	waitSubscribers(t, hub, "standup", 1)
	waitSubscribers(t, hub, "retro", 1)

	hub.Publish("standup", "meeting_started", map[string]string{"session_id": "abc"})

	var msg WSMessage
	require.NoError(t, a.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, a.ReadJSON(&msg))
	assert.Equal(t, "meeting_started", msg.Event)
	assert.JSONEq(t, `{"session_id":"abc"}`, string(msg.Data))

	require.NoError(t, other.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	assert.Error(t, other.ReadJSON(&msg), "other rooms must not receive the event")

	require.NoError(t, a.Close())
	waitSubscribers(t, hub, "standup", 0)
}

func TestServeWs_Rejects(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	srv := newWSServer(t, hub)

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"missing room", "token=good", http.StatusBadRequest},
		{"missing token", "room=standup", http.StatusBadRequest},
		{"bad token", "room=standup&token=nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + tt.query
			_, resp, err := websocket.DefaultDialer.Dial(url, nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?room=standup&token=good"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// loopbackBus behaves like Redis pub/sub inside one process.
type loopbackBus struct {
	mu        sync.Mutex
	handlers  map[string]func(string, []byte)
	published int
	fail      bool
}

func (b *loopbackBus) PublishRoomEvent(room, event string, payload []byte) error {
	b.mu.Lock()
	b.published++
	h := b.handlers[room]
	fail := b.fail
	b.mu.Unlock()
	if fail {
		return errors.New("redis down")
	}
	if h != nil {
		h(event, payload)
	}
	return nil
}

func (b *loopbackBus) SubscribeRoom(room string, handler func(string, []byte)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[room] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, room)
	}, nil
}

func TestHub_PublishThroughBus(t *testing.T) {
	bus := &loopbackBus{handlers: map[string]func(string, []byte){}}
	hub := NewHub(nil, bus, bus)

	c := &Client{ID: "c1", Room: "standup", send: make(chan WSMessage, 4)}
	hub.Register(c)

	hub.Publish("standup", "summary_ready", map[string]string{"session_id": "abc"})
	require.Len(t, c.send, 1, "published events are delivered once, by the subscription")
	msg := <-c.send
	assert.Equal(t, "summary_ready", msg.Event)

	bus.fail = true
	hub.Publish("standup", "meeting_ended", map[string]bool{"deleted": false})
	require.Len(t, c.send, 1, "a failed publish falls back to local delivery")
	msg = <-c.send
	assert.Equal(t, "meeting_ended", msg.Event)
	var data map[string]bool
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.False(t, data["deleted"])

	hub.Unregister(c)
	hub.Unregister(c)
	assert.Empty(t, bus.handlers, "last client cancels the room subscription")
	assert.Zero(t, hub.SubscriberCount("standup"))
}
