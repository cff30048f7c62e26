package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	"github.com/scrypster/charles/internal/session"
	"github.com/scrypster/charles/web/handlers"
)

func TestWebSocketHub_ValidatesOrigin(t *testing.T) {
	hub := handlers.NewWebSocketHub(nil, nil, nil)
	defer hub.Stop()

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "http://evil.com")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")

	w := httptest.NewRecorder()
	hub.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Forbidden")
}

func TestWebSocketHub_Broadcast(t *testing.T) {
	hub := handlers.NewWebSocketHub(nil, nil, nil)
	go hub.Run()
	defer hub.Stop()

	received := make(chan []byte, 1)
	require.True(t, hub.Register(&handlers.MockClient{SendChan: received}))

	hub.Broadcast(map[string]interface{}{"type": "test", "data": "hello"})

	select {
	case msg := <-received:
		assert.Contains(t, string(msg), "test")
		assert.Contains(t, string(msg), "hello")
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for broadcast message")
	}
}

func TestWebSocketHub_PublishSnapshot(t *testing.T) {
	hub := handlers.NewWebSocketHub(nil, nil, nil)
	go hub.Run()
	defer hub.Stop()

	received := make(chan []byte, 4)
	require.True(t, hub.Register(&handlers.MockClient{SendChan: received}))

	hub.PublishSnapshot(session.Snapshot{Chat: []session.ChatLine{{Role: session.RoleUser, Text: "hi"}}})

	var kinds []string
	for i := 0; i < 2; i++ {
		select {
		case msg := <-received:
			var out handlers.OutboundMessage
			require.NoError(t, json.Unmarshal(msg, &out))
			kinds = append(kinds, out.Type)
		case <-time.After(time.Second):
			t.Fatal("Timeout waiting for snapshot")
		}
	}
	assert.Equal(t, []string{handlers.MessageUpdateChat, handlers.MessageUpdateDebug}, kinds)
}

func TestWebSocketHub_RegisterAfterStop(t *testing.T) {
	hub := handlers.NewWebSocketHub(nil, nil, nil)
	go hub.Run()
	hub.Stop()
	hub.Stop()

	assert.False(t, hub.Register(&handlers.MockClient{SendChan: make(chan []byte, 1)}))
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) handlers.OutboundMessage { //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var out handlers.OutboundMessage
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestWebSocketHub_RoutesClientMessages(t *testing.T) {
	sess := &fakeSession{snap: session.Snapshot{Responses: "🤖 Ooh.  \n"}}
	hub := handlers.NewWebSocketHub(sess, nil, nil)
	go hub.Run()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil) //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	require.NoError(t, err)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }() //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	// The current state arrives on connect.
	assert.Equal(t, handlers.MessageUpdateChat, readMessage(t, ctx, conn).Type)
	assert.Equal(t, handlers.MessageUpdateDebug, readMessage(t, ctx, conn).Type)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"user_text","text":"hello"}`))) //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"cancel"}`)))                  //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"user_text","text":" "}`)))    //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	require.Eventually(t, func() bool {
		return len(sess.received()) == 1 && sess.cancelCount() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"hello"}, sess.received())

	errMsg := readMessage(t, ctx, conn)
	assert.Equal(t, handlers.MessageError, errMsg.Type)
}
