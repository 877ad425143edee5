package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"chatwire/internal/logging"
)

// newSocketPair dials a loopback WebSocket and returns both ends. The server
// side is what chatwire wraps; the client side plays the browser.
func newSocketPair(t *testing.T) (server *websocket.Conn, client *websocket.Conn) {
	t.Helper()

	serverCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("test upgrade failed: %v", err)
			return
		}
		serverCh <- ws
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	server = <-serverCh
	return server, client
}

// newTestConnection wraps the server side of a fresh socket pair.
func newTestConnection(t *testing.T, userID string) (*Connection, *websocket.Conn) {
	t.Helper()
	server, client := newSocketPair(t)
	conn := NewConnection(server, userID, DefaultOptions(), logging.NewNop())
	t.Cleanup(func() { _ = conn.Close() })
	return conn, client
}
