package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatwire/internal/config"
	"chatwire/internal/logging"
	"chatwire/pkg/interfaces"
)

type fakeVerifier struct {
	users map[string]string // token -> userID
}

func (f *fakeVerifier) Verify(token string) (string, error) {
	userID, ok := f.users[token]
	if !ok {
		return "", interfaces.ErrInvalidToken
	}
	return userID, nil
}

type recordingSink struct {
	mu     sync.Mutex
	frames []string
	users  []string
}

func (s *recordingSink) HandleFrame(_ context.Context, conn *Connection, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, string(raw))
	s.users = append(s.users, conn.UserID())
}

func (s *recordingSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames...)
}

func newHandlerFixture(t *testing.T) (*Registry, *recordingSink, *httptest.Server) {
	t.Helper()
	registry := newTestRegistry()
	sink := &recordingSink{}
	verifier := &fakeVerifier{users: map[string]string{
		"alice-token": "alice",
		"bob-token":   "bob",
	}}
	handler := NewHandler(registry, verifier, sink, config.Default().WebSocket, logging.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(srv.Close)
	return registry, sink, srv
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + token
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestHandler_RejectsMissingToken(t *testing.T) {
	_, _, srv := newHandlerFixture(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_RejectsInvalidToken(t *testing.T) {
	_, _, srv := newHandlerFixture(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=forged"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_RegistersAuthenticatedConnection(t *testing.T) {
	registry, _, srv := newHandlerFixture(t)

	dial(t, srv, "alice-token")

	require.Eventually(t, func() bool {
		return len(registry.Connections("alice")) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHandler_FramesDispatchedInArrivalOrder(t *testing.T) {
	_, sink, srv := newHandlerFixture(t)
	client := dial(t, srv, "alice-token")

	frames := []string{`{"seq":1}`, `{"seq":2}`, `{"seq":3}`}
	for _, frame := range frames {
		require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(frame)))
	}

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == len(frames)
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, frames, sink.snapshot())
}

func TestHandler_IgnoresBinaryFrames(t *testing.T) {
	_, sink, srv := newHandlerFixture(t)
	client := dial(t, srv, "alice-token")

	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}))
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"ok":true}`)))

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{`{"ok":true}`}, sink.snapshot())
}

func TestHandler_CleansUpOnClientDisconnect(t *testing.T) {
	registry, _, srv := newHandlerFixture(t)
	client := dial(t, srv, "alice-token")

	require.Eventually(t, func() bool {
		return len(registry.Connections("alice")) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, client.Close())

	// Registry removal is unconditional on read-loop exit.
	require.Eventually(t, func() bool {
		return len(registry.Connections("alice")) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHandler_AbruptDisconnectAlsoCleansUp(t *testing.T) {
	registry, _, srv := newHandlerFixture(t)
	client := dial(t, srv, "bob-token")

	require.Eventually(t, func() bool {
		return len(registry.Connections("bob")) == 1
	}, time.Second, 10*time.Millisecond)

	// Kill the TCP connection without a close handshake.
	require.NoError(t, client.UnderlyingConn().Close())

	require.Eventually(t, func() bool {
		return len(registry.Connections("bob")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
