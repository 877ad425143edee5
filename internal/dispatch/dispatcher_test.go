package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatwire/internal/broadcast"
	"chatwire/internal/logging"
	"chatwire/internal/room"
	"chatwire/internal/websocket"
	"chatwire/pkg/interfaces"
	"chatwire/pkg/types"
)

type fakeStore struct {
	interfaces.ChatStore

	mu           sync.Mutex
	participants map[string][]string
	saved        []*types.Message
	saveErr      error
}

func (f *fakeStore) GetRoomParticipants(_ context.Context, roomID string) ([]string, error) {
	members, ok := f.participants[roomID]
	if !ok {
		return nil, interfaces.ErrRoomNotFound
	}
	return members, nil
}

func (f *fakeStore) IsParticipant(_ context.Context, roomID, userID string) (bool, error) {
	members, ok := f.participants[roomID]
	if !ok {
		return false, interfaces.ErrRoomNotFound
	}
	for _, member := range members {
		if member == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) SaveMessage(_ context.Context, senderID, roomID, content string) (*types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	msg := &types.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		SenderID:  senderID,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	f.saved = append(f.saved, msg)
	return msg, nil
}

func (f *fakeStore) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type fakeDirectory struct {
	names map[string]string
}

func (f *fakeDirectory) GetDisplayName(_ context.Context, userID string) (string, error) {
	name, ok := f.names[userID]
	if !ok {
		return "", interfaces.ErrUserNotFound
	}
	return name, nil
}

type fixture struct {
	dispatcher *Dispatcher
	registry   *websocket.Registry
	store      *fakeStore
}

func newFixture(t *testing.T, participants map[string][]string) *fixture {
	t.Helper()
	store := &fakeStore{participants: participants}
	directory := &fakeDirectory{names: map[string]string{
		"alice": "Alice",
		"bob":   "Bob",
		"carol": "Carol",
	}}
	registry := websocket.NewRegistry(logging.NewNop())
	resolver := room.NewResolver(store, logging.NewNop())
	broadcaster := broadcast.NewBroadcaster(registry, resolver, logging.NewNop())
	return &fixture{
		dispatcher: NewDispatcher(store, directory, broadcaster, logging.NewNop()),
		registry:   registry,
		store:      store,
	}
}

// connect registers a live server-side connection and returns both the handle
// (to feed frames into the dispatcher) and the client end (to observe what
// the user would see).
func (f *fixture) connect(t *testing.T, userID string) (*websocket.Connection, *ws.Conn) {
	t.Helper()

	serverCh := make(chan *ws.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		sock, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("test upgrade failed: %v", err)
			return
		}
		serverCh <- sock
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	conn := websocket.NewConnection(<-serverCh, userID, websocket.DefaultOptions(), logging.NewNop())
	t.Cleanup(func() { _ = conn.Close() })
	f.registry.Add(userID, conn)
	return conn, client
}

func readJSON(t *testing.T, client *ws.Conn) map[string]any {
	t.Helper()
	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	return decoded
}

func assertNoFrame(t *testing.T, client *ws.Conn) {
	t.Helper()
	require.NoError(t, client.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err := client.ReadMessage()
	require.Error(t, err)
}

func chatFrame(roomID, content string) []byte {
	return []byte(fmt.Sprintf(`{"type":"message","chatRoomId":%q,"content":%q}`, roomID, content))
}

func TestDispatcher_ChatMessagePersistedThenBroadcast(t *testing.T) {
	f := newFixture(t, map[string][]string{"r1": {"alice", "bob", "carol"}})
	aliceConn, aliceClient := f.connect(t, "alice")
	_, bobClient := f.connect(t, "bob")
	_, carolClient := f.connect(t, "carol")

	f.dispatcher.HandleFrame(context.Background(), aliceConn, chatFrame("r1", "hi"))

	for _, client := range []*ws.Conn{bobClient, carolClient} {
		frame := readJSON(t, client)
		assert.Equal(t, "message", frame["type"])
		assert.Equal(t, "r1", frame["chatRoomId"])
		assert.Equal(t, "alice", frame["senderId"])
		assert.Equal(t, "Alice", frame["senderName"])
		assert.Equal(t, "hi", frame["content"])
		assert.NotEmpty(t, frame["timestamp"])
	}

	assertNoFrame(t, aliceClient)
	assert.Equal(t, 1, f.store.savedCount())
}

func TestDispatcher_MalformedFrameAnswersSenderOnly(t *testing.T) {
	f := newFixture(t, map[string][]string{"r1": {"alice", "bob"}})
	aliceConn, aliceClient := f.connect(t, "alice")
	_, bobClient := f.connect(t, "bob")

	f.dispatcher.HandleFrame(context.Background(), aliceConn, []byte(`{not json`))

	frame := readJSON(t, aliceClient)
	assert.Equal(t, "error", frame["type"])
	assertNoFrame(t, bobClient)
	assert.Zero(t, f.store.savedCount())

	// The connection survives a bad frame.
	f.dispatcher.HandleFrame(context.Background(), aliceConn, chatFrame("r1", "still here"))
	assert.Equal(t, "still here", readJSON(t, bobClient)["content"])
}

func TestDispatcher_EmptyContentRejected(t *testing.T) {
	f := newFixture(t, map[string][]string{"r1": {"alice", "bob"}})
	aliceConn, aliceClient := f.connect(t, "alice")

	f.dispatcher.HandleFrame(context.Background(), aliceConn, chatFrame("r1", ""))

	frame := readJSON(t, aliceClient)
	assert.Equal(t, "error", frame["type"])
	assert.Contains(t, frame["message"], "content")
	assert.Zero(t, f.store.savedCount())
}

func TestDispatcher_UnknownFrameTypeRejected(t *testing.T) {
	f := newFixture(t, map[string][]string{"r1": {"alice"}})
	aliceConn, aliceClient := f.connect(t, "alice")

	f.dispatcher.HandleFrame(context.Background(), aliceConn,
		[]byte(`{"type":"teleport","chatRoomId":"r1"}`))

	frame := readJSON(t, aliceClient)
	assert.Equal(t, "error", frame["type"])
	assert.Contains(t, frame["message"], "unsupported")
}

func TestDispatcher_UnknownRoomNotifiesSender(t *testing.T) {
	f := newFixture(t, map[string][]string{})
	aliceConn, aliceClient := f.connect(t, "alice")

	f.dispatcher.HandleFrame(context.Background(), aliceConn, chatFrame("ghost", "anyone?"))

	frame := readJSON(t, aliceClient)
	assert.Equal(t, "error", frame["type"])
	assert.Contains(t, frame["message"], "room not found")
	assert.Zero(t, f.store.savedCount())
}

func TestDispatcher_NonParticipantRejected(t *testing.T) {
	f := newFixture(t, map[string][]string{"r1": {"alice", "bob"}})
	daveConn, daveClient := f.connect(t, "dave")
	_, bobClient := f.connect(t, "bob")

	f.dispatcher.HandleFrame(context.Background(), daveConn, chatFrame("r1", "let me in"))

	frame := readJSON(t, daveClient)
	assert.Equal(t, "error", frame["type"])
	assert.Contains(t, frame["message"], "participant")
	assertNoFrame(t, bobClient)
	assert.Zero(t, f.store.savedCount())
}

func TestDispatcher_SaveFailureIsNotBroadcast(t *testing.T) {
	f := newFixture(t, map[string][]string{"r1": {"alice", "bob"}})
	f.store.saveErr = fmt.Errorf("disk full")
	aliceConn, aliceClient := f.connect(t, "alice")
	_, bobClient := f.connect(t, "bob")

	f.dispatcher.HandleFrame(context.Background(), aliceConn, chatFrame("r1", "hi"))

	frame := readJSON(t, aliceClient)
	assert.Equal(t, "error", frame["type"])
	assert.Contains(t, frame["message"], "saved")
	assertNoFrame(t, bobClient)
}

func TestDispatcher_TypingIsEphemeral(t *testing.T) {
	f := newFixture(t, map[string][]string{"r1": {"alice", "bob"}})
	aliceConn, aliceClient := f.connect(t, "alice")
	_, bobClient := f.connect(t, "bob")

	f.dispatcher.HandleFrame(context.Background(), aliceConn,
		[]byte(`{"type":"typing","chatRoomId":"r1"}`))

	frame := readJSON(t, bobClient)
	assert.Equal(t, "typing", frame["type"])
	assert.Equal(t, "r1", frame["chatRoomId"])
	assert.Equal(t, "alice", frame["userId"])
	assert.Equal(t, "Alice", frame["userName"])
	assert.Zero(t, f.store.savedCount())
	assertNoFrame(t, aliceClient)

	f.dispatcher.HandleFrame(context.Background(), aliceConn,
		[]byte(`{"type":"stop_typing","chatRoomId":"r1"}`))
	assert.Equal(t, "stop_typing", readJSON(t, bobClient)["type"])
}

func TestDispatcher_FloodingSenderIsRateLimited(t *testing.T) {
	f := newFixture(t, map[string][]string{"r1": {"alice", "bob"}})
	f.dispatcher.limits = newRateLimiter(2, time.Minute)
	aliceConn, aliceClient := f.connect(t, "alice")
	_, bobClient := f.connect(t, "bob")

	for i := 0; i < 3; i++ {
		f.dispatcher.HandleFrame(context.Background(), aliceConn,
			chatFrame("r1", fmt.Sprintf("msg %d", i)))
	}

	assert.Equal(t, "msg 0", readJSON(t, bobClient)["content"])
	assert.Equal(t, "msg 1", readJSON(t, bobClient)["content"])
	assertNoFrame(t, bobClient)

	frame := readJSON(t, aliceClient)
	assert.Equal(t, "error", frame["type"])
	assert.Contains(t, frame["message"], "rate limit")

	// Nothing past the limit reaches the store.
	assert.Equal(t, 2, f.store.savedCount())
}

func TestDispatcher_AuthorizeSentinels(t *testing.T) {
	f := newFixture(t, map[string][]string{"r1": {"alice", "bob"}})

	err := f.dispatcher.authorize(context.Background(),
		&InboundEvent{Kind: EventChatMessage, SenderID: "dave", RoomID: "r1"})
	assert.ErrorIs(t, err, ErrNotParticipant)

	err = f.dispatcher.authorize(context.Background(),
		&InboundEvent{Kind: EventChatMessage, SenderID: "alice", RoomID: "ghost"})
	assert.ErrorIs(t, err, interfaces.ErrRoomNotFound)

	assert.NoError(t, f.dispatcher.authorize(context.Background(),
		&InboundEvent{Kind: EventChatMessage, SenderID: "alice", RoomID: "r1"}))
}

func TestDispatcher_DisplayNameFallsBackToID(t *testing.T) {
	f := newFixture(t, map[string][]string{"r1": {"zed", "bob"}})
	zedConn, _ := f.connect(t, "zed") // no directory entry
	_, bobClient := f.connect(t, "bob")

	f.dispatcher.HandleFrame(context.Background(), zedConn, chatFrame("r1", "yo"))

	frame := readJSON(t, bobClient)
	assert.Equal(t, "zed", frame["senderName"])
}
