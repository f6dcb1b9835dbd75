package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/socialnet/socialnet-chat/config"
	"github.com/socialnet/socialnet-chat/directory"
	"github.com/socialnet/socialnet-chat/notify"
	"github.com/socialnet/socialnet-chat/persistence"
	"github.com/socialnet/socialnet-chat/presence"
	"github.com/socialnet/socialnet-chat/rooms"
	"github.com/socialnet/socialnet-chat/types"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

type recordingSender struct {
	mu   sync.Mutex
	sent [][3]string
}

func (s *recordingSender) Send(sender, receiver, receiverEmail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, [3]string{sender, receiver, receiverEmail})
	return nil
}

func (s *recordingSender) mails() [][3]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][3]string(nil), s.sent...)
}

type testEnv struct {
	hub       *Hub
	persister persistence.Persister
	sender    *recordingSender
	server    *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{PersistenceConfig: config.PersistenceConfig{Type: "buntdb", DSN: ":memory:"}}
	persister, err := persistence.NewBuntPersister(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { persister.Close() })

	require.NoError(t, persister.StoreUser(types.User{Username: "alice", Email: "a@x.com"}))
	require.NoError(t, persister.StoreUser(types.User{Username: "bob", Email: "b@x.com"}))
	require.NoError(t, persister.StoreUser(types.User{Username: "zoe", Email: "z@x.com"}))

	logger := hclog.NewNullLogger()
	resolver, err := rooms.NewResolver(persister, logger)
	require.NoError(t, err)
	registry := presence.NewRegistry(persister, logger)
	sender := &recordingSender{}
	notifier := notify.NewDispatcher(resolver, directory.NewDirectory(persister), sender, logger)

	hub := NewHub(cfg, persister, resolver, registry, notifier)
	go hub.Run()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, w, r)
	}))
	t.Cleanup(server.Close)

	return &testEnv{hub: hub, persister: persister, sender: sender, server: server}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	payload, err := types.NewWireMessage(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

// readEvent reads frames until one with the wanted event arrives, skipping
// interleaved info and history broadcasts.
func readEvent(t *testing.T, conn *websocket.Conn, want string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		msg := types.WebsocketMessage{}
		require.NoError(t, json.Unmarshal(raw, &msg))
		if msg.Event == want {
			return msg.Data
		}
	}
}

// waitForConnections reads info broadcasts until the hub reports n live
// connections, which also guarantees this client is registered.
func waitForConnections(t *testing.T, conn *websocket.Conn, n int) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		msg := types.WebsocketMessage{}
		require.NoError(t, json.Unmarshal(raw, &msg))
		if msg.Event != types.WireEventInfo {
			continue
		}
		info := types.InfoMessage{}
		require.NoError(t, json.Unmarshal(msg.Data, &info))
		if info.NoConnections >= n {
			return
		}
	}
}

func authenticate(t *testing.T, conn *websocket.Conn, user string) {
	t.Helper()
	sendEvent(t, conn, types.WireEventAuthenticate, types.AuthenticateMessage{User: user})
}

func TestPublicBroadcast(t *testing.T) {
	env := newTestEnv(t)
	connA := env.dial(t)
	connB := env.dial(t)
	connZ := env.dial(t)
	for _, conn := range []*websocket.Conn{connA, connB, connZ} {
		waitForConnections(t, conn, 3)
	}
	authenticate(t, connA, "alice")

	sendEvent(t, connA, types.WireEventChat, map[string]string{"message": "hello"})

	// delivered to every live connection, including the sender
	for _, conn := range []*websocket.Conn{connA, connB, connZ} {
		data := readEvent(t, conn, types.WireEventChat)
		msg := types.Message{}
		require.NoError(t, json.Unmarshal(data, &msg))
		require.Equal(t, "hello", msg.Content)
		require.Equal(t, "alice", msg.Sender)
		require.Empty(t, msg.RoomId)
	}

	// persisted asynchronously, after the broadcast
	require.Eventually(t, func() bool {
		messages, err := env.persister.GetChatHistory(0)
		return err == nil && len(messages) == 1 && messages[0].Content == "hello"
	}, testTimeout, 10*time.Millisecond)
}

func TestRoomAssignment(t *testing.T) {
	env := newTestEnv(t)
	connA := env.dial(t)
	connB := env.dial(t)
	for _, conn := range []*websocket.Conn{connA, connB} {
		waitForConnections(t, conn, 2)
	}
	authenticate(t, connA, "alice")
	authenticate(t, connB, "bob")

	sendEvent(t, connA, types.WireEventRoom, types.RoomRequest{Users: []string{"alice", "bob"}})
	respA := types.RoomResponse{}
	require.NoError(t, json.Unmarshal(readEvent(t, connA, types.WireEventRoom), &respA))
	require.NotEmpty(t, respA.RoomId)

	// same pair, reversed order, other connection: same room
	sendEvent(t, connB, types.WireEventRoom, types.RoomRequest{Users: []string{"bob", "alice"}})
	respB := types.RoomResponse{}
	require.NoError(t, json.Unmarshal(readEvent(t, connB, types.WireEventRoom), &respB))
	require.Equal(t, respA.RoomId, respB.RoomId)
}

func TestRoomAssignmentRejected(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	waitForConnections(t, conn, 1)
	authenticate(t, conn, "alice")

	// self-pairing yields an absent room id
	sendEvent(t, conn, types.WireEventRoom, types.RoomRequest{Users: []string{"alice", "alice"}})
	resp := types.RoomResponse{}
	require.NoError(t, json.Unmarshal(readEvent(t, conn, types.WireEventRoom), &resp))
	require.Empty(t, resp.RoomId)

	// so does an unauthenticated request
	guest := env.dial(t)
	waitForConnections(t, guest, 2)
	sendEvent(t, guest, types.WireEventRoom, types.RoomRequest{Users: []string{"alice", "bob"}})
	resp = types.RoomResponse{}
	require.NoError(t, json.Unmarshal(readEvent(t, guest, types.WireEventRoom), &resp))
	require.Empty(t, resp.RoomId)
}

func TestPrivateMessageScopedToRoom(t *testing.T) {
	env := newTestEnv(t)
	connA := env.dial(t)
	connB := env.dial(t)
	connZ := env.dial(t)
	for _, conn := range []*websocket.Conn{connA, connB, connZ} {
		waitForConnections(t, conn, 3)
	}
	authenticate(t, connA, "alice")
	authenticate(t, connB, "bob")
	authenticate(t, connZ, "zoe")

	sendEvent(t, connA, types.WireEventRoom, types.RoomRequest{Users: []string{"alice", "bob"}})
	resp := types.RoomResponse{}
	require.NoError(t, json.Unmarshal(readEvent(t, connA, types.WireEventRoom), &resp))
	sendEvent(t, connB, types.WireEventRoom, types.RoomRequest{Users: []string{"bob", "alice"}})
	require.NoError(t, json.Unmarshal(readEvent(t, connB, types.WireEventRoom), &resp))

	// zoe is attached to a different room
	sendEvent(t, connZ, types.WireEventRoom, types.RoomRequest{Users: []string{"zoe", "alice"}})
	otherResp := types.RoomResponse{}
	require.NoError(t, json.Unmarshal(readEvent(t, connZ, types.WireEventRoom), &otherResp))
	require.NotEqual(t, resp.RoomId, otherResp.RoomId)

	sendEvent(t, connA, types.WireEventPrivate, map[string]string{"message": "psst", "room_id": resp.RoomId})

	for _, conn := range []*websocket.Conn{connA, connB} {
		data := readEvent(t, conn, types.WireEventPrivate)
		msg := types.Message{}
		require.NoError(t, json.Unmarshal(data, &msg))
		require.Equal(t, "psst", msg.Content)
		require.Equal(t, "alice", msg.Sender)
		require.Equal(t, resp.RoomId, msg.RoomId)
	}

	// zoe never receives the private message: the next chat frame she sees is
	// the public marker sent afterwards
	sendEvent(t, connA, types.WireEventChat, map[string]string{"message": "marker"})
	deadline := time.Now().Add(testTimeout)
	require.NoError(t, connZ.SetReadDeadline(deadline))
	for {
		_, raw, err := connZ.ReadMessage()
		require.NoError(t, err)
		msg := types.WebsocketMessage{}
		require.NoError(t, json.Unmarshal(raw, &msg))
		require.NotEqual(t, types.WireEventPrivate, msg.Event)
		if msg.Event == types.WireEventChat {
			break
		}
	}

	// exactly one notification, to the other participant's address
	require.Eventually(t, func() bool {
		return len(env.sender.mails()) == 1
	}, testTimeout, 10*time.Millisecond)
	require.Equal(t, [][3]string{{"alice", "bob", "b@x.com"}}, env.sender.mails())
}

func TestGuestCannotSendPrivate(t *testing.T) {
	env := newTestEnv(t)
	connA := env.dial(t)
	connB := env.dial(t)
	guest := env.dial(t)
	for _, conn := range []*websocket.Conn{connA, connB, guest} {
		waitForConnections(t, conn, 3)
	}
	authenticate(t, connA, "alice")
	authenticate(t, connB, "bob")

	sendEvent(t, connA, types.WireEventRoom, types.RoomRequest{Users: []string{"alice", "bob"}})
	resp := types.RoomResponse{}
	require.NoError(t, json.Unmarshal(readEvent(t, connA, types.WireEventRoom), &resp))
	sendEvent(t, connB, types.WireEventRoom, types.RoomRequest{Users: []string{"bob", "alice"}})
	readEvent(t, connB, types.WireEventRoom)

	// a connection that never authenticated cannot inject into the room, even
	// with a valid room id
	sendEvent(t, guest, types.WireEventPrivate, map[string]string{"message": "intruder", "room_id": resp.RoomId})

	// the next frame bob sees from the room scope is the legitimate message
	// sent afterwards
	sendEvent(t, connA, types.WireEventPrivate, map[string]string{"message": "legit", "room_id": resp.RoomId})
	msg := types.Message{}
	require.NoError(t, json.Unmarshal(readEvent(t, connB, types.WireEventPrivate), &msg))
	require.Equal(t, "legit", msg.Content)
	require.Equal(t, "alice", msg.Sender)

	// nothing from the guest ever reached the room log
	require.Eventually(t, func() bool {
		messages, err := env.persister.GetRoomHistory(resp.RoomId, 0)
		return err == nil && len(messages) == 1
	}, testTimeout, 10*time.Millisecond)
	messages, err := env.persister.GetRoomHistory(resp.RoomId, 0)
	require.NoError(t, err)
	require.Equal(t, "legit", messages[0].Content)
}

func TestQueueHistoryNeverBlocks(t *testing.T) {
	hub := NewHub(&config.Config{}, nil, nil, nil, nil)

	// no history worker is draining, so the buffer fills up; the enqueue must
	// drop instead of blocking
	done := make(chan struct{})
	go func() {
		for i := 0; i < historyChannelSize+10; i++ {
			hub.queueHistory(&types.Message{Content: "filler"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatal("history enqueue blocked on a full buffer")
	}
}

func TestRoomHistoryOrder(t *testing.T) {
	env := newTestEnv(t)
	connA := env.dial(t)
	connB := env.dial(t)
	for _, conn := range []*websocket.Conn{connA, connB} {
		waitForConnections(t, conn, 2)
	}
	authenticate(t, connA, "alice")
	authenticate(t, connB, "bob")

	sendEvent(t, connA, types.WireEventRoom, types.RoomRequest{Users: []string{"alice", "bob"}})
	resp := types.RoomResponse{}
	require.NoError(t, json.Unmarshal(readEvent(t, connA, types.WireEventRoom), &resp))

	for _, content := range []string{"one", "two", "three"} {
		sendEvent(t, connA, types.WireEventPrivate, map[string]string{"message": content, "room_id": resp.RoomId})
		// wait for the echo so the three sends arrive in order
		readEvent(t, connA, types.WireEventPrivate)
	}

	require.Eventually(t, func() bool {
		messages, err := env.persister.GetRoomHistory(resp.RoomId, 0)
		return err == nil && len(messages) == 3
	}, testTimeout, 10*time.Millisecond)
	messages, err := env.persister.GetRoomHistory(resp.RoomId, 0)
	require.NoError(t, err)
	for i, content := range []string{"one", "two", "three"} {
		require.Equal(t, content, messages[i].Content)
	}

	// a late join replays the room log in order
	sendEvent(t, connB, types.WireEventRoom, types.RoomRequest{Users: []string{"bob", "alice"}})
	readEvent(t, connB, types.WireEventRoom)
	batch := make([]types.Message, 0)
	require.NoError(t, json.Unmarshal(readEvent(t, connB, types.WireEventRoomChats), &batch))
	require.Len(t, batch, 3)
	require.Equal(t, "one", batch[0].Content)
	require.Equal(t, "three", batch[2].Content)
}

func TestDisconnectMarksOffline(t *testing.T) {
	env := newTestEnv(t)
	connA := env.dial(t)
	connB := env.dial(t)
	for _, conn := range []*websocket.Conn{connA, connB} {
		waitForConnections(t, conn, 2)
	}
	authenticate(t, connA, "alice")
	authenticate(t, connB, "bob")

	require.Eventually(t, func() bool {
		online, err := env.persister.GetOnlineUsers()
		return err == nil && len(online) == 2
	}, testTimeout, 10*time.Millisecond)

	require.NoError(t, connA.Close())

	require.Eventually(t, func() bool {
		online, err := env.persister.GetOnlineUsers()
		return err == nil && len(online) == 1 && online[0] == "bob"
	}, testTimeout, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return env.hub.NoClients() == 1
	}, testTimeout, 10*time.Millisecond)
}
