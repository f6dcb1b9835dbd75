package persistence

import (
	"testing"
	"time"

	"github.com/socialnet/socialnet-chat/config"
	"github.com/socialnet/socialnet-chat/types"
	"github.com/stretchr/testify/require"
)

func newBuntPersister(t *testing.T) Persister {
	t.Helper()
	cfg := &config.Config{PersistenceConfig: config.PersistenceConfig{Type: "buntdb", DSN: ":memory:"}}
	p, err := NewBuntPersister(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestBuntUsers(t *testing.T) {
	p := newBuntPersister(t)

	require.ErrorIs(t, p.GetUser(&types.User{Username: "alice"}), ErrNotFound)

	require.NoError(t, p.StoreUser(types.User{Username: "alice", Email: "a@x.com", Friends: types.JSONStringSlice{"bob"}}))
	user := types.User{Username: "alice"}
	require.NoError(t, p.GetUser(&user))
	require.Equal(t, "a@x.com", user.Email)
	require.False(t, user.Online)

	require.NoError(t, p.SetUserOnline("alice", true))
	online, err := p.GetOnlineUsers()
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, online)

	require.NoError(t, p.SetUserOnline("alice", false))
	online, err = p.GetOnlineUsers()
	require.NoError(t, err)
	require.Empty(t, online)

	require.ErrorIs(t, p.SetUserOnline("nobody", true), ErrNotFound)
}

func TestBuntRooms(t *testing.T) {
	p := newBuntPersister(t)

	room := types.Room{
		Id:              "r1",
		ParticipantsKey: types.KeyForParticipants([]string{"bob", "alice"}),
		Participants:    types.JSONStringSlice{"alice", "bob"},
		Connections:     types.JSONStringSlice{"conn1"},
	}
	require.NoError(t, p.StoreRoom(room))

	require.NoError(t, p.AttachConnection("r1", "conn2"))
	require.NoError(t, p.AttachConnection("r1", "conn2")) // idempotent

	got := types.Room{Id: "r1"}
	require.NoError(t, p.GetRoom(&got))
	require.Equal(t, []string{"conn1", "conn2"}, []string(got.Connections))

	require.NoError(t, p.DetachConnection("r1", "conn1"))
	got = types.Room{Id: "r1"}
	require.NoError(t, p.GetRoom(&got))
	require.Equal(t, []string{"conn2"}, []string(got.Connections))

	require.ErrorIs(t, p.AttachConnection("no-such-room", "conn1"), ErrNotFound)

	rooms, err := p.GetRooms()
	require.NoError(t, err)
	require.Len(t, rooms, 1)
}

func TestBuntHistory(t *testing.T) {
	p := newBuntPersister(t)

	now := time.Now()
	for _, content := range []string{"one", "two", "three"} {
		require.NoError(t, p.AppendMessage(types.Message{Sender: "alice", Timestamp: now, Content: content}))
	}

	messages, err := p.GetChatHistory(0)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	require.Equal(t, "one", messages[0].Content)
	require.Equal(t, "two", messages[1].Content)
	require.Equal(t, "three", messages[2].Content)

	// a positive limit keeps the most recent messages, still in order
	messages, err = p.GetChatHistory(2)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, "two", messages[0].Content)
	require.Equal(t, "three", messages[1].Content)
}

func TestBuntRoomHistory(t *testing.T) {
	p := newBuntPersister(t)

	require.ErrorIs(t, p.AppendRoomMessage("r1", types.Message{Content: "lost"}), ErrNotFound)
	_, err := p.GetRoomHistory("r1", 0)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, p.StoreRoom(types.Room{Id: "r1", Participants: types.JSONStringSlice{"alice", "bob"}}))
	require.NoError(t, p.StoreRoom(types.Room{Id: "r2", Participants: types.JSONStringSlice{"alice", "carol"}}))

	for _, content := range []string{"one", "two", "three"} {
		require.NoError(t, p.AppendRoomMessage("r1", types.Message{Sender: "alice", Timestamp: time.Now(), Content: content}))
	}
	require.NoError(t, p.AppendRoomMessage("r2", types.Message{Sender: "alice", Timestamp: time.Now(), Content: "elsewhere"}))

	messages, err := p.GetRoomHistory("r1", 0)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	for i, content := range []string{"one", "two", "three"} {
		require.Equal(t, content, messages[i].Content)
		require.Equal(t, "r1", messages[i].RoomId)
	}

	messages, err = p.GetRoomHistory("r2", 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
}
