package ws

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/socialnet/socialnet-chat/config"
	"github.com/socialnet/socialnet-chat/globals"
	"github.com/socialnet/socialnet-chat/notify"
	"github.com/socialnet/socialnet-chat/persistence"
	"github.com/socialnet/socialnet-chat/presence"
	"github.com/socialnet/socialnet-chat/rooms"
	"github.com/socialnet/socialnet-chat/types"
)

const (
	maxMessageSize       = 4096
	pongWait             = 2 * time.Minute
	pingPeriod           = time.Minute
	writeWait            = 10 * time.Second
	broadcastChannelSize = 1000
	historyChannelSize   = 1000

	// periodic presence refresh for clients that missed an info broadcast
	presenceInfoSchedule = "@every 1m"
)

// Hub is the message relay. One run loop serializes all sends, which gives
// per-room arrival order; the history worker is the only goroutine appending
// to the store, so the persisted order matches the delivered order.
type Hub struct {
	// Registered clients.
	clients map[*Client]struct{}

	// Clients by connection id, for room-scoped multicast.
	byConnId map[string]*Client

	// Broadcast raw payloads to all clients.
	Broadcast chan []byte

	// Public chat messages: deliver to everyone, then append to the global log.
	BroadcastChat chan *types.Message

	// Private messages: deliver to the target room's live connections, append
	// to the room log, then notify the other participants.
	BroadcastRoom chan *types.Message

	// Register a new client to the hub.
	Register chan *Client

	// Unregister a client from the hub.
	Unregister chan *Client

	history chan *types.Message

	// global configuration
	Cfg *config.Config

	// persistence
	Persister persistence.Persister

	Rooms    *rooms.Resolver
	Presence *presence.Registry
	Notifier *notify.Dispatcher

	// mutex for manipulating the clients
	sync.RWMutex
}

func NewHub(cfg *config.Config, persister persistence.Persister, resolver *rooms.Resolver, registry *presence.Registry, notifier *notify.Dispatcher) *Hub {
	return &Hub{
		clients:       make(map[*Client]struct{}),
		byConnId:      make(map[string]*Client),
		Broadcast:     make(chan []byte, broadcastChannelSize),
		BroadcastChat: make(chan *types.Message, broadcastChannelSize),
		BroadcastRoom: make(chan *types.Message, broadcastChannelSize),
		Register:      make(chan *Client),
		Unregister:    make(chan *Client),
		history:       make(chan *types.Message, historyChannelSize),
		Cfg:           cfg,
		Persister:     persister,
		Rooms:         resolver,
		Presence:      registry,
		Notifier:      notifier,
	}
}

// NoClients returns the number of clients registered
func (h *Hub) NoClients() int {
	h.RLock()
	defer h.RUnlock()
	return len(h.clients)
}

// Run is the main hub event loop handling register, unregister and broadcast events.
func (h *Hub) Run() {
	go h.runHistory()

	cronRunner := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := cronRunner.AddFunc(presenceInfoSchedule, func() {
		h.SendInfo(h.GetInfo())
	})
	if err != nil {
		panic(err)
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	for {
		select {
		case client := <-h.Register:
			globals.AppLogger.Debug("register new client", "connection", client.ConnectionId)
			h.Lock()
			h.clients[client] = struct{}{}
			h.byConnId[client.ConnectionId] = client
			h.Unlock()
			go h.SendInfo(h.GetInfo())

		case client := <-h.Unregister:
			go h.teardown(client)

		case message := <-h.Broadcast:
			h.RLock()
			for client := range h.clients {
				client.trySend(message)
			}
			h.RUnlock()

		case message := <-h.BroadcastChat:
			data, err := types.NewWireMessage(types.WireEventChat, message)
			if err != nil {
				globals.AppLogger.Error("could not marshal chat message", "error", err)
				continue
			}
			h.RLock()
			for client := range h.clients {
				client.trySend(data)
			}
			h.RUnlock()
			// broadcast precedes the persistence acknowledgment, a failed
			// append never retracts a delivered message
			h.queueHistory(message)

		case message := <-h.BroadcastRoom:
			data, err := types.NewWireMessage(types.WireEventPrivate, message)
			if err != nil {
				globals.AppLogger.Error("could not marshal private message", "error", err)
				continue
			}
			conns := h.Rooms.Connections(message.RoomId)
			h.RLock()
			for _, connId := range conns {
				if client, ok := h.byConnId[connId]; ok {
					client.trySend(data)
				}
			}
			h.RUnlock()
			h.queueHistory(message)
			if h.Notifier != nil {
				h.Notifier.Dispatch(message.Sender, message.RoomId)
			}
		}
	}
}

// queueHistory hands a delivered message to the history worker without ever
// blocking the run loop. If the store stalls and the buffer fills, the message
// is dropped from the log, delivery is unaffected.
func (h *Hub) queueHistory(message *types.Message) {
	select {
	case h.history <- message:
	default:
		globals.AppLogger.Warn("history buffer full, dropping message", "room", message.RoomId)
	}
}

// runHistory drains the history channel into the store. Appends happen here
// only, so the log order is the arrival order; failures are logged and the
// history stays incomplete for that message.
func (h *Hub) runHistory() {
	for message := range h.history {
		if h.Persister == nil {
			continue
		}
		var err error
		if message.RoomId == "" {
			err = h.Persister.AppendMessage(*message)
		} else {
			err = h.Persister.AppendRoomMessage(message.RoomId, *message)
		}
		if err != nil {
			globals.AppLogger.Error("could not persist chat message", "room", message.RoomId, "error", err)
		}
	}
}

// teardown removes a client from the hub and runs the disconnect sequence:
// close the connection, wait for in-flight writes, close the channels, detach
// from all rooms and mark the user offline.
func (h *Hub) teardown(client *Client) {
	h.RLock()
	if _, ok := h.clients[client]; !ok {
		h.RUnlock()
		return
	}
	h.RUnlock()
	globals.AppLogger.Debug("unregister client", "connection", client.ConnectionId)

	h.Lock()
	delete(h.clients, client)
	delete(h.byConnId, client.ConnectionId)
	client.conn.Close()
	// wait for all loops and write operations to be finished, then it is safe
	// to close the send channel
	client.Wait()
	close(client.Send)
	h.Unlock()

	h.Rooms.Detach(client.ConnectionId)
	if username := client.Username(); username != "" {
		h.Presence.MarkOffline(username)
	}
	go h.SendInfo(h.GetInfo())
}

func (h *Hub) GetInfo() types.InfoMessage {
	online := h.Presence.OnlineUsers()
	if online == nil {
		online = []string{}
	}
	return types.InfoMessage{
		OnlineUsers:   online,
		NoConnections: h.NoClients(),
	}
}

// SendInfo broadcasts hub statistics to all clients.
func (h *Hub) SendInfo(info types.InfoMessage) {
	data, err := types.NewWireMessage(types.WireEventInfo, info)
	if err != nil {
		globals.AppLogger.Error("could not marshal info", "error", err)
		return
	}
	h.Broadcast <- data
}

// GetChatHistory fetches the recent global log for replay to a new client.
func (h *Hub) GetChatHistory() []types.Message {
	if h.Persister == nil {
		return nil
	}
	messages, err := h.Persister.GetChatHistory(h.Cfg.HistoryConfig.Size())
	if err != nil {
		globals.AppLogger.Error("could not load chat history", "error", err)
		return nil
	}
	return messages
}

// GetRoomHistory fetches the recent room log for replay after a room
// assignment.
func (h *Hub) GetRoomHistory(roomId string) []types.Message {
	if h.Persister == nil {
		return nil
	}
	messages, err := h.Persister.GetRoomHistory(roomId, h.Cfg.HistoryConfig.RoomSize())
	if err != nil {
		globals.AppLogger.Error("could not load room history", "room", roomId, "error", err)
		return nil
	}
	return messages
}
