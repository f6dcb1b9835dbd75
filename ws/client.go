package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mitchellh/mapstructure"
	"github.com/socialnet/socialnet-chat/globals"
	"github.com/socialnet/socialnet-chat/types"
)

const sendChannelSize = 1000

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan []byte

	// ConnectionId identifies this live connection in room live-connection
	// sets.
	ConnectionId string

	guestNick string

	mu       sync.RWMutex
	username string

	doneChan chan struct{}

	// WaitGroup which keeps track of running read/write loops and write access to Send. If the WaitGroup is done,
	// it is safe to close all channels (all loops are done and there are no more write operations on the channels)
	sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn, guestNick string, doneChan chan struct{}) *Client {
	return &Client{
		hub:          hub,
		conn:         conn,
		Send:         make(chan []byte, sendChannelSize),
		ConnectionId: uuid.NewString(),
		guestNick:    guestNick,
		doneChan:     doneChan,
	}
}

// Username returns the authenticated user, or "" before authentication.
func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// Nick is the display name used as message sender: the authenticated user, or
// the guest nick.
func (c *Client) Nick() string {
	if username := c.Username(); username != "" {
		return username
	}
	return c.guestNick
}

// trySend queues data for the write loop without ever blocking the caller. If
// the client cannot keep up and its buffer is full, the message is dropped for
// this client.
func (c *Client) trySend(data []byte) {
	select {
	case c.Send <- data:
	default:
		globals.AppLogger.Warn("send buffer full, dropping message", "connection", c.ConnectionId)
	}
}

// deliver queues data while making sure the client is still registered (the
// Send channel is closed after unregistration).
func (c *Client) deliver(data []byte) {
	c.hub.RLock()
	if _, ok := c.hub.clients[c]; ok {
		c.trySend(data)
	}
	c.hub.RUnlock()
}

// SendHistory replays the recent global log to this client.
func (c *Client) SendHistory(messages []types.Message, wg *sync.WaitGroup) {
	if wg != nil {
		defer wg.Done()
	}
	c.sendBatch(types.WireEventChats, messages)
}

// SendRoomHistory replays the recent room log after a room assignment.
func (c *Client) SendRoomHistory(messages []types.Message) {
	c.sendBatch(types.WireEventRoomChats, messages)
}

func (c *Client) sendBatch(event string, messages []types.Message) {
	if len(messages) == 0 {
		return
	}
	data, err := types.NewWireMessage(event, messages)
	if err != nil {
		globals.AppLogger.Error("could not marshal history", "error", err)
		return
	}
	c.deliver(data)
}

// ReadLoop pumps messages from the websocket connection to the hub.
//
// The application runs ReadLoop in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadLoop() {
	defer func() {
		c.conn.Close()
		close(c.doneChan)
		c.Done()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	message := &types.WebsocketMessage{}
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				globals.AppLogger.Debug("ws closed unexpected", "error", err)
			}
			return
		}

		err = json.Unmarshal(raw, &message)
		if err != nil {
			globals.AppLogger.Error("could not unmarshal ws message", "error", err)
			return
		}

		switch message.Event {
		case types.WireEventAuthenticate:
			c.handleAuthenticate(message.Data)

		case types.WireEventChat:
			c.handleChat(message.Data)

		case types.WireEventRoom:
			c.handleRoomRequest(message.Data)

		case types.WireEventPrivate:
			c.handlePrivate(message.Data)

		default:
			globals.AppLogger.Warn("unknown ws event", "event", message.Event)
		}
	}
}

func (c *Client) handleAuthenticate(data json.RawMessage) {
	authMsg := types.AuthenticateMessage{}
	if !c.decode(data, &authMsg) {
		return
	}
	if authMsg.User == "" {
		return
	}
	c.mu.Lock()
	c.username = authMsg.User
	c.mu.Unlock()
	c.hub.Presence.MarkOnline(authMsg.User)
	go c.hub.SendInfo(c.hub.GetInfo())
}

func (c *Client) handleChat(data json.RawMessage) {
	chatMsg := types.Message{}
	if !c.decode(data, &chatMsg) {
		return
	}
	chatMsg.Sender = c.Nick()
	chatMsg.Timestamp = time.Now()
	chatMsg.RoomId = ""
	c.hub.BroadcastChat <- &chatMsg
}

func (c *Client) handleRoomRequest(data json.RawMessage) {
	roomReq := types.RoomRequest{}
	if !c.decode(data, &roomReq) {
		return
	}
	resp := types.RoomResponse{}
	// room requests require an authenticated identity, and self-pairing is
	// rejected here, not in the resolver
	if username := c.Username(); username != "" && !isSelfPair(roomReq.Users) {
		roomId, err := c.hub.Rooms.Resolve(roomReq.Users, c.ConnectionId)
		if err != nil {
			globals.AppLogger.Error("could not resolve room", "users", roomReq.Users, "error", err)
		} else {
			resp.RoomId = roomId
		}
	}
	// an empty room id tells the requester the assignment failed
	data, err := types.NewWireMessage(types.WireEventRoom, resp)
	if err != nil {
		globals.AppLogger.Error("could not marshal room response", "error", err)
		return
	}
	c.deliver(data)
	if resp.RoomId != "" {
		c.SendRoomHistory(c.hub.GetRoomHistory(resp.RoomId))
	}
}

func (c *Client) handlePrivate(data json.RawMessage) {
	// guests only take part in the public channel
	if c.Username() == "" {
		return
	}
	privMsg := types.Message{}
	if !c.decode(data, &privMsg) {
		return
	}
	if privMsg.RoomId == "" {
		return
	}
	if _, ok := c.hub.Rooms.Room(privMsg.RoomId); !ok {
		globals.AppLogger.Warn("private message for unknown room", "room", privMsg.RoomId)
		return
	}
	privMsg.Sender = c.Nick()
	privMsg.Timestamp = time.Now()
	c.hub.BroadcastRoom <- &privMsg
}

func (c *Client) decode(data json.RawMessage, out interface{}) bool {
	payload := make(map[string]interface{})
	if err := json.Unmarshal(data, &payload); err != nil {
		globals.AppLogger.Error("could not unmarshal ws payload", "error", err)
		return false
	}
	if err := mapstructure.WeakDecode(payload, out); err != nil {
		globals.AppLogger.Error("could not decode ws payload", "error", err)
		return false
	}
	return true
}

func isSelfPair(users []string) bool {
	for i, a := range users {
		for _, b := range users[i+1:] {
			if a == b {
				return true
			}
		}
	}
	return false
}

// WriteLoop pumps messages from the hub to the websocket connection.
//
// A goroutine running WriteLoop is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.Done()
	}()
	for {
		select {
		case <-c.doneChan:
			return
		default:
		}
		select {
		case message, ok := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.doneChan:
			return
		}
	}
}
