package types

import "encoding/json"

const (
	WireEventAuthenticate = "authenticate"
	WireEventChat         = "chat message"
	WireEventRoom         = "room"
	WireEventPrivate      = "private message"
	WireEventInfo         = "info"
	WireEventChats        = "chats"
	WireEventRoomChats    = "room chats"
)

// JSON-serialized WebsocketMessage is what is actually sent via the Websocket connection
type WebsocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewWireMessage wraps data into the websocket envelope for the given event.
func NewWireMessage(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WebsocketMessage{Event: event, Data: raw})
}

// The different types of messages transferred from the client to here.

// AuthenticateMessage binds the authenticated user identity to the connection
type AuthenticateMessage struct {
	User string `json:"user" mapstructure:"user"`
}

// RoomRequest asks for the durable room of a participant pair
type RoomRequest struct {
	Users []string `json:"users" mapstructure:"users"`
}

// RoomResponse carries the assigned room id, empty if the assignment failed
type RoomResponse struct {
	RoomId string `json:"room_id"`
}

// InfoMessage is broadcast whenever the set of connections changes
type InfoMessage struct {
	OnlineUsers   []string `json:"online_users"`
	NoConnections int      `json:"no_connections"`
}
