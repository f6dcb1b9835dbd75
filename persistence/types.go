package persistence

import (
	"errors"
	"fmt"

	"github.com/socialnet/socialnet-chat/config"
	"github.com/socialnet/socialnet-chat/types"
)

// ErrNotFound is returned by lookup operations when no matching record exists.
var ErrNotFound = errors.New("record not found")

// Persister is the persistent store collaborator. It covers the three logical
// collections: users (presence/e-mail), global chat messages and rooms
// (participants, live connections, room message log). Message appends are the
// only mutations on the logs, there is no update or delete.
type Persister interface {
	StoreUser(types.User) error
	GetUser(*types.User) error
	GetUsers() ([]*types.User, error)
	DeleteUser(*types.User) error
	SetUserOnline(username string, online bool) error
	GetOnlineUsers() ([]string, error)

	StoreRoom(types.Room) error
	GetRoom(*types.Room) error
	GetRooms() ([]*types.Room, error)
	DeleteRoom(*types.Room) error
	AttachConnection(roomId, connId string) error
	DetachConnection(roomId, connId string) error

	AppendMessage(types.Message) error
	AppendRoomMessage(roomId string, message types.Message) error
	GetChatHistory(limit int) ([]types.Message, error)
	GetRoomHistory(roomId string, limit int) ([]types.Message, error)

	Close() error
}

// NewPersister creates the persister selected by the configuration. It returns
// nil (and no error) if no persistence is configured.
func NewPersister(cfg *config.Config) (Persister, error) {
	switch cfg.PersistenceConfig.Type {
	case "mongo":
		return NewMongoPersister(cfg)

	case "sqlite", "postgres":
		return NewGormPersister(cfg)

	case "buntdb":
		return NewBuntPersister(cfg)

	case "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown persistence type %q", cfg.PersistenceConfig.Type)
	}
}
