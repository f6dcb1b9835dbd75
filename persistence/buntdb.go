package persistence

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/socialnet/socialnet-chat/config"
	"github.com/socialnet/socialnet-chat/types"
	"github.com/tidwall/buntdb"
)

type BuntDBPersist struct {
	db  *buntdb.DB
	seq uint64
}

func NewBuntPersister(cfg *config.Config) (Persister, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, nil // no or wrong configuration, ignore the persister
	}
	db, err := buntdb.Open(cfg.PersistenceConfig.DSN)
	if err != nil {
		return nil, err
	}
	// message keys are zero-padded so lexical key order is insertion order
	return &BuntDBPersist{db: db, seq: uint64(time.Now().UnixNano())}, nil
}

func (p *BuntDBPersist) nextSeq() uint64 {
	return atomic.AddUint64(&p.seq, 1)
}

func buntErr(err error) error {
	if err == buntdb.ErrNotFound {
		return ErrNotFound
	}
	return err
}

func (p *BuntDBPersist) StoreUser(user types.User) error {
	u, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set("user:"+user.Username, string(u), nil)
		return err
	})
}

func (p *BuntDBPersist) GetUser(user *types.User) error {
	if user.Username == "" {
		return ErrNotFound
	}
	return p.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get("user:" + user.Username)
		if err != nil {
			return buntErr(err)
		}
		return json.Unmarshal([]byte(val), user)
	})
}

func (p *BuntDBPersist) GetUsers() ([]*types.User, error) {
	users := make([]*types.User, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		var innerErr error
		err := tx.AscendKeys("user:*", func(key, val string) bool {
			user := types.User{}
			if innerErr = json.Unmarshal([]byte(val), &user); innerErr != nil {
				return false
			}
			users = append(users, &user)
			return true
		})
		if err != nil {
			return err
		}
		return innerErr
	})
	return users, err
}

func (p *BuntDBPersist) DeleteUser(user *types.User) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete("user:" + user.Username)
		return buntErr(err)
	})
}

func (p *BuntDBPersist) SetUserOnline(username string, online bool) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		val, err := tx.Get("user:" + username)
		if err != nil {
			return buntErr(err)
		}
		user := types.User{}
		if err := json.Unmarshal([]byte(val), &user); err != nil {
			return err
		}
		user.Online = online
		if !online {
			user.LastOnline = time.Now()
		}
		u, err := json.Marshal(user)
		if err != nil {
			return err
		}
		_, _, err = tx.Set("user:"+username, string(u), nil)
		return err
	})
}

func (p *BuntDBPersist) GetOnlineUsers() ([]string, error) {
	usernames := make([]string, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		var innerErr error
		err := tx.AscendKeys("user:*", func(key, val string) bool {
			user := types.User{}
			if innerErr = json.Unmarshal([]byte(val), &user); innerErr != nil {
				return false
			}
			if user.Online {
				usernames = append(usernames, user.Username)
			}
			return true
		})
		if err != nil {
			return err
		}
		return innerErr
	})
	return usernames, err
}

func (p *BuntDBPersist) StoreRoom(room types.Room) error {
	room.Messages = nil // the room log is stored under separate keys
	r, err := json.Marshal(room)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set("room:"+room.Id, string(r), nil)
		return err
	})
}

func (p *BuntDBPersist) GetRoom(room *types.Room) error {
	if room.Id == "" {
		return ErrNotFound
	}
	return p.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get("room:" + room.Id)
		if err != nil {
			return buntErr(err)
		}
		return json.Unmarshal([]byte(val), room)
	})
}

func (p *BuntDBPersist) GetRooms() ([]*types.Room, error) {
	rooms := make([]*types.Room, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		var innerErr error
		err := tx.AscendKeys("room:*", func(key, val string) bool {
			room := types.Room{}
			if innerErr = json.Unmarshal([]byte(val), &room); innerErr != nil {
				return false
			}
			rooms = append(rooms, &room)
			return true
		})
		if err != nil {
			return err
		}
		return innerErr
	})
	return rooms, err
}

func (p *BuntDBPersist) DeleteRoom(room *types.Room) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete("room:" + room.Id)
		return buntErr(err)
	})
}

func (p *BuntDBPersist) AttachConnection(roomId, connId string) error {
	return p.updateConnections(roomId, func(conns []string) []string {
		for _, id := range conns {
			if id == connId {
				return conns
			}
		}
		return append(conns, connId)
	})
}

func (p *BuntDBPersist) DetachConnection(roomId, connId string) error {
	return p.updateConnections(roomId, func(conns []string) []string {
		keep := conns[:0]
		for _, id := range conns {
			if id != connId {
				keep = append(keep, id)
			}
		}
		return keep
	})
}

func (p *BuntDBPersist) updateConnections(roomId string, update func([]string) []string) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		val, err := tx.Get("room:" + roomId)
		if err != nil {
			return buntErr(err)
		}
		room := types.Room{}
		if err := json.Unmarshal([]byte(val), &room); err != nil {
			return err
		}
		room.Connections = update(room.Connections)
		r, err := json.Marshal(room)
		if err != nil {
			return err
		}
		_, _, err = tx.Set("room:"+roomId, string(r), nil)
		return err
	})
}

func (p *BuntDBPersist) AppendMessage(message types.Message) error {
	message.RoomId = ""
	return p.appendMessage(fmt.Sprintf("chat:%020d", p.nextSeq()), message)
}

func (p *BuntDBPersist) AppendRoomMessage(roomId string, message types.Message) error {
	message.RoomId = roomId
	return p.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Get("room:" + roomId); err != nil {
			return buntErr(err)
		}
		m, err := json.Marshal(message)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(fmt.Sprintf("roommsg:%s:%020d", roomId, p.nextSeq()), string(m), nil)
		return err
	})
}

func (p *BuntDBPersist) appendMessage(key string, message types.Message) error {
	m, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(m), nil)
		return err
	})
}

func (p *BuntDBPersist) GetChatHistory(limit int) ([]types.Message, error) {
	return p.getHistory("chat:*", limit)
}

func (p *BuntDBPersist) GetRoomHistory(roomId string, limit int) ([]types.Message, error) {
	if err := p.GetRoom(&types.Room{Id: roomId}); err != nil {
		return nil, err
	}
	return p.getHistory("roommsg:"+roomId+":*", limit)
}

func (p *BuntDBPersist) getHistory(pattern string, limit int) ([]types.Message, error) {
	messages := make([]types.Message, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		var innerErr error
		err := tx.AscendKeys(pattern, func(key, val string) bool {
			message := types.Message{}
			if innerErr = json.Unmarshal([]byte(val), &message); innerErr != nil {
				return false
			}
			messages = append(messages, message)
			return true
		})
		if err != nil {
			return err
		}
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return tailMessages(messages, limit), nil
}

func (p *BuntDBPersist) Close() error {
	return p.db.Close()
}
