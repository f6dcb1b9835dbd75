package persistence

import (
	"fmt"
	"time"

	"github.com/socialnet/socialnet-chat/config"
	"github.com/socialnet/socialnet-chat/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormPersist struct {
	db *gorm.DB
}

func NewGormPersister(cfg *config.Config) (Persister, error) {
	db, err := setupGormDB(cfg)
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, nil // no or wrong configuration, ignore the persister
	}
	p := GormPersist{db: db}
	return &p, nil
}

func setupGormDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, nil
	}
	var dial gorm.Dialector
	switch cfg.PersistenceConfig.Type {
	case "postgres":
		dial = postgres.Open(cfg.PersistenceConfig.DSN)

	case "sqlite":
		dial = sqlite.Open(cfg.PersistenceConfig.DSN)

	default:
		return nil, fmt.Errorf("invalid gorm configuration")
	}
	db, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	db.Migrator().AutoMigrate(&types.User{}, &types.Room{}, &types.Message{})
	return db, nil
}

func gormErr(err error) error {
	if err == gorm.ErrRecordNotFound {
		return ErrNotFound
	}
	return err
}

func (p *GormPersist) StoreUser(user types.User) error {
	return p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&user).Error
}

func (p *GormPersist) GetUser(user *types.User) error {
	return gormErr(p.db.First(user).Error)
}

func (p *GormPersist) GetUsers() ([]*types.User, error) {
	users := make([]*types.User, 0)
	err := p.db.Find(&users).Error
	return users, err
}

func (p *GormPersist) DeleteUser(user *types.User) error {
	return p.db.Delete(user).Error
}

func (p *GormPersist) SetUserOnline(username string, online bool) error {
	values := map[string]interface{}{"online": online}
	if !online {
		values["last_online"] = time.Now()
	}
	return p.db.Model(&types.User{}).Where("username = ?", username).Updates(values).Error
}

func (p *GormPersist) GetOnlineUsers() ([]string, error) {
	usernames := make([]string, 0)
	err := p.db.Model(&types.User{}).Where("online = ?", true).Order("username").Pluck("username", &usernames).Error
	return usernames, err
}

func (p *GormPersist) StoreRoom(room types.Room) error {
	return p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&room).Error
}

func (p *GormPersist) GetRoom(room *types.Room) error {
	return gormErr(p.db.First(room).Error)
}

func (p *GormPersist) GetRooms() ([]*types.Room, error) {
	rooms := make([]*types.Room, 0)
	err := p.db.Find(&rooms).Error
	return rooms, err
}

func (p *GormPersist) DeleteRoom(room *types.Room) error {
	return p.db.Delete(room).Error
}

func (p *GormPersist) AttachConnection(roomId, connId string) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		room := types.Room{Id: roomId}
		if err := tx.First(&room).Error; err != nil {
			return gormErr(err)
		}
		for _, id := range room.Connections {
			if id == connId {
				return nil
			}
		}
		conns := append(room.Connections, connId)
		return tx.Model(&room).Update("connections", conns).Error
	})
}

func (p *GormPersist) DetachConnection(roomId, connId string) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		room := types.Room{Id: roomId}
		if err := tx.First(&room).Error; err != nil {
			return gormErr(err)
		}
		conns := room.Connections[:0]
		for _, id := range room.Connections {
			if id != connId {
				conns = append(conns, id)
			}
		}
		return tx.Model(&room).Update("connections", conns).Error
	})
}

func (p *GormPersist) AppendMessage(message types.Message) error {
	message.Seq = 0
	message.RoomId = ""
	return p.db.Create(&message).Error
}

func (p *GormPersist) AppendRoomMessage(roomId string, message types.Message) error {
	message.Seq = 0
	message.RoomId = roomId
	return p.db.Transaction(func(tx *gorm.DB) error {
		room := types.Room{Id: roomId}
		if err := tx.First(&room).Error; err != nil {
			return gormErr(err)
		}
		return tx.Create(&message).Error
	})
}

func (p *GormPersist) GetChatHistory(limit int) ([]types.Message, error) {
	return p.getHistory("", limit)
}

func (p *GormPersist) GetRoomHistory(roomId string, limit int) ([]types.Message, error) {
	return p.getHistory(roomId, limit)
}

// getHistory returns the log in insertion order; a positive limit selects the
// most recent messages.
func (p *GormPersist) getHistory(roomId string, limit int) ([]types.Message, error) {
	messages := make([]types.Message, 0)
	q := p.db.Where("room_id = ?", roomId)
	if limit > 0 {
		err := q.Order("seq DESC").Limit(limit).Find(&messages).Error
		if err != nil {
			return nil, err
		}
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
		return messages, nil
	}
	err := q.Order("seq").Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (p *GormPersist) Close() error {
	return nil
}
