package persistence

import (
	"context"
	"time"

	"github.com/socialnet/socialnet-chat/config"
	"github.com/socialnet/socialnet-chat/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultMongoDatabase = "socialnetwork"
	mongoOpTimeout       = 10 * time.Second

	usersCollection = "users"
	chatCollection  = "chat"
	roomsCollection = "rooms"
)

// MongoPersist holds one pooled client for the lifetime of the process, all
// operations share it.
type MongoPersist struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewMongoPersister(cfg *config.Config) (Persister, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, nil // no or wrong configuration, ignore the persister
	}
	ctx, cancel := opCtx()
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.PersistenceConfig.DSN))
	if err != nil {
		return nil, err
	}
	dbName := cfg.PersistenceConfig.Database
	if dbName == "" {
		dbName = defaultMongoDatabase
	}
	return &MongoPersist{client: client, db: client.Database(dbName)}, nil
}

func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), mongoOpTimeout)
}

func mongoErr(err error) error {
	if err == mongo.ErrNoDocuments {
		return ErrNotFound
	}
	return err
}

func (p *MongoPersist) StoreUser(user types.User) error {
	ctx, cancel := opCtx()
	defer cancel()
	opts := options.Replace().SetUpsert(true)
	_, err := p.db.Collection(usersCollection).ReplaceOne(ctx, bson.M{"username": user.Username}, user, opts)
	return err
}

func (p *MongoPersist) GetUser(user *types.User) error {
	ctx, cancel := opCtx()
	defer cancel()
	err := p.db.Collection(usersCollection).FindOne(ctx, bson.M{"username": user.Username}).Decode(user)
	return mongoErr(err)
}

func (p *MongoPersist) GetUsers() ([]*types.User, error) {
	ctx, cancel := opCtx()
	defer cancel()
	cursor, err := p.db.Collection(usersCollection).Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	users := make([]*types.User, 0)
	if err = cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (p *MongoPersist) DeleteUser(user *types.User) error {
	ctx, cancel := opCtx()
	defer cancel()
	_, err := p.db.Collection(usersCollection).DeleteOne(ctx, bson.M{"username": user.Username})
	return err
}

func (p *MongoPersist) SetUserOnline(username string, online bool) error {
	ctx, cancel := opCtx()
	defer cancel()
	set := bson.M{"online": online}
	if !online {
		set["last_online"] = time.Now()
	}
	_, err := p.db.Collection(usersCollection).UpdateOne(ctx, bson.M{"username": username}, bson.M{"$set": set})
	return err
}

func (p *MongoPersist) GetOnlineUsers() ([]string, error) {
	ctx, cancel := opCtx()
	defer cancel()
	opts := options.Find().SetSort(bson.D{{Key: "username", Value: 1}})
	cursor, err := p.db.Collection(usersCollection).Find(ctx, bson.M{"online": true}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	users := make([]types.User, 0)
	if err = cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	usernames := make([]string, 0, len(users))
	for _, user := range users {
		usernames = append(usernames, user.Username)
	}
	return usernames, nil
}

func (p *MongoPersist) StoreRoom(room types.Room) error {
	ctx, cancel := opCtx()
	defer cancel()
	opts := options.Replace().SetUpsert(true)
	_, err := p.db.Collection(roomsCollection).ReplaceOne(ctx, bson.M{"id": room.Id}, room, opts)
	return err
}

func (p *MongoPersist) GetRoom(room *types.Room) error {
	ctx, cancel := opCtx()
	defer cancel()
	err := p.db.Collection(roomsCollection).FindOne(ctx, bson.M{"id": room.Id}).Decode(room)
	return mongoErr(err)
}

func (p *MongoPersist) GetRooms() ([]*types.Room, error) {
	ctx, cancel := opCtx()
	defer cancel()
	cursor, err := p.db.Collection(roomsCollection).Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	rooms := make([]*types.Room, 0)
	if err = cursor.All(ctx, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (p *MongoPersist) DeleteRoom(room *types.Room) error {
	ctx, cancel := opCtx()
	defer cancel()
	_, err := p.db.Collection(roomsCollection).DeleteOne(ctx, bson.M{"id": room.Id})
	return err
}

func (p *MongoPersist) AttachConnection(roomId, connId string) error {
	ctx, cancel := opCtx()
	defer cancel()
	res, err := p.db.Collection(roomsCollection).UpdateOne(ctx, bson.M{"id": roomId},
		bson.M{"$addToSet": bson.M{"connections": connId}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *MongoPersist) DetachConnection(roomId, connId string) error {
	ctx, cancel := opCtx()
	defer cancel()
	_, err := p.db.Collection(roomsCollection).UpdateOne(ctx, bson.M{"id": roomId},
		bson.M{"$pull": bson.M{"connections": connId}})
	return err
}

func (p *MongoPersist) AppendMessage(message types.Message) error {
	ctx, cancel := opCtx()
	defer cancel()
	message.RoomId = ""
	_, err := p.db.Collection(chatCollection).InsertOne(ctx, message)
	return err
}

func (p *MongoPersist) AppendRoomMessage(roomId string, message types.Message) error {
	ctx, cancel := opCtx()
	defer cancel()
	message.RoomId = roomId
	res, err := p.db.Collection(roomsCollection).UpdateOne(ctx, bson.M{"id": roomId},
		bson.M{"$push": bson.M{"messages": message}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *MongoPersist) GetChatHistory(limit int) ([]types.Message, error) {
	ctx, cancel := opCtx()
	defer cancel()
	// sort by _id: timestamps only carry millisecond precision, _id order is
	// the insertion order for the single appending goroutine
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := p.db.Collection(chatCollection).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	messages := make([]types.Message, 0)
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return tailMessages(messages, limit), nil
}

func (p *MongoPersist) GetRoomHistory(roomId string, limit int) ([]types.Message, error) {
	room := types.Room{Id: roomId}
	if err := p.GetRoom(&room); err != nil {
		return nil, err
	}
	return tailMessages(room.Messages, limit), nil
}

// tailMessages returns the last limit messages (all for limit <= 0), keeping
// insertion order.
func tailMessages(messages []types.Message, limit int) []types.Message {
	if limit > 0 && len(messages) > limit {
		return messages[len(messages)-limit:]
	}
	return messages
}

func (p *MongoPersist) Close() error {
	ctx, cancel := opCtx()
	defer cancel()
	return p.client.Disconnect(ctx)
}
