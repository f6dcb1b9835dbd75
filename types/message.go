package types

import "time"

// Message is an immutable chat record. RoomId is empty for public messages and
// set to the target room for private ones. Messages are never updated or
// deleted, ordering is insertion order.
type Message struct {
	Seq       uint      `json:"-" gorm:"primaryKey;autoIncrement" bson:"-"`
	Sender    string    `json:"sender" mapstructure:"-" bson:"sender"`
	Timestamp time.Time `json:"timestamp" mapstructure:"-" bson:"timestamp"`
	Content   string    `json:"message" mapstructure:"message" bson:"message"`
	RoomId    string    `json:"room_id,omitempty" mapstructure:"room_id" gorm:"index" bson:"room_id,omitempty"`
}
