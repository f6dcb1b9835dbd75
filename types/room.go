package types

import (
	"sort"
	"strings"
	"time"
)

// Room is a durable pairwise conversation. The participant set is fixed at
// creation and keyed order-independently, Connections tracks the currently
// attached live connection ids, Messages is the append-only room log.
type Room struct {
	Id              string          `json:"id" gorm:"primaryKey" bson:"id"`
	ParticipantsKey string          `json:"-" gorm:"uniqueIndex" bson:"participants_key"`
	Participants    JSONStringSlice `json:"participants" bson:"participants"`
	Connections     JSONStringSlice `json:"connections" bson:"connections"`
	Messages        []Message       `json:"messages,omitempty" gorm:"-" bson:"messages"`
	CreatedAt       time.Time       `json:"-" bson:"created_at"`
	UpdatedAt       time.Time       `json:"-" bson:"-"`
}

// KeyForParticipants computes the order-independent lookup key of a
// participant set.
func KeyForParticipants(participants []string) string {
	sorted := append([]string(nil), participants...)
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}
