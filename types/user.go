package types

import "time"

// User is owned by the external user directory. The chat core only reads the
// e-mail address and the friends list, and toggles the online flag.
type User struct {
	Username   string          `json:"username" gorm:"primaryKey" bson:"username"`
	Name       string          `json:"name,omitempty" bson:"name,omitempty"`
	FirstName  string          `json:"firstname,omitempty" bson:"firstname,omitempty"`
	Email      string          `json:"email" bson:"email"`
	Online     bool            `json:"online" bson:"online"`
	Friends    JSONStringSlice `json:"friends" bson:"friends"`
	LastOnline time.Time       `json:"last_online" bson:"last_online"`
}
