package directory

import (
	"github.com/socialnet/socialnet-chat/persistence"
	"github.com/socialnet/socialnet-chat/types"
)

// Directory is the user directory collaborator, backed by the users
// collection. The chat core only reads from it.
type Directory struct {
	persister persistence.Persister
}

func NewDirectory(persister persistence.Persister) *Directory {
	return &Directory{persister: persister}
}

func (d *Directory) GetEmail(username string) (string, error) {
	user := types.User{Username: username}
	if err := d.persister.GetUser(&user); err != nil {
		return "", err
	}
	return user.Email, nil
}

func (d *Directory) GetFriends(username string) ([]string, error) {
	user := types.User{Username: username}
	if err := d.persister.GetUser(&user); err != nil {
		return nil, err
	}
	return []string(user.Friends), nil
}
