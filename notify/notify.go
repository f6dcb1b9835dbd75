package notify

import "github.com/hashicorp/go-hclog"

// Sender is the opaque notification sender collaborator.
type Sender interface {
	Send(sender, receiver, receiverEmail string) error
}

// Directory resolves a username to its stored e-mail address.
type Directory interface {
	GetEmail(username string) (string, error)
}

// Participants resolves a room id to its fixed participant set.
type Participants interface {
	Participants(roomId string) ([]string, error)
}

// Dispatcher mails the other room participants when a private message is
// delivered. It is fire-and-forget: every failure is logged and swallowed,
// nothing ever blocks or fails the message-send path.
type Dispatcher struct {
	rooms     Participants
	directory Directory
	sender    Sender
	logger    hclog.Logger
}

func NewDispatcher(rooms Participants, directory Directory, sender Sender, logger hclog.Logger) *Dispatcher {
	return &Dispatcher{rooms: rooms, directory: directory, sender: sender, logger: logger}
}

// Dispatch triggers the notification run asynchronously.
func (d *Dispatcher) Dispatch(sender, roomId string) {
	if d.sender == nil {
		return
	}
	go d.notify(sender, roomId)
}

func (d *Dispatcher) notify(sender, roomId string) {
	participants, err := d.rooms.Participants(roomId)
	if err != nil {
		d.logger.Error("could not resolve room participants", "room", roomId, "error", err)
		return
	}
	for _, receiver := range participants {
		if receiver == sender {
			continue
		}
		email, err := d.directory.GetEmail(receiver)
		if err != nil {
			d.logger.Error("could not look up receiver email", "receiver", receiver, "error", err)
			continue
		}
		if err := d.sender.Send(sender, receiver, email); err != nil {
			d.logger.Error("could not send notification", "receiver", receiver, "error", err)
		}
	}
}
