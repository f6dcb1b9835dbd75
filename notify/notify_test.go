package notify

import (
	"errors"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

type fakeRooms map[string][]string

func (f fakeRooms) Participants(roomId string) ([]string, error) {
	participants, ok := f[roomId]
	if !ok {
		return nil, errors.New("unknown room")
	}
	return participants, nil
}

type fakeDirectory map[string]string

func (f fakeDirectory) GetEmail(username string) (string, error) {
	email, ok := f[username]
	if !ok {
		return "", errors.New("unknown user")
	}
	return email, nil
}

type sentMail struct {
	sender, receiver, receiverEmail string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeSender) Send(sender, receiver, receiverEmail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{sender, receiver, receiverEmail})
	return f.err
}

func (f *fakeSender) mails() []sentMail {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMail(nil), f.sent...)
}

func TestNotifyOtherParticipant(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(
		fakeRooms{"r1": {"alice", "bob"}},
		fakeDirectory{"alice": "a@x.com", "bob": "b@x.com"},
		sender,
		hclog.NewNullLogger(),
	)

	d.notify("alice", "r1")

	// exactly one notification, to the other participant, never the sender
	require.Equal(t, []sentMail{{"alice", "bob", "b@x.com"}}, sender.mails())
}

func TestNotifySkipsFailedLookup(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(
		fakeRooms{"r1": {"alice", "bob", "carol"}},
		fakeDirectory{"carol": "c@x.com"}, // bob has no directory entry
		sender,
		hclog.NewNullLogger(),
	)

	d.notify("alice", "r1")

	require.Equal(t, []sentMail{{"alice", "carol", "c@x.com"}}, sender.mails())
}

func TestNotifySwallowsErrors(t *testing.T) {
	sender := &fakeSender{err: errors.New("smtp down")}
	d := NewDispatcher(
		fakeRooms{"r1": {"alice", "bob"}},
		fakeDirectory{"bob": "b@x.com"},
		sender,
		hclog.NewNullLogger(),
	)

	// send failures and unknown rooms are logged, never propagated
	d.notify("alice", "r1")
	d.notify("alice", "no-such-room")
	require.Len(t, sender.mails(), 1)
}

func TestDispatchWithoutSender(t *testing.T) {
	d := NewDispatcher(fakeRooms{}, fakeDirectory{}, nil, hclog.NewNullLogger())
	d.Dispatch("alice", "r1") // no-op
}
