package rooms

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/socialnet/socialnet-chat/persistence"
	"github.com/socialnet/socialnet-chat/types"
)

// ErrInvalidParticipants is returned when the participant set is not a pair of
// two distinct users. Rooms are strictly pairwise, keyed by the exact set.
var ErrInvalidParticipants = errors.New("rooms: participant set must be two distinct users")

// ErrUnknownRoom is returned for lookups of a room id that was never resolved.
var ErrUnknownRoom = errors.New("rooms: unknown room")

type entry struct {
	room  types.Room
	conns map[string]struct{}
}

// Resolver owns the room table: an arena of room records indexed by room id and
// by participant-set key. All resolution goes through one lock, so concurrent
// requests for the same participant set end up with exactly one room record.
type Resolver struct {
	mu        sync.Mutex
	byId      map[string]*entry
	byKey     map[string]*entry
	persister persistence.Persister
	logger    hclog.Logger
}

// NewResolver creates the resolver and loads the persisted rooms. Persisted
// live-connection sets are stale after a restart and start out empty.
func NewResolver(persister persistence.Persister, logger hclog.Logger) (*Resolver, error) {
	r := &Resolver{
		byId:      make(map[string]*entry),
		byKey:     make(map[string]*entry),
		persister: persister,
		logger:    logger,
	}
	if persister != nil {
		rooms, err := persister.GetRooms()
		if err != nil {
			return nil, err
		}
		for _, room := range rooms {
			if room.ParticipantsKey == "" {
				room.ParticipantsKey = types.KeyForParticipants(room.Participants)
			}
			room.Connections = nil
			room.Messages = nil
			e := &entry{room: *room, conns: make(map[string]struct{})}
			r.byId[room.Id] = e
			r.byKey[room.ParticipantsKey] = e
		}
	}
	return r, nil
}

// Resolve maps a participant pair to its durable room id, creating the room on
// first use and idempotently attaching connId to its live-connection set.
func (r *Resolver) Resolve(participants []string, connId string) (string, error) {
	if len(participants) != 2 || participants[0] == participants[1] {
		return "", ErrInvalidParticipants
	}
	key := types.KeyForParticipants(participants)

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byKey[key]; ok {
		if _, attached := e.conns[connId]; !attached {
			e.conns[connId] = struct{}{}
			if r.persister != nil {
				if err := r.persister.AttachConnection(e.room.Id, connId); err != nil {
					r.logger.Error("could not persist room connection", "room", e.room.Id, "error", err)
				}
			}
		}
		return e.room.Id, nil
	}

	room := types.Room{
		Id:              uuid.NewString(),
		ParticipantsKey: key,
		Participants:    append(types.JSONStringSlice(nil), participants...),
		Connections:     types.JSONStringSlice{connId},
		Messages:        []types.Message{},
	}
	e := &entry{room: room, conns: map[string]struct{}{connId: {}}}
	r.byId[room.Id] = e
	r.byKey[key] = e
	if r.persister != nil {
		if err := r.persister.StoreRoom(room); err != nil {
			// the in-memory record stays valid, history appends for this room
			// will fail until the store recovers
			r.logger.Error("could not persist room", "room", room.Id, "error", err)
		}
	}
	return room.Id, nil
}

// Detach removes a closing connection from every room it is attached to.
func (r *Resolver) Detach(connId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.byId {
		if _, ok := e.conns[connId]; !ok {
			continue
		}
		delete(e.conns, connId)
		if r.persister != nil {
			if err := r.persister.DetachConnection(e.room.Id, connId); err != nil {
				r.logger.Error("could not persist room disconnect", "room", e.room.Id, "error", err)
			}
		}
	}
}

// Connections returns a snapshot of the live-connection set of a room.
func (r *Resolver) Connections(roomId string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byId[roomId]
	if !ok {
		return nil
	}
	conns := make([]string, 0, len(e.conns))
	for id := range e.conns {
		conns = append(conns, id)
	}
	return conns
}

// Participants returns the fixed participant set of a room.
func (r *Resolver) Participants(roomId string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byId[roomId]
	if !ok {
		return nil, ErrUnknownRoom
	}
	return append([]string(nil), e.room.Participants...), nil
}

// Room returns a snapshot of the room record including its current
// live-connection set.
func (r *Resolver) Room(roomId string) (types.Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byId[roomId]
	if !ok {
		return types.Room{}, false
	}
	room := e.room
	room.Connections = make(types.JSONStringSlice, 0, len(e.conns))
	for id := range e.conns {
		room.Connections = append(room.Connections, id)
	}
	return room, true
}
