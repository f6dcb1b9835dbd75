package presence

import (
	"github.com/hashicorp/go-hclog"
	"github.com/socialnet/socialnet-chat/persistence"
)

// Registry tracks per-user online/offline presence. Status transitions are
// persisted best-effort: a store failure is logged, never surfaced to the
// connection that triggered it. Concurrent updates for the same user are
// last-write-wins.
type Registry struct {
	persister persistence.Persister
	logger    hclog.Logger
}

func NewRegistry(persister persistence.Persister, logger hclog.Logger) *Registry {
	return &Registry{persister: persister, logger: logger}
}

func (r *Registry) MarkOnline(username string) {
	r.setStatus(username, true)
}

func (r *Registry) MarkOffline(username string) {
	r.setStatus(username, false)
}

func (r *Registry) setStatus(username string, online bool) {
	if username == "" || r.persister == nil {
		return
	}
	if err := r.persister.SetUserOnline(username, online); err != nil {
		r.logger.Error("could not persist presence status", "user", username, "online", online, "error", err)
	}
}

// OnlineUsers returns the usernames currently flagged online, for presence
// display. A store failure is logged and yields an empty set.
func (r *Registry) OnlineUsers() []string {
	if r.persister == nil {
		return nil
	}
	usernames, err := r.persister.GetOnlineUsers()
	if err != nil {
		r.logger.Error("could not get online users", "error", err)
		return nil
	}
	return usernames
}
