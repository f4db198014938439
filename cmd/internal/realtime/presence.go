package realtime

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	v1 "bondy/shared/contracts/chat/v1"
)

// Registry tracks which logical users are online and which live connections
// each of them owns. A user may own several concurrent connections
// (multi-device); the user leaves the online set only when the last one
// unregisters.
//
// Concurrency guarantees:
// - Register/Unregister mutate under the write lock.
// - ConnectionsOf returns a snapshot, so fan-out never delivers to a
//   connection after it has unregistered and been closed.
type Registry struct {
	log *slog.Logger

	mu    sync.RWMutex
	users map[string]map[*Client]struct{}
}

// NewRegistry constructs a Registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:   log,
		users: make(map[string]map[*Client]struct{}),
	}
}

// Register binds a connection to its logical user. It is idempotent per
// connection and broadcasts the online set when the user comes online.
func (r *Registry) Register(c *Client) {
	if c == nil || c.UserID == "" {
		return
	}

	r.mu.Lock()
	set := r.users[c.UserID]
	if set == nil {
		set = make(map[*Client]struct{})
		r.users[c.UserID] = set
	}
	_, known := set[c]
	set[c] = struct{}{}
	cameOnline := !known && len(set) == 1
	r.mu.Unlock()

	if known {
		return
	}

	metricConnections.Inc()
	if cameOnline {
		metricOnlineUsers.Inc()
	}

	r.log.Info("presence.register",
		"user_id", c.UserID, "session_id", c.SessionID, "came_online", cameOnline)

	r.BroadcastOnline()
}

// Unregister removes a connection and, if it was the user's last one, takes
// the user offline. The online set is re-broadcast on any change.
func (r *Registry) Unregister(c *Client) {
	if c == nil || c.UserID == "" {
		return
	}

	r.mu.Lock()
	set := r.users[c.UserID]
	_, known := set[c]
	if known {
		delete(set, c)
		if len(set) == 0 {
			delete(r.users, c.UserID)
		}
	}
	wentOffline := known && len(set) == 0
	r.mu.Unlock()

	if !known {
		return
	}

	metricConnections.Dec()
	if wentOffline {
		metricOnlineUsers.Dec()
	}

	r.log.Info("presence.unregister",
		"user_id", c.UserID, "session_id", c.SessionID, "went_offline", wentOffline)

	r.BroadcastOnline()
}

// ConnectionsOf returns a snapshot of the user's live connections, in no
// particular order. The snapshot is safe to iterate while the registry
// mutates.
func (r *Registry) ConnectionsOf(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.users[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// IsOnline reports whether the user owns at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// OnlineUserIDs returns the sorted list of online logical-user ids.
func (r *Registry) OnlineUserIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// BroadcastOnline emits the full online-user id list to every live
// connection. Delivery is best-effort per connection.
func (r *Registry) BroadcastOnline() {
	ids := r.OnlineUserIDs()
	payload, err := json.Marshal(ids)
	if err != nil {
		return
	}

	now := time.Now().UTC()
	env := NewOutboundEnvelope(v1.TypeOnlineUsers, payload, now)

	r.mu.RLock()
	targets := make([]*Client, 0, len(r.users)*2)
	for _, set := range r.users {
		for c := range set {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if !c.TryEnqueue(env) {
			metricFanoutDrops.Inc()
		}
	}
}
