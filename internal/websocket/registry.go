package websocket

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry maps user identities to their live connections. A user may hold
// several simultaneous connections (tabs, devices); Add never evicts an
// existing one. All operations are map mutations under the lock — no Send or
// other peer I/O ever happens while the lock is held.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[*Connection]time.Time // connection -> registeredAt
	logger *zap.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		byUser: make(map[string]map[*Connection]time.Time),
		logger: logger.Named("registry"),
	}
}

// Add registers a live connection for userID. Never fails; duplicate Add of
// the same connection is a no-op.
func (r *Registry) Add(userID string, conn *Connection) {
	if conn == nil || userID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.byUser[userID]
	if conns == nil {
		conns = make(map[*Connection]time.Time)
		r.byUser[userID] = conns
	}
	if _, exists := conns[conn]; !exists {
		conns[conn] = time.Now()
	}
	r.logger.Debug("connection registered",
		zap.String("user_id", userID), zap.Int("user_connections", len(conns)))
}

// Remove deregisters a connection. Idempotent: removing an absent entry, or
// removing under a user that was never registered, is a no-op. Only the given
// connection instance is removed, so a stale cleanup cannot evict a newer
// connection for the same user.
func (r *Registry) Remove(userID string, conn *Connection) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, exists := r.byUser[userID]
	if !exists {
		return
	}
	if _, registered := conns[conn]; !registered {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(r.byUser, userID)
	}
	r.logger.Debug("connection deregistered", zap.String("user_id", userID))
}

// Connections returns the live handles for userID. Handles whose transport
// already closed are pruned here rather than returned, so a lookup after an
// asynchronous close sees none.
func (r *Registry) Connections(userID string) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, exists := r.byUser[userID]
	if !exists {
		return nil
	}

	out := make([]*Connection, 0, len(conns))
	for conn := range conns {
		if conn.State() == StateClosed {
			delete(conns, conn)
			continue
		}
		out = append(out, conn)
	}
	if len(conns) == 0 {
		delete(r.byUser, userID)
	}
	return out
}

// UserIDs returns a sorted snapshot of user ids with at least one registered
// connection.
func (r *Registry) UserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byUser))
	for userID := range r.byUser {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}

// Stats reports registry size for diagnostics.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, conns := range r.byUser {
		total += len(conns)
	}
	return map[string]int{
		"users":       len(r.byUser),
		"connections": total,
	}
}

// CloseAll closes every registered connection and empties the registry. Used
// during shutdown. Closing happens outside the lock.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	var all []*Connection
	for _, conns := range r.byUser {
		for conn := range conns {
			all = append(all, conn)
		}
	}
	r.byUser = make(map[string]map[*Connection]time.Time)
	r.mu.Unlock()

	for _, conn := range all {
		_ = conn.Close()
	}
}
