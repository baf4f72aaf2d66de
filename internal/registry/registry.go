// Package registry tracks which user is reachable over which live
// connection. It is the single source of truth for "who is online".
package registry

import (
	"sync"

	"github.com/roundtable/relay/internal/model"
)

// Conn is the transport handle for one connected client. Send must be
// safe for concurrent use; Close tears the transport down.
type Conn interface {
	Send(event any) error
	Close() error
}

// Entry binds a user to a live connection and its session tag.
type Entry struct {
	UserID    string
	SessionID string
	PublicKey string
	Info      model.Info
	Conn      Conn
}

// Registry is a mutex-guarded map from user id to live connection.
// Register, Unregister and Lookup interleave with router goroutines, so
// every mutation happens under the lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func New() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
	}
}

// Register binds the user to the connection, last writer wins: an
// existing registration for the same user is evicted and its transport
// closed. If a different user still occupies the same session id the
// connection was renamed in place; that stale entry is removed and
// returned so the caller can broadcast the old identity offline.
func (r *Registry) Register(entry *Entry) (renamed *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.entries[entry.UserID]; ok && prev.Conn != entry.Conn {
		prev.Conn.Close()
	}

	for id, other := range r.entries {
		if other.SessionID == entry.SessionID && id != entry.UserID {
			delete(r.entries, id)
			renamed = other
			break
		}
	}

	r.entries[entry.UserID] = entry
	return renamed
}

// Unregister removes the user's entry. The conn argument guards against
// a reconnect race: a close event from an already evicted transport must
// not tear down the replacement registration.
func (r *Registry) Unregister(userID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[userID]
	if !ok {
		return false
	}
	if conn != nil && entry.Conn != conn {
		return false
	}

	delete(r.entries, userID)
	return true
}

// Lookup returns the live entry for the user, if any.
func (r *Registry) Lookup(userID string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[userID]
	return entry, ok
}

// Snapshot returns a copy of all live entries.
func (r *Registry) Snapshot() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	return entries
}

// Broadcast sends the event to every live connection. Send errors are
// ignored here; dead transports are reaped by the liveness sweep.
func (r *Registry) Broadcast(event any) {
	for _, entry := range r.Snapshot() {
		_ = entry.Conn.Send(event)
	}
}

// BroadcastExcept sends the event to every live connection but one.
func (r *Registry) BroadcastExcept(userID string, event any) {
	for _, entry := range r.Snapshot() {
		if entry.UserID == userID {
			continue
		}
		_ = entry.Conn.Send(event)
	}
}
