package host

import (
	"sync"

	"github.com/google/uuid"
)

// ClientRegistry is the host's membership table. Writers hold the lock
// only for membership changes (add/remove); readers hold it during
// fan-out iteration.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*Client
}

// NewClientRegistry builds an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[uuid.UUID]*Client)}
}

// Add registers a newly accepted client.
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ID] = c
}

// Remove drops a client from the registry. Idempotent.
func (r *ClientRegistry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
}

// Get returns the client with id, if present.
func (r *ClientRegistry) Get(id uuid.UUID) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// Len reports the number of registered clients.
func (r *ClientRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Snapshot returns a stable copy of the current membership for fan-out
// iteration, so a concurrent Add/Remove never mutates the slice a fan-out
// loop is already ranging over.
func (r *ClientRegistry) Snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Each runs fn for every client currently registered except skip, holding
// the read lock for the duration of iteration.
func (r *ClientRegistry) Each(skip uuid.UUID, fn func(*Client)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, c := range r.clients {
		if id == skip {
			continue
		}
		fn(c)
	}
}
