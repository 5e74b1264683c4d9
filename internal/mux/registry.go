package mux

import (
	"fmt"
	"sort"
	"sync"
)

// Registry tracks attached connections in a thread-safe manner. The lock is
// only held across map updates, never across socket I/O.
type Registry struct {
	conns map[string]*Connection
	mu    sync.RWMutex
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Add registers a connection.
func (r *Registry) Add(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID] = c
}

// Get retrieves a connection by ID. Returns nil if not found.
func (r *Registry) Get(id string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[id]
}

// EvictClosed drops every connection whose pumps have both exited and
// returns how many were removed.
func (r *Registry) EvictClosed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for id, c := range r.conns {
		if c.IsClosed() {
			delete(r.conns, id)
			evicted++
		}
	}
	return evicted
}

// List returns the registered connections, oldest first.
func (r *Registry) List() []*Connection {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	sort.Slice(conns, func(i, j int) bool {
		return conns[i].ConnectedAt.Before(conns[j].ConnectedAt)
	})
	return conns
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// StopAll asks every connection to stop. A failure on one connection does
// not prevent stopping the rest; all failures are returned.
func (r *Registry) StopAll() []error {
	var errs []error
	for _, c := range r.List() {
		if err := c.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop client %s: %w", c.ID, err))
		}
	}
	return errs
}
