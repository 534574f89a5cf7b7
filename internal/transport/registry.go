package transport

import (
	"sync"
)

// Registry tracks live endpoints by transport ID. Pure connection tracking;
// authorization and roster state live with the session coordinator.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]*Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{endpoints: make(map[string]*Conn)}
}

// Register adds an endpoint. A replaced endpoint with the same ID is closed
// asynchronously to avoid holding the lock across Close.
func (r *Registry) Register(conn *Conn) error {
	if conn == nil {
		return ErrNilConn
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.endpoints[conn.ID()]; ok && existing != conn {
		go func() { _ = existing.Close() }()
	}
	r.endpoints[conn.ID()] = conn
	return nil
}

// Unregister removes an endpoint. Idempotent, and pointer-checked so a stale
// connection can never evict its replacement.
func (r *Registry) Unregister(conn *Conn) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if registered, ok := r.endpoints[conn.ID()]; ok && registered == conn {
		delete(r.endpoints, conn.ID())
	}
}

// Get returns the endpoint for an ID.
func (r *Registry) Get(endpointID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.endpoints[endpointID]
	return conn, ok
}

// All returns a snapshot of live endpoints.
func (r *Registry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Conn, 0, len(r.endpoints))
	for _, conn := range r.endpoints {
		conns = append(conns, conn)
	}
	return conns
}

// Len returns the number of live endpoints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}

// CloseAll closes every endpoint and empties the registry.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.endpoints))
	for _, conn := range r.endpoints {
		conns = append(conns, conn)
	}
	r.endpoints = make(map[string]*Conn)
	r.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}
