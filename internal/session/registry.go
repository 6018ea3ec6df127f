package session

import (
	"sync"

	"github.com/google/uuid"
)

// WebSocket close codes used when rejecting or superseding a connection.
const (
	CloseUnsupportedData = 1003
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
)

// Conn is the live client connection the orchestrator speaks through. The
// server package adapts the WebSocket to this interface.
type Conn interface {
	Send(msg ServerMessage) error
	// Close closes the connection with the given close code and reason.
	Close(code int, reason string) error
}

// Registry tracks at most one live connection per session. Critical sections
// cover registration and lookup only; turn processing runs on the single
// goroutine owned by each connection handler, so per-session state needs no
// further locking.
type Registry struct {
	mu    sync.Mutex
	conns map[uuid.UUID]Conn
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[uuid.UUID]Conn)}
}

// Register stores the connection for a session and returns the previous
// connection if one was live. The caller closes the previous connection, so
// a second connect for the same session takes over rather than stacking.
func (r *Registry) Register(sessionID uuid.UUID, conn Conn) (prev Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev = r.conns[sessionID]
	r.conns[sessionID] = conn
	return prev
}

// Lookup returns the live connection for a session, or nil.
func (r *Registry) Lookup(sessionID uuid.UUID) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[sessionID]
}

// Remove drops the registry entry, but only if it still points at the given
// connection. A superseded connection unwinding its loop must not evict its
// successor.
func (r *Registry) Remove(sessionID uuid.UUID, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[sessionID] == conn {
		delete(r.conns, sessionID)
	}
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
