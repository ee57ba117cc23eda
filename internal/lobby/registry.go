// Package lobby holds the connection registry, the pairing queue and the
// session table of the chat server.
//
// None of the types in this package are safe for concurrent use. They are
// owned by a single state holder that serializes every call.
package lobby

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ConnID identifies one live transport connection. It is never reused while
// the connection is live.
type ConnID string

// NewConnID returns a fresh random connection identifier.
func NewConnID() ConnID {
	return ConnID(uuid.NewString())
}

// Mode is the kind of conversation a connection is taking part in.
type Mode int

const (
	ModeNone Mode = iota
	ModePairing
	ModeGroup
)

func (m Mode) String() string {
	switch m {
	case ModePairing:
		return "pairing"
	case ModeGroup:
		return "group"
	default:
		return "none"
	}
}

// State is the lifecycle state of a connection, derived from its profile,
// mode and session.
type State int

const (
	StateConnected State = iota
	StateIdle
	StateQueued
	StatePaired
	StateGrouped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateQueued:
		return "queued"
	case StatePaired:
		return "paired"
	case StateGrouped:
		return "grouped"
	default:
		return "connected"
	}
}

// Connection is the registry's record of one live connection.
type Connection struct {
	ID          ConnID
	RemoteAddr  string
	Name        string
	Age         int
	Mode        Mode
	SessionID   SessionID
	ConnectedAt time.Time
}

// LoggedIn reports whether the connection has a display name.
func (c *Connection) LoggedIn() bool {
	return c.Name != ""
}

// InSession reports whether the connection currently belongs to a session.
func (c *Connection) InSession() bool {
	return c.SessionID != ""
}

// State derives the lifecycle state from the connection's fields.
func (c *Connection) State() State {
	switch {
	case !c.LoggedIn():
		return StateConnected
	case c.Mode == ModeGroup && c.InSession():
		return StateGrouped
	case c.Mode == ModePairing && c.InSession():
		return StatePaired
	case c.Mode == ModePairing:
		return StateQueued
	default:
		return StateIdle
	}
}

// Registry tracks every live connection and its profile.
type Registry struct {
	conns map[ConnID]*Connection
	now   func() time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[ConnID]*Connection),
		now:   time.Now,
	}
}

// Register creates a Connection with an empty profile.
//
// Precondition: id must not belong to a live connection.
// Postcondition: Returns the new Connection, or an error if id is already registered.
func (r *Registry) Register(id ConnID, remoteAddr string) (*Connection, error) {
	if _, exists := r.conns[id]; exists {
		return nil, fmt.Errorf("connection %q already registered", id)
	}
	c := &Connection{
		ID:          id,
		RemoteAddr:  remoteAddr,
		ConnectedAt: r.now(),
	}
	r.conns[id] = c
	return c, nil
}

// UpdateProfile sets the display name and age of a connection.
//
// Postcondition: Returns the updated Connection, or ErrNotLoggedIn if id is unknown.
func (r *Registry) UpdateProfile(id ConnID, name string, age int) (*Connection, error) {
	c, ok := r.conns[id]
	if !ok {
		return nil, fmt.Errorf("updating profile of %q: %w", id, ErrNotLoggedIn)
	}
	c.Name = name
	c.Age = age
	return c, nil
}

// Unregister removes a connection and returns its last-known state so the
// caller can clean up its queue entry and session.
//
// Postcondition: Returns ErrAlreadyGone when id was already removed.
func (r *Registry) Unregister(id ConnID) (Connection, error) {
	c, ok := r.conns[id]
	if !ok {
		return Connection{}, fmt.Errorf("unregistering %q: %w", id, ErrAlreadyGone)
	}
	delete(r.conns, id)
	return *c, nil
}

// Get returns the live Connection for id.
func (r *Registry) Get(id ConnID) (*Connection, bool) {
	c, ok := r.conns[id]
	return c, ok
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	return len(r.conns)
}

// LoggedInCount returns the number of live connections with a display name.
func (r *Registry) LoggedInCount() int {
	n := 0
	for _, c := range r.conns {
		if c.LoggedIn() {
			n++
		}
	}
	return n
}

// IDs returns the ids of all live connections in a stable order.
func (r *Registry) IDs() []ConnID {
	ids := make([]ConnID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
