package chatserver

import (
	"github.com/cory-johannsen/strangers/internal/lobby"
	"github.com/cory-johannsen/strangers/internal/protocol"
)

// publishPresence broadcasts the logged-in count to every connection.
// Identical consecutive counts are sent again.
//
// Precondition: caller holds c.mu.
func (c *Controller) publishPresence() {
	env, err := protocol.NewEnvelope(protocol.EventServerStats, protocol.ServerStats{Count: c.registry.LoggedInCount()})
	if err != nil {
		return
	}
	c.transport.Broadcast(env)
}

// Stats is a point-in-time summary of the controller state.
type Stats struct {
	Connections  int `json:"connections"`
	LoggedIn     int `json:"logged_in"`
	Queued       int `json:"queued"`
	PairSessions int `json:"pair_sessions"`
	GroupRooms   int `json:"group_rooms"`
}

// Stats returns current counts.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	pairs := c.sessions.PairCount()
	return Stats{
		Connections:  c.registry.Len(),
		LoggedIn:     c.registry.LoggedInCount(),
		Queued:       c.queue.Len(),
		PairSessions: pairs,
		GroupRooms:   c.sessions.Len() - pairs,
	}
}

// Connection returns a copy of the connection record for id.
func (c *Controller) Connection(id lobby.ConnID) (lobby.Connection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, ok := c.registry.Get(id)
	if !ok {
		return lobby.Connection{}, false
	}
	return *conn, true
}

// Roster lists the display names in id's current conversation, the caller
// included. room is the group key or the pair session id.
//
// Postcondition: Returns ErrNotLoggedIn for unknown or anonymous connections, and an empty room outside a session.
func (c *Controller) Roster(id lobby.ConnID) (room string, names []string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.registry.Get(id)
	if !ok || !conn.LoggedIn() {
		return "", nil, lobby.ErrNotLoggedIn
	}
	s, ok := c.activeSession(conn)
	if !ok {
		return "", nil, nil
	}
	room = s.Key
	if room == "" {
		room = string(s.ID)
	}
	for _, m := range s.Members() {
		if mc, ok := c.registry.Get(m); ok {
			names = append(names, mc.Name)
		}
	}
	return room, names, nil
}
