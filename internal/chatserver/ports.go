// Package chatserver owns the matchmaking and relay state of the chat
// server and drives every connection through its lifecycle.
package chatserver

import (
	"context"
	"time"

	"github.com/cory-johannsen/strangers/internal/lobby"
	"github.com/cory-johannsen/strangers/internal/protocol"
	"github.com/cory-johannsen/strangers/internal/regions"
)

// Transport hands envelopes to connections. Implementations must not block:
// the controller calls them while holding its lock.
type Transport interface {
	Send(to lobby.ConnID, env protocol.Envelope)
	SendMany(to []lobby.ConnID, env protocol.Envelope)
	Broadcast(env protocol.Envelope)
}

// RegionCatalog resolves group region ids.
type RegionCatalog interface {
	Lookup(id string) (*regions.Region, bool)
}

// Session close reasons recorded in the session log.
const (
	CloseDisconnect = "disconnect"
	CloseLeft       = "left"
	CloseRematch    = "rematch"
)

// SessionEvent describes a session opening or closing. It carries no
// message content and no user identity.
type SessionEvent struct {
	SessionID lobby.SessionID
	Kind      lobby.Kind
	RoomKey   string
	Members   int
	OpenedAt  time.Time
	ClosedAt  time.Time
	Reason    string
}

// SessionRecorder persists session open and close events. Calls are made
// outside the controller lock, possibly out of order across goroutines.
type SessionRecorder interface {
	SessionOpened(ctx context.Context, ev SessionEvent) error
	SessionClosed(ctx context.Context, ev SessionEvent) error
}

// NopRecorder discards every event.
type NopRecorder struct{}

func (NopRecorder) SessionOpened(context.Context, SessionEvent) error { return nil }
func (NopRecorder) SessionClosed(context.Context, SessionEvent) error { return nil }
