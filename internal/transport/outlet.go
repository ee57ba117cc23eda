// Package transport delivers outbound envelopes to connected clients
// through per-connection buffered outlets.
package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cory-johannsen/strangers/internal/lobby"
	"github.com/cory-johannsen/strangers/internal/protocol"
)

// DefaultBufferSize is the outlet capacity used when none is configured.
const DefaultBufferSize = 64

// ErrOutletClosed is returned by Push after Close.
var ErrOutletClosed = errors.New("outlet closed")

// ErrOutletFull is returned by Push when the client is not draining its
// outlet fast enough.
var ErrOutletFull = errors.New("outlet buffer full")

// Outlet is the buffered queue between the chat core and one connection's
// writer goroutine.
type Outlet struct {
	id     lobby.ConnID
	events chan protocol.Envelope
	mu     sync.Mutex
	closed bool
}

// NewOutlet creates an Outlet for connection id.
//
// Postcondition: Returns an open Outlet with capacity bufferSize, or DefaultBufferSize when bufferSize <= 0.
func NewOutlet(id lobby.ConnID, bufferSize int) *Outlet {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Outlet{
		id:     id,
		events: make(chan protocol.Envelope, bufferSize),
	}
}

// ID returns the owning connection's id.
func (o *Outlet) ID() lobby.ConnID {
	return o.id
}

// Push enqueues env without blocking.
//
// Postcondition: Returns ErrOutletClosed or ErrOutletFull (wrapped with the id) when env was not enqueued.
func (o *Outlet) Push(env protocol.Envelope) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("outlet %s: %w", o.id, ErrOutletClosed)
	}
	select {
	case o.events <- env:
		return nil
	default:
		return fmt.Errorf("outlet %s: %w", o.id, ErrOutletFull)
	}
}

// Events returns the channel drained by the connection's writer. It is
// closed when the outlet is closed.
func (o *Outlet) Events() <-chan protocol.Envelope {
	return o.events
}

// Close closes the events channel. It is safe to call more than once.
func (o *Outlet) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.events)
	}
}

// IsClosed reports whether Close has been called.
func (o *Outlet) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
