package transport

import (
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/strangers/internal/lobby"
	"github.com/cory-johannsen/strangers/internal/protocol"
)

// Hub maps connection ids to their outlets and fans envelopes out to them.
// A connection whose outlet overflows is evicted: its outlet is closed and
// detached, and its writer is expected to close the underlying socket.
type Hub struct {
	mu         sync.RWMutex
	outlets    map[lobby.ConnID]*Outlet
	bufferSize int
	logger     *zap.Logger
}

// NewHub creates an empty Hub.
//
// Precondition: logger must be non-nil.
func NewHub(bufferSize int, logger *zap.Logger) *Hub {
	return &Hub{
		outlets:    make(map[lobby.ConnID]*Outlet),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Attach creates and registers the outlet for id, replacing any previous one.
func (h *Hub) Attach(id lobby.ConnID) *Outlet {
	o := NewOutlet(id, h.bufferSize)
	h.mu.Lock()
	old := h.outlets[id]
	h.outlets[id] = o
	h.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return o
}

// Detach closes and forgets the outlet for id. Unknown ids are ignored.
func (h *Hub) Detach(id lobby.ConnID) {
	h.mu.Lock()
	o, ok := h.outlets[id]
	delete(h.outlets, id)
	h.mu.Unlock()
	if ok {
		o.Close()
	}
}

// Send delivers env to one connection. Unknown ids are dropped silently.
func (h *Hub) Send(to lobby.ConnID, env protocol.Envelope) {
	h.mu.RLock()
	o, ok := h.outlets[to]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.push(o, env)
}

// SendMany delivers env to each listed connection.
func (h *Hub) SendMany(to []lobby.ConnID, env protocol.Envelope) {
	for _, id := range to {
		h.Send(id, env)
	}
}

// Broadcast delivers env to every attached connection.
func (h *Hub) Broadcast(env protocol.Envelope) {
	h.mu.RLock()
	targets := make([]*Outlet, 0, len(h.outlets))
	for _, o := range h.outlets {
		targets = append(targets, o)
	}
	h.mu.RUnlock()

	for _, o := range targets {
		h.push(o, env)
	}
}

// Len returns the number of attached outlets.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.outlets)
}

func (h *Hub) push(o *Outlet, env protocol.Envelope) {
	err := o.Push(env)
	if err == nil {
		return
	}
	h.logger.Warn("evicting connection",
		zap.String("conn_id", string(o.ID())),
		zap.String("event", env.Event),
		zap.Error(err),
	)
	h.mu.Lock()
	if h.outlets[o.ID()] == o {
		delete(h.outlets, o.ID())
	}
	h.mu.Unlock()
	o.Close()
}
