package chatserver

import (
	"encoding/json"

	"github.com/cory-johannsen/strangers/internal/lobby"
	"github.com/cory-johannsen/strangers/internal/protocol"
)

const timestampLayout = "15:04"

// relayMessage echoes a text or audio message to the sender with IsSelf set
// and delivers it to every other member. Messages from connections without
// a session are dropped.
//
// Precondition: caller holds c.mu.
func (c *Controller) relayMessage(conn *lobby.Connection, e protocol.SendMessage) error {
	s, ok := c.activeSession(conn)
	if !ok {
		return nil
	}
	text, err := c.validateText(e.Text)
	if err != nil {
		return err
	}
	if err := c.validateAudio(e.Audio); err != nil {
		return err
	}
	if text == "" && len(e.Audio) == 0 {
		return lobby.Invalid("message", "must carry text or audio")
	}

	msg := protocol.ChatMessage{
		Text:      text,
		Audio:     e.Audio,
		User:      conn.Name,
		Timestamp: c.now().Format(timestampLayout),
	}
	c.emitMany(s.Others(conn.ID), protocol.EventMessage, msg)
	msg.IsSelf = true
	c.emit(conn.ID, protocol.EventMessage, msg)
	return nil
}

// relayTyping forwards the typing indicator to a pair partner. Group rooms
// never carry typing indicators.
//
// Precondition: caller holds c.mu.
func (c *Controller) relayTyping(conn *lobby.Connection, active bool) error {
	s, ok := c.activeSession(conn)
	if !ok || s.Kind != lobby.KindPair {
		return nil
	}
	partner, ok := s.Partner(conn.ID)
	if !ok {
		return nil
	}
	event := protocol.EventStrangerStoppedTyping
	if active {
		event = protocol.EventStrangerTyping
	}
	c.emit(partner, event, protocol.TypingNotice{User: conn.Name})
	return nil
}

// relaySignal forwards a WebRTC signaling payload verbatim to the single
// partner of a full pair session.
//
// Precondition: caller holds c.mu.
// Postcondition: Returns ErrNoPartnerAvailable when the sender is not in a two-member pair session.
func (c *Controller) relaySignal(conn *lobby.Connection, kind protocol.SignalKind, data json.RawMessage) error {
	s, ok := c.activeSession(conn)
	if !ok {
		return lobby.ErrNoPartnerAvailable
	}
	partner, ok := s.Partner(conn.ID)
	if !ok {
		return lobby.ErrNoPartnerAvailable
	}
	c.emit(partner, protocol.EventSignal, protocol.SignalRelay{Type: kind, Data: data})
	return nil
}

// activeSession returns the session of a Paired or Grouped connection.
func (c *Controller) activeSession(conn *lobby.Connection) (*lobby.Session, bool) {
	switch conn.State() {
	case lobby.StatePaired, lobby.StateGrouped:
	default:
		return nil, false
	}
	s, ok := c.sessions.Get(conn.SessionID)
	if !ok || !s.Has(conn.ID) {
		return nil, false
	}
	return s, true
}
