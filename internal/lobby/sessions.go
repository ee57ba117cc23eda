package lobby

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// SessionID identifies a pair session or a group room.
type SessionID string

// Kind distinguishes one-on-one sessions from group rooms.
type Kind int

const (
	KindPair Kind = iota
	KindGroup
)

func (k Kind) String() string {
	if k == KindGroup {
		return "group"
	}
	return "pair"
}

// NewSessionID returns a fresh random identifier prefixed with the kind.
func NewSessionID(kind Kind) SessionID {
	return SessionID(kind.String() + "_" + uuid.NewString())
}

// Session is one conversation. A pair session has exactly two members for
// its whole life. A group session may be empty and is never destroyed.
type Session struct {
	ID        SessionID
	Kind      Kind
	Key       string
	CreatedAt time.Time
	members   map[ConnID]struct{}
}

// Has reports whether id is a member.
func (s *Session) Has(id ConnID) bool {
	_, ok := s.members[id]
	return ok
}

// Len returns the member count.
func (s *Session) Len() int {
	return len(s.members)
}

// Members returns the member ids in a stable order.
func (s *Session) Members() []ConnID {
	out := make([]ConnID, 0, len(s.members))
	for id := range s.members {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Others returns every member except id.
func (s *Session) Others(id ConnID) []ConnID {
	out := make([]ConnID, 0, len(s.members))
	for _, m := range s.Members() {
		if m != id {
			out = append(out, m)
		}
	}
	return out
}

// Partner returns the other member of a full pair session.
//
// Postcondition: ok is false unless s is a pair with exactly two members and id is one of them.
func (s *Session) Partner(id ConnID) (ConnID, bool) {
	if s.Kind != KindPair || len(s.members) != 2 || !s.Has(id) {
		return "", false
	}
	for m := range s.members {
		if m != id {
			return m, true
		}
	}
	return "", false
}

// Sessions is the table of live sessions, keeping every registered
// connection's SessionID and Mode in step with membership.
type Sessions struct {
	registry *Registry
	byID     map[SessionID]*Session
	byKey    map[string]SessionID
	newID    func(Kind) SessionID
	now      func() time.Time
}

// NewSessions creates an empty session table bound to registry.
//
// Precondition: registry must be non-nil.
func NewSessions(registry *Registry) *Sessions {
	return &Sessions{
		registry: registry,
		byID:     make(map[SessionID]*Session),
		byKey:    make(map[string]SessionID),
		newID:    NewSessionID,
		now:      time.Now,
	}
}

// CreatePair opens a pair session for a and b.
//
// Precondition: a and b must be registered and distinct.
// Postcondition: Both connections have the new SessionID and ModePairing.
// Returns ErrSelfMatch, ErrStaleReference or ErrAlreadyInSession and changes
// nothing when the precondition does not hold.
func (t *Sessions) CreatePair(a, b ConnID) (*Session, error) {
	if a == b {
		return nil, fmt.Errorf("pairing %q: %w", a, ErrSelfMatch)
	}
	ca, ok := t.registry.Get(a)
	if !ok {
		return nil, fmt.Errorf("pairing %q: %w", a, ErrStaleReference)
	}
	cb, ok := t.registry.Get(b)
	if !ok {
		return nil, fmt.Errorf("pairing %q: %w", b, ErrStaleReference)
	}
	if ca.InSession() {
		return nil, fmt.Errorf("pairing %q: %w", a, ErrAlreadyInSession)
	}
	if cb.InSession() {
		return nil, fmt.Errorf("pairing %q: %w", b, ErrAlreadyInSession)
	}

	s := &Session{
		ID:        t.newID(KindPair),
		Kind:      KindPair,
		CreatedAt: t.now(),
		members:   map[ConnID]struct{}{a: {}, b: {}},
	}
	t.byID[s.ID] = s
	for _, c := range []*Connection{ca, cb} {
		c.SessionID = s.ID
		c.Mode = ModePairing
	}
	return s, nil
}

// GetOrCreateGroup returns the group room for key, creating it on first use.
//
// Postcondition: Repeated calls with the same key return the same session.
// created is true only for the call that allocated it.
func (t *Sessions) GetOrCreateGroup(key string) (s *Session, created bool) {
	if id, ok := t.byKey[key]; ok {
		return t.byID[id], false
	}
	s = &Session{
		ID:        t.newID(KindGroup),
		Kind:      KindGroup,
		Key:       key,
		CreatedAt: t.now(),
		members:   make(map[ConnID]struct{}),
	}
	t.byID[s.ID] = s
	t.byKey[key] = s.ID
	return s, true
}

// AddMember puts a registered connection into a group room.
//
// Postcondition: The connection has the room's SessionID and ModeGroup.
func (t *Sessions) AddMember(sid SessionID, id ConnID) error {
	s, ok := t.byID[sid]
	if !ok {
		return fmt.Errorf("joining session %q: %w", sid, ErrStaleReference)
	}
	if s.Kind != KindGroup {
		return fmt.Errorf("session %q is a pair session", sid)
	}
	c, ok := t.registry.Get(id)
	if !ok {
		return fmt.Errorf("joining session %q as %q: %w", sid, id, ErrStaleReference)
	}
	if c.InSession() {
		return fmt.Errorf("joining session %q as %q: %w", sid, id, ErrAlreadyInSession)
	}
	s.members[id] = struct{}{}
	c.SessionID = sid
	c.Mode = ModeGroup
	return nil
}

// RemoveMember takes id out of session sid. The connection need not be
// registered any more, so disconnect cleanup can run after Unregister.
//
// Postcondition: For a pair session the session is deleted and the other
// member's SessionID is cleared; that member is returned as remaining. A
// group session is never deleted and remaining is empty.
func (t *Sessions) RemoveMember(sid SessionID, id ConnID) (remaining ConnID, err error) {
	s, ok := t.byID[sid]
	if !ok || !s.Has(id) {
		return "", fmt.Errorf("leaving session %q as %q: %w", sid, id, ErrStaleReference)
	}
	delete(s.members, id)
	if c, ok := t.registry.Get(id); ok && c.SessionID == sid {
		c.SessionID = ""
		c.Mode = ModeNone
	}
	if s.Kind == KindGroup {
		return "", nil
	}

	delete(t.byID, sid)
	for m := range s.members {
		remaining = m
		delete(s.members, m)
		if c, ok := t.registry.Get(m); ok && c.SessionID == sid {
			c.SessionID = ""
		}
	}
	return remaining, nil
}

// Lookup returns the session id currently held by connection id.
func (t *Sessions) Lookup(id ConnID) (SessionID, bool) {
	c, ok := t.registry.Get(id)
	if !ok || !c.InSession() {
		return "", false
	}
	return c.SessionID, true
}

// Get returns the session with identifier sid.
func (t *Sessions) Get(sid SessionID) (*Session, bool) {
	s, ok := t.byID[sid]
	return s, ok
}

// Members returns the member ids of sid, or nil when it does not exist.
func (t *Sessions) Members(sid SessionID) []ConnID {
	s, ok := t.byID[sid]
	if !ok {
		return nil
	}
	return s.Members()
}

// Len returns the number of live sessions including empty group rooms.
func (t *Sessions) Len() int {
	return len(t.byID)
}

// PairCount returns the number of live pair sessions.
func (t *Sessions) PairCount() int {
	n := 0
	for _, s := range t.byID {
		if s.Kind == KindPair {
			n++
		}
	}
	return n
}
