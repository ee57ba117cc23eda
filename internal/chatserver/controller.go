package chatserver

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/strangers/internal/lobby"
	"github.com/cory-johannsen/strangers/internal/protocol"
)

const (
	msgWaiting       = "Looking for someone you can chat with..."
	msgMatched       = "You're now chatting with a random stranger. Say hi!"
	msgPartnerLeft   = "Stranger has disconnected."
	msgPartnerRejoin = "Stranger has disconnected. Looking for someone new..."
	msgPeerGone      = "Your partner is no longer connected."
	msgLoginRequired = "Please log in first."
)

// Controller is the single owner of the registry, the pairing queue and the
// session table. Every exported method takes the controller lock for its
// whole state transition, including recipient resolution and the hand-off
// to the Transport. Session log writes happen after the lock is released.
type Controller struct {
	mu        sync.Mutex
	registry  *lobby.Registry
	queue     *lobby.Queue
	sessions  *lobby.Sessions
	transport Transport
	regions   RegionCatalog
	recorder  SessionRecorder
	opts      Options
	logger    *zap.Logger
	now       func() time.Time
}

// NewController creates a Controller with empty state.
//
// Precondition: transport, catalog and logger must be non-nil. A nil recorder disables the session log.
func NewController(transport Transport, catalog RegionCatalog, recorder SessionRecorder, opts Options, logger *zap.Logger) *Controller {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	if opts.RecordTimeout <= 0 {
		opts.RecordTimeout = DefaultOptions().RecordTimeout
	}
	registry := lobby.NewRegistry()
	return &Controller{
		registry:  registry,
		queue:     lobby.NewQueue(),
		sessions:  lobby.NewSessions(registry),
		transport: transport,
		regions:   catalog,
		recorder:  recorder,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// effects collects the session log writes of one state transition.
type effects struct {
	opened []SessionEvent
	closed []SessionEvent
}

// Connect registers a new connection and publishes the presence count.
//
// Precondition: id must be fresh.
// Postcondition: The connection is in the Connected state.
func (c *Controller) Connect(ctx context.Context, id lobby.ConnID, remoteAddr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.registry.Register(id, remoteAddr); err != nil {
		return err
	}
	c.logger.Debug("connection registered",
		zap.String("conn_id", string(id)),
		zap.String("remote_addr", remoteAddr),
	)
	c.publishPresence()
	return nil
}

// Disconnect removes a connection and cleans up its queue entry and
// session. A pair partner is told once and, with AutoRequeue, searches
// again. Calling Disconnect for an id that is already gone is a no-op.
func (c *Controller) Disconnect(ctx context.Context, id lobby.ConnID) {
	var fx effects
	c.mu.Lock()
	conn, err := c.registry.Unregister(id)
	if err == nil {
		c.queue.Remove(id)
		c.leaveSession(id, conn.Name, conn.SessionID, CloseDisconnect, &fx)
		c.publishPresence()
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Debug("disconnect of unknown connection", zap.String("conn_id", string(id)))
		return
	}
	c.logger.Debug("connection unregistered",
		zap.String("conn_id", string(id)),
		zap.Duration("elapsed", c.now().Sub(conn.ConnectedAt)),
	)
	c.record(ctx, fx)
}

// HandleRaw decodes one client frame and dispatches it. Malformed frames
// are reported to the sender as an error event.
func (c *Controller) HandleRaw(ctx context.Context, id lobby.ConnID, raw []byte) error {
	ev, err := protocol.Decode(raw)
	if err != nil {
		c.mu.Lock()
		if _, ok := c.registry.Get(id); ok {
			c.report(id, err)
		}
		c.mu.Unlock()
		return err
	}
	return c.Handle(ctx, id, ev)
}

// Handle applies one decoded client event. Errors are reported to the
// sending connection only and returned for logging; none of them affect
// other connections.
func (c *Controller) Handle(ctx context.Context, id lobby.ConnID, ev protocol.Event) error {
	var fx effects
	c.mu.Lock()
	conn, ok := c.registry.Get(id)
	var err error
	if !ok {
		err = lobby.ErrStaleReference
	} else {
		err = c.dispatch(conn, ev, &fx)
		if err != nil {
			c.report(id, err)
		}
	}
	c.mu.Unlock()

	c.record(ctx, fx)
	if err != nil && !errors.Is(err, lobby.ErrStaleReference) {
		c.logger.Debug("event rejected",
			zap.String("conn_id", string(id)),
			zap.String("event", ev.EventName()),
			zap.Error(err),
		)
	}
	return err
}

func (c *Controller) dispatch(conn *lobby.Connection, ev protocol.Event, fx *effects) error {
	switch e := ev.(type) {
	case protocol.Login:
		return c.login(conn, e)
	case protocol.JoinPair:
		return c.joinPair(conn, fx)
	case protocol.JoinGroup:
		return c.joinGroup(conn, e.Region, fx)
	case protocol.JoinChat:
		return c.joinChat(conn, e, fx)
	case protocol.Leave:
		return c.leave(conn, fx)
	case protocol.SendMessage:
		return c.relayMessage(conn, e)
	case protocol.Typing:
		return c.relayTyping(conn, e.Active)
	case protocol.Signal:
		return c.relaySignal(conn, e.Kind, e.Data)
	default:
		return lobby.Invalid("event", "unsupported event "+ev.EventName())
	}
}

// Precondition: caller holds c.mu.
func (c *Controller) login(conn *lobby.Connection, e protocol.Login) error {
	name, age, err := c.validateProfile(e.Name, e.Age)
	if err != nil {
		return err
	}
	if _, err := c.registry.UpdateProfile(conn.ID, name, age); err != nil {
		return err
	}
	c.emit(conn.ID, protocol.EventLoginSuccess, protocol.LoginSuccess{Name: name})
	c.publishPresence()
	return nil
}

// Precondition: caller holds c.mu.
func (c *Controller) joinPair(conn *lobby.Connection, fx *effects) error {
	if !conn.LoggedIn() {
		return lobby.ErrNotLoggedIn
	}
	if conn.State() == lobby.StateQueued {
		c.emit(conn.ID, protocol.EventWaiting, protocol.Notice{Message: msgWaiting})
		return nil
	}
	c.leaveSession(conn.ID, conn.Name, conn.SessionID, CloseRematch, fx)
	conn.Mode = lobby.ModePairing
	c.enqueueAndMatch(conn.ID, fx)
	return nil
}

// Precondition: caller holds c.mu.
func (c *Controller) joinGroup(conn *lobby.Connection, regionID string, fx *effects) error {
	if !conn.LoggedIn() {
		return lobby.ErrNotLoggedIn
	}
	region, ok := c.regions.Lookup(regionID)
	if !ok {
		return lobby.Invalid("region", "unknown region "+regionID)
	}
	key := region.RoomKey()

	if conn.State() == lobby.StateGrouped {
		if s, ok := c.sessions.Get(conn.SessionID); ok && s.Key == key {
			c.emit(conn.ID, protocol.EventGroupJoined, protocol.GroupJoined{Region: region.ID, Room: key})
			c.emit(conn.ID, protocol.EventRoomCount, protocol.RoomCount{Room: key, Count: s.Len()})
			return nil
		}
	}

	c.queue.Remove(conn.ID)
	c.leaveSession(conn.ID, conn.Name, conn.SessionID, CloseLeft, fx)

	room, created := c.sessions.GetOrCreateGroup(key)
	if created {
		fx.opened = append(fx.opened, SessionEvent{
			SessionID: room.ID,
			Kind:      lobby.KindGroup,
			RoomKey:   key,
			OpenedAt:  room.CreatedAt,
		})
	}
	others := room.Members()
	if err := c.sessions.AddMember(room.ID, conn.ID); err != nil {
		return err
	}

	c.emit(conn.ID, protocol.EventGroupJoined, protocol.GroupJoined{Region: region.ID, Room: key})
	c.emitMany(others, protocol.EventUserJoined, protocol.Presence{User: conn.Name, Room: key})
	c.emitMany(room.Members(), protocol.EventRoomCount, protocol.RoomCount{Room: key, Count: room.Len()})
	return nil
}

// Precondition: caller holds c.mu.
func (c *Controller) joinChat(conn *lobby.Connection, e protocol.JoinChat, fx *effects) error {
	if e.Mode == protocol.ChatModeGroup {
		if _, ok := c.regions.Lookup(e.Region); !ok {
			return lobby.Invalid("region", "unknown region "+e.Region)
		}
	}
	if err := c.login(conn, e.Login); err != nil {
		return err
	}
	if e.Mode == protocol.ChatModeGroup {
		return c.joinGroup(conn, e.Region, fx)
	}
	return c.joinPair(conn, fx)
}

// Precondition: caller holds c.mu.
func (c *Controller) leave(conn *lobby.Connection, fx *effects) error {
	c.queue.Remove(conn.ID)
	c.leaveSession(conn.ID, conn.Name, conn.SessionID, CloseLeft, fx)
	conn.Mode = lobby.ModeNone
	c.emit(conn.ID, protocol.EventLeft, protocol.Empty{})
	return nil
}

// leaveSession takes id out of session sid and notifies whoever remains.
// The connection may already be unregistered.
//
// Precondition: caller holds c.mu.
func (c *Controller) leaveSession(id lobby.ConnID, name string, sid lobby.SessionID, reason string, fx *effects) {
	if sid == "" {
		return
	}
	s, ok := c.sessions.Get(sid)
	if !ok {
		return
	}
	members := s.Len()
	remaining, err := c.sessions.RemoveMember(sid, id)
	if err != nil {
		c.logger.Debug("leaving session", zap.String("session_id", string(sid)), zap.Error(err))
		return
	}

	if s.Kind == lobby.KindGroup {
		others := s.Members()
		c.emitMany(others, protocol.EventUserLeft, protocol.Presence{User: name, Room: s.Key})
		c.emitMany(others, protocol.EventRoomCount, protocol.RoomCount{Room: s.Key, Count: s.Len()})
		return
	}

	fx.closed = append(fx.closed, SessionEvent{
		SessionID: sid,
		Kind:      lobby.KindPair,
		Members:   members,
		OpenedAt:  s.CreatedAt,
		ClosedAt:  c.now(),
		Reason:    reason,
	})
	if remaining != "" {
		c.abandon(remaining, fx)
	}
}

// abandon tells a pair member that its partner is gone and, with
// AutoRequeue, puts it back in the queue.
//
// Precondition: caller holds c.mu.
func (c *Controller) abandon(id lobby.ConnID, fx *effects) {
	partner, ok := c.registry.Get(id)
	if !ok {
		return
	}
	if !c.opts.AutoRequeue {
		partner.Mode = lobby.ModeNone
		c.emit(id, protocol.EventUserDisconnected, protocol.Notice{Message: msgPartnerLeft})
		return
	}
	c.emit(id, protocol.EventUserDisconnected, protocol.Notice{Message: msgPartnerRejoin})
	partner.Mode = lobby.ModePairing
	c.enqueueAndMatch(id, fx)
}

// enqueueAndMatch queues id and pairs the two oldest waiting connections
// when possible. The queue never holds more than one entry between calls.
//
// Precondition: caller holds c.mu; id is registered with ModePairing and no session.
func (c *Controller) enqueueAndMatch(id lobby.ConnID, fx *effects) {
	c.queue.Enqueue(id)
	first, second, ok := c.queue.DequeuePair()
	if !ok {
		c.emit(id, protocol.EventWaiting, protocol.Notice{Message: msgWaiting})
		return
	}
	if first == second {
		c.queue.PushFront(first)
		c.emit(id, protocol.EventWaiting, protocol.Notice{Message: msgWaiting})
		return
	}

	s, err := c.sessions.CreatePair(first, second)
	if err != nil {
		c.logger.Warn("pairing failed",
			zap.String("first", string(first)),
			zap.String("second", string(second)),
			zap.Error(err),
		)
		for _, back := range []lobby.ConnID{second, first} {
			if conn, ok := c.registry.Get(back); ok && conn.State() == lobby.StateQueued {
				c.queue.PushFront(back)
			}
		}
		if c.queue.Contains(id) {
			c.emit(id, protocol.EventWaiting, protocol.Notice{Message: msgWaiting})
		}
		return
	}

	fx.opened = append(fx.opened, SessionEvent{
		SessionID: s.ID,
		Kind:      lobby.KindPair,
		Members:   2,
		OpenedAt:  s.CreatedAt,
	})
	caller, _ := c.registry.Get(first)
	callee, _ := c.registry.Get(second)
	c.emit(first, protocol.EventMatched, protocol.Matched{
		Room: string(s.ID), Partner: callee.Name, IsCaller: true, Message: msgMatched,
	})
	c.emit(second, protocol.EventMatched, protocol.Matched{
		Room: string(s.ID), Partner: caller.Name, IsCaller: false, Message: msgMatched,
	})
	c.logger.Debug("pair matched",
		zap.String("session_id", string(s.ID)),
		zap.String("caller", string(first)),
		zap.String("callee", string(second)),
	)
}

// report tells the offending connection why its request was rejected.
//
// Precondition: caller holds c.mu.
func (c *Controller) report(id lobby.ConnID, err error) {
	var ve *lobby.ValidationError
	switch {
	case errors.As(err, &ve) && isProfileField(ve):
		c.emit(id, protocol.EventLoginError, protocol.Notice{Message: ve.Error()})
	case errors.As(err, &ve):
		c.emit(id, protocol.EventError, protocol.ErrorNotice{Code: protocol.CodeInvalidEvent, Message: ve.Error()})
	case errors.Is(err, lobby.ErrNotLoggedIn):
		c.emit(id, protocol.EventError, protocol.ErrorNotice{Code: protocol.CodeLoginRequired, Message: msgLoginRequired})
	case errors.Is(err, lobby.ErrNoPartnerAvailable):
		c.emit(id, protocol.EventPeerGone, protocol.Notice{Message: msgPeerGone})
	case errors.Is(err, lobby.ErrStaleReference):
	default:
		c.logger.Error("handling event", zap.String("conn_id", string(id)), zap.Error(err))
		c.emit(id, protocol.EventError, protocol.ErrorNotice{Code: protocol.CodeInternal, Message: "Something went wrong."})
	}
}

func (c *Controller) emit(to lobby.ConnID, event string, payload any) {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		c.logger.Error("building envelope", zap.String("event", event), zap.Error(err))
		return
	}
	c.transport.Send(to, env)
}

func (c *Controller) emitMany(to []lobby.ConnID, event string, payload any) {
	if len(to) == 0 {
		return
	}
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		c.logger.Error("building envelope", zap.String("event", event), zap.Error(err))
		return
	}
	c.transport.SendMany(to, env)
}

// record writes collected session events to the recorder. It runs without
// the controller lock and outlives a cancelled caller context.
func (c *Controller) record(ctx context.Context, fx effects) {
	if len(fx.opened) == 0 && len(fx.closed) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.RecordTimeout)
	defer cancel()

	for _, ev := range fx.opened {
		if err := c.recorder.SessionOpened(ctx, ev); err != nil {
			c.logger.Warn("recording session open", zap.String("session_id", string(ev.SessionID)), zap.Error(err))
		}
	}
	for _, ev := range fx.closed {
		if err := c.recorder.SessionClosed(ctx, ev); err != nil {
			c.logger.Warn("recording session close", zap.String("session_id", string(ev.SessionID)), zap.Error(err))
		}
	}
}
