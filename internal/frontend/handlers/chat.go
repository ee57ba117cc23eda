// Package handlers runs terminal chat sessions on top of the Telnet
// frontend.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cory-johannsen/strangers/internal/frontend/telnet"
	"github.com/cory-johannsen/strangers/internal/lobby"
	"github.com/cory-johannsen/strangers/internal/observability"
	"github.com/cory-johannsen/strangers/internal/protocol"
	"github.com/cory-johannsen/strangers/internal/regions"
	"github.com/cory-johannsen/strangers/internal/transport"
)

const (
	banner  = "Talk to strangers. Be kind."
	goodbye = "Goodbye!"
)

var prompt = telnet.Colorize(telnet.BrightWhite, "> ")

// Core is the chat engine driven by a terminal session.
type Core interface {
	Connect(ctx context.Context, id lobby.ConnID, remoteAddr string) error
	Disconnect(ctx context.Context, id lobby.ConnID)
	Handle(ctx context.Context, id lobby.ConnID, ev protocol.Event) error
	Roster(id lobby.ConnID) (room string, names []string, err error)
}

// Outlets hands out the per-connection event queues.
type Outlets interface {
	Attach(id lobby.ConnID) *transport.Outlet
	Detach(id lobby.ConnID)
}

// RegionLister enumerates the joinable group regions.
type RegionLister interface {
	All() []*regions.Region
}

// ChatHandler implements telnet.SessionHandler for anonymous chat.
type ChatHandler struct {
	core    Core
	outlets Outlets
	regions RegionLister
	logger  *zap.Logger
}

// NewChatHandler creates a ChatHandler.
//
// Precondition: all arguments must be non-nil.
func NewChatHandler(core Core, outlets Outlets, regions RegionLister, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		core:    core,
		outlets: outlets,
		regions: regions,
		logger:  logger,
	}
}

// session is the per-client state shared by the input loop and the pump.
type session struct {
	id     lobby.ConnID
	conn   *telnet.Conn
	logger *zap.Logger
	online atomic.Int64
}

// HandleSession registers the client as a chat connection, renders its
// events as they arrive and turns each input line into a chat event.
//
// Postcondition: The connection is unregistered and its outlet detached on return.
func (h *ChatHandler) HandleSession(ctx context.Context, conn *telnet.Conn) error {
	s := &session{
		id:   lobby.NewConnID(),
		conn: conn,
	}
	addr := conn.RemoteAddr().String()
	s.logger = observability.ConnLogger(h.logger, "telnet", s.id, addr)

	outlet := h.outlets.Attach(s.id)
	if err := h.core.Connect(ctx, s.id, addr); err != nil {
		h.outlets.Detach(s.id)
		return fmt.Errorf("registering connection: %w", err)
	}
	pumped := make(chan struct{})
	go s.pump(outlet, pumped)
	defer func() {
		h.core.Disconnect(ctx, s.id)
		h.outlets.Detach(s.id)
		<-pumped
	}()

	_ = conn.WriteLine(telnet.Colorize(telnet.BrightGreen, banner))
	_ = conn.WriteLine(helpText())

	for {
		if err := conn.SetPrompt(prompt); err != nil {
			return fmt.Errorf("writing prompt: %w", err)
		}
		line, err := conn.ReadLine()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		quit, err := h.dispatch(ctx, s, line)
		if quit {
			_ = conn.WriteLine(telnet.Colorize(telnet.Cyan, goodbye))
			return nil
		}
		if err != nil {
			s.logger.Debug("command failed", zap.Error(err))
		}
	}
}

// dispatch runs one input line. Rejections by the chat core arrive
// asynchronously through the outlet; local usage errors are written here.
func (h *ChatHandler) dispatch(ctx context.Context, s *session, line string) (quit bool, err error) {
	cmd, err := ParseCommand(line)
	if err != nil {
		return false, s.conn.WriteLine(telnet.Colorize(telnet.Red, err.Error()))
	}

	switch cmd.Name {
	case CmdQuit:
		return true, nil
	case CmdHelp:
		return false, s.conn.WriteLine(helpText())
	case CmdRegions:
		return false, s.conn.WriteLine(RenderRegions(h.regions.All()))
	case CmdWho:
		return false, h.who(s)
	}

	ev, err := cmd.Event()
	if err != nil {
		return false, s.conn.WriteLine(telnet.Colorize(telnet.Red, err.Error()))
	}
	if ev == nil {
		return false, nil
	}
	return false, h.core.Handle(ctx, s.id, ev)
}

func (h *ChatHandler) who(s *session) error {
	room, names, err := h.core.Roster(s.id)
	if errors.Is(err, lobby.ErrNotLoggedIn) {
		return s.conn.WriteLine(telnet.Colorize(telnet.Red, "Log in first with /login <name> <age>."))
	}
	if err != nil {
		return err
	}
	out := RenderRoster(room, names)
	if n := s.online.Load(); n > 0 {
		out += "\r\n" + telnet.Colorf(telnet.Dim, "%d online.", n)
	}
	return s.conn.WriteLine(out)
}

// pump renders outlet events until the outlet closes. A closed outlet
// means the session ended or the hub evicted this client; either way the
// connection is closed so the input loop unblocks.
func (s *session) pump(outlet *transport.Outlet, done chan<- struct{}) {
	defer close(done)
	defer func() { _ = s.conn.Close() }()

	broken := false
	for env := range outlet.Events() {
		switch env.Event {
		case protocol.EventServerStats:
			var stats protocol.ServerStats
			if decode(env, &stats) {
				s.online.Store(int64(stats.Count))
			}
			continue
		case protocol.EventLoginSuccess:
			// Logged-in users may sit in the queue or read quietly for as long as they like.
			s.conn.SetReadTimeout(0)
		}
		text := RenderEnvelope(env)
		if text == "" || broken {
			continue
		}
		if err := s.conn.Interrupt(text); err != nil {
			s.logger.Debug("writing event", zap.String("event", env.Event), zap.Error(err))
			broken = true
			_ = s.conn.Close()
		}
	}
}

func helpText() string {
	return telnet.Colorize(telnet.BrightWhite, "Commands:") + "\r\n" +
		telnet.Colorize(telnet.Green, "  /login <name> <age>") + "  set your name and age\r\n" +
		telnet.Colorize(telnet.Green, "  /pair") + "                talk to a random stranger (/next leaves and searches again)\r\n" +
		telnet.Colorize(telnet.Green, "  /group [region]") + "      join a group room, global by default\r\n" +
		telnet.Colorize(telnet.Green, "  /regions") + "             list group rooms\r\n" +
		telnet.Colorize(telnet.Green, "  /who") + "                 list who you are talking to\r\n" +
		telnet.Colorize(telnet.Green, "  /leave") + "               end the conversation\r\n" +
		telnet.Colorize(telnet.Green, "  /quit") + "                disconnect\r\n" +
		"Anything else is sent as a message."
}
