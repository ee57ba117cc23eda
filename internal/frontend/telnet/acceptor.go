package telnet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/strangers/internal/config"
)

// ShutdownNotice is written to every open session when the acceptor stops.
const ShutdownNotice = "Server is shutting down. Goodbye."

// SessionHandler runs the command loop for one terminal client.
type SessionHandler interface {
	HandleSession(ctx context.Context, conn *Conn) error
}

// Acceptor listens for Telnet connections and hands each one to a
// SessionHandler.
type Acceptor struct {
	cfg     config.TelnetConfig
	handler SessionHandler
	logger  *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[*Conn]struct{}
	running  bool

	wg    sync.WaitGroup
	quit  chan struct{}
	ready chan struct{}
}

// NewAcceptor creates a Telnet acceptor.
//
// Precondition: handler and logger must be non-nil.
// Postcondition: Returns an Acceptor ready to be started with Start.
func NewAcceptor(cfg config.TelnetConfig, handler SessionHandler, logger *zap.Logger) *Acceptor {
	return &Acceptor{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		conns:   make(map[*Conn]struct{}),
		quit:    make(chan struct{}),
		ready:   make(chan struct{}),
	}
}

// Start listens on the configured address and accepts connections until
// Stop is called.
//
// Postcondition: Returns nil after Stop, or the listen error.
func (a *Acceptor) Start() error {
	lc := net.ListenConfig{KeepAlive: a.cfg.KeepAlive}
	if a.cfg.KeepAlive == 0 {
		lc.KeepAlive = -1
	}
	listener, err := lc.Listen(context.Background(), "tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}

	a.mu.Lock()
	select {
	case <-a.quit:
		a.mu.Unlock()
		_ = listener.Close()
		return nil
	default:
	}
	a.listener = listener
	a.running = true
	a.mu.Unlock()
	close(a.ready)

	a.logger.Info("telnet acceptor listening", zap.String("addr", listener.Addr().String()))

	for {
		raw, err := listener.Accept()
		if err != nil {
			select {
			case <-a.quit:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			a.logger.Error("accepting connection", zap.Error(err))
			continue
		}

		conn := NewConn(raw, a.cfg.LoginTimeout, a.cfg.WriteTimeout)
		if !a.track(conn) {
			_ = conn.Close()
			return nil
		}
		go a.serve(conn)
	}
}

// track registers conn for shutdown. It reports false once Stop has begun.
func (a *Acceptor) track(conn *Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return false
	}
	a.wg.Add(1)
	a.conns[conn] = struct{}{}
	return true
}

func (a *Acceptor) serve(conn *Conn) {
	defer a.wg.Done()
	start := time.Now()
	addr := conn.RemoteAddr().String()

	defer func() {
		a.mu.Lock()
		delete(a.conns, conn)
		a.mu.Unlock()
		_ = conn.Close()
	}()

	if err := conn.Negotiate(); err != nil {
		a.logger.Warn("telnet negotiation failed", zap.String("remote_addr", addr), zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-a.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := a.handler.HandleSession(ctx, conn)
	fields := []zap.Field{
		zap.String("remote_addr", addr),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Debug("session ended", append(fields, zap.Error(err))...)
		return
	}
	a.logger.Info("session ended cleanly", fields...)
}

// Stop closes the listener, tells every open session the server is going
// away, closes their connections and waits for the handlers to return.
//
// Postcondition: No session goroutines remain.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	select {
	case <-a.quit:
		a.mu.Unlock()
		return
	default:
	}
	close(a.quit)
	a.running = false
	if a.listener != nil {
		_ = a.listener.Close()
	}
	open := make([]*Conn, 0, len(a.conns))
	for conn := range a.conns {
		open = append(open, conn)
	}
	a.mu.Unlock()

	for _, conn := range open {
		_ = conn.Interrupt(Colorize(Yellow, ShutdownNotice))
		_ = conn.Close()
	}
	a.wg.Wait()
	a.logger.Info("telnet acceptor stopped")
}

// Ready is closed once the listener is bound.
func (a *Acceptor) Ready() <-chan struct{} {
	return a.ready
}

// Addr returns the bound listening address, or "" before Start binds.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// Active returns the number of open sessions.
func (a *Acceptor) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.conns)
}
