package websocket

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cory-johannsen/strangers/internal/config"
	"github.com/cory-johannsen/strangers/internal/lobby"
	"github.com/cory-johannsen/strangers/internal/protocol"
	"github.com/cory-johannsen/strangers/internal/transport"
)

const rateLimitedMessage = "You are sending too fast. Slow down."

// client pumps one websocket connection between the chat core and the
// browser. The read pump runs on the HTTP handler goroutine and the write
// pump on its own.
type client struct {
	id      lobby.ConnID
	conn    *websocket.Conn
	outlet  *transport.Outlet
	limiter *rate.Limiter
	core    Core
	cfg     config.WebSocketConfig
	logger  *zap.Logger

	written chan struct{}
}

func newLimiter(cfg config.RateLimitConfig) *rate.Limiter {
	if cfg.EventsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), burst)
}

// readPump feeds inbound frames to the core until the connection fails.
// Text frames carry envelopes; binary frames are voice messages.
func (c *client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(c.cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if !c.limiter.Allow() {
			c.rejectRateLimited()
			continue
		}

		switch kind {
		case websocket.TextMessage:
			err = c.core.HandleRaw(ctx, c.id, data)
		case websocket.BinaryMessage:
			err = c.core.Handle(ctx, c.id, protocol.SendMessage{Audio: data})
		}
		if errors.Is(err, lobby.ErrStaleReference) {
			return
		}
	}
}

func (c *client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Info("frame exceeded size limit", zap.Int64("limit", c.cfg.MaxMessageBytes))
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.logger.Debug("client closed connection")
	case websocket.IsUnexpectedCloseError(err, websocket.CloseAbnormalClosure):
		c.logger.Info("unexpected close", zap.Error(err))
	default:
		c.logger.Debug("read ended", zap.Error(err))
	}
}

// rejectRateLimited tells the client its frame was dropped. The notice
// bypasses the core since the frame never reached it.
func (c *client) rejectRateLimited() {
	env, err := protocol.NewEnvelope(protocol.EventError, protocol.ErrorNotice{
		Code:    protocol.CodeRateLimited,
		Message: rateLimitedMessage,
	})
	if err != nil {
		return
	}
	if err := c.outlet.Push(env); err != nil {
		c.logger.Debug("dropping rate limit notice", zap.Error(err))
	}
}

// writePump drains the outlet onto the socket and keeps the connection
// alive with pings. When the outlet closes it sends a close frame and
// closes the socket, which also ends the read pump.
func (c *client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		close(c.written)
	}()

	for {
		select {
		case env, ok := <-c.outlet.Events():
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			data, err := env.Marshal()
			if err != nil {
				c.logger.Error("encoding envelope", zap.String("event", env.Event), zap.Error(err))
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", zap.String("event", env.Event), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// goAway sends a going-away close frame and closes the socket.
func (c *client) goAway(reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout))
	_ = c.conn.Close()
}
