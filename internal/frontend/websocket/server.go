// Package websocket serves the browser frontend: the static chat page, the
// websocket endpoint carrying JSON envelopes, and small JSON status routes.
package websocket

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/cory-johannsen/strangers/internal/chatserver"
	"github.com/cory-johannsen/strangers/internal/config"
	"github.com/cory-johannsen/strangers/internal/lobby"
	"github.com/cory-johannsen/strangers/internal/observability"
	"github.com/cory-johannsen/strangers/internal/protocol"
	"github.com/cory-johannsen/strangers/internal/regions"
	"github.com/cory-johannsen/strangers/internal/transport"
)

//go:embed static
var staticFiles embed.FS

const shutdownTimeout = 5 * time.Second

// Core is the chat engine behind every websocket.
type Core interface {
	Connect(ctx context.Context, id lobby.ConnID, remoteAddr string) error
	Disconnect(ctx context.Context, id lobby.ConnID)
	HandleRaw(ctx context.Context, id lobby.ConnID, raw []byte) error
	Handle(ctx context.Context, id lobby.ConnID, ev protocol.Event) error
	Stats() chatserver.Stats
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

// Server is the HTTP and websocket frontend.
type Server struct {
	cfg     config.WebSocketConfig
	limits  config.RateLimitConfig
	core    Core
	outlets Outlets
	regions RegionLister
	logger  *zap.Logger

	upgrader websocket.Upgrader
	router   *httprouter.Router
	http     *http.Server

	mu       sync.Mutex
	listener net.Listener
	clients  map[*client]struct{}
	stopping bool
	wg       sync.WaitGroup
	ready    chan struct{}
}

// NewServer creates the frontend and its routes. Zero timing fields fall
// back to the configuration defaults.
//
// Precondition: core, outlets, regions and logger must be non-nil.
func NewServer(cfg config.WebSocketConfig, limits config.RateLimitConfig, core Core, outlets Outlets, regions RegionLister, logger *zap.Logger) *Server {
	cfg = withDefaults(cfg)
	s := &Server{
		cfg:     cfg,
		limits:  limits,
		core:    core,
		outlets: outlets,
		regions: regions,
		logger:  logger,
		router:  httprouter.New(),
		clients: make(map[*client]struct{}),
		ready:   make(chan struct{}),
	}
	policy := NewOriginPolicy(cfg.AllowedOrigins, logger)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     policy.Allow,
	}
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.routes()
	return s
}

func withDefaults(cfg config.WebSocketConfig) config.WebSocketConfig {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 1 << 20
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return cfg
}

func (s *Server) routes() {
	page, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(fmt.Sprintf("embedded static files: %v", err))
	}
	index := http.FileServer(http.FS(page))

	s.router.GET("/", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		index.ServeHTTP(w, r)
	})
	s.router.GET(s.cfg.Path, s.serveWebSocket)
	s.router.GET("/healthz", s.serveHealth)
	s.router.GET("/regions", s.serveRegions)
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until Stop.
//
// Postcondition: Returns nil after Stop, or the listen/serve error.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()
	close(s.ready)

	s.logger.Info("websocket server listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("path", s.cfg.Path),
	)
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

// Stop stops accepting requests, sends every open websocket a going-away
// close frame and waits for their pumps to finish.
//
// Postcondition: Every client has been disconnected from the core.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	open := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		open = append(open, c)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
	for _, c := range open {
		c.goAway("server shutting down")
	}
	s.wg.Wait()
	s.logger.Info("websocket server stopped")
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listening address, or "" before Start binds.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Active returns the number of open websockets.
func (s *Server) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	id := lobby.NewConnID()
	c := &client{
		id:      id,
		conn:    conn,
		limiter: newLimiter(s.limits),
		core:    s.core,
		cfg:     s.cfg,
		logger:  observability.ConnLogger(s.logger, "websocket", id, r.RemoteAddr),
		written: make(chan struct{}),
	}
	if !s.track(c) {
		c.goAway("server shutting down")
		return
	}
	defer s.untrack(c)

	ctx := context.WithoutCancel(r.Context())
	c.outlet = s.outlets.Attach(id)
	if err := s.core.Connect(ctx, id, r.RemoteAddr); err != nil {
		c.logger.Error("registering connection", zap.Error(err))
		s.outlets.Detach(id)
		_ = conn.Close()
		return
	}
	c.logger.Info("websocket connected")

	go c.writePump()
	c.readPump(ctx)

	s.core.Disconnect(ctx, id)
	s.outlets.Detach(id)
	<-c.written
	c.logger.Info("websocket disconnected")
}

func (s *Server) track(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.wg.Add(1)
	s.clients[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	s.wg.Done()
}

type healthResponse struct {
	Status string `json:"status"`
	chatserver.Stats
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Stats: s.core.Stats()})
}

type regionView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Room        string `json:"room"`
}

func (s *Server) serveRegions(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	all := s.regions.All()
	out := make([]regionView, 0, len(all))
	for _, r := range all {
		out = append(out, regionView{
			ID:          r.ID,
			Name:        r.DisplayName(),
			Description: r.Description,
			Room:        r.RoomKey(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
