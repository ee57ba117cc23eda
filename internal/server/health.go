package server

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/cory-johannsen/strangers/internal/config"
)

// ChatServiceName is the health service name reported for the chat server.
// The empty name reports the same status.
const ChatServiceName = "strangers.Chat"

// HealthService serves grpc.health.v1.Health for load balancers and
// orchestrators.
type HealthService struct {
	cfg    config.HealthConfig
	logger *zap.Logger
	grpc   *grpc.Server
	health *health.Server

	mu       sync.Mutex
	listener net.Listener
	stopped  bool
	ready    chan struct{}
}

// NewHealthService creates a health endpoint reporting SERVING.
//
// Precondition: logger must be non-nil.
func NewHealthService(cfg config.HealthConfig, logger *zap.Logger) *HealthService {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	h := &HealthService{
		cfg:    cfg,
		logger: logger,
		grpc:   gs,
		health: hs,
		ready:  make(chan struct{}),
	}
	h.SetServing(true)
	return h
}

// SetServing flips the reported status of the chat service.
func (h *HealthService) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ChatServiceName, status)
}

// Start listens on the configured address and serves until Stop.
//
// Postcondition: Returns nil after Stop, or the listen/serve error.
func (h *HealthService) Start() error {
	ln, err := net.Listen("tcp", h.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.cfg.Addr(), err)
	}
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	h.listener = ln
	h.mu.Unlock()
	close(h.ready)

	h.logger.Info("gRPC health listening", zap.String("addr", ln.Addr().String()))
	if err := h.grpc.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serving health: %w", err)
	}
	return nil
}

// Stop reports NOT_SERVING to watchers and then stops the gRPC server,
// letting in-flight checks finish.
func (h *HealthService) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()

	h.health.Shutdown()
	h.grpc.GracefulStop()
}

// Ready is closed once the listener is bound.
func (h *HealthService) Ready() <-chan struct{} {
	return h.ready
}

// Addr returns the bound listening address, or "" before Start binds.
func (h *HealthService) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return ""
}
