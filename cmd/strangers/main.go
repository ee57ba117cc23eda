// Package main runs the anonymous chat server. It wires together
// configuration, the optional session log, the websocket and Telnet
// frontends, the gRPC health endpoint, and the lobby controller.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/strangers/internal/chatserver"
	"github.com/cory-johannsen/strangers/internal/config"
	"github.com/cory-johannsen/strangers/internal/frontend/handlers"
	"github.com/cory-johannsen/strangers/internal/frontend/telnet"
	"github.com/cory-johannsen/strangers/internal/frontend/websocket"
	"github.com/cory-johannsen/strangers/internal/observability"
	"github.com/cory-johannsen/strangers/internal/regions"
	"github.com/cory-johannsen/strangers/internal/server"
	"github.com/cory-johannsen/strangers/internal/storage/postgres"
	"github.com/cory-johannsen/strangers/internal/transport"
)

// closeReasonRestart marks sessions left open by a previous process.
const closeReasonRestart = "restart"

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	regionsDir := flag.String("regions", "", "path to region YAML files directory (overrides matchmaking.regions_dir)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, cfg.Server.Name)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting strangers chat server",
		zap.String("name", cfg.Server.Name),
		zap.Bool("telnet", cfg.Telnet.Enabled),
		zap.Bool("session_log", cfg.Database.Enabled),
	)

	dir := cfg.Matchmaking.RegionsDir
	if *regionsDir != "" {
		dir = *regionsDir
	}
	catalog, err := regions.Load(dir)
	if err != nil {
		logger.Fatal("loading regions", zap.String("dir", dir), zap.Error(err))
	}
	logger.Info("regions loaded", zap.Int("count", len(catalog.All())), zap.String("dir", dir))

	ctx := context.Background()
	lifecycle := server.NewLifecycle(logger)

	var recorder chatserver.SessionRecorder = chatserver.NopRecorder{}
	if cfg.Database.Enabled {
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Int("port", cfg.Database.Port),
			zap.String("database", cfg.Database.Name),
			zap.Duration("elapsed", time.Since(dbStart)),
		)

		sessionLog := postgres.NewSessionLog(pool.DB())
		if n, err := sessionLog.CloseAllOpen(ctx, closeReasonRestart); err != nil {
			logger.Warn("settling orphaned sessions", zap.Error(err))
		} else if n > 0 {
			logger.Info("closed orphaned sessions", zap.Int64("count", n))
		}
		recorder = sessionLog

		lifecycle.Add("postgres", dbMonitor(pool, logger))
	}

	hub := transport.NewHub(cfg.WebSocket.SendBuffer, logger)
	controller := chatserver.NewController(hub, catalog, recorder, chatserver.OptionsFromConfig(cfg.Matchmaking), logger)

	ws := websocket.NewServer(cfg.WebSocket, cfg.RateLimit, controller, hub, catalog, logger)
	lifecycle.Add("websocket", ws)

	if cfg.Telnet.Enabled {
		chat := handlers.NewChatHandler(controller, hub, catalog, logger)
		lifecycle.Add("telnet", telnet.NewAcceptor(cfg.Telnet, chat, logger))
	}

	if cfg.Health.Enabled {
		health := server.NewHealthService(cfg.Health, logger)
		// Registered last so it is stopped first and reports NOT_SERVING
		// while the frontends drain.
		lifecycle.Add("health", health)
	}

	logger.Info("server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("websocket_addr", cfg.WebSocket.Addr()),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// dbMonitor periodically checks the database until stopped, then closes
// the pool.
func dbMonitor(pool *postgres.Pool, logger *zap.Logger) server.Service {
	quit := make(chan struct{})
	return &server.FuncService{
		StartFn: func() error {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-quit:
					return nil
				case <-ticker.C:
					if err := pool.Health(context.Background(), 5*time.Second); err != nil {
						logger.Warn("database health check failed", zap.Error(err))
					}
				}
			}
		},
		StopFn: func() {
			close(quit)
			pool.Close()
		},
	}
}
