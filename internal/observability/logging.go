// Package observability provides the structured loggers used across the chat server.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/strangers/internal/config"
	"github.com/cory-johannsen/strangers/internal/lobby"
)

// NewLogger creates a structured logger from the given logging configuration.
// Every entry carries the instance name under the "server" key.
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error".
// Precondition: cfg.Format must be "json" or "console".
// Postcondition: Returns a configured zap.Logger or a non-nil error.
func NewLogger(cfg config.LoggingConfig, instance string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	switch cfg.Format {
	case "json":
		zapCfg = zap.NewProductionConfig()
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if instance != "" {
		zapCfg.InitialFields = map[string]interface{}{"server": instance}
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

// ConnLogger scopes logger to one client connection.
func ConnLogger(logger *zap.Logger, frontend string, id lobby.ConnID, remoteAddr string) *zap.Logger {
	return logger.With(
		zap.String("frontend", frontend),
		zap.String("conn_id", string(id)),
		zap.String("remote_addr", remoteAddr),
	)
}
