package chatserver

import (
	"time"

	"github.com/cory-johannsen/strangers/internal/config"
)

// Options tunes matchmaking and input limits.
type Options struct {
	AutoRequeue   bool
	MinAge        int
	MaxAge        int
	MaxNameLength int
	MaxTextLength int
	MaxAudioBytes int
	// RecordTimeout bounds each session log write.
	RecordTimeout time.Duration
}

// DefaultOptions returns the limits used when no configuration is given.
func DefaultOptions() Options {
	return Options{
		AutoRequeue:   true,
		MinAge:        13,
		MaxAge:        120,
		MaxNameLength: 32,
		MaxTextLength: 2000,
		MaxAudioBytes: 512 * 1024,
		RecordTimeout: 2 * time.Second,
	}
}

// OptionsFromConfig maps the matchmaking section onto Options.
func OptionsFromConfig(cfg config.MatchmakingConfig) Options {
	opts := DefaultOptions()
	opts.AutoRequeue = cfg.AutoRequeue
	opts.MinAge = cfg.MinAge
	opts.MaxAge = cfg.MaxAge
	opts.MaxNameLength = cfg.MaxNameLength
	opts.MaxTextLength = cfg.MaxTextLength
	opts.MaxAudioBytes = cfg.MaxAudioBytes
	return opts
}
