// Package server provides the connection-level settings of the hub:
// runtime defaults, validation, and rate-limiting parameters.
package server

import (
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig defines per-connection inbound message limiting.
type RateLimitConfig struct {
	PerSecond float64
	Burst     int
}

func (r RateLimitConfig) limiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(r.PerSecond), r.Burst)
}

// Options holds hub settings including security controls.
type Options struct {
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig
	// SendBuffer is the per-client outbound queue length.
	SendBuffer int

	HeartbeatInterval time.Duration
	RestartBackoff    time.Duration
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		AllowedOrigins: []string{"*"},
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			PerSecond: 30,
			Burst:     60,
		},
		SendBuffer:        256,
		HeartbeatInterval: 30 * time.Second,
		RestartBackoff:    time.Second,
	}
}

func sanitizeOptions(opts Options) Options {
	def := DefaultOptions()

	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = def.MaxMessageSize
	}
	if opts.RateLimit.PerSecond <= 0 {
		opts.RateLimit.PerSecond = def.RateLimit.PerSecond
	}
	if opts.RateLimit.Burst <= 0 {
		opts.RateLimit.Burst = def.RateLimit.Burst
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = def.HeartbeatInterval
	}
	if opts.RestartBackoff <= 0 {
		opts.RestartBackoff = def.RestartBackoff
	}
	opts.AllowedOrigins = append([]string(nil), opts.AllowedOrigins...)
	return opts
}
