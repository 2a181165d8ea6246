package discovery

import (
	"log/slog"
	"time"
)

type config struct {
	startPort uint16
	endPort   uint16
	attempts  uint
	interval  time.Duration
	logger    *slog.Logger
}

type option func(config) config

func WithPortRange(startPort, endPort uint16) option {
	return func(c config) config {
		c.startPort = startPort
		c.endPort = endPort
		return c
	}
}

func WithPort(port uint16) option {
	return WithPortRange(port, port)
}

// WithAttempts sets how many times the port range is scanned.
func WithAttempts(attempts uint) option {
	return func(c config) config {
		c.attempts = attempts
		return c
	}
}

// WithInterval sets the pause between two scans.
func WithInterval(interval time.Duration) option {
	return func(c config) config {
		c.interval = interval
		return c
	}
}

func WithLogger(logger *slog.Logger) option {
	return func(c config) config {
		c.logger = logger
		return c
	}
}
