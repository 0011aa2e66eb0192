package api

import (
	"log/slog"
	"time"
)

// Timeouts applied by WithDefaults. A mnemonic round trip touches the
// identity provider and one document store, so writes get the longer budget.
const (
	DefaultReadTimeout      = 15 * time.Second
	DefaultWriteTimeout     = 60 * time.Second
	DefaultShutdownDuration = 30 * time.Second
)

// ServerConfig configures the backup API server.
type ServerConfig struct {
	ListenAddr string
	// MetricsAddr is where Prometheus metrics are served. Empty disables the
	// metrics listener.
	MetricsAddr string
	// EnablePprof mounts net/http/pprof under /debug.
	EnablePprof bool

	Log *slog.Logger

	// DrainDuration is how long Shutdown reports not-ready before it stops
	// accepting requests.
	DrainDuration            time.Duration
	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
}

// WithDefaults returns a copy with unset timeouts and logger filled in.
func (c ServerConfig) WithDefaults() *ServerConfig {
	if c.Log == nil {
		c.Log = slog.Default()
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.GracefulShutdownDuration == 0 {
		c.GracefulShutdownDuration = DefaultShutdownDuration
	}
	return &c
}
