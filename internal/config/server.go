// SPDX-License-Identifier: MIT

package config

import (
	"strings"
	"time"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// ListenAddr is the host:port to bind, ":8080" style.
	ListenAddr string

	// ReadHeaderTimeout bounds how long the server waits for request headers.
	ReadHeaderTimeout time.Duration

	// IdleTimeout caps how long a keep-alive connection may sit idle.
	IdleTimeout time.Duration

	// MaxHeaderBytes limits the request header size the server will parse.
	MaxHeaderBytes int

	// ShutdownTimeout bounds the graceful drain on SIGTERM.
	ShutdownTimeout time.Duration
}

const (
	// Default server timeouts. Full read and write timeouts are absent on
	// purpose: a deadline armed before a websocket hijack keeps firing on the
	// hijacked conn and would cut every session at the first interval.
	defaultReadHeaderTimeout = 10 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	defaultMaxHeaderBytes    = 1 << 20 // 1 MB
	defaultShutdownTimeout   = 15 * time.Second
)

// ParseServerConfig resolves the HTTP server configuration with the usual
// ENV > resolved app config > defaults precedence.
func ParseServerConfig(cfg App) ServerConfig {
	listen := strings.TrimSpace(cfg.ListenAddr)
	if listen == "" {
		listen = defaultListenAddr
	}

	maxHeaderBytes := ParseInt("LARDER_SERVER_MAX_HEADER_BYTES", defaultMaxHeaderBytes)
	if maxHeaderBytes <= 0 {
		maxHeaderBytes = defaultMaxHeaderBytes
	}

	shutdownTimeout := ParseDuration("LARDER_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout)
	if shutdownTimeout < 3*time.Second {
		shutdownTimeout = 3 * time.Second
	}

	return ServerConfig{
		ListenAddr:        listen,
		ReadHeaderTimeout: ParseDuration("LARDER_SERVER_READ_HEADER_TIMEOUT", defaultReadHeaderTimeout),
		IdleTimeout:       ParseDuration("LARDER_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		MaxHeaderBytes:    maxHeaderBytes,
		ShutdownTimeout:   shutdownTimeout,
	}
}
