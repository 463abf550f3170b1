// SPDX-License-Identifier: MIT

// Package realtime owns the server side of client connections: the
// process-local connection registry, the WebSocket session protocol, the
// policy-aware subscription gate, and the cross-process session
// invalidation listener.
package realtime

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/larderhq/larder/internal/log"
	"github.com/larderhq/larder/internal/metrics"
)

// Conn is one registered client connection. Sessions implement it; tests
// substitute fakes.
type Conn interface {
	// ID distinguishes concurrent connections from the same user.
	ID() string
	// CloseForReconnect closes the transport with the reserved reconnect
	// code so the client re-establishes and re-authenticates.
	CloseForReconnect(reason string)
}

// Registry tracks this process's live connections per user. It never spans
// processes; cross-process termination arrives via the invalidation
// listener, which calls Terminate locally everywhere.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]Conn
	logger zerolog.Logger
}

func NewRegistry(logger *zerolog.Logger) *Registry {
	l := log.WithComponent("realtime")
	if logger != nil {
		l = *logger
	}
	return &Registry{
		byUser: make(map[string]map[string]Conn),
		logger: l,
	}
}

// Register records a connection under its user. Registering the same
// connection twice is a no-op.
func (r *Registry) Register(userID string, conn Conn) {
	if userID == "" || conn == nil {
		r.logger.Warn().Str("event", "realtime.register_invalid").Msg("dropping registration without user or conn")
		return
	}

	r.mu.Lock()
	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[string]Conn)
		r.byUser[userID] = conns
	}
	if _, dup := conns[conn.ID()]; dup {
		r.mu.Unlock()
		return
	}
	conns[conn.ID()] = conn
	r.mu.Unlock()

	metrics.IncConnectionOpened()
	r.logger.Debug().
		Str("event", "realtime.registered").
		Str(log.FieldUserID, userID).
		Str(log.FieldConnID, conn.ID()).
		Msg("connection registered")
}

// Unregister removes a connection. Unknown users or connections are no-ops,
// so the disconnect path and a concurrent Terminate cannot double-count.
func (r *Registry) Unregister(userID string, conn Conn) {
	if userID == "" || conn == nil {
		return
	}

	r.mu.Lock()
	conns, ok := r.byUser[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, ok := conns[conn.ID()]; !ok {
		r.mu.Unlock()
		return
	}
	delete(conns, conn.ID())
	if len(conns) == 0 {
		delete(r.byUser, userID)
	}
	r.mu.Unlock()

	metrics.IncConnectionClosed("closed")
	r.logger.Debug().
		Str("event", "realtime.unregistered").
		Str(log.FieldUserID, userID).
		Str(log.FieldConnID, conn.ID()).
		Msg("connection unregistered")
}

// Terminate removes every connection the user has in this process and
// closes each with the reconnect code. Returns how many were closed.
func (r *Registry) Terminate(userID, reason string) int {
	r.mu.Lock()
	conns := r.byUser[userID]
	delete(r.byUser, userID)
	list := make([]Conn, 0, len(conns))
	for _, c := range conns {
		list = append(list, c)
	}
	r.mu.Unlock()

	// records are gone before any close frame goes out, so the gate's
	// liveness check fails for in-flight events immediately
	for _, c := range list {
		c.CloseForReconnect(reason)
		metrics.IncConnectionClosed("terminated")
	}

	if len(list) > 0 {
		r.logger.Info().
			Str("event", "realtime.terminated").
			Str(log.FieldUserID, userID).
			Str(log.FieldReason, reason).
			Int("connections", len(list)).
			Msg("user connections terminated")
	}
	return len(list)
}

// CloseAll empties the registry and closes every connection with the
// reconnect code. Used at shutdown so clients re-establish against the
// next process instead of hanging on a dead socket.
func (r *Registry) CloseAll(reason string) int {
	r.mu.Lock()
	var list []Conn
	for _, conns := range r.byUser {
		for _, c := range conns {
			list = append(list, c)
		}
	}
	r.byUser = make(map[string]map[string]Conn)
	r.mu.Unlock()

	for _, c := range list {
		c.CloseForReconnect(reason)
		metrics.IncConnectionClosed("shutdown")
	}

	if len(list) > 0 {
		r.logger.Info().
			Str("event", "realtime.closed_all").
			Str(log.FieldReason, reason).
			Int("connections", len(list)).
			Msg("all connections closed")
	}
	return len(list)
}

// Has reports whether the given connection is still registered.
func (r *Registry) Has(userID, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns, ok := r.byUser[userID]
	if !ok {
		return false
	}
	_, ok = conns[connID]
	return ok
}

// Count returns the total number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, conns := range r.byUser {
		n += len(conns)
	}
	return n
}
