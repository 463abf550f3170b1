// SPDX-License-Identifier: MIT

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/larderhq/larder/internal/actor"
	"github.com/larderhq/larder/internal/events"
	"github.com/larderhq/larder/internal/log"
)

// StatusGoneReconnect is the application close code (4000-4999 range) that
// tells a client its server-side context is stale: reconnect, re-auth, and
// resubscribe. Distinct from normal closure, which means "do not return".
const StatusGoneReconnect websocket.StatusCode = 4001

// ErrControlRate is returned by Run when the client exceeded the control
// message budget and was disconnected.
var ErrControlRate = errors.New("realtime: control rate exceeded")

const (
	FrameEvent   = "event"
	FrameRefresh = "refresh"
	FrameError   = "error"

	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"

	writeTimeout = 5 * time.Second
)

// Command is a client control message.
type Command struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
	Event   string `json:"event"`
}

// ServerFrame is everything the server sends.
type ServerFrame struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Event     string          `json:"event,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// CommandHandler reacts to one client command. A returned error goes back
// to the client as an error frame; the session keeps running.
type CommandHandler func(ctx context.Context, cmd Command) error

// Socket is the transport surface a session drives. *websocket.Conn
// implements it; tests substitute an in-memory fake.
type Socket interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// SessionConfig assembles a Session.
type SessionConfig struct {
	Socket Socket
	Actor  actor.Context
	// SendBuffer bounds the outbound queue; a client that cannot drain it
	// is disconnected. Defaults to 32.
	SendBuffer int
	// ControlRate/ControlBurst bound inbound control messages.
	// Defaults: 5/s, burst 10.
	ControlRate  rate.Limit
	ControlBurst int
	Logger       *zerolog.Logger
}

// Session is one authenticated client connection: a single writer pump, a
// read loop for control messages, and the actor context the gate evaluates
// predicates against. The actor is swappable at runtime; everything else is
// fixed at accept time.
type Session struct {
	id     string
	socket Socket
	logger zerolog.Logger

	actor atomic.Value

	sendCh  chan []byte
	limiter *rate.Limiter

	closed      chan struct{}
	closeOnce   sync.Once
	closeCode   websocket.StatusCode
	closeReason string
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.Socket == nil {
		panic("realtime: SessionConfig.Socket is required")
	}
	buffer := cfg.SendBuffer
	if buffer <= 0 {
		buffer = 32
	}
	limit := cfg.ControlRate
	if limit <= 0 {
		limit = 5
	}
	burst := cfg.ControlBurst
	if burst <= 0 {
		burst = 10
	}
	logger := log.WithComponent("realtime")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	s := &Session{
		id:      uuid.New().String(),
		socket:  cfg.Socket,
		logger:  logger,
		sendCh:  make(chan []byte, buffer),
		limiter: rate.NewLimiter(limit, burst),
		closed:  make(chan struct{}),
	}
	s.actor.Store(cfg.Actor)
	return s
}

// ID implements Conn.
func (s *Session) ID() string { return s.id }

// Actor returns the session's current actor context.
func (s *Session) Actor() actor.Context {
	a, _ := s.actor.Load().(actor.Context)
	return a
}

// SetActor swaps the actor context; the next predicate evaluation sees it.
func (s *Session) SetActor(a actor.Context) {
	s.actor.Store(a)
}

// CloseForReconnect implements Conn.
func (s *Session) CloseForReconnect(reason string) {
	s.closeWith(StatusGoneReconnect, reason)
}

func (s *Session) closeWith(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		s.closeCode = code
		s.closeReason = reason
		close(s.closed)
	})
}

// Send enqueues a frame without blocking. A full queue means the client is
// not draining; it is closed for reconnect and the frame is dropped.
func (s *Session) Send(frame ServerFrame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("event", "realtime.frame_encode_failed").
			Str(log.FieldConnID, s.id).
			Msg("dropping unencodable frame")
		return false
	}

	select {
	case <-s.closed:
		return false
	case s.sendCh <- data:
		return true
	default:
		s.logger.Warn().
			Str("event", "realtime.slow_consumer").
			Str(log.FieldConnID, s.id).
			Msg("send queue full, disconnecting client")
		s.closeWith(StatusGoneReconnect, "slow consumer")
		return false
	}
}

// SendEvent forwards a bus event to the client.
func (s *Session) SendEvent(evt events.Event) bool {
	return s.Send(ServerFrame{
		Type:      FrameEvent,
		Channel:   string(evt.Channel),
		Event:     string(evt.Name),
		Payload:   evt.Payload,
		MessageID: evt.MessageID,
	})
}

// SendRefresh tells the client its permissions changed and cached state
// should be re-fetched.
func (s *Session) SendRefresh(reason string) bool {
	return s.Send(ServerFrame{Type: FrameRefresh, Reason: reason})
}

// Run drives the session: a writer goroutine plus the read loop, returning
// when the client disconnects, the context ends, or the session is closed.
// A normal client closure returns nil.
func (s *Session) Run(ctx context.Context, onCommand CommandHandler) error {
	if onCommand == nil {
		panic("realtime: Run requires a command handler")
	}

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		s.writePump(ctx)
	}()

	err := s.readPump(ctx, onCommand)
	s.closeWith(websocket.StatusNormalClosure, "session ended")
	<-writeDone
	return err
}

func (s *Session) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = s.socket.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case <-s.closed:
			_ = s.socket.Close(s.closeCode, s.closeReason)
			return
		case data := <-s.sendCh:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := s.socket.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.logger.Debug().
					Err(err).
					Str("event", "realtime.write_failed").
					Str(log.FieldConnID, s.id).
					Msg("write failed, stopping pump")
				return
			}
		}
	}
}

func (s *Session) readPump(ctx context.Context, onCommand CommandHandler) error {
	for {
		typ, data, err := s.socket.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			select {
			case <-s.closed:
				// server-initiated close, not a client error
				return nil
			default:
			}
			return err
		}
		if typ != websocket.MessageText {
			continue
		}

		if !s.limiter.Allow() {
			s.closeWith(websocket.StatusPolicyViolation, "control rate exceeded")
			return ErrControlRate
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.Send(ServerFrame{Type: FrameError, Reason: "malformed command"})
			continue
		}
		if err := onCommand(ctx, cmd); err != nil {
			s.Send(ServerFrame{Type: FrameError, Reason: err.Error()})
		}
	}
}
