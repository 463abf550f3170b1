// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/larderhq/larder/internal/actor"
	"github.com/larderhq/larder/internal/auth"
	"github.com/larderhq/larder/internal/events"
	"github.com/larderhq/larder/internal/log"
	"github.com/larderhq/larder/internal/realtime"
)

// handleWebsocket upgrades an authenticated client to a realtime session.
// The actor token may ride the query string; browsers cannot set headers
// on websocket dials.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "ws")

	token := auth.TokenFromRequest(r, true)
	if token == "" {
		writeUnauthorized(w)
		return
	}
	a, err := auth.VerifyActorToken([]byte(s.cfg.SessionSecret), token)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("event", "ws.token_rejected").
			Msg("actor token rejected")
		writeUnauthorized(w)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.Realtime.Origins,
	})
	if err != nil {
		// Accept already wrote the HTTP error.
		logger.Warn().
			Err(err).
			Str("event", "ws.upgrade_failed").
			Msg("websocket upgrade failed")
		return
	}

	s.serveSession(r.Context(), conn, a)
}

// serveSession runs one session to completion. Shutdown reaches it through
// Registry.CloseAll; the connection is hijacked, so server shutdown does
// not cancel ctx.
func (s *Server) serveSession(ctx context.Context, conn *websocket.Conn, a actor.Context) {
	sess := realtime.NewSession(realtime.SessionConfig{
		Socket:       conn,
		Actor:        a,
		SendBuffer:   s.cfg.Realtime.SendBuffer,
		ControlRate:  rate.Limit(s.cfg.Realtime.ControlRate),
		ControlBurst: s.cfg.Realtime.ControlBurst,
	})

	ctx = log.ContextWithConnID(ctx, sess.ID())
	logger := log.WithComponentFromContext(ctx, "ws")

	s.registry.Register(a.UserID, sess)
	s.gate.Attach(sess)

	subs := make(map[subscriptionKey]*events.Subscription)
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
		s.gate.Detach(sess)
		s.registry.Unregister(a.UserID, sess)
	}()

	logger.Info().
		Str("event", "ws.session_started").
		Str(log.FieldUserID, a.UserID).
		Msg("realtime session started")

	err := sess.Run(ctx, func(_ context.Context, cmd realtime.Command) error {
		return s.applyCommand(sess, subs, cmd)
	})
	if err != nil {
		logger.Warn().
			Err(err).
			Str("event", "ws.session_ended").
			Str(log.FieldUserID, a.UserID).
			Msg("realtime session ended with error")
		return
	}
	logger.Info().
		Str("event", "ws.session_ended").
		Str(log.FieldUserID, a.UserID).
		Msg("realtime session ended")
}

type subscriptionKey struct {
	channel events.Channel
	name    events.Name
}

// applyCommand handles one control frame. Commands arrive on the session's
// read loop, so subs needs no locking. Returned errors go back to the
// client as error frames; the session keeps running.
func (s *Server) applyCommand(sess *realtime.Session, subs map[subscriptionKey]*events.Subscription, cmd realtime.Command) error {
	channel, err := events.ParseChannel(cmd.Channel)
	if err != nil {
		return err
	}
	name, err := events.ParseName(channel, cmd.Event)
	if err != nil {
		return err
	}
	key := subscriptionKey{channel: channel, name: name}

	switch cmd.Action {
	case realtime.ActionSubscribe:
		if _, ok := subs[key]; ok {
			return nil
		}
		sub, err := s.gate.Subscribe(sess, channel, name, realtime.PredicateFor(channel))
		if err != nil {
			return err
		}
		subs[key] = sub
	case realtime.ActionUnsubscribe:
		if sub, ok := subs[key]; ok {
			sub.Unsubscribe()
			delete(subs, key)
		}
	default:
		return fmt.Errorf("unknown action %q", cmd.Action)
	}
	return nil
}
