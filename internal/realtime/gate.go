// SPDX-License-Identifier: MIT

package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/larderhq/larder/internal/actor"
	"github.com/larderhq/larder/internal/events"
	"github.com/larderhq/larder/internal/log"
	"github.com/larderhq/larder/internal/metrics"
)

// ActorSource loads the authoritative actor context for a user. The gate
// calls it after a policy change to replace each affected session's context
// with fresh grants.
type ActorSource interface {
	ActorFor(ctx context.Context, userID string) (actor.Context, error)
}

// GateConfig wires a Gate.
type GateConfig struct {
	Bus      *events.Bus
	Registry *Registry
	Source   ActorSource
	Logger   *zerolog.Logger
}

// Gate attaches sessions to the event bus. Every client subscription goes
// through it: the gate re-checks connection liveness and the channel's
// visibility predicate against the session's current actor at delivery
// time, so a subscription made under old grants never leaks events the
// actor lost since.
//
// The gate also watches permissions/policy_updated and refreshes affected
// sessions in place rather than filtering retroactively: the actor context
// is swapped and the client told to re-pull state it may have missed.
type Gate struct {
	bus      *events.Bus
	registry *Registry
	source   ActorSource
	logger   zerolog.Logger

	mu       sync.Mutex
	sessions map[*Session]struct{}

	policySub *events.Subscription
}

// NewGate creates a gate and starts watching for policy updates.
func NewGate(cfg GateConfig) *Gate {
	if cfg.Bus == nil {
		panic("realtime: NewGate requires a Bus")
	}
	if cfg.Registry == nil {
		panic("realtime: NewGate requires a Registry")
	}
	if cfg.Source == nil {
		panic("realtime: NewGate requires an ActorSource")
	}
	logger := log.WithComponent("gate")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	g := &Gate{
		bus:      cfg.Bus,
		registry: cfg.Registry,
		source:   cfg.Source,
		logger:   logger,
		sessions: make(map[*Session]struct{}),
	}
	g.policySub = cfg.Bus.Subscribe(events.ChannelPermissions, events.NamePolicyUpdated, g.onPolicyUpdated)
	return g
}

// Close stops the policy watch. Sessions stay attached; callers tear those
// down through the registry.
func (g *Gate) Close() {
	g.policySub.Unsubscribe()
}

// Attach makes a session eligible for policy refreshes.
func (g *Gate) Attach(sess *Session) {
	if sess == nil {
		return
	}
	g.mu.Lock()
	g.sessions[sess] = struct{}{}
	g.mu.Unlock()
}

// Detach removes a session from policy refresh tracking. Idempotent.
func (g *Gate) Detach(sess *Session) {
	g.mu.Lock()
	delete(g.sessions, sess)
	g.mu.Unlock()
}

// Subscribe registers a gated bus subscription for one (channel, event)
// pair. The gate is the boundary where client input meets the closed event
// namespace, so an unknown pair is an error here, never a panic. The
// caller owns the returned subscription and must Unsubscribe it when the
// session ends.
func (g *Gate) Subscribe(sess *Session, channel events.Channel, name events.Name, pred Predicate) (*events.Subscription, error) {
	if sess == nil {
		panic("realtime: Subscribe requires a session")
	}
	if pred == nil {
		panic("realtime: Subscribe requires a predicate")
	}
	if !channel.Has(name) {
		return nil, fmt.Errorf("unknown event %q on channel %q", name, channel)
	}

	sub := g.bus.Subscribe(channel, name, func(_ context.Context, evt events.Event) {
		a := sess.Actor()
		if !g.registry.Has(a.UserID, sess.ID()) {
			metrics.IncGateFiltered(string(evt.Channel), "gone")
			return
		}
		if !pred(a, evt) {
			metrics.IncGateFiltered(string(evt.Channel), "predicate")
			return
		}
		if !sess.SendEvent(evt) {
			metrics.IncGateFiltered(string(evt.Channel), "overflow")
			return
		}
		metrics.IncGateDelivered(string(evt.Channel))
	})
	return sub, nil
}

// onPolicyUpdated reacts to a permission change: every affected session
// gets a freshly loaded actor context and a refresh push telling the
// client to re-pull whatever the old grants were hiding or showing.
func (g *Gate) onPolicyUpdated(ctx context.Context, evt events.Event) {
	var hint RoutingHint
	if len(evt.Payload) > 0 {
		if err := json.Unmarshal(evt.Payload, &hint); err != nil {
			g.logger.Warn().
				Err(err).
				Str("event", "gate.policy_hint_invalid").
				Str(log.FieldMessageID, evt.MessageID).
				Msg("dropping policy update with malformed payload")
			return
		}
	}

	affected := g.affected(hint)
	for _, sess := range affected {
		g.refresh(ctx, sess)
	}
	if len(affected) > 0 {
		g.logger.Info().
			Str("event", "gate.policy_applied").
			Str(log.FieldMessageID, evt.MessageID).
			Str(log.FieldUserID, hint.UserID).
			Str(log.FieldHouseholdID, hint.HouseholdID).
			Int("sessions", len(affected)).
			Msg("refreshed sessions after policy update")
	}
}

// affected selects sessions matching the hint. An empty hint means the
// change is global and every session is affected.
func (g *Gate) affected(hint RoutingHint) []*Session {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*Session, 0, len(g.sessions))
	for sess := range g.sessions {
		if hint.UserID == "" && hint.HouseholdID == "" {
			out = append(out, sess)
			continue
		}
		a := sess.Actor()
		if hint.UserID != "" && a.UserID == hint.UserID {
			out = append(out, sess)
			continue
		}
		if hint.HouseholdID != "" && a.HouseholdID == hint.HouseholdID {
			out = append(out, sess)
		}
	}
	return out
}

func (g *Gate) refresh(ctx context.Context, sess *Session) {
	current := sess.Actor()
	fresh, err := g.source.ActorFor(ctx, current.UserID)
	if err != nil {
		metrics.IncActorRefresh("error")
		g.logger.Warn().
			Err(err).
			Str("event", "gate.actor_refresh_failed").
			Str(log.FieldUserID, current.UserID).
			Str(log.FieldConnID, sess.ID()).
			Msg("keeping previous actor context")
	} else {
		sess.SetActor(fresh)
		metrics.IncActorRefresh("ok")
	}
	sess.SendRefresh("policy_updated")
}
