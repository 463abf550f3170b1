// SPDX-License-Identifier: MIT

// Package api exposes the HTTP surface: admission endpoints for the trusted
// CRUD application, the event publish boundary, session invalidation, the
// realtime websocket, and the health probes.
package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/larderhq/larder/internal/admission"
	"github.com/larderhq/larder/internal/api/middleware"
	"github.com/larderhq/larder/internal/config"
	"github.com/larderhq/larder/internal/events"
	"github.com/larderhq/larder/internal/health"
	"github.com/larderhq/larder/internal/jobs"
	"github.com/larderhq/larder/internal/log"
	"github.com/larderhq/larder/internal/realtime"
)

// Deps are the pre-built components the server routes requests into. All
// fields are required except Logger.
type Deps struct {
	Bus         *events.Bus
	Registry    *realtime.Registry
	Gate        *realtime.Gate
	Invalidator *realtime.Invalidator
	Admission   *admission.Controller
	Runner      *jobs.Runner
	Health      *health.Manager
	Logger      *zerolog.Logger
}

// Server is the HTTP boundary. It owns no goroutines; the daemon manager
// runs the listener.
type Server struct {
	cfg         config.App
	bus         *events.Bus
	registry    *realtime.Registry
	gate        *realtime.Gate
	invalidator *realtime.Invalidator
	admission   *admission.Controller
	runner      *jobs.Runner
	health      *health.Manager
	logger      zerolog.Logger

	handler http.Handler
}

// New wires a Server. Missing dependencies are a programming error surfaced
// at startup, not at request time.
func New(cfg config.App, deps Deps) (*Server, error) {
	switch {
	case deps.Bus == nil:
		return nil, fmt.Errorf("api: Deps.Bus is required")
	case deps.Registry == nil:
		return nil, fmt.Errorf("api: Deps.Registry is required")
	case deps.Gate == nil:
		return nil, fmt.Errorf("api: Deps.Gate is required")
	case deps.Invalidator == nil:
		return nil, fmt.Errorf("api: Deps.Invalidator is required")
	case deps.Admission == nil:
		return nil, fmt.Errorf("api: Deps.Admission is required")
	case deps.Runner == nil:
		return nil, fmt.Errorf("api: Deps.Runner is required")
	case deps.Health == nil:
		return nil, fmt.Errorf("api: Deps.Health is required")
	}

	logger := log.WithComponent("api")
	if deps.Logger != nil {
		logger = *deps.Logger
	}

	s := &Server{
		cfg:         cfg,
		bus:         deps.Bus,
		registry:    deps.Registry,
		gate:        deps.Gate,
		invalidator: deps.Invalidator,
		admission:   deps.Admission,
		runner:      deps.Runner,
		health:      deps.Health,
		logger:      logger,
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the fully assembled HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	tracingService := ""
	if s.cfg.Tracing.Enabled {
		tracingService = "larder-api"
	}

	r := middleware.NewRouter(middleware.StackConfig{
		CORS:    true,
		Origins: s.cfg.Realtime.Origins,

		SecurityHeaders: true,
		CSP:             middleware.DefaultCSP,

		Metrics:   true,
		Tracing:   tracingService,
		AccessLog: true,

		RateLimit:  true,
		RateRPS:    s.cfg.Rate.Requests,
		RateWindow: s.cfg.Rate.Window,
	})

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Get("/ws", s.handleWebsocket)

	r.Route("/api", func(api chi.Router) {
		api.Use(s.serviceAuth)
		api.Post("/imports/recipes", s.handleImportRecipe)
		api.Post("/imports/images", s.handleImportImage)
		api.Post("/nutrition/estimates", s.handleEstimateNutrition)
		api.Post("/caldav/syncs", s.handleSyncCalDAV)
		api.Post("/events", s.handlePublishEvent)
		api.Post("/invalidations", s.handleInvalidate)
	})

	return r
}
