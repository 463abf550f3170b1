// SPDX-License-Identifier: MIT

// Command larderd is the event distribution daemon: it fans application
// events out to websocket clients across processes and admits deduplicated
// background jobs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/larderhq/larder/internal/admission"
	"github.com/larderhq/larder/internal/api"
	"github.com/larderhq/larder/internal/auth"
	"github.com/larderhq/larder/internal/config"
	"github.com/larderhq/larder/internal/daemon"
	"github.com/larderhq/larder/internal/events"
	"github.com/larderhq/larder/internal/events/broadcast"
	"github.com/larderhq/larder/internal/health"
	"github.com/larderhq/larder/internal/jobs"
	"github.com/larderhq/larder/internal/log"
	"github.com/larderhq/larder/internal/netguard"
	"github.com/larderhq/larder/internal/realtime"
	"github.com/larderhq/larder/internal/telemetry"
	"github.com/larderhq/larder/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: LARDER_CONFIG or ENV-only)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("larderd %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		return
	}

	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path := *configPath
	if path == "" {
		path = os.Getenv("LARDER_CONFIG")
	}

	cfg, err := config.Load(path)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "daemon.config_failed").Msg("configuration invalid")
	}
	if err := log.SetLevel(cfg.LogLevel); err != nil {
		logger.Warn().Err(err).Str("level", cfg.LogLevel).Msg("keeping default log level")
	}

	if err := health.PerformStartupChecks(cfg); err != nil {
		logger.Fatal().Err(err).Str("event", "daemon.startup_checks_failed").Msg("startup checks failed")
	}

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    "larder",
		ServiceVersion: version.Version,
		Protocol:       cfg.Tracing.Protocol,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("event", "daemon.telemetry_failed").Msg("tracer init failed")
	}

	// Single-node deployments run on the in-process loopback; everything
	// else about the distribution layer behaves identically.
	var (
		medium      broadcast.Medium
		store       admission.Store
		loopback    *broadcast.LoopbackMedium
		redisClient *redis.Client
	)
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Str("event", "daemon.redis_unreachable").
				Str("addr", cfg.Redis.Addr).Msg("redis ping failed")
		}
		medium = broadcast.NewRedisMedium(redisClient, nil)
		store = admission.NewRedisStore(redisClient, cfg.Redis.TopicPrefix, nil)
	} else {
		logger.Warn().Str("event", "daemon.single_node").
			Msg("no redis configured, events stay within this process")
		loopback = broadcast.NewLoopbackMedium()
		medium = loopback
		store = admission.NewMemoryStore()
	}

	origin := broadcast.NewOriginID()
	broadcaster := broadcast.New(medium, cfg.Redis.TopicPrefix, nil)
	bus := events.NewBus(events.Options{
		Origin:      origin,
		Broadcaster: broadcaster,
		Buffer:      cfg.Events.Buffer,
	})

	registry := realtime.NewRegistry(nil)

	var source realtime.ActorSource
	if cfg.Authority.BaseURL != "" {
		source = auth.NewHTTPActorSource(cfg.Authority.BaseURL, cfg.APIToken, cfg.Authority.Timeout)
	} else {
		logger.Info().Str("event", "daemon.no_authority").
			Msg("no authority endpoint, policy refreshes keep token-derived contexts")
		source = auth.NoAuthority{}
	}
	gate := realtime.NewGate(realtime.GateConfig{Bus: bus, Registry: registry, Source: source})
	invalidator := realtime.NewInvalidator(medium, cfg.Redis.TopicPrefix, registry, nil)

	index, err := admission.OpenIndex(cfg.IndexPath())
	if err != nil {
		logger.Fatal().Err(err).Str("event", "daemon.index_failed").
			Str("path", cfg.IndexPath()).Msg("completion index unavailable")
	}
	controller := admission.NewController(admission.Config{
		Store:  store,
		Index:  index,
		TTL:    cfg.Admission.TTL,
		Origin: origin,
	})

	runner := jobs.NewRunner(jobs.RunnerConfig{
		Workers:   cfg.Jobs.Workers,
		QueueSize: cfg.Jobs.QueueSize,
		Admission: controller,
		Publisher: bus,
	})

	fetcher := netguard.NewFetcher(netguard.FetchConfig{
		Policy:       netguard.Policy{AllowPrivate: cfg.Imports.AllowPrivate},
		Timeout:      cfg.Imports.FetchTimeout,
		MaxBodyBytes: cfg.Imports.MaxBodyBytes,
	}, nil)

	recipes, err := jobs.NewRecipeImporter(fetcher, filepath.Join(cfg.DataDir, "recipes"), nil)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "daemon.jobs_failed").Msg("recipe importer init failed")
	}
	images, err := jobs.NewImageImporter(fetcher, cfg.MediaDir(), nil)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "daemon.jobs_failed").Msg("image importer init failed")
	}
	runner.Register(jobs.KindImportRecipe, recipes.Handle)
	runner.Register(jobs.KindImportImage, images.Handle)
	runner.Register(jobs.KindEstimateNutrition, jobs.NewNutritionEstimator(nil).Handle)
	runner.Register(jobs.KindSyncCalDAV, jobs.NewCalDAVSyncer(fetcher, nil).Handle)

	scheduler, err := jobs.NewScheduler(jobs.SchedulerConfig{
		Spec:      cfg.CalDAV.Schedule,
		Sources:   cfg.CalDAV.Sources,
		Admission: controller,
		Runner:    runner,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("event", "daemon.schedule_failed").Msg("caldav schedule invalid")
	}

	healthMgr := health.NewManager(version.Version)
	healthMgr.Register("data_dir", health.WritableDir(cfg.DataDir))
	healthMgr.Register("job_queue", health.QueueCheck(runner.QueueStats))
	if redisClient != nil {
		healthMgr.Register("redis", health.PingCheck(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}
	healthMgr.Register("completion_index", health.PingCheck(func(ctx context.Context) error {
		_, _, err := index.Find(ctx, "healthcheck")
		return err
	}))

	server, err := api.New(cfg, api.Deps{
		Bus:         bus,
		Registry:    registry,
		Gate:        gate,
		Invalidator: invalidator,
		Admission:   controller,
		Runner:      runner,
		Health:      healthMgr,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("event", "daemon.api_failed").Msg("api wiring failed")
	}

	serverCfg := config.ParseServerConfig(cfg)
	mgr, err := daemon.NewManager(daemon.Config{
		ListenAddr:        serverCfg.ListenAddr,
		MetricsAddr:       cfg.MetricsAddr,
		ReadHeaderTimeout: serverCfg.ReadHeaderTimeout,
		IdleTimeout:       serverCfg.IdleTimeout,
		MaxHeaderBytes:    serverCfg.MaxHeaderBytes,
		ShutdownTimeout:   serverCfg.ShutdownTimeout,
	}, daemon.Deps{
		APIHandler:     server.Handler(),
		MetricsHandler: promhttp.Handler(),
	})
	if err != nil {
		logger.Fatal().Err(err).Str("event", "daemon.manager_failed").Msg("daemon wiring failed")
	}

	holder := config.NewHolder(cfg, path)
	if err := holder.StartWatcher(ctx); err != nil {
		logger.Warn().Err(err).Msg("config watcher unavailable, live reload disabled")
	}
	defer holder.Stop()

	// Hooks run newest-first: sessions close before the components they
	// depend on, storage and telemetry unwind last.
	mgr.RegisterShutdownHook("telemetry", provider.Shutdown)
	if redisClient != nil {
		mgr.RegisterShutdownHook("redis", func(context.Context) error {
			return redisClient.Close()
		})
	}
	mgr.RegisterShutdownHook("completion_index", func(context.Context) error {
		return index.Close()
	})
	if loopback != nil {
		mgr.RegisterShutdownHook("loopback_medium", func(context.Context) error {
			loopback.Close()
			return nil
		})
	}
	mgr.RegisterShutdownHook("event_bus", func(context.Context) error {
		bus.Close()
		return nil
	})
	mgr.RegisterShutdownHook("gate", func(context.Context) error {
		gate.Close()
		return nil
	})
	mgr.RegisterShutdownHook("job_runner", func(context.Context) error {
		runner.Stop()
		return nil
	})
	mgr.RegisterShutdownHook("caldav_schedule", func(context.Context) error {
		scheduler.Stop()
		return nil
	})
	mgr.RegisterShutdownHook("websocket_sessions", func(context.Context) error {
		closed := registry.CloseAll("server shutting down")
		logger.Info().Int("sessions", closed).Msg("websocket sessions closed")
		return nil
	})

	go func() {
		if err := broadcaster.Run(ctx, bus); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Str("event", "daemon.broadcast_stopped").Msg("broadcast loop ended")
		}
	}()
	go func() {
		if err := invalidator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Str("event", "daemon.invalidator_stopped").Msg("invalidation loop ended")
		}
	}()

	runner.Start(ctx)
	scheduler.Start()

	logger.Info().Msgf("→ larderd %s listening on %s", version.Version, serverCfg.ListenAddr)
	if cfg.MetricsAddr != "" {
		logger.Info().Msgf("→ metrics on %s", cfg.MetricsAddr)
	}
	logger.Info().Msgf("→ origin %s, %d caldav households", origin, len(cfg.CalDAV.Sources))

	if err := mgr.Start(ctx); err != nil {
		logger.Fatal().Err(err).Str("event", "daemon.run_failed").Msg("daemon exited with error")
	}

	logger.Info().Msg("server exiting")
}
