// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

// Package main is the entry point for the Pulsefeed server.
//
// Pulsefeed ranks social feed pages from multi-signal scores with Thompson
// Sampling exploration, and keeps engagement counters synchronized from the
// authoritative store out to connected websocket clients.
//
// The server initializes components in the following order:
//
//  1. Configuration: layered load from defaults, config.yaml, and
//     environment variables (Koanf v2)
//  2. Database: DuckDB with the engagement and ranking schema
//  3. Events: embedded NATS JetStream server (optional), publisher,
//     subscriber, and stream provisioning
//  4. Ranking: RecoConfig registry, graph proximity cache, scorer,
//     explorer, and the page assembly engine
//  5. Realtime: websocket hub and counter-change consumer
//  6. Auth: JWT manager, bootstrap admin, casbin enforcer
//  7. Supervisor tree: maintenance jobs, consumers, hub, HTTP server
//
// # Configuration
//
// Environment variables override config.yaml, which overrides built-in
// defaults. The JWT secret is mandatory:
//
//	export SECURITY_JWT_SECRET=$(openssl rand -base64 32)
//	export SECURITY_ADMIN_USERNAME=admin
//	export SECURITY_ADMIN_PASSWORD=secure-password
//	./pulsefeed
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the HTTP server drains
// in-flight requests, consumers finish their current message, and the hub
// closes every websocket with a close frame.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/pulsefeed/internal/api"
	"github.com/tomtom215/pulsefeed/internal/auth"
	"github.com/tomtom215/pulsefeed/internal/authz"
	"github.com/tomtom215/pulsefeed/internal/bandit"
	"github.com/tomtom215/pulsefeed/internal/config"
	"github.com/tomtom215/pulsefeed/internal/database"
	"github.com/tomtom215/pulsefeed/internal/engage"
	"github.com/tomtom215/pulsefeed/internal/events"
	"github.com/tomtom215/pulsefeed/internal/feed"
	"github.com/tomtom215/pulsefeed/internal/feed/reranking"
	"github.com/tomtom215/pulsefeed/internal/graphcache"
	"github.com/tomtom215/pulsefeed/internal/logging"
	"github.com/tomtom215/pulsefeed/internal/realtime"
	"github.com/tomtom215/pulsefeed/internal/supervisor"
	"github.com/tomtom215/pulsefeed/internal/supervisor/services"
)

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("environment", cfg.Feed.Environment).
		Str("db_path", cfg.Database.Path).
		Bool("nats_enabled", cfg.NATS.Enabled).
		Msg("Starting Pulsefeed")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event stream. With NATS disabled the toggles stay authoritative and
	// clients reconcile through the periodic sweep instead of live fanout.
	var (
		embedded   *events.EmbeddedServer
		publisher  *events.Publisher
		subscriber *events.Subscriber
	)
	if cfg.NATS.Enabled {
		if cfg.NATS.EmbeddedServer {
			embedded, err = events.NewEmbeddedServer(&cfg.NATS)
			if err != nil {
				logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
			}
			cfg.NATS.URL = embedded.ClientURL()
			logging.Info().Str("url", cfg.NATS.URL).Msg("Embedded NATS server started")
		}

		conn, js, err := events.ConnectJetStream(&cfg.NATS)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to connect to JetStream")
		}
		defer conn.Close()

		streamInit, err := events.NewStreamInitializer(js, &cfg.NATS)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to create stream initializer")
		}
		if err := streamInit.EnsureStream(ctx); err != nil {
			logging.Fatal().Err(err).Msg("Failed to provision event stream")
		}

		wmLogger := events.NewLoggerAdapter()
		publisher, err = events.NewPublisher(&cfg.NATS, wmLogger)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to create event publisher")
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing publisher")
			}
		}()

		subscriber, err = events.NewSubscriber(&cfg.NATS, wmLogger)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to create event subscriber")
		}
		defer func() {
			if err := subscriber.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing subscriber")
			}
		}()

		logging.Info().Str("stream", cfg.NATS.StreamName).Msg("Event stream ready")
	} else {
		logging.Warn().Msg("NATS disabled - realtime fanout and bandit rewards are off, reconciliation sweeps still run")
	}

	// Ranking pipeline.
	registry := feed.NewRegistry(db, cfg.Feed.Environment)
	if err := registry.Bootstrap(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to bootstrap ranking config")
	}

	graph, err := graphcache.Open(cfg.Graph.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open graph proximity cache")
	}
	defer func() {
		if err := graph.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing graph cache")
		}
	}()

	scorer := feed.NewScorer(graph, nil)
	explorer := feed.NewExplorer(time.Now().UnixNano())
	engine := feed.NewEngine(db, registry, scorer, explorer,
		feed.WithRerankers(reranking.NewAuthorSpacing(), reranking.NewFollowCatchUp()),
	)
	logging.Info().Str("environment", registry.Environment()).Msg("Ranking engine ready")

	// Engagement service. A nil *events.Publisher must stay a nil interface
	// inside the service, hence the indirection.
	limiter := engage.NewToggleLimiter(cfg.Security.ToggleRatePerSecond, cfg.Security.ToggleBurst)
	var enginePublisher engage.Publisher
	if publisher != nil {
		enginePublisher = publisher
	}
	engagements := engage.NewService(db, enginePublisher, limiter)

	hub := realtime.NewHub()

	// Auth and authorization.
	jwtManager, err := auth.NewJWTManager(&cfg.Security)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize JWT manager")
	}
	bootstrap, err := auth.NewBootstrapAdmin(&cfg.Security)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize bootstrap admin")
	}
	if bootstrap == nil {
		logging.Warn().Msg("No bootstrap admin configured - login is disabled, tokens must be issued externally")
	}

	authMW := auth.NewMiddleware(jwtManager)

	enforcer, err := authz.NewEnforcer(authz.DefaultEnforcerConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize authorization enforcer")
	}
	defer enforcer.Close()
	authzMW := authz.NewMiddleware(enforcer)

	// HTTP surface.
	handler := api.NewHandler(engine, engagements, registry, db, hub, jwtManager, bootstrap, db)
	router := api.NewRouter(handler, authMW, authzMW, &api.RouterConfig{
		CORSOrigins:     cfg.Security.CORSOrigins,
		RateLimitReqs:   cfg.Security.RateLimitReqs,
		RateLimitWindow: cfg.Security.RateLimitWindow,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	// Supervisor tree.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	// Ranking maintenance jobs.
	tree.AddRankingService(services.NewPeriodicService(
		"aggregate-refresh", cfg.Feed.AggregateRefreshInterval, true, db.RefreshAggregates))
	tree.AddRankingService(services.NewPeriodicService(
		"impression-prune", cfg.Feed.ImpressionPruneInterval, false,
		func(ctx context.Context) error {
			horizon := time.Now().UTC().AddDate(0, 0, -cfg.Feed.ImpressionRetentionDays)
			_, err := db.PruneImpressions(ctx, horizon)
			return err
		}))
	tree.AddRankingService(services.NewPeriodicService(
		"reconcile-sweep", cfg.Feed.ReconcileSweepInterval, false, engagements.ReconcileSweep))
	tree.AddRankingService(services.NewPeriodicService(
		"graph-refresh", cfg.Graph.RefreshInterval, true,
		func(ctx context.Context) error { return graph.Refresh(ctx, db) }))

	// Messaging layer.
	tree.AddMessagingService(services.NewHubService(hub))
	tree.AddMessagingService(services.NewLimiterCleanupService(limiter, 10*time.Minute, time.Hour))
	if subscriber != nil {
		rewards := bandit.NewConsumer(db)
		tree.AddMessagingService(services.NewConsumerService(
			"bandit-rewards", subscriber, events.TopicInteractions, rewards.Handle))

		fanout := realtime.NewConsumer(hub)
		tree.AddMessagingService(services.NewConsumerService(
			"realtime-fanout", subscriber, events.TopicCounters,
			func(_ context.Context, msg *message.Message) error {
				return fanout.Handle(msg.Payload)
			}))
	}

	// API layer.
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	if embedded != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := embedded.Shutdown(shutdownCtx); err != nil {
			logging.Error().Err(err).Msg("Error shutting down embedded NATS server")
		}
		shutdownCancel()
	}

	logging.Info().Msg("Pulsefeed stopped gracefully")
}
