package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/nestfest/vote-service/internal/broadcast"
	"github.com/nestfest/vote-service/internal/config"
	"github.com/nestfest/vote-service/internal/fraud"
	"github.com/nestfest/vote-service/internal/gateway"
	"github.com/nestfest/vote-service/internal/health"
	"github.com/nestfest/vote-service/internal/infrastructure/caching/redis"
	"github.com/nestfest/vote-service/internal/infrastructure/db/postgres"
	"github.com/nestfest/vote-service/internal/infrastructure/messaging/rabbitmq"
	"github.com/nestfest/vote-service/internal/logger"
	"github.com/nestfest/vote-service/internal/ratelimit"
	"github.com/nestfest/vote-service/internal/registry"
	transporthttp "github.com/nestfest/vote-service/internal/transport/http"
	"github.com/nestfest/vote-service/internal/transport/ws"
)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}
	logger.Init()
	log := logger.Logger.With().
		Str("env", cfg.AppEnv).
		Logger()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Postgres ----
	db, err := sql.Open("postgres", cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres open failed")
	}
	defer db.Close()

	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping failed")
		}
		log.Info().Msg("postgres connected")
	}

	voteStore := postgres.New(db)

	// ---- Redis (optional cross-instance store) ----
	var shared *redis.SharedStore
	if cfg.RedisURL != "" {
		shared, err = redis.New(cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, running instance-local")
			shared = nil
		} else {
			defer shared.Close()
			log.Info().Msg("redis connected")
		}
	}

	// ---- RabbitMQ (optional alert broker) ----
	var alerts gateway.AlertPublisher = gateway.NoopPublisher{}
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitExchange)
		if err != nil {
			log.Warn().Err(err).Msg("rabbitmq unavailable, alerts log-only")
		} else {
			defer pub.Close()
			alerts = pub
			log.Info().Msg("rabbitmq connected")
		}
	}

	// ---- Core components ----
	reg := registry.New()
	limiter := ratelimit.New(cfg.VoteWindow)
	patterns := fraud.NewStore()
	engine := fraud.NewEngine(fraud.DefaultRules(), cfg.FraudBlockScore)
	stats := health.NewStats()

	hub := ws.NewHub()
	batcher := broadcast.NewBatcher(hub, cfg.BatchMaxSize, cfg.BatchDelay)

	var gatewayShared gateway.SharedStore
	var prober health.Prober
	var sink health.SnapshotSink
	if shared != nil {
		gatewayShared = shared
		prober = shared
		sink = shared
	}

	svc := gateway.New(
		voteStore,
		gatewayShared,
		alerts,
		limiter,
		patterns,
		engine,
		batcher,
		reg,
		stats,
		systemClock{},
		gateway.Options{
			VoteLimit:       cfg.VoteLimit,
			StoreTimeout:    cfg.StoreTimeout,
			QuadraticBudget: cfg.QuadraticBudget,
		},
	)

	thresholds := health.DefaultThresholds()
	thresholds.StaleConnectionAfter = cfg.ConnIdleTimeout

	monitor := health.NewMonitor(reg, patterns, limiter, batcher, stats, prober, sink, thresholds, cfg.HealthInterval)
	monitor.OnStaleConnections(func(ids []string) {
		for _, id := range ids {
			hub.Drop(id)
		}
	})
	monitor.Start()
	defer monitor.Stop()

	// ---- Transport ----
	verifier := ws.NewVerifier(cfg.JWTSecret)
	wsHandler := ws.NewHandler(hub, svc, reg, verifier)
	handlers := transporthttp.NewHandlers(svc, monitor)
	router := transporthttp.NewRouter(handlers, wsHandler, transporthttp.RouterConfig{
		RequestsPerMinute: cfg.RLRequestsPerMinute,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server crashed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	// drain queued result deltas before sockets go away
	batcher.Close()
	log.Info().Msg("shutdown complete")
}
