package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/config"
	"github.com/platinummonkey/turnstile/pkg/gateway"
	"github.com/platinummonkey/turnstile/pkg/middleware"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
	if err := run(context.Background(), logger); err != nil {
		logger.WithError(err).Error("turnstile exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *observability.Logger) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger = observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "turnstile")

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		Environment:    cfg.Observability.OTelEnvironment,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
		Attributes: map[string]string{
			"turnstile.rate_limit.store": cfg.RateLimit.Store,
			"turnstile.gateway.file":     cfg.Gateway.File,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	var (
		redisClient *redis.Client
		store       middleware.PermitStore
		counter     gateway.KeyCounter
		replay      middleware.ReplayGuard
	)
	switch cfg.RateLimit.Store {
	case config.StoreRedis:
		redisClient, err = config.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		redisStore := middleware.NewRedisPermitStore(redisClient)
		if err := redisStore.Load(ctx); err != nil {
			return fmt.Errorf("failed to load rate limiter script: %w", err)
		}
		store, counter = redisStore, redisStore
		if cfg.RateLimit.ForwardSingleUse {
			replay = middleware.NewRedisReplayGuard(redisClient)
		}
		logger.WithField("redis", redisClient.Options().Addr).Info("Using redis rate limit store")
	case config.StoreMemory:
		memStore := middleware.NewMemoryPermitStore(cfg.RateLimit.MemoryMaxKeys, cfg.LongestWindow())
		store = memStore
		counter = gateway.KeyCounterFunc(func(context.Context, string) (int, error) {
			return memStore.Len(), nil
		})
		logger.Warn("Using in-memory rate limit store; limits are not shared between instances")
	}

	verifier := auth.NewTokenVerifier(cfg.Auth.Secret, cfg.Auth.Issuer)
	gw, err := gateway.New(gateway.Options{
		Logger:   logger,
		Metrics:  metrics,
		Verifier: verifier,
		RateLimit: middleware.RateLimitConfig{
			Rules:               cfg.RateLimitRules(),
			ForwardBypassSecret: cfg.RateLimit.ForwardSecret,
		},
		Store:        store,
		ReplayGuard:  replay,
		Routes:       cfg.Gateway.Routes,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}

	sampler := gateway.NewKeySampler(counter, metrics, logger)
	if err := sampler.Start(cfg.RateLimit.SampleSchedule); err != nil {
		return err
	}

	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, observability.NewHealthChecker(redisClient, redisClient != nil, version))
	healthRouter.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)

	gatewayServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      gw,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     healthRouter,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, gatewayServer, healthServer)
	shutdown.RegisterShutdownFunc(sampler.Stop)
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error {
			return redisClient.Close()
		})
	}
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(gatewayServer, logger, "gateway") })
	g.Go(func() error { return serve(healthServer, logger, "health") })
	g.Go(func() error { return shutdown.WaitForShutdown(gctx) })

	logger.WithFields(map[string]interface{}{
		"version":   version,
		"issuer":    verifier.Issuer(),
		"log_level": cfg.Observability.LogLevel.String(),
		"rules":     len(cfg.Gateway.Rules),
		"routes":    len(cfg.Gateway.Routes),
	}).Info("Turnstile started")

	return g.Wait()
}

func serve(server *http.Server, logger *observability.Logger, name string) error {
	logger.WithField("addr", server.Addr).Infof("Starting %s server", name)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}
