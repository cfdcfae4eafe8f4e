// Package observability provides structured logging, Prometheus metrics, health probes,
// OpenTelemetry tracing and graceful shutdown for the gateway.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("rule", "/api").WithError(err).Error("permit store unavailable")
//
// Request-scoped loggers pick up the correlation id and the authenticated user:
//
//	observability.FromContext(r.Context()).Info("admitted")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordDecision(observability.StageRateLimit, observability.OutcomeDenied)
//
// Record methods accept a nil *Metrics, so components can run without metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(redisClient, true, version)
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{...}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//	handler = observability.TracingMiddleware("gateway")(handler)
//
// # Shutdown
//
//	sm := observability.NewShutdownManager(logger, 30*time.Second, server, healthServer)
//	sm.RegisterShutdownFunc(func(ctx context.Context) error { return redisClient.Close() })
//	sm.WaitForShutdown(ctx)
package observability
