package gateway

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/config"
	"github.com/platinummonkey/turnstile/pkg/envelope"
	"github.com/platinummonkey/turnstile/pkg/httputil"
	"github.com/platinummonkey/turnstile/pkg/middleware"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

// Options holds everything the pipeline is built from. Logger and Metrics may be nil.
type Options struct {
	Logger       *observability.Logger
	Metrics      *observability.Metrics
	Verifier     *auth.TokenVerifier
	RateLimit    middleware.RateLimitConfig
	Store        middleware.PermitStore
	ReplayGuard  middleware.ReplayGuard
	Routes       []config.RouteConfig
	MaxBodyBytes int64
}

// Gateway is the assembled pipeline. It is an http.Handler.
type Gateway struct {
	handler http.Handler
	engine  *middleware.RateLimiterEngine
}

// New builds the pipeline and its upstream router.
func New(opts Options) (*Gateway, error) {
	if opts.Verifier == nil {
		return nil, errors.New("token verifier is required")
	}
	if opts.Store == nil {
		return nil, errors.New("permit store is required")
	}
	if opts.RateLimit.ForwardBypassSecret == "" {
		return nil, errors.New("forward bypass secret is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	router, err := newRouter(opts.Routes)
	if err != nil {
		return nil, err
	}

	engineOpts := []middleware.EngineOption{
		middleware.WithEngineLogger(logger),
		middleware.WithEngineMetrics(opts.Metrics),
	}
	if opts.ReplayGuard != nil {
		engineOpts = append(engineOpts, middleware.WithReplayGuard(opts.ReplayGuard))
	}
	engine := middleware.NewRateLimiterEngine(
		opts.RateLimit.Rules,
		opts.Store,
		envelope.NewSigner(opts.RateLimit.ForwardBypassSecret),
		engineOpts...,
	)

	chain := httputil.Chain(
		observability.TracingMiddleware("gateway"),
		httputil.RecoveryMiddleware(logger),
		observability.HTTPMetricsMiddleware(opts.Metrics),
		middleware.RequestIDMiddleware(logger),
		httputil.LoggingMiddleware(logger),
		httputil.BoundaryMiddleware(opts.MaxBodyBytes),
		middleware.NewAuthMiddleware(opts.Verifier, logger, opts.Metrics).Handler,
		middleware.NewRateLimitMiddleware(engine).Handler,
	)

	return &Gateway{
		handler: chain(router),
		engine:  engine,
	}, nil
}

// ServeHTTP runs a request through the pipeline.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.handler.ServeHTTP(w, r)
}

// Engine returns the rate limiter engine the pipeline uses.
func (g *Gateway) Engine() *middleware.RateLimiterEngine {
	return g.engine
}

// newRouter registers one proxy per route, longest prefix first.
func newRouter(routes []config.RouteConfig) (*mux.Router, error) {
	sorted := append([]config.RouteConfig(nil), routes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})

	router := mux.NewRouter()
	router.NotFoundHandler = httputil.NotFoundHandler()
	router.MethodNotAllowedHandler = httputil.MethodNotAllowedHandler()

	for _, route := range sorted {
		if err := route.Validate(); err != nil {
			return nil, err
		}
		proxy, err := newProxy(route)
		if err != nil {
			return nil, err
		}
		router.PathPrefix(route.Prefix).Handler(proxy)
	}
	return router, nil
}
