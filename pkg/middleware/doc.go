// Package middleware implements the admission pipeline of the gateway.
//
// # Overview
//
// Each stage is a func(http.Handler) http.Handler and stages are composed with
// httputil.Chain. For every request they run strictly in this order:
//
//	RequestIDMiddleware  tags the request with X-Request-ID
//	AuthMiddleware       verifies a Bearer token and attaches the caller identity
//	RateLimitMiddleware  admits or denies against the configured rules
//
// A stage that denies writes the JSON error body and does not call the next stage.
//
// # Authentication
//
// Requests without an Authorization header, or with a scheme other than Bearer, pass
// through unauthenticated. A Bearer token that fails verification short-circuits with 401.
// A verified token is removed from the request before it is forwarded.
//
//	authMW := middleware.NewAuthMiddleware(auth.NewTokenVerifier(secret, issuer), logger, metrics)
//
// # Rate Limiting
//
// Rules are evaluated in declaration order; every matching rule must grant a permit and
// the first denial stops evaluation. Permits are acquired from a PermitStore. The Redis
// store runs a sliding-window Lua script so that concurrent gateway instances never
// admit more than the configured number of requests per window. Store failures deny.
//
//	engine := middleware.NewRateLimiterEngine(rules, middleware.NewRedisPermitStore(client), signer, opts...)
//	router.Use(middleware.NewRateLimitMiddleware(engine).Handler)
//
// A request carrying X-Rate-Limit-Forward is decided only by that signed envelope: it is
// admitted when the envelope verifies and names exactly the request path, and denied
// otherwise. Rules are not consulted.
package middleware
