// Package gateway assembles the request pipeline and forwards admitted requests upstream.
//
// The pipeline, outermost first:
//
//	tracing, recovery, HTTP metrics   ambient instrumentation
//	request id                        tags every request with X-Request-ID
//	access log, boundary checks       malformed requests end here with 400
//	authentication                    Bearer tokens, 401 on failure
//	rate limiting                     429 on denial
//	router                            reverse proxy per configured prefix, 404 otherwise
//
// Upstream services receive the caller identity in X-Token-User and the correlation id
// in X-Request-ID. A client supplied X-Token-User never reaches an upstream.
//
// KeySampler periodically counts live rate limiter keys for the active keys gauge.
package gateway
