// Package config loads gateway configuration from the environment and the gateway file.
//
// # Environment
//
// An optional .env file in the working directory is loaded first; variables already set
// in the environment win.
//
//	TURNSTILE_PORT="8080"
//	TURNSTILE_HEALTH_PORT="9090"
//	TURNSTILE_REDIS_URL="redis://localhost:6379/0"
//	TURNSTILE_JWT_ISSUER="accounts"
//	TURNSTILE_JWT_SECRET="..."
//	TURNSTILE_FORWARD_SECRET="..."
//	TURNSTILE_RATELIMIT_STORE="redis"   # redis or memory
//	TURNSTILE_GATEWAY_FILE="gateway.yaml"
//
// # Gateway file
//
// Rate limit rules and upstream routes live in a YAML file. Rules are evaluated in the
// order they are listed.
//
//	rate_limit:
//	  rules:
//	    - path: /api/login
//	      strict: true
//	      scope_ip: true
//	      window: 60
//	      max: 5
//	    - path: /api
//	      window: 60
//	      max: 1000
//	routes:
//	  - prefix: /api
//	    upstream: http://api.internal:8080
//
// The configuration is read once at startup and never changes afterwards.
package config
