// Package cli implements turnstile-token, the operator tool for minting and checking the
// credentials the gateway accepts.
//
//	turnstile-token jwt -user 42 -ttl 1h
//	turnstile-token forward -path /api/reports -expire 30s
//	turnstile-token inspect -token <token or envelope>
//
// Secrets and the issuer default to TURNSTILE_JWT_SECRET, TURNSTILE_JWT_ISSUER and
// TURNSTILE_FORWARD_SECRET, the same variables the gateway reads.
package cli
