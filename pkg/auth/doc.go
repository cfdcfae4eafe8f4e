// Package auth verifies the bearer tokens accepted by the gateway.
//
// Tokens are HS512 JWTs issued by an external identity service. The gateway only checks
// them: the signature, an exact issuer match and the expiry. The caller identity carried in
// the "cla" claim is exposed as a UserIdentity.
//
// Usage:
//
//	verifier := auth.NewTokenVerifier(secret, issuer)
//	identity, err := verifier.Verify(token)
//	if err != nil {
//		// reject with 401
//	}
package auth
