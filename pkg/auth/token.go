package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/turnstile/pkg/envelope"
)

var (
	// ErrInvalidToken covers malformed tokens and bad signatures.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned when exp is not in the future.
	ErrTokenExpired = errors.New("token expired")
	// ErrInvalidIssuer is returned when iss does not match the configured issuer.
	ErrInvalidIssuer = errors.New("invalid token issuer")
)

var (
	errMissingIssuedAt = errors.New("token has no iat claim")
	errMissingIdentity = errors.New("token has no cla claim")
)

// SigningMethod is the only algorithm the gateway accepts.
var SigningMethod = jwt.SigningMethodHS512

// TokenVerifier validates HS512 tokens for a single issuer. It is safe for concurrent use.
type TokenVerifier struct {
	secret []byte
	issuer string
	parser *jwt.Parser
	now    func() time.Time
}

// NewTokenVerifier creates a verifier for tokens signed with secret by issuer.
func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	v := &TokenVerifier{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
	v.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{SigningMethod.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(func() time.Time { return v.now() }),
	)
	return v
}

// Issuer returns the configured issuer.
func (v *TokenVerifier) Issuer() string {
	return v.issuer
}

// Verify checks the token and returns the identity it carries.
func (v *TokenVerifier) Verify(tokenString string) (UserIdentity, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return UserIdentity{}, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return UserIdentity{}, fmt.Errorf("%w: %v", ErrInvalidIssuer, err)
		default:
			return UserIdentity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	}
	if claims.IssuedAt == nil {
		return UserIdentity{}, fmt.Errorf("%w: %v", ErrInvalidToken, errMissingIssuedAt)
	}
	if claims.Identity == nil {
		return UserIdentity{}, fmt.Errorf("%w: %v", ErrInvalidToken, errMissingIdentity)
	}
	return *claims.Identity, nil
}

// Issue signs a token for identity valid for ttl. The gateway itself never issues
// tokens; this exists for operator tooling and tests.
func (v *TokenVerifier) Issue(identity UserIdentity, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Identity:  &identity,
	}

	signed, err := jwt.NewWithClaims(SigningMethod, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Fingerprint identifies a token in logs without revealing it.
func Fingerprint(token string) string {
	return envelope.Digest(token)[:16]
}
