package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/contextkeys"
	"github.com/platinummonkey/turnstile/pkg/httputil"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

const (
	// HeaderAuthorization carries "<scheme> <token>".
	HeaderAuthorization = "Authorization"
	// BearerScheme is the only scheme the gateway verifies.
	BearerScheme = "Bearer"
)

var errMalformedAuthorization = errors.New("authorization header must be \"<scheme> <token>\"")

// AuthMiddleware verifies Bearer tokens.
type AuthMiddleware struct {
	verifier *auth.TokenVerifier
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewAuthMiddleware creates a new authentication middleware. logger and metrics may be nil.
func NewAuthMiddleware(verifier *auth.TokenVerifier, logger *observability.Logger, metrics *observability.Metrics) *AuthMiddleware {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &AuthMiddleware{
		verifier: verifier,
		logger:   logger,
		metrics:  metrics,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		values := r.Header.Values(HeaderAuthorization)
		if len(values) == 0 {
			m.metrics.RecordDecision(observability.StageAuth, observability.OutcomePassThrough)
			next.ServeHTTP(w, r)
			return
		}

		scheme, token, ok := splitAuthorization(values)
		if !ok {
			m.reject(w, r, "malformed_header", errMalformedAuthorization, "")
			return
		}

		if scheme != BearerScheme {
			m.metrics.RecordDecision(observability.StageAuth, observability.OutcomePassThrough)
			next.ServeHTTP(w, r)
			return
		}

		identity, err := m.verifier.Verify(token)
		if err != nil {
			m.reject(w, r, failureReason(err), err, token)
			return
		}

		m.metrics.RecordDecision(observability.StageAuth, observability.OutcomeAdmitted)

		r = r.WithContext(contextkeys.WithIdentity(r.Context(), identity))
		r.Header = r.Header.Clone()
		r.Header.Del(HeaderAuthorization)
		next.ServeHTTP(w, r)
	})
}

func (m *AuthMiddleware) reject(w http.ResponseWriter, r *http.Request, reason string, err error, token string) {
	m.metrics.RecordDecision(observability.StageAuth, observability.OutcomeDenied)
	m.metrics.RecordAuthFailure(reason)

	logger := observability.Annotate(r.Context(), m.logger).
		WithError(err).
		WithField("reason", reason)
	if token != "" {
		logger = logger.WithField("token_fingerprint", auth.Fingerprint(token))
	}
	logger.Error("rejected bearer token")

	httputil.WriteUnauthorized(w)
}

// splitAuthorization splits a single "<scheme> <token>" header on its only space.
func splitAuthorization(values []string) (scheme, token string, ok bool) {
	if len(values) != 1 {
		return "", "", false
	}
	parts := strings.Split(values[0], " ")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return "expired"
	case errors.Is(err, auth.ErrInvalidIssuer):
		return "issuer"
	default:
		return "invalid"
	}
}
