package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/platinummonkey/turnstile/pkg/contextkeys"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

// HeaderRequestID carries the correlation id.
const HeaderRequestID = "X-Request-ID"

// newRequestID is replaced in tests.
var newRequestID = func() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// RequestIDMiddleware assigns a random 128-bit correlation id to requests that do not
// already carry one. The id is set on the request, the response and the request context;
// logger is attached to the context for handlers further down.
// If no id can be generated the request continues untagged.
func RequestIDMiddleware(logger *observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(HeaderRequestID)
			if requestID == "" {
				id, err := newRequestID()
				if err != nil {
					logger.WithError(err).Error("failed to generate request id")
					next.ServeHTTP(w, r)
					return
				}
				requestID = id
				r.Header.Set(HeaderRequestID, requestID)
			}

			w.Header().Set(HeaderRequestID, requestID)
			ctx := contextkeys.WithRequestID(r.Context(), requestID)
			next.ServeHTTP(w, r.WithContext(observability.WithLogger(ctx, logger)))
		})
	}
}
