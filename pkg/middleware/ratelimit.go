package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/turnstile/pkg/envelope"
	"github.com/platinummonkey/turnstile/pkg/httputil"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

const (
	// HeaderRateLimitForward carries a signed bypass envelope whose content is a path.
	HeaderRateLimitForward = "X-Rate-Limit-Forward"

	// KeyPrefix namespaces every sliding-window key in the store.
	KeyPrefix = "gateway:rate_limiter:"
)

// RateLimitRule limits requests whose path matches PathPrefix.
type RateLimitRule struct {
	PathPrefix      string
	ScopeByClientIP bool
	// Strict rules match only the exact path; others match any path with the prefix.
	Strict        bool
	WindowSeconds uint
	MaxPermits    uint
}

// Matches reports whether the rule applies to path.
func (r RateLimitRule) Matches(path string) bool {
	if r.Strict {
		return path == r.PathPrefix
	}
	return strings.HasPrefix(path, r.PathPrefix)
}

// Key returns the store key for the rule and caller.
func (r RateLimitRule) Key(clientIP string) string {
	if r.ScopeByClientIP {
		return KeyPrefix + "ip:" + clientIP + ":" + r.PathPrefix
	}
	return KeyPrefix + r.PathPrefix
}

// Window returns the window length.
func (r RateLimitRule) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// RateLimitConfig is the rate limiter configuration. Rule order is evaluation order.
type RateLimitConfig struct {
	Rules               []RateLimitRule
	ForwardBypassSecret string
}

// Outcome is the result of an admission check.
type Outcome int

const (
	// AdmittedByRules means every matching rule granted a permit (or none matched).
	AdmittedByRules Outcome = iota
	// AdmittedByBypass means a valid bypass envelope named the request path.
	AdmittedByBypass
	// DeniedByRule means a rule had no permit left.
	DeniedByRule
	// DeniedByBypass means the bypass envelope was invalid, expired, replayed or for another path.
	DeniedByBypass
	// DeniedByStore means the store could not be reached.
	DeniedByStore
)

// Admitted reports whether the request may continue.
func (o Outcome) Admitted() bool {
	return o == AdmittedByRules || o == AdmittedByBypass
}

// Decision describes an admission check. Rule is set for rule and store denials.
type Decision struct {
	Outcome Outcome
	Rule    *RateLimitRule
	Err     error
}

// EngineOption configures a RateLimiterEngine.
type EngineOption func(*RateLimiterEngine)

// WithReplayGuard makes bypass envelopes single use.
func WithReplayGuard(guard ReplayGuard) EngineOption {
	return func(e *RateLimiterEngine) {
		e.replay = guard
	}
}

// WithEngineLogger sets the logger used for store failures.
func WithEngineLogger(logger *observability.Logger) EngineOption {
	return func(e *RateLimiterEngine) {
		e.logger = logger
	}
}

// WithEngineMetrics sets the metrics sink.
func WithEngineMetrics(metrics *observability.Metrics) EngineOption {
	return func(e *RateLimiterEngine) {
		e.metrics = metrics
	}
}

// RateLimiterEngine makes rate limit admission decisions. Its configuration is read-only
// after construction, so one engine serves all requests concurrently.
type RateLimiterEngine struct {
	rules   []RateLimitRule
	store   PermitStore
	signer  *envelope.Signer
	replay  ReplayGuard
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewRateLimiterEngine creates an engine for rules backed by store. signer verifies bypass
// envelopes and is normally envelope.NewSigner(config.ForwardBypassSecret).
func NewRateLimiterEngine(rules []RateLimitRule, store PermitStore, signer *envelope.Signer, opts ...EngineOption) *RateLimiterEngine {
	e := &RateLimiterEngine{
		rules:  append([]RateLimitRule(nil), rules...),
		store:  store,
		signer: signer,
		logger: observability.NewNopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rules returns a copy of the configured rules.
func (e *RateLimiterEngine) Rules() []RateLimitRule {
	return append([]RateLimitRule(nil), e.rules...)
}

// Check decides whether a request for path from clientIP is admitted. bypass is the value
// of the bypass header and present reports whether the header was sent at all.
func (e *RateLimiterEngine) Check(ctx context.Context, path, clientIP, bypass string, present bool) Decision {
	if present {
		return e.checkBypass(ctx, path, bypass)
	}

	for i := range e.rules {
		rule := &e.rules[i]
		if !rule.Matches(path) {
			continue
		}

		key := rule.Key(clientIP)
		start := time.Now()
		granted, err := e.store.Acquire(ctx, key, rule.Window(), int64(rule.MaxPermits))
		e.metrics.ObservePermit(time.Since(start))

		if err != nil {
			e.metrics.RecordStoreError("acquire")
			observability.Annotate(ctx, e.logger).
				WithError(err).
				WithFields(map[string]interface{}{
					"key":  key,
					"rule": rule.PathPrefix,
				}).
				Error("rate limiter store unavailable, denying request")
			return Decision{Outcome: DeniedByStore, Rule: rule, Err: err}
		}
		if !granted {
			return Decision{Outcome: DeniedByRule, Rule: rule}
		}
	}

	return Decision{Outcome: AdmittedByRules}
}

func (e *RateLimiterEngine) checkBypass(ctx context.Context, path, bypass string) Decision {
	env, err := envelope.Open[string](e.signer, bypass)
	if err != nil {
		observability.Annotate(ctx, e.logger).WithError(err).Debug("bypass envelope rejected")
		return Decision{Outcome: DeniedByBypass, Err: err}
	}
	if env.Content != path {
		return Decision{Outcome: DeniedByBypass, Err: errBypassPathMismatch}
	}

	if e.replay != nil {
		ttl := env.ExpiresAt().Sub(e.now())
		first, err := e.replay.Consume(ctx, env.ID, ttl)
		if err != nil {
			e.metrics.RecordStoreError("replay")
			observability.Annotate(ctx, e.logger).
				WithError(err).
				WithField("envelope_id", env.ID).
				Error("replay guard unavailable, denying bypass")
			return Decision{Outcome: DeniedByStore, Err: err}
		}
		if !first {
			return Decision{Outcome: DeniedByBypass, Err: errBypassReplayed}
		}
	}

	return Decision{Outcome: AdmittedByBypass}
}

var (
	errBypassPathMismatch = errors.New("bypass envelope is for another path")
	errBypassReplayed     = errors.New("bypass envelope already used")
)

// RateLimitMiddleware applies a RateLimiterEngine to HTTP requests.
type RateLimitMiddleware struct {
	engine  *RateLimiterEngine
	metrics *observability.Metrics
}

// NewRateLimitMiddleware creates the HTTP stage for engine.
func NewRateLimitMiddleware(engine *RateLimiterEngine) *RateLimitMiddleware {
	return &RateLimitMiddleware{engine: engine, metrics: engine.metrics}
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		values := r.Header.Values(HeaderRateLimitForward)
		bypass := ""
		if len(values) > 0 {
			bypass = values[0]
		}

		decision := m.engine.Check(r.Context(), r.URL.Path, httputil.ClientIP(r), bypass, len(values) > 0)

		switch decision.Outcome {
		case AdmittedByRules:
			m.metrics.RecordDecision(observability.StageRateLimit, observability.OutcomeAdmitted)
		case AdmittedByBypass:
			m.metrics.RecordDecision(observability.StageBypass, observability.OutcomeAdmitted)
		case DeniedByBypass:
			m.metrics.RecordDecision(observability.StageBypass, observability.OutcomeDenied)
		default:
			m.metrics.RecordDecision(observability.StageRateLimit, observability.OutcomeDenied)
		}

		if !decision.Outcome.Admitted() {
			if decision.Outcome == DeniedByRule {
				w.Header().Set("Retry-After", strconv.FormatUint(uint64(decision.Rule.WindowSeconds), 10))
			}
			httputil.WriteTooManyRequests(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}
