package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/config"
	"github.com/platinummonkey/turnstile/pkg/envelope"
	"github.com/platinummonkey/turnstile/pkg/middleware"
)

const (
	testTokenSecret   = "token-secret"
	testIssuer        = "turnstile-test"
	testForwardSecret = "forward-secret"
)

type upstreamSeen struct {
	Path          string `json:"path"`
	User          string `json:"user"`
	RequestID     string `json:"request_id"`
	Authorization string `json:"authorization"`
}

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(upstreamSeen{
			Path:          r.URL.Path,
			User:          r.Header.Get(HeaderTokenUser),
			RequestID:     r.Header.Get(middleware.HeaderRequestID),
			Authorization: r.Header.Get(middleware.HeaderAuthorization),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testEnv struct {
	gateway  *Gateway
	mr       *miniredis.Miniredis
	verifier *auth.TokenVerifier
	signer   *envelope.Signer
}

func newTestEnv(t *testing.T, rules []middleware.RateLimitRule, routes []config.RouteConfig) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	verifier := auth.NewTokenVerifier(testTokenSecret, testIssuer)
	gw, err := New(Options{
		Verifier: verifier,
		RateLimit: middleware.RateLimitConfig{
			Rules:               rules,
			ForwardBypassSecret: testForwardSecret,
		},
		Store:        middleware.NewRedisPermitStore(client),
		Routes:       routes,
		MaxBodyBytes: 1 << 20,
	})
	require.NoError(t, err)

	return &testEnv{
		gateway:  gw,
		mr:       mr,
		verifier: verifier,
		signer:   envelope.NewSigner(testForwardSecret),
	}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.gateway.ServeHTTP(rec, req)
	return rec
}

func decodeSeen(t *testing.T, rec *httptest.ResponseRecorder) upstreamSeen {
	t.Helper()
	var seen upstreamSeen
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &seen))
	return seen
}

func apiRoute(upstream *httptest.Server) []config.RouteConfig {
	return []config.RouteConfig{{Prefix: "/api", Upstream: upstream.URL}}
}

func TestGateway_QuotaExhausted(t *testing.T) {
	upstream := newUpstream(t)
	env := newTestEnv(t, []middleware.RateLimitRule{
		{PathPrefix: "/api", WindowSeconds: 60, MaxPermits: 2},
	}, apiRoute(upstream))

	for i := 0; i < 2; i++ {
		rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/x", nil))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"code":429,"message":"Too Many Requests"}`, rec.Body.String())
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestGateway_TamperedToken(t *testing.T) {
	upstream := newUpstream(t)
	env := newTestEnv(t, nil, apiRoute(upstream))

	forged, err := auth.NewTokenVerifier("some-other-secret", testIssuer).Issue(auth.UserIdentity{UserID: 1}, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec := env.do(t, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"code":401,"message":"Unauthorized"}`, rec.Body.String())
}

func TestGateway_BypassEnvelope(t *testing.T) {
	upstream := newUpstream(t)
	env := newTestEnv(t, []middleware.RateLimitRule{
		{PathPrefix: "/api", WindowSeconds: 60, MaxPermits: 1},
	}, apiRoute(upstream))

	require.Equal(t, http.StatusOK, env.do(t, httptest.NewRequest(http.MethodGet, "/api/x", nil)).Code)
	require.Equal(t, http.StatusTooManyRequests, env.do(t, httptest.NewRequest(http.MethodGet, "/api/x", nil)).Code)

	bypass, err := envelope.Seal(env.signer, "/api/x", envelope.DefaultExpiration)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	req.Header.Set(middleware.HeaderRateLimitForward, bypass)
	assert.Equal(t, http.StatusOK, env.do(t, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/y", nil)
	req.Header.Set(middleware.HeaderRateLimitForward, bypass)
	rec := env.do(t, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Empty(t, rec.Header().Get("Retry-After"))
}

func TestGateway_UnmatchedRoute(t *testing.T) {
	upstream := newUpstream(t)
	env := newTestEnv(t, nil, apiRoute(upstream))

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"code":404,"message":"Not Found"}`, rec.Body.String())
}

func TestGateway_ForwardsIdentity(t *testing.T) {
	upstream := newUpstream(t)
	env := newTestEnv(t, nil, apiRoute(upstream))

	token, err := env.verifier.Issue(auth.UserIdentity{UserID: 42}, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(HeaderTokenUser, "1")
	rec := env.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	seen := decodeSeen(t, rec)
	assert.Equal(t, "/api/me", seen.Path)
	assert.Equal(t, "42", seen.User)
	assert.Empty(t, seen.Authorization)
	assert.NotEmpty(t, seen.RequestID)
	assert.Equal(t, rec.Header().Get(middleware.HeaderRequestID), seen.RequestID)
}

func TestGateway_StripsSpoofedIdentity(t *testing.T) {
	upstream := newUpstream(t)
	env := newTestEnv(t, nil, apiRoute(upstream))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set(HeaderTokenUser, "1")
	req.Header.Set(middleware.HeaderRequestID, "caller-chosen-id")
	rec := env.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	seen := decodeSeen(t, rec)
	assert.Empty(t, seen.User)
	assert.Equal(t, "caller-chosen-id", seen.RequestID)
}

func TestGateway_UnsupportedSchemePassesThrough(t *testing.T) {
	upstream := newUpstream(t)
	env := newTestEnv(t, nil, apiRoute(upstream))

	req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := env.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	seen := decodeSeen(t, rec)
	assert.Equal(t, "Basic dXNlcjpwYXNz", seen.Authorization)
	assert.Empty(t, seen.User)
}

func TestGateway_StripPrefix(t *testing.T) {
	upstream := newUpstream(t)
	env := newTestEnv(t, nil, []config.RouteConfig{
		{Prefix: "/svc", Upstream: upstream.URL, StripPrefix: true},
		{Prefix: "/svc/raw", Upstream: upstream.URL},
	})

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/svc/items/7", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/items/7", decodeSeen(t, rec).Path)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/svc", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/", decodeSeen(t, rec).Path)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/svc/raw/x", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/svc/raw/x", decodeSeen(t, rec).Path)
}

func TestGateway_AuthRunsBeforeRateLimit(t *testing.T) {
	upstream := newUpstream(t)
	env := newTestEnv(t, []middleware.RateLimitRule{
		{PathPrefix: "/api", WindowSeconds: 60, MaxPermits: 1},
	}, apiRoute(upstream))

	req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, env.do(t, req).Code)

	assert.False(t, env.mr.Exists(middleware.KeyPrefix+"/api"), "denied request must not consume a permit")
	assert.Equal(t, http.StatusOK, env.do(t, httptest.NewRequest(http.MethodGet, "/api/x", nil)).Code)
}

func TestGateway_ScopesByClientIP(t *testing.T) {
	upstream := newUpstream(t)
	env := newTestEnv(t, []middleware.RateLimitRule{
		{PathPrefix: "/api", ScopeByClientIP: true, WindowSeconds: 60, MaxPermits: 1},
	}, apiRoute(upstream))

	first := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	first.Header.Set("X-Real-IP", "10.0.0.1")
	assert.Equal(t, http.StatusOK, env.do(t, first).Code)

	again := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	again.Header.Set("X-Real-IP", "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, env.do(t, again).Code)

	other := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	other.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, http.StatusOK, env.do(t, other).Code)

	assert.True(t, env.mr.Exists(middleware.KeyPrefix+"ip:10.0.0.1:/api"))
}

func TestGateway_RejectsMalformedRequest(t *testing.T) {
	upstream := newUpstream(t)
	env := newTestEnv(t, nil, apiRoute(upstream))

	req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	req.Header.Set("X-Real-IP", "not-an-ip")
	rec := env.do(t, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.HeaderRequestID))
}

func TestGateway_StoreUnavailableDenies(t *testing.T) {
	upstream := newUpstream(t)
	env := newTestEnv(t, []middleware.RateLimitRule{
		{PathPrefix: "/api", WindowSeconds: 60, MaxPermits: 10},
	}, apiRoute(upstream))
	env.mr.Close()

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Paths no rule matches never touch the store.
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/other", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGateway_UpstreamDown(t *testing.T) {
	upstream := newUpstream(t)
	routes := apiRoute(upstream)
	upstream.Close()

	env := newTestEnv(t, nil, routes)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"code":502,"message":"Bad Gateway"}`, rec.Body.String())
}

func TestNew_Validation(t *testing.T) {
	store := middleware.NewMemoryPermitStore(0, 0)
	verifier := auth.NewTokenVerifier(testTokenSecret, testIssuer)
	secret := middleware.RateLimitConfig{ForwardBypassSecret: testForwardSecret}

	_, err := New(Options{Store: store, RateLimit: secret})
	assert.Error(t, err)

	_, err = New(Options{Verifier: verifier, RateLimit: secret})
	assert.Error(t, err)

	_, err = New(Options{Verifier: verifier, Store: store})
	assert.Error(t, err)

	_, err = New(Options{
		Verifier:  verifier,
		Store:     store,
		RateLimit: secret,
		Routes:    []config.RouteConfig{{Prefix: "/api", Upstream: "ftp://files"}},
	})
	assert.Error(t, err)

	gw, err := New(Options{Verifier: verifier, Store: store, RateLimit: secret})
	require.NoError(t, err)
	assert.Empty(t, gw.Engine().Rules())
}

func TestStripPrefix(t *testing.T) {
	assert.Equal(t, "/x", stripPrefix("/svc/x", "/svc"))
	assert.Equal(t, "/x", stripPrefix("/svc/x", "/svc/"))
	assert.Equal(t, "/", stripPrefix("/svc", "/svc"))
}
