package gateway

import (
	"fmt"
	"net/http"
	proxyutil "net/http/httputil"
	"net/url"
	"strings"

	"github.com/platinummonkey/turnstile/pkg/config"
	"github.com/platinummonkey/turnstile/pkg/contextkeys"
	"github.com/platinummonkey/turnstile/pkg/httputil"
	"github.com/platinummonkey/turnstile/pkg/middleware"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

// HeaderTokenUser carries the authenticated user id to upstream services.
const HeaderTokenUser = "X-Token-User"

// newProxy builds the reverse proxy for one route.
func newProxy(route config.RouteConfig) (*proxyutil.ReverseProxy, error) {
	target, err := url.Parse(route.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream %q: %w", route.Upstream, err)
	}

	return &proxyutil.ReverseProxy{
		Rewrite: func(pr *proxyutil.ProxyRequest) {
			if route.StripPrefix {
				pr.Out.URL.Path = stripPrefix(pr.In.URL.Path, route.Prefix)
				pr.Out.URL.RawPath = ""
			}
			pr.SetURL(target)
			pr.SetXForwarded()

			pr.Out.Header.Del(HeaderTokenUser)
			ctx := pr.In.Context()
			if identity, ok := contextkeys.GetIdentity(ctx); ok {
				pr.Out.Header.Set(HeaderTokenUser, identity.String())
			}
			if requestID := contextkeys.GetRequestID(ctx); requestID != "" {
				pr.Out.Header.Set(middleware.HeaderRequestID, requestID)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			observability.FromContext(r.Context()).
				WithError(err).
				WithField("upstream", target.Host).
				Error("upstream request failed")
			httputil.WriteError(w, http.StatusBadGateway, "")
		},
	}, nil
}

func stripPrefix(path, prefix string) string {
	trimmed := strings.TrimPrefix(path, strings.TrimSuffix(prefix, "/"))
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	return trimmed
}
