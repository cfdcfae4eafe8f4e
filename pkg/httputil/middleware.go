package httputil

import (
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"path"
	"runtime/debug"
	"strings"
	"time"

	"github.com/platinummonkey/turnstile/pkg/observability"
)

// HeaderRealIP carries the caller address set by the edge load balancer.
const HeaderRealIP = "X-Real-IP"

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// LoggingMiddleware writes one access log line per request.
func LoggingMiddleware(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			observability.Annotate(r.Context(), logger).WithFields(map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"remote_addr": r.RemoteAddr,
				"status":      rw.statusCode,
				"duration_ms": time.Since(start).Milliseconds(),
			}).Info("request")
		})
	}
}

// RecoveryMiddleware turns a panic into a generic 500. The panic value and stack are
// logged and never sent to the caller.
func RecoveryMiddleware(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					observability.Annotate(r.Context(), logger).
						WithField("panic", rec).
						WithField("stack", string(debug.Stack())).
						Error("panic while serving request")
					WriteInternalError(w)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// BoundaryMiddleware validates the parts of a request the pipeline relies on and rejects
// malformed requests with a 400 before any admission decision is made.
func BoundaryMiddleware(maxBodyBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rej := validateRequest(r, maxBodyBytes); rej != nil {
				WriteRejection(w, rej)
				return
			}
			if maxBodyBytes > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func validateRequest(r *http.Request, maxBodyBytes int64) *Rejection {
	p := r.URL.Path
	if !strings.HasPrefix(p, "/") {
		return Reject(RejectMalformedPath, "path must be absolute")
	}
	if cleaned := path.Clean(p); cleaned != p && cleaned+"/" != p {
		return Reject(RejectMalformedPath, "path must be in canonical form")
	}
	if _, err := url.ParseQuery(r.URL.RawQuery); err != nil {
		return Reject(RejectMalformedQuery, "%v", err)
	}
	if values := r.Header.Values(HeaderRealIP); len(values) > 0 {
		if len(values) > 1 {
			return Reject(RejectMalformedHeader, "%s must appear once", HeaderRealIP)
		}
		if _, ok := parseAddr(values[0]); !ok {
			return Reject(RejectMalformedHeader, "%s is not an IP address", HeaderRealIP)
		}
	}
	if maxBodyBytes > 0 && r.ContentLength > maxBodyBytes {
		return Reject(RejectBodyTooLarge, "limit is %d bytes", maxBodyBytes)
	}
	return nil
}

// ClientIP returns the caller address: X-Real-IP when present, otherwise the host part of
// the connection's remote address.
func ClientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get(HeaderRealIP)); ip != "" {
		if addr, ok := parseAddr(ip); ok {
			return addr.String()
		}
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseAddr(value string) (netip.Addr, bool) {
	value = strings.TrimSpace(value)
	if addr, err := netip.ParseAddr(value); err == nil {
		return addr, true
	}
	if addrPort, err := netip.ParseAddrPort(value); err == nil {
		return addrPort.Addr(), true
	}
	return netip.Addr{}, false
}

// Chain chains multiple middleware together. The first middleware is the outermost.
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
