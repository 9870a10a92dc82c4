package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/httprate"
	"github.com/sandeepkv93/session-guard/internal/http/response"
	"github.com/sandeepkv93/session-guard/internal/observability"
)

// IPRateLimit is a coarse per-client throttle in front of the auth routes.
// The login and refresh failure budgets are enforced separately by the
// auth service.
func IPRateLimit(scope string, requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 1
	}
	if scope == "" {
		scope = "http"
	}
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return ClientIP(r), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			observability.RecordRateLimitDecision(r.Context(), scope, "deny")
			if w.Header().Get("Retry-After") == "" {
				WriteRetryAfter(w.Header(), time.Minute)
			}
			response.Error(w, r, http.StatusTooManyRequests, response.CodeRateLimited, "too many requests", nil)
		}),
	)
}

// ClientIP returns the request's remote address without the port. chi's
// RealIP middleware has already applied forwarding headers by then.
func ClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if ip := net.ParseIP(addr); ip != nil {
		return ip.String()
	}
	return addr
}

func WriteRetryAfter(h http.Header, d time.Duration) {
	h.Set("Retry-After", retryAfterHeader(d))
}

func retryAfterHeader(d time.Duration) string {
	if d <= 0 {
		return "1"
	}
	seconds := int(d.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return fmt.Sprintf("%d", seconds)
}
