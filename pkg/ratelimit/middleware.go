package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/tariff/pkg/httputil"
	"github.com/platinummonkey/tariff/pkg/observability"
)

// Route classes
const (
	ClassCommit  = "commit"
	ClassDefault = "default"
)

// Options configures Middleware
type Options struct {
	Logger  *observability.Logger
	Metrics *observability.Metrics
	// Commits, when set, gives commit requests their own budget
	Commits Limiter
}

// Middleware rejects requests over the client's budget with 429. Limiter
// errors are logged and the request is let through.
func Middleware(limiter Limiter, opts Options) func(http.Handler) http.Handler {
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			class := routeClass(r)
			l := limiter
			if class == ClassCommit && opts.Commits != nil {
				l = opts.Commits
			}

			key := class + ":" + ClientIP(r)
			decision, err := l.Allow(r.Context(), key)
			if err != nil {
				opts.Logger.WithError(err).WithField("key", key).Warn("rate limiter unavailable, allowing request")
				opts.Metrics.RecordRateLimit(class, "failed_open")
				next.ServeHTTP(w, r)
				return
			}

			setHeaders(w, decision)
			if !decision.Allowed {
				opts.Metrics.RecordRateLimit(class, "rejected")
				retryAfter := int(math.Ceil(time.Until(decision.Reset).Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				httputil.WriteErrorMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setHeaders(w http.ResponseWriter, d Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.Reset.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	}
}

func routeClass(r *http.Request) string {
	if r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/v1/commits") {
		return ClassCommit
	}
	return ClassDefault
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the remote host
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
