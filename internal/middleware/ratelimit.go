package middleware

import (
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/raakeshmj/nfcverify/internal/apperr"
	"github.com/raakeshmj/nfcverify/internal/limiter"
	"github.com/raakeshmj/nfcverify/internal/logging"
	"github.com/raakeshmj/nfcverify/internal/metrics"
	"github.com/raakeshmj/nfcverify/internal/reliability"
)

// RateLimit counts requests per caller IP in fixed windows. Limiter
// infrastructure failures never block traffic.
func RateLimit(l *limiter.FixedWindowLimiter, m *metrics.Collector, logger *zap.Logger, writeErr ErrorWriter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, err := httprate.KeyByRealIP(r)
			if err != nil || ip == "" {
				ip = r.RemoteAddr
			}
			if host, _, err := net.SplitHostPort(ip); err == nil {
				ip = host
			}

			res, err := l.Allow(r.Context(), "ip:"+ip)

			if errors.Is(err, limiter.ErrRateLimitExceeded) {
				retry := int(math.Ceil(res.RetryAfter.Seconds()))
				w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(l.Limit(), 10))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				m.RateLimited(routeLabel(r))
				logger.Warn("rate limit exceeded", logging.RemoteIP(ip), logging.Path(r.URL.Path))
				writeErr(w, r, &apperr.RateLimitError{RetryAfter: res.RetryAfter})
				return
			}

			if err != nil {
				// System error (counter store down)
				if reliability.ShouldAllow(reliability.FailOpen, err, limiter.ErrRateLimitExceeded) {
					logger.Error("rate limiter error, failing open", zap.Error(err))
					next.ServeHTTP(w, r)
					return
				}
				writeErr(w, r, err)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			next.ServeHTTP(w, r)
		})
	}
}
