package limiter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/raakeshmj/nfcverify/internal/cache"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

type Result struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
	// Local is set when the shared counter was unavailable.
	Local bool
}

// FixedWindowLimiter counts hits per key in fixed windows. Counts go to the
// shared cache when one is configured and to the local cache otherwise, or
// when the shared cache returns an error.
type FixedWindowLimiter struct {
	shared cache.Client
	local  cache.Client
	prefix string
	max    int64
	window time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewFixedWindowLimiter(shared, local cache.Client, max int, window time.Duration, logger *zap.Logger) *FixedWindowLimiter {
	if local == nil {
		local = cache.NewMemoryCache()
	}
	return &FixedWindowLimiter{
		shared: shared,
		local:  local,
		prefix: "ratelimit:",
		max:    int64(max),
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

func (l *FixedWindowLimiter) Limit() int64 { return l.max }

// Allow records one hit for key. A nil error with Allowed=false is never
// returned: an exceeded limit is reported as ErrRateLimitExceeded.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := l.now().UTC()
	winStart := now.Truncate(l.window)
	counterKey := fmt.Sprintf("%s%s:%d", l.prefix, strings.ReplaceAll(key, " ", "_"), winStart.Unix())

	hits, local, err := l.incr(ctx, counterKey)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Allowed:   hits <= l.max,
		Limit:     l.max,
		Remaining: l.max - hits,
		Local:     local,
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed {
		res.RetryAfter = winStart.Add(l.window).Sub(now)
		return res, ErrRateLimitExceeded
	}
	return res, nil
}

func (l *FixedWindowLimiter) incr(ctx context.Context, key string) (int64, bool, error) {
	if l.shared != nil {
		n, err := l.shared.Incr(ctx, key, l.window)
		if err == nil {
			return n, false, nil
		}
		l.logger.Warn("shared rate limit counter unavailable, counting locally", zap.Error(err))
	}
	n, err := l.local.Incr(ctx, key, l.window)
	return n, true, err
}
