package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/care/emr/internal/platform/auth"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// IdleTTL drops buckets that have not been touched for this long.
	IdleTTL time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
		IdleTTL:           10 * time.Minute,
	}
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

type limiter struct {
	mu        sync.Mutex
	cfg       RateLimitConfig
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

func newLimiter(cfg RateLimitConfig) *limiter {
	return &limiter{cfg: cfg, buckets: make(map[string]*bucket), now: time.Now}
}

// take consumes one token for key. When the bucket is empty it returns the
// number of seconds until a token is available.
func (l *limiter) take(key string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.cfg.BurstSize), lastSeen: now}
		l.buckets[key] = b
	}
	b.tokens += now.Sub(b.lastSeen).Seconds() * l.cfg.RequestsPerSecond
	if burst := float64(l.cfg.BurstSize); b.tokens > burst {
		b.tokens = burst
	}
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if l.cfg.RequestsPerSecond <= 0 {
		return false, 1
	}
	return false, int((1-b.tokens)/l.cfg.RequestsPerSecond) + 1
}

func (l *limiter) sweep(now time.Time) {
	if l.cfg.IdleTTL <= 0 || now.Sub(l.lastSweep) < l.cfg.IdleTTL {
		return
	}
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.cfg.IdleTTL {
			delete(l.buckets, k)
		}
	}
	l.lastSweep = now
}

// rateKey is the tenant plus the authenticated user, or the client IP for
// anonymous requests.
func rateKey(c echo.Context) string {
	key := "ip:" + c.RealIP()
	if u := auth.UserFromContext(c.Request().Context()); u != nil {
		key = "user:" + strconv.FormatInt(u.ID, 10)
	}
	if tenant, ok := c.Get("tenant_id").(string); ok && tenant != "" {
		key = tenant + "/" + key
	}
	return key
}

// RateLimit applies a token bucket per caller.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	l := newLimiter(cfg)
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set("X-RateLimit-Limit", limit)
			ok, retryAfter := l.take(rateKey(c))
			if !ok {
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
