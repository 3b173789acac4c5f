package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/care/emr/internal/platform/auth"
)

func okHandler(c echo.Context) error { return c.NoContent(http.StatusOK) }

func callAs(t *testing.T, h echo.HandlerFunc, user *auth.User, ip string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/slots", nil)
	req.Header.Set(echo.HeaderXRealIP, ip)
	if user != nil {
		req = req.WithContext(auth.WithUser(req.Context(), user))
	}
	rec := httptest.NewRecorder()
	return rec, h(e.NewContext(req, rec))
}

func TestRateLimit_WithinBurst(t *testing.T) {
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})(okHandler)
	for i := 0; i < 5; i++ {
		rec, err := callAs(t, h, nil, "10.0.0.1")
		if err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("X-RateLimit-Limit = %q", got)
		}
	}
}

func TestRateLimit_ExceedsBurst(t *testing.T) {
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})(okHandler)
	for i := 0; i < 2; i++ {
		if _, err := callAs(t, h, nil, "10.0.0.1"); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	rec, err := callAs(t, h, nil, "10.0.0.1")
	if statusCode(err) != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestRateLimit_UsersShareNoBucket(t *testing.T) {
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})(okHandler)
	alice := &auth.User{ID: 1, Username: "alice"}
	bob := &auth.User{ID: 2, Username: "bob"}

	if _, err := callAs(t, h, alice, "10.0.0.1"); err != nil {
		t.Fatal(err)
	}
	if _, err := callAs(t, h, bob, "10.0.0.1"); err != nil {
		t.Fatalf("bob behind the same IP should have a separate bucket: %v", err)
	}
	if _, err := callAs(t, h, alice, "10.0.0.2"); statusCode(err) != http.StatusTooManyRequests {
		t.Fatalf("alice from another IP should still be limited, got %v", err)
	}
}

func TestLimiter_RefillAndRetryAfter(t *testing.T) {
	now := time.Unix(0, 0)
	l := newLimiter(RateLimitConfig{RequestsPerSecond: 0.5, BurstSize: 1})
	l.now = func() time.Time { return now }

	if ok, _ := l.take("k"); !ok {
		t.Fatal("first take should succeed")
	}
	ok, retry := l.take("k")
	if ok || retry != 3 {
		t.Fatalf("expected denial with retry 3s, got ok=%v retry=%d", ok, retry)
	}
	now = now.Add(2 * time.Second)
	if ok, _ := l.take("k"); !ok {
		t.Fatal("expected a refilled token after 2s")
	}
}

func TestLimiter_ZeroRate(t *testing.T) {
	l := newLimiter(RateLimitConfig{RequestsPerSecond: 0, BurstSize: 0})
	ok, retry := l.take("k")
	if ok || retry != 1 {
		t.Fatalf("got ok=%v retry=%d", ok, retry)
	}
}

func TestLimiter_SweepsIdleBuckets(t *testing.T) {
	now := time.Unix(1000, 0)
	l := newLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute})
	l.now = func() time.Time { return now }

	l.take("a")
	now = now.Add(2 * time.Minute)
	l.take("b")

	if _, ok := l.buckets["a"]; ok {
		t.Error("idle bucket should have been swept")
	}
	if _, ok := l.buckets["b"]; !ok {
		t.Error("active bucket missing")
	}
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond <= 0 || cfg.BurstSize <= 0 || cfg.IdleTTL <= 0 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
