package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestParseLimit(t *testing.T) {
	tests := map[string]int64{
		"512":  512,
		"512K": 512 << 10,
		"1M":   1 << 20,
		"10MB": 10 << 20,
		"2g":   2 << 30,
		"":     1 << 20,
		"abc":  1 << 20,
		"-5M":  1 << 20,
	}
	for in, want := range tests {
		if got := parseLimit(in); got != want {
			t.Errorf("parseLimit(%q) = %d, want %d", in, got, want)
		}
	}
}

func readAll(c echo.Context) error {
	if _, err := io.ReadAll(c.Request().Body); err != nil {
		return err
	}
	return c.NoContent(http.StatusOK)
}

func statusCode(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return 0
}

func TestBodyLimit_AllowsSmallBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/patient", strings.NewReader(`{"name":"x"}`))
	rec := httptest.NewRecorder()

	if err := BodyLimit("1K", "4K")(readAll)(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestBodyLimit_RejectsByContentLength(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/patient", strings.NewReader(strings.Repeat("a", 2048)))

	err := BodyLimit("1K", "4K")(readAll)(e.NewContext(req, httptest.NewRecorder()))
	if statusCode(err) != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %v", err)
	}
}

func TestBodyLimit_EnforcedDuringRead(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/patient", strings.NewReader(strings.Repeat("a", 2048)))
	req.ContentLength = -1

	err := BodyLimit("1K", "4K")(readAll)(e.NewContext(req, httptest.NewRecorder()))
	if statusCode(err) != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %v", err)
	}
}

func TestBodyLimit_BatchGetsLargerLimit(t *testing.T) {
	e := echo.New()
	body := strings.Repeat("a", 2048)

	req := httptest.NewRequest(http.MethodPost, BatchPath, strings.NewReader(body))
	if err := BodyLimit("1K", "4K")(readAll)(e.NewContext(req, httptest.NewRecorder())); err != nil {
		t.Fatalf("batch within its limit: %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, BatchPath, strings.NewReader(body+body+body))
	err := BodyLimit("1K", "4K")(readAll)(e.NewContext(req, httptest.NewRecorder()))
	if statusCode(err) != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 over the batch limit, got %v", err)
	}
}

func TestBodyLimit_SkipsEmptyBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patient", nil)
	if err := BodyLimit("1", "1")(readAll)(e.NewContext(req, httptest.NewRecorder())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
