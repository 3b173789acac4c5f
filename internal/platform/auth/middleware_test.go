package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, header string) (echo.Context, error, bool) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	c := e.NewContext(req, httptest.NewRecorder())

	called := false
	var seen echo.Context
	err := mw(func(c echo.Context) error {
		called = true
		seen = c
		return c.String(http.StatusOK, "ok")
	})(c)
	if seen == nil {
		seen = c
	}
	return seen, err, called
}

func assertUnauthorized(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err, called := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "")
	assertUnauthorized(t, err)
	if called {
		t.Error("handler must not run")
	}
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err, _ := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), tt.header)
			assertUnauthorized(t, err)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	sub := uuid.New()
	tokenStr := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID:  "tenant1",
		Username:  "doctor1",
		TokenType: TokenTypeAccess,
	}, testSigningKey)

	c, err, called := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+tokenStr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected handler to be called")
	}
	ctx := c.Request().Context()
	if SubjectFromContext(ctx) != sub.String() {
		t.Errorf("expected subject %s, got %s", sub, SubjectFromContext(ctx))
	}
	if UsernameFromContext(ctx) != "doctor1" {
		t.Errorf("expected username doctor1, got %s", UsernameFromContext(ctx))
	}
	if c.Get("jwt_tenant_id") != "tenant1" {
		t.Errorf("expected jwt_tenant_id tenant1, got %v", c.Get("jwt_tenant_id"))
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	tokenStr := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "x",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}, testSigningKey)

	_, err, _ := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+tokenStr)
	assertUnauthorized(t, err)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	tokenStr := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "x"},
	}, []byte("another-key-another-key-another-key"))

	_, err, _ := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+tokenStr)
	assertUnauthorized(t, err)
}

func TestJWTMiddleware_WrongIssuer(t *testing.T) {
	tokenStr := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "x", Issuer: "someone-else"},
	}, testSigningKey)

	_, err, _ := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Issuer: "emr"}), "Bearer "+tokenStr)
	assertUnauthorized(t, err)
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey, Skipper: func(echo.Context) bool { return true }}
	_, err, called := runMiddleware(t, JWTMiddleware(cfg), "")
	if err != nil || !called {
		t.Fatalf("expected skipped request to reach handler, err=%v", err)
	}
}

func TestDevAuthMiddleware_DefaultsWithoutHeader(t *testing.T) {
	c, err, called := runMiddleware(t, DevAuthMiddleware("admin", JWTConfig{SigningKey: testSigningKey}), "")
	if err != nil || !called {
		t.Fatalf("expected handler to run, err=%v", err)
	}
	if UsernameFromContext(c.Request().Context()) != "admin" {
		t.Errorf("expected dev username admin, got %q", UsernameFromContext(c.Request().Context()))
	}
	if TokenTypeFromContext(c.Request().Context()) != TokenTypeAccess {
		t.Error("expected access token type")
	}
}

func TestDevAuthMiddleware_ValidatesProvidedToken(t *testing.T) {
	_, err, called := runMiddleware(t, DevAuthMiddleware("admin", JWTConfig{SigningKey: testSigningKey}), "Bearer garbage")
	assertUnauthorized(t, err)
	if called {
		t.Error("handler must not run for an invalid token")
	}
}

func TestIssuer_RoundTrip(t *testing.T) {
	iss := NewIssuer(testSigningKey, "emr", time.Hour)
	id := uuid.New()

	tok, err := iss.IssueAccess(id, "nurse1", "default")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	claims, err := ParseToken(tok, testSigningKey, "emr")
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Subject != id.String() || claims.Username != "nurse1" || claims.TokenType != TokenTypeAccess {
		t.Errorf("unexpected claims: %+v", claims)
	}
	if claims.ID == "" {
		t.Error("expected a jti")
	}
}

func TestIssuer_PatientOTP(t *testing.T) {
	iss := NewIssuer(testSigningKey, "emr", time.Hour)
	tok, err := iss.IssuePatientOTP("+911234567890", "default")
	if err != nil {
		t.Fatalf("IssuePatientOTP: %v", err)
	}

	c, err, _ := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Issuer: "emr"}), "Bearer "+tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := c.Request().Context()
	if PhoneFromContext(ctx) != "+911234567890" {
		t.Errorf("expected phone claim, got %q", PhoneFromContext(ctx))
	}
	if TokenTypeFromContext(ctx) != TokenTypePatientOTP {
		t.Errorf("expected patient_otp token type, got %q", TokenTypeFromContext(ctx))
	}
}

func TestIssuer_Expired(t *testing.T) {
	iss := NewIssuer(testSigningKey, "", time.Minute)
	iss.now = func() time.Time { return time.Now().Add(-time.Hour) }
	tok, err := iss.IssueAccess(uuid.New(), "u", "")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := ParseToken(tok, testSigningKey, ""); err == nil {
		t.Error("expected expired token to fail")
	}
}
