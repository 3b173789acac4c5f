package db

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
)

func TestExtractTenantID(t *testing.T) {
	tests := []struct {
		name   string
		jwt    string
		header string
		query  string
		want   string
	}{
		{"jwt claim wins", "jwt", "header", "query", "jwt"},
		{"header over query", "", "header", "query", "header"},
		{"query", "", "", "clinic_xyz", "clinic_xyz"},
		{"empty claim falls through", "", "hospital_abc", "", "hospital_abc"},
		{"default", "", "", "", "default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/"
			if tt.query != "" {
				target += "?tenant_id=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("X-Tenant-ID", tt.header)
			}
			c := echo.New().NewContext(req, httptest.NewRecorder())
			c.Set("jwt_tenant_id", tt.jwt)

			if got := extractTenantID(c, "default"); got != tt.want {
				t.Errorf("extractTenantID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTenantIDPattern(t *testing.T) {
	valid := []string{"abc", "ABC", "hospital_1", "A1B2C3", "a"}
	for _, v := range valid {
		if !tenantIDPattern.MatchString(v) {
			t.Errorf("expected %q to be valid", v)
		}
	}
	invalid := []string{"a-b", "a.b", "a b", "'; DROP TABLE", "a/b", "", "tenant@1"}
	for _, v := range invalid {
		if tenantIDPattern.MatchString(v) {
			t.Errorf("expected %q to be invalid", v)
		}
	}
}

func TestTenantMiddleware_RejectsInvalidTenant(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/slots", nil)
	req.Header.Set("X-Tenant-ID", "bad-tenant")
	c := echo.New().NewContext(req, httptest.NewRecorder())

	called := false
	err := TenantMiddleware(nil, "default")(func(echo.Context) error {
		called = true
		return nil
	})(c)

	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
	if called {
		t.Error("handler must not run for an invalid tenant")
	}
}

func TestWithTenant_InvalidID(t *testing.T) {
	if _, _, err := WithTenant(context.Background(), nil, "a;b"); err == nil {
		t.Fatal("expected error for invalid tenant ID")
	}
}

func TestContextAccessors(t *testing.T) {
	if ConnFromContext(context.Background()) != nil {
		t.Error("expected nil conn from empty context")
	}
	if ConnFromContext(context.WithValue(context.Background(), DBConnKey, "not-a-conn")) != nil {
		t.Error("expected nil conn for wrong type")
	}
	if got := TenantFromContext(context.WithValue(context.Background(), TenantIDKey, "t1")); got != "t1" {
		t.Errorf("TenantFromContext = %q", got)
	}
	if got := TenantFromContext(context.WithValue(context.Background(), TenantIDKey, 12345)); got != "" {
		t.Errorf("expected empty tenant for wrong type, got %q", got)
	}
}

func TestCreateTenantSchema_InvalidIDs(t *testing.T) {
	for _, id := range []string{"invalid-id!", "tenant.with.dot", "ten ant", "drop;table"} {
		if err := CreateTenantSchema(context.Background(), nil, id, nil); err == nil {
			t.Errorf("expected error for invalid tenant ID %q", id)
		}
	}
}

func TestTxFromContext_Nil(t *testing.T) {
	tx := TxFromContext(context.Background())
	if tx != nil {
		t.Error("expected nil tx from empty context")
	}
}

func TestWithTx_NoConnection(t *testing.T) {
	ctx := context.Background()
	_, _, err := WithTx(ctx)
	if err == nil {
		t.Error("expected error when no connection in context")
	}
}

func TestTxFromContext_WithWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	tx := TxFromContext(ctx)
	if tx != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestSchemaName(t *testing.T) {
	if got := SchemaName("hospital_1"); got != "tenant_hospital_1" {
		t.Errorf("SchemaName = %q, want tenant_hospital_1", got)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if IsUniqueViolation(errors.New("boom")) {
		t.Error("plain error should not be a unique violation")
	}
	if !IsUniqueViolation(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "23505"})) {
		t.Error("expected wrapped 23505 to be a unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("foreign key violation is not a unique violation")
	}
}

func TestIsForeignKeyViolation(t *testing.T) {
	if !IsForeignKeyViolation(fmt.Errorf("delete: %w", &pgconn.PgError{Code: "23503"})) {
		t.Error("expected 23503 to be a foreign key violation")
	}
	if IsForeignKeyViolation(&pgconn.PgError{Code: "23505"}) {
		t.Error("unique violation must not match")
	}
}

func TestIsNoRows(t *testing.T) {
	if !IsNoRows(fmt.Errorf("get: %w", pgx.ErrNoRows)) {
		t.Error("expected wrapped ErrNoRows to be detected")
	}
}
