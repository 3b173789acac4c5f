package permission

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/care/emr/internal/platform/apperr"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _ := newTestService()
	svc.Seed(context.Background())
	return NewHandler(svc), echo.New()
}

func TestHandler_CreateRole(t *testing.T) {
	h, e := newTestHandler()

	body := `{"name":"Pharmacist","permissions":["can_list_patients","can_view_clinical_data"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/roles", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateRole(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var ro Role
	json.Unmarshal(rec.Body.Bytes(), &ro)
	if ro.Name != "Pharmacist" || len(ro.Permissions) != 2 || ro.IsSystem {
		t.Errorf("unexpected role %+v", ro)
	}
}

func TestHandler_GetRole_InvalidID(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	if err := h.GetRole(c); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestHandler_ListRoles(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/roles", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListRoles(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Count   int     `json:"count"`
		Results []*Role `json:"results"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Count != len(SystemRoles) {
		t.Errorf("expected %d roles, got %d", len(SystemRoles), resp.Count)
	}
	for _, ro := range resp.Results {
		if len(ro.Permissions) == 0 {
			t.Errorf("role %s rendered without permissions", ro.Name)
		}
	}
}
