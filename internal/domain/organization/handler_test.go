package organization

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/care/emr/internal/platform/apperr"
	"github.com/care/emr/internal/platform/auth"
)

type stubFacilities map[uuid.UUID]int64

func (s stubFacilities) ResolveFacility(_ context.Context, id uuid.UUID) (int64, error) {
	if fid, ok := s[id]; ok {
		return fid, nil
	}
	return 0, apperr.NotFound("facility")
}

func newTestHandler() (*Handler, *Service, *echo.Echo) {
	svc, _, _ := newTestService()
	return NewHandler(svc, stubFacilities{}), svc, echo.New()
}

func asUser(req *http.Request, u *auth.User) *http.Request {
	return req.WithContext(auth.WithUser(req.Context(), u))
}

func TestHandler_Create(t *testing.T) {
	h, _, e := newTestHandler()

	body := `{"name":"Kerala","org_type":"govt","metadata":{"country":"India"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/organization", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(asUser(req, superuser), rec)

	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var got map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got["name"] != "Kerala" || got["org_type"] != "govt" {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
	if _, ok := got["parent_cache"]; ok {
		t.Error("internal caches must not be rendered")
	}
}

func TestHandler_Get_InvalidID(t *testing.T) {
	h, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(asUser(req, superuser), rec)
	c.SetParamNames("id")
	c.SetParamValues("nope")

	if err := h.Get(c); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestHandler_Get_Forbidden(t *testing.T) {
	h, svc, e := newTestHandler()
	o := mustCreate(t, svc, superuser, CreateInput{Name: "Private", OrgType: TypeTeam})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(asUser(req, &auth.User{ID: 77}), rec)
	c.SetParamNames("id")
	c.SetParamValues(o.ExternalID.String())

	if err := h.Get(c); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}
}

func TestHandler_FacilityNotFound(t *testing.T) {
	h, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(asUser(req, superuser), rec)
	c.SetParamNames("facility")
	c.SetParamValues(uuid.NewString())

	if err := h.List(c); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
