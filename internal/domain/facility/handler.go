package facility

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/care/emr/internal/platform/apperr"
	"github.com/care/emr/internal/platform/auth"
	"github.com/care/emr/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/facility", auth.RequireUser())
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
}

type createRequest struct {
	Name            string     `json:"name"`
	FacilityType    string     `json:"facility_type"`
	GeoOrganization *uuid.UUID `json:"geo_organization"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation(err.Error())
	}
	ctx := c.Request().Context()
	f, err := h.svc.Create(ctx, auth.UserFromContext(ctx), CreateInput(req))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, f)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	ctx := c.Request().Context()
	f, err := h.svc.Get(ctx, auth.UserFromContext(ctx), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, f)
}

type updateRequest struct {
	Name         *string `json:"name"`
	FacilityType *string `json:"facility_type"`
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation(err.Error())
	}
	ctx := c.Request().Context()
	f, err := h.svc.Update(ctx, auth.UserFromContext(ctx), id, UpdateInput(req))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	p := pagination.FromContext(c)
	facilities, total, err := h.svc.List(ctx, auth.UserFromContext(ctx), p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(facilities, total, p.Limit, p.Offset))
}
