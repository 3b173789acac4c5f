package observation

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
	g := api.Group("/patient/:patient/observation", auth.RequireUser())
	g.GET("", h.List)
	g.GET("/:id", h.Get)
}

func parseUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid " + name + " id")
	}
	return id, nil
}

func (h *Handler) List(c echo.Context) error {
	patientID, err := parseUUID(c, "patient")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	p := pagination.FromContext(c)
	obs, total, err := h.svc.List(ctx, auth.UserFromContext(ctx), patientID, Filter{
		Code:   c.QueryParam("code"),
		Limit:  p.Limit,
		Offset: p.Offset,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(obs, total, p.Limit, p.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	patientID, err := parseUUID(c, "patient")
	if err != nil {
		return err
	}
	id, err := parseUUID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	o, err := h.svc.Get(ctx, auth.UserFromContext(ctx), patientID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, o)
}
