package questionnaire

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
	g := api.Group("/questionnaire", auth.RequireUser())
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:slug", h.Get)
	g.PUT("/:slug", h.Update)
	g.POST("/:slug/submit", h.Submit)
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	p := pagination.FromContext(c)
	var orgID *uuid.UUID
	if raw := c.QueryParam("organization"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return apperr.Validation("invalid organization id")
		}
		orgID = &id
	}
	items, total, err := h.svc.List(ctx, auth.UserFromContext(ctx), orgID, Filter{
		Status: c.QueryParam("status"),
		Search: c.QueryParam("title"),
		Limit:  p.Limit,
		Offset: p.Offset,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) Create(c echo.Context) error {
	var in Input
	if err := c.Bind(&in); err != nil {
		return apperr.Validation(err.Error())
	}
	ctx := c.Request().Context()
	q, err := h.svc.Create(ctx, auth.UserFromContext(ctx), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, q)
}

func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	q, err := h.svc.Get(ctx, auth.UserFromContext(ctx), c.Param("slug"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) Update(c echo.Context) error {
	var in Input
	if err := c.Bind(&in); err != nil {
		return apperr.Validation(err.Error())
	}
	ctx := c.Request().Context()
	q, err := h.svc.Update(ctx, auth.UserFromContext(ctx), c.Param("slug"), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) Submit(c echo.Context) error {
	var req SubmitRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation(err.Error())
	}
	if req.Encounter == nil && req.Patient == uuid.Nil {
		return apperr.Validation("encounter or patient is required")
	}
	ctx := c.Request().Context()
	resp, err := h.svc.Submit(ctx, auth.UserFromContext(ctx), c.Param("slug"), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}
