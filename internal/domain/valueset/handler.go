package valueset

import (
	"net/http"

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
	g := api.Group("/valueset", auth.RequireUser())
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:slug", h.Get)
	g.PUT("/:slug", h.Update)
	g.POST("/:slug/lookup_code", h.LookupCode)
}

func (h *Handler) Create(c echo.Context) error {
	var in Input
	if err := c.Bind(&in); err != nil {
		return apperr.Validation(err.Error())
	}
	ctx := c.Request().Context()
	v, err := h.svc.Create(ctx, auth.UserFromContext(ctx), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) Update(c echo.Context) error {
	var in Input
	if err := c.Bind(&in); err != nil {
		return apperr.Validation(err.Error())
	}
	ctx := c.Request().Context()
	v, err := h.svc.Update(ctx, auth.UserFromContext(ctx), c.Param("slug"), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Get(c echo.Context) error {
	v, err := h.svc.Get(c.Request().Context(), c.Param("slug"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), c.QueryParam("search"), p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) LookupCode(c echo.Context) error {
	var coding Coding
	if err := c.Bind(&coding); err != nil {
		return apperr.Validation(err.Error())
	}
	if coding.System == "" || coding.Code == "" {
		return apperr.Validation("system and code are required")
	}
	out, ok, err := h.svc.LookupCode(c.Request().Context(), c.Param("slug"), coding)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("code in valueset")
	}
	return c.JSON(http.StatusOK, out)
}
