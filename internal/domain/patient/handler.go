package patient

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
	g := api.Group("/patient", auth.RequireUser())
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.GET("/:id/get_users", h.ListUsers)
	g.POST("/:id/add_user", h.AddUser)
	g.POST("/:id/remove_user", h.RemoveUser)
	g.POST("/:id/add_organization", h.AddOrganization)
	g.POST("/:id/remove_organization", h.RemoveOrganization)
}

func patientID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id")
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	var in Input
	if err := c.Bind(&in); err != nil {
		return apperr.Validation(err.Error())
	}
	ctx := c.Request().Context()
	p, err := h.svc.Create(ctx, auth.UserFromContext(ctx), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	p, err := h.svc.Get(ctx, auth.UserFromContext(ctx), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	var in Input
	if err := c.Bind(&in); err != nil {
		return apperr.Validation(err.Error())
	}
	ctx := c.Request().Context()
	p, err := h.svc.Update(ctx, auth.UserFromContext(ctx), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	p := pagination.FromContext(c)
	patients, total, err := h.svc.List(ctx, auth.UserFromContext(ctx), Filter{
		Name:   c.QueryParam("name"),
		Phone:  c.QueryParam("phone_number"),
		Limit:  p.Limit,
		Offset: p.Offset,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, p.Limit, p.Offset))
}

func (h *Handler) ListUsers(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	p := pagination.FromContext(c)
	bindings, total, err := h.svc.ListUsers(ctx, auth.UserFromContext(ctx), id, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(bindings, total, p.Limit, p.Offset))
}

type userRequest struct {
	User uuid.UUID `json:"user"`
	Role uuid.UUID `json:"role"`
}

func (h *Handler) AddUser(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	var req userRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation(err.Error())
	}
	if req.User == uuid.Nil || req.Role == uuid.Nil {
		return apperr.Validation("user and role are required")
	}
	ctx := c.Request().Context()
	b, err := h.svc.AddUser(ctx, auth.UserFromContext(ctx), id, req.User, req.Role)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) RemoveUser(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	var req userRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation(err.Error())
	}
	ctx := c.Request().Context()
	if err := h.svc.RemoveUser(ctx, auth.UserFromContext(ctx), id, req.User); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"detail": "User removed"})
}

type organizationRequest struct {
	Organization uuid.UUID `json:"organization"`
}

func (h *Handler) AddOrganization(c echo.Context) error {
	return h.changeOrganization(c, true)
}

func (h *Handler) RemoveOrganization(c echo.Context) error {
	return h.changeOrganization(c, false)
}

func (h *Handler) changeOrganization(c echo.Context, add bool) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	var req organizationRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation(err.Error())
	}
	ctx := c.Request().Context()
	actor := auth.UserFromContext(ctx)
	var p *Patient
	if add {
		p, err = h.svc.AddOrganization(ctx, actor, id, req.Organization)
	} else {
		p, err = h.svc.RemoveOrganization(ctx, actor, id, req.Organization)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}
