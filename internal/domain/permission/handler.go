package permission

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
	read := api.Group("", auth.RequireUser())
	read.GET("/permissions", h.ListPermissions)
	read.GET("/roles", h.ListRoles)
	read.GET("/roles/:id", h.GetRole)

	write := api.Group("", auth.RequireSuperuser())
	write.POST("/roles", h.CreateRole)
	write.PUT("/roles/:id", h.UpdateRole)
	write.DELETE("/roles/:id", h.DeleteRole)
}

func (h *Handler) ListPermissions(c echo.Context) error {
	perms, err := h.svc.ListPermissions(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(perms, len(perms), len(perms), 0))
}

func (h *Handler) ListRoles(c echo.Context) error {
	p := pagination.FromContext(c)
	roles, total, err := h.svc.ListRoles(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(roles, total, p.Limit, p.Offset))
}

func (h *Handler) GetRole(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	ro, err := h.svc.GetRole(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ro)
}

type roleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

func (h *Handler) CreateRole(c echo.Context) error {
	var req roleRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation(err.Error())
	}
	ro := &Role{Name: req.Name, Description: req.Description, Permissions: req.Permissions}
	if ro.Permissions == nil {
		ro.Permissions = []string{}
	}
	if err := h.svc.CreateRole(c.Request().Context(), ro); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, ro)
}

func (h *Handler) UpdateRole(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	var req roleRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation(err.Error())
	}
	ro, err := h.svc.UpdateRole(c.Request().Context(), id, req.Name, req.Description, req.Permissions)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ro)
}

func (h *Handler) DeleteRole(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	if err := h.svc.DeleteRole(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
