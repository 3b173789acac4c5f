package rolebinding

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/care/emr/internal/domain/organization"
	"github.com/care/emr/internal/platform/apperr"
	"github.com/care/emr/internal/platform/auth"
	"github.com/care/emr/pkg/pagination"
)

type Handler struct {
	svc        *Service
	facilities organization.FacilityResolver
}

func NewHandler(svc *Service, facilities organization.FacilityResolver) *Handler {
	return &Handler{svc: svc, facilities: facilities}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/organization/mine", h.ListMine, auth.RequireUser())

	for _, prefix := range []string{"/organization/:id/users", "/facility/:facility/organizations/:id/users"} {
		g := api.Group(prefix, auth.RequireUser())
		g.GET("", h.List)
		g.POST("", h.Add)
		g.PUT("/:binding", h.UpdateRole)
		g.DELETE("/:binding", h.Remove)
	}
}

func (h *Handler) nodeRef(c echo.Context) (NodeRef, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return NodeRef{}, apperr.Validation("invalid id")
	}
	raw := c.Param("facility")
	if raw == "" {
		return NodeRef{Tree: organization.TreeOrganization, ID: id}, nil
	}
	fid, err := uuid.Parse(raw)
	if err != nil {
		return NodeRef{}, apperr.Validation("invalid facility id")
	}
	facilityID, err := h.facilities.ResolveFacility(c.Request().Context(), fid)
	if err != nil {
		return NodeRef{}, err
	}
	return NodeRef{Tree: organization.TreeFacility, FacilityID: facilityID, ID: id}, nil
}

type bindingRequest struct {
	User uuid.UUID `json:"user"`
	Role uuid.UUID `json:"role"`
}

func (h *Handler) Add(c echo.Context) error {
	ref, err := h.nodeRef(c)
	if err != nil {
		return err
	}
	var req bindingRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation(err.Error())
	}
	if req.User == uuid.Nil || req.Role == uuid.Nil {
		return apperr.Validation("user and role are required")
	}
	ctx := c.Request().Context()
	b, err := h.svc.Add(ctx, auth.UserFromContext(ctx), ref, req.User, req.Role)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) UpdateRole(c echo.Context) error {
	ref, err := h.nodeRef(c)
	if err != nil {
		return err
	}
	bindingID, err := uuid.Parse(c.Param("binding"))
	if err != nil {
		return apperr.Validation("invalid binding id")
	}
	var req bindingRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation(err.Error())
	}
	ctx := c.Request().Context()
	b, err := h.svc.UpdateRole(ctx, auth.UserFromContext(ctx), ref, bindingID, req.Role)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) Remove(c echo.Context) error {
	ref, err := h.nodeRef(c)
	if err != nil {
		return err
	}
	bindingID, err := uuid.Parse(c.Param("binding"))
	if err != nil {
		return apperr.Validation("invalid binding id")
	}
	ctx := c.Request().Context()
	if err := h.svc.Remove(ctx, auth.UserFromContext(ctx), ref, bindingID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) List(c echo.Context) error {
	ref, err := h.nodeRef(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	p := pagination.FromContext(c)
	bindings, total, err := h.svc.ListForNode(ctx, auth.UserFromContext(ctx), ref, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(bindings, total, p.Limit, p.Offset))
}

// ListMine returns the caller's organization memberships.
func (h *Handler) ListMine(c echo.Context) error {
	ctx := c.Request().Context()
	bindings, err := h.svc.ListForUser(ctx, auth.UserFromContext(ctx), organization.TreeOrganization)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"results": bindings})
}
