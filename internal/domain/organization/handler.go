package organization

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/care/emr/internal/platform/apperr"
	"github.com/care/emr/internal/platform/auth"
	"github.com/care/emr/pkg/pagination"
)

// FacilityResolver maps a facility external id to its internal id.
type FacilityResolver interface {
	ResolveFacility(ctx context.Context, id uuid.UUID) (int64, error)
}

type Handler struct {
	svc        *Service
	facilities FacilityResolver
}

func NewHandler(svc *Service, facilities FacilityResolver) *Handler {
	return &Handler{svc: svc, facilities: facilities}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/organization", auth.RequireUser())
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)

	fg := api.Group("/facility/:facility/organizations", auth.RequireUser())
	fg.GET("", h.List)
	fg.POST("", h.Create)
	fg.GET("/root", h.GetRoot)
	fg.GET("/:id", h.Get)
	fg.PUT("/:id", h.Update)
	fg.DELETE("/:id", h.Delete)
}

// tree reads the tree and facility a route addresses from its path.
func (h *Handler) tree(c echo.Context) (Tree, int64, error) {
	raw := c.Param("facility")
	if raw == "" {
		return TreeOrganization, 0, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return 0, 0, apperr.Validation("invalid facility id")
	}
	facilityID, err := h.facilities.ResolveFacility(c.Request().Context(), id)
	if err != nil {
		return 0, 0, err
	}
	return TreeFacility, facilityID, nil
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id")
	}
	return id, nil
}

type createRequest struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	OrgType     string                 `json:"org_type"`
	Parent      *uuid.UUID             `json:"parent"`
	Metadata    map[string]interface{} `json:"metadata"`
}

func (h *Handler) Create(c echo.Context) error {
	tree, facilityID, err := h.tree(c)
	if err != nil {
		return err
	}
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation(err.Error())
	}
	ctx := c.Request().Context()
	o, err := h.svc.Create(ctx, auth.UserFromContext(ctx), CreateInput{
		Tree:        tree,
		FacilityID:  facilityID,
		Parent:      req.Parent,
		Name:        req.Name,
		Description: req.Description,
		OrgType:     req.OrgType,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return err
	}
	if err := h.svc.withParent(ctx, o); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, o)
}

func (h *Handler) Get(c echo.Context) error {
	tree, _, err := h.tree(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	o, err := h.svc.Get(ctx, auth.UserFromContext(ctx), tree, id)
	if err != nil {
		return err
	}
	if err := h.svc.withParent(ctx, o); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) GetRoot(c echo.Context) error {
	_, facilityID, err := h.tree(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	root, err := h.svc.GetRoot(ctx, facilityID)
	if err != nil {
		return err
	}
	if err := h.svc.requireView(ctx, auth.UserFromContext(ctx), root); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, root)
}

type updateRequest struct {
	Name        *string                `json:"name"`
	Description *string                `json:"description"`
	Metadata    map[string]interface{} `json:"metadata"`
}

func (h *Handler) Update(c echo.Context) error {
	tree, _, err := h.tree(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation(err.Error())
	}
	ctx := c.Request().Context()
	o, err := h.svc.Update(ctx, auth.UserFromContext(ctx), tree, id, UpdateInput(req))
	if err != nil {
		return err
	}
	if err := h.svc.withParent(ctx, o); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) Delete(c echo.Context) error {
	tree, _, err := h.tree(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.svc.Delete(ctx, auth.UserFromContext(ctx), tree, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// List filters by ?parent=<id>, ?root=true, ?org_type= and ?name=.
func (h *Handler) List(c echo.Context) error {
	tree, facilityID, err := h.tree(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	p := pagination.FromContext(c)
	f := Filter{
		Tree:       tree,
		FacilityID: facilityID,
		OrgType:    c.QueryParam("org_type"),
		Name:       c.QueryParam("name"),
		RootsOnly:  c.QueryParam("root") == "true",
		Limit:      p.Limit,
		Offset:     p.Offset,
	}
	if raw := c.QueryParam("parent"); raw != "" {
		pid, err := uuid.Parse(raw)
		if err != nil {
			return apperr.Validation("invalid parent id")
		}
		parent, err := h.svc.Resolve(ctx, tree, pid)
		if err != nil {
			return err
		}
		f.ParentID = &parent.ID
	}
	nodes, total, err := h.svc.List(ctx, auth.UserFromContext(ctx), f)
	if err != nil {
		return err
	}
	if err := h.svc.withParent(ctx, nodes...); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(nodes, total, p.Limit, p.Offset))
}
