package encounter

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
	g := api.Group("/encounter", auth.RequireUser())
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.POST("/:id/organizations_add", h.AddOrganization)
	g.POST("/:id/organizations_remove", h.RemoveOrganization)
	g.POST("/:id/generate_discharge_summary", h.GenerateDischargeSummary)
	g.GET("/:id/discharge_summary_progress", h.DischargeSummaryProgress)
	g.POST("/:id/email_discharge_summary", h.EmailDischargeSummary)
}

func encounterID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id")
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation(err.Error())
	}
	if in.Patient == uuid.Nil || in.Facility == uuid.Nil {
		return apperr.Validation("patient and facility are required")
	}
	ctx := c.Request().Context()
	e, err := h.svc.Create(ctx, auth.UserFromContext(ctx), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := encounterID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	e, err := h.svc.Get(ctx, auth.UserFromContext(ctx), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := encounterID(c)
	if err != nil {
		return err
	}
	var in UpdateInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation(err.Error())
	}
	ctx := c.Request().Context()
	e, err := h.svc.Update(ctx, auth.UserFromContext(ctx), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) List(c echo.Context) error {
	facility, err := uuid.Parse(c.QueryParam("facility"))
	if err != nil {
		return apperr.Validation("facility is required")
	}
	var patientID *uuid.UUID
	if raw := c.QueryParam("patient"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return apperr.Validation("invalid patient id")
		}
		patientID = &id
	}
	ctx := c.Request().Context()
	p := pagination.FromContext(c)
	encounters, total, err := h.svc.List(ctx, auth.UserFromContext(ctx), facility, patientID, Filter{
		Status: c.QueryParam("status"),
		Limit:  p.Limit,
		Offset: p.Offset,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(encounters, total, p.Limit, p.Offset))
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
	id, err := encounterID(c)
	if err != nil {
		return err
	}
	var req organizationRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation(err.Error())
	}
	ctx := c.Request().Context()
	actor := auth.UserFromContext(ctx)
	var e *Encounter
	if add {
		e, err = h.svc.AddOrganization(ctx, actor, id, req.Organization)
	} else {
		e, err = h.svc.RemoveOrganization(ctx, actor, id, req.Organization)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) GenerateDischargeSummary(c echo.Context) error {
	id, err := encounterID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.svc.GenerateDischargeSummary(ctx, auth.UserFromContext(ctx), id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"detail": "Discharge Summary will be generated shortly"})
}

func (h *Handler) DischargeSummaryProgress(c echo.Context) error {
	id, err := encounterID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	progress, running, err := h.svc.DischargeSummaryProgress(ctx, auth.UserFromContext(ctx), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"progress": progress, "running": running})
}

func (h *Handler) EmailDischargeSummary(c echo.Context) error {
	id, err := encounterID(c)
	if err != nil {
		return err
	}
	var req EmailRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation(err.Error())
	}
	ctx := c.Request().Context()
	if err := h.svc.EmailDischargeSummary(ctx, auth.UserFromContext(ctx), id, req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"detail": "Email will be sent shortly"})
}
