package fileupload

import (
	"net/http"
	"strconv"

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
	g := api.Group("/files", auth.RequireUser())
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.POST("/:id/mark_upload_completed", h.MarkUploadCompleted)
	g.POST("/:id/archive", h.Archive)
}

func fileID(c echo.Context) (uuid.UUID, error) {
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
	ctx := c.Request().Context()
	f, err := h.svc.Create(ctx, auth.UserFromContext(ctx), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, f)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := fileID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	f, err := h.svc.Get(ctx, auth.UserFromContext(ctx), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) MarkUploadCompleted(c echo.Context) error {
	id, err := fileID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	f, err := h.svc.MarkUploadCompleted(ctx, auth.UserFromContext(ctx), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) Archive(c echo.Context) error {
	id, err := fileID(c)
	if err != nil {
		return err
	}
	var body struct {
		ArchiveReason string `json:"archive_reason"`
	}
	if err := c.Bind(&body); err != nil {
		return apperr.Validation(err.Error())
	}
	ctx := c.Request().Context()
	f, err := h.svc.Archive(ctx, auth.UserFromContext(ctx), id, body.ArchiveReason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) List(c echo.Context) error {
	assoc, err := uuid.Parse(c.QueryParam("associating_id"))
	if err != nil {
		return apperr.Validation("invalid associating_id")
	}
	p := pagination.FromContext(c)
	f := Filter{FileType: c.QueryParam("file_type"), AssociatingID: assoc, Limit: p.Limit, Offset: p.Offset}
	if v := c.QueryParam("is_archived"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return apperr.Validation("invalid is_archived")
		}
		f.Archived = &b
	}
	ctx := c.Request().Context()
	files, total, err := h.svc.List(ctx, auth.UserFromContext(ctx), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(files, total, p.Limit, p.Offset))
}
