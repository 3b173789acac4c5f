package user

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
	g := api.Group("/users", auth.RequireUser())
	g.GET("", h.ListUsers)
	g.GET("/getcurrentuser", h.GetCurrentUser)
	g.GET("/:username", h.GetUser)
	g.POST("", h.CreateUser, auth.RequireSuperuser())
}

func (h *Handler) GetCurrentUser(c echo.Context) error {
	ctx := c.Request().Context()
	u, err := h.svc.GetUser(ctx, auth.UserFromContext(ctx).ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) GetUser(c echo.Context) error {
	u, err := h.svc.GetUserByUsername(c.Request().Context(), c.Param("username"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) ListUsers(c echo.Context) error {
	p := pagination.FromContext(c)
	users, total, err := h.svc.ListUsers(c.Request().Context(), c.QueryParam("search"), p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(users, total, p.Limit, p.Offset))
}

type createUserRequest struct {
	Username    string  `json:"username"`
	FirstName   string  `json:"first_name"`
	LastName    string  `json:"last_name"`
	PhoneNumber *string `json:"phone_number"`
	IsSuperuser bool    `json:"is_superuser"`
}

func (h *Handler) CreateUser(c echo.Context) error {
	var req createUserRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation(err.Error())
	}
	u := &User{
		Username:    req.Username,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		PhoneNumber: req.PhoneNumber,
		IsSuperuser: req.IsSuperuser,
	}
	if err := h.svc.CreateUser(c.Request().Context(), u); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, u)
}
