package otp

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/care/emr/internal/platform/apperr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the public OTP endpoints. Both paths are listed in
// the auth skipper.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/otp/send", h.Send)
	api.POST("/otp/login", h.Login)
}

func (h *Handler) Send(c echo.Context) error {
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation(err.Error())
	}
	if err := h.svc.Send(c.Request().Context(), req.PhoneNumber); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"otp": "generated"})
}

func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation(err.Error())
	}
	resp, err := h.svc.Login(c.Request().Context(), req.PhoneNumber, req.OTP)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}
