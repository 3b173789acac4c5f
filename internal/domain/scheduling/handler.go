package scheduling

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
	g := api.Group("/facility/:facility", auth.RequireUser())

	g.GET("/schedule", h.ListSchedules)
	g.POST("/schedule", h.CreateSchedule)
	g.GET("/schedule/:id", h.GetSchedule)
	g.PUT("/schedule/:id", h.UpdateSchedule)
	g.DELETE("/schedule/:id", h.DeleteSchedule)
	g.POST("/schedule/:id/availability", h.CreateAvailability)
	g.DELETE("/schedule/:id/availability/:availability", h.DeleteAvailability)

	g.GET("/schedule_exceptions", h.ListExceptions)
	g.POST("/schedule_exceptions", h.CreateException)
	g.GET("/schedule_exceptions/:id", h.GetException)
	g.PUT("/schedule_exceptions/:id", h.UpdateException)
	g.DELETE("/schedule_exceptions/:id", h.DeleteException)

	g.POST("/slots/get_slots_for_day", h.GetSlotsForDay)
	g.POST("/slots/availability_stats", h.AvailabilityStats)
	g.POST("/slots/:slot/create_appointment", h.CreateAppointment)

	g.GET("/appointments", h.ListBookings)
	g.GET("/appointments/:id", h.GetBooking)
	g.PUT("/appointments/:id", h.UpdateBooking)
	g.POST("/appointments/:id/cancel", h.CancelBooking)
}

// RegisterPatientRoutes mounts the booking routes for patients signed in
// with an OTP token.
func (h *Handler) RegisterPatientRoutes(api *echo.Group) {
	g := api.Group("/otp", auth.RequireTokenType(auth.TokenTypePatientOTP))
	g.POST("/facility/:facility/slots/get_slots_for_day", h.PatientSlotsForDay)
	g.POST("/facility/:facility/slots/:slot/create_appointment", h.PatientCreateAppointment)
	g.GET("/appointments", h.PatientBookings)
	g.POST("/appointments/:id/cancel", h.PatientCancel)
}

func (h *Handler) facility(c echo.Context) (int64, error) {
	id, err := uuid.Parse(c.Param("facility"))
	if err != nil {
		return 0, apperr.Validation("invalid facility id")
	}
	return h.facilities.ResolveFacility(c.Request().Context(), id)
}

func param(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid " + name + " id")
	}
	return id, nil
}

func optionalQueryID(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperr.Validation("invalid " + name + " id")
	}
	return &id, nil
}

type results struct {
	Results interface{} `json:"results"`
}

// -- Schedules --

func (h *Handler) ListSchedules(c echo.Context) error {
	facilityID, err := h.facility(c)
	if err != nil {
		return err
	}
	userID, err := optionalQueryID(c, "user")
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	ctx := c.Request().Context()
	items, total, err := h.svc.ListSchedules(ctx, auth.UserFromContext(ctx), facilityID, userID, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) CreateSchedule(c echo.Context) error {
	facilityID, err := h.facility(c)
	if err != nil {
		return err
	}
	var in ScheduleInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation(err.Error())
	}
	ctx := c.Request().Context()
	sc, err := h.svc.CreateSchedule(ctx, auth.UserFromContext(ctx), facilityID, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sc)
}

func (h *Handler) GetSchedule(c echo.Context) error {
	facilityID, err := h.facility(c)
	if err != nil {
		return err
	}
	id, err := param(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	sc, err := h.svc.GetSchedule(ctx, auth.UserFromContext(ctx), facilityID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sc)
}

func (h *Handler) UpdateSchedule(c echo.Context) error {
	facilityID, err := h.facility(c)
	if err != nil {
		return err
	}
	id, err := param(c, "id")
	if err != nil {
		return err
	}
	var in ScheduleUpdate
	if err := c.Bind(&in); err != nil {
		return apperr.Validation(err.Error())
	}
	ctx := c.Request().Context()
	sc, err := h.svc.UpdateSchedule(ctx, auth.UserFromContext(ctx), facilityID, id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sc)
}

func (h *Handler) DeleteSchedule(c echo.Context) error {
	facilityID, err := h.facility(c)
	if err != nil {
		return err
	}
	id, err := param(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.svc.DeleteSchedule(ctx, auth.UserFromContext(ctx), facilityID, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CreateAvailability(c echo.Context) error {
	facilityID, err := h.facility(c)
	if err != nil {
		return err
	}
	id, err := param(c, "id")
	if err != nil {
		return err
	}
	var in Availability
	if err := c.Bind(&in); err != nil {
		return apperr.Validation(err.Error())
	}
	ctx := c.Request().Context()
	a, err := h.svc.CreateAvailability(ctx, auth.UserFromContext(ctx), facilityID, id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) DeleteAvailability(c echo.Context) error {
	facilityID, err := h.facility(c)
	if err != nil {
		return err
	}
	id, err := param(c, "id")
	if err != nil {
		return err
	}
	availabilityID, err := param(c, "availability")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.svc.DeleteAvailability(ctx, auth.UserFromContext(ctx), facilityID, id, availabilityID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Exceptions --

func (h *Handler) ListExceptions(c echo.Context) error {
	facilityID, err := h.facility(c)
	if err != nil {
		return err
	}
	userID, err := optionalQueryID(c, "user")
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	ctx := c.Request().Context()
	items, total, err := h.svc.ListExceptions(ctx, auth.UserFromContext(ctx), facilityID, userID, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) CreateException(c echo.Context) error {
	facilityID, err := h.facility(c)
	if err != nil {
		return err
	}
	var in ExceptionInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation(err.Error())
	}
	ctx := c.Request().Context()
	e, err := h.svc.CreateException(ctx, auth.UserFromContext(ctx), facilityID, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) GetException(c echo.Context) error {
	facilityID, err := h.facility(c)
	if err != nil {
		return err
	}
	id, err := param(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	e, err := h.svc.GetException(ctx, auth.UserFromContext(ctx), facilityID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) UpdateException(c echo.Context) error {
	facilityID, err := h.facility(c)
	if err != nil {
		return err
	}
	id, err := param(c, "id")
	if err != nil {
		return err
	}
	var in ExceptionInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation(err.Error())
	}
	ctx := c.Request().Context()
	e, err := h.svc.UpdateException(ctx, auth.UserFromContext(ctx), facilityID, id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) DeleteException(c echo.Context) error {
	facilityID, err := h.facility(c)
	if err != nil {
		return err
	}
	id, err := param(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.svc.DeleteException(ctx, auth.UserFromContext(ctx), facilityID, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Slots --

func (h *Handler) GetSlotsForDay(c echo.Context) error {
	facilityID, err := h.facility(c)
	if err != nil {
		return err
	}
	var req SlotsRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation(err.Error())
	}
	ctx := c.Request().Context()
	slots, err := h.svc.GetSlotsForDay(ctx, auth.UserFromContext(ctx), facilityID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, results{Results: slots})
}

func (h *Handler) AvailabilityStats(c echo.Context) error {
	facilityID, err := h.facility(c)
	if err != nil {
		return err
	}
	var req StatsRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation(err.Error())
	}
	ctx := c.Request().Context()
	stats, err := h.svc.AvailabilityStats(ctx, auth.UserFromContext(ctx), facilityID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, results{Results: stats})
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	facilityID, err := h.facility(c)
	if err != nil {
		return err
	}
	slotID, err := param(c, "slot")
	if err != nil {
		return err
	}
	var req AppointmentRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation(err.Error())
	}
	if req.Patient == uuid.Nil {
		return apperr.Validation("invalid patient", fieldErr("patient", "This field is required"))
	}
	ctx := c.Request().Context()
	b, err := h.svc.CreateAppointment(ctx, auth.UserFromContext(ctx), facilityID, slotID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

// -- Bookings --

func (h *Handler) ListBookings(c echo.Context) error {
	facilityID, err := h.facility(c)
	if err != nil {
		return err
	}
	q := BookingQuery{Status: c.QueryParam("status")}
	if q.Patient, err = optionalQueryID(c, "patient"); err != nil {
		return err
	}
	if q.User, err = optionalQueryID(c, "user"); err != nil {
		return err
	}
	if raw := c.QueryParam("date"); raw != "" {
		var d Date
		if err := d.UnmarshalJSON([]byte(`"` + raw + `"`)); err != nil {
			return apperr.Validation(err.Error())
		}
		q.Day = &d
	}
	p := pagination.FromContext(c)
	q.Limit, q.Offset = p.Limit, p.Offset
	ctx := c.Request().Context()
	items, total, err := h.svc.ListBookings(ctx, auth.UserFromContext(ctx), facilityID, q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) GetBooking(c echo.Context) error {
	facilityID, err := h.facility(c)
	if err != nil {
		return err
	}
	id, err := param(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	b, err := h.svc.GetBooking(ctx, auth.UserFromContext(ctx), facilityID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateBooking(c echo.Context) error {
	facilityID, err := h.facility(c)
	if err != nil {
		return err
	}
	id, err := param(c, "id")
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation(err.Error())
	}
	ctx := c.Request().Context()
	b, err := h.svc.UpdateBookingStatus(ctx, auth.UserFromContext(ctx), facilityID, id, req.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) CancelBooking(c echo.Context) error {
	facilityID, err := h.facility(c)
	if err != nil {
		return err
	}
	id, err := param(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	b, err := h.svc.CancelAppointment(ctx, auth.UserFromContext(ctx), facilityID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

// -- Patient (OTP) --

func (h *Handler) PatientSlotsForDay(c echo.Context) error {
	facilityID, err := h.facility(c)
	if err != nil {
		return err
	}
	var req SlotsRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation(err.Error())
	}
	ctx := c.Request().Context()
	slots, err := h.svc.PatientSlotsForDay(ctx, auth.PhoneFromContext(ctx), facilityID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, results{Results: slots})
}

func (h *Handler) PatientCreateAppointment(c echo.Context) error {
	facilityID, err := h.facility(c)
	if err != nil {
		return err
	}
	slotID, err := param(c, "slot")
	if err != nil {
		return err
	}
	var req AppointmentRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation(err.Error())
	}
	ctx := c.Request().Context()
	b, err := h.svc.PatientCreateAppointment(ctx, auth.PhoneFromContext(ctx), facilityID, slotID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) PatientBookings(c echo.Context) error {
	patientID, err := optionalQueryID(c, "patient")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	items, err := h.svc.PatientBookings(ctx, auth.PhoneFromContext(ctx), patientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, results{Results: items})
}

func (h *Handler) PatientCancel(c echo.Context) error {
	id, err := param(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	b, err := h.svc.PatientCancelAppointment(ctx, auth.PhoneFromContext(ctx), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}
