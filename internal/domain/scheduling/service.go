// Package scheduling manages schedules of facility users, materializes their
// weekly availability into token slots and books patients onto those slots.
package scheduling

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/care/emr/internal/domain/authz"
	"github.com/care/emr/internal/domain/patient"
	"github.com/care/emr/internal/domain/user"
	"github.com/care/emr/internal/platform/apperr"
	"github.com/care/emr/internal/platform/auth"
	"github.com/care/emr/internal/platform/db"
)

var tracer = otel.Tracer("github.com/care/emr/internal/domain/scheduling")

// maxStatsDays bounds the date range of an availability_stats request.
const maxStatsDays = 31

type Users interface {
	GetUserByExternalID(ctx context.Context, id uuid.UUID) (*user.User, error)
}

type Patients interface {
	Resolve(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
	ListByPhone(ctx context.Context, phone string) ([]*patient.Patient, error)
}

// Memberships reports the facility organization bindings of a user.
type Memberships interface {
	FacilityOrganizationRoles(ctx context.Context, userID, facilityID int64) ([]authz.Grant, error)
}

type Repos struct {
	Resources  ResourceRepository
	Schedules  ScheduleRepository
	Exceptions ExceptionRepository
	Slots      SlotRepository
	Bookings   BookingRepository
}

func NewRepos(pool *pgxpool.Pool) Repos {
	return Repos{
		Resources:  NewResourceRepoPG(pool),
		Schedules:  NewScheduleRepoPG(pool),
		Exceptions: NewExceptionRepoPG(pool),
		Slots:      NewSlotRepoPG(pool),
		Bookings:   NewBookingRepoPG(pool),
	}
}

type Options struct {
	// Location places window times on calendar days.
	Location *time.Location
	// Failsafe caps the slots generated from one window.
	Failsafe int
}

type Service struct {
	Repos
	users    Users
	patients Patients
	members  Memberships
	tx       db.Transactor
	authz    *authz.Controller
	metrics  *Metrics
	loc      *time.Location
	failsafe int
	logger   zerolog.Logger
}

func NewService(repos Repos, users Users, patients Patients, members Memberships, tx db.Transactor,
	ctrl *authz.Controller, metrics *Metrics, opts Options, logger zerolog.Logger) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Failsafe <= 0 {
		opts.Failsafe = DefaultSlotFailsafe
	}
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	return &Service{
		Repos:    repos,
		users:    users,
		patients: patients,
		members:  members,
		tx:       tx,
		authz:    ctrl,
		metrics:  metrics,
		loc:      opts.Location,
		failsafe: opts.Failsafe,
		logger:   logger,
	}
}

func fieldErr(loc, msg string) apperr.FieldError {
	return apperr.FieldError{Type: "value_error", Loc: loc, Msg: msg}
}

// requireMember fails unless u belongs to an organization of the facility.
func (s *Service) requireMember(ctx context.Context, facilityID int64, u *user.User) error {
	grants, err := s.members.FacilityOrganizationRoles(ctx, u.ID, facilityID)
	if err != nil {
		return err
	}
	if len(grants) == 0 {
		return apperr.Validation("invalid user", fieldErr("user", "User is not a member of the facility"))
	}
	return nil
}

// =========== Schedules ===========

type ScheduleInput struct {
	User           uuid.UUID      `json:"user"`
	Name           string         `json:"name"`
	ValidFrom      time.Time      `json:"valid_from"`
	ValidTo        time.Time      `json:"valid_to"`
	Availabilities []Availability `json:"availabilities"`
}

type ScheduleUpdate struct {
	Name      string     `json:"name"`
	ValidFrom *time.Time `json:"valid_from"`
	ValidTo   *time.Time `json:"valid_to"`
}

func validateSchedule(sc *Schedule) []apperr.FieldError {
	var errs []apperr.FieldError
	if strings.TrimSpace(sc.Name) == "" {
		errs = append(errs, fieldErr("name", "This field is required"))
	}
	if !sc.ValidFrom.Before(sc.ValidTo) {
		errs = append(errs, fieldErr("valid_from", "Valid from cannot be greater than valid to"))
	}
	return errs
}

// validateAvailability checks one availability on its own. Appointment
// windows must also stay clear of the schedule's other appointment windows.
func validateAvailability(a *Availability, siblings []*Availability) []apperr.FieldError {
	var errs []apperr.FieldError
	if strings.TrimSpace(a.Name) == "" {
		errs = append(errs, fieldErr("name", "This field is required"))
	}
	if !slotTypes[a.SlotType] {
		errs = append(errs, fieldErr("slot_type", "Invalid slot type"))
	}
	if a.SlotType == SlotTypeAppointment {
		if a.SlotSizeInMinutes <= 0 {
			errs = append(errs, fieldErr("slot_size_in_minutes", "Slot size must be greater than 0"))
		}
		if a.TokensPerSlot <= 0 {
			errs = append(errs, fieldErr("tokens_per_slot", "Tokens per slot must be greater than 0"))
		}
	}
	if len(a.Windows) == 0 {
		errs = append(errs, fieldErr("availability", "At least one window is required"))
	}
	for _, p := range validateWindows(a.Windows) {
		errs = append(errs, fieldErr("availability", p))
	}
	if a.SlotType == SlotTypeAppointment {
		for _, o := range siblings {
			if o.SlotType == SlotTypeAppointment && overlapping(a.Windows, o.Windows) {
				errs = append(errs, fieldErr("availability", "Availability overlaps with "+o.Name))
			}
		}
	}
	return errs
}

func (s *Service) CreateSchedule(ctx context.Context, actor *auth.User, facilityID int64, in ScheduleInput) (*Schedule, error) {
	u, err := s.users.GetUserByExternalID(ctx, in.User)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Require(ctx, authz.CanWriteUserSchedule, actor, authz.Args{FacilityID: facilityID, ScheduleUserID: u.ID}); err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, facilityID, u); err != nil {
		return nil, err
	}
	sc := &Schedule{Name: in.Name, ValidFrom: in.ValidFrom, ValidTo: in.ValidTo}
	errs := validateSchedule(sc)
	var avs []*Availability
	for i := range in.Availabilities {
		a := in.Availabilities[i]
		errs = append(errs, validateAvailability(&a, avs)...)
		avs = append(avs, &a)
	}
	if len(errs) > 0 {
		return nil, apperr.Validation("invalid schedule", errs...)
	}
	if actor != nil {
		id := actor.ID
		sc.CreatedByID = &id
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		res, err := s.Resources.GetOrCreate(ctx, facilityID, ResourceTypeUser, u.ID)
		if err != nil {
			return err
		}
		sc.ResourceID, sc.Resource = res.ID, res
		if err := s.Schedules.Create(ctx, sc); err != nil {
			return err
		}
		for _, a := range avs {
			a.ScheduleID = sc.ID
			if err := s.Schedules.CreateAvailability(ctx, a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sc.Availabilities = avs
	s.logger.Info().Str("schedule_id", sc.ExternalID.String()).Str("user_id", u.ExternalID.String()).Msg("schedule created")
	return sc, nil
}

// schedule loads a facility schedule with its availabilities and requires
// action on its user.
func (s *Service) schedule(ctx context.Context, actor *auth.User, facilityID int64, id uuid.UUID, action string) (*Schedule, error) {
	sc, err := s.Schedules.GetByExternalID(ctx, facilityID, id)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Require(ctx, action, actor, authz.Args{FacilityID: facilityID, ScheduleUserID: sc.Resource.UserID}); err != nil {
		return nil, err
	}
	sc.Availabilities, err = s.Schedules.ListAvailabilities(ctx, sc.ID)
	if err != nil {
		return nil, err
	}
	return sc, nil
}

func (s *Service) GetSchedule(ctx context.Context, actor *auth.User, facilityID int64, id uuid.UUID) (*Schedule, error) {
	return s.schedule(ctx, actor, facilityID, id, authz.CanListUserSchedule)
}

func (s *Service) UpdateSchedule(ctx context.Context, actor *auth.User, facilityID int64, id uuid.UUID, in ScheduleUpdate) (*Schedule, error) {
	sc, err := s.schedule(ctx, actor, facilityID, id, authz.CanWriteUserSchedule)
	if err != nil {
		return nil, err
	}
	if in.Name != "" {
		sc.Name = in.Name
	}
	if in.ValidFrom != nil {
		sc.ValidFrom = *in.ValidFrom
	}
	if in.ValidTo != nil {
		sc.ValidTo = *in.ValidTo
	}
	if errs := validateSchedule(sc); len(errs) > 0 {
		return nil, apperr.Validation("invalid schedule", errs...)
	}
	if err := s.Schedules.Update(ctx, sc); err != nil {
		return nil, err
	}
	return sc, nil
}

// DeleteSchedule removes a schedule that has no active bookings.
func (s *Service) DeleteSchedule(ctx context.Context, actor *auth.User, facilityID int64, id uuid.UUID) error {
	sc, err := s.schedule(ctx, actor, facilityID, id, authz.CanWriteUserSchedule)
	if err != nil {
		return err
	}
	booked, err := s.Schedules.HasBookings(ctx, sc.ID)
	if err != nil {
		return err
	}
	if booked {
		return apperr.Conflict("Schedule has bookings and cannot be deleted")
	}
	if err := s.Schedules.Delete(ctx, sc.ID); err != nil {
		return err
	}
	s.logger.Info().Str("schedule_id", sc.ExternalID.String()).Msg("schedule deleted")
	return nil
}

// resourceOf returns the resource of a user in a facility, or NotFound when
// the user has never had a schedule there.
func (s *Service) resourceOf(ctx context.Context, facilityID int64, userID uuid.UUID) (*Resource, error) {
	u, err := s.users.GetUserByExternalID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.Resources.Get(ctx, facilityID, ResourceTypeUser, u.ID)
}

func (s *Service) ListSchedules(ctx context.Context, actor *auth.User, facilityID int64, userID *uuid.UUID, limit, offset int) ([]*Schedule, int, error) {
	if err := s.authz.Require(ctx, authz.CanListUserSchedule, actor, authz.Args{FacilityID: facilityID}); err != nil {
		return nil, 0, err
	}
	var resourceID int64
	if userID != nil {
		res, err := s.resourceOf(ctx, facilityID, *userID)
		if errors.Is(err, apperr.ErrNotFound) {
			return []*Schedule{}, 0, nil
		}
		if err != nil {
			return nil, 0, err
		}
		resourceID = res.ID
	}
	items, total, err := s.Schedules.List(ctx, facilityID, resourceID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, sc := range items {
		if sc.Availabilities, err = s.Schedules.ListAvailabilities(ctx, sc.ID); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

func (s *Service) CreateAvailability(ctx context.Context, actor *auth.User, facilityID int64, scheduleID uuid.UUID, a Availability) (*Availability, error) {
	sc, err := s.schedule(ctx, actor, facilityID, scheduleID, authz.CanWriteUserSchedule)
	if err != nil {
		return nil, err
	}
	if errs := validateAvailability(&a, sc.Availabilities); len(errs) > 0 {
		return nil, apperr.Validation("invalid availability", errs...)
	}
	a.ScheduleID = sc.ID
	if err := s.Schedules.CreateAvailability(ctx, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Service) DeleteAvailability(ctx context.Context, actor *auth.User, facilityID int64, scheduleID, id uuid.UUID) error {
	sc, err := s.schedule(ctx, actor, facilityID, scheduleID, authz.CanWriteUserSchedule)
	if err != nil {
		return err
	}
	a, err := s.Schedules.GetAvailability(ctx, sc.ID, id)
	if err != nil {
		return err
	}
	return s.Schedules.DeleteAvailability(ctx, a.ID)
}

// =========== Exceptions ===========

type ExceptionInput struct {
	User      uuid.UUID `json:"user"`
	Name      string    `json:"name"`
	Reason    string    `json:"reason"`
	ValidFrom Date      `json:"valid_from"`
	ValidTo   Date      `json:"valid_to"`
	StartTime Clock     `json:"start_time"`
	EndTime   Clock     `json:"end_time"`
}

func (in ExceptionInput) apply(e *Exception) []apperr.FieldError {
	e.Name, e.Reason = in.Name, in.Reason
	e.ValidFrom, e.ValidTo = in.ValidFrom, in.ValidTo
	e.StartTime, e.EndTime = in.StartTime, in.EndTime
	var errs []apperr.FieldError
	if strings.TrimSpace(e.Name) == "" {
		errs = append(errs, fieldErr("name", "This field is required"))
	}
	if e.ValidFrom.IsZero() || e.ValidTo.IsZero() {
		errs = append(errs, fieldErr("valid_from", "valid_from and valid_to are required"))
	} else if e.ValidTo.Before(e.ValidFrom.Time) {
		errs = append(errs, fieldErr("valid_from", "Valid from cannot be greater than valid to"))
	}
	if e.StartTime >= e.EndTime {
		errs = append(errs, fieldErr("start_time", "Start time must be before end time"))
	}
	return errs
}

func (s *Service) CreateException(ctx context.Context, actor *auth.User, facilityID int64, in ExceptionInput) (*Exception, error) {
	u, err := s.users.GetUserByExternalID(ctx, in.User)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Require(ctx, authz.CanWriteUserSchedule, actor, authz.Args{FacilityID: facilityID, ScheduleUserID: u.ID}); err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, facilityID, u); err != nil {
		return nil, err
	}
	e := &Exception{}
	if errs := in.apply(e); len(errs) > 0 {
		return nil, apperr.Validation("invalid exception", errs...)
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		res, err := s.Resources.GetOrCreate(ctx, facilityID, ResourceTypeUser, u.ID)
		if err != nil {
			return err
		}
		e.ResourceID = res.ID
		return s.Exceptions.Create(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("exception_id", e.ExternalID.String()).Str("user_id", u.ExternalID.String()).Msg("availability exception created")
	return e, nil
}

func (s *Service) exception(ctx context.Context, actor *auth.User, facilityID int64, id uuid.UUID, action string) (*Exception, error) {
	e, err := s.Exceptions.GetByExternalID(ctx, facilityID, id)
	if err != nil {
		return nil, err
	}
	res, err := s.Resources.GetByID(ctx, e.ResourceID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Require(ctx, action, actor, authz.Args{FacilityID: facilityID, ScheduleUserID: res.UserID}); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) GetException(ctx context.Context, actor *auth.User, facilityID int64, id uuid.UUID) (*Exception, error) {
	return s.exception(ctx, actor, facilityID, id, authz.CanListUserSchedule)
}

func (s *Service) UpdateException(ctx context.Context, actor *auth.User, facilityID int64, id uuid.UUID, in ExceptionInput) (*Exception, error) {
	e, err := s.exception(ctx, actor, facilityID, id, authz.CanWriteUserSchedule)
	if err != nil {
		return nil, err
	}
	if errs := in.apply(e); len(errs) > 0 {
		return nil, apperr.Validation("invalid exception", errs...)
	}
	if err := s.Exceptions.Update(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) DeleteException(ctx context.Context, actor *auth.User, facilityID int64, id uuid.UUID) error {
	e, err := s.exception(ctx, actor, facilityID, id, authz.CanWriteUserSchedule)
	if err != nil {
		return err
	}
	return s.Exceptions.Delete(ctx, e.ID)
}

func (s *Service) ListExceptions(ctx context.Context, actor *auth.User, facilityID int64, userID *uuid.UUID, limit, offset int) ([]*Exception, int, error) {
	if err := s.authz.Require(ctx, authz.CanListUserSchedule, actor, authz.Args{FacilityID: facilityID}); err != nil {
		return nil, 0, err
	}
	var resourceID int64
	if userID != nil {
		res, err := s.resourceOf(ctx, facilityID, *userID)
		if errors.Is(err, apperr.ErrNotFound) {
			return []*Exception{}, 0, nil
		}
		if err != nil {
			return nil, 0, err
		}
		resourceID = res.ID
	}
	return s.Exceptions.List(ctx, facilityID, resourceID, limit, offset)
}

// =========== Slots ===========

type SlotsRequest struct {
	Resource     uuid.UUID `json:"resource"`
	ResourceType string    `json:"resource_type"`
	Day          Date      `json:"day"`
}

type StatsRequest struct {
	Resource     uuid.UUID `json:"resource"`
	ResourceType string    `json:"resource_type"`
	From         Date      `json:"from_date"`
	To           Date      `json:"to_date"`
}

func checkResourceType(t string) error {
	if t != "" && t != ResourceTypeUser {
		return apperr.Validation("invalid resource type", fieldErr("resource_type", "Unsupported resource type"))
	}
	return nil
}

// startOf returns midnight of day's calendar date in the service location.
func (s *Service) startOf(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, s.loc)
}

// materialize creates the missing slots of day for res and returns every
// slot of the day that is not suppressed by an exception.
func (s *Service) materialize(ctx context.Context, res *Resource, day time.Time) ([]*Slot, error) {
	ctx, span := tracer.Start(ctx, "scheduling.materialize", trace.WithAttributes(
		attribute.String("resource_id", res.ExternalID.String()),
		attribute.String("day", day.Format(time.DateOnly)),
	))
	defer span.End()

	from := s.startOf(day)
	to := from.AddDate(0, 0, 1)
	date := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	var out []*Slot
	created := 0
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		avs, err := s.Schedules.ActiveAvailabilities(ctx, res.ID, from, to)
		if err != nil {
			return err
		}
		exceptions, err := s.Exceptions.ListOn(ctx, res.ID, date, date)
		if err != nil {
			return err
		}
		existing, err := s.Slots.ListBetween(ctx, res.ID, from, to)
		if err != nil {
			return err
		}
		todo := missing(generate(from, s.loc, avs, exceptions, s.failsafe), existing)
		if len(todo) > 0 {
			if err := s.Slots.CreateMany(ctx, res.ID, todo); err != nil {
				return err
			}
			created = len(todo)
			if existing, err = s.Slots.ListBetween(ctx, res.ID, from, to); err != nil {
				return err
			}
		}
		out = visible(existing, from, s.loc, exceptions)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if created > 0 {
		s.metrics.slotsMaterialized.Add(float64(created))
		s.logger.Debug().Str("resource_id", res.ExternalID.String()).Str("day", day.Format(time.DateOnly)).
			Int("created", created).Msg("slots materialized")
	}
	span.SetAttributes(attribute.Int("slots", len(out)))
	return out, nil
}

func (s *Service) slotsForDay(ctx context.Context, facilityID int64, req SlotsRequest) ([]*Slot, error) {
	if err := checkResourceType(req.ResourceType); err != nil {
		return nil, err
	}
	if req.Day.IsZero() {
		return nil, apperr.Validation("invalid day", fieldErr("day", "This field is required"))
	}
	res, err := s.resourceOf(ctx, facilityID, req.Resource)
	if err != nil {
		return nil, err
	}
	return s.materialize(ctx, res, req.Day.Time)
}

// GetSlotsForDay returns the slots of a user on a day, materializing them
// on first access.
func (s *Service) GetSlotsForDay(ctx context.Context, actor *auth.User, facilityID int64, req SlotsRequest) ([]*Slot, error) {
	if err := s.authz.Require(ctx, authz.CanListUserSchedule, actor, authz.Args{FacilityID: facilityID}); err != nil {
		return nil, err
	}
	return s.slotsForDay(ctx, facilityID, req)
}

// AvailabilityStats summarizes token capacity per day over an inclusive
// date range.
func (s *Service) AvailabilityStats(ctx context.Context, actor *auth.User, facilityID int64, req StatsRequest) ([]DayStats, error) {
	if err := s.authz.Require(ctx, authz.CanListUserSchedule, actor, authz.Args{FacilityID: facilityID}); err != nil {
		return nil, err
	}
	if err := checkResourceType(req.ResourceType); err != nil {
		return nil, err
	}
	if req.From.IsZero() || req.To.IsZero() || req.To.Before(req.From.Time) {
		return nil, apperr.Validation("invalid range", fieldErr("from_date", "from_date must not be after to_date"))
	}
	if req.To.Sub(req.From.Time) >= maxStatsDays*24*time.Hour {
		return nil, apperr.Validation("invalid range", fieldErr("to_date", "Range cannot exceed 31 days"))
	}
	res, err := s.resourceOf(ctx, facilityID, req.Resource)
	if err != nil {
		return nil, err
	}
	var out []DayStats
	for day := req.From.Time; !day.After(req.To.Time); day = day.AddDate(0, 0, 1) {
		slots, err := s.materialize(ctx, res, day)
		if err != nil {
			return nil, err
		}
		st := DayStats{Date: day.Format(time.DateOnly), Slots: len(slots)}
		for _, sl := range slots {
			st.TotalTokens += sl.Availability.TokensPerSlot
			st.BookedTokens += sl.Allocated
		}
		out = append(out, st)
	}
	return out, nil
}

// =========== Bookings ===========

type AppointmentRequest struct {
	Patient        uuid.UUID `json:"patient"`
	ReasonForVisit string    `json:"reason_for_visit"`
}

// book locks the slot, re-checks its capacity and records the booking with
// the counter increment in one transaction.
func (s *Service) book(ctx context.Context, facilityID int64, slotID uuid.UUID, p *patient.Patient, bookedBy *int64, reason string) (*Booking, error) {
	ctx, span := tracer.Start(ctx, "scheduling.book", trace.WithAttributes(
		attribute.String("slot_id", slotID.String()),
		attribute.String("patient_id", p.ExternalID.String()),
	))
	defer span.End()

	var b *Booking
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		slot, err := s.Slots.LockByExternalID(ctx, facilityID, slotID)
		if err != nil {
			return err
		}
		if slot.Full() {
			return apperr.CapacityExceeded("Slot is already full")
		}
		b = &Booking{
			SlotID:         slot.ID,
			PatientID:      p.ID,
			Patient:        p.ExternalID,
			Status:         BookingBooked,
			BookedByID:     bookedBy,
			ReasonForVisit: reason,
		}
		if err := s.Bookings.Create(ctx, b); err != nil {
			return err
		}
		slot.Allocated++
		if err := s.Slots.SetAllocated(ctx, slot.ID, slot.Allocated); err != nil {
			return err
		}
		b.Slot = slot
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrCapacityExceeded) {
			s.metrics.capacityRejections.Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.metrics.bookingsCreated.Inc()
	s.logger.Info().Str("booking_id", b.ExternalID.String()).Str("slot_id", slotID.String()).
		Int("allocated", b.Slot.Allocated).Msg("appointment booked")
	return b, nil
}

func (s *Service) CreateAppointment(ctx context.Context, actor *auth.User, facilityID int64, slotID uuid.UUID, req AppointmentRequest) (*Booking, error) {
	if err := s.authz.Require(ctx, authz.CanCreateAppointment, actor, authz.Args{FacilityID: facilityID}); err != nil {
		return nil, err
	}
	p, err := s.patients.Resolve(ctx, req.Patient)
	if err != nil {
		return nil, err
	}
	var by *int64
	if actor != nil {
		id := actor.ID
		by = &id
	}
	return s.book(ctx, facilityID, slotID, p, by, req.ReasonForVisit)
}

// setStatus moves a booking to status under the slot lock. Releasing
// statuses give the token back exactly once; a released booking cannot be
// made active again.
func (s *Service) setStatus(ctx context.Context, b *Booking, status string) (*Booking, error) {
	var out *Booking
	released := false
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		slot, err := s.Slots.LockByID(ctx, b.SlotID)
		if err != nil {
			return err
		}
		cur, err := s.Bookings.GetByExternalID(ctx, b.ExternalID)
		if err != nil {
			return err
		}
		out = cur
		if cur.Status == status {
			return nil
		}
		switch {
		case releasing[cur.Status] && !releasing[status]:
			return apperr.Conflict("Cannot move booking from " + cur.Status + " to " + status)
		case !releasing[cur.Status] && releasing[status]:
			if slot.Allocated > 0 {
				slot.Allocated--
			}
			if err := s.Slots.SetAllocated(ctx, slot.ID, slot.Allocated); err != nil {
				return err
			}
			released = true
		}
		cur.Status = status
		cur.Slot = slot
		return s.Bookings.UpdateStatus(ctx, cur)
	})
	if err != nil {
		return nil, err
	}
	if released {
		s.metrics.bookingsReleased.WithLabelValues(status).Inc()
		s.logger.Info().Str("booking_id", out.ExternalID.String()).Str("status", status).Msg("booking released")
	}
	return out, nil
}

// booking loads a booking of the facility and requires action there.
func (s *Service) booking(ctx context.Context, actor *auth.User, facilityID int64, id uuid.UUID, action string) (*Booking, error) {
	b, err := s.Bookings.GetByExternalID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Slot == nil || b.Slot.FacilityID != facilityID {
		return nil, apperr.NotFound("booking")
	}
	if err := s.authz.Require(ctx, action, actor, authz.Args{FacilityID: facilityID}); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) GetBooking(ctx context.Context, actor *auth.User, facilityID int64, id uuid.UUID) (*Booking, error) {
	return s.booking(ctx, actor, facilityID, id, authz.CanListBookings)
}

// CancelAppointment cancels a booking. Cancelling twice is a no-op.
func (s *Service) CancelAppointment(ctx context.Context, actor *auth.User, facilityID int64, id uuid.UUID) (*Booking, error) {
	b, err := s.booking(ctx, actor, facilityID, id, authz.CanWriteBooking)
	if err != nil {
		return nil, err
	}
	return s.setStatus(ctx, b, BookingCancelled)
}

func (s *Service) UpdateBookingStatus(ctx context.Context, actor *auth.User, facilityID int64, id uuid.UUID, status string) (*Booking, error) {
	if !bookingStatuses[status] {
		return nil, apperr.Validation("invalid status", fieldErr("status", "Invalid booking status"))
	}
	b, err := s.booking(ctx, actor, facilityID, id, authz.CanWriteBooking)
	if err != nil {
		return nil, err
	}
	return s.setStatus(ctx, b, status)
}

type BookingQuery struct {
	Patient *uuid.UUID
	User    *uuid.UUID
	Status  string
	Day     *Date
	Limit   int
	Offset  int
}

func (s *Service) ListBookings(ctx context.Context, actor *auth.User, facilityID int64, q BookingQuery) ([]*Booking, int, error) {
	if err := s.authz.Require(ctx, authz.CanListBookings, actor, authz.Args{FacilityID: facilityID}); err != nil {
		return nil, 0, err
	}
	f := BookingFilter{FacilityID: facilityID, Status: q.Status, Limit: q.Limit, Offset: q.Offset}
	if q.Patient != nil {
		p, err := s.patients.Resolve(ctx, *q.Patient)
		if err != nil {
			return nil, 0, err
		}
		f.PatientID = p.ID
	}
	if q.User != nil {
		res, err := s.resourceOf(ctx, facilityID, *q.User)
		if errors.Is(err, apperr.ErrNotFound) {
			return []*Booking{}, 0, nil
		}
		if err != nil {
			return nil, 0, err
		}
		f.ResourceID = res.ID
	}
	if q.Day != nil {
		day := s.startOf(q.Day.Time)
		f.Day = &day
	}
	return s.Bookings.List(ctx, f)
}

// =========== Patient (OTP) access ===========

// ownPatient resolves a patient whose phone number matches the OTP login.
func (s *Service) ownPatient(ctx context.Context, phone string, id uuid.UUID) (*patient.Patient, error) {
	if phone == "" {
		return nil, apperr.Forbidden("")
	}
	p, err := s.patients.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.PhoneNumber != phone {
		return nil, apperr.Forbidden("")
	}
	return p, nil
}

func (s *Service) PatientSlotsForDay(ctx context.Context, phone string, facilityID int64, req SlotsRequest) ([]*Slot, error) {
	if phone == "" {
		return nil, apperr.Forbidden("")
	}
	return s.slotsForDay(ctx, facilityID, req)
}

func (s *Service) PatientCreateAppointment(ctx context.Context, phone string, facilityID int64, slotID uuid.UUID, req AppointmentRequest) (*Booking, error) {
	p, err := s.ownPatient(ctx, phone, req.Patient)
	if err != nil {
		return nil, err
	}
	return s.book(ctx, facilityID, slotID, p, nil, req.ReasonForVisit)
}

// PatientBookings lists the bookings of every patient registered under the
// phone number, or of one of them when patientID is set.
func (s *Service) PatientBookings(ctx context.Context, phone string, patientID *uuid.UUID) ([]*Booking, error) {
	var patients []*patient.Patient
	if patientID != nil {
		p, err := s.ownPatient(ctx, phone, *patientID)
		if err != nil {
			return nil, err
		}
		patients = []*patient.Patient{p}
	} else {
		if phone == "" {
			return nil, apperr.Forbidden("")
		}
		var err error
		if patients, err = s.patients.ListByPhone(ctx, phone); err != nil {
			return nil, err
		}
	}
	out := []*Booking{}
	for _, p := range patients {
		items, _, err := s.Bookings.List(ctx, BookingFilter{PatientID: p.ID, Limit: 100})
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

func (s *Service) PatientCancelAppointment(ctx context.Context, phone string, id uuid.UUID) (*Booking, error) {
	b, err := s.Bookings.GetByExternalID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownPatient(ctx, phone, b.Patient); err != nil {
		return nil, err
	}
	return s.setStatus(ctx, b, BookingCancelled)
}
