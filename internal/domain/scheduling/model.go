package scheduling

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const ResourceTypeUser = "user"

// Slot types. Only appointment availabilities materialize token slots.
const (
	SlotTypeOpen        = "open"
	SlotTypeAppointment = "appointment"
	SlotTypeClosed      = "closed"
)

var slotTypes = map[string]bool{SlotTypeOpen: true, SlotTypeAppointment: true, SlotTypeClosed: true}

// Booking statuses.
const (
	BookingProposed       = "proposed"
	BookingPending        = "pending"
	BookingBooked         = "booked"
	BookingArrived        = "arrived"
	BookingFulfilled      = "fulfilled"
	BookingNoShow         = "noshow"
	BookingCheckedIn      = "checked_in"
	BookingWaitlist       = "waitlist"
	BookingInConsultation = "in_consultation"
	BookingCancelled      = "cancelled"
	BookingEnteredInError = "entered_in_error"
	BookingRescheduled    = "rescheduled"
)

var bookingStatuses = map[string]bool{
	BookingProposed: true, BookingPending: true, BookingBooked: true, BookingArrived: true,
	BookingFulfilled: true, BookingNoShow: true, BookingCheckedIn: true, BookingWaitlist: true,
	BookingInConsultation: true, BookingCancelled: true, BookingEnteredInError: true, BookingRescheduled: true,
}

// releasing statuses give the token back to the slot. The active booking
// index in the schema excludes the same set.
var releasing = map[string]bool{BookingCancelled: true, BookingEnteredInError: true, BookingRescheduled: true}

// Clock is a wall-clock time of day in seconds since midnight. It encodes
// as "HH:MM:SS" and decodes "HH:MM" as well.
type Clock int

func ParseClock(s string) (Clock, error) {
	for _, layout := range []string{time.TimeOnly, "15:04"} {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return Clock(t.Hour()*3600 + t.Minute()*60 + t.Second()), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", int(c)/3600, int(c)%3600/60, int(c)%60)
}

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// On places c on day's calendar date in loc.
func (c Clock) On(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, int(c)/3600, int(c)%3600/60, int(c)%60, 0, loc)
}

// Weekday numbers days Monday=0 through Sunday=6, the convention used by
// availability windows.
func Weekday(day time.Time) int {
	return (int(day.Weekday()) + 6) % 7
}

// Date is a calendar date encoded as "2006-01-02".
type Date struct {
	time.Time
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Format(time.DateOnly))
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return fmt.Errorf("invalid date %q", s)
	}
	d.Time = t
	return nil
}

type Resource struct {
	ID           int64     `json:"-"`
	ExternalID   uuid.UUID `json:"id"`
	FacilityID   int64     `json:"-"`
	ResourceType string    `json:"resource_type"`
	UserID       int64     `json:"-"`
	User         uuid.UUID `json:"user"`
	CreatedAt    time.Time `json:"created_at"`
}

type Window struct {
	DayOfWeek int   `json:"day_of_week"`
	StartTime Clock `json:"start_time"`
	EndTime   Clock `json:"end_time"`
}

type Availability struct {
	ID                int64     `json:"-"`
	ExternalID        uuid.UUID `json:"id"`
	ScheduleID        int64     `json:"-"`
	Name              string    `json:"name"`
	SlotType          string    `json:"slot_type"`
	SlotSizeInMinutes int       `json:"slot_size_in_minutes"`
	TokensPerSlot     int       `json:"tokens_per_slot"`
	CreateTokens      bool      `json:"create_tokens"`
	Reason            string    `json:"reason"`
	Windows           []Window  `json:"availability"`
}

type Schedule struct {
	ID             int64           `json:"-"`
	ExternalID     uuid.UUID       `json:"id"`
	ResourceID     int64           `json:"-"`
	Resource       *Resource       `json:"resource,omitempty"`
	Name           string          `json:"name"`
	ValidFrom      time.Time       `json:"valid_from"`
	ValidTo        time.Time       `json:"valid_to"`
	Availabilities []*Availability `json:"availabilities"`
	CreatedByID    *int64          `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Exception blocks a daily time window on every date in [ValidFrom, ValidTo].
type Exception struct {
	ID         int64     `json:"-"`
	ExternalID uuid.UUID `json:"id"`
	ResourceID int64     `json:"-"`
	Name       string    `json:"name"`
	Reason     string    `json:"reason"`
	ValidFrom  Date      `json:"valid_from"`
	ValidTo    Date      `json:"valid_to"`
	StartTime  Clock     `json:"start_time"`
	EndTime    Clock     `json:"end_time"`
	CreatedAt  time.Time `json:"created_at"`
}

// covers reports whether the exception applies on day and returns its window.
func (e *Exception) covers(day time.Time, loc *time.Location) (time.Time, time.Time, bool) {
	d := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	from := time.Date(e.ValidFrom.Year(), e.ValidFrom.Month(), e.ValidFrom.Day(), 0, 0, 0, 0, time.UTC)
	to := time.Date(e.ValidTo.Year(), e.ValidTo.Month(), e.ValidTo.Day(), 0, 0, 0, 0, time.UTC)
	if d.Before(from) || d.After(to) {
		return time.Time{}, time.Time{}, false
	}
	return e.StartTime.On(day, loc), e.EndTime.On(day, loc), true
}

// AvailabilityRef is the availability summary carried by a slot.
type AvailabilityRef struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	TokensPerSlot int       `json:"tokens_per_slot"`
}

type Slot struct {
	ID             int64           `json:"-"`
	ExternalID     uuid.UUID       `json:"id"`
	ResourceID     int64           `json:"-"`
	FacilityID     int64           `json:"-"`
	AvailabilityID int64           `json:"-"`
	Availability   AvailabilityRef `json:"availability"`
	StartDatetime  time.Time       `json:"start_datetime"`
	EndDatetime    time.Time       `json:"end_datetime"`
	Allocated      int             `json:"allocated"`
}

func (s *Slot) Full() bool {
	return s.Allocated >= s.Availability.TokensPerSlot
}

type Booking struct {
	ID             int64     `json:"-"`
	ExternalID     uuid.UUID `json:"id"`
	SlotID         int64     `json:"-"`
	Slot           *Slot     `json:"token_slot,omitempty"`
	PatientID      int64     `json:"-"`
	Patient        uuid.UUID `json:"patient"`
	Status         string    `json:"status"`
	BookedByID     *int64    `json:"-"`
	ReasonForVisit string    `json:"reason_for_visit"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DayStats summarizes the materialized slots of one day.
type DayStats struct {
	Date         string `json:"date"`
	Slots        int    `json:"total_slots"`
	TotalTokens  int    `json:"total_tokens"`
	BookedTokens int    `json:"booked_tokens"`
}

type BookingFilter struct {
	FacilityID int64
	PatientID  int64
	ResourceID int64
	Status     string
	Day        *time.Time
	Limit      int
	Offset     int
}
