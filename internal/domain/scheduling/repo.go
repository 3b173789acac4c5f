package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ResourceRepository interface {
	// GetOrCreate returns the resource of user in facility, creating it on
	// first use.
	GetOrCreate(ctx context.Context, facilityID int64, resourceType string, userID int64) (*Resource, error)
	Get(ctx context.Context, facilityID int64, resourceType string, userID int64) (*Resource, error)
	GetByID(ctx context.Context, id int64) (*Resource, error)
}

type ScheduleRepository interface {
	Create(ctx context.Context, s *Schedule) error
	GetByExternalID(ctx context.Context, facilityID int64, id uuid.UUID) (*Schedule, error)
	Update(ctx context.Context, s *Schedule) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, facilityID, resourceID int64, limit, offset int) ([]*Schedule, int, error)
	HasBookings(ctx context.Context, scheduleID int64) (bool, error)

	CreateAvailability(ctx context.Context, a *Availability) error
	GetAvailability(ctx context.Context, scheduleID int64, id uuid.UUID) (*Availability, error)
	DeleteAvailability(ctx context.Context, id int64) error
	ListAvailabilities(ctx context.Context, scheduleID int64) ([]*Availability, error)
	// ActiveAvailabilities returns the appointment availabilities of schedules
	// of resourceID valid at any instant of [from, to).
	ActiveAvailabilities(ctx context.Context, resourceID int64, from, to time.Time) ([]*Availability, error)
}

type ExceptionRepository interface {
	Create(ctx context.Context, e *Exception) error
	GetByExternalID(ctx context.Context, facilityID int64, id uuid.UUID) (*Exception, error)
	Update(ctx context.Context, e *Exception) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, facilityID, resourceID int64, limit, offset int) ([]*Exception, int, error)
	// ListOn returns exceptions of resourceID covering any day of [from, to].
	ListOn(ctx context.Context, resourceID int64, from, to time.Time) ([]*Exception, error)
}

type SlotRepository interface {
	// CreateMany inserts slots, skipping any that a concurrent request created
	// first.
	CreateMany(ctx context.Context, resourceID int64, slots []candidate) error
	ListBetween(ctx context.Context, resourceID int64, from, to time.Time) ([]*Slot, error)
	GetByExternalID(ctx context.Context, facilityID int64, id uuid.UUID) (*Slot, error)
	// LockByExternalID reads the slot with a row lock held to the end of the
	// transaction.
	LockByExternalID(ctx context.Context, facilityID int64, id uuid.UUID) (*Slot, error)
	LockByID(ctx context.Context, id int64) (*Slot, error)
	SetAllocated(ctx context.Context, id int64, allocated int) error
}

type BookingRepository interface {
	Create(ctx context.Context, b *Booking) error
	GetByExternalID(ctx context.Context, id uuid.UUID) (*Booking, error)
	UpdateStatus(ctx context.Context, b *Booking) error
	List(ctx context.Context, f BookingFilter) ([]*Booking, int, error)
}
