package facility

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, f *Facility) error
	GetByID(ctx context.Context, id int64) (*Facility, error)
	GetByExternalID(ctx context.Context, id uuid.UUID) (*Facility, error)
	Update(ctx context.Context, f *Facility) error
	// List returns every facility when userID is zero, otherwise the
	// facilities where userID holds a facility organization binding.
	List(ctx context.Context, userID int64, limit, offset int) ([]*Facility, int, error)
}
