package user

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the persistence interface for users.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByExternalID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	Update(ctx context.Context, u *User) error
	List(ctx context.Context, search string, limit, offset int) ([]*User, int, error)
}
