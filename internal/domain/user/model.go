package user

import (
	"time"

	"github.com/google/uuid"

	"github.com/care/emr/internal/platform/auth"
)

// User maps to the emr_user table.
type User struct {
	ID          int64     `db:"id" json:"-"`
	ExternalID  uuid.UUID `db:"external_id" json:"id"`
	Username    string    `db:"username" json:"username"`
	FirstName   string    `db:"first_name" json:"first_name"`
	LastName    string    `db:"last_name" json:"last_name"`
	PhoneNumber *string   `db:"phone_number" json:"phone_number,omitempty"`
	IsSuperuser bool      `db:"is_superuser" json:"is_superuser"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Principal is the identity carried on the request context.
func (u *User) Principal() *auth.User {
	return &auth.User{
		ID:          u.ID,
		ExternalID:  u.ExternalID,
		Username:    u.Username,
		IsSuperuser: u.IsSuperuser,
	}
}

// Summary is the compact form embedded in other resources.
type Summary struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
}

func (u *User) Summary() Summary {
	return Summary{ID: u.ExternalID, Username: u.Username, FirstName: u.FirstName, LastName: u.LastName}
}
