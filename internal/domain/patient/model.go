package patient

import (
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/care/emr/internal/domain/authz"
)

var genders = map[string]bool{
	"male": true, "female": true, "transgender": true, "non_binary": true, "unknown": true,
}

var phonePattern = regexp.MustCompile(`^\+?[0-9]{10,15}$`)

type Patient struct {
	ID                int64      `db:"id" json:"-"`
	ExternalID        uuid.UUID  `db:"external_id" json:"id"`
	Name              string     `db:"name" json:"name"`
	Gender            string     `db:"gender" json:"gender"`
	DateOfBirth       *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	PhoneNumber       string     `db:"phone_number" json:"phone_number"`
	Address           string     `db:"address" json:"address"`
	GeoOrganizationID *int64     `db:"geo_organization_id" json:"-"`
	GeoOrganization   *uuid.UUID `json:"geo_organization,omitempty"`
	OrganizationCache []int64    `db:"organization_cache" json:"-"`
	UsersCache        []int64    `db:"users_cache" json:"-"`
	CreatedByID       *int64     `db:"created_by_id" json:"-"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// View returns the authorization view of the patient.
func (p *Patient) View() *authz.Patient {
	return &authz.Patient{ID: p.ID, OrganizationCache: p.OrganizationCache, UsersCache: p.UsersCache}
}

// Filter narrows List.
type Filter struct {
	Name   string
	Phone  string
	Scope  authz.Scope
	Limit  int
	Offset int
}
