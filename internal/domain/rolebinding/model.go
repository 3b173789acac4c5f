// Package rolebinding stores the memberships that attach a user, with a
// role, to an organization, a facility organization or a patient.
package rolebinding

import (
	"time"

	"github.com/google/uuid"

	"github.com/care/emr/internal/domain/user"
)

type Kind int

const (
	KindOrganization Kind = iota
	KindFacilityOrganization
	KindPatient
)

func (k Kind) table() string {
	switch k {
	case KindFacilityOrganization:
		return "facility_organization_user"
	case KindPatient:
		return "patient_user"
	default:
		return "organization_user"
	}
}

func (k Kind) nodeColumn() string {
	switch k {
	case KindFacilityOrganization:
		return "facility_organization_id"
	case KindPatient:
		return "patient_id"
	default:
		return "organization_id"
	}
}

func (k Kind) String() string {
	switch k {
	case KindFacilityOrganization:
		return "facility organization"
	case KindPatient:
		return "patient"
	default:
		return "organization"
	}
}

type RoleSummary struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type Binding struct {
	ID         int64        `db:"id" json:"-"`
	ExternalID uuid.UUID    `db:"external_id" json:"id"`
	Kind       Kind         `json:"-"`
	NodeID     int64        `json:"-"`
	UserID     int64        `db:"user_id" json:"-"`
	RoleID     int64        `db:"role_id" json:"-"`
	User       user.Summary `json:"user"`
	Role       RoleSummary  `json:"role"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
}
