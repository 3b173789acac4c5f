package facility

import (
	"time"

	"github.com/google/uuid"
)

type Facility struct {
	ID                int64      `db:"id" json:"-"`
	ExternalID        uuid.UUID  `db:"external_id" json:"id"`
	Name              string     `db:"name" json:"name"`
	FacilityType      string     `db:"facility_type" json:"facility_type"`
	GeoOrganizationID *int64     `db:"geo_organization_id" json:"-"`
	GeoOrganization   *uuid.UUID `json:"geo_organization,omitempty"`
	CreatedByID       *int64     `db:"created_by_id" json:"-"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}
