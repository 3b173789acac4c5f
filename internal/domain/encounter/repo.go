package encounter

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, e *Encounter) error
	GetByID(ctx context.Context, id int64) (*Encounter, error)
	GetByExternalID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	Update(ctx context.Context, e *Encounter) error
	List(ctx context.Context, f Filter) ([]*Encounter, int, error)
	AddOrganization(ctx context.Context, encounterID, facilityOrganizationID int64) error
	RemoveOrganization(ctx context.Context, encounterID, facilityOrganizationID int64) error
	// RebuildCache recomputes facility_organization_cache from the attached
	// facility organizations and the facility root.
	RebuildCache(ctx context.Context, e *Encounter) error
	OpenEncounterCaches(ctx context.Context, patientID int64) ([][]int64, error)
}
