package patient

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id int64) (*Patient, error)
	GetByExternalID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	List(ctx context.Context, f Filter) ([]*Patient, int, error)
	ListByPhone(ctx context.Context, phone string) ([]*Patient, error)

	AddOrganization(ctx context.Context, patientID, organizationID int64) error
	RemoveOrganization(ctx context.Context, patientID, organizationID int64) error
	// RebuildCaches recomputes organization_cache (the chains of the
	// patient's organizations and geo organization) and users_cache.
	RebuildCaches(ctx context.Context, p *Patient) error
}
