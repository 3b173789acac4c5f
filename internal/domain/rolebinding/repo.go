package rolebinding

import (
	"context"

	"github.com/google/uuid"

	"github.com/care/emr/internal/domain/authz"
)

type Repository interface {
	Add(ctx context.Context, b *Binding) error
	GetByExternalID(ctx context.Context, kind Kind, id uuid.UUID) (*Binding, error)
	UpdateRole(ctx context.Context, b *Binding) error
	Remove(ctx context.Context, kind Kind, id int64) error
	// RemoveByUser drops the binding of userID on nodeID, if any.
	RemoveByUser(ctx context.Context, kind Kind, nodeID, userID int64) error
	ListForNode(ctx context.Context, kind Kind, nodeID int64, limit, offset int) ([]*Binding, int, error)
	ListForUser(ctx context.Context, kind Kind, userID int64) ([]*Binding, error)
	// UserIDs returns every user bound to nodeID.
	UserIDs(ctx context.Context, kind Kind, nodeID int64) ([]int64, error)

	OrganizationGrants(ctx context.Context, userID int64) ([]authz.Grant, error)
	FacilityOrganizationGrants(ctx context.Context, userID, facilityID int64) ([]authz.Grant, error)
	PatientGrants(ctx context.Context, userID, patientID int64) ([]authz.Grant, error)
}
