package observation

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// CreateBatch inserts observations in order. A parent must precede its
	// children in obs.
	CreateBatch(ctx context.Context, obs []*Observation) error
	GetByExternalID(ctx context.Context, patientID int64, id uuid.UUID) (*Observation, error)
	ListByPatient(ctx context.Context, patientID int64, f Filter) ([]*Observation, int, error)
	ListByResponse(ctx context.Context, responseID int64) ([]*Observation, error)
}
