// Package observation stores clinical observations and serves them to
// readers with clinical access to the patient.
package observation

import (
	"context"

	"github.com/google/uuid"

	"github.com/care/emr/internal/domain/authz"
	"github.com/care/emr/internal/domain/patient"
	"github.com/care/emr/internal/platform/auth"
)

// PatientAuthorizer loads a patient and requires an action on it.
type PatientAuthorizer interface {
	Authorize(ctx context.Context, actor *auth.User, id uuid.UUID, action string) (*patient.Patient, error)
}

type Service struct {
	repo     Repository
	patients PatientAuthorizer
}

func NewService(repo Repository, patients PatientAuthorizer) *Service {
	return &Service{repo: repo, patients: patients}
}

func (s *Service) List(ctx context.Context, actor *auth.User, patientID uuid.UUID, f Filter) ([]*Observation, int, error) {
	p, err := s.patients.Authorize(ctx, actor, patientID, authz.CanViewClinicalData)
	if err != nil {
		return nil, 0, err
	}
	return s.repo.ListByPatient(ctx, p.ID, f)
}

func (s *Service) Get(ctx context.Context, actor *auth.User, patientID, id uuid.UUID) (*Observation, error) {
	p, err := s.patients.Authorize(ctx, actor, patientID, authz.CanViewClinicalData)
	if err != nil {
		return nil, err
	}
	return s.repo.GetByExternalID(ctx, p.ID, id)
}

// Record persists observations built by a submission. It runs inside the
// caller's transaction.
func (s *Service) Record(ctx context.Context, obs []*Observation) error {
	return s.repo.CreateBatch(ctx, obs)
}
