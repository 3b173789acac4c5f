package facility

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/care/emr/internal/domain/authz"
	"github.com/care/emr/internal/domain/organization"
	"github.com/care/emr/internal/platform/apperr"
	"github.com/care/emr/internal/platform/auth"
	"github.com/care/emr/internal/platform/db"
)

type Organizations interface {
	CreateRoot(ctx context.Context, facilityID int64, name string) (*organization.Organization, error)
	Resolve(ctx context.Context, tree organization.Tree, id uuid.UUID) (*organization.Organization, error)
}

type Service struct {
	repo   Repository
	orgs   Organizations
	tx     db.Transactor
	authz  *authz.Controller
	logger zerolog.Logger
}

func NewService(repo Repository, orgs Organizations, tx db.Transactor, ctrl *authz.Controller, logger zerolog.Logger) *Service {
	return &Service{repo: repo, orgs: orgs, tx: tx, authz: ctrl, logger: logger}
}

type CreateInput struct {
	Name            string
	FacilityType    string
	GeoOrganization *uuid.UUID
}

// Create registers a facility together with its root facility organization.
func (s *Service) Create(ctx context.Context, actor *auth.User, in CreateInput) (*Facility, error) {
	if in.Name == "" {
		return nil, apperr.Validation("name is required")
	}
	f := &Facility{Name: in.Name, FacilityType: in.FacilityType}
	var args authz.Args
	if in.GeoOrganization != nil {
		geo, err := s.orgs.Resolve(ctx, organization.TreeOrganization, *in.GeoOrganization)
		if err != nil {
			return nil, err
		}
		if geo.OrgType != organization.TypeGovt {
			return nil, apperr.Validation("geo_organization must be a govt organization")
		}
		f.GeoOrganizationID = &geo.ID
		f.GeoOrganization = &geo.ExternalID
		args.Organization = geo.Node()
	}
	if err := s.authz.Require(ctx, authz.CanCreateFacility, actor, args); err != nil {
		return nil, err
	}
	if actor != nil {
		id := actor.ID
		f.CreatedByID = &id
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, f); err != nil {
			return err
		}
		_, err := s.orgs.CreateRoot(ctx, f.ID, f.Name)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("facility_id", f.ExternalID.String()).Msg("facility created")
	return f, nil
}

func (s *Service) Get(ctx context.Context, actor *auth.User, id uuid.UUID) (*Facility, error) {
	f, err := s.repo.GetByExternalID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Require(ctx, authz.CanReadFacility, actor, authz.Args{FacilityID: f.ID}); err != nil {
		return nil, err
	}
	return f, nil
}

type UpdateInput struct {
	Name         *string
	FacilityType *string
}

func (s *Service) Update(ctx context.Context, actor *auth.User, id uuid.UUID, in UpdateInput) (*Facility, error) {
	f, err := s.repo.GetByExternalID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Require(ctx, authz.CanUpdateFacility, actor, authz.Args{FacilityID: f.ID}); err != nil {
		return nil, err
	}
	if in.Name != nil {
		if *in.Name == "" {
			return nil, apperr.Validation("name is required")
		}
		f.Name = *in.Name
	}
	if in.FacilityType != nil {
		f.FacilityType = *in.FacilityType
	}
	if err := s.repo.Update(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Service) List(ctx context.Context, actor *auth.User, limit, offset int) ([]*Facility, int, error) {
	if actor == nil {
		return nil, 0, apperr.Forbidden("")
	}
	var userID int64
	if !actor.IsSuperuser {
		userID = actor.ID
	}
	return s.repo.List(ctx, userID, limit, offset)
}

// ResolveFacility maps an external facility id to its internal id.
func (s *Service) ResolveFacility(ctx context.Context, id uuid.UUID) (int64, error) {
	f, err := s.repo.GetByExternalID(ctx, id)
	if err != nil {
		return 0, err
	}
	return f.ID, nil
}

// GetByID loads a facility without authorization.
func (s *Service) GetByID(ctx context.Context, id int64) (*Facility, error) {
	return s.repo.GetByID(ctx, id)
}
