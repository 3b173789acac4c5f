// Package patient manages patient records and the organization and user
// caches that drive patient-level authorization.
package patient

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/care/emr/internal/domain/authz"
	"github.com/care/emr/internal/domain/organization"
	"github.com/care/emr/internal/domain/rolebinding"
	"github.com/care/emr/internal/platform/apperr"
	"github.com/care/emr/internal/platform/auth"
	"github.com/care/emr/internal/platform/db"
)

type Service struct {
	repo     Repository
	bindings rolebinding.Repository
	users    rolebinding.Users
	roles    rolebinding.Roles
	orgs     rolebinding.Nodes
	tx       db.Transactor
	authz    *authz.Controller
	logger   zerolog.Logger
}

func NewService(repo Repository, bindings rolebinding.Repository, users rolebinding.Users, roles rolebinding.Roles,
	orgs rolebinding.Nodes, tx db.Transactor, ctrl *authz.Controller, logger zerolog.Logger) *Service {
	return &Service{repo: repo, bindings: bindings, users: users, roles: roles, orgs: orgs, tx: tx, authz: ctrl, logger: logger}
}

type Input struct {
	Name            string     `json:"name"`
	Gender          string     `json:"gender"`
	DateOfBirth     *time.Time `json:"date_of_birth"`
	PhoneNumber     string     `json:"phone_number"`
	Address         string     `json:"address"`
	GeoOrganization *uuid.UUID `json:"geo_organization"`
}

func (s *Service) apply(ctx context.Context, p *Patient, in Input) error {
	var errs []apperr.FieldError
	name := strings.TrimSpace(in.Name)
	if name == "" {
		errs = append(errs, apperr.FieldError{Type: "value_error", Loc: "name", Msg: "This field is required"})
	}
	gender := in.Gender
	if gender == "" {
		gender = "unknown"
	}
	if !genders[gender] {
		errs = append(errs, apperr.FieldError{Type: "value_error", Loc: "gender", Msg: "Invalid gender"})
	}
	if in.PhoneNumber != "" && !phonePattern.MatchString(in.PhoneNumber) {
		errs = append(errs, apperr.FieldError{Type: "value_error", Loc: "phone_number", Msg: "Invalid phone number"})
	}
	if in.DateOfBirth != nil && in.DateOfBirth.After(time.Now()) {
		errs = append(errs, apperr.FieldError{Type: "value_error", Loc: "date_of_birth", Msg: "Date of birth cannot be in the future"})
	}
	if len(errs) > 0 {
		return apperr.Validation("invalid patient", errs...)
	}

	p.Name = name
	p.Gender = gender
	p.DateOfBirth = in.DateOfBirth
	p.PhoneNumber = in.PhoneNumber
	p.Address = in.Address
	p.GeoOrganizationID = nil
	p.GeoOrganization = nil
	if in.GeoOrganization != nil {
		geo, err := s.orgs.Resolve(ctx, organization.TreeOrganization, *in.GeoOrganization)
		if err != nil {
			return err
		}
		if geo.OrgType != organization.TypeGovt {
			return apperr.Validation("geo_organization must be a govt organization")
		}
		p.GeoOrganizationID = &geo.ID
		p.GeoOrganization = &geo.ExternalID
	}
	return nil
}

func (s *Service) Create(ctx context.Context, actor *auth.User, in Input) (*Patient, error) {
	if err := s.authz.Require(ctx, authz.CanCreatePatient, actor, authz.Args{}); err != nil {
		return nil, err
	}
	p := &Patient{}
	if err := s.apply(ctx, p, in); err != nil {
		return nil, err
	}
	if actor != nil {
		id := actor.ID
		p.CreatedByID = &id
	}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, p); err != nil {
			return err
		}
		return s.repo.RebuildCaches(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("patient_id", p.ExternalID.String()).Msg("patient created")
	return p, nil
}

// load fetches a patient and requires action on it.
func (s *Service) load(ctx context.Context, actor *auth.User, id uuid.UUID, action string) (*Patient, error) {
	p, err := s.repo.GetByExternalID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Require(ctx, action, actor, authz.Args{Patient: p.View()}); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, actor *auth.User, id uuid.UUID) (*Patient, error) {
	return s.load(ctx, actor, id, authz.CanViewPatient)
}

// Authorize loads a patient and requires action on it. Other domains use it
// to gate clinical reads and writes.
func (s *Service) Authorize(ctx context.Context, actor *auth.User, id uuid.UUID, action string) (*Patient, error) {
	return s.load(ctx, actor, id, action)
}

func (s *Service) GetByID(ctx context.Context, id int64) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

// Resolve looks a patient up by external id without an authorization check.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByExternalID(ctx, id)
}

func (s *Service) Update(ctx context.Context, actor *auth.User, id uuid.UUID, in Input) (*Patient, error) {
	p, err := s.load(ctx, actor, id, authz.CanWritePatient)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, p, in); err != nil {
		return nil, err
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, p); err != nil {
			return err
		}
		return s.repo.RebuildCaches(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// List returns the patients visible through get_filtered_patients.
func (s *Service) List(ctx context.Context, actor *auth.User, f Filter) ([]*Patient, int, error) {
	scope, err := s.authz.Filter(ctx, authz.GetFilteredPatients, actor, authz.Args{})
	if err != nil {
		return nil, 0, err
	}
	if scope.Empty() {
		return []*Patient{}, 0, nil
	}
	f.Scope = scope
	return s.repo.List(ctx, f)
}

// ListByPhone returns the patients registered with phone. It backs the
// patient-token routes, where the phone was proven by OTP.
func (s *Service) ListByPhone(ctx context.Context, phone string) ([]*Patient, error) {
	return s.repo.ListByPhone(ctx, phone)
}

// AddUser binds a user to the patient with a role and refreshes users_cache.
func (s *Service) AddUser(ctx context.Context, actor *auth.User, patientID, userID, roleID uuid.UUID) (*rolebinding.Binding, error) {
	p, err := s.load(ctx, actor, patientID, authz.CanManagePatientUsers)
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetUserByExternalID(ctx, userID)
	if err != nil {
		return nil, err
	}
	role, err := s.roles.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	b := &rolebinding.Binding{
		Kind:   rolebinding.KindPatient,
		NodeID: p.ID,
		UserID: u.ID,
		RoleID: role.ID,
		User:   u.Summary(),
		Role:   rolebinding.RoleSummary{ID: role.ExternalID, Name: role.Name},
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.bindings.Add(ctx, b); err != nil {
			return err
		}
		return s.repo.RebuildCaches(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) RemoveUser(ctx context.Context, actor *auth.User, patientID, userID uuid.UUID) error {
	p, err := s.load(ctx, actor, patientID, authz.CanManagePatientUsers)
	if err != nil {
		return err
	}
	u, err := s.users.GetUserByExternalID(ctx, userID)
	if err != nil {
		return err
	}
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.bindings.RemoveByUser(ctx, rolebinding.KindPatient, p.ID, u.ID); err != nil {
			return err
		}
		return s.repo.RebuildCaches(ctx, p)
	})
}

func (s *Service) ListUsers(ctx context.Context, actor *auth.User, patientID uuid.UUID, limit, offset int) ([]*rolebinding.Binding, int, error) {
	p, err := s.load(ctx, actor, patientID, authz.CanViewPatient)
	if err != nil {
		return nil, 0, err
	}
	return s.bindings.ListForNode(ctx, rolebinding.KindPatient, p.ID, limit, offset)
}

// AddOrganization links an organization to the patient and refreshes
// organization_cache.
func (s *Service) AddOrganization(ctx context.Context, actor *auth.User, patientID, orgID uuid.UUID) (*Patient, error) {
	return s.changeOrganization(ctx, actor, patientID, orgID, true)
}

func (s *Service) RemoveOrganization(ctx context.Context, actor *auth.User, patientID, orgID uuid.UUID) (*Patient, error) {
	return s.changeOrganization(ctx, actor, patientID, orgID, false)
}

func (s *Service) changeOrganization(ctx context.Context, actor *auth.User, patientID, orgID uuid.UUID, add bool) (*Patient, error) {
	p, err := s.load(ctx, actor, patientID, authz.CanWritePatient)
	if err != nil {
		return nil, err
	}
	o, err := s.orgs.Resolve(ctx, organization.TreeOrganization, orgID)
	if err != nil {
		return nil, err
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if add {
			err = s.repo.AddOrganization(ctx, p.ID, o.ID)
		} else {
			err = s.repo.RemoveOrganization(ctx, p.ID, o.ID)
		}
		if err != nil {
			return err
		}
		return s.repo.RebuildCaches(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
