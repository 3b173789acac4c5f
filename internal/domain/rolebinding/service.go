package rolebinding

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/care/emr/internal/domain/authz"
	"github.com/care/emr/internal/domain/organization"
	"github.com/care/emr/internal/domain/permission"
	"github.com/care/emr/internal/domain/user"
	"github.com/care/emr/internal/platform/apperr"
	"github.com/care/emr/internal/platform/auth"
)

type Users interface {
	GetUserByExternalID(ctx context.Context, id uuid.UUID) (*user.User, error)
}

type Roles interface {
	GetRole(ctx context.Context, id uuid.UUID) (*permission.Role, error)
}

type Nodes interface {
	Resolve(ctx context.Context, tree organization.Tree, id uuid.UUID) (*organization.Organization, error)
}

type Service struct {
	repo   Repository
	authz  *authz.Controller
	users  Users
	roles  Roles
	nodes  Nodes
	logger zerolog.Logger
}

func NewService(repo Repository, ctrl *authz.Controller, users Users, roles Roles, nodes Nodes, logger zerolog.Logger) *Service {
	return &Service{repo: repo, authz: ctrl, users: users, roles: roles, nodes: nodes, logger: logger}
}

func kindOf(tree organization.Tree) Kind {
	if tree == organization.TreeFacility {
		return KindFacilityOrganization
	}
	return KindOrganization
}

// NodeRef addresses a node of either tree. FacilityID, when set, must match
// the node's facility.
type NodeRef struct {
	Tree       organization.Tree
	FacilityID int64
	ID         uuid.UUID
}

func (s *Service) node(ctx context.Context, ref NodeRef) (*organization.Organization, error) {
	o, err := s.nodes.Resolve(ctx, ref.Tree, ref.ID)
	if err != nil {
		return nil, err
	}
	if ref.Tree == organization.TreeFacility && (o.FacilityID == nil || *o.FacilityID != ref.FacilityID) {
		return nil, apperr.NotFound(ref.Tree.String())
	}
	return o, nil
}

func (s *Service) requireManage(ctx context.Context, actor *auth.User, o *organization.Organization, roleID int64) error {
	if o.Tree == organization.TreeFacility {
		return s.authz.Require(ctx, authz.CanManageFacilityOrganizationUsers, actor,
			authz.Args{FacilityOrganization: o.Node(), RoleID: roleID})
	}
	return s.authz.Require(ctx, authz.CanManageOrganizationUsers, actor,
		authz.Args{Organization: o.Node(), RoleID: roleID})
}

func (s *Service) requireList(ctx context.Context, actor *auth.User, o *organization.Organization) error {
	if o.Tree == organization.TreeFacility {
		return s.authz.Require(ctx, authz.CanListFacilityOrganizationUsers, actor, authz.Args{FacilityOrganization: o.Node()})
	}
	return s.authz.Require(ctx, authz.CanListOrganizationUsers, actor, authz.Args{Organization: o.Node()})
}

// Add binds a user to a node with a role. The actor must be able to manage
// users on the node and may not grant a role carrying permissions it does
// not hold there.
func (s *Service) Add(ctx context.Context, actor *auth.User, ref NodeRef, userID, roleID uuid.UUID) (*Binding, error) {
	o, err := s.node(ctx, ref)
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
	if err := s.requireManage(ctx, actor, o, role.ID); err != nil {
		return nil, err
	}

	b := &Binding{
		Kind:   kindOf(ref.Tree),
		NodeID: o.ID,
		UserID: u.ID,
		RoleID: role.ID,
		User:   u.Summary(),
		Role:   RoleSummary{ID: role.ExternalID, Name: role.Name},
	}
	if err := s.repo.Add(ctx, b); err != nil {
		return nil, err
	}
	s.logger.Info().Str("node_id", o.ExternalID.String()).Str("user", u.Username).Str("role", role.Name).
		Msg("role binding added")
	return b, nil
}

func (s *Service) binding(ctx context.Context, o *organization.Organization, id uuid.UUID) (*Binding, error) {
	b, err := s.repo.GetByExternalID(ctx, kindOf(o.Tree), id)
	if err != nil {
		return nil, err
	}
	if b.NodeID != o.ID {
		return nil, apperr.NotFound(b.Kind.String() + " user")
	}
	return b, nil
}

// UpdateRole changes the role of a binding. Both the current and the new
// role must be grantable by the actor.
func (s *Service) UpdateRole(ctx context.Context, actor *auth.User, ref NodeRef, bindingID, roleID uuid.UUID) (*Binding, error) {
	o, err := s.node(ctx, ref)
	if err != nil {
		return nil, err
	}
	b, err := s.binding(ctx, o, bindingID)
	if err != nil {
		return nil, err
	}
	role, err := s.roles.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if err := s.requireManage(ctx, actor, o, b.RoleID); err != nil {
		return nil, err
	}
	if err := s.requireManage(ctx, actor, o, role.ID); err != nil {
		return nil, err
	}
	b.RoleID = role.ID
	b.Role = RoleSummary{ID: role.ExternalID, Name: role.Name}
	if err := s.repo.UpdateRole(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) Remove(ctx context.Context, actor *auth.User, ref NodeRef, bindingID uuid.UUID) error {
	o, err := s.node(ctx, ref)
	if err != nil {
		return err
	}
	b, err := s.binding(ctx, o, bindingID)
	if err != nil {
		return err
	}
	if err := s.requireManage(ctx, actor, o, b.RoleID); err != nil {
		return err
	}
	return s.repo.Remove(ctx, b.Kind, b.ID)
}

func (s *Service) ListForNode(ctx context.Context, actor *auth.User, ref NodeRef, limit, offset int) ([]*Binding, int, error) {
	o, err := s.node(ctx, ref)
	if err != nil {
		return nil, 0, err
	}
	if err := s.requireList(ctx, actor, o); err != nil {
		return nil, 0, err
	}
	return s.repo.ListForNode(ctx, kindOf(ref.Tree), o.ID, limit, offset)
}

// ListForUser returns the caller's own bindings in the given tree.
func (s *Service) ListForUser(ctx context.Context, actor *auth.User, tree organization.Tree) ([]*Binding, error) {
	if actor == nil {
		return nil, apperr.Forbidden("")
	}
	return s.repo.ListForUser(ctx, kindOf(tree), actor.ID)
}

// OrganizationRoles lists the (organization, role) pairs of userID.
func (s *Service) OrganizationRoles(ctx context.Context, userID int64) ([]authz.Grant, error) {
	return s.repo.OrganizationGrants(ctx, userID)
}

// FacilityOrganizationRoles lists the facility organization bindings of
// userID, limited to one facility when facilityID is non-zero.
func (s *Service) FacilityOrganizationRoles(ctx context.Context, userID, facilityID int64) ([]authz.Grant, error) {
	return s.repo.FacilityOrganizationGrants(ctx, userID, facilityID)
}

func (s *Service) PatientRoles(ctx context.Context, userID, patientID int64) ([]authz.Grant, error) {
	return s.repo.PatientGrants(ctx, userID, patientID)
}
