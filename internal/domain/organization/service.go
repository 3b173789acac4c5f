package organization

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/care/emr/internal/domain/authz"
	"github.com/care/emr/internal/platform/apperr"
	"github.com/care/emr/internal/platform/auth"
	"github.com/care/emr/internal/platform/db"
)

// DefaultParentChainExpiry is how long a memoized ancestor chain is served.
const DefaultParentChainExpiry = 15 * 24 * time.Hour

type Service struct {
	repo        Repository
	tx          db.Transactor
	authz       *authz.Controller
	chainExpiry time.Duration
	now         func() time.Time
	logger      zerolog.Logger
}

func NewService(repo Repository, tx db.Transactor, ctrl *authz.Controller, chainExpiry time.Duration, logger zerolog.Logger) *Service {
	if chainExpiry <= 0 {
		chainExpiry = DefaultParentChainExpiry
	}
	return &Service{repo: repo, tx: tx, authz: ctrl, chainExpiry: chainExpiry, now: time.Now, logger: logger}
}

type CreateInput struct {
	Tree        Tree
	FacilityID  int64
	Parent      *uuid.UUID
	Name        string
	Description string
	OrgType     string
	Metadata    map[string]interface{}
}

type UpdateInput struct {
	Name        *string
	Description *string
	Metadata    map[string]interface{}
}

func (s *Service) Create(ctx context.Context, actor *auth.User, in CreateInput) (*Organization, error) {
	if in.Name == "" {
		return nil, apperr.Validation("name is required")
	}
	if in.OrgType == TypeRoot || !orgTypes[in.Tree][in.OrgType] {
		return nil, apperr.Validation("invalid org_type " + in.OrgType)
	}

	var parent *Organization
	var err error
	switch {
	case in.Parent != nil:
		parent, err = s.repo.GetByExternalID(ctx, in.Tree, *in.Parent)
		if err != nil {
			return nil, err
		}
		if in.Tree == TreeFacility && (parent.FacilityID == nil || *parent.FacilityID != in.FacilityID) {
			return nil, apperr.Validation("parent belongs to another facility")
		}
	case in.Tree == TreeFacility:
		// Departments without an explicit parent hang under the facility root.
		parent, err = s.repo.GetRoot(ctx, in.FacilityID)
		if err != nil {
			return nil, err
		}
	}

	if in.Tree == TreeOrganization {
		var args authz.Args
		if parent != nil {
			args.Organization = parent.Node()
		}
		err = s.authz.Require(ctx, authz.CanCreateOrganization, actor, args)
	} else {
		err = s.authz.Require(ctx, authz.CanWriteFacilityOrganization, actor, authz.Args{FacilityOrganization: parent.Node()})
	}
	if err != nil {
		return nil, err
	}

	o := &Organization{
		Tree:        in.Tree,
		Name:        in.Name,
		Description: in.Description,
		OrgType:     in.OrgType,
		Metadata:    in.Metadata,
	}
	if in.Tree == TreeFacility {
		fid := in.FacilityID
		o.FacilityID = &fid
	}
	if err := s.insert(ctx, o, parent); err != nil {
		return nil, err
	}
	s.logger.Info().Str("organization_id", o.ExternalID.String()).Str("tree", o.Tree.String()).Msg("organization created")
	return o, nil
}

// CreateRoot creates the root facility organization of a newly created
// facility. It joins the caller's transaction.
func (s *Service) CreateRoot(ctx context.Context, facilityID int64, name string) (*Organization, error) {
	fid := facilityID
	o := &Organization{
		Tree:            TreeFacility,
		FacilityID:      &fid,
		Name:            name,
		OrgType:         TypeRoot,
		SystemGenerated: true,
	}
	if err := s.insert(ctx, o, nil); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) insert(ctx context.Context, o *Organization, parent *Organization) error {
	o.applyParent(parent)
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		taken, err := s.repo.NameTaken(ctx, o, 0)
		if err != nil {
			return err
		}
		if taken {
			return apperr.Conflict("Organization with this name already exists")
		}
		if err := s.repo.Create(ctx, o); err != nil {
			return err
		}
		if parent != nil && !parent.HasChildren {
			parent.HasChildren = true
			return s.repo.SetHasChildren(ctx, parent.Tree, parent.ID, true)
		}
		return nil
	})
}

// Get loads a node visible to actor.
func (s *Service) Get(ctx context.Context, actor *auth.User, tree Tree, id uuid.UUID) (*Organization, error) {
	o, err := s.repo.GetByExternalID(ctx, tree, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireView(ctx, actor, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) requireView(ctx context.Context, actor *auth.User, o *Organization) error {
	if o.Tree == TreeFacility {
		return s.authz.Require(ctx, authz.CanViewFacilityOrganization, actor, authz.Args{FacilityOrganization: o.Node()})
	}
	return s.authz.Require(ctx, authz.CanViewOrganization, actor, authz.Args{Organization: o.Node()})
}

func (s *Service) requireWrite(ctx context.Context, actor *auth.User, o *Organization) error {
	if o.Tree == TreeFacility {
		return s.authz.Require(ctx, authz.CanWriteFacilityOrganization, actor, authz.Args{FacilityOrganization: o.Node()})
	}
	return s.authz.Require(ctx, authz.CanWriteOrganization, actor, authz.Args{Organization: o.Node()})
}

// GetByID loads a node by internal id without authorization. It backs
// lookups from other domains.
func (s *Service) GetByID(ctx context.Context, tree Tree, id int64) (*Organization, error) {
	return s.repo.GetByID(ctx, tree, id)
}

// Resolve maps an external id to the node without authorization.
func (s *Service) Resolve(ctx context.Context, tree Tree, id uuid.UUID) (*Organization, error) {
	return s.repo.GetByExternalID(ctx, tree, id)
}

func (s *Service) GetRoot(ctx context.Context, facilityID int64) (*Organization, error) {
	return s.repo.GetRoot(ctx, facilityID)
}

func (s *Service) Update(ctx context.Context, actor *auth.User, tree Tree, id uuid.UUID, in UpdateInput) (*Organization, error) {
	o, err := s.repo.GetByExternalID(ctx, tree, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireWrite(ctx, actor, o); err != nil {
		return nil, err
	}
	if in.Description != nil {
		o.Description = *in.Description
	}
	if in.Metadata != nil {
		o.Metadata = in.Metadata
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if in.Name != nil && *in.Name != o.Name {
			if *in.Name == "" {
				return apperr.Validation("name is required")
			}
			o.Name = *in.Name
			taken, err := s.repo.NameTaken(ctx, o, o.ID)
			if err != nil {
				return err
			}
			if taken {
				return apperr.Conflict("Organization with this name already exists")
			}
		}
		return s.repo.Update(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	o.Parent = nil
	o.ParentCachedAt = nil
	return o, nil
}

// Delete removes a leaf node. Nodes with children are removed together with
// their descendants only when actor holds can_delete_organization on them.
func (s *Service) Delete(ctx context.Context, actor *auth.User, tree Tree, id uuid.UUID) error {
	o, err := s.repo.GetByExternalID(ctx, tree, id)
	if err != nil {
		return err
	}
	if tree == TreeFacility && o.OrgType == TypeRoot {
		return apperr.Conflict("the root organization of a facility cannot be deleted")
	}
	if err := s.requireWrite(ctx, actor, o); err != nil {
		return err
	}

	return s.tx.InTx(ctx, func(ctx context.Context) error {
		children, err := s.repo.CountChildren(ctx, tree, o.ID)
		if err != nil {
			return err
		}
		if children > 0 {
			if o.SystemGenerated {
				return apperr.Conflict("system generated organizations cannot be deleted with their children")
			}
			var ok bool
			if tree == TreeFacility {
				ok, err = s.authz.Can(ctx, authz.CanWriteFacilityOrganization, actor, authz.Args{FacilityOrganization: o.Node()})
			} else {
				ok, err = s.authz.Can(ctx, authz.CanDeleteOrganization, actor, authz.Args{Organization: o.Node()})
			}
			if err != nil {
				return err
			}
			if !ok {
				return apperr.Conflict("Cannot delete organization with children")
			}
		}
		if err := s.repo.Delete(ctx, tree, o.ID); err != nil {
			return err
		}
		if o.ParentID == nil {
			return nil
		}
		remaining, err := s.repo.CountChildren(ctx, tree, *o.ParentID)
		if err != nil {
			return err
		}
		if remaining == 0 {
			return s.repo.SetHasChildren(ctx, tree, *o.ParentID, false)
		}
		return nil
	})
}

// List returns the nodes actor may see. Organization listings are filtered by
// get_accessible_organizations, facility organization listings by
// get_accessible_facility_organizations.
func (s *Service) List(ctx context.Context, actor *auth.User, f Filter) ([]*Organization, int, error) {
	query := authz.GetAccessibleOrganizations
	if f.Tree == TreeFacility {
		query = authz.GetAccessibleFacilityOrganizations
	}
	scope, err := s.authz.Filter(ctx, query, actor, authz.Args{FacilityID: f.FacilityID})
	if err != nil {
		return nil, 0, err
	}
	if f.Tree == TreeFacility && scope.Empty() {
		return []*Organization{}, 0, nil
	}
	f.Scope = scope
	return s.repo.List(ctx, f)
}

// Ancestors returns the chain of o from the root down to its parent.
func (s *Service) Ancestors(ctx context.Context, o *Organization) ([]*Organization, error) {
	if len(o.ParentCache) == 0 {
		return []*Organization{}, nil
	}
	nodes, err := s.repo.ListByIDs(ctx, o.Tree, o.ParentCache)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*Organization, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	out := make([]*Organization, 0, len(o.ParentCache))
	for _, id := range o.ParentCache {
		if n, ok := byID[id]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}

// GetParentChainJSON returns the denormalized ancestor chain of o, nearest
// parent outermost. The chain is memoized on the node and rebuilt once it is
// older than the configured expiry.
func (s *Service) GetParentChainJSON(ctx context.Context, o *Organization) (json.RawMessage, error) {
	now := s.now()
	if o.Parent != nil && o.ParentCachedAt != nil && now.Sub(*o.ParentCachedAt) < s.chainExpiry {
		return o.Parent, nil
	}
	ancestors, err := s.Ancestors(ctx, o)
	if err != nil {
		return nil, err
	}
	var chain *chainEntry
	for _, a := range ancestors {
		chain = &chainEntry{ID: a.ExternalID, Name: a.Name, OrgType: a.OrgType, Parent: chain}
	}
	raw := json.RawMessage("{}")
	if chain != nil {
		raw, err = json.Marshal(chain)
		if err != nil {
			return nil, err
		}
	}
	if err := s.repo.SaveParentChain(ctx, o.Tree, o.ID, raw, now); err != nil {
		s.logger.Warn().Err(err).Str("organization_id", o.ExternalID.String()).Msg("saving parent chain cache failed")
	}
	o.Parent = raw
	o.ParentCachedAt = &now
	return raw, nil
}

// withParent fills the parent chain of each node for rendering.
func (s *Service) withParent(ctx context.Context, nodes ...*Organization) error {
	for _, o := range nodes {
		if _, err := s.GetParentChainJSON(ctx, o); err != nil {
			return err
		}
	}
	return nil
}
