package authz

import (
	"context"

	"github.com/care/emr/internal/domain/permission"
)

// Query names.
const (
	GetFilteredEncounters              = "get_filtered_encounters"
	GetFilteredPatients                = "get_filtered_patients"
	GetAccessibleOrganizations         = "get_accessible_organizations"
	GetAccessibleFacilityOrganizations = "get_accessible_facility_organizations"
)

// grantScope collects the nodes of grants carrying any of perms, plus every
// bound node.
func (c *Controller) grantScope(ctx context.Context, grants []Grant, perm string) (Scope, error) {
	roles, err := c.grantingRoles(ctx, perms(perm))
	if err != nil {
		return Scope{}, err
	}
	ids, members := newIDSet(), newIDSet()
	for _, g := range grants {
		members.add(g.NodeID)
		if roles.has(g.RoleID) {
			ids.add(g.NodeID)
		}
	}
	return Scope{IDs: ids.slice(), MemberIDs: members.slice()}, nil
}

// getFilteredEncounters limits encounters to those whose facility
// organization cache meets a node granting can_list_encounters.
func getFilteredEncounters(ctx context.Context, c *Controller, u *User, a Args) (Scope, error) {
	if u.IsSuperuser {
		return Scope{Unrestricted: true}, nil
	}
	grants, err := c.grants.FacilityOrganizationGrants(ctx, u.ID, a.FacilityID)
	if err != nil {
		return Scope{}, err
	}
	s, err := c.grantScope(ctx, grants, permission.CanListEncounters)
	s.MemberIDs = nil
	return s, err
}

// getFilteredPatients limits patients to those in an organization granting
// can_list_patients, plus those directly bound to the user.
func getFilteredPatients(ctx context.Context, c *Controller, u *User, a Args) (Scope, error) {
	if u.IsSuperuser {
		return Scope{Unrestricted: true}, nil
	}
	grants, err := c.grants.OrganizationGrants(ctx, u.ID)
	if err != nil {
		return Scope{}, err
	}
	s, err := c.grantScope(ctx, grants, permission.CanListPatients)
	s.MemberIDs = nil
	s.UserID = u.ID
	return s, err
}

// getAccessibleOrganizations yields descendants of nodes granting
// can_view_organization, the user's own nodes and (by the repository) every
// govt organization.
func getAccessibleOrganizations(ctx context.Context, c *Controller, u *User, a Args) (Scope, error) {
	if u.IsSuperuser {
		return Scope{Unrestricted: true}, nil
	}
	grants, err := c.grants.OrganizationGrants(ctx, u.ID)
	if err != nil {
		return Scope{}, err
	}
	return c.grantScope(ctx, grants, permission.CanViewOrganization)
}

func getAccessibleFacilityOrganizations(ctx context.Context, c *Controller, u *User, a Args) (Scope, error) {
	if u.IsSuperuser {
		return Scope{Unrestricted: true}, nil
	}
	grants, err := c.grants.FacilityOrganizationGrants(ctx, u.ID, a.FacilityID)
	if err != nil {
		return Scope{}, err
	}
	return c.grantScope(ctx, grants, permission.CanViewFacilityOrganization)
}

var builtinQueries = map[string]Query{
	GetFilteredEncounters:              getFilteredEncounters,
	GetFilteredPatients:                getFilteredPatients,
	GetAccessibleOrganizations:         getAccessibleOrganizations,
	GetAccessibleFacilityOrganizations: getAccessibleFacilityOrganizations,
}
