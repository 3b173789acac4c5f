package authz

import (
	"context"
)

type idSet map[int64]struct{}

func newIDSet(ids ...int64) idSet {
	s := make(idSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s idSet) has(id int64) bool {
	_, ok := s[id]
	return ok
}

func (s idSet) add(ids ...int64) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

func (s idSet) slice() []int64 {
	out := make([]int64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}

func (c *Controller) grantingRoles(ctx context.Context, perms []string) (idSet, error) {
	roles, err := c.roles.RolesGranting(ctx, perms)
	if err != nil {
		return nil, err
	}
	return newIDSet(roles...), nil
}

// matchGrants reports whether any grant has a granting role and, when
// nodeIDs is non-nil, sits on one of nodeIDs.
func matchGrants(grants []Grant, roles idSet, nodeIDs []int64) bool {
	var nodes idSet
	if nodeIDs != nil {
		nodes = newIDSet(nodeIDs...)
	}
	for _, g := range grants {
		if !roles.has(g.RoleID) {
			continue
		}
		if nodes == nil || nodes.has(g.NodeID) {
			return true
		}
	}
	return false
}

// CheckPermissionInOrganization reports whether u holds any of perms through
// an organization binding. A nil orgIDs matches a binding anywhere; a
// non-nil empty slice matches nothing.
func (c *Controller) CheckPermissionInOrganization(ctx context.Context, perms []string, u *User, orgIDs []int64) (bool, error) {
	if u.IsSuperuser {
		return true, nil
	}
	roles, err := c.grantingRoles(ctx, perms)
	if err != nil || len(roles) == 0 {
		return false, err
	}
	grants, err := c.grants.OrganizationGrants(ctx, u.ID)
	if err != nil {
		return false, err
	}
	return matchGrants(grants, roles, orgIDs), nil
}

// CheckPermissionInFacilityOrganization is CheckPermissionInOrganization over
// facility organization bindings, optionally limited to one facility.
func (c *Controller) CheckPermissionInFacilityOrganization(ctx context.Context, perms []string, u *User, orgIDs []int64, facilityID int64) (bool, error) {
	if u.IsSuperuser {
		return true, nil
	}
	roles, err := c.grantingRoles(ctx, perms)
	if err != nil || len(roles) == 0 {
		return false, err
	}
	grants, err := c.grants.FacilityOrganizationGrants(ctx, u.ID, facilityID)
	if err != nil {
		return false, err
	}
	return matchGrants(grants, roles, orgIDs), nil
}

// FindRolesOnPatient unions the roles u holds on p through the facility
// organizations of p's open encounters, through p's organizations and
// through direct patient bindings.
func (c *Controller) FindRolesOnPatient(ctx context.Context, u *User, p *Patient) ([]int64, error) {
	roles := newIDSet()

	caches, err := c.encounters.OpenEncounterCaches(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if len(caches) > 0 {
		encounterOrgs := newIDSet()
		for _, cache := range caches {
			encounterOrgs.add(cache...)
		}
		grants, err := c.grants.FacilityOrganizationGrants(ctx, u.ID, 0)
		if err != nil {
			return nil, err
		}
		for _, g := range grants {
			if encounterOrgs.has(g.NodeID) {
				roles.add(g.RoleID)
			}
		}
	}

	if len(p.OrganizationCache) > 0 {
		patientOrgs := newIDSet(p.OrganizationCache...)
		grants, err := c.grants.OrganizationGrants(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		for _, g := range grants {
			if patientOrgs.has(g.NodeID) {
				roles.add(g.RoleID)
			}
		}
	}

	direct, err := c.grants.PatientGrants(ctx, u.ID, p.ID)
	if err != nil {
		return nil, err
	}
	for _, g := range direct {
		roles.add(g.RoleID)
	}
	return roles.slice(), nil
}

// rolesGrant reports whether any of roles carries any of perms.
func (c *Controller) rolesGrant(ctx context.Context, roles []int64, perms []string) (bool, error) {
	if len(roles) == 0 {
		return false, nil
	}
	granting, err := c.grantingRoles(ctx, perms)
	if err != nil {
		return false, err
	}
	for _, r := range roles {
		if granting.has(r) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Controller) permissionUnion(ctx context.Context, roles []int64) (map[string]bool, error) {
	union := map[string]bool{}
	for _, r := range roles {
		slugs, err := c.roles.PermissionsOf(ctx, r)
		if err != nil {
			return nil, err
		}
		for _, s := range slugs {
			union[s] = true
		}
	}
	return union, nil
}

// canGrantRole is the escalation guard shared by both trees: u must hold
// perm somewhere on chain, and the requested role may not carry any
// permission outside the union of u's roles on chain.
func (c *Controller) canGrantRole(ctx context.Context, u *User, grants []Grant, chain []int64, perm string, roleID int64) (bool, error) {
	if u.IsSuperuser {
		return true, nil
	}
	onChain := newIDSet(chain...)
	held := newIDSet()
	for _, g := range grants {
		if onChain.has(g.NodeID) {
			held.add(g.RoleID)
		}
	}
	heldRoles := held.slice()
	ok, err := c.rolesGrant(ctx, heldRoles, []string{perm})
	if err != nil || !ok {
		return false, err
	}

	union, err := c.permissionUnion(ctx, heldRoles)
	if err != nil {
		return false, err
	}
	requested, err := c.roles.PermissionsOf(ctx, roleID)
	if err != nil {
		return false, err
	}
	for _, slug := range requested {
		if !union[slug] {
			return false, nil
		}
	}
	return true, nil
}
