// Package authztest provides an in-memory authorization fixture for
// domain package tests.
package authztest

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/care/emr/internal/domain/authz"
	"github.com/care/emr/internal/domain/permission"
)

// Role ids of the seeded system roles.
const (
	RoleAdmin int64 = iota + 1
	RoleFacilityAdmin
	RoleGeoAdmin
	RoleDoctor
	RoleNurse
	RoleStaff
	RoleVolunteer
)

var roleNames = map[int64]string{
	RoleAdmin:         permission.RoleAdmin,
	RoleFacilityAdmin: permission.RoleFacilityAdmin,
	RoleGeoAdmin:      permission.RoleGeoAdmin,
	RoleDoctor:        permission.RoleDoctor,
	RoleNurse:         permission.RoleNurse,
	RoleStaff:         permission.RoleStaff,
	RoleVolunteer:     permission.RoleVolunteer,
}

type Roles struct {
	Perms map[int64][]string
}

func (r *Roles) RolesGranting(_ context.Context, slugs []string) ([]int64, error) {
	want := make(map[string]bool, len(slugs))
	for _, s := range slugs {
		want[s] = true
	}
	var out []int64
	for id, perms := range r.Perms {
		for _, p := range perms {
			if want[p] {
				out = append(out, id)
				break
			}
		}
	}
	return out, nil
}

func (r *Roles) PermissionsOf(_ context.Context, roleID int64) ([]string, error) {
	return r.Perms[roleID], nil
}

type facilityGrant struct {
	facilityID int64
	grant      authz.Grant
}

type Grants struct {
	mu       sync.Mutex
	org      map[int64][]authz.Grant
	facility map[int64][]facilityGrant
	patient  map[[2]int64][]authz.Grant
}

func (g *Grants) BindOrganization(userID int64, n *authz.Node, roleID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.org[userID] = append(g.org[userID], authz.Grant{NodeID: n.ID, RoleID: roleID, Chain: n.Chain()})
}

func (g *Grants) BindFacilityOrganization(userID int64, n *authz.Node, roleID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.facility[userID] = append(g.facility[userID], facilityGrant{
		facilityID: n.FacilityID,
		grant:      authz.Grant{NodeID: n.ID, RoleID: roleID, Chain: n.Chain()},
	})
}

func (g *Grants) BindPatient(userID, patientID, roleID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := [2]int64{userID, patientID}
	g.patient[key] = append(g.patient[key], authz.Grant{NodeID: patientID, RoleID: roleID})
}

func (g *Grants) OrganizationGrants(_ context.Context, userID int64) ([]authz.Grant, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]authz.Grant(nil), g.org[userID]...), nil
}

func (g *Grants) FacilityOrganizationGrants(_ context.Context, userID, facilityID int64) ([]authz.Grant, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []authz.Grant
	for _, fg := range g.facility[userID] {
		if facilityID == 0 || fg.facilityID == facilityID {
			out = append(out, fg.grant)
		}
	}
	return out, nil
}

func (g *Grants) PatientGrants(_ context.Context, userID, patientID int64) ([]authz.Grant, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]authz.Grant(nil), g.patient[[2]int64{userID, patientID}]...), nil
}

type Encounters struct {
	mu   sync.Mutex
	open map[int64][][]int64
}

// Open records an open encounter of patientID in the given facility organizations.
func (e *Encounters) Open(patientID int64, cache ...int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.open[patientID] = append(e.open[patientID], cache)
}

func (e *Encounters) OpenEncounterCaches(_ context.Context, patientID int64) ([][]int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open[patientID], nil
}

type Fixture struct {
	Controller *authz.Controller
	Roles      *Roles
	Grants     *Grants
	Encounters *Encounters
}

// New returns a controller over the default system roles with no bindings.
func New() *Fixture {
	roles := &Roles{Perms: map[int64][]string{}}
	for id, name := range roleNames {
		roles.Perms[id] = permission.DefaultPermissions(name)
	}
	grants := &Grants{
		org:      map[int64][]authz.Grant{},
		facility: map[int64][]facilityGrant{},
		patient:  map[[2]int64][]authz.Grant{},
	}
	encounters := &Encounters{open: map[int64][][]int64{}}
	return &Fixture{
		Controller: authz.NewController(roles, grants, encounters, zerolog.Nop()),
		Roles:      roles,
		Grants:     grants,
		Encounters: encounters,
	}
}
