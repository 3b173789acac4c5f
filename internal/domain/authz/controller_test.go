package authz

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/rs/zerolog"

	"github.com/care/emr/internal/domain/permission"
	"github.com/care/emr/internal/platform/apperr"
)

// -- Fakes --

type fakeRoles struct {
	perms map[int64][]string
}

func (f *fakeRoles) RolesGranting(_ context.Context, slugs []string) ([]int64, error) {
	var out []int64
	for role, ps := range f.perms {
		for _, p := range ps {
			if contains(slugs, p) {
				out = append(out, role)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeRoles) PermissionsOf(_ context.Context, roleID int64) ([]string, error) {
	return f.perms[roleID], nil
}

type facilityGrant struct {
	facilityID int64
	Grant
}

type fakeGrants struct {
	org      map[int64][]Grant
	facility map[int64][]facilityGrant
	patient  map[[2]int64][]Grant
}

func newFakeGrants() *fakeGrants {
	return &fakeGrants{
		org:      map[int64][]Grant{},
		facility: map[int64][]facilityGrant{},
		patient:  map[[2]int64][]Grant{},
	}
}

func (f *fakeGrants) OrganizationGrants(_ context.Context, userID int64) ([]Grant, error) {
	return f.org[userID], nil
}

func (f *fakeGrants) FacilityOrganizationGrants(_ context.Context, userID, facilityID int64) ([]Grant, error) {
	var out []Grant
	for _, g := range f.facility[userID] {
		if facilityID == 0 || g.facilityID == facilityID {
			out = append(out, g.Grant)
		}
	}
	return out, nil
}

func (f *fakeGrants) PatientGrants(_ context.Context, userID, patientID int64) ([]Grant, error) {
	return f.patient[[2]int64{userID, patientID}], nil
}

type fakeEncounters struct {
	open map[int64][][]int64
}

func (f *fakeEncounters) OpenEncounterCaches(_ context.Context, patientID int64) ([][]int64, error) {
	return f.open[patientID], nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

const (
	roleAdmin int64 = iota + 1
	roleNurse
	roleStaff
	roleVolunteer
)

func newTestController() (*Controller, *fakeGrants, *fakeEncounters) {
	roles := &fakeRoles{perms: map[int64][]string{
		roleAdmin:     permission.DefaultPermissions(permission.RoleAdmin),
		roleNurse:     permission.DefaultPermissions(permission.RoleNurse),
		roleStaff:     permission.DefaultPermissions(permission.RoleStaff),
		roleVolunteer: permission.DefaultPermissions(permission.RoleVolunteer),
	}}
	grants := newFakeGrants()
	encs := &fakeEncounters{open: map[int64][][]int64{}}
	return NewController(roles, grants, encs, zerolog.Nop()), grants, encs
}

func TestController_UnknownNameIsInternal(t *testing.T) {
	c, _, _ := newTestController()
	_, err := c.Can(context.Background(), "can_teleport", &User{ID: 1}, Args{})
	if apperr.KindOf(err) != apperr.KindInternal {
		t.Errorf("expected internal error, got %v", err)
	}
	_, err = c.Filter(context.Background(), "get_everything", &User{ID: 1}, Args{})
	if apperr.KindOf(err) != apperr.KindInternal {
		t.Errorf("expected internal error, got %v", err)
	}
}

func TestController_AnonymousDenied(t *testing.T) {
	c, _, _ := newTestController()
	ok, err := c.Can(context.Background(), CanCreatePatient, nil, Args{})
	if err != nil || ok {
		t.Errorf("expected denial without error, got %v %v", ok, err)
	}
	if err := c.Require(context.Background(), CanCreatePatient, nil, Args{}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}
}

func TestController_OverridesTakePrecedence(t *testing.T) {
	c, _, _ := newTestController()
	allow := func(context.Context, *Controller, *User, Args) (bool, error) { return true, nil }
	deny := func(context.Context, *Controller, *User, Args) (bool, error) { return false, nil }

	if err := c.Override("first", map[string]Action{CanCreatePatient: allow}, nil); err != nil {
		t.Fatalf("override: %v", err)
	}
	if err := c.Override("second", map[string]Action{CanCreatePatient: deny}, nil); err != nil {
		t.Fatalf("override: %v", err)
	}

	ok, err := c.Can(context.Background(), CanCreatePatient, &User{ID: 42}, Args{})
	if err != nil || !ok {
		t.Errorf("expected first override to win, got %v %v", ok, err)
	}
	if err := c.Override("late", map[string]Action{CanCreatePatient: deny}, nil); err == nil {
		t.Error("expected override after first use to fail")
	}
}

func TestController_OverrideNamePrefix(t *testing.T) {
	c, _, _ := newTestController()
	noop := func(context.Context, *Controller, *User, Args) (bool, error) { return true, nil }
	if err := c.Override("bad", map[string]Action{"view_patient": noop}, nil); err == nil {
		t.Error("expected action without can_ prefix to be rejected")
	}
	q := func(context.Context, *Controller, *User, Args) (Scope, error) { return Scope{}, nil }
	if err := c.Override("bad", nil, map[string]Query{"filtered": q}); err == nil {
		t.Error("expected query without get_ prefix to be rejected")
	}
}

func TestCheckPermissionInOrganization(t *testing.T) {
	c, grants, _ := newTestController()
	ctx := context.Background()
	grants.org[7] = []Grant{{NodeID: 100, RoleID: roleVolunteer}}

	tests := []struct {
		name   string
		user   *User
		perm   string
		orgIDs []int64
		want   bool
	}{
		{"superuser", &User{ID: 1, IsSuperuser: true}, permission.CanDeleteOrganization, []int64{}, true},
		{"held anywhere", &User{ID: 7}, permission.CanListPatients, nil, true},
		{"held in listed org", &User{ID: 7}, permission.CanListPatients, []int64{5, 100}, true},
		{"not in listed org", &User{ID: 7}, permission.CanListPatients, []int64{5}, false},
		{"empty org list", &User{ID: 7}, permission.CanListPatients, []int64{}, false},
		{"role lacks permission", &User{ID: 7}, permission.CanWritePatient, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.CheckPermissionInOrganization(ctx, []string{tt.perm}, tt.user, tt.orgIDs)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFindRolesOnPatient(t *testing.T) {
	c, grants, encs := newTestController()
	ctx := context.Background()
	p := &Patient{ID: 9, OrganizationCache: []int64{1, 2}}

	grants.facility[5] = []facilityGrant{{facilityID: 3, Grant: Grant{NodeID: 30, RoleID: roleNurse}}}
	grants.org[5] = []Grant{{NodeID: 2, RoleID: roleVolunteer}, {NodeID: 99, RoleID: roleAdmin}}
	grants.patient[[2]int64{5, 9}] = []Grant{{NodeID: 9, RoleID: roleStaff}}
	encs.open[9] = [][]int64{{10, 30}}

	roles, err := c.FindRolesOnPatient(ctx, &User{ID: 5}, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	want := []int64{roleNurse, roleStaff, roleVolunteer}
	if len(roles) != len(want) {
		t.Fatalf("got roles %v, want %v", roles, want)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Errorf("got roles %v, want %v", roles, want)
		}
	}

	// Closing the encounter drops the facility path.
	encs.open[9] = nil
	roles, _ = c.FindRolesOnPatient(ctx, &User{ID: 5}, p)
	for _, r := range roles {
		if r == roleNurse {
			t.Error("closed encounters must not contribute roles")
		}
	}
}

func TestClosedEncounterGuard(t *testing.T) {
	c, grants, _ := newTestController()
	ctx := context.Background()
	grants.facility[4] = []facilityGrant{{facilityID: 1, Grant: Grant{NodeID: 11, RoleID: roleNurse}}}

	open := &Encounter{ID: 1, FacilityID: 1, FacilityOrganizationCache: []int64{10, 11}}
	closed := &Encounter{ID: 2, FacilityID: 1, Closed: true, FacilityOrganizationCache: []int64{10, 11}}
	u := &User{ID: 4}

	for _, tc := range []struct {
		action string
		enc    *Encounter
		want   bool
	}{
		{CanUpdateEncounter, open, true},
		{CanSubmitEncounterQuestionnaire, open, true},
		{CanUpdateEncounter, closed, false},
		{CanSubmitEncounterQuestionnaire, closed, false},
		{CanViewEncounter, closed, true},
	} {
		got, err := c.Can(ctx, tc.action, u, Args{Encounter: tc.enc})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.action, err)
		}
		if got != tc.want {
			t.Errorf("%s on closed=%v: got %v, want %v", tc.action, tc.enc.Closed, got, tc.want)
		}
	}

	outside := &Encounter{ID: 3, FacilityID: 1, FacilityOrganizationCache: []int64{10}}
	if ok, _ := c.Can(ctx, CanViewEncounter, u, Args{Encounter: outside}); ok {
		t.Error("user outside the encounter's organizations must not view it")
	}
}

func TestEscalationGuard(t *testing.T) {
	c, grants, _ := newTestController()
	ctx := context.Background()
	org := &Node{ID: 50, ParentCache: []int64{1, 20}}
	grants.org[3] = []Grant{{NodeID: 50, RoleID: roleNurse}}
	nurse := &User{ID: 3}

	ok, err := c.Can(ctx, CanManageOrganizationUsers, nurse, Args{Organization: org, RoleID: roleAdmin})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("nurse must not grant Admin")
	}

	ok, _ = c.Can(ctx, CanManageOrganizationUsers, nurse, Args{Organization: org, RoleID: roleNurse})
	if !ok {
		t.Error("nurse may grant a role with no extra permissions")
	}

	ok, _ = c.Can(ctx, CanManageOrganizationUsers, nurse, Args{Organization: &Node{ID: 20, ParentCache: []int64{1}}, RoleID: roleVolunteer})
	if ok {
		t.Error("binding on a descendant must not grant rights on an ancestor")
	}

	ok, _ = c.Can(ctx, CanManageOrganizationUsers, &User{ID: 99, IsSuperuser: true}, Args{Organization: org, RoleID: roleAdmin})
	if !ok {
		t.Error("superuser may grant any role")
	}
}

// Any requested role carrying a permission outside the actor's union is refused.
func TestEscalationGuard_SubsetProperty(t *testing.T) {
	c, grants, _ := newTestController()
	ctx := context.Background()
	roles := c.roles.(*fakeRoles)
	org := &Node{ID: 7}

	for actor, held := range map[int64]int64{1: roleNurse, 2: roleStaff, 3: roleAdmin} {
		grants.org[actor] = []Grant{{NodeID: 7, RoleID: held}}
		union := map[string]bool{}
		for _, p := range roles.perms[held] {
			union[p] = true
		}
		for requested, rperms := range roles.perms {
			escalates := false
			for _, p := range rperms {
				if !union[p] {
					escalates = true
				}
			}
			ok, err := c.Can(ctx, CanManageOrganizationUsers, &User{ID: actor}, Args{Organization: org, RoleID: requested})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if escalates && ok {
				t.Errorf("actor role %d granted escalating role %d", held, requested)
			}
		}
	}
}

func TestCanWriteUserSchedule(t *testing.T) {
	c, grants, _ := newTestController()
	ctx := context.Background()
	// Doctor 8 sits in dept 31 under root 30; admin 2 is bound at the root.
	grants.facility[8] = []facilityGrant{{facilityID: 1, Grant: Grant{NodeID: 31, RoleID: roleStaff, Chain: []int64{30, 31}}}}
	grants.facility[2] = []facilityGrant{{facilityID: 1, Grant: Grant{NodeID: 30, RoleID: roleAdmin, Chain: []int64{30}}}}
	grants.facility[6] = []facilityGrant{{facilityID: 1, Grant: Grant{NodeID: 32, RoleID: roleAdmin, Chain: []int64{30, 32}}}}

	ok, _ := c.Can(ctx, CanWriteUserSchedule, &User{ID: 2}, Args{FacilityID: 1, ScheduleUserID: 8})
	if !ok {
		t.Error("admin on an ancestor should write the schedule")
	}
	ok, _ = c.Can(ctx, CanWriteUserSchedule, &User{ID: 6}, Args{FacilityID: 1, ScheduleUserID: 8})
	if ok {
		t.Error("admin of a sibling department must not write the schedule")
	}
	ok, _ = c.Can(ctx, CanWriteUserSchedule, &User{ID: 2}, Args{FacilityID: 1, ScheduleUserID: 77})
	if ok {
		t.Error("schedules of non-members are not writable")
	}
}

func TestPatientActions(t *testing.T) {
	c, grants, _ := newTestController()
	ctx := context.Background()
	p := &Patient{ID: 4, OrganizationCache: []int64{1, 2, 3}}
	grants.org[10] = []Grant{{NodeID: 3, RoleID: roleVolunteer}}

	if ok, _ := c.Can(ctx, CanViewPatient, &User{ID: 10}, Args{Patient: p}); !ok {
		t.Error("volunteer in the patient's organization should view the patient")
	}
	if ok, _ := c.Can(ctx, CanWritePatient, &User{ID: 10}, Args{Patient: p}); ok {
		t.Error("volunteer must not write the patient")
	}
	if ok, _ := c.Can(ctx, CanViewPatient, &User{ID: 11}, Args{Patient: p}); ok {
		t.Error("unbound user must not view the patient")
	}
}

func TestQueries(t *testing.T) {
	c, grants, _ := newTestController()
	ctx := context.Background()
	grants.org[5] = []Grant{{NodeID: 1, RoleID: roleVolunteer}, {NodeID: 2, RoleID: roleAdmin}}
	grants.facility[5] = []facilityGrant{
		{facilityID: 1, Grant: Grant{NodeID: 10, RoleID: roleNurse}},
		{facilityID: 1, Grant: Grant{NodeID: 11, RoleID: roleVolunteer}},
		{facilityID: 2, Grant: Grant{NodeID: 20, RoleID: roleNurse}},
	}
	u := &User{ID: 5}

	s, err := c.Filter(ctx, GetFilteredEncounters, u, Args{FacilityID: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Unrestricted || len(s.IDs) != 1 || s.IDs[0] != 10 {
		t.Errorf("unexpected encounter scope %+v", s)
	}

	s, _ = c.Filter(ctx, GetFilteredPatients, u, Args{})
	if len(s.IDs) != 2 || s.UserID != 5 {
		t.Errorf("unexpected patient scope %+v", s)
	}

	s, _ = c.Filter(ctx, GetAccessibleOrganizations, u, Args{})
	if len(s.IDs) != 2 || len(s.MemberIDs) != 2 {
		t.Errorf("unexpected organization scope %+v", s)
	}

	s, _ = c.Filter(ctx, GetFilteredPatients, &User{ID: 1, IsSuperuser: true}, Args{})
	if !s.Unrestricted {
		t.Error("superuser scope must be unrestricted")
	}
	if !(Scope{}).Empty() {
		t.Error("zero scope must be empty")
	}
}
