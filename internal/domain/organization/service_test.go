package organization

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/care/emr/internal/domain/authz"
	"github.com/care/emr/internal/domain/authz/authztest"
	"github.com/care/emr/internal/platform/apperr"
	"github.com/care/emr/internal/platform/auth"
	"github.com/care/emr/internal/platform/db/dbtest"
)

// -- Mock Repository --

type mockRepo struct {
	nodes      map[int64]*Organization
	nextID     int64
	chainSaves int
}

func newMockRepo() *mockRepo {
	return &mockRepo{nodes: make(map[int64]*Organization)}
}

func (m *mockRepo) Create(_ context.Context, o *Organization) error {
	m.nextID++
	o.ID = m.nextID
	if o.ExternalID == uuid.Nil {
		o.ExternalID = uuid.New()
	}
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	m.nodes[o.ID] = o
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, tree Tree, id int64) (*Organization, error) {
	if o, ok := m.nodes[id]; ok && o.Tree == tree {
		return o, nil
	}
	return nil, apperr.NotFound(tree.String())
}

func (m *mockRepo) GetByExternalID(_ context.Context, tree Tree, id uuid.UUID) (*Organization, error) {
	for _, o := range m.nodes {
		if o.ExternalID == id && o.Tree == tree {
			return o, nil
		}
	}
	return nil, apperr.NotFound(tree.String())
}

func (m *mockRepo) GetRoot(_ context.Context, facilityID int64) (*Organization, error) {
	for _, o := range m.nodes {
		if o.Tree == TreeFacility && o.OrgType == TypeRoot && *o.FacilityID == facilityID {
			return o, nil
		}
	}
	return nil, apperr.NotFound("facility organization")
}

func (m *mockRepo) Update(_ context.Context, o *Organization) error {
	m.nodes[o.ID] = o
	return nil
}

func (m *mockRepo) SetHasChildren(_ context.Context, _ Tree, id int64, hasChildren bool) error {
	m.nodes[id].HasChildren = hasChildren
	return nil
}

func (m *mockRepo) CountChildren(_ context.Context, _ Tree, id int64) (int, error) {
	n := 0
	for _, o := range m.nodes {
		if o.ParentID != nil && *o.ParentID == id {
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) NameTaken(_ context.Context, o *Organization, excludeID int64) (bool, error) {
	for _, other := range m.nodes {
		if other.ID == excludeID || other.Tree != o.Tree || other.Name != o.Name || other.LevelCache != o.LevelCache {
			continue
		}
		if ptrEq(other.RootOrgID, o.RootOrgID) && ptrEq(other.FacilityID, o.FacilityID) {
			return true, nil
		}
	}
	return false, nil
}

func ptrEq(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (m *mockRepo) Delete(_ context.Context, _ Tree, id int64) error {
	for nid, o := range m.nodes {
		if nid == id {
			delete(m.nodes, nid)
			continue
		}
		for _, p := range o.ParentCache {
			if p == id {
				delete(m.nodes, nid)
			}
		}
	}
	return nil
}

func (m *mockRepo) List(_ context.Context, f Filter) ([]*Organization, int, error) {
	var out []*Organization
	for _, o := range m.nodes {
		if o.Tree != f.Tree {
			continue
		}
		if f.ParentID != nil && (o.ParentID == nil || *o.ParentID != *f.ParentID) {
			continue
		}
		if !f.Scope.Unrestricted && !inScope(o, f.Scope) {
			continue
		}
		out = append(out, o)
	}
	return out, len(out), nil
}

func inScope(o *Organization, s authz.Scope) bool {
	if o.Tree == TreeOrganization && o.OrgType == TypeGovt {
		return true
	}
	for _, id := range append(append([]int64{}, s.IDs...), s.MemberIDs...) {
		if o.ID == id {
			return true
		}
	}
	for _, id := range s.IDs {
		for _, p := range o.ParentCache {
			if p == id {
				return true
			}
		}
	}
	return false
}

func (m *mockRepo) ListByIDs(_ context.Context, _ Tree, ids []int64) ([]*Organization, error) {
	var out []*Organization
	for _, id := range ids {
		if o, ok := m.nodes[id]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *mockRepo) SaveParentChain(_ context.Context, _ Tree, id int64, chain json.RawMessage, at time.Time) error {
	m.chainSaves++
	return nil
}

// -- Helpers --

var superuser = &auth.User{ID: 1, Username: "admin", IsSuperuser: true}

func newTestService() (*Service, *mockRepo, *authztest.Fixture) {
	repo := newMockRepo()
	fx := authztest.New()
	svc := NewService(repo, dbtest.NewTransactor(), fx.Controller, time.Hour, zerolog.Nop())
	return svc, repo, fx
}

func mustCreate(t *testing.T, svc *Service, actor *auth.User, in CreateInput) *Organization {
	t.Helper()
	o, err := svc.Create(context.Background(), actor, in)
	if err != nil {
		t.Fatalf("create %s: %v", in.Name, err)
	}
	return o
}

func ref(id uuid.UUID) *uuid.UUID { return &id }

// -- Tests --

func TestCreate_TreeCaches(t *testing.T) {
	svc, repo, _ := newTestService()
	state := mustCreate(t, svc, superuser, CreateInput{Name: "Kerala", OrgType: TypeGovt})
	district := mustCreate(t, svc, superuser, CreateInput{Name: "Ernakulam", OrgType: TypeGovt, Parent: ref(state.ExternalID)})
	ward := mustCreate(t, svc, superuser, CreateInput{Name: "Ward 1", OrgType: TypeGovt, Parent: ref(district.ExternalID)})

	if state.LevelCache != 0 || len(state.ParentCache) != 0 || state.RootOrgID != nil {
		t.Errorf("unexpected root caches: %+v", state)
	}
	if ward.LevelCache != 2 {
		t.Errorf("expected level 2, got %d", ward.LevelCache)
	}
	if len(ward.ParentCache) != 2 || ward.ParentCache[0] != state.ID || ward.ParentCache[1] != district.ID {
		t.Errorf("unexpected parent cache %v", ward.ParentCache)
	}
	if ward.RootOrgID == nil || *ward.RootOrgID != state.ID {
		t.Errorf("expected root %d, got %v", state.ID, ward.RootOrgID)
	}
	if !repo.nodes[state.ID].HasChildren || !repo.nodes[district.ID].HasChildren {
		t.Error("parents should be flagged as having children")
	}
	if ward.HasChildren {
		t.Error("leaf should not have children")
	}
}

func TestCreate_RootRequiresSuperuser(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.Create(context.Background(), &auth.User{ID: 5}, CreateInput{Name: "X", OrgType: TypeTeam})
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestCreate_ChildWithPermission(t *testing.T) {
	svc, _, fx := newTestService()
	root := mustCreate(t, svc, superuser, CreateInput{Name: "State", OrgType: TypeGovt})
	geoAdmin := &auth.User{ID: 7}
	fx.Grants.BindOrganization(geoAdmin.ID, root.Node(), authztest.RoleGeoAdmin)

	child := mustCreate(t, svc, geoAdmin, CreateInput{Name: "District", OrgType: TypeGovt, Parent: ref(root.ExternalID)})
	if child.LevelCache != 1 {
		t.Errorf("expected level 1, got %d", child.LevelCache)
	}

	volunteer := &auth.User{ID: 8}
	fx.Grants.BindOrganization(volunteer.ID, root.Node(), authztest.RoleVolunteer)
	_, err := svc.Create(context.Background(), volunteer, CreateInput{Name: "Other", OrgType: TypeGovt, Parent: ref(root.ExternalID)})
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestCreate_InvalidType(t *testing.T) {
	svc, _, _ := newTestService()
	for _, typ := range []string{"", TypeRoot, "hospital"} {
		_, err := svc.Create(context.Background(), superuser, CreateInput{Name: "X", OrgType: typ})
		if !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("org_type %q: expected validation error, got %v", typ, err)
		}
	}
}

func TestCreate_DuplicateNameConflict(t *testing.T) {
	svc, _, _ := newTestService()
	root := mustCreate(t, svc, superuser, CreateInput{Name: "State", OrgType: TypeGovt})
	mustCreate(t, svc, superuser, CreateInput{Name: "District", OrgType: TypeGovt, Parent: ref(root.ExternalID)})

	_, err := svc.Create(context.Background(), superuser, CreateInput{Name: "District", OrgType: TypeGovt, Parent: ref(root.ExternalID)})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	// Same name under a different root is fine.
	other := mustCreate(t, svc, superuser, CreateInput{Name: "Other State", OrgType: TypeGovt})
	mustCreate(t, svc, superuser, CreateInput{Name: "District", OrgType: TypeGovt, Parent: ref(other.ExternalID)})
}

func TestFacilityTree(t *testing.T) {
	svc, _, fx := newTestService()
	ctx := context.Background()
	root, err := svc.CreateRoot(ctx, 3, "General Hospital")
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	if root.OrgType != TypeRoot || !root.SystemGenerated {
		t.Errorf("unexpected root %+v", root)
	}

	admin := &auth.User{ID: 4}
	fx.Grants.BindFacilityOrganization(admin.ID, root.Node(), authztest.RoleFacilityAdmin)

	dept := mustCreate(t, svc, admin, CreateInput{Tree: TreeFacility, FacilityID: 3, Name: "Cardiology", OrgType: TypeDept})
	if dept.ParentID == nil || *dept.ParentID != root.ID {
		t.Errorf("department should default under the facility root")
	}
	if *dept.FacilityID != 3 {
		t.Errorf("expected facility 3, got %d", *dept.FacilityID)
	}

	otherRoot, _ := svc.CreateRoot(ctx, 9, "Clinic")
	_, err = svc.Create(ctx, admin, CreateInput{Tree: TreeFacility, FacilityID: 3, Name: "X", OrgType: TypeTeam, Parent: ref(otherRoot.ExternalID)})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for foreign parent, got %v", err)
	}

	if err := svc.Delete(ctx, superuser, TreeFacility, root.ExternalID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict deleting the root, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	svc, repo, fx := newTestService()
	ctx := context.Background()
	root := mustCreate(t, svc, superuser, CreateInput{Name: "Root", OrgType: TypeTeam})
	mid := mustCreate(t, svc, superuser, CreateInput{Name: "Mid", OrgType: TypeTeam, Parent: ref(root.ExternalID)})
	leaf := mustCreate(t, svc, superuser, CreateInput{Name: "Leaf", OrgType: TypeTeam, Parent: ref(mid.ExternalID)})

	facilityAdmin := &auth.User{ID: 10}
	fx.Grants.BindOrganization(facilityAdmin.ID, root.Node(), authztest.RoleFacilityAdmin)

	// Facility Admin may write but not cascade-delete.
	if err := svc.Delete(ctx, facilityAdmin, TreeOrganization, mid.ExternalID); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict for non-leaf, got %v", err)
	}
	if err := svc.Delete(ctx, facilityAdmin, TreeOrganization, leaf.ExternalID); err != nil {
		t.Fatalf("leaf delete: %v", err)
	}
	if repo.nodes[mid.ID].HasChildren {
		t.Error("parent should lose has_children after its last child is removed")
	}

	mustCreate(t, svc, superuser, CreateInput{Name: "Leaf 2", OrgType: TypeTeam, Parent: ref(mid.ExternalID)})
	admin := &auth.User{ID: 11}
	fx.Grants.BindOrganization(admin.ID, root.Node(), authztest.RoleAdmin)
	if err := svc.Delete(ctx, admin, TreeOrganization, mid.ExternalID); err != nil {
		t.Fatalf("cascade delete: %v", err)
	}
	if len(repo.nodes) != 1 {
		t.Errorf("expected only the root to remain, got %d nodes", len(repo.nodes))
	}
}

func TestDelete_SystemGeneratedWithChildren(t *testing.T) {
	svc, repo, _ := newTestService()
	root := mustCreate(t, svc, superuser, CreateInput{Name: "Root", OrgType: TypeRole})
	repo.nodes[root.ID].SystemGenerated = true
	mustCreate(t, svc, superuser, CreateInput{Name: "Child", OrgType: TypeRole, Parent: ref(root.ExternalID)})

	err := svc.Delete(context.Background(), superuser, TreeOrganization, root.ExternalID)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestUpdate_RenameConflict(t *testing.T) {
	svc, _, _ := newTestService()
	root := mustCreate(t, svc, superuser, CreateInput{Name: "Root", OrgType: TypeTeam})
	mustCreate(t, svc, superuser, CreateInput{Name: "A", OrgType: TypeTeam, Parent: ref(root.ExternalID)})
	b := mustCreate(t, svc, superuser, CreateInput{Name: "B", OrgType: TypeTeam, Parent: ref(root.ExternalID)})

	name := "A"
	_, err := svc.Update(context.Background(), superuser, TreeOrganization, b.ExternalID, UpdateInput{Name: &name})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	name = "C"
	o, err := svc.Update(context.Background(), superuser, TreeOrganization, b.ExternalID, UpdateInput{Name: &name})
	if err != nil || o.Name != "C" {
		t.Fatalf("rename failed: %v", err)
	}
}

func TestGetParentChainJSON(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	state := mustCreate(t, svc, superuser, CreateInput{Name: "State", OrgType: TypeGovt})
	district := mustCreate(t, svc, superuser, CreateInput{Name: "District", OrgType: TypeGovt, Parent: ref(state.ExternalID)})
	ward := mustCreate(t, svc, superuser, CreateInput{Name: "Ward", OrgType: TypeGovt, Parent: ref(district.ExternalID)})

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	raw, err := svc.GetParentChainJSON(ctx, ward)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var chain struct {
		Name   string `json:"name"`
		Parent *struct {
			Name string `json:"name"`
		} `json:"parent"`
	}
	if err := json.Unmarshal(raw, &chain); err != nil {
		t.Fatalf("decode chain: %v", err)
	}
	if chain.Name != "District" || chain.Parent == nil || chain.Parent.Name != "State" {
		t.Errorf("unexpected chain %s", raw)
	}

	if _, err := svc.GetParentChainJSON(ctx, ward); err != nil {
		t.Fatal(err)
	}
	if repo.chainSaves != 1 {
		t.Errorf("expected memoized chain, got %d saves", repo.chainSaves)
	}

	now = now.Add(2 * time.Hour)
	if _, err := svc.GetParentChainJSON(ctx, ward); err != nil {
		t.Fatal(err)
	}
	if repo.chainSaves != 2 {
		t.Errorf("expected refresh after expiry, got %d saves", repo.chainSaves)
	}

	rootChain, _ := svc.GetParentChainJSON(ctx, state)
	if string(rootChain) != "{}" {
		t.Errorf("root chain should be empty, got %s", rootChain)
	}
}

func TestList_AccessibleOrganizations(t *testing.T) {
	svc, _, fx := newTestService()
	ctx := context.Background()
	govt := mustCreate(t, svc, superuser, CreateInput{Name: "State", OrgType: TypeGovt})
	team := mustCreate(t, svc, superuser, CreateInput{Name: "Team", OrgType: TypeTeam})
	sub := mustCreate(t, svc, superuser, CreateInput{Name: "Sub", OrgType: TypeTeam, Parent: ref(team.ExternalID)})
	mustCreate(t, svc, superuser, CreateInput{Name: "Hidden", OrgType: TypeTeam})

	u := &auth.User{ID: 20}
	fx.Grants.BindOrganization(u.ID, team.Node(), authztest.RoleStaff)

	nodes, total, err := svc.List(ctx, u, Filter{Tree: TreeOrganization, Limit: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seen := map[int64]bool{}
	for _, n := range nodes {
		seen[n.ID] = true
	}
	if total != 3 || !seen[govt.ID] || !seen[team.ID] || !seen[sub.ID] {
		t.Errorf("unexpected listing %v", seen)
	}

	all, _, _ := svc.List(ctx, superuser, Filter{Tree: TreeOrganization, Limit: 10})
	if len(all) != 4 {
		t.Errorf("superuser should see all 4 nodes, got %d", len(all))
	}
}
