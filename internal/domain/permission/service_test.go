package permission

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/care/emr/internal/platform/apperr"
	"github.com/care/emr/internal/platform/cache"
	"github.com/care/emr/internal/platform/db/dbtest"
)

// -- Mock Repository --

type mockRepo struct {
	perms     map[string]*Permission
	roles     map[int64]*Role
	bindings  map[int64]map[string]bool
	nextID    int64
	loadCalls int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		perms:    make(map[string]*Permission),
		roles:    make(map[int64]*Role),
		bindings: make(map[int64]map[string]bool),
	}
}

func (m *mockRepo) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *mockRepo) UpsertPermission(_ context.Context, p *Permission) error {
	if existing, ok := m.perms[p.Slug]; ok {
		p.ID = existing.ID
	} else {
		p.ID = m.id()
	}
	m.perms[p.Slug] = p
	return nil
}

func (m *mockRepo) ListPermissions(_ context.Context) ([]*Permission, error) {
	var out []*Permission
	for _, p := range m.perms {
		out = append(out, p)
	}
	return out, nil
}

func (m *mockRepo) CreateRole(_ context.Context, ro *Role) error {
	for _, existing := range m.roles {
		if existing.Name == ro.Name {
			return apperr.Conflict("a role with this name already exists")
		}
	}
	ro.ID = m.id()
	ro.ExternalID = uuid.New()
	m.roles[ro.ID] = ro
	return nil
}

func (m *mockRepo) UpsertSystemRole(_ context.Context, ro *Role) error {
	for _, existing := range m.roles {
		if existing.Name == ro.Name {
			existing.IsSystem = true
			existing.Description = ro.Description
			*ro = *existing
			return nil
		}
	}
	ro.ID = m.id()
	ro.ExternalID = uuid.New()
	ro.IsSystem = true
	m.roles[ro.ID] = ro
	return nil
}

func (m *mockRepo) GetRole(_ context.Context, id int64) (*Role, error) {
	ro, ok := m.roles[id]
	if !ok {
		return nil, apperr.NotFound("role")
	}
	return ro, nil
}

func (m *mockRepo) GetRoleByExternalID(_ context.Context, id uuid.UUID) (*Role, error) {
	for _, ro := range m.roles {
		if ro.ExternalID == id {
			return ro, nil
		}
	}
	return nil, apperr.NotFound("role")
}

func (m *mockRepo) GetRoleByName(_ context.Context, name string) (*Role, error) {
	for _, ro := range m.roles {
		if ro.Name == name {
			return ro, nil
		}
	}
	return nil, apperr.NotFound("role")
}

func (m *mockRepo) UpdateRole(_ context.Context, ro *Role) error {
	m.roles[ro.ID] = ro
	return nil
}

func (m *mockRepo) DeleteRole(_ context.Context, id int64) error {
	delete(m.roles, id)
	delete(m.bindings, id)
	return nil
}

func (m *mockRepo) ListRoles(_ context.Context, limit, offset int) ([]*Role, int, error) {
	var out []*Role
	for _, ro := range m.roles {
		out = append(out, ro)
	}
	return out, len(out), nil
}

func (m *mockRepo) RolePermissions(_ context.Context, roleID int64) ([]string, error) {
	m.loadCalls++
	var out []string
	for slug := range m.bindings[roleID] {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out, nil
}

func (m *mockRepo) AddRolePermissions(_ context.Context, roleID int64, slugs []string) error {
	if m.bindings[roleID] == nil {
		m.bindings[roleID] = make(map[string]bool)
	}
	for _, s := range slugs {
		m.bindings[roleID][s] = true
	}
	return nil
}

func (m *mockRepo) ReplaceRolePermissions(ctx context.Context, roleID int64, slugs []string) error {
	m.bindings[roleID] = nil
	return m.AddRolePermissions(ctx, roleID, slugs)
}

func (m *mockRepo) RolesGranting(_ context.Context, slugs []string) ([]int64, error) {
	var out []int64
	for roleID, set := range m.bindings {
		for _, s := range slugs {
			if set[s] {
				out = append(out, roleID)
				break
			}
		}
	}
	return out, nil
}

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	svc := NewService(repo, cache.NewMemoryKV(128), dbtest.NewTransactor(), time.Hour, zerolog.Nop())
	return svc, repo
}

func TestLookupPermission(t *testing.T) {
	d, err := LookupPermission(CanManageOrganizationUsers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Context != ContextOrganization {
		t.Errorf("expected ORGANIZATION context, got %s", d.Context)
	}
	if _, err := LookupPermission("can_fly"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestCatalog_UniqueSlugsAndKnownRoles(t *testing.T) {
	known := map[string]bool{}
	for _, r := range SystemRoles {
		known[r.Name] = true
	}
	seen := map[string]bool{}
	for _, d := range Catalog {
		if seen[d.Slug] {
			t.Errorf("duplicate slug %s", d.Slug)
		}
		seen[d.Slug] = true
		for _, r := range d.Roles {
			if !known[r] {
				t.Errorf("%s references unknown role %q", d.Slug, r)
			}
		}
	}
}

func TestSeed_IdempotentAndKeepsUserBindings(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	res, err := svc.Seed(ctx)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if res.Roles != len(SystemRoles) || res.Permissions != len(Catalog) {
		t.Errorf("unexpected seed result %+v", res)
	}

	volunteer, _ := repo.GetRoleByName(ctx, RoleVolunteer)
	repo.AddRolePermissions(ctx, volunteer.ID, []string{CanCreateAppointment})

	if _, err := svc.Seed(ctx); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if len(repo.roles) != len(SystemRoles) {
		t.Errorf("expected %d roles after reseed, got %d", len(SystemRoles), len(repo.roles))
	}
	if !repo.bindings[volunteer.ID][CanCreateAppointment] {
		t.Error("reseed removed a user-added binding")
	}
}

func TestPermissionsOf_ReadThroughAndInvalidate(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	ro := &Role{Name: "Pharmacist", Permissions: []string{CanListPatients}}
	if err := svc.CreateRole(ctx, ro); err != nil {
		t.Fatalf("create role: %v", err)
	}
	repo.loadCalls = 0

	for i := 0; i < 3; i++ {
		slugs, err := svc.PermissionsOf(ctx, ro.ID)
		if err != nil {
			t.Fatalf("PermissionsOf: %v", err)
		}
		if len(slugs) != 1 || slugs[0] != CanListPatients {
			t.Fatalf("unexpected slugs %v", slugs)
		}
	}
	if repo.loadCalls != 1 {
		t.Errorf("expected one repository load, got %d", repo.loadCalls)
	}

	if _, err := svc.UpdateRole(ctx, ro.ExternalID, "", "", []string{CanListPatients, CanWritePatient}); err != nil {
		t.Fatalf("update role: %v", err)
	}
	slugs, _ := svc.PermissionsOf(ctx, ro.ID)
	if len(slugs) != 2 {
		t.Errorf("expected invalidated cache to serve 2 permissions, got %v", slugs)
	}
}

func TestPermissionsOf_SkipsCacheInsideUnitOfWork(t *testing.T) {
	repo := newMockRepo()
	kv := cache.NewMemoryKV(128)
	tr := dbtest.NewTransactor()
	svc := NewService(repo, kv, tr, time.Hour, zerolog.Nop())
	ctx := context.Background()

	ro := &Role{Name: "Pharmacist", Permissions: []string{CanListPatients}}
	if err := svc.CreateRole(ctx, ro); err != nil {
		t.Fatalf("create role: %v", err)
	}

	err := tr.InTx(ctx, func(ctx context.Context) error {
		if _, err := svc.PermissionsOf(ctx, ro.ID); err != nil {
			return err
		}
		_, err := kv.Get(ctx, cacheKey(ro.ID))
		if !errors.Is(err, cache.ErrMiss) {
			t.Errorf("permission set cached inside a unit of work: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.PermissionsOf(ctx, ro.ID); err != nil {
		t.Fatalf("PermissionsOf: %v", err)
	}
	if _, err := kv.Get(ctx, cacheKey(ro.ID)); err != nil {
		t.Errorf("expected cache fill outside a unit of work: %v", err)
	}
}

func TestInvalidate_WaitsForOuterCommit(t *testing.T) {
	repo := newMockRepo()
	kv := cache.NewMemoryKV(128)
	tr := dbtest.NewTransactor()
	svc := NewService(repo, kv, tr, time.Hour, zerolog.Nop())
	ctx := context.Background()

	ro := &Role{Name: "Pharmacist", Permissions: []string{CanListPatients}}
	if err := svc.CreateRole(ctx, ro); err != nil {
		t.Fatalf("create role: %v", err)
	}
	if _, err := svc.PermissionsOf(ctx, ro.ID); err != nil {
		t.Fatalf("PermissionsOf: %v", err)
	}

	rollback := errors.New("rollback")
	err := tr.InTx(ctx, func(ctx context.Context) error {
		if _, err := svc.UpdateRole(ctx, ro.ExternalID, "", "", []string{CanWritePatient}); err != nil {
			return err
		}
		if _, err := kv.Get(ctx, cacheKey(ro.ID)); err != nil {
			t.Errorf("cache entry dropped before the outer commit: %v", err)
		}
		return rollback
	})
	if !errors.Is(err, rollback) {
		t.Fatalf("expected rollback, got %v", err)
	}
	if _, err := kv.Get(ctx, cacheKey(ro.ID)); err != nil {
		t.Errorf("rolled back unit must not invalidate: %v", err)
	}

	err = tr.InTx(ctx, func(ctx context.Context) error {
		_, err := svc.UpdateRole(ctx, ro.ExternalID, "", "", []string{CanWritePatient})
		return err
	})
	if err != nil {
		t.Fatalf("update role: %v", err)
	}
	if _, err := kv.Get(ctx, cacheKey(ro.ID)); !errors.Is(err, cache.ErrMiss) {
		t.Errorf("expected invalidation after commit, got %v", err)
	}
}

func TestRolesGranting(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	svc.Seed(ctx)

	roles, err := svc.RolesGranting(ctx, []string{CanDeleteOrganization})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	names := map[string]bool{}
	for _, id := range roles {
		ro, _ := svc.GetRoleByID(ctx, id)
		names[ro.Name] = true
	}
	if !names[RoleAdmin] || !names[RoleGeoAdmin] || names[RoleNurse] {
		t.Errorf("unexpected granting roles %v", names)
	}
	if got, _ := svc.RolesGranting(ctx, nil); got != nil {
		t.Errorf("expected no roles for empty query, got %v", got)
	}
}

func TestSystemRoles_Immutable(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	svc.Seed(ctx)
	admin, _ := repo.GetRoleByName(ctx, RoleAdmin)

	if err := svc.DeleteRole(ctx, admin.ExternalID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict deleting system role, got %v", err)
	}
	if _, err := svc.UpdateRole(ctx, admin.ExternalID, "", "", []string{CanListPatients}); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict updating system role, got %v", err)
	}
}

func TestCreateRole_UnknownPermission(t *testing.T) {
	svc, _ := newTestService()
	err := svc.CreateRole(context.Background(), &Role{Name: "X", Permissions: []string{"can_fly"}})
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Kind != apperr.KindValidation || len(ae.Errors) != 1 {
		t.Errorf("expected one validation error, got %v", err)
	}
}

func TestPermissionsOf_RedisBacked(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := cache.NewRedisClient("redis://" + mr.Addr())
	require.NoError(t, err)

	repo := newMockRepo()
	svc := NewService(repo, cache.NewRedisKV(client), dbtest.NewTransactor(), 0, zerolog.Nop())
	ctx := context.Background()

	ro := &Role{Name: "Dietician", Permissions: []string{CanViewClinicalData}}
	require.NoError(t, svc.CreateRole(ctx, ro))

	slugs, err := svc.PermissionsOf(ctx, ro.ID)
	require.NoError(t, err)
	require.Equal(t, []string{CanViewClinicalData}, slugs)

	key := "role_permissions:" + strconv.FormatInt(ro.ID, 10)
	require.True(t, mr.Exists(key))
	require.Equal(t, DefaultCacheTTL, mr.TTL(key))

	require.NoError(t, svc.DeleteRole(ctx, ro.ExternalID))
	require.False(t, mr.Exists(key))
}
