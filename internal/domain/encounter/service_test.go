package encounter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/care/emr/internal/domain/authz"
	"github.com/care/emr/internal/domain/authz/authztest"
	"github.com/care/emr/internal/domain/organization"
	"github.com/care/emr/internal/domain/patient"
	"github.com/care/emr/internal/platform/apperr"
	"github.com/care/emr/internal/platform/auth"
	"github.com/care/emr/internal/platform/cache"
	"github.com/care/emr/internal/platform/db/dbtest"
	"github.com/care/emr/internal/platform/taskqueue"
)

// -- Mock Repositories --

type mockRepo struct {
	encounters map[int64]*Encounter
	links      map[int64]map[int64]bool
	orgs       stubOrgs
	nextID     int64
}

func (m *mockRepo) Create(_ context.Context, e *Encounter) error {
	m.nextID++
	e.ID = m.nextID
	e.ExternalID = uuid.New()
	e.CreatedAt = time.Now()
	m.encounters[e.ID] = e
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id int64) (*Encounter, error) {
	if e, ok := m.encounters[id]; ok {
		return e, nil
	}
	return nil, apperr.NotFound("encounter")
}

func (m *mockRepo) GetByExternalID(_ context.Context, id uuid.UUID) (*Encounter, error) {
	for _, e := range m.encounters {
		if e.ExternalID == id {
			return e, nil
		}
	}
	return nil, apperr.NotFound("encounter")
}

func (m *mockRepo) Update(_ context.Context, e *Encounter) error {
	m.encounters[e.ID] = e
	return nil
}

func (m *mockRepo) List(_ context.Context, f Filter) ([]*Encounter, int, error) {
	var out []*Encounter
	for _, e := range m.encounters {
		if e.FacilityID != f.FacilityID || (f.PatientID != 0 && e.PatientID != f.PatientID) {
			continue
		}
		if f.Scope.Unrestricted || overlaps(e.FacilityOrganizationCache, f.Scope.IDs) {
			out = append(out, e)
		}
	}
	return out, len(out), nil
}

func overlaps(a, b []int64) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func (m *mockRepo) AddOrganization(_ context.Context, encounterID, foID int64) error {
	if m.links[encounterID] == nil {
		m.links[encounterID] = map[int64]bool{}
	}
	if m.links[encounterID][foID] {
		return apperr.Conflict("organization is already attached to the encounter")
	}
	m.links[encounterID][foID] = true
	return nil
}

func (m *mockRepo) RemoveOrganization(_ context.Context, encounterID, foID int64) error {
	if !m.links[encounterID][foID] {
		return apperr.NotFound("encounter organization")
	}
	delete(m.links[encounterID], foID)
	return nil
}

func (m *mockRepo) RebuildCache(_ context.Context, e *Encounter) error {
	set := map[int64]bool{}
	for _, o := range m.orgs {
		attached := m.links[e.ID][o.ID]
		root := o.OrgType == organization.TypeRoot && o.FacilityID != nil && *o.FacilityID == e.FacilityID
		if !attached && !root {
			continue
		}
		for _, n := range o.Node().Chain() {
			set[n] = true
		}
	}
	e.FacilityOrganizationCache = []int64{}
	for n := range set {
		e.FacilityOrganizationCache = append(e.FacilityOrganizationCache, n)
	}
	sort.Slice(e.FacilityOrganizationCache, func(i, j int) bool {
		return e.FacilityOrganizationCache[i] < e.FacilityOrganizationCache[j]
	})
	return nil
}

func (m *mockRepo) OpenEncounterCaches(_ context.Context, patientID int64) ([][]int64, error) {
	var out [][]int64
	for _, e := range m.encounters {
		if e.PatientID == patientID && !e.Closed() {
			out = append(out, e.FacilityOrganizationCache)
		}
	}
	return out, nil
}

type stubPatients map[uuid.UUID]*patient.Patient

func (s stubPatients) Resolve(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	if p, ok := s[id]; ok {
		return p, nil
	}
	return nil, apperr.NotFound("patient")
}

func (s stubPatients) GetByID(_ context.Context, id int64) (*patient.Patient, error) {
	for _, p := range s {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, apperr.NotFound("patient")
}

type stubFacilities map[uuid.UUID]int64

func (s stubFacilities) ResolveFacility(_ context.Context, id uuid.UUID) (int64, error) {
	if f, ok := s[id]; ok {
		return f, nil
	}
	return 0, apperr.NotFound("facility")
}

type stubOrgs map[uuid.UUID]*organization.Organization

func (s stubOrgs) Resolve(_ context.Context, tree organization.Tree, id uuid.UUID) (*organization.Organization, error) {
	if o, ok := s[id]; ok && o.Tree == tree {
		return o, nil
	}
	return nil, apperr.NotFound(tree.String())
}

// -- Fixture --

const facilityID = 5

type fixture struct {
	svc      *Service
	repo     *mockRepo
	fx       *authztest.Fixture
	tasks    *taskqueue.MemoryPublisher
	facility uuid.UUID
	patient  *patient.Patient
	root     *organization.Organization
	dept     *organization.Organization
	other    *organization.Organization
}

var superuser = &auth.User{ID: 1, IsSuperuser: true}

func facilityOrg(id int64, typ string, facility int64, parents ...int64) *organization.Organization {
	return &organization.Organization{
		ID: id, ExternalID: uuid.New(), Tree: organization.TreeFacility,
		FacilityID: &facility, OrgType: typ, ParentCache: parents,
	}
}

func newFixture() *fixture {
	f := &fixture{
		fx:       authztest.New(),
		tasks:    taskqueue.NewMemoryPublisher(),
		facility: uuid.New(),
		patient:  &patient.Patient{ID: 300, ExternalID: uuid.New(), Name: "Asha"},
		root:     facilityOrg(50, organization.TypeRoot, facilityID),
		dept:     facilityOrg(60, organization.TypeDept, facilityID, 50),
		other:    facilityOrg(70, organization.TypeDept, facilityID, 50),
	}
	orgs := stubOrgs{}
	for _, o := range []*organization.Organization{f.root, f.dept, f.other} {
		orgs[o.ExternalID] = o
	}
	f.repo = &mockRepo{encounters: map[int64]*Encounter{}, links: map[int64]map[int64]bool{}, orgs: orgs}
	f.svc = NewService(f.repo, stubPatients{f.patient.ExternalID: f.patient}, stubFacilities{f.facility: facilityID},
		orgs, dbtest.NewTransactor(), f.fx.Controller, cache.NewMemoryKV(100), f.tasks, zerolog.Nop())
	return f
}

func (f *fixture) create(t *testing.T, orgs ...uuid.UUID) *Encounter {
	t.Helper()
	e, err := f.svc.Create(context.Background(), superuser, CreateInput{
		Patient: f.patient.ExternalID, Facility: f.facility, EncounterClass: "amb", Organizations: orgs,
	})
	if err != nil {
		t.Fatalf("create encounter: %v", err)
	}
	return e
}

func (f *fixture) bind(userID int64, o *organization.Organization, role int64) *auth.User {
	f.fx.Grants.BindFacilityOrganization(userID, o.Node(), role)
	return &auth.User{ID: userID}
}

// -- Tests --

func TestCreate_BuildsCache(t *testing.T) {
	f := newFixture()
	e := f.create(t, f.dept.ExternalID)

	if e.Status != StatusPlanned {
		t.Errorf("expected default status planned, got %s", e.Status)
	}
	if len(e.FacilityOrganizationCache) != 2 || e.FacilityOrganizationCache[0] != 50 || e.FacilityOrganizationCache[1] != 60 {
		t.Errorf("expected cache [50 60], got %v", e.FacilityOrganizationCache)
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Create(context.Background(), superuser, CreateInput{
		Patient: f.patient.ExternalID, Facility: f.facility, Status: "finished", EncounterClass: "xyz",
	})
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.KindValidation || len(e.Errors) != 2 {
		t.Fatalf("expected two field errors, got %v", err)
	}
}

func TestCreate_RequiresFacilityPermission(t *testing.T) {
	f := newFixture()
	volunteer := f.bind(9, f.dept, authztest.RoleVolunteer)
	_, err := f.svc.Create(context.Background(), volunteer, CreateInput{
		Patient: f.patient.ExternalID, Facility: f.facility, EncounterClass: "amb",
	})
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}

	staff := f.bind(10, f.dept, authztest.RoleStaff)
	if _, err := f.svc.Create(context.Background(), staff, CreateInput{
		Patient: f.patient.ExternalID, Facility: f.facility, EncounterClass: "amb",
	}); err != nil {
		t.Errorf("staff should create encounters: %v", err)
	}
}

func TestCreate_ForeignFacilityOrganization(t *testing.T) {
	f := newFixture()
	foreign := facilityOrg(99, organization.TypeDept, 8)
	f.repo.orgs[foreign.ExternalID] = foreign

	_, err := f.svc.Create(context.Background(), superuser, CreateInput{
		Patient: f.patient.ExternalID, Facility: f.facility, EncounterClass: "amb",
		Organizations: []uuid.UUID{foreign.ExternalID},
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestClosedEncounterGuard(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e := f.create(t, f.dept.ExternalID)
	nurse := f.bind(4, f.dept, authztest.RoleNurse)

	if _, err := f.svc.Update(ctx, nurse, e.ExternalID, UpdateInput{Status: StatusInProgress}); err != nil {
		t.Fatalf("nurse update: %v", err)
	}
	closed, err := f.svc.Update(ctx, nurse, e.ExternalID, UpdateInput{Status: StatusCompleted})
	if err != nil {
		t.Fatalf("complete encounter: %v", err)
	}
	if closed.PeriodEnd == nil {
		t.Error("closing should stamp period_end")
	}

	if _, err := f.svc.Update(ctx, nurse, e.ExternalID, UpdateInput{Status: StatusInProgress}); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict on closed encounter, got %v", err)
	}
	if _, err := f.svc.Update(ctx, superuser, e.ExternalID, UpdateInput{Status: StatusInProgress}); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("superuser writes are rejected on closed encounters too, got %v", err)
	}
	if _, err := f.svc.AddOrganization(ctx, nurse, e.ExternalID, f.other.ExternalID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict on organizations_add, got %v", err)
	}

	if _, err := f.svc.Get(ctx, nurse, e.ExternalID); err != nil {
		t.Errorf("reads stay allowed on closed encounters: %v", err)
	}
}

func TestUpdate_OutsideCacheForbidden(t *testing.T) {
	f := newFixture()
	e := f.create(t, f.dept.ExternalID)
	doctor := f.bind(6, f.other, authztest.RoleDoctor)

	if _, err := f.svc.Update(context.Background(), doctor, e.ExternalID, UpdateInput{Status: StatusInProgress}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}

	// Attaching the doctor's department brings the encounter into reach.
	if _, err := f.svc.AddOrganization(context.Background(), superuser, e.ExternalID, f.other.ExternalID); err != nil {
		t.Fatalf("organizations_add: %v", err)
	}
	if _, err := f.svc.Update(context.Background(), doctor, e.ExternalID, UpdateInput{Status: StatusInProgress}); err != nil {
		t.Errorf("expected update after attach, got %v", err)
	}

	if _, err := f.svc.RemoveOrganization(context.Background(), superuser, e.ExternalID, f.other.ExternalID); err != nil {
		t.Fatalf("organizations_remove: %v", err)
	}
	for _, n := range e.FacilityOrganizationCache {
		if n == f.other.ID {
			t.Errorf("cache should drop the removed department, got %v", e.FacilityOrganizationCache)
		}
	}
}

func TestList_Filtered(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	inDept := f.create(t, f.dept.ExternalID)
	f.create(t, f.other.ExternalID)

	staff := f.bind(10, f.dept, authztest.RoleStaff)
	list, total, err := f.svc.List(ctx, staff, f.facility, nil, Filter{Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || list[0].ID != inDept.ID {
		t.Errorf("expected only the department's encounter, got %d", total)
	}

	outsider := &auth.User{ID: 77}
	list, _, err = f.svc.List(ctx, outsider, f.facility, nil, Filter{Limit: 10})
	if err != nil || len(list) != 0 {
		t.Errorf("expected empty list, got %d (%v)", len(list), err)
	}
}

func TestList_ClinicalAccessToPatient(t *testing.T) {
	f := newFixture()
	f.create(t, f.dept.ExternalID)
	f.create(t, f.other.ExternalID)

	team := &organization.Organization{ID: 20, ExternalID: uuid.New(), OrgType: organization.TypeTeam}
	f.patient.OrganizationCache = []int64{team.ID}
	doctor := &auth.User{ID: 12}
	f.fx.Grants.BindOrganization(doctor.ID, team.Node(), authztest.RoleDoctor)

	patientID := f.patient.ExternalID
	list, _, err := f.svc.List(context.Background(), doctor, f.facility, &patientID, Filter{Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("clinical access should open every encounter of the patient, got %d", len(list))
	}
}

func TestOpenEncounterCachesFeedPatientRoles(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e := f.create(t, f.dept.ExternalID)
	nurse := f.bind(4, f.dept, authztest.RoleNurse)

	ctrl := authz.NewController(f.fx.Roles, f.fx.Grants, f.repo, zerolog.Nop())
	view := &authz.Patient{ID: f.patient.ID}
	if ok, _ := ctrl.Can(ctx, authz.CanViewClinicalData, nurse, authz.Args{Patient: view}); !ok {
		t.Error("nurse on an open encounter's department should see clinical data")
	}

	f.svc.Update(ctx, superuser, e.ExternalID, UpdateInput{Status: StatusDischarged})
	f.svc.Update(ctx, superuser, e.ExternalID, UpdateInput{Status: StatusCompleted})
	if ok, _ := ctrl.Can(ctx, authz.CanViewClinicalData, nurse, authz.Args{Patient: view}); ok {
		t.Error("closed encounters must not grant patient access")
	}
}

func TestGenerateDischargeSummary_Lock(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e := f.create(t, f.dept.ExternalID)
	doctor := f.bind(6, f.dept, authztest.RoleDoctor)

	if err := f.svc.GenerateDischargeSummary(ctx, doctor, e.ExternalID); err != nil {
		t.Fatalf("generate: %v", err)
	}
	tasks := f.tasks.Tasks()
	if len(tasks) != 1 || tasks[0].Task != taskqueue.TaskGenerateDischargeSummary {
		t.Fatalf("expected one generate task, got %+v", tasks)
	}
	if !strings.Contains(string(tasks[0].Payload), e.ExternalID.String()) {
		t.Errorf("payload should carry the encounter id: %s", tasks[0].Payload)
	}

	if err := f.svc.SetDischargeSummaryProgress(ctx, e.ExternalID, 40); err != nil {
		t.Fatalf("set progress: %v", err)
	}
	err := f.svc.GenerateDischargeSummary(ctx, doctor, e.ExternalID)
	locked, ok := apperr.As(err)
	if !ok || locked.Kind != apperr.KindLocked {
		t.Fatalf("expected LOCKED, got %v", err)
	}
	if locked.Details["progress"] != 40 {
		t.Errorf("expected progress 40, got %v", locked.Details["progress"])
	}

	// Completion releases the lock.
	if err := f.svc.SetDischargeSummaryProgress(ctx, e.ExternalID, 100); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := f.svc.GenerateDischargeSummary(ctx, doctor, e.ExternalID); err != nil {
		t.Errorf("expected a new generation after completion, got %v", err)
	}
}

func TestGenerateDischargeSummary_ReleasesOnEnqueueFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e := f.create(t)
	f.tasks.Err = errors.New("queue down")

	if err := f.svc.GenerateDischargeSummary(ctx, superuser, e.ExternalID); err == nil {
		t.Fatal("expected enqueue error")
	}
	_, running, err := f.svc.DischargeSummaryProgress(ctx, superuser, e.ExternalID)
	if err != nil || running {
		t.Errorf("lock should be released after a failed enqueue (running=%v, err=%v)", running, err)
	}
}

type panickingPublisher struct{}

func (panickingPublisher) Enqueue(context.Context, string, interface{}) error {
	panic("publisher closed")
}

func TestGenerateDischargeSummary_ReleasesOnEnqueuePanic(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e := f.create(t)
	f.svc.tasks = panickingPublisher{}

	func() {
		defer func() {
			if p := recover(); p == nil {
				t.Error("expected the panic to propagate")
			}
		}()
		f.svc.GenerateDischargeSummary(ctx, superuser, e.ExternalID)
	}()

	_, running, err := f.svc.DischargeSummaryProgress(ctx, superuser, e.ExternalID)
	if err != nil || running {
		t.Errorf("lock should be released after a panicking enqueue (running=%v, err=%v)", running, err)
	}
}

func TestEmailDischargeSummary(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e := f.create(t)

	err := f.svc.EmailDischargeSummary(ctx, superuser, e.ExternalID, EmailRequest{FileID: uuid.New(), Recipients: []string{"not-an-email"}})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if err := f.svc.EmailDischargeSummary(ctx, superuser, e.ExternalID, EmailRequest{FileID: uuid.New(), Recipients: []string{"ward@example.org"}}); err != nil {
		t.Fatalf("email: %v", err)
	}
	tasks := f.tasks.Tasks()
	if len(tasks) != 1 || tasks[0].Task != taskqueue.TaskEmailDischargeSummary {
		t.Errorf("expected one email task, got %+v", tasks)
	}
}

func TestHandler_Create(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()

	body := `{"patient":"` + f.patient.ExternalID.String() + `","facility":"` + f.facility.String() + `","encounter_class":"imp"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/encounter", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithUser(req.Context(), superuser))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"encounter_class":"imp"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_ListRequiresFacility(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/encounter", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.List(c); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}
