// Package encounter manages encounters, their facility organization cache,
// the closed-encounter guard and discharge summary requests.
package encounter

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/care/emr/internal/domain/authz"
	"github.com/care/emr/internal/domain/organization"
	"github.com/care/emr/internal/domain/patient"
	"github.com/care/emr/internal/platform/apperr"
	"github.com/care/emr/internal/platform/auth"
	"github.com/care/emr/internal/platform/cache"
	"github.com/care/emr/internal/platform/db"
	"github.com/care/emr/internal/platform/taskqueue"
)

// DischargeLockTTL bounds one discharge summary generation.
const DischargeLockTTL = 2 * time.Minute

type Patients interface {
	Resolve(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
	GetByID(ctx context.Context, id int64) (*patient.Patient, error)
}

type Organizations interface {
	Resolve(ctx context.Context, tree organization.Tree, id uuid.UUID) (*organization.Organization, error)
}

type Service struct {
	repo       Repository
	patients   Patients
	facilities organization.FacilityResolver
	orgs       Organizations
	tx         db.Transactor
	authz      *authz.Controller
	kv         cache.KV
	tasks      taskqueue.Publisher
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(repo Repository, patients Patients, facilities organization.FacilityResolver, orgs Organizations,
	tx db.Transactor, ctrl *authz.Controller, kv cache.KV, tasks taskqueue.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		patients:   patients,
		facilities: facilities,
		orgs:       orgs,
		tx:         tx,
		authz:      ctrl,
		kv:         kv,
		tasks:      tasks,
		logger:     logger,
		now:        time.Now,
	}
}

type CreateInput struct {
	Patient        uuid.UUID   `json:"patient"`
	Facility       uuid.UUID   `json:"facility"`
	Status         string      `json:"status"`
	EncounterClass string      `json:"encounter_class"`
	PeriodStart    *time.Time  `json:"period_start"`
	PeriodEnd      *time.Time  `json:"period_end"`
	Organizations  []uuid.UUID `json:"organizations"`
}

type UpdateInput struct {
	Status         string     `json:"status"`
	EncounterClass string     `json:"encounter_class"`
	PeriodStart    *time.Time `json:"period_start"`
	PeriodEnd      *time.Time `json:"period_end"`
}

func validate(status, class string, start, end *time.Time) error {
	var errs []apperr.FieldError
	if !statuses[status] {
		errs = append(errs, apperr.FieldError{Type: "value_error", Loc: "status", Msg: fmt.Sprintf("Invalid status %q", status)})
	}
	if !classes[class] {
		errs = append(errs, apperr.FieldError{Type: "value_error", Loc: "encounter_class", Msg: fmt.Sprintf("Invalid encounter class %q", class)})
	}
	if start != nil && end != nil && end.Before(*start) {
		errs = append(errs, apperr.FieldError{Type: "value_error", Loc: "period", Msg: "Period end cannot be before start"})
	}
	if len(errs) > 0 {
		return apperr.Validation("invalid encounter", errs...)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, actor *auth.User, in CreateInput) (*Encounter, error) {
	facilityID, err := s.facilities.ResolveFacility(ctx, in.Facility)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Require(ctx, authz.CanCreateEncounter, actor, authz.Args{FacilityID: facilityID}); err != nil {
		return nil, err
	}
	if in.Status == "" {
		in.Status = StatusPlanned
	}
	if err := validate(in.Status, in.EncounterClass, in.PeriodStart, in.PeriodEnd); err != nil {
		return nil, err
	}
	p, err := s.patients.Resolve(ctx, in.Patient)
	if err != nil {
		return nil, err
	}

	e := &Encounter{
		Status:         in.Status,
		EncounterClass: in.EncounterClass,
		PatientID:      p.ID,
		Patient:        p.ExternalID,
		FacilityID:     facilityID,
		Facility:       in.Facility,
		PeriodStart:    in.PeriodStart,
		PeriodEnd:      in.PeriodEnd,
	}
	if actor != nil {
		id := actor.ID
		e.CreatedByID = &id
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, e); err != nil {
			return err
		}
		for _, orgID := range in.Organizations {
			fo, err := s.facilityOrganization(ctx, e, orgID)
			if err != nil {
				return err
			}
			if err := s.repo.AddOrganization(ctx, e.ID, fo.ID); err != nil {
				return err
			}
		}
		return s.repo.RebuildCache(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("encounter_id", e.ExternalID.String()).Str("status", e.Status).Msg("encounter created")
	return e, nil
}

// Get returns an encounter readable through its facility organizations or
// through clinical access to the patient.
func (s *Service) Get(ctx context.Context, actor *auth.User, id uuid.UUID) (*Encounter, error) {
	e, err := s.repo.GetByExternalID(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.authz.Can(ctx, authz.CanViewEncounter, actor, authz.Args{Encounter: e.View()})
	if err != nil {
		return nil, err
	}
	if !ok {
		p, err := s.patients.GetByID(ctx, e.PatientID)
		if err != nil {
			return nil, err
		}
		if err := s.authz.Require(ctx, authz.CanViewClinicalData, actor, authz.Args{Patient: p.View()}); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Authorize loads an encounter and requires action on it. Mutating actions
// fail with CONFLICT on a closed encounter before any permission check.
func (s *Service) Authorize(ctx context.Context, actor *auth.User, id uuid.UUID, action string, mutating bool) (*Encounter, error) {
	e, err := s.repo.GetByExternalID(ctx, id)
	if err != nil {
		return nil, err
	}
	if mutating && e.Closed() {
		return nil, apperr.Conflict("Encounter is closed")
	}
	if err := s.authz.Require(ctx, action, actor, authz.Args{Encounter: e.View()}); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) GetByID(ctx context.Context, id int64) (*Encounter, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Update(ctx context.Context, actor *auth.User, id uuid.UUID, in UpdateInput) (*Encounter, error) {
	e, err := s.Authorize(ctx, actor, id, authz.CanUpdateEncounter, true)
	if err != nil {
		return nil, err
	}
	if in.Status == "" {
		in.Status = e.Status
	}
	if in.EncounterClass == "" {
		in.EncounterClass = e.EncounterClass
	}
	if in.PeriodStart == nil {
		in.PeriodStart = e.PeriodStart
	}
	if in.PeriodEnd == nil {
		in.PeriodEnd = e.PeriodEnd
	}
	if err := validate(in.Status, in.EncounterClass, in.PeriodStart, in.PeriodEnd); err != nil {
		return nil, err
	}

	previous := e.Status
	e.Status = in.Status
	e.EncounterClass = in.EncounterClass
	e.PeriodStart = in.PeriodStart
	e.PeriodEnd = in.PeriodEnd
	if e.Closed() && e.PeriodEnd == nil {
		end := s.now().UTC()
		e.PeriodEnd = &end
	}
	if err := s.repo.Update(ctx, e); err != nil {
		return nil, err
	}
	if previous != e.Status {
		s.logger.Info().Str("encounter_id", e.ExternalID.String()).
			Str("from", previous).Str("to", e.Status).Msg("encounter status changed")
	}
	return e, nil
}

func (s *Service) List(ctx context.Context, actor *auth.User, facility uuid.UUID, patientID *uuid.UUID, f Filter) ([]*Encounter, int, error) {
	facilityID, err := s.facilities.ResolveFacility(ctx, facility)
	if err != nil {
		return nil, 0, err
	}
	f.FacilityID = facilityID

	if patientID != nil {
		p, err := s.patients.Resolve(ctx, *patientID)
		if err != nil {
			return nil, 0, err
		}
		f.PatientID = p.ID
		// Clinical access to the patient opens all of the patient's encounters.
		ok, err := s.authz.Can(ctx, authz.CanViewClinicalData, actor, authz.Args{Patient: p.View()})
		if err != nil {
			return nil, 0, err
		}
		if ok {
			f.Scope = authz.Scope{Unrestricted: true}
			return s.repo.List(ctx, f)
		}
	}

	scope, err := s.authz.Filter(ctx, authz.GetFilteredEncounters, actor, authz.Args{FacilityID: facilityID})
	if err != nil {
		return nil, 0, err
	}
	if scope.Empty() {
		return []*Encounter{}, 0, nil
	}
	f.Scope = scope
	return s.repo.List(ctx, f)
}

// facilityOrganization resolves a facility organization that must belong to
// the encounter's facility.
func (s *Service) facilityOrganization(ctx context.Context, e *Encounter, id uuid.UUID) (*organization.Organization, error) {
	fo, err := s.orgs.Resolve(ctx, organization.TreeFacility, id)
	if err != nil {
		return nil, err
	}
	if fo.FacilityID == nil || *fo.FacilityID != e.FacilityID {
		return nil, apperr.Validation("organization does not belong to the encounter's facility")
	}
	return fo, nil
}

func (s *Service) AddOrganization(ctx context.Context, actor *auth.User, id, orgID uuid.UUID) (*Encounter, error) {
	return s.changeOrganization(ctx, actor, id, orgID, true)
}

func (s *Service) RemoveOrganization(ctx context.Context, actor *auth.User, id, orgID uuid.UUID) (*Encounter, error) {
	return s.changeOrganization(ctx, actor, id, orgID, false)
}

func (s *Service) changeOrganization(ctx context.Context, actor *auth.User, id, orgID uuid.UUID, add bool) (*Encounter, error) {
	e, err := s.Authorize(ctx, actor, id, authz.CanUpdateEncounter, true)
	if err != nil {
		return nil, err
	}
	fo, err := s.facilityOrganization(ctx, e, orgID)
	if err != nil {
		return nil, err
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if add {
			err = s.repo.AddOrganization(ctx, e.ID, fo.ID)
		} else {
			err = s.repo.RemoveOrganization(ctx, e.ID, fo.ID)
		}
		if err != nil {
			return err
		}
		return s.repo.RebuildCache(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func dischargeLock(kv cache.KV, e *Encounter) *cache.Lock {
	return cache.NewLock(kv, "discharge_summary_"+e.ExternalID.String(), DischargeLockTTL)
}

// GenerateDischargeSummary enqueues a discharge summary generation. At most
// one generation per encounter runs at a time; a second request while the
// lock is held fails with LOCKED and the current progress.
func (s *Service) GenerateDischargeSummary(ctx context.Context, actor *auth.User, id uuid.UUID) (err error) {
	e, err := s.Authorize(ctx, actor, id, authz.CanGenerateDischargeSummary, false)
	if err != nil {
		return err
	}
	lock := dischargeLock(s.kv, e)
	if err := lock.Acquire(ctx); err != nil {
		if !errors.Is(err, cache.ErrLockHeld) {
			return err
		}
		progress, _, perr := lock.Progress(ctx)
		if perr != nil {
			return perr
		}
		return apperr.Locked("Discharge Summary is already being generated", progress)
	}
	release := func() {
		if rerr := lock.Release(context.WithoutCancel(ctx)); rerr != nil {
			s.logger.Error().Err(rerr).Str("lock", lock.Key()).Msg("release discharge lock")
		}
	}
	defer func() {
		if p := recover(); p != nil {
			release()
			panic(p)
		}
		if err != nil {
			release()
		}
	}()

	if err := s.tasks.Enqueue(ctx, taskqueue.TaskGenerateDischargeSummary, DischargeSummaryRequest{EncounterID: e.ExternalID}); err != nil {
		return fmt.Errorf("enqueue discharge summary: %w", err)
	}
	s.logger.Info().Str("encounter_id", e.ExternalID.String()).Msg("discharge summary requested")
	return nil
}

// DischargeSummaryProgress reports the progress of a running generation.
func (s *Service) DischargeSummaryProgress(ctx context.Context, actor *auth.User, id uuid.UUID) (int, bool, error) {
	e, err := s.Authorize(ctx, actor, id, authz.CanViewEncounter, false)
	if err != nil {
		return 0, false, err
	}
	return dischargeLock(s.kv, e).Progress(ctx)
}

// SetDischargeSummaryProgress is called by the generator while it runs.
func (s *Service) SetDischargeSummaryProgress(ctx context.Context, id uuid.UUID, progress int) error {
	e, err := s.repo.GetByExternalID(ctx, id)
	if err != nil {
		return err
	}
	lock := dischargeLock(s.kv, e)
	if progress >= 100 {
		return lock.Release(ctx)
	}
	return lock.SetProgress(ctx, progress)
}

func (s *Service) EmailDischargeSummary(ctx context.Context, actor *auth.User, id uuid.UUID, req EmailRequest) error {
	e, err := s.Authorize(ctx, actor, id, authz.CanGenerateDischargeSummary, false)
	if err != nil {
		return err
	}
	if req.FileID == uuid.Nil {
		return apperr.Validation("file_id is required")
	}
	if len(req.Recipients) == 0 {
		return apperr.Validation("at least one recipient is required")
	}
	var errs []apperr.FieldError
	for i, r := range req.Recipients {
		if _, err := mail.ParseAddress(r); err != nil {
			errs = append(errs, apperr.FieldError{Type: "value_error", Loc: fmt.Sprintf("recipients.%d", i), Msg: "Invalid email address"})
		}
	}
	if len(errs) > 0 {
		return apperr.Validation("invalid recipients", errs...)
	}
	if err := s.tasks.Enqueue(ctx, taskqueue.TaskEmailDischargeSummary, req); err != nil {
		return fmt.Errorf("enqueue discharge summary email: %w", err)
	}
	s.logger.Info().Str("encounter_id", e.ExternalID.String()).Int("recipients", len(req.Recipients)).
		Msg("discharge summary email requested")
	return nil
}
