// Package questionnaire defines questionnaires and turns validated
// submissions into a QuestionnaireResponse plus coded observations.
package questionnaire

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/care/emr/internal/domain/authz"
	"github.com/care/emr/internal/domain/encounter"
	"github.com/care/emr/internal/domain/observation"
	"github.com/care/emr/internal/domain/organization"
	"github.com/care/emr/internal/domain/patient"
	"github.com/care/emr/internal/platform/apperr"
	"github.com/care/emr/internal/platform/auth"
	"github.com/care/emr/internal/platform/db"
)

var tracer = otel.Tracer("github.com/care/emr/internal/domain/questionnaire")

type Organizations interface {
	Resolve(ctx context.Context, tree organization.Tree, id uuid.UUID) (*organization.Organization, error)
	GetByID(ctx context.Context, tree organization.Tree, id int64) (*organization.Organization, error)
}

// Encounters loads an encounter and requires an action on it. Mutating
// actions fail on closed encounters.
type Encounters interface {
	Authorize(ctx context.Context, actor *auth.User, id uuid.UUID, action string, mutating bool) (*encounter.Encounter, error)
}

type Patients interface {
	Authorize(ctx context.Context, actor *auth.User, id uuid.UUID, action string) (*patient.Patient, error)
	GetByID(ctx context.Context, id int64) (*patient.Patient, error)
}

// Recorder persists observations in the caller's transaction.
type Recorder interface {
	Record(ctx context.Context, obs []*observation.Observation) error
}

type Service struct {
	repo         Repository
	orgs         Organizations
	encounters   Encounters
	patients     Patients
	codes        CodeLookup
	observations Recorder
	tx           db.Transactor
	authz        *authz.Controller
	logger       zerolog.Logger
	now          func() time.Time
}

func NewService(repo Repository, orgs Organizations, encounters Encounters, patients Patients, codes CodeLookup,
	observations Recorder, tx db.Transactor, ctrl *authz.Controller, logger zerolog.Logger) *Service {
	return &Service{
		repo:         repo,
		orgs:         orgs,
		encounters:   encounters,
		patients:     patients,
		codes:        codes,
		observations: observations,
		tx:           tx,
		authz:        ctrl,
		logger:       logger,
		now:          time.Now,
	}
}

type Input struct {
	Slug          string      `json:"slug"`
	Version       string      `json:"version"`
	Title         string      `json:"title"`
	Description   string      `json:"description"`
	Status        string      `json:"status"`
	SubjectType   string      `json:"subject_type"`
	Questions     []Question  `json:"questions"`
	Organizations []uuid.UUID `json:"organizations"`
}

func validate(q *Questionnaire) error {
	var errs []apperr.FieldError
	if !slugPattern.MatchString(q.Slug) {
		errs = append(errs, fieldErr("slug", "Slug must be 3 to 255 letters, digits, '-' or '_'"))
	}
	if strings.TrimSpace(q.Title) == "" {
		errs = append(errs, fieldErr("title", "This field is required"))
	}
	if _, ok := transitions[q.Status]; !ok {
		errs = append(errs, fieldErr("status", "Invalid status"))
	}
	if q.SubjectType != SubjectPatient {
		errs = append(errs, fieldErr("subject_type", "Invalid subject type"))
	}
	if len(q.Questions) == 0 {
		errs = append(errs, fieldErr("questions", "At least one question is required"))
	}
	errs = append(errs, validateDefinition(q.Questions)...)
	if len(errs) > 0 {
		return apperr.Validation("invalid questionnaire", errs...)
	}
	return nil
}

func (s *Service) resolveOrganizations(ctx context.Context, ids []uuid.UUID) ([]int64, error) {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		o, err := s.orgs.Resolve(ctx, organization.TreeOrganization, id)
		if err != nil {
			return nil, err
		}
		out = append(out, o.ID)
	}
	return out, nil
}

func (s *Service) Create(ctx context.Context, actor *auth.User, in Input) (*Questionnaire, error) {
	if err := s.authz.Require(ctx, authz.CanWriteQuestionnaire, actor, authz.Args{}); err != nil {
		return nil, err
	}
	q := &Questionnaire{
		Slug:        in.Slug,
		Version:     in.Version,
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		SubjectType: in.SubjectType,
		Questions:   in.Questions,
	}
	if q.Status == "" {
		q.Status = StatusDraft
	}
	if q.SubjectType == "" {
		q.SubjectType = SubjectPatient
	}
	if q.Version == "" {
		q.Version = "1.0"
	}
	if err := validate(q); err != nil {
		return nil, err
	}
	orgIDs, err := s.resolveOrganizations(ctx, in.Organizations)
	if err != nil {
		return nil, err
	}
	if actor != nil {
		id := actor.ID
		q.CreatedByID = &id
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, q); err != nil {
			return err
		}
		return s.repo.SetOrganizations(ctx, q, orgIDs)
	})
	if err != nil {
		return nil, err
	}
	q.Organizations = in.Organizations
	s.logger.Info().Str("slug", q.Slug).Str("status", q.Status).Msg("questionnaire created")
	return q, nil
}

// Update replaces a questionnaire. The question tree is frozen once responses
// exist; a new version must be created instead.
func (s *Service) Update(ctx context.Context, actor *auth.User, slug string, in Input) (*Questionnaire, error) {
	if err := s.authz.Require(ctx, authz.CanWriteQuestionnaire, actor, authz.Args{}); err != nil {
		return nil, err
	}
	q, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if in.Status != "" && in.Status != q.Status {
		next, known := transitions[q.Status]
		superuserOverride := q.Status == StatusRetired && in.Status == StatusActive && actor != nil && actor.IsSuperuser
		if known && !next[in.Status] && !superuserOverride {
			return nil, apperr.Conflict("Cannot move questionnaire from " + q.Status + " to " + in.Status)
		}
		q.Status = in.Status
	}
	if in.Questions != nil {
		n, err := s.repo.CountResponses(ctx, q.ID)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			return nil, apperr.Conflict("Questions cannot change once responses exist")
		}
		q.Questions = in.Questions
	}
	if in.Title != "" {
		q.Title = in.Title
	}
	if in.Version != "" {
		q.Version = in.Version
	}
	q.Description = in.Description
	if err := validate(q); err != nil {
		return nil, err
	}

	var orgIDs []int64
	if in.Organizations != nil {
		if orgIDs, err = s.resolveOrganizations(ctx, in.Organizations); err != nil {
			return nil, err
		}
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, q); err != nil {
			return err
		}
		if in.Organizations == nil {
			return nil
		}
		return s.repo.SetOrganizations(ctx, q, orgIDs)
	})
	if err != nil {
		return nil, err
	}
	if in.Organizations != nil {
		q.Organizations = in.Organizations
	}
	return q, nil
}

// requireRead allows a questionnaire bound to organizations only to users
// holding can_read_questionnaire somewhere in one of their chains.
func (s *Service) requireRead(ctx context.Context, actor *auth.User, q *Questionnaire) error {
	if len(q.OrganizationIDs) == 0 {
		return s.authz.Require(ctx, authz.CanReadQuestionnaire, actor, authz.Args{})
	}
	for _, id := range q.OrganizationIDs {
		o, err := s.orgs.GetByID(ctx, organization.TreeOrganization, id)
		if err != nil {
			return err
		}
		ok, err := s.authz.Can(ctx, authz.CanReadQuestionnaire, actor, authz.Args{Organization: o.Node()})
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return apperr.Forbidden("")
}

func (s *Service) Get(ctx context.Context, actor *auth.User, slug string) (*Questionnaire, error) {
	q, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if err := s.requireRead(ctx, actor, q); err != nil {
		return nil, err
	}
	return q, nil
}

func (s *Service) List(ctx context.Context, actor *auth.User, organizationID *uuid.UUID, f Filter) ([]*Questionnaire, int, error) {
	if organizationID != nil {
		o, err := s.orgs.Resolve(ctx, organization.TreeOrganization, *organizationID)
		if err != nil {
			return nil, 0, err
		}
		if err := s.authz.Require(ctx, authz.CanReadQuestionnaire, actor, authz.Args{Organization: o.Node()}); err != nil {
			return nil, 0, err
		}
		f.OrganizationIDs = []int64{o.ID}
		return s.repo.List(ctx, f)
	}
	if err := s.authz.Require(ctx, authz.CanReadQuestionnaire, actor, authz.Args{}); err != nil {
		return nil, 0, err
	}
	return s.repo.List(ctx, f)
}

// Submit validates results against the questionnaire and stores the response
// and the observations it yields in one transaction. Nothing is written when
// validation fails.
func (s *Service) Submit(ctx context.Context, actor *auth.User, slug string, req SubmitRequest) (resp *Response, err error) {
	ctx, span := tracer.Start(ctx, "questionnaire.submit")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("questionnaire.slug", slug), attribute.Int("questionnaire.results", len(req.Results)))

	q, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if q.Status != StatusActive {
		return nil, apperr.Conflict("Questionnaire is not active")
	}

	sub := subject{kind: observation.SubjectPatient, at: s.now()}
	if actor != nil {
		sub.enteredBy = actor.ID
	}
	var p *patient.Patient
	var encounterRef *uuid.UUID
	if req.Encounter != nil {
		e, err := s.encounters.Authorize(ctx, actor, *req.Encounter, authz.CanSubmitEncounterQuestionnaire, true)
		if err != nil {
			return nil, err
		}
		if p, err = s.patients.GetByID(ctx, e.PatientID); err != nil {
			return nil, err
		}
		if req.Patient != uuid.Nil && req.Patient != p.ExternalID {
			return nil, apperr.Validation("patient does not match the encounter",
				apperr.FieldError{Type: "value_error", Loc: "patient", Msg: "Patient does not match the encounter"})
		}
		id := e.ID
		sub.kind, sub.id, sub.encounterID = observation.SubjectEncounter, e.ExternalID, &id
		encounterRef = req.Encounter
	} else {
		if p, err = s.patients.Authorize(ctx, actor, req.Patient, authz.CanWritePatient); err != nil {
			return nil, err
		}
		sub.id = p.ExternalID
	}
	sub.patientID = p.ID
	if req.ResourceID != uuid.Nil {
		sub.id = req.ResourceID
	}

	ev, err := evaluate(ctx, q, req.Results, s.codes)
	if err != nil {
		return nil, err
	}
	obs := buildObservations(ev, sub)

	patientID := p.ID
	resp = &Response{
		QuestionnaireID: q.ID,
		Questionnaire:   q.ExternalID,
		SubjectID:       sub.id,
		EncounterID:     sub.encounterID,
		PatientID:       &patientID,
		Encounter:       encounterRef,
		Patient:         p.ExternalID,
		Responses:       req.Results,
		Observations:    obs,
	}
	if actor != nil {
		id := actor.ID
		resp.CreatedByID = &id
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateResponse(ctx, resp); err != nil {
			return err
		}
		for _, o := range obs {
			o.QuestionnaireResponseID = &resp.ID
		}
		return s.observations.Record(ctx, obs)
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("questionnaire.observations", len(obs)))
	s.logger.Info().
		Str("questionnaire", q.Slug).
		Str("response_id", resp.ExternalID.String()).
		Int("observations", len(obs)).
		Msg("questionnaire submitted")
	return resp, nil
}
