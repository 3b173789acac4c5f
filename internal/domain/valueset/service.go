// Package valueset stores coded valuesets and answers membership lookups.
package valueset

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/care/emr/internal/domain/authz"
	"github.com/care/emr/internal/platform/apperr"
	"github.com/care/emr/internal/platform/auth"
)

type Service struct {
	repo   Repository
	authz  *authz.Controller
	logger zerolog.Logger
}

func NewService(repo Repository, ctrl *authz.Controller, logger zerolog.Logger) *Service {
	return &Service{repo: repo, authz: ctrl, logger: logger}
}

type Input struct {
	Slug        string  `json:"slug"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Compose     Compose `json:"compose"`
	Status      string  `json:"status"`
}

func validate(v *ValueSet) error {
	var errs []apperr.FieldError
	if !slugPattern.MatchString(v.Slug) {
		errs = append(errs, apperr.FieldError{Type: "value_error", Loc: "slug", Msg: "Slug must be 3 to 255 letters, digits, '-' or '_'"})
	}
	if strings.TrimSpace(v.Name) == "" {
		errs = append(errs, apperr.FieldError{Type: "value_error", Loc: "name", Msg: "This field is required"})
	}
	if !statuses[v.Status] {
		errs = append(errs, apperr.FieldError{Type: "value_error", Loc: "status", Msg: "Invalid status"})
	}
	if v.Status == StatusActive && len(v.Compose.Include) == 0 {
		errs = append(errs, apperr.FieldError{Type: "value_error", Loc: "compose.include", Msg: "An active valueset needs at least one include rule"})
	}
	for _, rules := range [][]Rule{v.Compose.Include, v.Compose.Exclude} {
		for _, r := range rules {
			if r.System == "" {
				errs = append(errs, apperr.FieldError{Type: "value_error", Loc: "compose", Msg: "Every rule needs a system"})
			}
		}
	}
	if len(errs) > 0 {
		return apperr.Validation("invalid valueset", errs...)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, actor *auth.User, in Input) (*ValueSet, error) {
	if err := s.authz.Require(ctx, authz.CanWriteValueset, actor, authz.Args{}); err != nil {
		return nil, err
	}
	if in.Status == "" {
		in.Status = StatusDraft
	}
	v := &ValueSet{Slug: in.Slug, Name: in.Name, Description: in.Description, Compose: in.Compose, Status: in.Status}
	if err := validate(v); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, v); err != nil {
		return nil, err
	}
	s.logger.Info().Str("slug", v.Slug).Msg("valueset created")
	return v, nil
}

// Update replaces a user valueset. System-defined valuesets change only
// through SyncSystemDefined.
func (s *Service) Update(ctx context.Context, actor *auth.User, slug string, in Input) (*ValueSet, error) {
	if err := s.authz.Require(ctx, authz.CanWriteValueset, actor, authz.Args{}); err != nil {
		return nil, err
	}
	v, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if v.IsSystemDefined {
		return nil, apperr.Conflict("System defined valuesets cannot be modified")
	}
	v.Name = in.Name
	v.Description = in.Description
	v.Compose = in.Compose
	if in.Status != "" {
		v.Status = in.Status
	}
	if err := validate(v); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Service) Get(ctx context.Context, slug string) (*ValueSet, error) {
	return s.repo.GetBySlug(ctx, slug)
}

func (s *Service) List(ctx context.Context, search string, limit, offset int) ([]*ValueSet, int, error) {
	return s.repo.List(ctx, search, limit, offset)
}

// LookupCode resolves c against the valueset. The returned coding carries the
// display declared in the compose when there is one.
func (s *Service) LookupCode(ctx context.Context, slug string, c Coding) (Coding, bool, error) {
	v, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		return Coding{}, false, err
	}
	concept, ok := v.Compose.Lookup(c)
	if !ok {
		return Coding{}, false, nil
	}
	out := Coding{System: c.System, Code: concept.Code, Display: concept.Display}
	if out.Display == "" {
		out.Display = c.Display
	}
	return out, true, nil
}

// SyncSystemDefined creates or updates every valueset declared in code.
func (s *Service) SyncSystemDefined(ctx context.Context) (int, error) {
	n := 0
	for _, def := range SystemDefined {
		def := def
		def.Status = StatusActive
		def.IsSystemDefined = true

		existing, err := s.repo.GetBySlug(ctx, def.Slug)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			if err := s.repo.Create(ctx, &def); err != nil {
				return n, err
			}
		case err != nil:
			return n, err
		default:
			existing.Name = def.Name
			existing.Description = def.Description
			existing.Compose = def.Compose
			existing.Status = def.Status
			existing.IsSystemDefined = true
			if err := s.repo.Update(ctx, existing); err != nil {
				return n, err
			}
		}
		n++
	}
	s.logger.Info().Int("count", n).Msg("system valuesets synced")
	return n, nil
}
