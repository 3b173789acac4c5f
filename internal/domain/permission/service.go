package permission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/care/emr/internal/platform/apperr"
	"github.com/care/emr/internal/platform/cache"
	"github.com/care/emr/internal/platform/db"
)

// DefaultCacheTTL bounds how long a role's permission set is served from cache.
const DefaultCacheTTL = 7 * 24 * time.Hour

func cacheKey(roleID int64) string {
	return "role_permissions:" + strconv.FormatInt(roleID, 10)
}

type Service struct {
	repo   Repository
	kv     cache.KV
	tx     db.Transactor
	ttl    time.Duration
	logger zerolog.Logger
}

func NewService(repo Repository, kv cache.KV, tx db.Transactor, ttl time.Duration, logger zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Service{repo: repo, kv: kv, tx: tx, ttl: ttl, logger: logger}
}

// LookupPermission resolves a slug against the code catalog.
func LookupPermission(slug string) (Definition, error) {
	d, ok := Lookup(slug)
	if !ok {
		return Definition{}, apperr.NotFound("permission " + slug)
	}
	return d, nil
}

// RolesGranting returns every role whose permission set intersects slugs.
func (s *Service) RolesGranting(ctx context.Context, slugs []string) ([]int64, error) {
	if len(slugs) == 0 {
		return nil, nil
	}
	return s.repo.RolesGranting(ctx, slugs)
}

// PermissionsOf returns the permission slugs of a role, read through the cache.
// Inside a unit of work the cache is bypassed: the transaction may see
// bindings other readers cannot yet.
func (s *Service) PermissionsOf(ctx context.Context, roleID int64) ([]string, error) {
	if db.InUnitOfWork(ctx) {
		return s.loadPermissions(ctx, roleID)
	}
	key := cacheKey(roleID)
	if raw, err := s.kv.Get(ctx, key); err == nil {
		var slugs []string
		if err := json.Unmarshal([]byte(raw), &slugs); err == nil {
			return slugs, nil
		}
		s.logger.Warn().Int64("role_id", roleID).Msg("discarding malformed role permission cache entry")
	} else if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn().Err(err).Int64("role_id", roleID).Msg("role permission cache unavailable")
	}

	slugs, err := s.loadPermissions(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(slugs); err == nil {
		if err := s.kv.Set(ctx, key, string(raw), s.ttl); err != nil {
			s.logger.Warn().Err(err).Int64("role_id", roleID).Msg("failed to cache role permissions")
		}
	}
	return slugs, nil
}

func (s *Service) loadPermissions(ctx context.Context, roleID int64) ([]string, error) {
	slugs, err := s.repo.RolePermissions(ctx, roleID)
	if err != nil {
		return nil, fmt.Errorf("load permissions of role %d: %w", roleID, err)
	}
	if slugs == nil {
		slugs = []string{}
	}
	return slugs, nil
}

// Invalidate drops the cached permission sets of the given roles once the
// enclosing unit of work commits, or immediately outside one.
func (s *Service) Invalidate(ctx context.Context, roleIDs ...int64) {
	if len(roleIDs) == 0 {
		return
	}
	keys := make([]string, len(roleIDs))
	for i, id := range roleIDs {
		keys[i] = cacheKey(id)
	}
	db.AfterCommit(ctx, func(ctx context.Context) {
		if err := s.kv.Delete(ctx, keys...); err != nil {
			s.logger.Warn().Err(err).Msg("failed to invalidate role permission cache")
		}
	})
}

// SeedResult summarizes a Seed run.
type SeedResult struct {
	Permissions int
	Roles       int
}

// Seed upserts the permission catalog, the system roles and their default
// bindings. Bindings added by users are left in place.
func (s *Service) Seed(ctx context.Context) (SeedResult, error) {
	var res SeedResult
	var touched []int64
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		for _, d := range Catalog {
			p := &Permission{Slug: d.Slug, Name: d.Name, Description: d.Description, Context: d.Context}
			if err := s.repo.UpsertPermission(ctx, p); err != nil {
				return fmt.Errorf("upsert permission %s: %w", d.Slug, err)
			}
			res.Permissions++
		}
		for _, sr := range SystemRoles {
			ro := &Role{Name: sr.Name, Description: sr.Description}
			if err := s.repo.UpsertSystemRole(ctx, ro); err != nil {
				return fmt.Errorf("upsert role %s: %w", sr.Name, err)
			}
			if err := s.repo.AddRolePermissions(ctx, ro.ID, DefaultPermissions(sr.Name)); err != nil {
				return fmt.Errorf("bind permissions of %s: %w", sr.Name, err)
			}
			touched = append(touched, ro.ID)
			res.Roles++
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	s.Invalidate(ctx, touched...)
	s.logger.Info().Int("permissions", res.Permissions).Int("roles", res.Roles).Msg("permission catalog seeded")
	return res, nil
}

func validateSlugs(slugs []string) error {
	var errs []apperr.FieldError
	for _, slug := range slugs {
		if _, ok := Lookup(slug); !ok {
			errs = append(errs, apperr.FieldError{Type: "value_error", Loc: "permissions", Msg: "unknown permission " + slug})
		}
	}
	if len(errs) > 0 {
		return apperr.Validation("invalid permissions", errs...)
	}
	return nil
}

func (s *Service) CreateRole(ctx context.Context, ro *Role) error {
	if ro.Name == "" {
		return apperr.Validation("role name is required")
	}
	if err := validateSlugs(ro.Permissions); err != nil {
		return err
	}
	ro.IsSystem = false
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateRole(ctx, ro); err != nil {
			return err
		}
		return s.repo.AddRolePermissions(ctx, ro.ID, ro.Permissions)
	})
	if err != nil {
		return err
	}
	s.Invalidate(ctx, ro.ID)
	return nil
}

// UpdateRole renames a user role and, when permissions is non-nil, replaces
// its permission set.
func (s *Service) UpdateRole(ctx context.Context, id uuid.UUID, name, description string, permissions []string) (*Role, error) {
	ro, err := s.repo.GetRoleByExternalID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ro.IsSystem {
		return nil, apperr.Conflict("system roles cannot be modified")
	}
	if name != "" {
		ro.Name = name
	}
	ro.Description = description
	if permissions != nil {
		if err := validateSlugs(permissions); err != nil {
			return nil, err
		}
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateRole(ctx, ro); err != nil {
			return err
		}
		if permissions != nil {
			return s.repo.ReplaceRolePermissions(ctx, ro.ID, permissions)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Invalidate(ctx, ro.ID)
	return s.withPermissions(ctx, ro)
}

func (s *Service) DeleteRole(ctx context.Context, id uuid.UUID) error {
	ro, err := s.repo.GetRoleByExternalID(ctx, id)
	if err != nil {
		return err
	}
	if ro.IsSystem {
		return apperr.Conflict("system roles cannot be deleted")
	}
	if err := s.repo.DeleteRole(ctx, ro.ID); err != nil {
		return err
	}
	s.Invalidate(ctx, ro.ID)
	return nil
}

func (s *Service) GetRole(ctx context.Context, id uuid.UUID) (*Role, error) {
	ro, err := s.repo.GetRoleByExternalID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.withPermissions(ctx, ro)
}

// GetRoleByID is used by the binding layer to render roles.
func (s *Service) GetRoleByID(ctx context.Context, id int64) (*Role, error) {
	return s.repo.GetRole(ctx, id)
}

func (s *Service) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	return s.repo.GetRoleByName(ctx, name)
}

func (s *Service) ListRoles(ctx context.Context, limit, offset int) ([]*Role, int, error) {
	roles, total, err := s.repo.ListRoles(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, ro := range roles {
		if _, err := s.withPermissions(ctx, ro); err != nil {
			return nil, 0, err
		}
	}
	return roles, total, nil
}

func (s *Service) ListPermissions(ctx context.Context) ([]*Permission, error) {
	return s.repo.ListPermissions(ctx)
}

func (s *Service) withPermissions(ctx context.Context, ro *Role) (*Role, error) {
	slugs, err := s.PermissionsOf(ctx, ro.ID)
	if err != nil {
		return nil, err
	}
	sorted := append([]string(nil), slugs...)
	sort.Strings(sorted)
	ro.Permissions = sorted
	return ro, nil
}
