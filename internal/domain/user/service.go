package user

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/care/emr/internal/platform/apperr"
	"github.com/care/emr/internal/platform/auth"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_.-]{3,150}$`)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreateUser(ctx context.Context, u *User) error {
	u.Username = strings.ToLower(strings.TrimSpace(u.Username))
	if !usernamePattern.MatchString(u.Username) {
		return apperr.Validation("invalid username", apperr.FieldError{
			Type: "value_error", Loc: "username",
			Msg: "username must be 3-150 characters of lowercase letters, digits, '.', '_' or '-'",
		})
	}
	u.IsActive = true
	return s.repo.Create(ctx, u)
}

func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetUserByExternalID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByExternalID(ctx, id)
}

func (s *Service) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.repo.GetByUsername(ctx, username)
}

func (s *Service) ListUsers(ctx context.Context, search string, limit, offset int) ([]*User, int, error) {
	return s.repo.List(ctx, search, limit, offset)
}

// ResolveMiddleware maps the token subject (or the dev username) to a user
// row and stores it on the request context. Patient OTP tokens carry no user
// and pass through untouched.
func (s *Service) ResolveMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if auth.TokenTypeFromContext(ctx) != auth.TokenTypeAccess {
				return next(c)
			}

			u, err := s.resolve(ctx)
			if err != nil {
				if errors.Is(err, apperr.ErrNotFound) {
					return echo.NewHTTPError(http.StatusUnauthorized, "user not found")
				}
				return err
			}
			if !u.IsActive {
				return echo.NewHTTPError(http.StatusUnauthorized, "user is inactive")
			}
			c.SetRequest(c.Request().WithContext(auth.WithUser(ctx, u.Principal())))
			return next(c)
		}
	}
}

func (s *Service) resolve(ctx context.Context) (*User, error) {
	if sub := auth.SubjectFromContext(ctx); sub != "" {
		id, err := uuid.Parse(sub)
		if err != nil {
			return nil, apperr.NotFound("user")
		}
		return s.repo.GetByExternalID(ctx, id)
	}
	if name := auth.UsernameFromContext(ctx); name != "" {
		return s.repo.GetByUsername(ctx, name)
	}
	return nil, apperr.NotFound("user")
}
