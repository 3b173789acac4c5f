package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RequireUser rejects requests that did not resolve to a staff user.
func RequireUser() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if UserFromContext(c.Request().Context()) == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			return next(c)
		}
	}
}

// RequireSuperuser guards administrative routes such as role management.
func RequireSuperuser() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			u := UserFromContext(c.Request().Context())
			if u == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			if !u.IsSuperuser {
				return echo.NewHTTPError(http.StatusForbidden, "superuser required")
			}
			return next(c)
		}
	}
}

// RequireTokenType restricts a route group to one token type, e.g. the
// patient OTP endpoints.
func RequireTokenType(tokenType string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if TokenTypeFromContext(c.Request().Context()) != tokenType {
				return echo.NewHTTPError(http.StatusForbidden, "token type not allowed")
			}
			return next(c)
		}
	}
}
