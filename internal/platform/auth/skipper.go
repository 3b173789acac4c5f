package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication and, apart from the OTP endpoints,
// tenant resolution.
var publicPaths = map[string]bool{
	"/health":           true,
	"/health/db":        true,
	"/metrics":          true,
	"/api/v1/otp/send":  true,
	"/api/v1/otp/login": true,
}

// AuthSkipper is the JWTConfig.Skipper for public routes.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether the path bypasses authentication.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
