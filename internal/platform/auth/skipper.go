package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths are route templates reachable without a session.
var publicPaths = map[string]bool{
	"/health":               true,
	"/health/db":            true,
	"/metrics":              true,
	"/api/v1/auth/login":    true,
	"/api/v1/auth/register": true,
}

// resetPaths are the only routes a principal flagged for a password reset
// may use.
var resetPaths = map[string]bool{
	"/api/v1/auth/password": true,
	"/api/v1/auth/logout":   true,
}

// AuthSkipper reports whether the matched route bypasses SessionMiddleware.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}

// AllowedDuringReset reports whether path is reachable while the caller must
// change its password.
func AllowedDuringReset(path string) bool {
	return resetPaths[path]
}
