package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicrecords/api/internal/platform/apperr"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
	PrincipalKey contextKey = "principal"
	TokenKey     contextKey = "session_token"
)

// Principal is an authenticated caller.
type Principal interface {
	PrincipalID() uuid.UUID
	PrincipalRole() string
}

// PasswordResetter is implemented by principals that can be flagged to
// change their password before using the API.
type PasswordResetter interface {
	PasswordResetRequired() bool
}

// Authenticator turns a bearer token into a Principal. Implementations
// reject revoked and expired tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Principal, error)
}

// SessionMiddleware requires a valid bearer token on every request not
// matched by skipper and binds the resolved Principal to the request
// context.
func SessionMiddleware(a Authenticator, skipper func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper != nil && skipper(c) {
				return next(c)
			}

			tokenStr, err := BearerToken(c.Request())
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}

			p, err := a.Authenticate(c.Request().Context(), tokenStr)
			if err != nil {
				if errors.Is(err, ErrInvalidToken) || apperr.IsAuth(err) || apperr.IsNotFound(err) {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
				}
				return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
			}

			if r, ok := p.(PasswordResetter); ok && r.PasswordResetRequired() && !AllowedDuringReset(c.Path()) {
				return echo.NewHTTPError(http.StatusForbidden, "password change required")
			}

			c.SetRequest(c.Request().WithContext(WithPrincipal(c.Request().Context(), p, tokenStr)))
			return next(c)
		}
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", errors.New("invalid authorization format")
	}
	return token, nil
}

// WithPrincipal returns ctx carrying p and the token it was resolved from.
func WithPrincipal(ctx context.Context, p Principal, token string) context.Context {
	ctx = context.WithValue(ctx, PrincipalKey, p)
	ctx = context.WithValue(ctx, TokenKey, token)
	ctx = context.WithValue(ctx, UserIDKey, p.PrincipalID().String())
	ctx = context.WithValue(ctx, UserRolesKey, []string{p.PrincipalRole()})
	return ctx
}

func PrincipalFromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(PrincipalKey).(Principal)
	return p
}

func TokenFromContext(ctx context.Context) string {
	tok, _ := ctx.Value(TokenKey).(string)
	return tok
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}
