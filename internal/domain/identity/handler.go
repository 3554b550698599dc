package identity

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicrecords/api/internal/platform/apperr"
	"github.com/clinicrecords/api/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the auth endpoints under api (normally /api/v1).
// Login and register are public; the rest run behind SessionMiddleware.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/auth")
	g.POST("/login", h.LogIn)
	g.POST("/register", h.RegisterDoctor)
	g.POST("/logout", h.LogOut)
	g.GET("/me", h.Me)
	g.POST("/password", h.ChangePassword)
}

// SessionFromContext returns the session bound by SessionMiddleware, or nil.
func SessionFromContext(ctx context.Context) *Session {
	s, _ := auth.PrincipalFromContext(ctx).(*Session)
	return s
}

func (h *Handler) LogIn(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sess, token, err := h.svc.LogIn(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, LoginResponse{Token: token, Session: sess})
}

func (h *Handler) LogOut(c echo.Context) error {
	if err := h.svc.LogOut(c.Request().Context(), auth.TokenFromContext(c.Request().Context())); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Me(c echo.Context) error {
	sess := SessionFromContext(c.Request().Context())
	if sess == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication failed")
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) RegisterDoctor(c echo.Context) error {
	var reg DoctorRegistration
	if err := c.Bind(&reg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	d, err := h.svc.RegisterDoctor(c.Request().Context(), reg)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) ChangePassword(c echo.Context) error {
	var change PasswordChange
	if err := c.Bind(&change); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sess := SessionFromContext(c.Request().Context())
	if err := h.svc.ChangePassword(c.Request().Context(), sess, change); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
