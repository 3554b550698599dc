package records

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicrecords/api/internal/domain/identity"
	"github.com/clinicrecords/api/internal/platform/apperr"
	"github.com/clinicrecords/api/internal/platform/auth"
	"github.com/clinicrecords/api/internal/platform/query"
	"github.com/clinicrecords/api/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the patient and visit endpoints. All of them
// require the Doctor role.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	doctor := auth.RequireRole(auth.RoleDoctor)

	p := api.Group("/patients", doctor)
	p.GET("", h.ListPatients)
	p.POST("", h.CreatePatient)
	p.GET("/:id", h.GetPatient)
	p.PUT("/:id", h.UpdatePatient)
	p.DELETE("/:id", h.DeletePatient)
	p.GET("/:id/visits", h.ListPatientVisits)
	p.POST("/:id/visits", h.CreateVisit)

	v := api.Group("/visits", doctor)
	v.GET("", h.ListVisits)
	v.GET("/:id", h.GetVisit)
	v.PUT("/:id", h.UpdateVisit)
}

func session(c echo.Context) *identity.Session {
	return identity.SessionFromContext(c.Request().Context())
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// parseDayParam reads the optional "date" query parameter.
func parseDayParam(c echo.Context, loc *time.Location) (time.Time, error) {
	raw := strings.TrimSpace(c.QueryParam("date"))
	if raw == "" {
		return time.Time{}, nil
	}
	day, err := query.ParseDay(raw, loc)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return day, nil
}

func (h *Handler) patientFilter(c echo.Context) (PatientFilter, error) {
	loc := h.svc.Location()
	day, err := parseDayParam(c, loc)
	if err != nil {
		return PatientFilter{}, err
	}
	return PatientFilter{Name: strings.TrimSpace(c.QueryParam("q")), Day: day, Location: loc}, nil
}

func (h *Handler) visitFilter(c echo.Context) (VisitFilter, error) {
	loc := h.svc.Location()
	day, err := parseDayParam(c, loc)
	if err != nil {
		return VisitFilter{}, err
	}
	return VisitFilter{Reason: strings.TrimSpace(c.QueryParam("q")), Day: day, Location: loc}, nil
}

func page(c echo.Context, data interface{}, total int, pg pagination.Params) error {
	return c.JSON(http.StatusOK, pagination.NewResponse(data, total, pg).WithLinks(c.Request().URL))
}

// -- Patient handlers --

func (h *Handler) CreatePatient(c echo.Context) error {
	var in PatientInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	out, err := h.svc.CreatePatient(c.Request().Context(), session(c), in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), session(c), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	f, err := h.patientFilter(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	patients, total, err := h.svc.ListPatients(c.Request().Context(), session(c), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return page(c, nonNilPatients(patients), total, pg)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in PatientInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, err := h.svc.UpdatePatient(c.Request().Context(), session(c), id, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeletePatient(c.Request().Context(), session(c), id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Visit handlers --

func (h *Handler) CreateVisit(c echo.Context) error {
	patientID, err := parseID(c)
	if err != nil {
		return err
	}
	var in VisitInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	v, err := h.svc.CreateVisit(c.Request().Context(), session(c), patientID, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) GetVisit(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	v, err := h.svc.GetVisit(c.Request().Context(), session(c), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) UpdateVisit(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in VisitInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	v, err := h.svc.UpdateVisit(c.Request().Context(), session(c), id, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) ListVisits(c echo.Context) error {
	f, err := h.visitFilter(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	visits, total, err := h.svc.ListVisits(c.Request().Context(), session(c), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return page(c, nonNilVisits(visits), total, pg)
}

func (h *Handler) ListPatientVisits(c echo.Context) error {
	patientID, err := parseID(c)
	if err != nil {
		return err
	}
	f, err := h.visitFilter(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	visits, total, err := h.svc.ListPatientVisits(c.Request().Context(), session(c), patientID, f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return page(c, nonNilVisits(visits), total, pg)
}

func nonNilPatients(p []*Patient) []*Patient {
	if p == nil {
		return []*Patient{}
	}
	return p
}

func nonNilVisits(v []*Visit) []*Visit {
	if v == nil {
		return []*Visit{}
	}
	return v
}
