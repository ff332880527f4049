package migration

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/domain/job"
	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/platform/auth"
	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.RoleViewer, auth.RoleMigrator))
	readGroup.GET("/jobs", h.ListJobs)
	readGroup.GET("/jobs/:name", h.GetJob)

	runGroup := api.Group("", auth.RequireRole(auth.RoleMigrator))
	runGroup.POST("/jobs/:name/runs", h.RunJob)
}

type jobListItem struct {
	Name         string                `json:"name"`
	Description  string                `json:"description,omitempty"`
	Source       string                `json:"source"`
	SubjectField string                `json:"subject_field"`
	Fields       int                   `json:"fields"`
	Kinds        map[job.ValueKind]int `json:"kinds"`
	Lookups      []string              `json:"lookups,omitempty"`
}

func (h *Handler) ListJobs(c echo.Context) error {
	p := pagination.FromContext(c)
	jobs := h.svc.Jobs()
	start, end := p.Bounds(len(jobs))

	items := make([]jobListItem, 0, end-start)
	for _, j := range jobs[start:end] {
		items = append(items, jobListItem{
			Name:         j.Name,
			Description:  j.Description,
			Source:       j.Source.String(),
			SubjectField: j.SubjectField,
			Fields:       len(j.Fields),
			Kinds:        j.Count(),
			Lookups:      j.LookupTables(),
		})
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, len(jobs), p))
}

func (h *Handler) GetJob(c echo.Context) error {
	j, err := h.svc.Job(c.Param("name"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, j)
}

type runErrorResponse struct {
	Error   string      `json:"error"`
	Summary *RunSummary `json:"summary,omitempty"`
}

// RunJob runs the job synchronously and returns its summary.
func (h *Handler) RunJob(c echo.Context) error {
	var req RunRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	summary, err := h.svc.Run(c.Request().Context(), c.Param("name"), req)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, summary)
	case errors.Is(err, job.ErrJobNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrRunInProgress):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrRunAborted):
		return c.JSON(http.StatusGatewayTimeout, runErrorResponse{Error: err.Error(), Summary: summary})
	default:
		return c.JSON(http.StatusInternalServerError, runErrorResponse{Error: err.Error(), Summary: summary})
	}
}
