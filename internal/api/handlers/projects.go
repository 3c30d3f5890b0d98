// Package handlers implements the HTTP handlers behind the Site-Watch
// REST API: projects, crawl jobs, artifacts, progress, and scheduler
// admin stats.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	apierrors "github.com/sitewatch/sitewatch/internal/api/errors"
	"github.com/sitewatch/sitewatch/internal/api/middleware"
	"github.com/sitewatch/sitewatch/internal/domain"
	"github.com/sitewatch/sitewatch/internal/progress"
	"github.com/sitewatch/sitewatch/internal/repository"
	"github.com/sitewatch/sitewatch/internal/scheduler"
	"github.com/sitewatch/sitewatch/internal/tasks"
)

// Runner is the subset of *tasks.Runner the project handlers need. It
// exists so tests can substitute a stub without pulling in the whole
// task-runner dependency graph.
type Runner interface {
	TriggerFullRescrape(projectID string)
}

var _ Runner = (*tasks.Runner)(nil)

// ProjectsHandler serves every /api/v1/projects* route.
type ProjectsHandler struct {
	repo     *repository.Repository
	sched    *scheduler.Scheduler
	runner   Runner
	progress *progress.Store
	logger   *slog.Logger
}

// NewProjectsHandler builds a ProjectsHandler.
func NewProjectsHandler(repo *repository.Repository, sched *scheduler.Scheduler, runner Runner, progressStore *progress.Store, logger *slog.Logger) *ProjectsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProjectsHandler{repo: repo, sched: sched, runner: runner, progress: progressStore, logger: logger}
}

type createProjectRequest struct {
	URL         string `json:"url" validate:"required,url"`
	DisplayName string `json:"display_name" validate:"max=200"`
}

type projectResponse struct {
	ID            string  `json:"id"`
	URL           string  `json:"url"`
	DisplayName   string  `json:"display_name"`
	Status        string  `json:"status"`
	CreatedAt     string  `json:"created_at"`
	LastCheckedAt *string `json:"last_checked_at,omitempty"`
}

func toProjectResponse(p *domain.Project) projectResponse {
	resp := projectResponse{
		ID: p.ID, URL: p.URL, DisplayName: p.DisplayName, Status: string(p.Status),
		CreatedAt: p.CreatedAt.Format(rfc3339),
	}
	if p.LastCheckedAt != nil {
		s := p.LastCheckedAt.Format(rfc3339)
		resp.LastCheckedAt = &s
	}
	return resp
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"

// Create handles POST /api/v1/projects.
func (h *ProjectsHandler) Create(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, apierrors.ValidationError("invalid JSON body").WithRequestID(requestID))
		return
	}
	if err := middleware.ValidateStruct(req); err != nil {
		apierrors.WriteError(w, apierrors.ValidationError("url is required and must be a valid URL").
			WithDetails(middleware.FormatValidationErrors(err)).WithRequestID(requestID))
		return
	}

	project, err := h.repo.CreateProject(r.Context(), req.URL, req.DisplayName)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			apierrors.WriteError(w, apierrors.ConflictError("a project for this URL already exists").WithRequestID(requestID))
			return
		}
		h.logger.Error("create project failed", "error", err)
		apierrors.WriteError(w, apierrors.InternalError("failed to create project").WithRequestID(requestID))
		return
	}

	if err := h.sched.ScheduleProject(r.Context(), project.ID, 0); err != nil {
		h.logger.Warn("schedule project failed", "project_id", project.ID, "error", err)
	}
	h.runner.TriggerFullRescrape(project.ID)

	writeJSON(w, http.StatusCreated, toProjectResponse(project))
}

type listProjectsResponse struct {
	Projects []projectResponse `json:"projects"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// List handles GET /api/v1/projects.
func (h *ProjectsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	projects, err := h.repo.ListProjects(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list projects failed", "error", err)
		apierrors.WriteError(w, apierrors.InternalError("failed to list projects").WithRequestID(middleware.GetRequestID(r.Context())))
		return
	}

	resp := listProjectsResponse{Projects: make([]projectResponse, 0, len(projects)), Limit: limit, Offset: offset}
	for _, p := range projects {
		resp.Projects = append(resp.Projects, toProjectResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/projects/{id}.
func (h *ProjectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	project, err := h.repo.GetProject(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, r, err, "project")
		return
	}
	writeJSON(w, http.StatusOK, toProjectResponse(project))
}

// Delete handles DELETE /api/v1/projects/{id}.
func (h *ProjectsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	requestID := middleware.GetRequestID(r.Context())

	if _, err := h.repo.GetProject(r.Context(), id); err != nil {
		h.writeLookupError(w, r, err, "project")
		return
	}

	if err := h.sched.UnscheduleProject(r.Context(), id); err != nil {
		h.logger.Warn("unschedule project failed", "project_id", id, "error", err)
	}
	if err := h.repo.DeleteProject(r.Context(), id); err != nil {
		h.logger.Error("delete project failed", "project_id", id, "error", err)
		apierrors.WriteError(w, apierrors.InternalError("failed to delete project").WithRequestID(requestID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Recrawl handles POST /api/v1/projects/{id}/recrawl.
func (h *ProjectsHandler) Recrawl(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	requestID := middleware.GetRequestID(r.Context())

	if _, err := h.repo.GetProject(r.Context(), id); err != nil {
		h.writeLookupError(w, r, err, "project")
		return
	}

	running, err := h.repo.HasRunningCrawlJob(r.Context(), id)
	if err != nil {
		h.logger.Error("check running crawl job failed", "project_id", id, "error", err)
		apierrors.WriteError(w, apierrors.InternalError("failed to check crawl status").WithRequestID(requestID))
		return
	}
	if running {
		apierrors.WriteError(w, apierrors.CrawlInProgressError(id).WithRequestID(requestID))
		return
	}

	h.runner.TriggerFullRescrape(id)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "project_id": id})
}

// writeLookupError maps a repository lookup error to the right HTTP status.
func (h *ProjectsHandler) writeLookupError(w http.ResponseWriter, r *http.Request, err error, resource string) {
	requestID := middleware.GetRequestID(r.Context())
	if errors.Is(err, repository.ErrNotFound) {
		apierrors.WriteError(w, apierrors.NotFoundError(resource).WithRequestID(requestID))
		return
	}
	h.logger.Error("lookup failed", "resource", resource, "error", err)
	apierrors.WriteError(w, apierrors.InternalError("lookup failed").WithRequestID(requestID))
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
