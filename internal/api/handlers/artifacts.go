package handlers

import (
	"context"
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
)

// ArtifactsHandler serves the artifact, crawl-job-history, and
// progress-telemetry routes nested under a project.
type ArtifactsHandler struct {
	repo     *repository.Repository
	cache    *repository.ArtifactCache
	progress *progress.Store
	logger   *slog.Logger
}

// NewArtifactsHandler builds an ArtifactsHandler. cache may be nil, in
// which case reads always go straight to the repository.
func NewArtifactsHandler(repo *repository.Repository, cache *repository.ArtifactCache, progressStore *progress.Store, logger *slog.Logger) *ArtifactsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArtifactsHandler{repo: repo, cache: cache, progress: progressStore, logger: logger}
}

func (h *ArtifactsHandler) getCurrentArtifact(ctx context.Context, projectID string) (*domain.Artifact, error) {
	if h.cache != nil {
		return h.cache.GetCurrentArtifact(ctx, projectID)
	}
	return h.repo.GetCurrentArtifact(ctx, projectID)
}

type artifactResponse struct {
	ProjectID     string `json:"project_id"`
	Version       int    `json:"version,omitempty"`
	Content       string `json:"content"`
	ContentHash   string `json:"content_hash"`
	GeneratedAt   string `json:"generated_at"`
	TriggerReason string `json:"trigger_reason,omitempty"`
}

// GetArtifact handles GET /api/v1/projects/{id}/artifact, with an
// optional ?version=N for a historical rendering.
func (h *ArtifactsHandler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	requestID := middleware.GetRequestID(r.Context())

	if v := r.URL.Query().Get("version"); v != "" {
		version, err := strconv.Atoi(v)
		if err != nil || version <= 0 {
			apierrors.WriteError(w, apierrors.ValidationError("version must be a positive integer").WithRequestID(requestID))
			return
		}
		av, err := h.repo.GetArtifactVersion(r.Context(), id, version)
		if err != nil {
			h.writeLookupError(w, r, err, "artifact version")
			return
		}
		writeJSON(w, http.StatusOK, artifactResponse{
			ProjectID: av.ProjectID, Version: av.Version, Content: av.Content, ContentHash: av.ContentHash,
			GeneratedAt: av.GeneratedAt.Format(rfc3339), TriggerReason: string(av.TriggerReason),
		})
		return
	}

	artifact, err := h.getCurrentArtifact(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, r, err, "artifact")
		return
	}
	writeJSON(w, http.StatusOK, artifactResponse{
		ProjectID: artifact.ProjectID, Content: artifact.Content, ContentHash: artifact.ContentHash,
		GeneratedAt: artifact.GeneratedAt.Format(rfc3339),
	})
}

type crawlJobResponse struct {
	ID            string  `json:"id"`
	ProjectID     string  `json:"project_id"`
	Status        string  `json:"status"`
	TriggerReason string  `json:"trigger_reason"`
	PagesCrawled  int     `json:"pages_crawled"`
	PagesChanged  int     `json:"pages_changed"`
	ErrorMessage  string  `json:"error_message,omitempty"`
	StartedAt     string  `json:"started_at"`
	CompletedAt   *string `json:"completed_at,omitempty"`
}

// ListJobs handles GET /api/v1/projects/{id}/jobs.
func (h *ArtifactsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	requestID := middleware.GetRequestID(r.Context())

	limit := queryInt(r, "limit", 20)
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	jobs, err := h.repo.ListCrawlJobs(r.Context(), id, limit)
	if err != nil {
		h.logger.Error("list crawl jobs failed", "project_id", id, "error", err)
		apierrors.WriteError(w, apierrors.InternalError("failed to list crawl jobs").WithRequestID(requestID))
		return
	}

	resp := make([]crawlJobResponse, 0, len(jobs))
	for _, j := range jobs {
		item := crawlJobResponse{
			ID: j.ID, ProjectID: j.ProjectID, Status: string(j.Status), TriggerReason: string(j.TriggerReason),
			PagesCrawled: j.PagesCrawled, PagesChanged: j.PagesChanged, ErrorMessage: j.ErrorMessage,
			StartedAt: j.StartedAt.Format(rfc3339),
		}
		if j.CompletedAt != nil {
			s := j.CompletedAt.Format(rfc3339)
			item.CompletedAt = &s
		}
		resp = append(resp, item)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": resp})
}

type progressResponse struct {
	Stage          string                 `json:"stage"`
	Current        int                    `json:"current"`
	Total          int                    `json:"total"`
	Percent        float64                `json:"percent"`
	ElapsedSeconds float64                `json:"elapsed_seconds"`
	ETASeconds     *float64               `json:"eta_seconds,omitempty"`
	CurrentURL     string                 `json:"current_url,omitempty"`
	Extra          map[string]interface{} `json:"extra,omitempty"`
	UpdatedAt      string                 `json:"updated_at"`
}

// GetProgress handles GET /api/v1/projects/{id}/progress.
func (h *ArtifactsHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	requestID := middleware.GetRequestID(r.Context())

	record, err := h.progress.Get(r.Context(), id)
	if err != nil {
		apierrors.WriteError(w, apierrors.NotFoundError("progress record").WithRequestID(requestID))
		return
	}
	writeJSON(w, http.StatusOK, progressResponse{
		Stage: string(record.Stage), Current: record.Current, Total: record.Total, Percent: record.Percent,
		ElapsedSeconds: record.ElapsedSeconds, ETASeconds: record.ETASeconds, CurrentURL: record.CurrentURL,
		Extra: record.Extra, UpdatedAt: record.UpdatedAt.Format(rfc3339),
	})
}

func (h *ArtifactsHandler) writeLookupError(w http.ResponseWriter, r *http.Request, err error, resource string) {
	requestID := middleware.GetRequestID(r.Context())
	if errors.Is(err, repository.ErrNotFound) {
		apierrors.WriteError(w, apierrors.NotFoundError(resource).WithRequestID(requestID))
		return
	}
	h.logger.Error("lookup failed", "resource", resource, "error", err)
	apierrors.WriteError(w, apierrors.InternalError("lookup failed").WithRequestID(requestID))
}
