package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sitewatch/sitewatch/internal/domain"
)

// MaxArtifactVersion returns the highest recorded artifact version for a
// project, or 0 if none exists.
func (r *Repository) MaxArtifactVersion(ctx context.Context, projectID string) (int, error) {
	row := r.db.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM artifact_versions WHERE project_id = $1`, projectID)
	var v int
	if err := row.Scan(&v); err != nil {
		return 0, fmt.Errorf("repository: max artifact version: %w", err)
	}
	return v, nil
}

// WriteArtifactVersion records a new immutable version row and upserts
// the current-artifact row, inside tx so it shares atomicity with the
// curated-state writes that produced it. version must be exactly
// MAX(version) + 1, computed inside the same transaction as the write.
func (r *Repository) WriteArtifactVersion(ctx context.Context, tx pgx.Tx, av *domain.ArtifactVersion) error {
	if _, err := tx.Exec(ctx, `SELECT 1 FROM projects WHERE id = $1 FOR UPDATE`, av.ProjectID); err != nil {
		return fmt.Errorf("repository: write artifact version: lock: %w", err)
	}
	var current int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM artifact_versions WHERE project_id = $1`, av.ProjectID).Scan(&current); err != nil {
		return fmt.Errorf("repository: write artifact version: max version: %w", err)
	}
	if av.Version != current+1 {
		return fmt.Errorf("repository: write artifact version: expected version %d, got %d", current+1, av.Version)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO artifact_versions (project_id, version, content, content_hash, generated_at, trigger_reason)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		av.ProjectID, av.Version, av.Content, av.ContentHash, av.GeneratedAt, av.TriggerReason); err != nil {
		return fmt.Errorf("repository: insert artifact version: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO artifacts (project_id, content, content_hash, generated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (project_id) DO UPDATE SET
			content = EXCLUDED.content, content_hash = EXCLUDED.content_hash, generated_at = EXCLUDED.generated_at`,
		av.ProjectID, av.Content, av.ContentHash, av.GeneratedAt); err != nil {
		return fmt.Errorf("repository: upsert current artifact: %w", err)
	}

	return nil
}

// GetCurrentArtifact returns the current artifact row for a project.
func (r *Repository) GetCurrentArtifact(ctx context.Context, projectID string) (*domain.Artifact, error) {
	row := r.db.QueryRow(ctx, `SELECT project_id, content, content_hash, generated_at FROM artifacts WHERE project_id = $1`, projectID)
	var a domain.Artifact
	if err := row.Scan(&a.ProjectID, &a.Content, &a.ContentHash, &a.GeneratedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repository: get current artifact: %w", err)
	}
	return &a, nil
}

// GetArtifactVersion returns one historical artifact version.
func (r *Repository) GetArtifactVersion(ctx context.Context, projectID string, version int) (*domain.ArtifactVersion, error) {
	row := r.db.QueryRow(ctx, `
		SELECT project_id, version, content, content_hash, generated_at, trigger_reason
		FROM artifact_versions WHERE project_id = $1 AND version = $2`, projectID, version)
	var av domain.ArtifactVersion
	if err := row.Scan(&av.ProjectID, &av.Version, &av.Content, &av.ContentHash, &av.GeneratedAt, &av.TriggerReason); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repository: get artifact version: %w", err)
	}
	return &av, nil
}

// --- Crawl jobs ---

// CreateCrawlJob inserts a crawl job row in status "pending".
func (r *Repository) CreateCrawlJob(ctx context.Context, projectID string, reason domain.TriggerReason) (*domain.CrawlJob, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	_, err := r.db.Exec(ctx, `
		INSERT INTO crawl_jobs (id, project_id, status, trigger_reason, started_at)
		VALUES ($1,$2,$3,$4,$5)`, id, projectID, domain.CrawlJobPending, reason, now)
	if err != nil {
		return nil, fmt.Errorf("repository: create crawl job: %w", err)
	}

	return &domain.CrawlJob{ID: id, ProjectID: projectID, Status: domain.CrawlJobPending, TriggerReason: reason, StartedAt: now}, nil
}

// GetPendingCrawlJob returns the most recent pending crawl job for a
// project, if one exists. trigger_rescrape inserts a pending job ahead
// of the full-rescrape task actually running; the task picks that job
// up here instead of inserting a second one.
func (r *Repository) GetPendingCrawlJob(ctx context.Context, projectID string) (*domain.CrawlJob, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, project_id, status, trigger_reason, started_at
		FROM crawl_jobs WHERE project_id = $1 AND status = $2
		ORDER BY started_at DESC LIMIT 1`, projectID, domain.CrawlJobPending)
	var job domain.CrawlJob
	if err := row.Scan(&job.ID, &job.ProjectID, &job.Status, &job.TriggerReason, &job.StartedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repository: get pending crawl job: %w", err)
	}
	return &job, nil
}

// HasRunningCrawlJob reports whether a project already has a
// pending/running crawl job, used to enforce the per-project single-writer
// invariant at the API boundary.
func (r *Repository) HasRunningCrawlJob(ctx context.Context, projectID string) (bool, error) {
	row := r.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM crawl_jobs WHERE project_id = $1 AND status IN ($2, $3))`,
		projectID, domain.CrawlJobPending, domain.CrawlJobRunning)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("repository: has running crawl job: %w", err)
	}
	return exists, nil
}

// MarkCrawlJobRunning transitions a crawl job to "running".
func (r *Repository) MarkCrawlJobRunning(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `UPDATE crawl_jobs SET status = $1 WHERE id = $2`, domain.CrawlJobRunning, id)
	if err != nil {
		return fmt.Errorf("repository: mark crawl job running: %w", err)
	}
	return nil
}

// CompleteCrawlJob finalizes a crawl job as completed or failed.
// Immutable once recorded.
func (r *Repository) CompleteCrawlJob(ctx context.Context, id string, status domain.CrawlJobStatus, pagesCrawled, pagesChanged int, errMsg string) error {
	now := time.Now().UTC()
	_, err := r.db.Exec(ctx, `
		UPDATE crawl_jobs SET status = $1, pages_crawled = $2, pages_changed = $3, error_message = $4, completed_at = $5
		WHERE id = $6`, status, pagesCrawled, pagesChanged, errMsg, now, id)
	if err != nil {
		return fmt.Errorf("repository: complete crawl job: %w", err)
	}
	return nil
}

// ListCrawlJobs returns crawl job history for a project, most recent first.
func (r *Repository) ListCrawlJobs(ctx context.Context, projectID string, limit int) ([]*domain.CrawlJob, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, project_id, status, trigger_reason, pages_crawled, pages_changed,
		       error_message, started_at, completed_at, task_handle
		FROM crawl_jobs WHERE project_id = $1 ORDER BY started_at DESC LIMIT $2`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: list crawl jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.CrawlJob
	for rows.Next() {
		var j domain.CrawlJob
		var completedAt *time.Time
		if err := rows.Scan(&j.ID, &j.ProjectID, &j.Status, &j.TriggerReason, &j.PagesCrawled, &j.PagesChanged,
			&j.ErrorMessage, &j.StartedAt, &completedAt, &j.TaskHandle); err != nil {
			return nil, fmt.Errorf("repository: scan crawl job: %w", err)
		}
		j.CompletedAt = completedAt
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}
