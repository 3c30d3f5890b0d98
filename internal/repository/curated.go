package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sitewatch/sitewatch/internal/domain"
)

// ListCuratedPages returns every curated page for a project.
func (r *Repository) ListCuratedPages(ctx context.Context, projectID string) ([]*domain.CuratedPage, error) {
	rows, err := r.db.Query(ctx, `
		SELECT project_id, url, title, description, category, content_hash,
		       etag, last_modified_header, content_length, sample_hash, created_at, updated_at
		FROM curated_pages WHERE project_id = $1 ORDER BY url`, projectID)
	if err != nil {
		return nil, fmt.Errorf("repository: list curated pages: %w", err)
	}
	defer rows.Close()

	var pages []*domain.CuratedPage
	for rows.Next() {
		var p domain.CuratedPage
		if err := rows.Scan(&p.ProjectID, &p.URL, &p.Title, &p.Description, &p.Category, &p.ContentHash,
			&p.ETag, &p.LastModifiedHeader, &p.ContentLength, &p.SampleHash, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repository: scan curated page: %w", err)
		}
		pages = append(pages, &p)
	}
	return pages, rows.Err()
}

// UpsertCuratedPage inserts or replaces a curated page row.
func (r *Repository) UpsertCuratedPage(ctx context.Context, tx pgx.Tx, p *domain.CuratedPage) error {
	now := time.Now().UTC()
	_, err := tx.Exec(ctx, `
		INSERT INTO curated_pages (project_id, url, title, description, category, content_hash,
		                            etag, last_modified_header, content_length, sample_hash, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
		ON CONFLICT (project_id, url) DO UPDATE SET
			title = EXCLUDED.title, description = EXCLUDED.description, category = EXCLUDED.category,
			content_hash = EXCLUDED.content_hash, etag = EXCLUDED.etag,
			last_modified_header = EXCLUDED.last_modified_header, content_length = EXCLUDED.content_length,
			sample_hash = EXCLUDED.sample_hash, updated_at = EXCLUDED.updated_at`,
		p.ProjectID, p.URL, p.Title, p.Description, p.Category, p.ContentHash,
		p.ETag, p.LastModifiedHeader, p.ContentLength, p.SampleHash, now)
	if err != nil {
		return fmt.Errorf("repository: upsert curated page: %w", err)
	}
	return nil
}

// DeleteCuratedPage removes one curated page row.
func (r *Repository) DeleteCuratedPage(ctx context.Context, tx pgx.Tx, projectID, url string) error {
	_, err := tx.Exec(ctx, `DELETE FROM curated_pages WHERE project_id = $1 AND url = $2`, projectID, url)
	if err != nil {
		return fmt.Errorf("repository: delete curated page: %w", err)
	}
	return nil
}

// DeleteAllCuratedPages clears every curated page for a project, used by
// the full-regeneration path before writing the replacement set.
func (r *Repository) DeleteAllCuratedPages(ctx context.Context, tx pgx.Tx, projectID string) error {
	_, err := tx.Exec(ctx, `DELETE FROM curated_pages WHERE project_id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("repository: delete all curated pages: %w", err)
	}
	return nil
}

// ListCuratedSections returns every curated section for a project.
func (r *Repository) ListCuratedSections(ctx context.Context, projectID string) ([]*domain.CuratedSection, error) {
	rows, err := r.db.Query(ctx, `
		SELECT project_id, name, description, page_urls, content_hash, created_at, updated_at
		FROM curated_sections WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, fmt.Errorf("repository: list curated sections: %w", err)
	}
	defer rows.Close()

	var sections []*domain.CuratedSection
	for rows.Next() {
		var s domain.CuratedSection
		if err := rows.Scan(&s.ProjectID, &s.Name, &s.Description, &s.PageURLs, &s.ContentHash, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repository: scan curated section: %w", err)
		}
		sections = append(sections, &s)
	}
	return sections, rows.Err()
}

// UpsertCuratedSection inserts or replaces a curated section row.
func (r *Repository) UpsertCuratedSection(ctx context.Context, tx pgx.Tx, s *domain.CuratedSection) error {
	now := time.Now().UTC()
	_, err := tx.Exec(ctx, `
		INSERT INTO curated_sections (project_id, name, description, page_urls, content_hash, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$6)
		ON CONFLICT (project_id, name) DO UPDATE SET
			description = EXCLUDED.description, page_urls = EXCLUDED.page_urls,
			content_hash = EXCLUDED.content_hash, updated_at = EXCLUDED.updated_at`,
		s.ProjectID, s.Name, s.Description, s.PageURLs, s.ContentHash, now)
	if err != nil {
		return fmt.Errorf("repository: upsert curated section: %w", err)
	}
	return nil
}

// DeleteCuratedSection removes a section, used when regeneration decides
// its content no longer warrants a section of its own.
func (r *Repository) DeleteCuratedSection(ctx context.Context, tx pgx.Tx, projectID, name string) error {
	_, err := tx.Exec(ctx, `DELETE FROM curated_sections WHERE project_id = $1 AND name = $2`, projectID, name)
	if err != nil {
		return fmt.Errorf("repository: delete curated section: %w", err)
	}
	return nil
}

// DeleteAllCuratedSections clears every section, used by full regeneration.
func (r *Repository) DeleteAllCuratedSections(ctx context.Context, tx pgx.Tx, projectID string) error {
	_, err := tx.Exec(ctx, `DELETE FROM curated_sections WHERE project_id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("repository: delete all curated sections: %w", err)
	}
	return nil
}

// GetSiteOverview returns the one-per-project overview row, if any.
func (r *Repository) GetSiteOverview(ctx context.Context, projectID string) (*domain.SiteOverview, error) {
	row := r.db.QueryRow(ctx, `SELECT project_id, title, tagline, overview FROM site_overviews WHERE project_id = $1`, projectID)
	var o domain.SiteOverview
	if err := row.Scan(&o.ProjectID, &o.Title, &o.Tagline, &o.Overview); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repository: get site overview: %w", err)
	}
	return &o, nil
}

// UpsertSiteOverview replaces the project's overview row.
func (r *Repository) UpsertSiteOverview(ctx context.Context, tx pgx.Tx, o *domain.SiteOverview) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO site_overviews (project_id, title, tagline, overview)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (project_id) DO UPDATE SET
			title = EXCLUDED.title, tagline = EXCLUDED.tagline, overview = EXCLUDED.overview`,
		o.ProjectID, o.Title, o.Tagline, o.Overview)
	if err != nil {
		return fmt.Errorf("repository: upsert site overview: %w", err)
	}
	return nil
}

// BeginTx starts a transaction for callers that coordinate several
// repository writes (planner, merger) as one atomic unit.
func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}
