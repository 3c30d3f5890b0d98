package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sitewatch/sitewatch/internal/domain"
)

// MaxVersion returns the highest page version stored for a project, or 0
// if the project has no pages yet.
func (r *Repository) MaxVersion(ctx context.Context, projectID string) (int, error) {
	row := r.db.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM pages WHERE project_id = $1`, projectID)
	var v int
	if err := row.Scan(&v); err != nil {
		return 0, fmt.Errorf("repository: max version: %w", err)
	}
	return v, nil
}

// GetPages returns the page set at the given version (or the latest
// version, when version <= 0), ordered by url.
func (r *Repository) GetPages(ctx context.Context, projectID string, version int) ([]*domain.Page, error) {
	if version <= 0 {
		v, err := r.MaxVersion(ctx, projectID)
		if err != nil {
			return nil, err
		}
		version = v
	}

	rows, err := r.db.Query(ctx, `
		SELECT project_id, url, title, description, first_paragraph, content_hash,
		       etag, last_modified_header, content_length, sample_hash, version, crawled_at
		FROM pages WHERE project_id = $1 AND version = $2 ORDER BY url`, projectID, version)
	if err != nil {
		return nil, fmt.Errorf("repository: get pages: %w", err)
	}
	defer rows.Close()

	var pages []*domain.Page
	for rows.Next() {
		var p domain.Page
		if err := rows.Scan(&p.ProjectID, &p.URL, &p.Title, &p.Description, &p.FirstParagraph, &p.ContentHash,
			&p.ETag, &p.LastModifiedHeader, &p.ContentLength, &p.SampleHash, &p.Version, &p.CrawledAt); err != nil {
			return nil, fmt.Errorf("repository: scan page: %w", err)
		}
		pages = append(pages, &p)
	}
	return pages, rows.Err()
}

// SaveMany inserts pages in one transaction. Callers are responsible for
// stamping all pages with the same target version (max_version + 1) so
// version-N rows are never mutated once version-N+1 exists.
func (r *Repository) SaveMany(ctx context.Context, pages []*domain.Page) error {
	if len(pages) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: save many: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, p := range pages {
		batch.Queue(`
			INSERT INTO pages (project_id, url, title, description, first_paragraph, content_hash,
			                    etag, last_modified_header, content_length, sample_hash, version, crawled_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			p.ProjectID, p.URL, p.Title, p.Description, p.FirstParagraph, p.ContentHash,
			p.ETag, p.LastModifiedHeader, p.ContentLength, p.SampleHash, p.Version, p.CrawledAt)
	}

	results := tx.SendBatch(ctx, batch)
	for range pages {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("repository: save many: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("repository: save many: close batch: %w", err)
	}

	return tx.Commit(ctx)
}

// Fingerprint is the subset of a page row the probe needs to classify a
// conditional request outcome.
type Fingerprint struct {
	ETag               string
	LastModifiedHeader string
	ContentLength      int64
	SampleHash         string
	ContentHash        string
}

// FingerprintMap returns url -> stored fingerprint for the given version
// (or latest, when version <= 0).
func (r *Repository) FingerprintMap(ctx context.Context, projectID string, version int) (map[string]Fingerprint, error) {
	pages, err := r.GetPages(ctx, projectID, version)
	if err != nil {
		return nil, err
	}

	out := make(map[string]Fingerprint, len(pages))
	for _, p := range pages {
		out[p.URL] = Fingerprint{
			ETag: p.ETag, LastModifiedHeader: p.LastModifiedHeader,
			ContentLength: p.ContentLength, SampleHash: p.SampleHash, ContentHash: p.ContentHash,
		}
	}
	return out, nil
}

// InventoryDiff summarizes how a fresh URL set compares to the stored
// inventory.
type InventoryDiff struct {
	NewURLs      []string
	RemovedURLs  []string
	ExistingURLs []string
	TotalStored  int
}

// StoreInventory diff-updates the URL inventory for a project: new URLs
// are inserted, existing URLs have last_seen_at advanced, and URLs no
// longer present are left untouched (their last_seen_at simply lags).
func (r *Repository) StoreInventory(ctx context.Context, projectID string, urls []string, now time.Time) (InventoryDiff, error) {
	existing := make(map[string]bool)
	rows, err := r.db.Query(ctx, `SELECT normalized_url FROM url_inventory WHERE project_id = $1`, projectID)
	if err != nil {
		return InventoryDiff{}, fmt.Errorf("repository: store inventory: load existing: %w", err)
	}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			rows.Close()
			return InventoryDiff{}, fmt.Errorf("repository: scan inventory url: %w", err)
		}
		existing[u] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return InventoryDiff{}, err
	}

	fresh := make(map[string]bool, len(urls))
	var diff InventoryDiff
	for _, raw := range urls {
		u := domain.NormalizeURL(raw)
		fresh[u] = true
		if existing[u] {
			diff.ExistingURLs = append(diff.ExistingURLs, u)
		} else {
			diff.NewURLs = append(diff.NewURLs, u)
		}
	}
	for u := range existing {
		if !fresh[u] {
			diff.RemovedURLs = append(diff.RemovedURLs, u)
		}
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return InventoryDiff{}, fmt.Errorf("repository: store inventory: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, u := range diff.NewURLs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO url_inventory (project_id, normalized_url, first_seen_at, last_seen_at)
			VALUES ($1, $2, $3, $3)`, projectID, u, now); err != nil {
			return InventoryDiff{}, fmt.Errorf("repository: insert inventory entry: %w", err)
		}
	}
	for _, u := range diff.ExistingURLs {
		if _, err := tx.Exec(ctx, `
			UPDATE url_inventory SET last_seen_at = $1 WHERE project_id = $2 AND normalized_url = $3`,
			now, projectID, u); err != nil {
			return InventoryDiff{}, fmt.Errorf("repository: touch inventory entry: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return InventoryDiff{}, fmt.Errorf("repository: store inventory: commit: %w", err)
	}

	diff.TotalStored = len(existing) + len(diff.NewURLs)
	return diff, nil
}
