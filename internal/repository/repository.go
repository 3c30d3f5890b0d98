// Package repository is the URL Inventory & Page Repository (C6): it
// owns page rows and the URL inventory, and provides the storage
// primitives the planner and merger build curated state on top of.
//
// Normalization rule for URLs everywhere: lowercase; strip fragment;
// strip trailing slash except on root. All comparisons use the
// normalized form (domain.NormalizeURL).
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sitewatch/sitewatch/internal/database/postgres"
	"github.com/sitewatch/sitewatch/internal/domain"
)

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = errors.New("repository: not found")

// ErrConflict is returned when a write would violate a uniqueness
// constraint, most commonly a duplicate canonical project URL.
var ErrConflict = errors.New("repository: conflict")

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Repository is the single access point to the relational store. All
// multi-row mutations happen inside one transaction.
type Repository struct {
	db     postgres.DatabaseConnection
	logger *slog.Logger
}

// New builds a Repository bound to a connected pool.
func New(db postgres.DatabaseConnection, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{db: db, logger: logger}
}

// --- Projects ---

// CreateProject inserts a new project in status "pending". Returns
// ErrConflict-shaped error (caller maps to 409) on a duplicate canonical URL.
func (r *Repository) CreateProject(ctx context.Context, url, displayName string) (*domain.Project, error) {
	normalized := domain.NormalizeURL(url)
	id := uuid.NewString()
	now := time.Now().UTC()

	_, err := r.db.Exec(ctx, `
		INSERT INTO projects (id, url, display_name, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		id, normalized, displayName, domain.ProjectStatusPending, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("repository: create project: %w", err)
	}

	return &domain.Project{ID: id, URL: normalized, DisplayName: displayName, Status: domain.ProjectStatusPending, CreatedAt: now}, nil
}

// GetProject fetches one project by id.
func (r *Repository) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, url, display_name, status, created_at, last_checked_at
		FROM projects WHERE id = $1`, id)

	var p domain.Project
	var lastChecked *time.Time
	if err := row.Scan(&p.ID, &p.URL, &p.DisplayName, &p.Status, &p.CreatedAt, &lastChecked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repository: get project: %w", err)
	}
	p.LastCheckedAt = lastChecked
	return &p, nil
}

// FindProjectByURL looks a project up by its normalized canonical URL.
func (r *Repository) FindProjectByURL(ctx context.Context, url string) (*domain.Project, error) {
	normalized := domain.NormalizeURL(url)
	row := r.db.QueryRow(ctx, `SELECT id FROM projects WHERE url = $1`, normalized)

	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repository: find project by url: %w", err)
	}
	return r.GetProject(ctx, id)
}

// ListProjects returns a page of projects ordered by creation time.
func (r *Repository) ListProjects(ctx context.Context, limit, offset int) ([]*domain.Project, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, url, display_name, status, created_at, last_checked_at
		FROM projects ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("repository: list projects: %w", err)
	}
	defer rows.Close()

	var projects []*domain.Project
	for rows.Next() {
		var p domain.Project
		var lastChecked *time.Time
		if err := rows.Scan(&p.ID, &p.URL, &p.DisplayName, &p.Status, &p.CreatedAt, &lastChecked); err != nil {
			return nil, fmt.Errorf("repository: scan project: %w", err)
		}
		p.LastCheckedAt = lastChecked
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

// UpdateProjectStatus transitions a project's lifecycle state.
func (r *Repository) UpdateProjectStatus(ctx context.Context, id string, status domain.ProjectStatus) error {
	_, err := r.db.Exec(ctx, `UPDATE projects SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("repository: update project status: %w", err)
	}
	return nil
}

// TouchLastChecked records the time of the most recent check for a project.
func (r *Repository) TouchLastChecked(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE projects SET last_checked_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("repository: touch last checked: %w", err)
	}
	return nil
}

// DeleteProject cascades to every child table inside one transaction.
func (r *Repository) DeleteProject(ctx context.Context, id string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: delete project: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tables := []string{
		"pages", "url_inventory", "curated_pages", "curated_sections",
		"site_overviews", "artifact_versions", "artifacts", "crawl_jobs",
	}
	for _, table := range tables {
		if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE project_id = $1", table), id); err != nil {
			return fmt.Errorf("repository: delete project children from %s: %w", table, err)
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id); err != nil {
		return fmt.Errorf("repository: delete project: %w", err)
	}

	return tx.Commit(ctx)
}
