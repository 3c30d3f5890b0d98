//go:build integration

package repository

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sitewatch/sitewatch/internal/database"
	"github.com/sitewatch/sitewatch/internal/database/postgres"
	"github.com/sitewatch/sitewatch/internal/domain"
)

// setupTestRepository starts a disposable Postgres container, applies the
// schema migration, and returns a Repository bound to it. Mirrors the
// integration-test container lifecycle used elsewhere in this project's
// ancestry, trimmed to the one dependency repository tests need.
func setupTestRepository(t *testing.T) *Repository {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	container, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("sitewatch_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	pool := postgres.NewPostgresPool(&postgres.PostgresConfig{
		Host: host, Port: port.Int(), Database: "sitewatch_test",
		User: "test", Password: "test", SSLMode: "disable",
		MaxConns: 5, MinConns: 1, MaxConnLifetime: time.Hour, MaxConnIdleTime: 30 * time.Minute,
		HealthCheckPeriod: 30 * time.Second, ConnectTimeout: 10 * time.Second,
	}, logger)
	require.NoError(t, pool.Connect(ctx))
	t.Cleanup(func() { _ = pool.Disconnect(context.Background()) })

	require.NoError(t, database.RunMigrations(ctx, pool, "../database/migrations", logger))

	return New(pool, logger)
}

func TestRepository_ProjectLifecycle(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	project, err := repo.CreateProject(ctx, "https://Example.com/Docs/", "Example Docs")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/docs", project.URL)
	require.Equal(t, domain.ProjectStatusPending, project.Status)

	_, err = repo.CreateProject(ctx, "https://example.com/docs", "Duplicate")
	require.ErrorIs(t, err, ErrConflict)

	fetched, err := repo.GetProject(ctx, project.ID)
	require.NoError(t, err)
	require.Equal(t, project.URL, fetched.URL)

	require.NoError(t, repo.UpdateProjectStatus(ctx, project.ID, domain.ProjectStatusReady))
	fetched, err = repo.GetProject(ctx, project.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ProjectStatusReady, fetched.Status)

	require.NoError(t, repo.DeleteProject(ctx, project.ID))
	_, err = repo.GetProject(ctx, project.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_CrawlJobTriggerHandoff(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	project, err := repo.CreateProject(ctx, "https://example.org", "Example Org")
	require.NoError(t, err)

	// No pending job yet.
	_, err = repo.GetPendingCrawlJob(ctx, project.ID)
	require.ErrorIs(t, err, ErrNotFound)

	// trigger_rescrape's side: insert a pending job ahead of the task running.
	triggered, err := repo.CreateCrawlJob(ctx, project.ID, domain.TriggerLightweightChangeDetected)
	require.NoError(t, err)
	require.Equal(t, domain.CrawlJobPending, triggered.Status)

	// the full-rescrape task's side: pick up that same job rather than
	// inserting a second row for the same trigger.
	picked, err := repo.GetPendingCrawlJob(ctx, project.ID)
	require.NoError(t, err)
	require.Equal(t, triggered.ID, picked.ID)

	running, err := repo.HasRunningCrawlJob(ctx, project.ID)
	require.NoError(t, err)
	require.True(t, running)

	require.NoError(t, repo.MarkCrawlJobRunning(ctx, picked.ID))
	require.NoError(t, repo.CompleteCrawlJob(ctx, picked.ID, domain.CrawlJobCompleted, 10, 2, ""))

	running, err = repo.HasRunningCrawlJob(ctx, project.ID)
	require.NoError(t, err)
	require.False(t, running)

	_, err = repo.GetPendingCrawlJob(ctx, project.ID)
	require.ErrorIs(t, err, ErrNotFound)

	jobs, err := repo.ListCrawlJobs(ctx, project.ID, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, domain.CrawlJobCompleted, jobs[0].Status)
}

func TestRepository_PageUpsertAndInventory(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	project, err := repo.CreateProject(ctx, "https://example.net", "Example Net")
	require.NoError(t, err)

	now := time.Now().UTC()
	pages := []*domain.Page{
		{
			ProjectID: project.ID, URL: "https://example.net", Version: 1,
			Title: "Home", ContentHash: "h1", SampleHash: "s1", CrawledAt: now,
		},
		{
			ProjectID: project.ID, URL: "https://example.net/about", Version: 1,
			Title: "About", ContentHash: "h2", SampleHash: "s2", CrawledAt: now,
		},
	}
	require.NoError(t, repo.SaveMany(ctx, pages))

	got, err := repo.GetPages(ctx, project.ID, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	diff, err := repo.StoreInventory(ctx, project.ID, []string{"https://example.net", "https://example.net/about"}, now)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"https://example.net", "https://example.net/about"}, diff.NewURLs)

	diff, err = repo.StoreInventory(ctx, project.ID, []string{"https://example.net"}, now.Add(time.Hour))
	require.NoError(t, err)
	require.Contains(t, diff.RemovedURLs, "https://example.net/about")
}
