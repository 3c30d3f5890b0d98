// Package tasks stands in for the external background task executor:
// a bounded worker pool draining two dispatch loops, one per check
// tier. It owns no domain logic itself — it schedules, bounds, and
// times out calls into the lightweight checker (C5) and the planner
// (C7), and records the crawl-job bookkeeping around a full rescrape.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sitewatch/sitewatch/internal/domain"
	"github.com/sitewatch/sitewatch/internal/infrastructure/lock"
	"github.com/sitewatch/sitewatch/internal/lightweight"
	"github.com/sitewatch/sitewatch/internal/planner"
	"github.com/sitewatch/sitewatch/internal/progress"
	"github.com/sitewatch/sitewatch/internal/providers/crawler"
	"github.com/sitewatch/sitewatch/internal/repository"
	"github.com/sitewatch/sitewatch/internal/scheduler"
	"github.com/sitewatch/sitewatch/pkg/metrics"
)

const crawlLockPrefix = "sitewatch:crawl-lock:"

// Soft/hard wall-clock limits per task kind. A soft-limit breach is
// logged and the task keeps running; a hard-limit breach cancels the
// task's context and the task is recorded as failed.
const (
	dispatchSoftLimit    = 30 * time.Second
	dispatchHardLimit    = 33 * time.Second
	lightweightSoftLimit = 120 * time.Second
	lightweightHardLimit = 132 * time.Second
	fullCrawlSoftLimit   = 600 * time.Second
	fullCrawlHardLimit   = 660 * time.Second
)

const defaultMaxPagesPerCrawl = 500

// Config tunes the runner's ticker cadence, batch sizes, and the
// lightweight checker it drives.
type Config struct {
	MaxWorkers                int
	LightweightTickInterval   time.Duration
	FullCheckTickInterval     time.Duration
	LightweightBatchSize      int
	FullCheckBatchSize        int
	ConcurrencyLimit          int
	PerRequestDelay           time.Duration
	FullRescrapeCooldownHours int
	BulkChangeThresholdPercent int
	SignificanceThreshold     int
	MaxPagesPerCrawl          int
}

type jobKind int

const (
	jobLightweightCheck jobKind = iota
	jobFullRescrape
)

type job struct {
	kind      jobKind
	projectID string
	reason    domain.TriggerReason
}

// Runner is the A4 task runner (the composition root's only background
// goroutine owner besides the HTTP server).
type Runner struct {
	cfg      Config
	repo     *repository.Repository
	sched    *scheduler.Scheduler
	planner  *planner.Planner
	progress *progress.Store
	crawler  crawler.Provider
	checker  *lightweight.Checker
	business *metrics.BusinessMetrics
	locks    *lock.LockManager
	logger   *slog.Logger

	jobs   chan job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner builds a Runner. It owns its own lightweight.Checker,
// wired against the same repository and scheduler. locks guards
// doFullRescrape against two runner instances (or two replicas of the
// same process) picking up the same project out of Redis at once; the
// project-status check alone only catches overlap once a previous run
// has already flipped the project to "crawling".
func NewRunner(
	cfg Config, repo *repository.Repository, sched *scheduler.Scheduler, plannerSvc *planner.Planner,
	progressStore *progress.Store, crawlerProvider crawler.Provider, locks *lock.LockManager,
	business *metrics.BusinessMetrics, logger *slog.Logger,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.MaxPagesPerCrawl <= 0 {
		cfg.MaxPagesPerCrawl = defaultMaxPagesPerCrawl
	}

	checker := lightweight.New(repo, sched, lightweight.Config{
		ConcurrencyLimit:           cfg.ConcurrencyLimit,
		PerRequestDelay:            cfg.PerRequestDelay,
		BulkChangeThresholdPercent: cfg.BulkChangeThresholdPercent,
		SignificanceThreshold:      cfg.SignificanceThreshold,
		FullRescrapeCooldownHours:  cfg.FullRescrapeCooldownHours,
		ProbeTimeout:               10 * time.Second,
	}, logger)

	return &Runner{
		cfg: cfg, repo: repo, sched: sched, planner: plannerSvc, progress: progressStore,
		crawler: crawlerProvider, checker: checker, locks: locks, business: business, logger: logger,
		jobs: make(chan job, cfg.LightweightBatchSize+cfg.FullCheckBatchSize+16),
	}
}

// Start launches the worker pool and the two dispatch loops. It returns
// immediately; shutdown happens via Stop.
func (r *Runner) Start(parent context.Context) {
	r.ctx, r.cancel = context.WithCancel(parent)

	for i := 0; i < r.cfg.MaxWorkers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	r.wg.Add(2)
	go r.lightweightDispatchLoop()
	go r.fullCheckDispatchLoop()

	r.logger.Info("task runner started", "workers", r.cfg.MaxWorkers,
		"lightweight_tick", r.cfg.LightweightTickInterval, "full_check_tick", r.cfg.FullCheckTickInterval)
}

// Stop cancels all in-flight work and waits for the worker pool and
// dispatch loops to exit.
func (r *Runner) Stop() {
	if r.cancel == nil {
		return
	}
	r.logger.Info("task runner stopping")
	r.cancel()
	close(r.jobs)
	r.wg.Wait()
	r.logger.Info("task runner stopped")
}

func (r *Runner) worker(id int) {
	defer r.wg.Done()
	for j := range r.jobs {
		r.run(j)
	}
	r.logger.Debug("task worker exiting", "worker_id", id)
}

func (r *Runner) run(j job) {
	switch j.kind {
	case jobLightweightCheck:
		r.runLightweightCheck(j.projectID)
	case jobFullRescrape:
		r.runFullRescrape(j.projectID, j.reason)
	}
}

func (r *Runner) lightweightDispatchLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.LightweightTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.dispatchDue(scheduler.TimerLightweightCheck)
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Runner) fullCheckDispatchLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.FullCheckTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.dispatchDue(scheduler.TimerFullCheck)
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Runner) dispatchDue(timer string) {
	ctx, cancel := context.WithTimeout(r.ctx, dispatchHardLimit)
	defer cancel()

	softTimer := time.AfterFunc(dispatchSoftLimit, func() {
		r.logger.Warn("dispatch tick exceeded soft time limit", "timer", timer)
	})
	defer softTimer.Stop()

	var dueIDs []string
	var err error
	var kind jobKind
	switch timer {
	case scheduler.TimerLightweightCheck:
		dueIDs, err = r.sched.GetDueLightweightChecks(ctx, r.cfg.LightweightBatchSize)
		kind = jobLightweightCheck
	case scheduler.TimerFullCheck:
		dueIDs, err = r.sched.GetDueFullChecks(ctx, r.cfg.FullCheckBatchSize)
		kind = jobFullRescrape
	}
	if err != nil {
		r.logger.Error("dispatch: get due projects failed", "timer", timer, "error", err)
		return
	}
	if r.business != nil {
		r.business.RecordSchedulerDue(timer, len(dueIDs))
	}

	for _, id := range dueIDs {
		select {
		case r.jobs <- job{kind: kind, projectID: id, reason: domain.TriggerScheduledCheck}:
		default:
			r.logger.Warn("task queue full, re-scheduling project for next tick", "project_id", id, "timer", timer)
			r.reschedule(id, timer)
		}
	}
}

func (r *Runner) reschedule(projectID, timer string) {
	switch timer {
	case scheduler.TimerLightweightCheck:
		_ = r.sched.ScheduleLightweightCheck(context.Background(), projectID, nil, nil)
	case scheduler.TimerFullCheck:
		_ = r.sched.ScheduleFullCheck(context.Background(), projectID, nil, nil)
	}
}

// TriggerFullRescrape enqueues an immediate manual full rescrape,
// bypassing the dispatch-loop timers. Used by the API's recrawl
// endpoint.
func (r *Runner) TriggerFullRescrape(projectID string) {
	select {
	case r.jobs <- job{kind: jobFullRescrape, projectID: projectID, reason: domain.TriggerManual}:
	default:
		r.logger.Warn("task queue full, manual recrawl dropped", "project_id", projectID)
	}
}

func (r *Runner) runLightweightCheck(projectID string) {
	ctx, cancel := context.WithTimeout(r.ctx, lightweightHardLimit)
	defer cancel()

	softTimer := time.AfterFunc(lightweightSoftLimit, func() {
		r.logger.Warn("lightweight check exceeded soft time limit", "project_id", projectID)
	})
	defer softTimer.Stop()

	project, err := r.repo.GetProject(ctx, projectID)
	if err != nil {
		r.logger.Error("lightweight check: load project failed", "project_id", projectID, "error", err)
		return
	}
	if project.Status != domain.ProjectStatusReady {
		r.logger.Debug("lightweight check: project not ready, skipping", "project_id", projectID, "status", project.Status)
		return
	}

	result := r.checker.Run(ctx, project)
	if result.Err != nil {
		r.logger.Error("lightweight check failed", "project_id", projectID, "error", result.Err)
		return
	}

	r.logger.Info("lightweight check complete", "project_id", projectID,
		"total_pages", result.TotalPages, "changed", result.ChangedCount, "errored", result.ErroredCount)

	if result.Trigger != nil && result.Trigger.Triggered {
		r.logger.Info("lightweight check triggered full rescrape", "project_id", projectID, "reason", result.Trigger.Reason)
	}
}

func (r *Runner) runFullRescrape(projectID string, reason domain.TriggerReason) {
	ctx, cancel := context.WithTimeout(r.ctx, fullCrawlHardLimit)
	defer cancel()

	softTimer := time.AfterFunc(fullCrawlSoftLimit, func() {
		r.logger.Warn("full rescrape exceeded soft time limit", "project_id", projectID)
	})
	defer softTimer.Stop()

	start := time.Now()
	err := r.doFullRescrape(ctx, projectID, reason)
	duration := time.Since(start).Seconds()

	status := "completed"
	if err != nil {
		status = "failed"
		r.logger.Error("full rescrape failed", "project_id", projectID, "reason", reason, "error", err)
	} else {
		r.logger.Info("full rescrape complete", "project_id", projectID, "reason", reason, "duration_seconds", duration)
	}
	if r.business != nil {
		r.business.RecordCrawlJob(string(reason), status, duration)
	}
}

func (r *Runner) doFullRescrape(ctx context.Context, projectID string, reason domain.TriggerReason) error {
	project, err := r.repo.GetProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}

	if project.Status == domain.ProjectStatusCrawling {
		r.logger.Info("full rescrape skipped: crawl already in progress", "project_id", projectID)
		return nil
	}

	crawlLock, err := r.locks.AcquireLock(ctx, crawlLockPrefix+projectID)
	if err != nil {
		r.logger.Info("full rescrape skipped: lock held by another runner", "project_id", projectID, "error", err)
		return nil
	}
	defer func() {
		if err := r.locks.ReleaseLock(context.Background(), crawlLock.GetKey()); err != nil {
			r.logger.Error("release crawl lock failed", "project_id", projectID, "error", err)
		}
	}()

	// trigger_rescrape (internal/lightweight) already inserts a pending
	// crawl job ahead of the scheduled run; pick that one up instead of
	// inserting a second row for the same trigger.
	crawlJob, err := r.repo.GetPendingCrawlJob(ctx, projectID)
	if errors.Is(err, repository.ErrNotFound) {
		crawlJob, err = r.repo.CreateCrawlJob(ctx, projectID, reason)
	}
	if err != nil {
		return fmt.Errorf("create crawl job: %w", err)
	}
	if err := r.repo.MarkCrawlJobRunning(ctx, crawlJob.ID); err != nil {
		return fmt.Errorf("mark crawl job running: %w", err)
	}
	if err := r.repo.UpdateProjectStatus(ctx, projectID, domain.ProjectStatusCrawling); err != nil {
		return fmt.Errorf("update project status: %w", err)
	}

	r.progress.Start(ctx, projectID, progress.StageCrawl, 0)

	mappedURLs, err := r.crawler.MapSite(ctx, project.URL)
	if err != nil {
		return r.failCrawlJob(ctx, projectID, crawlJob.ID, fmt.Errorf("map site: %w", err))
	}
	r.progress.Update(ctx, projectID, progress.StageCrawl, 0, len(mappedURLs), project.URL)

	freshPages, err := r.crawler.CrawlSite(ctx, project.URL, r.cfg.MaxPagesPerCrawl)
	if err != nil {
		return r.failCrawlJob(ctx, projectID, crawlJob.ID, fmt.Errorf("crawl site: %w", err))
	}
	r.progress.Update(ctx, projectID, progress.StageFilter, len(freshPages), len(freshPages), "")

	r.progress.Update(ctx, projectID, progress.StageCurate, len(freshPages), len(freshPages), "")
	result, err := r.planner.Execute(ctx, project, freshPages, mappedURLs, reason)
	if err != nil {
		return r.failCrawlJob(ctx, projectID, crawlJob.ID, fmt.Errorf("planner execute: %w", err))
	}
	r.progress.Update(ctx, projectID, progress.StageGenerate, len(freshPages), len(freshPages), "")

	changedCount := 0
	if result.WorkDone {
		changedCount = result.SectionsChanged
		if result.Decision == planner.DecisionFullRegen {
			changedCount = len(freshPages)
		}
	}

	if _, err := r.sched.ApplyBackoff(ctx, projectID, result.WorkDone); err != nil {
		r.logger.Error("apply backoff failed", "project_id", projectID, "error", err)
	}
	if err := r.sched.ScheduleFullCheck(ctx, projectID, nil, nil); err != nil {
		r.logger.Error("reschedule full check failed", "project_id", projectID, "error", err)
	}

	if err := r.repo.CompleteCrawlJob(ctx, crawlJob.ID, domain.CrawlJobCompleted, len(freshPages), changedCount, ""); err != nil {
		r.logger.Error("mark crawl job completed failed", "project_id", projectID, "error", err)
	}
	if err := r.repo.UpdateProjectStatus(ctx, projectID, domain.ProjectStatusReady); err != nil {
		r.logger.Error("restore project status failed", "project_id", projectID, "error", err)
	}
	if err := r.repo.TouchLastChecked(ctx, projectID, time.Now().UTC()); err != nil {
		r.logger.Error("touch last checked failed", "project_id", projectID, "error", err)
	}
	if result.ArtifactVersion > 0 && r.business != nil {
		r.business.RecordArtifactVersion(string(reason))
	}

	r.progress.Complete(ctx, projectID)
	return nil
}

// failCrawlJob implements the time-limit-exceeded / permanent-remote
// branch of the error taxonomy: the crawl job and project both move to
// a terminal failed state rather than being left crawling forever.
func (r *Runner) failCrawlJob(ctx context.Context, projectID, crawlJobID string, cause error) error {
	if err := r.repo.CompleteCrawlJob(context.Background(), crawlJobID, domain.CrawlJobFailed, 0, 0, cause.Error()); err != nil {
		r.logger.Error("mark crawl job failed failed", "project_id", projectID, "error", err)
	}
	if err := r.repo.UpdateProjectStatus(context.Background(), projectID, domain.ProjectStatusFailed); err != nil {
		r.logger.Error("mark project failed failed", "project_id", projectID, "error", err)
	}
	r.progress.Complete(context.Background(), projectID)
	return cause
}
