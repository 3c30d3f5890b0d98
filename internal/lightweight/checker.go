// Package lightweight implements the Lightweight Batch Checker (C5): one
// pass over a project's page set using cheap conditional requests, with a
// bulk-change short-circuit and a significance-gated escalation to a full
// rescrape.
package lightweight

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sitewatch/sitewatch/internal/domain"
	"github.com/sitewatch/sitewatch/internal/probe"
	"github.com/sitewatch/sitewatch/internal/repository"
	"github.com/sitewatch/sitewatch/internal/significance"
)

// Scheduler is the subset of scheduler.Scheduler the checker needs.
type Scheduler interface {
	IsInCooldown(ctx context.Context, projectID string) (bool, error)
	CooldownRemaining(ctx context.Context, projectID string) (time.Duration, error)
	SetCooldown(ctx context.Context, projectID string, hours int) error
	GetCheckInterval(ctx context.Context, projectID string) (int, error)
	ScheduleFullCheck(ctx context.Context, projectID string, intervalHours *int, runAt *time.Time) error
}

// Config tunes batch concurrency and significance thresholds.
type Config struct {
	ConcurrencyLimit           int
	PerRequestDelay            time.Duration
	BulkChangeThresholdPercent int
	SignificanceThreshold      int
	FullRescrapeCooldownHours  int
	ProbeTimeout               time.Duration
}

// Checker runs one lightweight pass per invocation.
type Checker struct {
	repo   *repository.Repository
	sched  Scheduler
	prober *probe.Prober
	cfg    Config
	logger *slog.Logger
}

// New builds a Checker.
func New(repo *repository.Repository, sched Scheduler, cfg Config, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{repo: repo, sched: sched, prober: probe.New(cfg.ProbeTimeout, logger), cfg: cfg, logger: logger}
}

// TriggerResult is the outcome of trigger_rescrape.
type TriggerResult struct {
	Triggered      bool
	Reason         string
	RemainingHours float64
}

// RunResult summarizes one lightweight pass.
type RunResult struct {
	ProjectID    string
	TotalPages   int
	ChangedCount int
	ErroredCount int
	Trigger      *TriggerResult
	Err          error
}

// Run executes the full C5 protocol for one project.
func (c *Checker) Run(ctx context.Context, project *domain.Project) RunResult {
	pages, err := c.repo.GetPages(ctx, project.ID, 0)
	if err != nil {
		return RunResult{ProjectID: project.ID, Err: fmt.Errorf("lightweight: load pages: %w", err)}
	}
	if len(pages) == 0 {
		return RunResult{ProjectID: project.ID}
	}

	results := c.probeAll(ctx, pages)

	var changed, firstObs, needsSample, errored []probe.Result
	byURL := make(map[string]*domain.Page, len(pages))
	for _, p := range pages {
		byURL[p.URL] = p
	}

	for _, r := range results {
		switch r.Classified {
		case probe.ChangedByETag, probe.ChangedByLastMod, probe.ChangedByLength:
			changed = append(changed, r)
		case probe.FirstObservation:
			firstObs = append(firstObs, r)
		case probe.NeedsSampleCheck:
			needsSample = append(needsSample, r)
		case probe.UnchangedWithError:
			errored = append(errored, r)
		}
	}

	for _, r := range firstObs {
		page := byURL[r.URL]
		if r.ETag == "" && r.LastModified == "" && r.ContentLength == 0 {
			if hash, err := c.prober.FetchSampleHash(ctx, r.URL); err == nil {
				page.SampleHash = hash
			} else {
				c.logger.Warn("lightweight: sample hash fetch failed", "url", r.URL, "error", err)
			}
		}
		page.ETag, page.LastModifiedHeader, page.ContentLength = r.ETag, r.LastModified, r.ContentLength
	}

	if len(needsSample) > 0 && len(changed) == 0 {
		for _, r := range needsSample {
			page := byURL[r.URL]
			hash, err := c.prober.FetchSampleHash(ctx, r.URL)
			if err != nil {
				c.logger.Warn("lightweight: sample recheck failed", "url", r.URL, "error", err)
				continue
			}
			if hash != page.SampleHash {
				changed = append(changed, r)
			}
		}
	}

	total := len(pages)
	result := RunResult{ProjectID: project.ID, TotalPages: total, ChangedCount: len(changed), ErroredCount: len(errored)}

	if total > 0 && percentExceeds(len(changed), total, c.cfg.BulkChangeThresholdPercent) {
		trigger, err := c.triggerRescrape(ctx, project.ID)
		if err != nil {
			result.Err = err
			return result
		}
		result.Trigger = &trigger
		return result
	}

	if len(changed) > 0 {
		significant, err := c.scoreChangedPages(ctx, project.ID, changed, byURL, total)
		if err != nil {
			result.Err = err
			return result
		}
		if significant {
			trigger, err := c.triggerRescrape(ctx, project.ID)
			if err != nil {
				result.Err = err
				return result
			}
			result.Trigger = &trigger
			return result
		}
	}

	touched := make([]*domain.Page, 0, len(firstObs)+len(changed))
	for _, r := range firstObs {
		touched = append(touched, byURL[r.URL])
	}
	for _, r := range changed {
		p := byURL[r.URL]
		p.ETag, p.LastModifiedHeader, p.ContentLength = r.ETag, r.LastModified, r.ContentLength
		touched = append(touched, p)
	}
	if len(touched) > 0 {
		if err := c.repo.SaveMany(ctx, touched); err != nil {
			result.Err = fmt.Errorf("lightweight: persist fingerprints: %w", err)
		}
	}

	return result
}

func (c *Checker) scoreChangedPages(ctx context.Context, projectID string, changed []probe.Result, byURL map[string]*domain.Page, total int) (bool, error) {
	scores := make([]int, 0, len(changed))
	for _, r := range changed {
		page := byURL[r.URL]
		currentHTML, err := c.prober.FetchBody(ctx, r.URL)
		if err != nil {
			c.logger.Warn("lightweight: fetch for significance scoring failed", "url", r.URL, "error", err)
			continue
		}
		// Baseline is the preserved first_paragraph, not the current
		// stored content_hash; it is deliberately never advanced here
		// so cumulative drift keeps accumulating across passes.
		score := significance.Score(page.FirstParagraph, currentHTML)
		scores = append(scores, score)
	}

	agg := significance.AggregateBatch(len(changed), total, scores, c.cfg.BulkChangeThresholdPercent, c.cfg.SignificanceThreshold)
	return agg.Significant, nil
}

func (c *Checker) triggerRescrape(ctx context.Context, projectID string) (TriggerResult, error) {
	inCooldown, err := c.sched.IsInCooldown(ctx, projectID)
	if err != nil {
		return TriggerResult{}, fmt.Errorf("lightweight: check cooldown: %w", err)
	}
	if inCooldown {
		remaining, err := c.sched.CooldownRemaining(ctx, projectID)
		if err != nil {
			return TriggerResult{}, fmt.Errorf("lightweight: cooldown remaining: %w", err)
		}
		return TriggerResult{Triggered: false, Reason: "cooldown", RemainingHours: remaining.Hours()}, nil
	}

	if _, err := c.repo.CreateCrawlJob(ctx, projectID, domain.TriggerLightweightChangeDetected); err != nil {
		return TriggerResult{}, fmt.Errorf("lightweight: create crawl job: %w", err)
	}
	if err := c.repo.UpdateProjectStatus(ctx, projectID, domain.ProjectStatusPending); err != nil {
		return TriggerResult{}, fmt.Errorf("lightweight: update project status: %w", err)
	}
	if err := c.sched.SetCooldown(ctx, projectID, c.cfg.FullRescrapeCooldownHours); err != nil {
		return TriggerResult{}, fmt.Errorf("lightweight: set cooldown: %w", err)
	}

	intervalHours, err := c.sched.GetCheckInterval(ctx, projectID)
	if err != nil {
		return TriggerResult{}, fmt.Errorf("lightweight: get check interval: %w", err)
	}
	runAt := time.Now().UTC().Add(time.Duration(intervalHours) * time.Hour)
	if err := c.sched.ScheduleFullCheck(ctx, projectID, &intervalHours, &runAt); err != nil {
		return TriggerResult{}, fmt.Errorf("lightweight: reschedule full check: %w", err)
	}

	return TriggerResult{Triggered: true}, nil
}

func (c *Checker) probeAll(ctx context.Context, pages []*domain.Page) []probe.Result {
	limit := int64(c.cfg.ConcurrencyLimit)
	if limit <= 0 {
		limit = 10
	}
	sem := semaphore.NewWeighted(limit)

	results := make([]probe.Result, len(pages))
	done := make(chan struct{}, len(pages))

	for i, p := range pages {
		i, p := i, p
		sem.Acquire(ctx, 1)
		go func() {
			defer sem.Release(1)
			defer func() { done <- struct{}{} }()

			if c.cfg.PerRequestDelay > 0 {
				time.Sleep(c.cfg.PerRequestDelay)
			}

			stored := repository.Fingerprint{
				ETag: p.ETag, LastModifiedHeader: p.LastModifiedHeader,
				ContentLength: p.ContentLength, SampleHash: p.SampleHash,
			}
			hasHistory := p.ETag != "" || p.LastModifiedHeader != "" || p.ContentLength != 0 || p.SampleHash != ""
			results[i] = c.prober.Probe(ctx, p.URL, stored, hasHistory)
		}()
	}

	for range pages {
		<-done
	}
	return results
}

func percentExceeds(count, total, thresholdPercent int) bool {
	if total == 0 {
		return false
	}
	return (count*100)/total > thresholdPercent
}
