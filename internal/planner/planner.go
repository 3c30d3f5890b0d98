// Package planner implements the Selective-Regeneration Planner (C7):
// given a fresh crawl result, it decides the minimum work needed to
// bring a project's artifact up to date, without oscillation.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sitewatch/sitewatch/internal/domain"
	"github.com/sitewatch/sitewatch/internal/merger"
	"github.com/sitewatch/sitewatch/internal/providers/crawler"
	"github.com/sitewatch/sitewatch/internal/providers/llm"
	"github.com/sitewatch/sitewatch/internal/repository"
	"github.com/sitewatch/sitewatch/pkg/metrics"
)

// Thresholds for the full-regen rules (R1-R4), fixed by the spec.
const (
	removedRatioThreshold     = 0.5
	significantRatioThreshold = 0.5
	newRatioThreshold         = 0.3
)

// Config carries the bulk-change and significance thresholds handed to
// New. The planner stores them but does not read them; the R1-R4 rules
// use only the fixed ratios above.
type Config struct {
	BulkChangeThresholdPercent int
	SignificanceThreshold      int
}

// Decision names which execution path the planner took.
type Decision string

const (
	DecisionFullRegen Decision = "full_regen"
	DecisionSelective Decision = "selective"
	DecisionNoop      Decision = "noop"
)

// Result summarizes one Execute call.
type Result struct {
	Decision        Decision
	FiredRule       string
	SectionsChanged int
	WorkDone        bool
	ArtifactVersion int
}

// artifactCache is the subset of *repository.ArtifactCache the planner
// needs to keep cached reads from going stale the moment it commits a new
// version. Declared as an interface so the planner package doesn't import
// the concrete LRU wrapper just to invalidate it.
type artifactCache interface {
	Invalidate(projectID string)
}

// Planner is the C7 service.
type Planner struct {
	repo     *repository.Repository
	llm      llm.Provider
	cfg      Config
	business *metrics.BusinessMetrics
	logger   *slog.Logger
	cache    artifactCache
}

// New builds a Planner.
func New(repo *repository.Repository, llmProvider llm.Provider, cfg Config, business *metrics.BusinessMetrics, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{repo: repo, llm: llmProvider, cfg: cfg, business: business, logger: logger}
}

// SetArtifactCache wires the LRU read cache in front of
// repository.GetCurrentArtifact so planner commits invalidate it
// immediately instead of waiting out its TTL.
func (p *Planner) SetArtifactCache(cache artifactCache) {
	p.cache = cache
}

// Execute runs stages A-H against a fresh crawl result for a project in
// status "ready". mappedURLs comes from a fast site-map provider when
// available, else it should be the crawl's own URL set.
func (p *Planner) Execute(ctx context.Context, project *domain.Project, freshPages []crawler.PageRecord, mappedURLs []string, reason domain.TriggerReason) (Result, error) {
	freshByURL := make(map[string]crawler.PageRecord, len(freshPages))
	for _, fp := range freshPages {
		freshByURL[fp.URL] = fp
	}

	if len(mappedURLs) == 0 {
		mappedURLs = make([]string, 0, len(freshPages))
		for _, fp := range freshPages {
			mappedURLs = append(mappedURLs, fp.URL)
		}
	}

	diff, err := p.repo.StoreInventory(ctx, project.ID, mappedURLs, time.Now().UTC())
	if err != nil {
		return Result{}, fmt.Errorf("planner: stage a: %w", err)
	}
	removed := toSet(diff.RemovedURLs)

	curatedPages, err := p.repo.ListCuratedPages(ctx, project.ID)
	if err != nil {
		return Result{}, fmt.Errorf("planner: load curated pages: %w", err)
	}
	curatedSections, err := p.repo.ListCuratedSections(ctx, project.ID)
	if err != nil {
		return Result{}, fmt.Errorf("planner: load curated sections: %w", err)
	}

	var result Result
	if len(curatedPages) == 0 {
		result, err = p.executeFullRegen(ctx, project, freshPages, reason)
	} else {
		result, err = p.planAndExecute(ctx, project, freshPages, freshByURL, removed, curatedPages, curatedSections, reason)
	}
	if err != nil {
		return Result{}, err
	}

	if err := p.persistFreshVersion(ctx, project.ID, freshPages); err != nil {
		return result, fmt.Errorf("planner: stage h: %w", err)
	}

	if p.business != nil {
		p.business.RecordPlannerDecision(string(result.Decision), result.FiredRule)
		if result.Decision == DecisionSelective {
			p.business.RecordPlannerSectionsChanged(result.SectionsChanged)
		}
	}

	return result, nil
}

func (p *Planner) planAndExecute(
	ctx context.Context, project *domain.Project, freshPages []crawler.PageRecord, freshByURL map[string]crawler.PageRecord,
	removed map[string]bool, curatedPages []*domain.CuratedPage, curatedSections []*domain.CuratedSection, reason domain.TriggerReason,
) (Result, error) {
	curatedByURL := make(map[string]*domain.CuratedPage, len(curatedPages))
	curatedURLs := make([]string, 0, len(curatedPages))
	for _, cp := range curatedPages {
		curatedByURL[cp.URL] = cp
		curatedURLs = append(curatedURLs, cp.URL)
	}

	var removedFromSite, stillCurated []string
	for _, u := range curatedURLs {
		if removed[u] {
			removedFromSite = append(removedFromSite, u)
		} else {
			stillCurated = append(stillCurated, u)
		}
	}

	var hashMismatch []string
	for _, u := range stillCurated {
		fresh, ok := freshByURL[u]
		if !ok {
			continue
		}
		if fresh.ContentHash != curatedByURL[u].ContentHash {
			hashMismatch = append(hashMismatch, u)
		}
	}

	significantChanges, err := p.stageCSemanticFilter(ctx, hashMismatch, curatedByURL, freshByURL)
	if err != nil {
		return Result{}, fmt.Errorf("planner: stage c: %w", err)
	}

	trulyNew := []string{}
	for u := range freshByURL {
		if _, known := curatedByURL[u]; known {
			continue
		}
		if _, stillRemoved := removed[u]; stillRemoved {
			continue
		}
		trulyNew = append(trulyNew, u)
	}

	newRelevant, newAssignments, newSectionNames, err := p.stageDNewURLFilter(ctx, trulyNew, freshByURL, curatedSections, project)
	if err != nil {
		return Result{}, fmt.Errorf("planner: stage d: %w", err)
	}

	curatedCount := len(curatedURLs)
	existingSectionCount := len(curatedSections)

	var firedRule string
	fullRegen := false
	if curatedCount > 0 {
		if ratio(len(removedFromSite), curatedCount) > removedRatioThreshold {
			fullRegen, firedRule = true, "R1_removed_ratio"
		} else if ratio(len(significantChanges), curatedCount) > significantRatioThreshold {
			fullRegen, firedRule = true, "R2_significant_ratio"
		} else if ratio(len(newRelevant), curatedCount) > newRatioThreshold {
			fullRegen, firedRule = true, "R3_new_ratio"
		}
	}
	if !fullRegen && len(newSectionNames) > 0 && existingSectionCount > 0 && len(newSectionNames) >= existingSectionCount {
		fullRegen, firedRule = true, "R4_new_sections"
	}

	if fullRegen {
		result, err := p.executeFullRegen(ctx, project, freshPages, reason)
		if err != nil {
			return Result{}, err
		}
		result.FiredRule = firedRule
		return result, nil
	}

	if len(removedFromSite) == 0 && len(significantChanges) == 0 && len(newRelevant) == 0 {
		return Result{Decision: DecisionNoop, WorkDone: false}, nil
	}

	return p.executeSelective(ctx, project, freshByURL, removedFromSite, significantChanges, newRelevant, newAssignments, curatedByURL, curatedSections, reason)
}

func (p *Planner) stageCSemanticFilter(ctx context.Context, hashMismatch []string, curatedByURL map[string]*domain.CuratedPage, freshByURL map[string]crawler.PageRecord) (map[string]bool, error) {
	if len(hashMismatch) == 0 {
		return map[string]bool{}, nil
	}

	changes := make([]llm.SignificanceChange, 0, len(hashMismatch))
	for _, u := range hashMismatch {
		changes = append(changes, llm.SignificanceChange{
			URL: u, OldDesc: curatedByURL[u].Description, NewMD: truncate(freshByURL[u].Markdown, 4000),
		})
	}

	significant, _, err := p.llm.EvaluateSemanticSignificance(ctx, changes)
	if err != nil {
		return nil, err
	}
	return significant, nil
}

func (p *Planner) stageDNewURLFilter(
	ctx context.Context, trulyNew []string, freshByURL map[string]crawler.PageRecord, curatedSections []*domain.CuratedSection, project *domain.Project,
) (newRelevant []string, assignments map[string]string, newSectionNames []string, err error) {
	if len(trulyNew) == 0 {
		return nil, map[string]string{}, nil, nil
	}

	inputs := make([]llm.RelevanceInput, 0, len(trulyNew))
	for _, u := range trulyNew {
		fresh := freshByURL[u]
		inputs = append(inputs, llm.RelevanceInput{
			URL: u, Title: fresh.Title, Description: fresh.Description,
			IsHomepage: domain.IsHomepage(u, project.URL),
		})
	}

	relevantSet, err := p.llm.FilterRelevance(ctx, inputs)
	if err != nil {
		return nil, nil, nil, err
	}

	existingNames := make([]string, 0, len(curatedSections))
	for _, s := range curatedSections {
		existingNames = append(existingNames, s.Name)
	}

	var newCandidates []llm.CategorizationInput
	for _, u := range trulyNew {
		if !relevantSet[u] {
			continue
		}
		newRelevant = append(newRelevant, u)
		fresh := freshByURL[u]
		newCandidates = append(newCandidates, llm.CategorizationInput{URL: u, Title: fresh.Title, Description: fresh.Description})
	}

	categorized, err := p.llm.CategorizeNewPages(ctx, newCandidates, existingNames)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("categorize new pages: %w", err)
	}
	return newRelevant, categorized.Categories, categorized.NewSections, nil
}

func ratio(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0
	}
	return float64(numerator) / float64(denominator)
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, i := range items {
		out[i] = true
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func firstParagraph(markdown string) string {
	if idx := strings.Index(markdown, "\n\n"); idx != -1 {
		markdown = markdown[:idx]
	}
	return truncate(markdown, 500)
}
