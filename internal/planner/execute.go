package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/sitewatch/sitewatch/internal/domain"
	"github.com/sitewatch/sitewatch/internal/merger"
	"github.com/sitewatch/sitewatch/internal/providers/crawler"
	"github.com/sitewatch/sitewatch/internal/providers/llm"
)

// executeFullRegen re-filters every crawled page, re-curates the whole
// site, and replaces the overview, every section, and every curated
// page inside one transaction.
func (p *Planner) executeFullRegen(ctx context.Context, project *domain.Project, freshPages []crawler.PageRecord, reason domain.TriggerReason) (Result, error) {
	inputs := make([]llm.RelevanceInput, 0, len(freshPages))
	for _, fp := range freshPages {
		inputs = append(inputs, llm.RelevanceInput{URL: fp.URL, Title: fp.Title, Description: fp.Description, IsHomepage: fp.IsHomepage || domain.IsHomepage(fp.URL, project.URL)})
	}
	relevant, err := p.llm.FilterRelevance(ctx, inputs)
	if err != nil {
		return Result{}, fmt.Errorf("full regen: filter relevance: %w", err)
	}

	curationPages := make([]llm.CurationPage, 0, len(freshPages))
	byURL := make(map[string]crawler.PageRecord, len(freshPages))
	for _, fp := range freshPages {
		byURL[fp.URL] = fp
		if relevant[fp.URL] {
			curationPages = append(curationPages, llm.CurationPage{URL: fp.URL, Title: fp.Title, Description: fp.Description, Markdown: fp.Markdown})
		}
	}

	curation, err := p.llm.CurateFull(ctx, curationPages)
	if err != nil {
		return Result{}, fmt.Errorf("full regen: curate full: %w", err)
	}

	tx, err := p.repo.BeginTx(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("full regen: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := p.repo.DeleteAllCuratedSections(ctx, tx, project.ID); err != nil {
		return Result{}, err
	}
	if err := p.repo.DeleteAllCuratedPages(ctx, tx, project.ID); err != nil {
		return Result{}, err
	}

	overview := &domain.SiteOverview{ProjectID: project.ID, Title: curation.SiteTitle, Tagline: curation.Tagline, Overview: curation.Overview}
	if err := p.repo.UpsertSiteOverview(ctx, tx, overview); err != nil {
		return Result{}, err
	}

	sections := make([]*domain.CuratedSection, 0, len(curation.Sections))
	pagesByURL := make(map[string]*domain.CuratedPage)
	now := time.Now().UTC()

	for _, section := range curation.Sections {
		urls := make([]string, 0, len(section.Pages))
		for _, sp := range section.Pages {
			fresh := byURL[sp.URL]
			cp := &domain.CuratedPage{
				ProjectID: project.ID, URL: sp.URL, Title: sp.Title, Description: sp.Description,
				Category: section.Name, ContentHash: fresh.ContentHash, SampleHash: fresh.SampleHash,
				CreatedAt: now, UpdatedAt: now,
			}
			if err := p.repo.UpsertCuratedPage(ctx, tx, cp); err != nil {
				return Result{}, err
			}
			pagesByURL[sp.URL] = cp
			urls = append(urls, sp.URL)
		}
		cs := &domain.CuratedSection{ProjectID: project.ID, Name: section.Name, Description: section.Description, PageURLs: urls, CreatedAt: now, UpdatedAt: now}
		if err := p.repo.UpsertCuratedSection(ctx, tx, cs); err != nil {
			return Result{}, err
		}
		sections = append(sections, cs)
	}

	artifactContent := merger.Build(overview, sections, pagesByURL, project.URL)
	hash := merger.Hash(artifactContent)

	currentVersion, err := p.repo.MaxArtifactVersion(ctx, project.ID)
	if err != nil {
		return Result{}, err
	}
	av := &domain.ArtifactVersion{ProjectID: project.ID, Version: currentVersion + 1, Content: artifactContent, ContentHash: hash, GeneratedAt: now, TriggerReason: reason}
	if err := p.repo.WriteArtifactVersion(ctx, tx, av); err != nil {
		return Result{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("full regen: commit: %w", err)
	}
	if p.cache != nil {
		p.cache.Invalidate(project.ID)
	}

	return Result{Decision: DecisionFullRegen, WorkDone: true, SectionsChanged: len(sections), ArtifactVersion: av.Version}, nil
}

// executeSelective regenerates only the sections touched by removal,
// significant change, or new-page assignment, leaving the rest of the
// merged artifact byte-identical.
func (p *Planner) executeSelective(
	ctx context.Context, project *domain.Project, freshByURL map[string]crawler.PageRecord,
	removedFromSite, significantChanges, newRelevant []string, newAssignments map[string]string,
	curatedByURL map[string]*domain.CuratedPage, curatedSections []*domain.CuratedSection, reason domain.TriggerReason,
) (Result, error) {
	removedSet := toSet(removedFromSite)
	significantSet := toSet(significantChanges)

	affected := make(map[string]*domain.CuratedSection)
	for _, s := range curatedSections {
		for _, u := range s.PageURLs {
			if removedSet[u] || significantSet[u] {
				affected[s.Name] = s
			}
		}
	}
	for _, section := range newAssignments {
		for _, s := range curatedSections {
			if s.Name == section {
				affected[s.Name] = s
			}
		}
	}

	overview, err := p.repo.GetSiteOverview(ctx, project.ID)
	if err != nil {
		return Result{}, fmt.Errorf("selective: load overview: %w", err)
	}

	tx, err := p.repo.BeginTx(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("selective: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	var deletedSectionNames []string

	for name, section := range affected {
		newURLsForSection := []string{}
		for u, target := range newAssignments {
			if target == name {
				newURLsForSection = append(newURLsForSection, u)
			}
		}

		retained := make([]string, 0, len(section.PageURLs))
		for _, u := range section.PageURLs {
			if !removedSet[u] {
				retained = append(retained, u)
			}
		}
		retained = append(retained, newURLsForSection...)

		pages := make([]llm.CurationSectionPage, 0, len(retained))
		for _, u := range retained {
			if cp, ok := curatedByURL[u]; ok {
				pages = append(pages, llm.CurationSectionPage{URL: cp.URL, Title: cp.Title, Description: cp.Description})
			} else if fp, ok := freshByURL[u]; ok {
				pages = append(pages, llm.CurationSectionPage{URL: fp.URL, Title: fp.Title, Description: fp.Description})
			}
		}

		action, err := p.llm.RegenerateSection(ctx, name, pages, overview.Title)
		if err != nil {
			return Result{}, fmt.Errorf("selective: regenerate section %q: %w", name, err)
		}

		if action.Delete != nil {
			if err := p.repo.DeleteCuratedSection(ctx, tx, project.ID, name); err != nil {
				return Result{}, err
			}
			for _, u := range section.PageURLs {
				if err := p.repo.DeleteCuratedPage(ctx, tx, project.ID, u); err != nil {
					return Result{}, err
				}
			}
			deletedSectionNames = append(deletedSectionNames, name)
			continue
		}

		for _, u := range retained {
			fresh, hasFresh := freshByURL[u]
			existing := curatedByURL[u]
			cp := &domain.CuratedPage{ProjectID: project.ID, URL: u, Category: name, CreatedAt: now, UpdatedAt: now}
			if existing != nil {
				cp.Title, cp.Description, cp.ContentHash, cp.SampleHash = existing.Title, existing.Description, existing.ContentHash, existing.SampleHash
				cp.CreatedAt = existing.CreatedAt
			}
			if hasFresh {
				cp.Title, cp.ContentHash, cp.SampleHash = fresh.Title, fresh.ContentHash, fresh.SampleHash
				if cp.Description == "" {
					cp.Description = fresh.Description
				}
			}
			if err := p.repo.UpsertCuratedPage(ctx, tx, cp); err != nil {
				return Result{}, err
			}
		}
		for _, u := range removedFromSite {
			inThisSection := false
			for _, su := range section.PageURLs {
				if su == u {
					inThisSection = true
					break
				}
			}
			if inThisSection {
				if err := p.repo.DeleteCuratedPage(ctx, tx, project.ID, u); err != nil {
					return Result{}, err
				}
			}
		}

		section.PageURLs = retained
		if action.Keep != nil && action.Keep.Description != "" {
			section.Description = action.Keep.Description
		}
		if err := p.repo.UpsertCuratedSection(ctx, tx, section); err != nil {
			return Result{}, err
		}
	}

	mergedSections := make([]*domain.CuratedSection, 0, len(curatedSections))
	for _, s := range curatedSections {
		deleted := false
		for _, d := range deletedSectionNames {
			if s.Name == d {
				deleted = true
				break
			}
		}
		if !deleted {
			mergedSections = append(mergedSections, s)
		}
	}

	allPages, err := p.repo.ListCuratedPages(ctx, project.ID)
	if err != nil {
		return Result{}, fmt.Errorf("selective: reload curated pages: %w", err)
	}
	pagesByURL := make(map[string]*domain.CuratedPage, len(allPages))
	for _, cp := range allPages {
		pagesByURL[cp.URL] = cp
	}

	artifactContent := merger.Build(overview, mergedSections, pagesByURL, project.URL)
	hash := merger.Hash(artifactContent)

	currentVersion, err := p.repo.MaxArtifactVersion(ctx, project.ID)
	if err != nil {
		return Result{}, err
	}
	av := &domain.ArtifactVersion{ProjectID: project.ID, Version: currentVersion + 1, Content: artifactContent, ContentHash: hash, GeneratedAt: now, TriggerReason: reason}
	if err := p.repo.WriteArtifactVersion(ctx, tx, av); err != nil {
		return Result{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("selective: commit: %w", err)
	}
	if p.cache != nil {
		p.cache.Invalidate(project.ID)
	}

	return Result{Decision: DecisionSelective, WorkDone: true, SectionsChanged: len(affected), ArtifactVersion: av.Version}, nil
}

// persistFreshVersion writes every crawled page at max_version+1, with
// ETag and Last-Modified cleared so the next lightweight pass's HEAD
// observes fresh identity values instead of comparing against a crawl
// snapshot the probe never issued itself.
func (p *Planner) persistFreshVersion(ctx context.Context, projectID string, freshPages []crawler.PageRecord) error {
	if len(freshPages) == 0 {
		return nil
	}

	maxVersion, err := p.repo.MaxVersion(ctx, projectID)
	if err != nil {
		return err
	}
	nextVersion := maxVersion + 1
	now := time.Now().UTC()

	pages := make([]*domain.Page, 0, len(freshPages))
	for _, fp := range freshPages {
		pages = append(pages, &domain.Page{
			ProjectID: projectID, URL: fp.URL, Title: fp.Title, Description: fp.Description,
			FirstParagraph: firstParagraph(fp.Markdown), ContentHash: fp.ContentHash, SampleHash: fp.SampleHash,
			ContentLength: fp.ContentLength, Version: nextVersion, CrawledAt: now,
		})
	}
	return p.repo.SaveMany(ctx, pages)
}
