// Package llm defines the LLM provider capability used for relevance
// filtering, semantic-significance evaluation, and curation, plus its
// Anthropic-backed implementation guarded by a circuit breaker.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"

	"github.com/sitewatch/sitewatch/internal/config"
	"github.com/sitewatch/sitewatch/pkg/metrics"
)

// RelevanceInput is one candidate page for relevance/new-URL filtering.
type RelevanceInput struct {
	URL         string
	Title       string
	Description string
	IsHomepage  bool
}

// SignificanceChange is one curated-vs-fresh content pair to judge.
type SignificanceChange struct {
	URL     string
	OldDesc string
	NewMD   string
}

// CurationPage is one page handed to full curation.
type CurationPage struct {
	URL         string
	Title       string
	Description string
	Markdown    string
}

// CategorizationInput is one newly-relevant page awaiting a section
// assignment.
type CategorizationInput struct {
	URL, Title, Description string
}

// CategorizationResult is the output of categorize_new_pages: a section
// name per URL, plus the subset of assigned names that are brand new
// (not already present in the existingSections the call was given).
type CategorizationResult struct {
	Categories  map[string]string
	NewSections []string
}

// SectionAction is the tagged-variant outcome of regenerate_section:
// exactly one of Keep or Delete is populated.
type SectionAction struct {
	Keep   *KeepAction
	Delete *DeleteAction
}

type KeepAction struct {
	Description string
}

type DeleteAction struct {
	Reason string
}

// CurationResult is the output of curate_full.
type CurationResult struct {
	SiteTitle string
	Tagline   string
	Overview  string
	Sections  []CurationSection
}

type CurationSection struct {
	Name        string
	Description string
	Pages       []CurationSectionPage
}

type CurationSectionPage struct {
	URL, Title, Description string
}

// Provider is the abstract LLM capability. FilterRelevance,
// EvaluateSemanticSignificance, RegenerateSection and CategorizeNewPages
// absorb provider errors and un-parseable output by returning their safe
// default; CurateFull returns such failures as an error.
type Provider interface {
	FilterRelevance(ctx context.Context, pages []RelevanceInput) (relevantURLs map[string]bool, err error)
	EvaluateSemanticSignificance(ctx context.Context, changes []SignificanceChange) (significantURLs map[string]bool, reasons map[string]string, err error)
	CurateFull(ctx context.Context, pages []CurationPage) (CurationResult, error)
	RegenerateSection(ctx context.Context, sectionName string, pages []CurationSectionPage, siteContext string) (SectionAction, error)
	CategorizeNewPages(ctx context.Context, pages []CategorizationInput, existingSections []string) (CategorizationResult, error)
}

// AnthropicProvider talks to the Anthropic Messages API, wrapped in a
// circuit breaker so a misbehaving model never starves the task runner.
type AnthropicProvider struct {
	client   anthropic.Client
	cfg      config.LLMConfig
	breaker  *gobreaker.CircuitBreaker
	business *metrics.BusinessMetrics
	logger   *slog.Logger
}

// NewFromConfig builds the configured LLM provider. When cfg.Enabled is
// false or cfg.Provider is "disabled", a NoopProvider that applies the
// safe-default policy to every call is returned instead, so the core
// compiles and runs without any LLM credentials present.
func NewFromConfig(cfg config.LLMConfig, bizMetrics *metrics.BusinessMetrics, logger *slog.Logger) (Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled || cfg.Provider == "disabled" {
		logger.Info("llm provider disabled, using safe-default noop provider")
		return &NoopProvider{}, nil
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: provider %q enabled without an api key", cfg.Provider)
	}

	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey), option.WithRequestTimeout(cfg.Timeout))

	settings := gobreaker.Settings{
		Name:        "anthropic-llm",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.BreakerResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
	}

	return &AnthropicProvider{
		client: client, cfg: cfg, breaker: gobreaker.NewCircuitBreaker(settings),
		business: bizMetrics, logger: logger,
	}, nil
}

func (a *AnthropicProvider) complete(ctx context.Context, operation, prompt string) (string, error) {
	start := time.Now()
	result, err := a.breaker.Execute(func() (interface{}, error) {
		msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:       anthropic.F(a.cfg.Model),
			MaxTokens:   anthropic.F(int64(a.cfg.MaxTokens)),
			Temperature: anthropic.F(a.cfg.Temperature),
			Messages: anthropic.F([]anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			}),
		})
		if err != nil {
			return "", err
		}
		if len(msg.Content) == 0 {
			return "", fmt.Errorf("llm: empty response content")
		}
		return msg.Content[0].Text, nil
	})
	if a.business != nil {
		a.business.LLMCallDurationSeconds.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if a.business != nil {
			a.business.LLMCallsTotal.WithLabelValues(operation, "error").Inc()
		}
		return "", fmt.Errorf("llm: completion: %w", err)
	}
	if a.business != nil {
		a.business.LLMCallsTotal.WithLabelValues(operation, "success").Inc()
	}
	return result.(string), nil
}

func extractJSON(raw string) string {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start == -1 || end == -1 || end < start {
		return raw
	}
	return raw[start : end+1]
}

// FilterRelevance batches pages (batch size ~ relevance_batch_size) and
// asks the model which candidate URLs are worth curating. The homepage
// is always preserved regardless of model output.
func (a *AnthropicProvider) FilterRelevance(ctx context.Context, pages []RelevanceInput) (map[string]bool, error) {
	relevant := make(map[string]bool)
	batchSize := a.cfg.RelevanceBatchSize
	if batchSize <= 0 {
		batchSize = 25
	}

	for start := 0; start < len(pages); start += batchSize {
		end := start + batchSize
		if end > len(pages) {
			end = len(pages)
		}
		batch := pages[start:end]

		var sb strings.Builder
		sb.WriteString("Classify which of these pages are relevant content worth summarizing for a site guide. ")
		sb.WriteString(`Respond with JSON: {"relevant_urls": ["..."]}.` + "\n\n")
		for _, p := range batch {
			fmt.Fprintf(&sb, "- %s | %s | %s\n", p.URL, p.Title, p.Description)
		}

		raw, err := a.complete(ctx, "filter_relevance", sb.String())
		if err != nil {
			a.logger.Warn("llm: filter_relevance failed, falling back to relevant=all", "error", err)
			for _, p := range batch {
				relevant[p.URL] = true
			}
			continue
		}

		var parsed struct {
			RelevantURLs []string `json:"relevant_urls"`
		}
		if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
			a.logger.Warn("llm: filter_relevance un-parseable, falling back to relevant=all", "error", err)
			for _, p := range batch {
				relevant[p.URL] = true
			}
			continue
		}
		for _, u := range parsed.RelevantURLs {
			relevant[u] = true
		}
	}

	for _, p := range pages {
		if p.IsHomepage {
			relevant[p.URL] = true
		}
	}
	return relevant, nil
}

// EvaluateSemanticSignificance batches curated/fresh pairs (batch size ~
// significance_batch_size) and asks whether each change is substantive.
func (a *AnthropicProvider) EvaluateSemanticSignificance(ctx context.Context, changes []SignificanceChange) (map[string]bool, map[string]string, error) {
	significant := make(map[string]bool)
	reasons := make(map[string]string)
	batchSize := a.cfg.SignificanceBatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	for start := 0; start < len(changes); start += batchSize {
		end := start + batchSize
		if end > len(changes) {
			end = len(changes)
		}
		batch := changes[start:end]

		var sb strings.Builder
		sb.WriteString("For each page, decide if the change from old to new description is substantively significant. ")
		sb.WriteString(`Respond with JSON: {"significant_urls": ["..."], "reasons": {"url": "reason"}}.` + "\n\n")
		for _, c := range batch {
			fmt.Fprintf(&sb, "URL: %s\nOLD: %s\nNEW: %s\n\n", c.URL, c.OldDesc, truncate(c.NewMD, 2000))
		}

		raw, err := a.complete(ctx, "evaluate_semantic_significance", sb.String())
		if err != nil {
			a.logger.Warn("llm: evaluate_semantic_significance failed, assuming significant", "error", err)
			for _, c := range batch {
				significant[c.URL] = true
			}
			continue
		}

		var parsed struct {
			SignificantURLs []string          `json:"significant_urls"`
			Reasons         map[string]string `json:"reasons"`
		}
		if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
			a.logger.Warn("llm: evaluate_semantic_significance un-parseable, assuming significant", "error", err)
			for _, c := range batch {
				significant[c.URL] = true
			}
			continue
		}
		for _, u := range parsed.SignificantURLs {
			significant[u] = true
		}
		for u, r := range parsed.Reasons {
			reasons[u] = r
		}
	}
	return significant, reasons, nil
}

// CurateFull asks the model for a complete site curation pass.
func (a *AnthropicProvider) CurateFull(ctx context.Context, pages []CurationPage) (CurationResult, error) {
	var sb strings.Builder
	sb.WriteString("Curate this crawled site into a title, tagline, overview, and a set of named sections grouping pages. ")
	sb.WriteString(`Respond with JSON: {"site_title":"","tagline":"","overview":"","sections":[{"name":"","description":"","pages":[{"url":"","title":"","description":""}]}]}.` + "\n\n")
	for _, p := range pages {
		fmt.Fprintf(&sb, "- %s | %s | %s\n", p.URL, p.Title, truncate(p.Markdown, 500))
	}

	raw, err := a.complete(ctx, "curate_full", sb.String())
	if err != nil {
		return CurationResult{}, fmt.Errorf("llm: curate_full: %w", err)
	}

	var parsed struct {
		SiteTitle string `json:"site_title"`
		Tagline   string `json:"tagline"`
		Overview  string `json:"overview"`
		Sections  []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			Pages       []struct {
				URL, Title, Description string
			} `json:"pages"`
		} `json:"sections"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return CurationResult{}, fmt.Errorf("llm: curate_full: un-parseable response: %w", err)
	}

	result := CurationResult{SiteTitle: parsed.SiteTitle, Tagline: parsed.Tagline, Overview: parsed.Overview}
	for _, s := range parsed.Sections {
		section := CurationSection{Name: s.Name, Description: s.Description}
		for _, p := range s.Pages {
			section.Pages = append(section.Pages, CurationSectionPage{URL: p.URL, Title: p.Title, Description: p.Description})
		}
		result.Sections = append(result.Sections, section)
	}
	return result, nil
}

// RegenerateSection asks the model to rewrite one section's prose given
// its current and newly assigned pages. On provider error or
// un-parseable output it returns Keep with an empty description, which
// leaves the section's existing description untouched.
func (a *AnthropicProvider) RegenerateSection(ctx context.Context, sectionName string, pages []CurationSectionPage, siteContext string) (SectionAction, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Rewrite the prose description for section %q given its pages and site context. ", sectionName)
	sb.WriteString("If the section has no substantive content left, recommend deletion. ")
	sb.WriteString(`Respond with JSON: {"action":"keep|delete","description":"","reason":""}.` + "\n\n")
	fmt.Fprintf(&sb, "Site context: %s\n\n", siteContext)
	for _, p := range pages {
		fmt.Fprintf(&sb, "- %s | %s | %s\n", p.URL, p.Title, p.Description)
	}

	raw, err := a.complete(ctx, "regenerate_section", sb.String())
	if err != nil {
		a.logger.Warn("llm: regenerate_section failed, keeping section", "error", err)
		return SectionAction{Keep: &KeepAction{}}, nil
	}

	var parsed struct {
		Action      string `json:"action"`
		Description string `json:"description"`
		Reason      string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		a.logger.Warn("llm: regenerate_section un-parseable, keeping section", "error", err)
		return SectionAction{Keep: &KeepAction{}}, nil
	}

	switch strings.ToLower(parsed.Action) {
	case "delete":
		return SectionAction{Delete: &DeleteAction{Reason: parsed.Reason}}, nil
	default:
		return SectionAction{Keep: &KeepAction{Description: parsed.Description}}, nil
	}
}

// CategorizeNewPages assigns each newly-relevant page to an existing or
// brand-new section, grounded on the original system's
// page_categorization prompt: prefer an existing section, only propose a
// new one when pages clearly cluster together. On provider error or
// un-parseable output it falls back to the deterministic keyword
// heuristic rather than leaving pages uncategorized.
func (a *AnthropicProvider) CategorizeNewPages(ctx context.Context, pages []CategorizationInput, existingSections []string) (CategorizationResult, error) {
	if len(pages) == 0 {
		return CategorizationResult{Categories: map[string]string{}}, nil
	}

	var sb strings.Builder
	sb.WriteString("Categorize these newly discovered pages against the site's existing sections.\n")
	fmt.Fprintf(&sb, "Existing sections: %s\n\n", strings.Join(existingSections, ", "))
	sb.WriteString("Prefer an existing section when a page clearly fits. Only propose a new section when " +
		"two or more pages clearly belong together under it; use standard categories when possible " +
		"(Platform Features, Solutions, Resources, Integrations, Pricing, Company). ")
	sb.WriteString(`Respond with JSON: {"pages":[{"url":"","category":""}],"new_sections_needed":["..."]}.` + "\n\n")
	for _, p := range pages {
		fmt.Fprintf(&sb, "- %s | %s | %s\n", p.URL, p.Title, p.Description)
	}

	raw, err := a.complete(ctx, "categorize_new_pages", sb.String())
	if err != nil {
		a.logger.Warn("llm: categorize_new_pages failed, falling back to keyword heuristic", "error", err)
		return keywordCategorize(pages, existingSections), nil
	}

	var parsed struct {
		Pages []struct {
			URL      string `json:"url"`
			Category string `json:"category"`
		} `json:"pages"`
		NewSectionsNeeded []string `json:"new_sections_needed"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		a.logger.Warn("llm: categorize_new_pages un-parseable, falling back to keyword heuristic", "error", err)
		return keywordCategorize(pages, existingSections), nil
	}

	existing := make(map[string]bool, len(existingSections))
	for _, s := range existingSections {
		existing[s] = true
	}

	categories := make(map[string]string, len(pages))
	for _, p := range parsed.Pages {
		categories[p.URL] = p.Category
	}
	for _, p := range pages {
		if _, ok := categories[p.URL]; !ok {
			categories[p.URL] = keywordCategory(p.URL)
		}
	}

	var newSections []string
	for _, s := range parsed.NewSectionsNeeded {
		if !existing[s] {
			newSections = append(newSections, s)
		}
	}
	return CategorizationResult{Categories: categories, NewSections: newSections}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
