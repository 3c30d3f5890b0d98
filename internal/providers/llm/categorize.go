package llm

import "strings"

// keywordCategory is the deterministic fallback categorizer: a fixed
// keyword match over the URL path, using the same standard section
// names the categorize_new_pages prompt suggests. It backs
// NoopProvider.CategorizeNewPages (no model configured) and
// AnthropicProvider's fallback when a categorization call fails or
// returns unparseable output, so a page never goes uncategorized.
func keywordCategory(url string) string {
	path := strings.ToLower(url)
	switch {
	case strings.Contains(path, "/pricing"):
		return "Pricing"
	case strings.Contains(path, "/integration"):
		return "Integrations"
	case strings.Contains(path, "/blog") || strings.Contains(path, "/resources") || strings.Contains(path, "/docs"):
		return "Resources"
	case strings.Contains(path, "/about") || strings.Contains(path, "/company") || strings.Contains(path, "/team"):
		return "Company"
	case strings.Contains(path, "/feature") || strings.Contains(path, "/product"):
		return "Platform Features"
	case strings.Contains(path, "/solution") || strings.Contains(path, "/use-case"):
		return "Solutions"
	default:
		return "Other"
	}
}

func keywordCategorize(pages []CategorizationInput, existingSections []string) CategorizationResult {
	existing := make(map[string]bool, len(existingSections))
	for _, s := range existingSections {
		existing[s] = true
	}

	categories := make(map[string]string, len(pages))
	seenNew := make(map[string]bool)
	for _, p := range pages {
		c := keywordCategory(p.URL)
		categories[p.URL] = c
		if !existing[c] {
			seenNew[c] = true
		}
	}

	newSections := make([]string, 0, len(seenNew))
	for s := range seenNew {
		newSections = append(newSections, s)
	}
	return CategorizationResult{Categories: categories, NewSections: newSections}
}
