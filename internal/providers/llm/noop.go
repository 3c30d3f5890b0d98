package llm

import "context"

// NoopProvider implements the safe-default policy for every operation
// without calling out to any model: all candidates pass relevance, every
// change is treated as significant, curation produces a minimal
// single-section result, and section regeneration always keeps the
// existing description. It lets the core run with no LLM credentials.
type NoopProvider struct{}

func (NoopProvider) FilterRelevance(_ context.Context, pages []RelevanceInput) (map[string]bool, error) {
	out := make(map[string]bool, len(pages))
	for _, p := range pages {
		out[p.URL] = true
	}
	return out, nil
}

func (NoopProvider) EvaluateSemanticSignificance(_ context.Context, changes []SignificanceChange) (map[string]bool, map[string]string, error) {
	out := make(map[string]bool, len(changes))
	for _, c := range changes {
		out[c.URL] = true
	}
	return out, map[string]string{}, nil
}

func (NoopProvider) CurateFull(_ context.Context, pages []CurationPage) (CurationResult, error) {
	section := CurationSection{Name: "Other"}
	for _, p := range pages {
		section.Pages = append(section.Pages, CurationSectionPage{URL: p.URL, Title: p.Title, Description: p.Description})
	}
	return CurationResult{SiteTitle: "Untitled Site", Sections: []CurationSection{section}}, nil
}

func (NoopProvider) RegenerateSection(_ context.Context, _ string, _ []CurationSectionPage, _ string) (SectionAction, error) {
	return SectionAction{Keep: &KeepAction{}}, nil
}

// CategorizeNewPages applies the keyword heuristic directly rather than
// a model call, same as every other NoopProvider operation.
func (NoopProvider) CategorizeNewPages(_ context.Context, pages []CategorizationInput, existingSections []string) (CategorizationResult, error) {
	return keywordCategorize(pages, existingSections), nil
}
