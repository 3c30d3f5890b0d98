package merger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewatch/sitewatch/internal/domain"
)

func TestBuildOrdersKnownSectionsBeforeUnknown(t *testing.T) {
	overview := &domain.SiteOverview{Title: "Acme", Tagline: "Widgets for everyone"}
	sections := []*domain.CuratedSection{
		{Name: "Weird Custom Section", PageURLs: []string{"https://acme.test/x"}},
		{Name: "Pricing", PageURLs: []string{"https://acme.test/pricing"}},
		{Name: "Platform Features", PageURLs: []string{"https://acme.test/features"}},
	}
	pages := map[string]*domain.CuratedPage{
		"https://acme.test/x":        {URL: "https://acme.test/x", Title: "X"},
		"https://acme.test/pricing":  {URL: "https://acme.test/pricing", Title: "Pricing"},
		"https://acme.test/features": {URL: "https://acme.test/features", Title: "Features"},
	}

	out := Build(overview, sections, pages, "https://acme.test")

	iFeatures := indexOf(out, "## Platform Features")
	iPricing := indexOf(out, "## Pricing")
	iWeird := indexOf(out, "## Weird Custom Section")
	require.NotEqual(t, -1, iFeatures)
	require.NotEqual(t, -1, iPricing)
	require.NotEqual(t, -1, iWeird)
	assert.Less(t, iFeatures, iPricing)
	assert.Less(t, iPricing, iWeird)
}

func TestBuildExcludesHomepageFromLinks(t *testing.T) {
	overview := &domain.SiteOverview{Title: "Acme", Tagline: "Widgets"}
	sections := []*domain.CuratedSection{
		{Name: "Other", PageURLs: []string{"https://acme.test", "https://acme.test/about"}},
	}
	pages := map[string]*domain.CuratedPage{
		"https://acme.test":       {URL: "https://acme.test", Title: "Home"},
		"https://acme.test/about": {URL: "https://acme.test/about", Title: "About", Description: "Who we are"},
	}

	out := Build(overview, sections, pages, "https://acme.test")

	assert.NotContains(t, out, "[Home](https://acme.test)")
	assert.Contains(t, out, "[About](https://acme.test/about): Who we are")
}

func TestBuildDeterministic(t *testing.T) {
	overview := &domain.SiteOverview{Title: "Acme", Tagline: "Widgets"}
	sections := []*domain.CuratedSection{{Name: "Other", PageURLs: []string{"https://acme.test/about"}}}
	pages := map[string]*domain.CuratedPage{"https://acme.test/about": {URL: "https://acme.test/about", Title: "About"}}

	a := Build(overview, sections, pages, "https://acme.test")
	b := Build(overview, sections, pages, "https://acme.test")
	assert.Equal(t, a, b)
	assert.Equal(t, Hash(a), Hash(b))
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
