// Package merger implements the Section Merger (C8): deterministic
// reassembly of a project's artifact from its stored curated rows.
package merger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/sitewatch/sitewatch/internal/domain"
)

// preferredOrder is the fixed section ordering; any section name not in
// this list is appended afterward in insertion order.
var preferredOrder = []string{
	"Platform Features", "Solutions", "Integrations", "Resources", "Pricing", "Company", "Other",
}

// Build assembles the plain-text artifact from the overview, ordered
// sections, and curated pages. homepageURL is excluded from every
// section's link list since the homepage is informational only.
func Build(overview *domain.SiteOverview, sections []*domain.CuratedSection, pagesByURL map[string]*domain.CuratedPage, homepageURL string) string {
	ordered := orderSections(sections)

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", overview.Title)
	fmt.Fprintf(&sb, "> %s\n\n", overview.Tagline)
	if overview.Overview != "" {
		sb.WriteString(overview.Overview)
		sb.WriteString("\n\n")
	}

	for _, section := range ordered {
		fmt.Fprintf(&sb, "## %s\n\n", section.Name)
		if section.Description != "" {
			sb.WriteString(section.Description)
			sb.WriteString("\n\n")
		}

		sb.WriteString("### Links\n\n")
		for _, url := range section.PageURLs {
			if domain.NormalizeURL(url) == domain.NormalizeURL(homepageURL) {
				continue
			}
			page, ok := pagesByURL[url]
			if !ok {
				continue
			}
			if page.Description != "" {
				fmt.Fprintf(&sb, "- [%s](%s): %s\n", page.Title, page.URL, page.Description)
			} else {
				fmt.Fprintf(&sb, "- [%s](%s)\n", page.Title, page.URL)
			}
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "---\n\nGenerated by Site-Watch for %s.\n", overview.Title)
	return sb.String()
}

// Hash returns the SHA-256 hex digest of assembled artifact content.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func orderSections(sections []*domain.CuratedSection) []*domain.CuratedSection {
	rank := make(map[string]int, len(preferredOrder))
	for i, name := range preferredOrder {
		rank[name] = i
	}

	byName := make(map[string]*domain.CuratedSection, len(sections))
	var insertionOrder []string
	for _, s := range sections {
		byName[s.Name] = s
		insertionOrder = append(insertionOrder, s.Name)
	}

	known := make([]*domain.CuratedSection, 0, len(sections))
	var unknownNames []string
	for _, name := range insertionOrder {
		if _, ok := rank[name]; ok {
			known = append(known, byName[name])
		} else {
			unknownNames = append(unknownNames, name)
		}
	}

	sort.SliceStable(known, func(i, j int) bool {
		return rank[known[i].Name] < rank[known[j].Name]
	})

	out := make([]*domain.CuratedSection, 0, len(sections))
	out = append(out, known...)
	for _, name := range unknownNames {
		out = append(out, byName[name])
	}
	return out
}
