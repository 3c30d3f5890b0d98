// Package significance scores how much a page actually changed, and
// aggregates per-page scores into a batch-level significant/not-significant
// verdict. The scoring is a deliberate heuristic: predictable,
// explainable, and cheap, not a model.
package significance

import (
	"regexp"
	"strings"
)

const sampleBytes = 10 * 1024

var titlePattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
var navPattern = regexp.MustCompile(`(?is)<nav[^>]*>(.*?)</nav>`)
var headerPattern = regexp.MustCompile(`(?is)<header[^>]*>(.*?)</header>`)
var hrefPattern = regexp.MustCompile(`(?is)href=["']([^"'#]+)["']`)

// Score returns an integer 0-100 drift score between baseline and current
// HTML for a single page, combining four weighted components.
func Score(baselineHTML, currentHTML string) int {
	score := diffComponent(baselineHTML, currentHTML) +
		titleComponent(baselineHTML, currentHTML) +
		navComponent(baselineHTML, currentHTML) +
		lengthComponent(baselineHTML, currentHTML)

	if score > 100 {
		score = 100
	}
	return score
}

// diffComponent weighs 40. If the length ratio is already lopsided it
// shortcuts straight to a length-derived score; otherwise it samples the
// first 10KB of each document and scores by similarity.
func diffComponent(baseline, current string) int {
	lb, lc := len(baseline), len(current)
	if lb == 0 && lc == 0 {
		return 0
	}

	minLen, maxLen := lb, lc
	if minLen > maxLen {
		minLen, maxLen = maxLen, minLen
	}
	if maxLen == 0 {
		return 0
	}

	ratio := float64(minLen) / float64(maxLen)
	if ratio < 0.5 {
		return int((1 - ratio) * 100 * 0.4)
	}

	sb := sample(baseline, sampleBytes)
	sc := sample(current, sampleBytes)
	similarity := quickRatio(sb, sc)
	return int((1 - similarity) * 100 * 0.4)
}

func sample(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// quickRatio is a deterministic, O(n) approximation of sequence
// similarity: twice the shared-character count (by multiset
// intersection) over the combined length. It does not need to be an
// exact longest-common-subsequence ratio, only stable and cheap.
func quickRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	counts := make(map[rune]int, len(a))
	for _, r := range a {
		counts[r]++
	}

	matches := 0
	for _, r := range b {
		if counts[r] > 0 {
			counts[r]--
			matches++
		}
	}

	return 2 * float64(matches) / float64(len(a)+len(b))
}

// titleComponent weighs 20: a changed <title> (trimmed) adds the full weight.
func titleComponent(baseline, current string) int {
	if extractTitle(baseline) != extractTitle(current) {
		return 20
	}
	return 0
}

func extractTitle(docHTML string) string {
	m := titlePattern.FindStringSubmatch(docHTML)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// navComponent weighs 25: if the symmetric difference of the nav href
// sets exceeds 20% of the larger set, the full weight is added.
func navComponent(baseline, current string) int {
	a := navHrefSet(baseline)
	b := navHrefSet(current)

	larger := len(a)
	if len(b) > larger {
		larger = len(b)
	}
	if larger == 0 {
		return 0
	}

	symDiff := 0
	for href := range a {
		if !b[href] {
			symDiff++
		}
	}
	for href := range b {
		if !a[href] {
			symDiff++
		}
	}

	if float64(symDiff)/float64(larger) > 0.2 {
		return 25
	}
	return 0
}

func navHrefSet(docHTML string) map[string]bool {
	scope := navPattern.FindString(docHTML)
	if scope == "" {
		scope = headerPattern.FindString(docHTML)
	}

	hrefs := make(map[string]bool)
	for _, m := range hrefPattern.FindAllStringSubmatch(scope, -1) {
		hrefs[m[1]] = true
	}
	return hrefs
}

// lengthComponent weighs 15: a relative length delta over 30% adds the
// full weight. An empty baseline is special-cased to avoid a division by
// zero while still reflecting the delta.
func lengthComponent(baseline, current string) int {
	lb, lc := len(baseline), len(current)
	if lb == 0 {
		if lc == 0 {
			return 0
		}
		return 15
	}

	delta := lc - lb
	if delta < 0 {
		delta = -delta
	}

	if float64(delta)/float64(lb) > 0.3 {
		return 15
	}
	return 0
}

// BatchResult is the outcome of aggregating per-page scores into one
// project-level significance verdict.
type BatchResult struct {
	Significant bool
	Reason      string // "bulk_change" | "cumulative_drift" | "none"
	MeanScore   float64
}

// AggregateBatch implements the batch aggregation rule: a high enough
// ratio of changed pages to total short-circuits to "bulk_change"; else
// the mean of per-page scores is compared against significanceThreshold.
func AggregateBatch(changedCount, totalPages int, perPageScores []int, bulkThresholdPercent, significanceThreshold int) BatchResult {
	if totalPages > 0 {
		changedPercent := float64(changedCount) / float64(totalPages) * 100
		if changedPercent > float64(bulkThresholdPercent) {
			return BatchResult{Significant: true, Reason: "bulk_change", MeanScore: 100}
		}
	}

	if len(perPageScores) == 0 {
		return BatchResult{Significant: false, Reason: "none"}
	}

	sum := 0
	for _, s := range perPageScores {
		sum += s
	}
	mean := float64(sum) / float64(len(perPageScores))

	if mean >= float64(significanceThreshold) {
		return BatchResult{Significant: true, Reason: "cumulative_drift", MeanScore: mean}
	}
	return BatchResult{Significant: false, Reason: "none", MeanScore: mean}
}
