package significance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreIdenticalDocumentsIsZero(t *testing.T) {
	doc := `<html><head><title>Acme</title></head><body><nav><a href="/a">a</a></nav><p>hello world</p></body></html>`
	assert.Equal(t, 0, Score(doc, doc))
}

func TestScoreTitleChange(t *testing.T) {
	base := `<html><head><title>Acme</title></head><body><p>hello world this is a fairly long paragraph of stable content</p></body></html>`
	current := `<html><head><title>Acme Inc</title></head><body><p>hello world this is a fairly long paragraph of stable content</p></body></html>`
	score := Score(base, current)
	assert.GreaterOrEqual(t, score, 20)
}

func TestScoreNavChangeOverThreshold(t *testing.T) {
	base := `<nav><a href="/a">a</a><a href="/b">b</a><a href="/c">c</a></nav><p>stable body text that does not change between versions of this page at all</p>`
	current := `<nav><a href="/x">x</a><a href="/y">y</a><a href="/z">z</a></nav><p>stable body text that does not change between versions of this page at all</p>`
	score := Score(base, current)
	assert.GreaterOrEqual(t, score, 25)
}

func TestScoreLengthDelta(t *testing.T) {
	base := "<p>" + repeat("a", 100) + "</p>"
	current := "<p>" + repeat("a", 200) + "</p>"
	score := Score(base, current)
	assert.GreaterOrEqual(t, score, 15)
}

func TestScoreClampedTo100(t *testing.T) {
	base := "<html><title>A</title><nav><a href='/1'>1</a></nav><p>short</p></html>"
	current := "<html><title>Completely Different</title><nav><a href='/9'>9</a></nav><p>" + repeat("z", 5000) + "</p></html>"
	score := Score(base, current)
	assert.LessOrEqual(t, score, 100)
}

func TestAggregateBatchBulkChange(t *testing.T) {
	result := AggregateBatch(6, 7, nil, 20, 30)
	assert.True(t, result.Significant)
	assert.Equal(t, "bulk_change", result.Reason)
}

func TestAggregateBatchCumulativeDrift(t *testing.T) {
	result := AggregateBatch(1, 7, []int{40, 20, 35}, 50, 30)
	assert.True(t, result.Significant)
	assert.Equal(t, "cumulative_drift", result.Reason)
}

func TestAggregateBatchNotSignificant(t *testing.T) {
	result := AggregateBatch(1, 7, []int{5, 10}, 50, 30)
	assert.False(t, result.Significant)
	assert.Equal(t, "none", result.Reason)
}

func repeat(s string, n int) string {
	out := make([]byte, 0, n*len(s))
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}
