package semantic

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

const baseDoc = `<html><head><title>Acme Widgets</title>
<meta name="description" content="Widgets for the modern age">
</head><body>
<header><nav><a href="/">Home</a><a href="/features">Features</a><a href="/pricing">Pricing</a></nav></header>
<main><h1>Welcome</h1><p>We build the best widgets on the market.</p></main>
</body></html>`

func TestExtractDeterministic(t *testing.T) {
	h1, err := Extract(baseDoc)
	require.NoError(t, err)
	h2, err := Extract(baseDoc)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestExtractInsensitiveToScriptAndStyle(t *testing.T) {
	withScript := `<html><head><title>Acme Widgets</title>
<meta name="description" content="Widgets for the modern age">
<script>var trackingId = Math.random();</script>
<style>.foo { color: red; }</style>
</head><body>
<header><nav><a href="/">Home</a><a href="/features">Features</a><a href="/pricing">Pricing</a></nav></header>
<main><h1>Welcome</h1><p>We build the best widgets on the market.</p></main>
</body></html>`

	base, err := Extract(baseDoc)
	require.NoError(t, err)
	withNoise, err := Extract(withScript)
	require.NoError(t, err)
	assert.Equal(t, base, withNoise)
}

func TestExtractInsensitiveToConsentBanner(t *testing.T) {
	withBanner := `<html><head><title>Acme Widgets</title>
<meta name="description" content="Widgets for the modern age">
</head><body>
<div id="cookie-consent-banner"><p>We use cookies, accept our overlord policy</p></div>
<header><nav><a href="/">Home</a><a href="/features">Features</a><a href="/pricing">Pricing</a></nav></header>
<main><h1>Welcome</h1><p>We build the best widgets on the market.</p></main>
</body></html>`

	base, err := Extract(baseDoc)
	require.NoError(t, err)
	withNoise, err := Extract(withBanner)
	require.NoError(t, err)
	assert.Equal(t, base, withNoise)
}

func TestExtractInsensitiveToWhitespace(t *testing.T) {
	spaced := `<html><head><title>  Acme   Widgets  </title>
<meta name="description" content="Widgets   for the    modern age">
</head><body>
<header><nav><a href="/">Home</a>


<a href="/features">Features</a><a href="/pricing">Pricing</a></nav></header>
<main><h1>Welcome</h1><p>We   build the best   widgets on the market.</p></main>
</body></html>`

	base, err := Extract(baseDoc)
	require.NoError(t, err)
	withSpace, err := Extract(spaced)
	require.NoError(t, err)
	assert.Equal(t, base, withSpace)
}

func TestExtractSensitiveToRealContentChange(t *testing.T) {
	changed := `<html><head><title>Acme Widgets</title>
<meta name="description" content="Widgets for the modern age">
</head><body>
<header><nav><a href="/">Home</a><a href="/features">Features</a><a href="/pricing">Pricing</a></nav></header>
<main><h1>Welcome</h1><p>We are going out of business.</p></main>
</body></html>`

	base, err := Extract(baseDoc)
	require.NoError(t, err)
	other, err := Extract(changed)
	require.NoError(t, err)
	assert.NotEqual(t, base, other)
}

func TestNavHrefsStripsAnchorsAndQueries(t *testing.T) {
	doc := `<nav><a href="/features?utm=abc#section">Features</a></nav>`
	n, err := html.Parse(strings.NewReader(doc))
	require.NoError(t, err)
	hrefs := navHrefs(n)
	assert.Equal(t, []string{"/features"}, hrefs)
}
