// Package semantic reduces an HTML document to a noise-stripped
// fingerprint hash: stable across deploy-hash churn, tracking-script
// rewrites, and whitespace, but sensitive to the content a visitor
// would actually notice.
package semantic

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

const maxMainContentBytes = 10 * 1024
const maxNavLinks = 20

var noiseTags = map[string]bool{
	"script": true, "style": true, "noscript": true,
	"iframe": true, "svg": true, "canvas": true,
	"embed": true, "object": true, "video": true, "audio": true,
}

// noisePattern matches class/id values associated with ads, cookie
// banners, consent prompts, overlays, and analytics widgets.
var noisePattern = regexp.MustCompile(`(?i)(ad[s_-]|advert|cookie|consent|gdpr|overlay|modal-backdrop|analytics|tracking|banner)`)

var whitespacePattern = regexp.MustCompile(`\s+`)

// Extract computes the semantic fingerprint hash for an HTML document.
// Contract: identical semantic content produces an identical hash.
func Extract(htmlSource string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlSource))
	if err != nil {
		return "", err
	}

	pruned := prune(doc)

	var parts []string
	parts = append(parts, normalize(firstText(pruned, "title")))
	parts = append(parts, normalize(metaContent(pruned, "description")))
	parts = append(parts, normalize(metaProperty(pruned, "og:title")))
	parts = append(parts, normalize(metaProperty(pruned, "og:description")))
	parts = append(parts, normalize(truncate(mainContentText(pruned), maxMainContentBytes)))
	parts = append(parts, strings.Join(navHrefs(pruned), "\n"))

	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:]), nil
}

// prune returns a copy of the document tree with noise nodes removed:
// script/style/noscript/iframe/svg/canvas/media embeds, and any element
// whose class or id matches a known ad/cookie/consent/overlay/analytics
// pattern.
func prune(doc *html.Node) *html.Node {
	clone := cloneTree(doc)
	removeNoise(clone)
	return clone
}

func cloneTree(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	clone := &html.Node{
		Type:     n.Type,
		DataAtom: n.DataAtom,
		Data:     n.Data,
		Attr:     append([]html.Attribute(nil), n.Attr...),
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		clone.AppendChild(cloneTree(c))
	}
	return clone
}

func removeNoise(n *html.Node) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if c.Type == html.ElementNode && shouldDrop(c) {
			n.RemoveChild(c)
			continue
		}
		removeNoise(c)
	}
}

func shouldDrop(n *html.Node) bool {
	if noiseTags[n.Data] {
		return true
	}
	class := attr(n, "class")
	id := attr(n, "id")
	return noisePattern.MatchString(class) || noisePattern.MatchString(id)
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return whitespacePattern.ReplaceAllString(s, " ")
}

func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes]
}

func firstText(n *html.Node, tag string) string {
	node := findFirst(n, func(c *html.Node) bool { return c.Type == html.ElementNode && c.Data == tag })
	if node == nil {
		return ""
	}
	return textOf(node)
}

func metaContent(n *html.Node, name string) string {
	node := findFirst(n, func(c *html.Node) bool {
		return c.Type == html.ElementNode && c.Data == "meta" && attr(c, "name") == name
	})
	if node == nil {
		return ""
	}
	return attr(node, "content")
}

func metaProperty(n *html.Node, property string) string {
	node := findFirst(n, func(c *html.Node) bool {
		return c.Type == html.ElementNode && c.Data == "meta" && attr(c, "property") == property
	})
	if node == nil {
		return ""
	}
	return attr(node, "content")
}

// mainContentText prefers <main>, then <article>, then role=main, then
// #content, then falls back to the whole body.
func mainContentText(n *html.Node) string {
	candidates := []func(*html.Node) bool{
		func(c *html.Node) bool { return c.Type == html.ElementNode && c.Data == "main" },
		func(c *html.Node) bool { return c.Type == html.ElementNode && c.Data == "article" },
		func(c *html.Node) bool { return c.Type == html.ElementNode && attr(c, "role") == "main" },
		func(c *html.Node) bool { return c.Type == html.ElementNode && attr(c, "id") == "content" },
	}

	for _, match := range candidates {
		if node := findFirst(n, match); node != nil {
			return textOf(node)
		}
	}

	if body := findFirst(n, func(c *html.Node) bool { return c.Type == html.ElementNode && c.Data == "body" }); body != nil {
		return textOf(body)
	}
	return textOf(n)
}

// navHrefs returns up to maxNavLinks deduplicated hrefs from anchors
// inside <nav> and <header>, with anchors and query strings stripped.
func navHrefs(n *html.Node) []string {
	var hrefs []string
	seen := make(map[string]bool)

	var walk func(*html.Node, bool)
	walk = func(c *html.Node, inNavScope bool) {
		scope := inNavScope
		if c.Type == html.ElementNode && (c.Data == "nav" || c.Data == "header") {
			scope = true
		}
		if scope && c.Type == html.ElementNode && c.Data == "a" {
			href := stripAnchorAndQuery(attr(c, "href"))
			if href != "" && !seen[href] {
				seen[href] = true
				hrefs = append(hrefs, href)
			}
		}
		for child := c.FirstChild; child != nil; child = child.NextSibling {
			if len(hrefs) >= maxNavLinks {
				return
			}
			walk(child, scope)
		}
	}
	walk(n, false)

	if len(hrefs) > maxNavLinks {
		hrefs = hrefs[:maxNavLinks]
	}
	return hrefs
}

func stripAnchorAndQuery(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	u.Fragment = ""
	u.RawQuery = ""
	return u.String()
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
			sb.WriteByte(' ')
		}
		for child := c.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return sb.String()
}
