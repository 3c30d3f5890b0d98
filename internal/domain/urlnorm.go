package domain

import (
	"net/url"
	"strings"
)

// NormalizeURL lowercases the whole URL, strips the fragment, and
// strips a trailing slash except on the bare root path. It is applied
// everywhere a URL is compared or stored so that (project, url) keys are
// stable regardless of how a link was originally written.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return strings.ToLower(u.String())
}

// IsHomepage reports whether candidateURL is the project's homepage, by
// normalized-URL equality against startURL.
func IsHomepage(candidateURL, startURL string) bool {
	return NormalizeURL(candidateURL) == NormalizeURL(startURL)
}
