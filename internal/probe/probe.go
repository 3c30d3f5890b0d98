// Package probe implements the Fingerprint Probe (C1): a cheap
// conditional-request classifier that decides, per page, whether the
// origin has changed without fetching the full body when headers are
// enough to tell.
package probe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sitewatch/sitewatch/internal/repository"
	"github.com/sitewatch/sitewatch/internal/semantic"
)

// Classification is the outcome of probing a single page.
type Classification string

const (
	Unchanged          Classification = "unchanged"
	ChangedByETag      Classification = "changed_by_etag"
	ChangedByLastMod   Classification = "changed_by_last_modified"
	ChangedByLength    Classification = "changed_by_length"
	NeedsSampleCheck   Classification = "needs_sample_check"
	FirstObservation   Classification = "first_observation"
	UnchangedWithError Classification = "unchanged_with_error"
)

// Result carries the classification plus whatever fresh header values
// were observed, so the caller can decide what to persist.
type Result struct {
	URL           string
	Classified    Classification
	ETag          string
	LastModified  string
	ContentLength int64
	Err           error
}

// Prober issues conditional requests against page URLs.
type Prober struct {
	client *http.Client
	logger *slog.Logger
}

// New builds a Prober with the given HTTP timeout.
func New(timeout time.Duration, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Prober{client: &http.Client{Timeout: timeout}, logger: logger}
}

// Probe classifies one page against its stored fingerprint. First
// observation is decided by hasAnyHistory alone: when it is false the
// page is classified FirstObservation whatever the stored fields hold.
func (p *Prober) Probe(ctx context.Context, pageURL string, stored repository.Fingerprint, hasAnyHistory bool) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, pageURL, nil)
	if err != nil {
		return Result{URL: pageURL, Classified: UnchangedWithError, Err: err}
	}
	if stored.ETag != "" {
		req.Header.Set("If-None-Match", stored.ETag)
	}
	if stored.LastModifiedHeader != "" {
		req.Header.Set("If-Modified-Since", stored.LastModifiedHeader)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("probe request failed", "url", pageURL, "error", err)
		return Result{URL: pageURL, Classified: UnchangedWithError, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if !hasAnyHistory {
		return p.classifyFirstObservation(resp, pageURL)
	}

	if resp.StatusCode == http.StatusNotModified {
		return Result{URL: pageURL, Classified: Unchanged, ETag: stored.ETag, LastModified: stored.LastModifiedHeader, ContentLength: stored.ContentLength}
	}

	etag := resp.Header.Get("ETag")
	lastMod := resp.Header.Get("Last-Modified")
	length := parseContentLength(resp)

	switch {
	case etag != "" && etag != stored.ETag:
		return Result{URL: pageURL, Classified: ChangedByETag, ETag: etag, LastModified: lastMod, ContentLength: length}
	case lastMod != "" && lastMod != stored.LastModifiedHeader:
		return Result{URL: pageURL, Classified: ChangedByLastMod, ETag: etag, LastModified: lastMod, ContentLength: length}
	case length != 0 && length != stored.ContentLength:
		return Result{URL: pageURL, Classified: ChangedByLength, ETag: etag, LastModified: lastMod, ContentLength: length}
	case etag == "" && lastMod == "" && length == 0 && stored.SampleHash != "":
		return Result{URL: pageURL, Classified: NeedsSampleCheck, ETag: etag, LastModified: lastMod, ContentLength: length}
	default:
		return Result{URL: pageURL, Classified: Unchanged, ETag: etag, LastModified: lastMod, ContentLength: length}
	}
}

func (p *Prober) classifyFirstObservation(resp *http.Response, pageURL string) Result {
	return Result{
		URL:           pageURL,
		Classified:    FirstObservation,
		ETag:          resp.Header.Get("ETag"),
		LastModified:  resp.Header.Get("Last-Modified"),
		ContentLength: parseContentLength(resp),
	}
}

func parseContentLength(resp *http.Response) int64 {
	if resp.ContentLength > 0 {
		return resp.ContentLength
	}
	if v := resp.Header.Get("Content-Length"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// FetchBody performs a plain GET and returns the raw HTML body, for
// callers that need the document itself (significance scoring) rather
// than its semantic hash.
func (p *Prober) FetchBody(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("probe: build fetch request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("probe: fetch body: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return "", fmt.Errorf("probe: read body: %w", err)
	}
	return string(body), nil
}

// FetchSampleHash performs the GET + semantic extraction needed for
// first-observation pages with no headers, and for needs-sample-check
// reclassification.
func (p *Prober) FetchSampleHash(ctx context.Context, pageURL string) (string, error) {
	body, err := p.FetchBody(ctx, pageURL)
	if err != nil {
		return "", err
	}

	hash, err := semantic.Extract(body)
	if err != nil {
		return "", fmt.Errorf("probe: extract sample: %w", err)
	}
	return hash, nil
}
