package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewatch/sitewatch/internal/repository"
)

func newProber() *Prober {
	return New(2*time.Second, nil)
}

func TestProbeFirstObservation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result := newProber().Probe(context.Background(), srv.URL, repository.Fingerprint{}, false)
	assert.Equal(t, FirstObservation, result.Classified)
	assert.Equal(t, `"v1"`, result.ETag)
}

func TestProbeUnchangedOn304(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	stored := repository.Fingerprint{ETag: `"v1"`}
	result := newProber().Probe(context.Background(), srv.URL, stored, true)
	assert.Equal(t, Unchanged, result.Classified)
}

func TestProbeChangedByETag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v2"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	stored := repository.Fingerprint{ETag: `"v1"`}
	result := newProber().Probe(context.Background(), srv.URL, stored, true)
	require.Equal(t, ChangedByETag, result.Classified)
	assert.Equal(t, `"v2"`, result.ETag)
}

func TestProbeChangedByLastModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified", "Tue, 02 Jun 2026 00:00:00 GMT")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	stored := repository.Fingerprint{LastModifiedHeader: "Mon, 01 Jun 2026 00:00:00 GMT"}
	result := newProber().Probe(context.Background(), srv.URL, stored, true)
	assert.Equal(t, ChangedByLastMod, result.Classified)
}

func TestProbeChangedByLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "500")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	stored := repository.Fingerprint{ContentLength: 100}
	result := newProber().Probe(context.Background(), srv.URL, stored, true)
	assert.Equal(t, ChangedByLength, result.Classified)
}

func TestProbeNeedsSampleCheckWhenNoHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	stored := repository.Fingerprint{SampleHash: "deadbeef"}
	result := newProber().Probe(context.Background(), srv.URL, stored, true)
	assert.Equal(t, NeedsSampleCheck, result.Classified)
}

func TestProbeNetworkErrorIsUnchangedWithError(t *testing.T) {
	result := newProber().Probe(context.Background(), "http://127.0.0.1:1", repository.Fingerprint{}, true)
	assert.Equal(t, UnchangedWithError, result.Classified)
	assert.Error(t, result.Err)
}

func TestFetchSampleHashDeterministic(t *testing.T) {
	page := `<html><head><title>Home</title></head><body><main>Hello world</main></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer srv.Close()

	p := newProber()
	h1, err := p.FetchSampleHash(context.Background(), srv.URL)
	require.NoError(t, err)
	h2, err := p.FetchSampleHash(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}
