package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sitewatch/sitewatch/internal/domain"
	"github.com/sitewatch/sitewatch/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestToProjectResponseOmitsNilLastChecked(t *testing.T) {
	p := &domain.Project{ID: "p1", URL: "https://example.com", Status: domain.ProjectStatusReady, CreatedAt: time.Unix(0, 0).UTC()}
	resp := toProjectResponse(p)

	require.Equal(t, "p1", resp.ID)
	require.Nil(t, resp.LastCheckedAt)

	now := time.Unix(100, 0).UTC()
	p.LastCheckedAt = &now
	resp = toProjectResponse(p)
	require.NotNil(t, resp.LastCheckedAt)
}

func TestQueryIntFallsBackOnInvalidValue(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=notanumber", nil)
	require.Equal(t, 50, queryInt(req, "limit", 50))

	req = httptest.NewRequest(http.MethodGet, "/?limit=25", nil)
	require.Equal(t, 25, queryInt(req, "limit", 50))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	require.Equal(t, 50, queryInt(req, "limit", 50))
}

func TestWriteLookupErrorMapsNotFound(t *testing.T) {
	h := NewProjectsHandler(nil, nil, nil, nil, discardLogger())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects/missing", nil)
	h.writeLookupError(rr, req, repository.ErrNotFound, "project")

	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestWriteLookupErrorMapsUnknownErrorToInternal(t *testing.T) {
	h := NewProjectsHandler(nil, nil, nil, nil, discardLogger())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects/x", nil)
	h.writeLookupError(rr, req, errors.New("boom"), "project")

	require.Equal(t, http.StatusInternalServerError, rr.Code)
}
