package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/sitewatch/sitewatch/internal/api/middleware"
	"github.com/sitewatch/sitewatch/internal/scheduler"
)

func setupTestScheduler(t *testing.T) *scheduler.Scheduler {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return scheduler.New(client, scheduler.Config{MinHours: 6, MaxHours: 168, DefaultHours: 24}, nil)
}

func TestAdminHandlerSchedulerStats(t *testing.T) {
	sched := setupTestScheduler(t)
	require.NoError(t, sched.ScheduleProject(context.Background(), "proj-1", 30))

	h := NewAdminHandler(sched, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/scheduler/stats", nil)
	rr := httptest.NewRecorder()
	h.SchedulerStats(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]int64
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.Equal(t, int64(1), body["full_check_scheduled"])
	require.Equal(t, int64(1), body["lightweight_check_scheduled"])
}

func TestAdminAuthMiddlewareRejectsMissingToken(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	guarded := middleware.AdminAuthMiddleware(middleware.AuthConfig{AdminToken: "secret"})(next)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/scheduler/stats", nil)
	rr := httptest.NewRecorder()
	guarded.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.False(t, called)
}

func TestAdminAuthMiddlewareAcceptsValidToken(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	guarded := middleware.AdminAuthMiddleware(middleware.AuthConfig{AdminToken: "secret"})(next)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/scheduler/stats", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	guarded.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, called)
}
