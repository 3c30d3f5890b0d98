package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sitewatch/sitewatch/internal/api/handlers"
	"github.com/sitewatch/sitewatch/internal/api/middleware"
	"github.com/sitewatch/sitewatch/internal/database/postgres"
	"github.com/sitewatch/sitewatch/internal/progress"
	"github.com/sitewatch/sitewatch/internal/repository"
	"github.com/sitewatch/sitewatch/internal/scheduler"
	pkgmiddleware "github.com/sitewatch/sitewatch/pkg/middleware"
)

// RouterConfig holds router configuration and the dependencies its
// handlers are built from.
type RouterConfig struct {
	// Middleware configuration
	EnableAuth        bool
	EnableRateLimit   bool
	EnableCompression bool
	EnableCORS        bool
	EnableMetrics     bool

	// Auth configuration, bearer-guards the /admin routes
	AuthConfig middleware.AuthConfig

	// Rate limit configuration (requests per minute, burst)
	RateLimitPerMinute int
	RateLimitBurst     int

	// CORS configuration
	CORSConfig middleware.CORSConfig

	// Logger
	Logger *slog.Logger

	// Domain dependencies
	Repository    *repository.Repository
	ArtifactCache *repository.ArtifactCache
	Scheduler     *scheduler.Scheduler
	Runner        handlers.Runner
	Progress      *progress.Store
	DBHealth      postgres.HealthChecker
}

// DefaultRouterConfig returns default router configuration. Callers
// must still set Repository, Scheduler, Runner, Progress, and
// AuthConfig.AdminToken before calling NewRouter.
func DefaultRouterConfig(logger *slog.Logger) RouterConfig {
	return RouterConfig{
		EnableAuth:         true,
		EnableRateLimit:    true,
		EnableCompression:  true,
		EnableCORS:         true,
		EnableMetrics:      true,
		RateLimitPerMinute: 100,
		RateLimitBurst:     20,
		CORSConfig:         middleware.DefaultCORSConfig(),
		Logger:             logger,
	}
}

// NewRouter creates a new API router with all middleware configured.
//
// The middleware stack is applied in order:
//  1. SecureHeaders (always)
//  2. PathNormalization (always)
//  3. RequestID (always)
//  4. Logging (always)
//  5. Metrics (if enabled)
//  6. CORS (if enabled)
//  7. Compression (if enabled)
//  8. Route-specific: admin bearer auth, rate limit, validation
func NewRouter(config RouterConfig) *mux.Router {
	router := mux.NewRouter()

	router.Use(pkgmiddleware.SecureHeaders())
	router.Use(pkgmiddleware.PathNormalizationMiddleware())
	router.Use(middleware.RequestIDMiddleware)
	router.Use(middleware.LoggingMiddleware(config.Logger))

	if config.EnableMetrics {
		router.Use(middleware.MetricsMiddleware)
	}
	if config.EnableCORS {
		router.Use(middleware.CORSMiddleware(config.CORSConfig))
	}
	if config.EnableCompression {
		router.Use(middleware.CompressionMiddleware)
	}

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/health", HealthCheckHandler(config.DBHealth, config.Logger)).Methods("GET")

	setupProjectRoutes(v1, config)
	setupAdminRoutes(v1, config)

	return router
}

func setupProjectRoutes(router *mux.Router, config RouterConfig) {
	projectsHandler := handlers.NewProjectsHandler(config.Repository, config.Scheduler, config.Runner, config.Progress, config.Logger)
	artifactsHandler := handlers.NewArtifactsHandler(config.Repository, config.ArtifactCache, config.Progress, config.Logger)

	projects := router.PathPrefix("/projects").Subrouter()
	if config.EnableRateLimit {
		projects.Use(middleware.RateLimitMiddleware(config.RateLimitPerMinute, config.RateLimitBurst))
	}
	projects.Use(middleware.ValidationMiddleware)

	projects.HandleFunc("", projectsHandler.Create).Methods("POST")
	projects.HandleFunc("", projectsHandler.List).Methods("GET")
	projects.HandleFunc("/{id}", projectsHandler.Get).Methods("GET")
	projects.HandleFunc("/{id}", projectsHandler.Delete).Methods("DELETE")
	projects.HandleFunc("/{id}/recrawl", projectsHandler.Recrawl).Methods("POST")
	projects.HandleFunc("/{id}/artifact", artifactsHandler.GetArtifact).Methods("GET")
	projects.HandleFunc("/{id}/jobs", artifactsHandler.ListJobs).Methods("GET")
	projects.HandleFunc("/{id}/progress", artifactsHandler.GetProgress).Methods("GET")
	projects.HandleFunc("/{id}/progress/stream", artifactsHandler.StreamProgress).Methods("GET")
}

func setupAdminRoutes(router *mux.Router, config RouterConfig) {
	adminHandler := handlers.NewAdminHandler(config.Scheduler, config.Logger)

	admin := router.PathPrefix("/admin").Subrouter()
	if config.EnableAuth {
		admin.Use(middleware.AdminAuthMiddleware(config.AuthConfig))
	}
	admin.HandleFunc("/scheduler/stats", adminHandler.SchedulerStats).Methods("GET")
}

// HealthCheckHandler reports overall system health, including the most
// recent periodic Postgres health check result.
func HealthCheckHandler(dbHealth postgres.HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		dbStatus := "unknown"
		if dbHealth != nil {
			if dbHealth.IsHealthy() {
				dbStatus = "healthy"
			} else {
				dbStatus = "unhealthy"
				status = http.StatusServiceUnavailable
			}
		}

		response := map[string]interface{}{
			"status":  "healthy",
			"version": "0.1.0",
			"database": map[string]interface{}{
				"status":           dbStatus,
				"last_checked_at":  lastCheckedAt(dbHealth),
			},
		}
		if status != http.StatusOK {
			response["status"] = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(middleware.APIVersionHeader, "1.0.0")
		w.WriteHeader(status)

		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Error("failed to encode health response", "error", err)
		}
	}
}

func lastCheckedAt(dbHealth postgres.HealthChecker) interface{} {
	if dbHealth == nil {
		return nil
	}
	return dbHealth.LastCheckTime()
}
