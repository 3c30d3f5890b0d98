// Package main is the composition root for Site-Watch: it wires
// Postgres, Redis, the scheduler, repositories, providers, the task
// runner, and the HTTP API, then serves until an interrupt signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sitewatch/sitewatch/internal/api"
	"github.com/sitewatch/sitewatch/internal/config"
	"github.com/sitewatch/sitewatch/internal/database"
	"github.com/sitewatch/sitewatch/internal/database/postgres"
	"github.com/sitewatch/sitewatch/internal/infrastructure/lock"
	"github.com/sitewatch/sitewatch/internal/planner"
	"github.com/sitewatch/sitewatch/internal/progress"
	"github.com/sitewatch/sitewatch/internal/providers/crawler"
	"github.com/sitewatch/sitewatch/internal/providers/llm"
	"github.com/sitewatch/sitewatch/internal/repository"
	"github.com/sitewatch/sitewatch/internal/scheduler"
	"github.com/sitewatch/sitewatch/internal/tasks"
	"github.com/sitewatch/sitewatch/pkg/metrics"
)

const (
	serviceName    = "sitewatch"
	serviceVersion = "0.1.0"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to config file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", serviceName, serviceVersion)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("starting site-watch", "service", serviceName, "version", serviceVersion, "env", cfg.App.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Postgres ---
	pgConfig := &postgres.PostgresConfig{
		Host: cfg.Database.Host, Port: cfg.Database.Port, Database: cfg.Database.Database,
		User: cfg.Database.Username, Password: cfg.Database.Password, SSLMode: cfg.Database.SSLMode,
		MaxConns: int32(cfg.Database.MaxConnections), MinConns: int32(cfg.Database.MinConnections),
		MaxConnLifetime: cfg.Database.MaxConnLifetime, MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		HealthCheckPeriod: 30 * time.Second, ConnectTimeout: cfg.Database.ConnectTimeout,
	}
	pool := postgres.NewPostgresPool(pgConfig, logger)

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := pool.Connect(connectCtx); err != nil {
		cancel()
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	cancel()
	defer pool.Disconnect(context.Background())
	logger.Info("connected to postgres")

	if err := database.RunMigrations(ctx, pool, cfg.Database.MigrationsDir, logger); err != nil {
		logger.Warn("database migrations did not complete; continuing, manual intervention may be required", "error", err)
	}

	registry := metrics.NewMetricsRegistry(cfg.App.Name)

	dbExporter := postgres.NewPrometheusExporter(pool, registry.Infra().DB)
	dbExporter.Start(ctx, 15*time.Second)
	defer dbExporter.Stop()

	dbHealthChecker := postgres.NewHealthChecker(pool)
	dbHealth := postgres.NewPeriodicHealthChecker(dbHealthChecker, 30*time.Second)
	dbHealth.Start(ctx)
	defer dbHealth.Stop()

	// --- Redis ---
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize, MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout: cfg.Redis.DialTimeout, ReadTimeout: cfg.Redis.ReadTimeout, WriteTimeout: cfg.Redis.WriteTimeout,
		MaxRetries: cfg.Redis.MaxRetries, MinRetryBackoff: cfg.Redis.MinRetryBackoff, MaxRetryBackoff: cfg.Redis.MaxRetryBackoff,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	logger.Info("connected to redis")

	// --- Domain wiring ---
	sched := scheduler.New(redisClient, scheduler.Config{
		MinHours:     cfg.Scheduler.MinCheckIntervalHours,
		MaxHours:     cfg.Scheduler.MaxCheckIntervalHours,
		DefaultHours: cfg.Scheduler.DefaultCheckIntervalHours,
	}, logger)

	progressStore := progress.New(redisClient, logger)

	repo := repository.New(pool, logger)

	artifactCache, err := repository.NewArtifactCache(repo, 500, 30*time.Second)
	if err != nil {
		logger.Error("failed to build artifact cache", "error", err)
		os.Exit(1)
	}

	crawlerProvider, err := crawler.NewFromConfig(cfg.Crawler, logger)
	if err != nil {
		logger.Error("failed to build crawler provider", "error", err)
		os.Exit(1)
	}

	llmProvider, err := llm.NewFromConfig(cfg.LLM, registry.Business(), logger)
	if err != nil {
		logger.Error("failed to build llm provider", "error", err)
		os.Exit(1)
	}

	plannerSvc := planner.New(repo, llmProvider, planner.Config{
		BulkChangeThresholdPercent: cfg.Scheduler.BulkChangeThresholdPercent,
		SignificanceThreshold:      cfg.Scheduler.SignificanceThreshold,
	}, registry.Business(), logger)
	plannerSvc.SetArtifactCache(artifactCache)

	crawlLocks := lock.NewLockManager(redisClient, &lock.LockConfig{
		TTL:            12 * time.Minute,
		MaxRetries:     0,
		RetryInterval:  100 * time.Millisecond,
		AcquireTimeout: 5 * time.Second,
		ReleaseTimeout: 2 * time.Second,
		ValuePrefix:    "sitewatch-runner",
	}, logger)

	runner := tasks.NewRunner(tasks.Config{
		MaxWorkers:                 cfg.App.MaxWorkers,
		LightweightTickInterval:    cfg.Scheduler.DispatchTickInterval,
		FullCheckTickInterval:      cfg.Scheduler.FullCheckTickInterval,
		LightweightBatchSize:       cfg.Scheduler.LightweightCheckBatchSize,
		FullCheckBatchSize:         cfg.Scheduler.FullCheckBatchSize,
		ConcurrencyLimit:           cfg.Crawler.ConcurrencyLimit,
		PerRequestDelay:            cfg.Crawler.PerRequestDelay,
		FullRescrapeCooldownHours:  cfg.Scheduler.FullRescrapeCooldownHours,
		BulkChangeThresholdPercent: cfg.Scheduler.BulkChangeThresholdPercent,
		SignificanceThreshold:      cfg.Scheduler.SignificanceThreshold,
		MaxPagesPerCrawl:           cfg.Crawler.MaxPagesPerCrawl,
	}, repo, sched, plannerSvc, progressStore, crawlerProvider, crawlLocks, registry.Business(), logger)

	runner.Start(ctx)
	defer runner.Stop()

	// --- HTTP API ---
	routerConfig := api.DefaultRouterConfig(logger)
	routerConfig.AuthConfig.AdminToken = cfg.Server.AdminToken
	routerConfig.RateLimitPerMinute = 100
	routerConfig.RateLimitBurst = 20
	routerConfig.Repository = repo
	routerConfig.ArtifactCache = artifactCache
	routerConfig.Scheduler = sched
	routerConfig.Runner = runner
	routerConfig.Progress = progressStore
	routerConfig.DBHealth = dbHealthChecker

	handler := api.NewRouter(routerConfig)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("http server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited")
}
