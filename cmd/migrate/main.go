package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sitewatch/sitewatch/internal/config"
	"github.com/sitewatch/sitewatch/internal/database"
	"github.com/sitewatch/sitewatch/internal/database/postgres"
)

// migrateCLI bundles what every subcommand needs: the config path flag and a
// logger. Mirrors the shape of the teacher's cobra-based migration CLI,
// trimmed to the operations internal/database actually implements.
type migrateCLI struct {
	configPath string
	logger     *slog.Logger
}

func main() {
	cli := &migrateCLI{logger: slog.New(slog.NewJSONHandler(os.Stdout, nil))}

	root := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Site-Watch database schema",
		Long:  "migrate applies, rolls back, and reports on Site-Watch's Postgres schema migrations.",
	}
	root.PersistentFlags().StringVar(&cli.configPath, "config", "", "path to config file")

	root.AddCommand(
		cli.upCommand(),
		cli.downCommand(),
		cli.statusCommand(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func (c *migrateCLI) upCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, migrationsDir, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Disconnect(context.Background())

			return database.RunMigrations(cmd.Context(), pool, migrationsDir, c.logger)
		},
	}
}

func (c *migrateCLI) downCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back the given number of migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}

			pool, migrationsDir, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Disconnect(context.Background())

			return database.RunMigrationsDown(cmd.Context(), pool, migrationsDir, steps, c.logger)
		},
	}
}

func (c *migrateCLI) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print which migrations have been applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, migrationsDir, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Disconnect(context.Background())

			return database.GetMigrationStatus(cmd.Context(), pool, migrationsDir, c.logger)
		},
	}
}

// connect loads config and opens a connected pool, returning the configured
// migrations directory alongside it.
func (c *migrateCLI) connect(ctx context.Context) (*postgres.PostgresPool, string, error) {
	cfg, err := config.LoadConfig(c.configPath)
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}

	pgConfig := &postgres.PostgresConfig{
		Host:              cfg.Database.Host,
		Port:              cfg.Database.Port,
		Database:          cfg.Database.Database,
		User:              cfg.Database.Username,
		Password:          cfg.Database.Password,
		SSLMode:           cfg.Database.SSLMode,
		MaxConns:          int32(cfg.Database.MaxConnections),
		MinConns:          int32(cfg.Database.MinConnections),
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:   cfg.Database.MaxConnIdleTime,
		HealthCheckPeriod: 30 * time.Second,
		ConnectTimeout:    10 * time.Second,
	}

	pool := postgres.NewPostgresPool(pgConfig, c.logger)

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := pool.Connect(connectCtx); err != nil {
		return nil, "", fmt.Errorf("connect to database: %w", err)
	}

	return pool, cfg.Database.MigrationsDir, nil
}
