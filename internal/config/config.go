package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Log       LogConfig       `mapstructure:"log"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Lock      LockConfig      `mapstructure:"lock"`
	App       AppConfig       `mapstructure:"app"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port                    int           `mapstructure:"port"`
	Host                    string        `mapstructure:"host"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
	AdminToken              string        `mapstructure:"admin_token"`
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	URL             string        `mapstructure:"url"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// RedisConfig holds Redis-related configuration.
type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

// CrawlerConfig selects and tunes the page-fetching provider.
type CrawlerConfig struct {
	Provider         string        `mapstructure:"provider"` // "http" is the only built-in provider
	UserAgent        string        `mapstructure:"user_agent"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	MaxRedirects     int           `mapstructure:"max_redirects"`
	ConcurrencyLimit int           `mapstructure:"concurrency_limit"`
	PerRequestDelay  time.Duration `mapstructure:"per_request_delay"`
	MaxPagesPerCrawl int           `mapstructure:"max_pages_per_crawl"`
}

// LLMConfig holds LLM-related configuration for the semantic-significance
// and relevance-classification providers.
type LLMConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	Provider             string        `mapstructure:"provider"` // "anthropic" or "disabled"
	APIKey               string        `mapstructure:"api_key"`
	Model                string        `mapstructure:"model"`
	MaxTokens            int           `mapstructure:"max_tokens"`
	Temperature          float64       `mapstructure:"temperature"`
	Timeout              time.Duration `mapstructure:"timeout"`
	MaxRetries           int           `mapstructure:"max_retries"`
	RelevanceBatchSize   int           `mapstructure:"relevance_batch_size"`
	SignificanceBatchSize int          `mapstructure:"significance_batch_size"`
	BreakerMaxFailures   uint32        `mapstructure:"breaker_max_failures"`
	BreakerResetTimeout  time.Duration `mapstructure:"breaker_reset_timeout"`
}

// SchedulerConfig tunes the two-tier check scheduler and adaptive backoff.
type SchedulerConfig struct {
	MinCheckIntervalHours            int           `mapstructure:"min_check_interval_hours"`
	MaxCheckIntervalHours            int           `mapstructure:"max_check_interval_hours"`
	DefaultCheckIntervalHours        int           `mapstructure:"default_check_interval_hours"`
	LightweightCheckIntervalMinutes  int           `mapstructure:"lightweight_check_interval_minutes"`
	FullRescrapeCooldownHours        int           `mapstructure:"full_rescrape_cooldown_hours"`
	BulkChangeThresholdPercent       int           `mapstructure:"bulk_change_threshold_percent"`
	SignificanceThreshold            int           `mapstructure:"significance_threshold"`
	DispatchTickInterval             time.Duration `mapstructure:"dispatch_tick_interval"`
	FullCheckTickInterval            time.Duration `mapstructure:"full_check_tick_interval"`
	FullCheckBatchSize               int           `mapstructure:"full_check_batch_size"`
	LightweightCheckBatchSize        int           `mapstructure:"lightweight_check_batch_size"`
}

// LogConfig holds logging-related configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// CacheConfig holds cache-related configuration.
type CacheConfig struct {
	DefaultTTL      time.Duration `mapstructure:"default_ttl"`
	MaxTTL          time.Duration `mapstructure:"max_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	MaxKeys         int64         `mapstructure:"max_keys"`
	EnableMetrics   bool          `mapstructure:"enable_metrics"`
}

// LockConfig holds distributed lock configuration used for the
// per-project single-writer guard around full rescrapes.
type LockConfig struct {
	TTL            time.Duration `mapstructure:"ttl"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	ReleaseTimeout time.Duration `mapstructure:"release_timeout"`
	ValuePrefix    string        `mapstructure:"value_prefix"`
}

// AppConfig holds application-specific configuration.
type AppConfig struct {
	Name          string        `mapstructure:"name"`
	Version       string        `mapstructure:"version"`
	Environment   string        `mapstructure:"environment"`
	Debug         bool          `mapstructure:"debug"`
	MaxWorkers    int           `mapstructure:"max_workers"`
	WorkerTimeout time.Duration `mapstructure:"worker_timeout"`
}

// MetricsConfig holds metrics-related configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigFromEnv loads configuration from environment variables and
// defaults only, skipping any config file.
func LoadConfigFromEnv() (*Config, error) {
	return LoadConfig("")
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.graceful_shutdown_timeout", "30s")
	viper.SetDefault("server.admin_token", "")

	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "sitewatch")
	viper.SetDefault("database.username", "sitewatch")
	viper.SetDefault("database.password", "sitewatch")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.min_connections", 5)
	viper.SetDefault("database.max_conn_lifetime", "1h")
	viper.SetDefault("database.max_conn_idle_time", "30m")
	viper.SetDefault("database.connect_timeout", "10s")
	viper.SetDefault("database.query_timeout", "30s")
	viper.SetDefault("database.migrations_dir", "internal/database/migrations")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 5)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.min_retry_backoff", "100ms")
	viper.SetDefault("redis.max_retry_backoff", "500ms")

	viper.SetDefault("crawler.provider", "http")
	viper.SetDefault("crawler.user_agent", "sitewatch/1.0 (+https://sitewatch.internal)")
	viper.SetDefault("crawler.request_timeout", "15s")
	viper.SetDefault("crawler.max_redirects", 5)
	viper.SetDefault("crawler.concurrency_limit", 20)
	viper.SetDefault("crawler.per_request_delay", "50ms")
	viper.SetDefault("crawler.max_pages_per_crawl", 500)

	viper.SetDefault("llm.enabled", true)
	viper.SetDefault("llm.provider", "anthropic")
	viper.SetDefault("llm.api_key", "")
	viper.SetDefault("llm.model", "claude-3-5-haiku-latest")
	viper.SetDefault("llm.max_tokens", 1024)
	viper.SetDefault("llm.temperature", 0)
	viper.SetDefault("llm.timeout", "30s")
	viper.SetDefault("llm.max_retries", 3)
	viper.SetDefault("llm.relevance_batch_size", 25)
	viper.SetDefault("llm.significance_batch_size", 10)
	viper.SetDefault("llm.breaker_max_failures", 5)
	viper.SetDefault("llm.breaker_reset_timeout", "1m")

	viper.SetDefault("scheduler.min_check_interval_hours", 6)
	viper.SetDefault("scheduler.max_check_interval_hours", 168)
	viper.SetDefault("scheduler.default_check_interval_hours", 24)
	viper.SetDefault("scheduler.lightweight_check_interval_minutes", 5)
	viper.SetDefault("scheduler.full_rescrape_cooldown_hours", 4)
	viper.SetDefault("scheduler.bulk_change_threshold_percent", 20)
	viper.SetDefault("scheduler.significance_threshold", 30)
	viper.SetDefault("scheduler.dispatch_tick_interval", "1m")
	viper.SetDefault("scheduler.full_check_tick_interval", "1h")
	viper.SetDefault("scheduler.full_check_batch_size", 100)
	viper.SetDefault("scheduler.lightweight_check_batch_size", 500)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.filename", "")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("cache.default_ttl", "1h")
	viper.SetDefault("cache.max_ttl", "24h")
	viper.SetDefault("cache.cleanup_interval", "10m")
	viper.SetDefault("cache.max_keys", 10000)
	viper.SetDefault("cache.enable_metrics", true)

	viper.SetDefault("lock.ttl", "5m")
	viper.SetDefault("lock.max_retries", 3)
	viper.SetDefault("lock.retry_interval", "200ms")
	viper.SetDefault("lock.acquire_timeout", "5s")
	viper.SetDefault("lock.release_timeout", "2s")
	viper.SetDefault("lock.value_prefix", "lock:project")

	viper.SetDefault("app.name", "sitewatch")
	viper.SetDefault("app.version", "0.1.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.max_workers", 10)
	viper.SetDefault("app.worker_timeout", "5m")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.port", 8080)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	if c.Database.Driver == "" {
		return fmt.Errorf("database driver cannot be empty")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host cannot be empty")
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name cannot be empty")
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr cannot be empty")
	}

	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler config: %w", err)
	}

	if c.LLM.Enabled && c.LLM.Provider == "anthropic" && c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required when llm.provider=anthropic")
	}

	if c.Log.Level == "" {
		return fmt.Errorf("log level cannot be empty")
	}

	if c.App.Name == "" {
		return fmt.Errorf("app name cannot be empty")
	}

	return nil
}

// Validate checks that the scheduler bounds are internally consistent.
func (s *SchedulerConfig) Validate() error {
	if s.MinCheckIntervalHours <= 0 {
		return fmt.Errorf("min_check_interval_hours must be > 0")
	}
	if s.MaxCheckIntervalHours < s.MinCheckIntervalHours {
		return fmt.Errorf("max_check_interval_hours (%d) must be >= min_check_interval_hours (%d)",
			s.MaxCheckIntervalHours, s.MinCheckIntervalHours)
	}
	if s.DefaultCheckIntervalHours < s.MinCheckIntervalHours || s.DefaultCheckIntervalHours > s.MaxCheckIntervalHours {
		return fmt.Errorf("default_check_interval_hours (%d) must be within [%d, %d]",
			s.DefaultCheckIntervalHours, s.MinCheckIntervalHours, s.MaxCheckIntervalHours)
	}
	if s.FullRescrapeCooldownHours <= 0 {
		return fmt.Errorf("full_rescrape_cooldown_hours must be > 0")
	}
	return nil
}

// GetDatabaseURL constructs database URL from configuration.
func (c *Config) GetDatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}

	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.Username,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		sslMode,
	)
}

// IsDevelopment returns true if the application is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsProduction returns true if the application is running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDebug returns true if debug mode is enabled.
func (c *Config) IsDebug() bool {
	return c.App.Debug || c.IsDevelopment()
}
