// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
//
// Operational parameters that admins tune at runtime (query_refresh_delay,
// items_per_query, proxy_list, ...) live in the parameters table and are read
// through the store on every worker cycle; only bootstrap and secret values
// belong here.
type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"dev"`
	Port        int    `env:"PORT" envDefault:"8000"`
	DatabaseURL string `env:"DATABASE_URL"`
	// RedisURL enables the hot seen-item cache in front of the store when set.
	RedisURL string `env:"REDIS_URL"`

	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string `env:"TELEGRAM_CHAT_ID"`
	// PublicURL is what the /app bot command answers with.
	PublicURL string `env:"PUBLIC_URL"`

	// Railway redeploy chain (governor restart actions).
	RailwayToken           string `env:"RAILWAY_TOKEN"`
	RailwayProjectID       string `env:"RAILWAY_PROJECT_ID"`
	RailwayServiceID       string `env:"RAILWAY_SERVICE_ID"`
	RailwayRedeployWebhook string `env:"RAILWAY_REDEPLOY_WEBHOOK"`
	AllowEmergencyExit     bool   `env:"ALLOW_EMERGENCY_EXIT" envDefault:"true"`

	AdminUsername string `env:"ADMIN_USERNAME"`
	AdminPassword string `env:"ADMIN_PASSWORD"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"vinted-notifier"`

	// QuerySeedFile optionally points at a YAML file of queries applied
	// idempotently at boot.
	QuerySeedFile string `env:"QUERY_SEED_FILE"`

	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"60"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	// Session pool.
	SessionMaxErrors     int           `env:"SESSION_MAX_ERRORS" envDefault:"5"`
	SessionRotateScans   int           `env:"SESSION_ROTATE_SCANS" envDefault:"5"`
	PoolMaxSize          int           `env:"POOL_MAX_SIZE" envDefault:"100"`
	PoolPrewarmWorkers   int           `env:"POOL_PREWARM_WORKERS" envDefault:"10"`
	TokenRequestTimeout  time.Duration `env:"TOKEN_REQUEST_TIMEOUT" envDefault:"30s"`
	CatalogTimeout       time.Duration `env:"CATALOG_TIMEOUT" envDefault:"30s"`
	PriorityRefreshDelay time.Duration `env:"PRIORITY_REFRESH_DELAY" envDefault:"20s"`
	PriorityStagger      time.Duration `env:"PRIORITY_STAGGER" envDefault:"7s"`

	// Proxy pool.
	ProxyCheckTimeout    time.Duration `env:"PROXY_CHECK_TIMEOUT" envDefault:"10s"`
	ProxyCheckWorkers    int           `env:"PROXY_CHECK_WORKERS" envDefault:"10"`
	ProxyRecheckInterval time.Duration `env:"PROXY_RECHECK_INTERVAL" envDefault:"30m"`

	// Restart governor.
	GovernorSilenceReset   time.Duration `env:"GOVERNOR_SILENCE_RESET" envDefault:"5m"`
	GovernorSuccessStreak  int           `env:"GOVERNOR_SUCCESS_STREAK" envDefault:"10"`
	GovernorCriticalErrors int           `env:"GOVERNOR_CRITICAL_ERRORS" envDefault:"100"`
	GovernorMinInterval    time.Duration `env:"GOVERNOR_MIN_INTERVAL" envDefault:"3m"`
	GovernorEmergencyDelay time.Duration `env:"GOVERNOR_EMERGENCY_DELAY" envDefault:"5s"`
	RedeployCommandTimeout time.Duration `env:"REDEPLOY_COMMAND_TIMEOUT" envDefault:"60s"`
	RedeployRequestTimeout time.Duration `env:"REDEPLOY_REQUEST_TIMEOUT" envDefault:"30s"`

	// Ingestion bounds.
	ItemsHardCap    int `env:"ITEMS_HARD_CAP" envDefault:"50000"`
	ItemsPruneFloor int `env:"ITEMS_PRUNE_FLOOR" envDefault:"30000"`
	IngestMaxBatch  int `env:"INGEST_MAX_BATCHES" envDefault:"100"`

	IngestTick      time.Duration `env:"INGEST_TICK" envDefault:"100ms"`
	MonitorInterval time.Duration `env:"MONITOR_INTERVAL" envDefault:"5s"`
}

// AdminEnabled returns true if the admin surface should require credentials.
func (c Config) AdminEnabled() bool {
	return c.AdminUsername != "" && c.AdminPassword != ""
}

// UsesPostgres reports whether a relational store DSN was provided.
// When false the embedded in-memory store is used.
func (c Config) UsesPostgres() bool { return c.DatabaseURL != "" }

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }
