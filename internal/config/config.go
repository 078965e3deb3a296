package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all router configuration, read from the environment.
type Config struct {
	Mode string `env:"APP_MODE" envDefault:"api"`

	// Server
	Host string `env:"APP_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"APP_PORT" envDefault:"8080"`

	// Database
	DatabaseURL            string `env:"DATABASE_URL,notEmpty"`
	DatabaseReadReplicaURL string `env:"DATABASE_READ_REPLICA_URL"`
	DatabaseMaxConns       int    `env:"DATABASE_MAX_CONNS" envDefault:"10"`
	DatabaseReadMaxConns   int    `env:"DATABASE_READ_MAX_CONNS" envDefault:"20"`

	// Redis
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	// Peer services
	CoreAPIURL        string `env:"CORE_API_URL,notEmpty"`
	MarketplaceAPIURL string `env:"MARKETPLACE_API_URL,notEmpty"`
	ReputationAPIURL  string `env:"REPUTATION_API_URL"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Migrations
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	// Metrics
	MetricsPath string `env:"METRICS_PATH" envDefault:"/metrics"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Dispatch
	MaxWorkers     int           `env:"MAX_WORKERS" envDefault:"20"`
	ModuleWorkers  int           `env:"MODULE_WORKERS" envDefault:"5"`
	RBACWorkers    int           `env:"RBAC_WORKERS" envDefault:"10"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	MaxRetries     int           `env:"MAX_RETRIES" envDefault:"3"`

	// Execution backends
	OpenWhiskAuthKey string `env:"OPENWHISK_AUTH_KEY"`

	// Caching
	CommandCacheTTL    time.Duration `env:"COMMAND_CACHE_TTL" envDefault:"5m"`
	EntityCacheTTL     time.Duration `env:"ENTITY_CACHE_TTL" envDefault:"10m"`
	StringRuleCacheTTL time.Duration `env:"STRING_RULE_CACHE_TTL" envDefault:"5m"`

	// Sessions
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"1h"`

	// Rate limiting
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`
	AccountRateWindow time.Duration `env:"ACCOUNT_RATE_WINDOW" envDefault:"1h"`

	// Coordination
	ClaimDuration   time.Duration `env:"CLAIM_DURATION" envDefault:"30m"`
	CheckinInterval time.Duration `env:"CHECKIN_INTERVAL" envDefault:"5m"`
	CheckinTimeout  time.Duration `env:"CHECKIN_TIMEOUT" envDefault:"6m"`

	// Ops notifications
	SlackBotToken   string `env:"SLACK_BOT_TOKEN"`
	SlackOpsChannel string `env:"SLACK_OPS_CHANNEL"`
}

// Load reads configuration from environment variables. It fails when a
// required variable (DATABASE_URL, CORE_API_URL, MARKETPLACE_API_URL) is
// missing or empty.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}

	if cfg.ReputationAPIURL == "" {
		cfg.ReputationAPIURL = strings.TrimRight(cfg.CoreAPIURL, "/") + "/reputation"
	}
	if cfg.DatabaseReadReplicaURL == "" {
		cfg.DatabaseReadReplicaURL = cfg.DatabaseURL
	}

	return cfg, nil
}

// ListenAddr returns the address the HTTP server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
