package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	StoreDisk     = "disk"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Environment string `toml:"environment"`
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	// logging
	LogLevel      string `toml:"log_level"`
	LogsPath      string `toml:"logs_path"`
	LogToStdout   bool   `toml:"log_to_stdout"`
	LogFormatJSON bool   `toml:"log_format_json"`
	SentryEnabled bool   `toml:"sentry_enabled"`
	// remote edufolio api
	ApiBaseURL         string `toml:"api_base_url"`
	ApiTimeoutSeconds  int    `toml:"api_timeout_seconds"`
	DefaultLandingPath string `toml:"default_landing_path"`
	// session store
	SessionStore     string `toml:"session_store"`
	SessionFilePath  string `toml:"session_file_path"`
	SessionKeyPrefix string `toml:"session_key_prefix"`
	RedisHost        string `toml:"redis_host"`
	RedisPort        string `toml:"redis_port"`
	RedisCacheSizeMB int    `toml:"redis_cache_size_mb"`
	PostgresHost     string `toml:"postgres_host"`
	PostgresPort     string `toml:"postgres_port"`
	PostgresDBName   string `toml:"postgres_db_name"`
	PostgresUser     string `toml:"postgres_user"`
	// login form
	LoginRateLimitAllowedPerMin int `toml:"login_rate_limit_allowed_per_min"`
	// set only behind a reverse proxy that overwrites X-Real-Ip / X-Forwarded-For
	TrustProxyHeaders bool `toml:"trust_proxy_headers"`
	// metrics
	PrometheusMetricsHost string `toml:"prometheus_metrics_host"`
	PrometheusMetricsPort string `toml:"prometheus_metrics_port"`
}

type Toml struct {
	Development *Config
	Production  *Config
}

func (t *Toml) Get(env string) (*Config, error) {
	switch strings.ToLower(env) {
	case "dev", "development":
		return t.Development, nil
	case "prod", "production":
		return t.Production, nil
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
}

// Load reads the TOML file at path and returns the section for env,
// with defaults applied for the values left unset.
func Load(env, path string) (*Config, error) {
	var t Toml
	if _, err := toml.DecodeFile(path, &t); err != nil {
		return nil, fmt.Errorf("decode config file %s: %w", path, err)
	}

	cfg, err := t.Get(env)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("config section for env [%s] missing", env)
	}

	if cfg.Environment == "" {
		cfg.Environment = strings.ToLower(env)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ApiTimeoutSeconds <= 0 {
		c.ApiTimeoutSeconds = 10
	}
	if c.DefaultLandingPath == "" {
		c.DefaultLandingPath = "/"
	}
	if c.SessionStore == "" {
		c.SessionStore = StoreDisk
	}
	if c.SessionFilePath == "" {
		c.SessionFilePath = "./edufolio-session.json"
	}
	if c.SessionKeyPrefix == "" {
		c.SessionKeyPrefix = "edufolio-admin||"
	}
	if c.RedisPort == "" {
		c.RedisPort = "6379"
	}
	if c.PostgresPort == "" {
		c.PostgresPort = "5432"
	}
	if c.PostgresUser == "" {
		c.PostgresUser = "postgres"
	}
	if c.LoginRateLimitAllowedPerMin <= 0 {
		c.LoginRateLimitAllowedPerMin = 10
	}
}

func (c *Config) Validate() error {
	if c.ApiBaseURL == "" {
		return fmt.Errorf("api_base_url not set")
	}
	if !strings.HasPrefix(c.DefaultLandingPath, "/") {
		return fmt.Errorf("default_landing_path must be an absolute path: %s", c.DefaultLandingPath)
	}

	switch c.SessionStore {
	case StoreDisk, StoreMemory:
	case StoreRedis:
		if c.RedisHost == "" {
			return fmt.Errorf("session store [redis] requires redis_host")
		}
	case StorePostgres:
		if c.PostgresHost == "" || c.PostgresDBName == "" {
			return fmt.Errorf("session store [postgres] requires postgres_host and postgres_db_name")
		}
	default:
		return fmt.Errorf("unknown session store: %s", c.SessionStore)
	}

	return nil
}

func (c *Config) ApiTimeout() time.Duration {
	return time.Duration(c.ApiTimeoutSeconds) * time.Second
}
