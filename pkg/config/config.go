package config

import (
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/platinummonkey/roomdesk/pkg/database"
	"github.com/platinummonkey/roomdesk/pkg/observability"
)

// EnvPrefix is prepended to every environment override, e.g. ROOMDESK_SERVER_PORT
const EnvPrefix = "ROOMDESK"

// Token store backends
const (
	TokenStoreSQL   = "sql"
	TokenStoreRedis = "redis"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// Addr returns host:port for the API listener
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// DatabaseConfig holds relational store settings
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// Options converts to the database package's connection settings
func (d DatabaseConfig) Options() database.Config {
	return database.Config{
		Driver:       d.Driver,
		DSN:          d.DSN,
		MaxOpenConns: d.MaxOpenConns,
		MaxIdleConns: d.MaxIdleConns,
		MaxLifetime:  d.ConnMaxLifetime,
		MaxIdleTime:  d.ConnMaxIdleTime,
	}
}

// AuthConfig controls token issuance and cleanup
type AuthConfig struct {
	// TokenTTL of zero issues tokens that never expire
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	TokenStore string        `mapstructure:"token_store"`
	BcryptCost int           `mapstructure:"bcrypt_cost"`
	// CleanupSchedule is a cron spec for the expired token sweeper. Empty disables it.
	CleanupSchedule string `mapstructure:"cleanup_schedule"`
}

// RedisConfig holds redis connection settings. An empty Addr disables redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a redis address is configured
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus listener
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	ServiceName string  `mapstructure:"service_name"`
	// Metrics pushes authorization and login metrics over OTLP as well
	Metrics bool `mapstructure:"metrics"`
}

// OTel converts to the observability tracing config
func (t TracingConfig) OTel(version string) observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        t.Enabled,
		Endpoint:       t.Endpoint,
		ServiceName:    t.ServiceName,
		ServiceVersion: version,
		Insecure:       t.Insecure,
		SampleRate:     t.SampleRate,
		Metrics:        t.Metrics,
	}
}

// UpstreamConfig points at the service that owns the gated resources
type UpstreamConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RateLimitConfig limits credential endpoints per client IP
type RateLimitConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	LoginPerMinute int    `mapstructure:"login_per_minute"`
	Backend        string `mapstructure:"backend"` // memory or redis
	// TrustedProxies lists the CIDRs or addresses of reverse proxies whose
	// X-Forwarded-For and X-Real-IP headers are believed. Empty means the
	// client is always the TCP peer.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is a single-host
// prefix.
func (r RateLimitConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(r.TrustedProxies))
	for _, raw := range r.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// Load reads configuration with precedence env > file > defaults. path may
// be empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.max_body_bytes", int64(1<<20))

	v.SetDefault("database.driver", string(database.SQLite))
	v.SetDefault("database.dsn", "roomdesk.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.conn_max_idle_time", time.Minute)

	v.SetDefault("auth.token_ttl", 5*time.Minute)
	v.SetDefault("auth.token_store", TokenStoreSQL)
	v.SetDefault("auth.bcrypt_cost", 10)
	v.SetDefault("auth.cleanup_schedule", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.service_name", "roomdesk")
	v.SetDefault("tracing.metrics", false)

	v.SetDefault("upstream.url", "")
	v.SetDefault("upstream.timeout", 30*time.Second)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.login_per_minute", 10)
	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.trusted_proxies", []string{})
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
		}
		if c.Metrics.Port == c.Server.Port {
			return fmt.Errorf("server port and metrics port must be different")
		}
	}

	if _, err := database.ParseDialect(c.Database.Driver); err != nil {
		return err
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}

	if c.Auth.TokenTTL < 0 {
		return fmt.Errorf("auth token ttl must not be negative")
	}
	switch c.Auth.TokenStore {
	case TokenStoreSQL:
	case TokenStoreRedis:
		if !c.Redis.Enabled() {
			return fmt.Errorf("redis addr is required for the redis token store")
		}
	default:
		return fmt.Errorf("invalid token store: %s (must be sql or redis)", c.Auth.TokenStore)
	}
	if c.Auth.CleanupSchedule != "" {
		if _, err := cron.ParseStandard(c.Auth.CleanupSchedule); err != nil {
			return fmt.Errorf("invalid cleanup schedule %q: %w", c.Auth.CleanupSchedule, err)
		}
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Log.Format)
	}

	if c.Tracing.Enabled {
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing endpoint is required when tracing is enabled")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing sample rate must be between 0 and 1")
		}
	}

	if c.Upstream.URL != "" {
		u, err := url.Parse(c.Upstream.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid upstream url: %q", c.Upstream.URL)
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.LoginPerMinute <= 0 {
			return fmt.Errorf("ratelimit login_per_minute must be positive")
		}
		switch c.RateLimit.Backend {
		case "memory":
		case "redis":
			if !c.Redis.Enabled() {
				return fmt.Errorf("redis addr is required for the redis rate limit backend")
			}
		default:
			return fmt.Errorf("invalid ratelimit backend: %s (must be memory or redis)", c.RateLimit.Backend)
		}
		if _, err := c.RateLimit.TrustedProxyPrefixes(); err != nil {
			return err
		}
	}

	return nil
}

// LogLevel returns the parsed log level
func (c *Config) LogLevel() observability.LogLevel {
	return observability.ParseLogLevel(c.Log.Level)
}
