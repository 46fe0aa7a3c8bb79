// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CONDUIT_"

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	GRPC      GRPCConfig      `yaml:"grpc"`
	Router    RouterConfig    `yaml:"router"`
	MCP       MCPConfig       `yaml:"mcp"`
	Cache     CacheConfig     `yaml:"cache"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	OpenAPI   OpenAPIConfig   `yaml:"openapi"`
	Services  []ServiceConfig `yaml:"services"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GRPCConfig configures the registration endpoint services call.
type GRPCConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Host    string `yaml:"host" env:"HOST"`
	Port    int    `yaml:"port" env:"PORT"`
}

// Addr returns the listen address.
func (g GRPCConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// RouterConfig configures the routing registries.
type RouterConfig struct {
	RebuildDelay time.Duration `yaml:"rebuild_delay" env:"REBUILD_DELAY"`
	CallTimeout  time.Duration `yaml:"call_timeout" env:"CALL_TIMEOUT"`
}

// MCPConfig configures the agent tool endpoint.
type MCPConfig struct {
	Enabled    bool     `yaml:"enabled" env:"ENABLED"`
	Path       string   `yaml:"path" env:"PATH"`
	CoreModule string   `yaml:"core_module" env:"CORE_MODULE"`
	Prefixes   []string `yaml:"prefixes" env:"PREFIXES" envSeparator:","`
	ServerName string   `yaml:"server_name" env:"SERVER_NAME"`
}

// CacheConfig configures the response cache.
// Driver is "none", "memory" or "redis".
type CacheConfig struct {
	Driver string      `yaml:"driver" env:"DRIVER"`
	Redis  RedisConfig `yaml:"redis" envPrefix:"REDIS_"`
}

// RedisConfig configures the redis cache backend.
type RedisConfig struct {
	Addrs     []string `yaml:"addrs" env:"ADDRS" envSeparator:","`
	Username  string   `yaml:"username" env:"USERNAME"`
	Password  string   `yaml:"password" env:"PASSWORD"`
	DB        int      `yaml:"db" env:"DB"`
	KeyPrefix string   `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// AuthConfig configures the built-in bearer token middleware.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret,omitempty" env:"JWT_SECRET"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
}

// RateLimitConfig configures the built-in rate limit middleware.
type RateLimitConfig struct {
	Enabled   bool    `yaml:"enabled" env:"ENABLED"`
	PerSecond float64 `yaml:"per_second" env:"PER_SECOND"`
	Burst     int     `yaml:"burst" env:"BURST"`
}

// DatabaseConfig configures route persistence. An empty DSN disables it.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"DSN"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // "debug", "info", "warn", "error"
	Format string `yaml:"format" env:"FORMAT"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`
}

// OpenAPIConfig configures the generated document.
type OpenAPIConfig struct {
	Title       string   `yaml:"title" env:"TITLE"`
	Version     string   `yaml:"version" env:"VERSION"`
	Description string   `yaml:"description" env:"DESCRIPTION"`
	Servers     []string `yaml:"servers" env:"SERVERS" envSeparator:","`
}

// ServiceConfig names a service whose routes are registered at startup.
type ServiceConfig struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Routes  string `yaml:"routes"` // path to a routes YAML file
}

// Load reads configuration from a YAML file. An empty path starts from
// defaults. Environment variables override the file.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		data = []byte(os.ExpandEnv(string(data)))
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides applies CONDUIT_* variables, then the bare LOG_LEVEL
// and LOG_FORMAT.
func applyEnvOverrides(cfg *Config) error {
	sections := []struct {
		prefix string
		target any
	}{
		{"SERVER_", &cfg.Server},
		{"GRPC_", &cfg.GRPC},
		{"ROUTER_", &cfg.Router},
		{"MCP_", &cfg.MCP},
		{"CACHE_", &cfg.Cache},
		{"AUTH_", &cfg.Auth},
		{"RATELIMIT_", &cfg.RateLimit},
		{"DATABASE_", &cfg.Database},
		{"LOG_", &cfg.Logging},
		{"METRICS_", &cfg.Metrics},
		{"OPENAPI_", &cfg.OpenAPI},
	}
	for _, s := range sections {
		if err := env.ParseWithOptions(s.target, env.Options{Prefix: EnvPrefix + s.prefix}); err != nil {
			return fmt.Errorf("parse environment %s*: %w", EnvPrefix+s.prefix, err)
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.GRPC.Host == "" {
		cfg.GRPC.Host = "0.0.0.0"
	}
	if cfg.GRPC.Port == 0 {
		cfg.GRPC.Port = 55152
	}

	if cfg.Router.RebuildDelay == 0 {
		cfg.Router.RebuildDelay = 100 * time.Millisecond
	}
	if cfg.Router.CallTimeout == 0 {
		cfg.Router.CallTimeout = 30 * time.Second
	}

	if cfg.MCP.Path == "" {
		cfg.MCP.Path = "/mcp"
	}
	if cfg.MCP.CoreModule == "" {
		cfg.MCP.CoreModule = "core"
	}
	if cfg.MCP.Prefixes == nil {
		cfg.MCP.Prefixes = []string{"/admin"}
	}
	if cfg.MCP.ServerName == "" {
		cfg.MCP.ServerName = "conduit"
	}

	if cfg.Cache.Driver == "" {
		cfg.Cache.Driver = "memory"
	}
	if cfg.Cache.Redis.KeyPrefix == "" {
		cfg.Cache.Redis.KeyPrefix = "conduit:cache:"
	}

	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = time.Hour
	}

	if cfg.RateLimit.PerSecond == 0 {
		cfg.RateLimit.PerSecond = 10
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.OpenAPI.Title == "" {
		cfg.OpenAPI.Title = "Conduit API"
	}
	if cfg.OpenAPI.Version == "" {
		cfg.OpenAPI.Version = "1.0.0"
	}
}

// Validate checks cfg and reports every problem at once.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be between 1 and 65535, got %d", cfg.Server.Port))
	}
	if cfg.GRPC.Enabled && (cfg.GRPC.Port < 1 || cfg.GRPC.Port > 65535) {
		errs = append(errs, fmt.Sprintf("grpc.port must be between 1 and 65535, got %d", cfg.GRPC.Port))
	}
	if cfg.GRPC.Enabled && cfg.GRPC.Port == cfg.Server.Port && cfg.GRPC.Host == cfg.Server.Host {
		errs = append(errs, "grpc.port must differ from server.port")
	}
	if cfg.Router.RebuildDelay < 0 {
		errs = append(errs, "router.rebuild_delay must not be negative")
	}
	if cfg.MCP.Enabled && !strings.HasPrefix(cfg.MCP.Path, "/") {
		errs = append(errs, fmt.Sprintf("mcp.path %q must start with /", cfg.MCP.Path))
	}

	switch cfg.Cache.Driver {
	case "none", "memory":
	case "redis":
		if len(cfg.Cache.Redis.Addrs) == 0 {
			errs = append(errs, "cache.redis.addrs is required when cache.driver is 'redis'")
		}
	default:
		errs = append(errs, fmt.Sprintf("cache.driver must be one of: none, memory, redis, got %q", cfg.Cache.Driver))
	}

	if cfg.RateLimit.Enabled && cfg.RateLimit.PerSecond < 0 {
		errs = append(errs, "rate_limit.per_second must not be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, fmt.Sprintf("logging.level must be one of: debug, info, warn, error, got %q", cfg.Logging.Level))
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		errs = append(errs, fmt.Sprintf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format))
	}

	seen := make(map[string]bool)
	for i, svc := range cfg.Services {
		if svc.Name == "" {
			errs = append(errs, fmt.Sprintf("services[%d].name is required", i))
		} else if seen[svc.Name] {
			errs = append(errs, fmt.Sprintf("services[%d].name %q is duplicated", i, svc.Name))
		}
		seen[svc.Name] = true
		if svc.Address == "" {
			errs = append(errs, fmt.Sprintf("services[%d].address is required", i))
		}
		if svc.Routes == "" {
			errs = append(errs, fmt.Sprintf("services[%d].routes is required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
