package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Redis         RedisConfig         `koanf:"redis"`
	Log           LogConfig           `koanf:"log"`
	Auth          AuthConfig          `koanf:"auth"`
	Impersonation ImpersonationConfig `koanf:"impersonation"`
	Audit         AuditConfig         `koanf:"audit"`
}

type AuthConfig struct {
	DevMode bool      `koanf:"devmode"`
	JWT     JWTConfig `koanf:"jwt"`
}

type JWTConfig struct {
	SigningKey  string `koanf:"signingkey"`
	Issuer      string `koanf:"issuer"`
	ExpiryHours int    `koanf:"expiryhours"`
}

type ServerConfig struct {
	Host               string   `koanf:"host"`
	Port               int      `koanf:"port"`
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
	RequestsPerMinute  int      `koanf:"requests_per_minute"`
}

type DatabaseConfig struct {
	URL            string `koanf:"url"`
	MigrationsPath string `koanf:"migrations_path"`
	MaxConns       int    `koanf:"max_conns"`
}

// RedisConfig configures the shared permission cache. When disabled the
// evaluator falls back to a per-process cache.
type RedisConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Addr      string `koanf:"addr"`
	KeyPrefix string `koanf:"key_prefix"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ImpersonationConfig holds the default rate-limit values used until a
// super-admin stores an override.
type ImpersonationConfig struct {
	Enabled            bool `koanf:"enabled"`
	MaxPerHour         int  `koanf:"max_per_hour"`
	MaxConcurrent      int  `koanf:"max_concurrent"`
	MaxDurationMinutes int  `koanf:"max_duration_minutes"`
	SweepIntervalSecs  int  `koanf:"sweep_interval_secs"`
	StartRatePerMinute int  `koanf:"start_rate_per_minute"`
	WatchIntervalSecs  int  `koanf:"watch_interval_secs"`
}

type AuditConfig struct {
	BufferSize      int `koanf:"buffer_size"`
	BatchSize       int `koanf:"batch_size"`
	FlushIntervalMS int `koanf:"flush_interval_ms"`
}

func Load(configPaths ...string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	_ = k.Load(confmap.Provider(map[string]any{
		"server.port":                         8080,
		"server.host":                         "0.0.0.0",
		"server.requests_per_minute":          600,
		"database.max_conns":                  25,
		"database.migrations_path":            "migrations",
		"redis.enabled":                       false,
		"redis.addr":                          "127.0.0.1:6379",
		"redis.key_prefix":                    "meridian:perms",
		"log.level":                           "info",
		"log.format":                          "json",
		"auth.devmode":                        false,
		"auth.jwt.issuer":                     "meridian",
		"auth.jwt.expiryhours":                24,
		"impersonation.enabled":               true,
		"impersonation.max_per_hour":          10,
		"impersonation.max_concurrent":        5,
		"impersonation.max_duration_minutes":  30,
		"impersonation.sweep_interval_secs":   0,
		"impersonation.start_rate_per_minute": 20,
		"impersonation.watch_interval_secs":   5,
		"audit.buffer_size":                   4096,
		"audit.batch_size":                    100,
		"audit.flush_interval_ms":             500,
	}, "."), nil)

	// YAML file (optional)
	for _, path := range configPaths {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			continue
		}
	}

	// Environment variables override everything.
	// MERIDIAN_SERVER_PORT -> server.port. Keys that contain underscores
	// (max_per_hour) are matched against the known key set first.
	_ = k.Load(env.Provider("MERIDIAN_", ".", func(s string) string {
		return envKey(k, strings.ToLower(strings.TrimPrefix(s, "MERIDIAN_")))
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// envKey maps "impersonation_max_per_hour" to "impersonation.max_per_hour"
// when that key is already known, and falls back to replacing every
// underscore with a dot.
func envKey(k *koanf.Koanf, raw string) string {
	for _, known := range k.Keys() {
		if strings.ReplaceAll(known, ".", "_") == raw {
			return known
		}
	}
	return strings.ReplaceAll(raw, "_", ".")
}
