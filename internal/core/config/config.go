// Package config loads service configuration from defaults, an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const PathEnvVar = "CONFIG_PATH"

var DefaultPaths = []string{"config.yaml", "config.yml", "/etc/geologic-api/config.yaml"}

type AppConfig struct {
	Name    string `koanf:"name"`
	Version string `koanf:"version"`
}

type HTTPConfig struct {
	Addr        string   `koanf:"addr"`
	CORSOrigins []string `koanf:"cors_origins"`
}

type APIConfig struct {
	Prefix          string `koanf:"prefix"`
	DefaultPageSize int    `koanf:"default_page_size"`
	MaxPageSize     int    `koanf:"max_page_size"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxConns        int32         `koanf:"max_conns"`
	MinConns        int32         `koanf:"min_conns"`
	MaxConnIdleTime time.Duration `koanf:"max_conn_idle_time"`
}

type StorageConfig struct {
	BaseURL string `koanf:"base_url"`
}

type LogConfig struct {
	Level   string `koanf:"level"`
	Console bool   `koanf:"console"`
	SampleN int    `koanf:"sample_n"`
}

type CatalogConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

type CacheConfig struct {
	Enabled   bool          `koanf:"enabled"`
	RedisAddr string        `koanf:"redis_addr"`
	TTL       time.Duration `koanf:"ttl"`
	OpTimeout time.Duration `koanf:"op_timeout"`
	// consecutive failures that open the breaker; 0 disables it
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerCooldown time.Duration `koanf:"breaker_cooldown"`
}

type InvalidationConfig struct {
	Enabled bool     `koanf:"enabled"`
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
	GroupID string   `koanf:"group_id"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

type Config struct {
	App          AppConfig          `koanf:"app"`
	HTTP         HTTPConfig         `koanf:"http"`
	API          APIConfig          `koanf:"api"`
	Database     DatabaseConfig     `koanf:"database"`
	Storage      StorageConfig      `koanf:"storage"`
	Log          LogConfig          `koanf:"log"`
	Catalog      CatalogConfig      `koanf:"catalog"`
	Cache        CacheConfig        `koanf:"cache"`
	Invalidation InvalidationConfig `koanf:"invalidation"`
	Metrics      MetricsConfig      `koanf:"metrics"`
}

func Defaults() Config {
	return Config{
		App: AppConfig{Name: "Geologic Data API", Version: "1.0.0"},
		HTTP: HTTPConfig{
			Addr:        ":8000",
			CORSOrigins: []string{"http://localhost:5173", "http://localhost:3000"},
		},
		API: APIConfig{Prefix: "/api/v1", DefaultPageSize: 100, MaxPageSize: 1000},
		Database: DatabaseConfig{
			MaxConns:        10,
			MinConns:        1,
			MaxConnIdleTime: 5 * time.Minute,
		},
		Storage: StorageConfig{BaseURL: ""},
		Log:     LogConfig{Level: "info"},
		Catalog: CatalogConfig{TTL: time.Minute},
		Cache: CacheConfig{
			Enabled:         false,
			RedisAddr:       "localhost:6379",
			TTL:             5 * time.Minute,
			OpTimeout:       250 * time.Millisecond,
			BreakerFailures: 5,
			BreakerCooldown: 10 * time.Second,
		},
		Invalidation: InvalidationConfig{
			Enabled: false,
			Brokers: []string{"localhost:9092"},
			Topic:   "geologic-table-updates",
			GroupID: "geologic-api",
		},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// environment variable names mapped to koanf paths
var envMappings = map[string]string{
	"app_name":               "app.name",
	"app_version":            "app.version",
	"addr":                   "http.addr",
	"http_addr":              "http.addr",
	"cors_origins":           "http.cors_origins",
	"api_v1_prefix":          "api.prefix",
	"api_prefix":             "api.prefix",
	"default_page_size":      "api.default_page_size",
	"max_page_size":          "api.max_page_size",
	"database_url":           "database.url",
	"db_max_conns":           "database.max_conns",
	"db_min_conns":           "database.min_conns",
	"db_max_conn_idle_time":  "database.max_conn_idle_time",
	"storage_base_url":       "storage.base_url",
	"supabase_storage_url":   "storage.base_url",
	"log_level":              "log.level",
	"log_console":            "log.console",
	"log_sample_n":           "log.sample_n",
	"catalog_ttl":            "catalog.ttl",
	"cache_enabled":          "cache.enabled",
	"redis_addr":             "cache.redis_addr",
	"cache_ttl":              "cache.ttl",
	"cache_op_timeout":       "cache.op_timeout",
	"cache_breaker_failures": "cache.breaker_failures",
	"cache_breaker_cooldown": "cache.breaker_cooldown",
	"invalidation_enabled":   "invalidation.enabled",
	"kafka_brokers":          "invalidation.brokers",
	"kafka_topic":            "invalidation.topic",
	"kafka_group_id":         "invalidation.group_id",
	"metrics_enabled":        "metrics.enabled",
	"metrics_path":           "metrics.path",
}

var slicePaths = []string{"http.cors_origins", "invalidation.brokers"}

// Load layers defaults, the config file (if any) and environment variables.
func Load() (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path := findFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	if err := splitSlices(k); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Database.URL) == "" {
		errs = append(errs, errors.New("database.url (DATABASE_URL) is required"))
	}
	if c.API.DefaultPageSize < 1 {
		errs = append(errs, errors.New("api.default_page_size must be >= 1"))
	}
	if c.API.MaxPageSize < c.API.DefaultPageSize {
		errs = append(errs, errors.New("api.max_page_size must be >= api.default_page_size"))
	}
	if c.API.Prefix != "" && !strings.HasPrefix(c.API.Prefix, "/") {
		errs = append(errs, errors.New("api.prefix must start with /"))
	}
	if c.Cache.Enabled && c.Cache.RedisAddr == "" {
		errs = append(errs, errors.New("cache.redis_addr is required when cache is enabled"))
	}
	if c.Invalidation.Enabled && !c.Cache.Enabled {
		errs = append(errs, errors.New("invalidation requires cache.enabled"))
	}
	if c.Invalidation.Enabled && len(c.Invalidation.Brokers) == 0 {
		errs = append(errs, errors.New("invalidation.brokers is required when invalidation is enabled"))
	}
	return errors.Join(errs...)
}

func findFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// unknown variables map to "" and are dropped by koanf
func envTransform(key string) string {
	return envMappings[strings.ToLower(key)]
}

// comma-separated env values become string slices
func splitSlices(k *koanf.Koanf) error {
	for _, path := range slicePaths {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		var parts []string
		for p := range strings.SplitSeq(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}
