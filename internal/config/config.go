package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"tourneyaudit-server-go/internal/audit"
)

type Config struct {
	HTTP     HTTPConfig     `koanf:"http"`
	Database DatabaseConfig `koanf:"database"`
	Auth     AuthConfig     `koanf:"auth"`
	Feed     FeedConfig     `koanf:"feed"`
	Redis    RedisConfig    `koanf:"redis"`
	Tracing  TracingConfig  `koanf:"tracing"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
}

type HTTPConfig struct {
	Host           string        `koanf:"host"`
	Port           uint16        `koanf:"port"`
	AllowedOrigins []string      `koanf:"allowed_origins"`
	ReadTimeout    time.Duration `koanf:"read_timeout"`
	WriteTimeout   time.Duration `koanf:"write_timeout"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

func (h HTTPConfig) Addr() string {
	return h.Host + ":" + strconv.Itoa(int(h.Port))
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
}

type FeedConfig struct {
	DefaultLimit       int      `koanf:"default_limit"`
	MaxLimit           int      `koanf:"max_limit"`
	DefaultEntityTypes []string `koanf:"default_entity_types"`
	Dispatch           string   `koanf:"dispatch"`
}

// EntityTypes parses DefaultEntityTypes.
func (f FeedConfig) EntityTypes() ([]audit.EntityType, error) {
	out := make([]audit.EntityType, 0, len(f.DefaultEntityTypes))
	for _, s := range f.DefaultEntityTypes {
		t, err := audit.ParseEntityType(s)
		if err != nil {
			return nil, fmt.Errorf("feed.default_entity_types: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

type RedisConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	TTL      time.Duration `koanf:"ttl"`
}

type TracingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Endpoint    string `koanf:"endpoint"`
	ServiceName string `koanf:"service_name"`
	Environment string `koanf:"environment"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

type LogConfig struct {
	Level      string `koanf:"level"`
	Encoding   string `koanf:"encoding"`
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	applyDefaults(k)
	applyEnvOverrides(k)

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	setDefault(k, "http.host", "0.0.0.0")
	setDefault(k, "http.port", 3000)
	setDefault(k, "http.allowed_origins", []string{"*"})
	setDefault(k, "http.read_timeout", 10*time.Second)
	setDefault(k, "http.write_timeout", 30*time.Second)
	setDefault(k, "http.request_timeout", 20*time.Second)

	setDefault(k, "database.max_open_conns", 25)
	setDefault(k, "database.max_idle_conns", 25)
	setDefault(k, "database.conn_max_lifetime", 30*time.Minute)

	setDefault(k, "feed.default_limit", 50)
	setDefault(k, "feed.max_limit", 100)
	setDefault(k, "feed.default_entity_types", []string{"tournament", "match"})
	setDefault(k, "feed.dispatch", "union")

	setDefault(k, "redis.addr", "localhost:6379")
	setDefault(k, "redis.ttl", 10*time.Minute)

	setDefault(k, "tracing.endpoint", "http://localhost:4318")
	setDefault(k, "tracing.service_name", "tourneyaudit-server")
	setDefault(k, "tracing.environment", "development")

	setDefault(k, "metrics.enabled", true)
	setDefault(k, "metrics.path", "/metrics")

	setDefault(k, "log.level", "info")
	setDefault(k, "log.encoding", "json")
	setDefault(k, "log.max_size_mb", 100)
	setDefault(k, "log.max_backups", 5)
	setDefault(k, "log.max_age_days", 28)
}

func applyEnvOverrides(k *koanf.Koanf) {
	if port := getInt("API_PORT", getInt("PORT", 0)); port > 0 {
		k.Set("http.port", port)
	}
	if url := getString("DATABASE_URL", ""); url != "" {
		k.Set("database.url", url)
	}
	if secret := getString("JWT_SECRET", ""); secret != "" {
		k.Set("auth.jwt_secret", secret)
	}
	if addr := getString("REDIS_ADDR", ""); addr != "" {
		k.Set("redis.addr", addr)
		k.Set("redis.enabled", true)
	}
	if endpoint := getString("OTEL_EXPORTER_OTLP_ENDPOINT", ""); endpoint != "" {
		k.Set("tracing.endpoint", endpoint)
		k.Set("tracing.enabled", true)
	}
	if level := getString("LOG_LEVEL", ""); level != "" {
		k.Set("log.level", level)
	}
}

// setDefault only sets the value if the key doesn't already exist
func setDefault(k *koanf.Koanf, key string, value interface{}) {
	if !k.Exists(key) {
		k.Set(key, value)
	}
}

func getString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Database.URL) == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Feed.DefaultLimit <= 0 || c.Feed.MaxLimit <= 0 || c.Feed.DefaultLimit > c.Feed.MaxLimit {
		errs = append(errs, fmt.Errorf("feed limits must satisfy 0 < default_limit (%d) <= max_limit (%d)", c.Feed.DefaultLimit, c.Feed.MaxLimit))
	}
	if _, err := c.Feed.EntityTypes(); err != nil {
		errs = append(errs, err)
	}
	switch c.Feed.Dispatch {
	case "union", "fanout":
	default:
		errs = append(errs, fmt.Errorf("feed.dispatch must be union or fanout, got %q", c.Feed.Dispatch))
	}
	return errors.Join(errs...)
}
