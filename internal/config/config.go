package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Server struct {
		Addr         string        `mapstructure:"addr"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"server"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Platform struct {
		URL       string        `mapstructure:"url"`
		APIKey    string        `mapstructure:"api_key"`
		Timeout   time.Duration `mapstructure:"timeout"`
		RateLimit float64       `mapstructure:"rate_limit"`
		Burst     int           `mapstructure:"burst"`
	} `mapstructure:"platform"`
	Sync     SyncConfig `mapstructure:"sync"`
	Semantic struct {
		URL     string        `mapstructure:"url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"semantic"`
	Cache struct {
		Backend   string        `mapstructure:"backend"`
		RedisAddr string        `mapstructure:"redis_addr"`
		Prefix    string        `mapstructure:"prefix"`
		TTL       time.Duration `mapstructure:"ttl"`
	} `mapstructure:"cache"`
	Validation struct {
		Profile string `mapstructure:"profile"`
	} `mapstructure:"validation"`
	Patterns PatternsConfig `mapstructure:"patterns"`
	TLS      struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

// SyncConfig controls the catalog synchronizer loop.
type SyncConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	RetryInterval     time.Duration `mapstructure:"retry_interval"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	DegradedThreshold int           `mapstructure:"degraded_threshold"`
}

// PatternsConfig holds the decision engine thresholds.
type PatternsConfig struct {
	MinObservations        int     `mapstructure:"min_observations"`
	MinSuccessRate         float64 `mapstructure:"min_success_rate"`
	MinEmbeddingConfidence float64 `mapstructure:"min_embedding_confidence"`
	DemoteSuccessRate      float64 `mapstructure:"demote_success_rate"`
	DemoteSatisfaction     float64 `mapstructure:"demote_satisfaction"`
	TrailingWindow         int     `mapstructure:"trailing_window"`
	Concurrency            int     `mapstructure:"concurrency"`
}

// EnvPrefix is the prefix for environment overrides, e.g.
// SENTINEL_PLATFORM_API_KEY.
const EnvPrefix = "SENTINEL"

// LoadConfig loads the configuration from a file and the environment. An
// empty path searches for config.yaml in the working directory and ./config;
// a missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	config.Platform.URL = normalizeBaseURL(config.Platform.URL)
	config.Semantic.URL = normalizeBaseURL(config.Semantic.URL)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "sentinel")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "sentinel")
	v.SetDefault("db.sslmode", "disable")

	v.SetDefault("platform.url", "http://localhost:5678")
	v.SetDefault("platform.api_key", "")
	v.SetDefault("platform.timeout", 15*time.Second)
	v.SetDefault("platform.rate_limit", 5.0)
	v.SetDefault("platform.burst", 5)

	v.SetDefault("sync.interval", 5*time.Minute)
	v.SetDefault("sync.retry_interval", 30*time.Second)
	v.SetDefault("sync.request_timeout", 15*time.Second)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.degraded_threshold", 5)

	v.SetDefault("semantic.url", "http://localhost:8001")
	v.SetDefault("semantic.timeout", 20*time.Second)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.prefix", "sentinel:validation")
	v.SetDefault("cache.ttl", 24*time.Hour)

	v.SetDefault("validation.profile", "ai-friendly")

	v.SetDefault("patterns.min_observations", 3)
	v.SetDefault("patterns.min_success_rate", 0.80)
	v.SetDefault("patterns.min_embedding_confidence", 0.85)
	v.SetDefault("patterns.demote_success_rate", 0.70)
	v.SetDefault("patterns.demote_satisfaction", 3.0)
	v.SetDefault("patterns.trailing_window", 5)
	v.SetDefault("patterns.concurrency", 4)

	v.SetDefault("tls.enable", false)
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("tls.hostnames", []string{})
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Sync.Interval <= 0 {
		errs = append(errs, fmt.Errorf("sync.interval must be positive, got %v", c.Sync.Interval))
	}
	if c.Sync.RetryInterval <= 0 {
		errs = append(errs, fmt.Errorf("sync.retry_interval must be positive, got %v", c.Sync.RetryInterval))
	}
	if c.Sync.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("sync.request_timeout must be positive, got %v", c.Sync.RequestTimeout))
	}
	if c.Sync.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("sync.max_retries must not be negative, got %d", c.Sync.MaxRetries))
	}
	if c.Sync.DegradedThreshold < 1 {
		errs = append(errs, fmt.Errorf("sync.degraded_threshold must be at least 1, got %d", c.Sync.DegradedThreshold))
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache.backend must be memory or redis, got %q", c.Cache.Backend))
	}
	switch c.Validation.Profile {
	case "minimal", "runtime", "ai-friendly", "strict":
	default:
		errs = append(errs, fmt.Errorf("validation.profile %q is not a known profile", c.Validation.Profile))
	}
	for key, rate := range map[string]float64{
		"patterns.min_success_rate":         c.Patterns.MinSuccessRate,
		"patterns.min_embedding_confidence": c.Patterns.MinEmbeddingConfidence,
		"patterns.demote_success_rate":      c.Patterns.DemoteSuccessRate,
	} {
		if rate < 0 || rate > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0,1], got %v", key, rate))
		}
	}
	if c.Patterns.MinObservations < 1 {
		errs = append(errs, fmt.Errorf("patterns.min_observations must be at least 1, got %d", c.Patterns.MinObservations))
	}
	if c.Patterns.TrailingWindow < 1 {
		errs = append(errs, fmt.Errorf("patterns.trailing_window must be at least 1, got %d", c.Patterns.TrailingWindow))
	}
	if c.TLS.Enable && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls.cert_file and tls.key_file are required when tls.enable is set"))
	}
	return errors.Join(errs...)
}

// DatabaseURL returns the libpq-style connection string for pgx.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

// normalizeBaseURL trims whitespace and any trailing slash so paths can be
// appended directly.
func normalizeBaseURL(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
