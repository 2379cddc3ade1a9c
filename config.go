// config.go
// ----------
// Config is everything the bridge consumes from its environment: the legacy
// endpoint pool, the primary backend URL/key pair, retry/breaker/cache
// tuning and feature flags. It loads from YAML or TOML, chosen by file
// extension, and the primary key may come from SEATBRIDGE_PRIMARY_KEY.
package seatbridge

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvPrimaryKey overrides Config.Primary.Key when set.
const EnvPrimaryKey = "SEATBRIDGE_PRIMARY_KEY"

// BackendMode selects which backend serves requests first.
type BackendMode string

const (
	ModePrimary BackendMode = "primary"
	ModeLegacy  BackendMode = "legacy"
)

type PrimaryConfig struct {
	URL     string        `yaml:"url" toml:"url"`
	Key     string        `yaml:"key" toml:"key"`
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

type LegacyConfig struct {
	Endpoints []string      `yaml:"endpoints" toml:"endpoints"`
	Timeout   time.Duration `yaml:"timeout" toml:"timeout"`
	UserAgent string        `yaml:"user_agent" toml:"user_agent"`
}

type RetryConfig struct {
	Retries   int           `yaml:"retries" toml:"retries"`
	BaseDelay time.Duration `yaml:"base_delay" toml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay" toml:"max_delay"`
	Jitter    string        `yaml:"jitter" toml:"jitter"` // none, half, narrow
}

// FeatureFlags toggle optional behavior.
type FeatureFlags struct {
	// RetryWithFailover enables retry and cross-backend fallback on the
	// primary backend. When false the primary gets a single attempt and its
	// failures are returned as-is.
	RetryWithFailover bool `yaml:"retry_with_failover" toml:"retry_with_failover"`

	// ForceFallback sends every primary request straight to the legacy backend.
	ForceFallback bool `yaml:"force_fallback" toml:"force_fallback"`

	// PostTransport reaches the legacy backend with form POSTs first and
	// falls back to JSONP only when every endpoint fails.
	PostTransport bool `yaml:"post_transport" toml:"post_transport"`
}

type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
	JSON  bool   `yaml:"json" toml:"json"`
}

type Config struct {
	Mode           BackendMode   `yaml:"mode" toml:"mode"`
	DefaultTimeout time.Duration `yaml:"default_timeout" toml:"default_timeout"`
	Primary        PrimaryConfig `yaml:"primary" toml:"primary"`
	Legacy         LegacyConfig  `yaml:"legacy" toml:"legacy"`
	Cache          CacheConfig   `yaml:"cache" toml:"cache"`
	Retry          RetryConfig   `yaml:"retry" toml:"retry"`
	Breaker        BreakerConfig `yaml:"breaker" toml:"breaker"`
	Features       FeatureFlags  `yaml:"features" toml:"features"`
	Logging        LoggingConfig `yaml:"logging" toml:"logging"`
}

// DefaultConfig returns a config with every tunable set. Endpoints and the
// primary URL/key still have to be provided.
func DefaultConfig() Config {
	retry := DefaultRetryPolicy()
	return Config{
		Mode:           ModePrimary,
		DefaultTimeout: 15 * time.Second,
		Primary:        PrimaryConfig{Timeout: 20 * time.Second},
		Legacy:         LegacyConfig{Timeout: 15 * time.Second, UserAgent: "seat-bridge"},
		Cache:          DefaultCacheConfig(),
		Retry: RetryConfig{
			Retries:   retry.Retries,
			BaseDelay: retry.BaseDelay,
			MaxDelay:  retry.MaxDelay,
			Jitter:    "half",
		},
		Breaker:  DefaultBreakerConfig(),
		Features: FeatureFlags{RetryWithFailover: true},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// LoadConfig reads a .yaml/.yml or .toml file on top of DefaultConfig and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse toml config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	if key := os.Getenv(EnvPrimaryKey); key != "" {
		cfg.Primary.Key = key
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Mode {
	case ModePrimary, ModeLegacy:
	default:
		errs = append(errs, fmt.Errorf("mode must be %q or %q, got %q", ModePrimary, ModeLegacy, c.Mode))
	}
	if len(c.Legacy.Endpoints) == 0 {
		errs = append(errs, errors.New("legacy.endpoints requires at least one URL"))
	}
	for _, e := range c.Legacy.Endpoints {
		if u, err := url.Parse(e); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("legacy endpoint %q is not an absolute URL", e))
		}
	}
	if c.Mode == ModePrimary {
		if c.Primary.URL == "" {
			errs = append(errs, errors.New("primary.url required in primary mode"))
		} else if u, err := url.Parse(c.Primary.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("primary.url %q is not an absolute URL", c.Primary.URL))
		}
		if c.Primary.Key == "" {
			errs = append(errs, fmt.Errorf("primary.key required in primary mode (or set %s)", EnvPrimaryKey))
		}
	}
	if c.Retry.Retries < 0 {
		errs = append(errs, errors.New("retry.retries must be >= 0"))
	}
	if c.Retry.MaxDelay > 0 && c.Retry.MaxDelay < c.Retry.BaseDelay {
		errs = append(errs, errors.New("retry.max_delay must be >= retry.base_delay"))
	}
	if _, err := parseJitter(c.Retry.Jitter); err != nil {
		errs = append(errs, err)
	}
	if c.Cache.MaxConcurrent < 0 {
		errs = append(errs, errors.New("cache.max_concurrent must be >= 0"))
	}
	return errors.Join(errs...)
}

// RetryPolicy converts the retry section.
func (c *Config) RetryPolicy() RetryPolicy {
	jitter, _ := parseJitter(c.Retry.Jitter)
	return RetryPolicy{
		Retries:   c.Retry.Retries,
		BaseDelay: c.Retry.BaseDelay,
		MaxDelay:  c.Retry.MaxDelay,
		Jitter:    jitter,
	}
}

func parseJitter(s string) (JitterMode, error) {
	switch strings.ToLower(s) {
	case "", "half":
		return JitterHalf, nil
	case "narrow":
		return JitterNarrow, nil
	case "none":
		return JitterNone, nil
	default:
		return JitterNone, fmt.Errorf("retry.jitter must be none, half or narrow, got %q", s)
	}
}
