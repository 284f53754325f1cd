// Package config loads the validator configuration and validation policies
// from YAML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/georgepadayatti/sigvalidate/certvalidator"
	"github.com/georgepadayatti/sigvalidate/certvalidator/fetchers"
	"github.com/georgepadayatti/sigvalidate/keys"
	"github.com/georgepadayatti/sigvalidate/log"
)

// Common errors
var (
	ErrConfigurationError   = errors.New("configuration error")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrUnexpectedField      = errors.New("unexpected field in configuration")
	ErrInvalidConfigType    = errors.New("configuration must be a dictionary")
)

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	if e.Err == nil {
		return ErrConfigurationError
	}
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// Config is the complete validator configuration.
type Config struct {
	// Trust lists the certificate files of the validation trust store.
	Trust TrustConfig `yaml:"trust" json:"trust"`

	// Fetch controls online retrieval of issuers and revocation data.
	Fetch FetchConfig `yaml:"fetch" json:"fetch"`

	// Policy is the path of a policy file. Empty selects the default policy.
	Policy string `yaml:"policy" json:"policy,omitempty"`

	// Concurrency bounds the signatures validated in parallel.
	Concurrency int `yaml:"concurrency" json:"concurrency,omitempty"`

	// Log contains logging configuration.
	Log LoggingConfig `yaml:"log" json:"log"`
}

// TrustConfig lists certificate files or directories.
type TrustConfig struct {
	// Roots are the trust anchors.
	Roots []string `yaml:"roots" json:"roots"`

	// Intermediates are untrusted certificates offered for path building.
	Intermediates []string `yaml:"intermediates" json:"intermediates,omitempty"`
}

// FetchConfig configures the HTTP fetchers.
type FetchConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout,omitempty"`
	Retries         int           `yaml:"retries" json:"retries,omitempty"`
	CacheTTL        time.Duration `yaml:"cache-ttl" json:"cache_ttl,omitempty"`
	UserAgent       string        `yaml:"user-agent" json:"user_agent,omitempty"`
	MaxResponseSize int64         `yaml:"max-response-size" json:"max_response_size,omitempty"`

	// CircuitBreaker stops requests to failing responders. Nil disables it.
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit-breaker" json:"circuit_breaker,omitempty"`
}

// CircuitBreakerConfig configures the breaker shared by all fetches. It
// opens after Failures consecutive failures, lets a trial request through
// after ResetTimeout and closes after Successes half-open successes.
type CircuitBreakerConfig struct {
	Failures     int           `yaml:"failures" json:"failures"`
	Successes    int           `yaml:"successes" json:"successes,omitempty"`
	ResetTimeout time.Duration `yaml:"reset-timeout" json:"reset_timeout,omitempty"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level" json:"level,omitempty"`
}

// SetDefaults sets default values for logging configuration.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	def := fetchers.DefaultConfig()
	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = def.Timeout
	}
	if c.Fetch.CacheTTL == 0 {
		c.Fetch.CacheTTL = def.CacheTTL
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = def.UserAgent
	}
	if c.Fetch.MaxResponseSize == 0 {
		c.Fetch.MaxResponseSize = def.MaxResponseSize
	}
	if cb := c.Fetch.CircuitBreaker; cb != nil {
		if cb.Successes == 0 {
			cb.Successes = 1
		}
		if cb.ResetTimeout == 0 {
			cb.ResetTimeout = 30 * time.Second
		}
	}
	if c.Concurrency == 0 {
		c.Concurrency = 4
	}
	c.Log.SetDefaults()
}

// Validate checks the configuration for values no component accepts.
func (c *Config) Validate() error {
	if len(c.Trust.Roots) == 0 {
		return &ConfigError{Field: "trust.roots", Message: "at least one trust root is required", Err: ErrMissingRequiredField}
	}
	if c.Fetch.Timeout < 0 {
		return NewConfigError("fetch.timeout", "must not be negative")
	}
	if c.Fetch.Retries < 0 {
		return NewConfigError("fetch.retries", "must not be negative")
	}
	if cb := c.Fetch.CircuitBreaker; cb != nil {
		if cb.Failures < 1 {
			return NewConfigError("fetch.circuit-breaker.failures", "must be at least 1")
		}
		if cb.Successes < 0 || cb.ResetTimeout < 0 {
			return NewConfigError("fetch.circuit-breaker", "must not be negative")
		}
	}
	if c.Concurrency < 0 {
		return NewConfigError("concurrency", "must not be negative")
	}
	if c.Log.Level != "" {
		if _, err := log.ParseLevel(c.Log.Level); err != nil {
			return &ConfigError{Field: "log.level", Message: err.Error(), Err: err}
		}
	}
	return nil
}

// LoadConfig loads configuration from a YAML file. Relative paths in the
// file are taken relative to its directory.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	config, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}
	config.resolvePaths(filepath.Dir(filename))
	return config, nil
}

func (c *Config) resolvePaths(dir string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	for i, p := range c.Trust.Roots {
		c.Trust.Roots[i] = resolve(p)
	}
	for i, p := range c.Trust.Intermediates {
		c.Trust.Intermediates[i] = resolve(p)
	}
	c.Policy = resolve(c.Policy)
}

// ParseConfig parses, defaults and validates configuration from YAML data.
func ParseConfig(data []byte) (*Config, error) {
	if err := validateDocument(configSchema, "config", data); err != nil {
		return nil, err
	}
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// TrustPools loads the trust roots and intermediates.
func (c *Config) TrustPools() (trusted, adjunct *certvalidator.CertificatePool, err error) {
	roots, err := keys.LoadCertsFromPaths(c.Trust.Roots)
	if err != nil {
		return nil, nil, &ConfigError{Field: "trust.roots", Message: err.Error(), Err: err}
	}
	if trusted, err = certvalidator.NewTrustedPool(roots); err != nil {
		return nil, nil, err
	}
	others, err := keys.LoadCertsFromPaths(c.Trust.Intermediates)
	if err != nil {
		return nil, nil, &ConfigError{Field: "trust.intermediates", Message: err.Error(), Err: err}
	}
	if adjunct, err = certvalidator.NewAdjunctPool(others); err != nil {
		return nil, nil, err
	}
	return trusted, adjunct, nil
}

// FetcherConfig translates the fetch section for the HTTP fetchers.
func (c *Config) FetcherConfig(logger *zap.Logger, metrics *fetchers.Metrics) *fetchers.FetcherConfig {
	fc := fetchers.DefaultConfig()
	if c.Fetch.Timeout > 0 {
		fc.Timeout = c.Fetch.Timeout
	}
	if c.Fetch.UserAgent != "" {
		fc.UserAgent = c.Fetch.UserAgent
	}
	if c.Fetch.MaxResponseSize > 0 {
		fc.MaxResponseSize = c.Fetch.MaxResponseSize
	}
	fc.UseCache = c.Fetch.CacheTTL > 0
	fc.CacheTTL = c.Fetch.CacheTTL
	if c.Fetch.Retries == 0 {
		fc.Retry = fetchers.NoRetry()
	} else {
		fc.Retry.MaxAttempts = c.Fetch.Retries + 1
	}
	if cb := c.Fetch.CircuitBreaker; cb != nil {
		successes, reset := cb.Successes, cb.ResetTimeout
		if successes <= 0 {
			successes = 1
		}
		if reset <= 0 {
			reset = 30 * time.Second
		}
		fc.CircuitBreaker = fetchers.NewCircuitBreaker(cb.Failures, successes, reset)
	}
	fc.Metrics = metrics
	fc.Logger = logger
	return fc
}
