package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/intunectl/intunectl/internal/graph"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the decoded result of the three configuration layers.
type Config struct {
	Graph   GraphConfig       `mapstructure:"graph"`
	Retry   RetryConfig       `mapstructure:"retry"`
	Pacing  graph.PacerConfig `mapstructure:"pacing"`
	Server  ServerConfig      `mapstructure:"server"`
	Store   StoreConfig       `mapstructure:"store"`
	Logging LoggingConfig     `mapstructure:"logging"`
	Metrics MetricsConfig     `mapstructure:"metrics"`

	RateLimits      map[string]int `mapstructure:"rate_limits"`
	RateLimitMargin float64        `mapstructure:"rate_limit_margin"`
}

// GraphConfig contains Microsoft Graph endpoints and app registration
// credentials.
type GraphConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	GroupsBaseURL string        `mapstructure:"groups_base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`

	Credentials graph.CredentialConfig `mapstructure:",squash"`
}

// RetryConfig bounds executor retries.
type RetryConfig struct {
	// MaxRetries applies to 429 responses and transport failures.
	MaxRetries int `mapstructure:"max_retries"`

	// MaxAuthRetries applies to 401 responses.
	MaxAuthRetries int `mapstructure:"max_auth_retries"`
}

// ServerConfig holds listener settings for serve.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig points at a local libsql file or a remote Turso database.
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`

	// OperationRetention bounds how long operation log rows are kept.
	OperationRetention time.Duration `mapstructure:"operation_retention"`
}

// LoggingConfig selects the log level (trace, debug, info, warn, error) and
// the gofulmen profile (SIMPLE for the CLI, STRUCTURED for serve).
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// MetricsConfig controls the Prometheus exporter started by serve.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Validate rejects settings the executor cannot run with. Every problem is
// reported; the returned error wraps ErrInvalid.
func (c *Config) Validate() error {
	var problems []string
	if c.Retry.MaxRetries < 0 {
		problems = append(problems, fmt.Sprintf("retry.max_retries must be >= 0, got %d", c.Retry.MaxRetries))
	}
	if c.Retry.MaxAuthRetries < 0 {
		problems = append(problems, fmt.Sprintf("retry.max_auth_retries must be >= 0, got %d", c.Retry.MaxAuthRetries))
	}
	if c.Pacing.Min > 0 && c.Pacing.Max > 0 && c.Pacing.Min > c.Pacing.Max {
		problems = append(problems, fmt.Sprintf("pacing.min (%s) exceeds pacing.max (%s)", c.Pacing.Min, c.Pacing.Max))
	}
	if c.Pacing.Growth != 0 && c.Pacing.Growth < 1 {
		problems = append(problems, fmt.Sprintf("pacing.growth must be >= 1, got %v", c.Pacing.Growth))
	}
	if c.Pacing.Decay < 0 || c.Pacing.Decay > 1 {
		problems = append(problems, fmt.Sprintf("pacing.decay must be within [0, 1], got %v", c.Pacing.Decay))
	}
	if c.RateLimitMargin < 0 || c.RateLimitMargin > 1 {
		problems = append(problems, fmt.Sprintf("rate_limit_margin must be within [0, 1], got %v", c.RateLimitMargin))
	}
	for endpoint, limit := range c.RateLimits {
		if limit < 0 {
			problems = append(problems, fmt.Sprintf("rate_limits.%s must be >= 0, got %d", endpoint, limit))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
}
