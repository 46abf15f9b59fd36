// Package config provides configuration loading for athena.
package config

import (
	"fmt"
	"time"

	"github.com/athenaclew/athena/internal/logging"
)

// Config is the full athena configuration.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	LLM      LLMConfig      `koanf:"llm"`
	Logging  logging.Config `koanf:"logging"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

// DatabaseConfig locates the knowledge store.
type DatabaseConfig struct {
	// Path is the SQLite database file. ":memory:" is allowed for tests.
	Path string `koanf:"path"`
}

// LLMConfig configures the model endpoint used by the analyzer and
// extractor stages.
type LLMConfig struct {
	// Enabled gates both LLM stages. When false the pipeline runs on
	// keyword classification and fallback analyses only.
	Enabled bool `koanf:"enabled"`

	// BaseURL is any OpenAI-compatible endpoint.
	BaseURL string `koanf:"base_url"`

	// Model is the chat model name.
	Model string `koanf:"model"`

	// APIKey authenticates against the endpoint.
	APIKey string `koanf:"api_key"`

	// CallTimeout bounds each model call.
	CallTimeout time.Duration `koanf:"call_timeout"`

	// RequestsPerSecond throttles outgoing calls; 0 disables throttling.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path cannot be empty")
	}
	if c.LLM.Enabled {
		if c.LLM.Model == "" {
			return fmt.Errorf("llm.model required when llm is enabled")
		}
		if c.LLM.CallTimeout < 0 {
			return fmt.Errorf("llm.call_timeout cannot be negative")
		}
		if c.LLM.RequestsPerSecond < 0 {
			return fmt.Errorf("llm.requests_per_second cannot be negative")
		}
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr required when metrics are enabled")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}
