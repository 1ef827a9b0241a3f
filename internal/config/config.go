// Package config provides configuration loading for ballotd.
//
// Configuration is assembled from hardcoded defaults, an optional YAML file,
// and environment variable overrides, in that order of precedence (lowest to
// highest). See Load for the environment variable mapping.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete ballotd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Research   ResearchConfig   `koanf:"research"`
	Search     SearchConfig     `koanf:"search"`
	Synthesis  SynthesisConfig  `koanf:"synthesis"`
	NATS       NATSConfig       `koanf:"nats"`
	Results    ResultsConfig    `koanf:"results"`
	Candidates CandidatesConfig `koanf:"candidates"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// ResearchConfig holds task orchestrator configuration.
type ResearchConfig struct {
	// MaxConcurrent caps tasks in pending or in_progress state.
	// Submissions beyond the cap are rejected synchronously.
	MaxConcurrent int `koanf:"max_concurrent"`

	// TaskTimeout is the wall-clock budget per task, tracked from the
	// pending -> in_progress transition.
	TaskTimeout Duration `koanf:"task_timeout"`

	// MaxQueries bounds the search queries planned per task.
	MaxQueries int `koanf:"max_queries"`

	// MaxSources is the default source ceiling per task; requests may
	// lower it or raise it up to the search gateway's hard ceiling.
	MaxSources int `koanf:"max_sources"`

	// RetryBackoff is the delay before the single per-step retry.
	RetryBackoff Duration `koanf:"retry_backoff"`

	// Retention is how long terminal tasks stay queryable in memory
	// before eviction. Persisted results outlive this window.
	Retention Duration `koanf:"retention"`
}

// SearchConfig holds web-search provider configuration.
type SearchConfig struct {
	APIKey Secret `koanf:"api_key"`
	// BaseURL overrides the provider endpoint, mainly for tests.
	BaseURL string `koanf:"base_url"`
	// MaxResults is the hard per-task source ceiling the gateway enforces.
	MaxResults int `koanf:"max_results"`
	// RequestsPerMinute rate-limits outbound search calls.
	RequestsPerMinute int `koanf:"requests_per_minute"`
}

// SynthesisConfig holds language-model provider configuration.
type SynthesisConfig struct {
	BaseURL string `koanf:"base_url"`
	APIKey  Secret `koanf:"api_key"`
	Model   string `koanf:"model"`
}

// NATSConfig holds event broker configuration.
type NATSConfig struct {
	// URL of an external NATS server. Ignored when Embedded is true.
	URL string `koanf:"url"`
	// Embedded starts an in-process NATS server, making the daemon
	// self-contained. Default true.
	Embedded bool `koanf:"embedded"`
}

// ResultsConfig holds result store configuration.
type ResultsConfig struct {
	// Dir is the directory holding one JSON document per research id.
	Dir string `koanf:"dir"`
	// Retention is the TTL for persisted results. Expired entries are
	// removed by a background sweep; 0 disables sweeping.
	Retention Duration `koanf:"retention"`
}

// CandidatesConfig holds candidate roster configuration.
type CandidatesConfig struct {
	// RosterPath points to a YAML roster file. Empty uses the built-in
	// default roster.
	RosterPath string `koanf:"roster_path"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	// Development switches zap to its human-readable development config.
	Development bool `koanf:"development"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8000,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Research: ResearchConfig{
			MaxConcurrent: 5,
			TaskTimeout:   Duration(15 * time.Minute),
			MaxQueries:    5,
			MaxSources:    10,
			RetryBackoff:  Duration(2 * time.Second),
			Retention:     Duration(1 * time.Hour),
		},
		Search: SearchConfig{
			MaxResults:        20,
			RequestsPerMinute: 60,
		},
		Synthesis: SynthesisConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		NATS: NATSConfig{
			URL:      "nats://localhost:4222",
			Embedded: true,
		},
		Results: ResultsConfig{
			Dir:       "research_results",
			Retention: Duration(24 * time.Hour),
		},
		Logging: LoggingConfig{
			Development: false,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Research.MaxConcurrent < 1 {
		return fmt.Errorf("research.max_concurrent must be at least 1, got %d", c.Research.MaxConcurrent)
	}
	if c.Research.TaskTimeout.Duration() <= 0 {
		return errors.New("research.task_timeout must be positive")
	}
	if c.Research.MaxQueries < 1 {
		return fmt.Errorf("research.max_queries must be at least 1, got %d", c.Research.MaxQueries)
	}
	if c.Research.MaxSources < 1 {
		return fmt.Errorf("research.max_sources must be at least 1, got %d", c.Research.MaxSources)
	}
	if c.Search.MaxResults < c.Research.MaxSources {
		return fmt.Errorf("search.max_results (%d) must not be below research.max_sources (%d)",
			c.Search.MaxResults, c.Research.MaxSources)
	}
	if c.Synthesis.Model == "" {
		return errors.New("synthesis.model is required")
	}
	if c.Results.Dir == "" {
		return errors.New("results.dir is required")
	}
	if !c.NATS.Embedded && c.NATS.URL == "" {
		return errors.New("nats.url is required when nats.embedded is false")
	}
	return nil
}
