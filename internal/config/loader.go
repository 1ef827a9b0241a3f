package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// sections lists the top-level config keys recognized in environment
// variable names. Variables outside these prefixes are ignored.
var sections = []string{
	"SERVER", "RESEARCH", "SEARCH", "SYNTHESIS",
	"NATS", "RESULTS", "CANDIDATES", "LOGGING",
}

// Load loads configuration from an optional YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SERVER_PORT, SEARCH_API_KEY, etc.)
//  2. YAML config file (the configPath argument; skipped when empty or absent)
//  3. Hardcoded defaults (see Default)
//
// Environment variables map to config keys by splitting on the first
// underscore after the section name:
//
//	SERVER_SHUTDOWN_TIMEOUT -> server.shutdown_timeout
//	RESEARCH_MAX_CONCURRENT -> research.max_concurrent
//	SEARCH_API_KEY          -> search.api_key
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", transformEnvKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// transformEnvKey maps an environment variable name to a config key.
// Returns "" for variables outside the recognized sections, which koanf
// skips.
func transformEnvKey(name string) string {
	for _, section := range sections {
		prefix := section + "_"
		if strings.HasPrefix(name, prefix) && len(name) > len(prefix) {
			field := strings.ToLower(name[len(prefix):])
			return strings.ToLower(section) + "." + field
		}
	}
	return ""
}

// readConfigFile reads the config file, enforcing a size ceiling so a
// mistaken path cannot exhaust memory.
func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}
