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

const envPrefix = "REPOPILOT_"

// maxConfigFileSize guards against loading runaway files as configuration.
const maxConfigFileSize = 1024 * 1024

// Load loads configuration with the following precedence (highest wins):
//
//  1. Environment variables (REPOPILOT_SERVER_PORT, REPOPILOT_REASONING_API_KEY, ...)
//  2. YAML config file (configPath, skipped when empty or missing)
//  3. Built-in defaults
//
// Environment variables map to config keys by stripping the prefix,
// lowercasing, and replacing the first underscore with a dot:
//
//	REPOPILOT_SERVER_PORT            -> server.port
//	REPOPILOT_PIPELINE_STEP_TIMEOUT  -> pipeline.step_timeout
//	REPOPILOT_REASONING_API_KEY      -> reasoning.api_key
func Load(configPath string) (*Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if configPath != "" {
		if info, err := os.Stat(configPath); err == nil {
			if info.Size() > maxConfigFileSize {
				return nil, fmt.Errorf("config file %s exceeds %d bytes", configPath, maxConfigFileSize)
			}
			content, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// envTransform maps REPOPILOT_SECTION_FIELD_NAME to section.field_name.
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.Replace(s, "_", ".", 1)
}
