// Package config provides configuration loading for repopilot.
//
// Configuration is loaded from an optional YAML file with environment
// variable overrides (REPOPILOT_ prefix). See Load for precedence rules.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete repopilot configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Temporal  TemporalConfig  `koanf:"temporal"`
	Storage   StorageConfig   `koanf:"storage"`
	Reasoning ReasoningConfig `koanf:"reasoning"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	GitHub    GitHubConfig    `koanf:"github"`
	Scanner   ScannerConfig   `koanf:"scanner"`
	Log       LogConfig       `koanf:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// TemporalConfig holds durable-workflow engine configuration.
type TemporalConfig struct {
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// StorageConfig holds persistence configuration for runs and beads.
type StorageConfig struct {
	DatabasePath string `koanf:"database_path"`
	RunsDir      string `koanf:"runs_dir"`
}

// ReasoningConfig holds reasoning-service client configuration.
type ReasoningConfig struct {
	APIKey      Secret   `koanf:"api_key"`
	Model       string   `koanf:"model"`
	BaseURL     string   `koanf:"base_url"`
	Temperature float64  `koanf:"temperature"`
	MaxTokens   int      `koanf:"max_tokens"`
	MaxAttempts int      `koanf:"max_attempts"`
	BaseDelay   Duration `koanf:"base_delay"`
	MaxDelay    Duration `koanf:"max_delay"`
	RateLimit   float64  `koanf:"rate_limit"`
}

// PipelineConfig holds orchestration settings.
type PipelineConfig struct {
	BranchPrefix       string   `koanf:"branch_prefix"`
	AutoMergeThreshold float64  `koanf:"auto_merge_threshold"`
	StepTimeout        Duration `koanf:"step_timeout"`
	CommandTimeout     Duration `koanf:"command_timeout"`
	TestCommand        []string `koanf:"test_command"`
	TestTimeout        Duration `koanf:"test_timeout"`
}

// GitHubConfig holds PR-hosting configuration.
type GitHubConfig struct {
	Token Secret `koanf:"token"`
}

// ScannerConfig holds repository scanning limits.
type ScannerConfig struct {
	Extensions      []string `koanf:"extensions"`
	MaxFileSize     int      `koanf:"max_file_size"`
	MaxContextChars int      `koanf:"max_context_chars"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8090,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "repo-pilot-queue",
		},
		Storage: StorageConfig{
			DatabasePath: "repopilot.db",
			RunsDir:      "pipeline_runs",
		},
		Reasoning: ReasoningConfig{
			Model:       "gpt-4.1",
			Temperature: 0.3,
			MaxTokens:   4096,
			MaxAttempts: 5,
			BaseDelay:   Duration(10 * time.Second),
			MaxDelay:    Duration(5 * time.Minute),
			RateLimit:   1,
		},
		Pipeline: PipelineConfig{
			BranchPrefix:       "repo-pilot",
			AutoMergeThreshold: 7.0,
			StepTimeout:        Duration(10 * time.Minute),
			CommandTimeout:     Duration(30 * time.Second),
			TestCommand:        []string{"python", "-m", "pytest"},
			TestTimeout:        Duration(2 * time.Minute),
		},
		Scanner: ScannerConfig{
			Extensions: []string{
				".py", ".js", ".ts", ".jsx", ".tsx", ".md", ".yml", ".yaml",
				".json", ".toml", ".cfg", ".ini", ".txt", ".sh", ".html", ".css",
			},
			MaxFileSize:     8_000,
			MaxContextChars: 60_000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be in 1-65535, got %d", c.Server.Port)
	}
	if c.Pipeline.AutoMergeThreshold < 0 || c.Pipeline.AutoMergeThreshold > 10 {
		return fmt.Errorf("auto_merge_threshold must be in 0-10, got %g", c.Pipeline.AutoMergeThreshold)
	}
	if c.Pipeline.StepTimeout.Duration() <= 0 {
		return errors.New("step_timeout must be positive")
	}
	if c.Reasoning.MaxAttempts < 1 {
		return fmt.Errorf("reasoning max_attempts must be at least 1, got %d", c.Reasoning.MaxAttempts)
	}
	if len(c.Pipeline.TestCommand) == 0 {
		return errors.New("test_command cannot be empty")
	}
	return nil
}
