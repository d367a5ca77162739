// Package config loads grading run configuration from YAML with
// environment overrides for credentials.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds all grader configuration.
type Config struct {
	// Paths
	DataRoot   string `yaml:"data_root"`
	OutputRoot string `yaml:"output_root"`
	PromptPath string `yaml:"prompt_path"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Run settings
	Run RunConfig `yaml:"run"`

	// Score guardrails
	Guardrails GuardrailsConfig `yaml:"guardrails"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the grading model.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// RunConfig configures orchestration.
type RunConfig struct {
	Concurrency int64    `yaml:"concurrency"`
	Exclude     []string `yaml:"exclude"`
}

// GuardrailsConfig bounds the total score the model may report.
type GuardrailsConfig struct {
	Enabled bool    `yaml:"enabled"`
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
	OutOf   float64 `yaml:"out_of"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataRoot:   "data",
		OutputRoot: "output",
		PromptPath: "grading_prompt.md",
		LLM: LLMConfig{
			Model:   "gemini-2.5-flash",
			Timeout: "5m",
		},
		Run: RunConfig{
			Concurrency: 5,
		},
		Guardrails: GuardrailsConfig{
			Enabled: true,
			Min:     1.0,
			Max:     2.0,
			OutOf:   2.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults
// when the file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides. The API
// key is never expected in the YAML file; these are the usual way to
// supply it.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("GRADER_MODEL"); model != "" {
		c.LLM.Model = model
	}
}

// ZapLevel maps the configured logging level onto a zap level.
// Unknown or empty values fall back to info.
func (l LoggingConfig) ZapLevel() zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(l.Level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// GradingTimeout parses the LLM timeout string; invalid or empty
// values fall back to five minutes.
func (c *Config) GradingTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// Validate checks settings the run cannot proceed without.
func (c *Config) Validate() error {
	if c.DataRoot == "" {
		return fmt.Errorf("data_root is required")
	}
	if c.OutputRoot == "" {
		return fmt.Errorf("output_root is required")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("no API key found: set GEMINI_API_KEY or GOOGLE_API_KEY")
	}
	if c.Run.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	return nil
}
