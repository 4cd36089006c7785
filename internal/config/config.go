// Package config loads the service configuration from YAML with environment
// variable expansion.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for the streaming agent service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	LLM        LLMConfig        `yaml:"llm"`
	Session    SessionConfig    `yaml:"session"`
	Workers    WorkersConfig    `yaml:"workers"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
	SystemPrompt    string                       `yaml:"system_prompt"`
	EnableThinking  bool                         `yaml:"enable_thinking"`
	MaxIterations   int                          `yaml:"max_iterations"`
	Compaction      CompactionConfig             `yaml:"compaction"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

// CompactionConfig controls the context budget guard. The compaction model
// defaults to the active provider's default model.
type CompactionConfig struct {
	TokenBudget int    `yaml:"token_budget"`
	Model       string `yaml:"model"`
}

type SessionConfig struct {
	// ChannelTimeout is the absolute lifetime of one event stream.
	ChannelTimeout time.Duration `yaml:"channel_timeout"`

	// HistoryLimit caps how many transcript messages feed one execution.
	HistoryLimit int `yaml:"history_limit"`
}

type WorkersConfig struct {
	Core      int           `yaml:"core"`
	Max       int           `yaml:"max"`
	Queue     int           `yaml:"queue"`
	KeepAlive time.Duration `yaml:"keep_alive"`
}

type TranscriptConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`
	// Path is the sqlite database file; ":memory:" for ephemeral.
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

type TracingConfig struct {
	// Endpoint is the OTLP gRPC collector address; empty disables tracing.
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// Default returns the built-in configuration used when no config file is
// given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.LLM.MaxIterations == 0 {
		cfg.LLM.MaxIterations = 8
	}
	if cfg.LLM.Compaction.TokenBudget == 0 {
		cfg.LLM.Compaction.TokenBudget = 100_000
	}
	if cfg.Session.ChannelTimeout == 0 {
		cfg.Session.ChannelTimeout = 10 * time.Minute
	}
	if cfg.Session.HistoryLimit == 0 {
		cfg.Session.HistoryLimit = 200
	}
	if cfg.Workers.Core == 0 {
		cfg.Workers.Core = 10
	}
	if cfg.Workers.Max == 0 {
		cfg.Workers.Max = cfg.Workers.Core * 2
	}
	if cfg.Workers.Queue == 0 {
		cfg.Workers.Queue = 100
	}
	if cfg.Workers.KeepAlive == 0 {
		cfg.Workers.KeepAlive = 60 * time.Second
	}
	if cfg.Transcript.Backend == "" {
		cfg.Transcript.Backend = "memory"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
}
