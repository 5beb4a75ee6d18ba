// Package config provides configuration loading for the intake orchestrator.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "INTAKE_"

// Config holds the orchestrator configuration.
type Config struct {
	HTTPPort int `koanf:"http_port"`

	// Store settings. Driver is "memory" or "sqlite".
	StoreDriver   string        `koanf:"store_driver"`
	DatabaseDSN   string        `koanf:"database_dsn"`
	SessionTTL    time.Duration `koanf:"session_ttl"`
	SweepInterval time.Duration `koanf:"sweep_interval"`

	// Collaborator agent endpoints and timeout budget.
	InterviewAgentURL       string        `koanf:"interview_agent_url"`
	DiagnosisAgentURL       string        `koanf:"diagnosis_agent_url"`
	SecondInterviewAgentURL string        `koanf:"second_interview_agent_url"`
	FinalReportAgentURL     string        `koanf:"final_report_agent_url"`
	AgentTimeout            time.Duration `koanf:"agent_timeout"`

	// PhaseMessageLimit is the user-message threshold that closes each
	// interview phase.
	PhaseMessageLimit int `koanf:"phase_message_limit"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`
}

func defaults() Config {
	return Config{
		HTTPPort:                8080,
		StoreDriver:             "memory",
		DatabaseDSN:             "file:intake.db?cache=shared&mode=rwc",
		SessionTTL:              0, // 0 disables eviction
		SweepInterval:           time.Minute,
		InterviewAgentURL:       "http://localhost:8091",
		DiagnosisAgentURL:       "http://localhost:8092",
		SecondInterviewAgentURL: "http://localhost:8093",
		FinalReportAgentURL:     "http://localhost:8094",
		AgentTimeout:            5 * time.Minute,
		PhaseMessageLimit:       10,
		LogLevel:                "info",
		LogFormat:               "json",
	}
}

// Load builds the configuration from defaults, then the optional YAML file
// at configPath, then INTAKE_* environment variables, in increasing
// precedence.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	// INTAKE_HTTP_PORT -> http_port, INTAKE_AGENT_TIMEOUT -> agent_timeout.
	if err := k.Load(env.Provider(envPrefix, ".", func(key string) string {
		return strings.ToLower(strings.TrimPrefix(key, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port %d", c.HTTPPort)
	}
	if c.StoreDriver != "memory" && c.StoreDriver != "sqlite" {
		return fmt.Errorf("invalid store_driver %q (want memory or sqlite)", c.StoreDriver)
	}
	if c.PhaseMessageLimit <= 0 {
		return fmt.Errorf("phase_message_limit must be positive")
	}
	for name, url := range map[string]string{
		"interview_agent_url":        c.InterviewAgentURL,
		"diagnosis_agent_url":        c.DiagnosisAgentURL,
		"second_interview_agent_url": c.SecondInterviewAgentURL,
		"final_report_agent_url":     c.FinalReportAgentURL,
	} {
		if url == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	return nil
}
