// Package config loads and validates the process configuration. Validation
// is fail-fast: a misconfigured pipeline must not start, because it executes
// generated code unattended.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"codeforge/internal/logging"
	"codeforge/internal/policy"
)

// EnvAPIKey overrides llm.api_key so the secret can stay out of the file.
const EnvAPIKey = "CODEFORGE_API_KEY"

// Duration parses YAML duration strings like "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts to the standard type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LLMConfig selects the completion backend.
type LLMConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// SandboxConfig controls the execution environment.
type SandboxConfig struct {
	Workspace string   `yaml:"workspace"`
	Timeout   Duration `yaml:"timeout"`
}

// PolicyConfig selects the pluggable analysis strategies by name. The names
// are resolved against the registries at startup; a typo fails boot.
type PolicyConfig struct {
	DomainAnalyzer string `yaml:"domain_analyzer"`
	Resolver       string `yaml:"resolver"`
	// Watch enables hot reload of the approval section from the config
	// file. The swap is atomic; in-flight executions keep their snapshot.
	Watch bool `yaml:"watch"`
}

// StoreConfig locates the suspension database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// PipelineConfig tunes the recovery budgets and the suspension reaper.
type PipelineConfig struct {
	ExecRetries      int      `yaml:"exec_retries"`
	Backoff          Duration `yaml:"backoff"`
	ReapInterval     Duration `yaml:"reap_interval"`
	MaxSuspensionAge Duration `yaml:"max_suspension_age"`
}

// Config is the full process configuration.
type Config struct {
	LLM      LLMConfig             `yaml:"llm"`
	Sandbox  SandboxConfig         `yaml:"sandbox"`
	Approval policy.ApprovalConfig `yaml:"approval"`
	Policy   PolicyConfig          `yaml:"policy"`
	Store    StoreConfig           `yaml:"store"`
	Pipeline PipelineConfig        `yaml:"pipeline"`
	Logging  logging.Config        `yaml:"logging"`
}

// Load reads, env-overrides, and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates raw YAML. Unknown fields are rejected: a
// misspelled key silently reverting to a default is the failure mode this
// configuration cannot afford.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse: %w", err)
	}

	if key := os.Getenv(EnvAPIKey); key != "" {
		cfg.LLM.APIKey = key
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Policy.DomainAnalyzer == "" {
		c.Policy.DomainAnalyzer = "none"
	}
	if c.Policy.Resolver == "" {
		c.Policy.Resolver = "default"
	}
	if c.Sandbox.Timeout == 0 {
		c.Sandbox.Timeout = Duration(30 * time.Second)
	}
	if c.Pipeline.ExecRetries == 0 {
		c.Pipeline.ExecRetries = 2
	}
	if c.Pipeline.Backoff == 0 {
		c.Pipeline.Backoff = Duration(500 * time.Millisecond)
	}
	if c.Pipeline.ReapInterval == 0 {
		c.Pipeline.ReapInterval = Duration(time.Minute)
	}
	if c.Pipeline.MaxSuspensionAge == 0 {
		c.Pipeline.MaxSuspensionAge = Duration(24 * time.Hour)
	}
}

// Validate checks every required field and reports the first failure by its
// YAML path.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required (or set %s)", EnvAPIKey)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.Sandbox.Workspace == "" {
		return fmt.Errorf("sandbox.workspace is required")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if err := c.Approval.Validate(); err != nil {
		return err
	}
	if c.Pipeline.ExecRetries < 0 {
		return fmt.Errorf("pipeline.exec_retries must be >= 0")
	}
	return nil
}
