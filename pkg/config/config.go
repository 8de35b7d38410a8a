// Package config provides configuration structures and loading logic for
// copy pipelines.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/polisai/kvcopy/pkg/domain"
	"github.com/polisai/kvcopy/pkg/logging"
	"github.com/polisai/kvcopy/pkg/telemetry"
)

const (
	defaultPipelineID  = "kvcopy"
	defaultServiceName = "kvcopy"
)

// Config holds the configuration of one pipeline process.
type Config struct {
	Pipeline  string           `yaml:"pipeline"`
	Logging   logging.Config   `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Stages    []StageSpec      `yaml:"stages"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// StageSpec is the on-disk form of a copy stage.
type StageSpec struct {
	ID         string         `yaml:"id"`
	Match      map[string]any `yaml:"match"`
	Directives any            `yaml:"directives"`
}

// Parse decodes YAML configuration after expanding environment variables, then
// applies environment overrides and defaults.
func Parse(data []byte) (*Config, error) {
	expanded := []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Load reads, parses and validates the configuration file at path.
func Load(path string) (*Config, error) {
	//nolint:gosec // Config file path is controlled by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("KVCOPY_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("KVCOPY_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
	if val := os.Getenv("KVCOPY_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.Endpoint = val
	}
	if val := os.Getenv("KVCOPY_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("KVCOPY_METRICS_ADDR"); val != "" {
		cfg.Metrics.Addr = val
	}
}

// ApplyDefaults fills unset fields. Stages without an id get a random one.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Pipeline) == "" {
		c.Pipeline = defaultPipelineID
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = defaultServiceName
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	for i := range c.Stages {
		if strings.TrimSpace(c.Stages[i].ID) == "" {
			c.Stages[i].ID = "stage-" + uuid.NewString()
		}
	}
}

// Validate checks the pipeline shape. Directive shape is checked by the
// stages themselves when the pipeline is validated.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Stages) == 0 {
		errs = append(errs, errors.New("at least one stage is required"))
	}

	seen := make(map[string]struct{}, len(c.Stages))
	for i, stage := range c.Stages {
		if _, dup := seen[stage.ID]; dup {
			errs = append(errs, fmt.Errorf("stages[%d]: duplicate stage id %q", i, stage.ID))
		}
		seen[stage.ID] = struct{}{}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrConfigInvalid, errors.Join(errs...))
	}
	return nil
}
