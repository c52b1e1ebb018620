// Package config provides configuration loading and management for mriqa.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"mriqa/pkg/metrics"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Labels maps segmentation label integers to tissue roles.
	// Different segmentation protocols use different conventions, so
	// this is configuration rather than a constant.
	Labels metrics.LabelMap `yaml:"labels"`

	// Metrics is the list of metrics to compute and plot.
	// Recognized names: EFC, SNR, CNR, CJV.
	Metrics []string `yaml:"metrics"`

	// Plot parameters
	Plots struct {
		// GroupColumn is the participants-table column used to split
		// rows into subgroups for distribution comparison
		GroupColumn string `yaml:"groupColumn"`

		// Groups fixes the subgroup ordering in plots. Empty means
		// groups appear in the order they are discovered.
		Groups []string `yaml:"groups"`

		// Bins is the histogram bin count
		Bins int `yaml:"bins"`
	} `yaml:"plots"`

	// Processing parameters
	Processing struct {
		// NumWorkers specifies how many subjects are processed
		// concurrently. One worker gives strictly sequential runs.
		NumWorkers int `yaml:"numWorkers"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// KeepFailed keeps subjects that failed to produce metrics in
		// the output table, with an error marker and empty metric
		// cells. When false, failed subjects are dropped from the
		// table entirely. Either way the failure is logged and the
		// row is excluded from plots.
		KeepFailed bool `yaml:"keepFailed"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Labels = metrics.DefaultLabelMap()
	cfg.Metrics = []string{"EFC", "SNR", "CNR", "CJV"}

	cfg.Plots.GroupColumn = "Sequence"
	cfg.Plots.Bins = 32

	cfg.Processing.NumWorkers = runtime.NumCPU()

	cfg.Output.KeepFailed = true
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for values that would make a run
// meaningless before any subject is processed
func (c *Config) Validate() error {
	for _, m := range c.Metrics {
		switch m {
		case "EFC", "SNR", "CNR", "CJV":
		default:
			return fmt.Errorf("unknown metric %q in config (want EFC, SNR, CNR or CJV)", m)
		}
	}
	if c.Processing.NumWorkers < 1 {
		return fmt.Errorf("processing.numWorkers must be at least 1, got %d", c.Processing.NumWorkers)
	}
	if c.Plots.Bins < 1 {
		return fmt.Errorf("plots.bins must be at least 1, got %d", c.Plots.Bins)
	}
	return nil
}

// HasMetric reports whether the named metric is configured
func (c *Config) HasMetric(name string) bool {
	for _, m := range c.Metrics {
		if m == name {
			return true
		}
	}
	return false
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
