// Package config loads and validates the pipeline's YAML configuration.
// Validation is fail-fast: a config error aborts startup before any
// window is scheduled.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	httpapi "github.com/quantlab/walkforward/internal/interfaces/http"
	"github.com/quantlab/walkforward/internal/infrastructure/db"
	"github.com/quantlab/walkforward/internal/metrics"
	"github.com/quantlab/walkforward/internal/model"
	"github.com/quantlab/walkforward/internal/schedule"
)

// Duration parses YAML scalars like "2m" or "45s" into a time.Duration
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// DatasetConfig describes the input feature dataset
type DatasetConfig struct {
	Path          string `yaml:"path"`
	TimeColumn    string `yaml:"time_column"`
	EntityColumn  string `yaml:"entity_column"`
	FeaturePrefix string `yaml:"feature_prefix"`
	SchemaVersion string `yaml:"schema_version"`
	Target        string `yaml:"target"`
}

// ModelConfig selects and parameterizes the model variant
type ModelConfig struct {
	Variant      string  `yaml:"variant"`
	Seed         int64   `yaml:"seed"`
	Rounds       int     `yaml:"rounds"`
	LearningRate float64 `yaml:"learning_rate"`
	Hidden       int     `yaml:"hidden"`
	Epochs       int     `yaml:"epochs"`
}

// TrainerConfig holds run-level training knobs
type TrainerConfig struct {
	Metrics           []string `yaml:"metrics"`
	PrimaryMetric     string   `yaml:"primary_metric"`
	DegradationStreak int      `yaml:"degradation_streak"`
	Timeout           Duration `yaml:"timeout"`
	Workers           int      `yaml:"workers"`
}

// CacheConfig configures the optional Redis metadata cache
type CacheConfig struct {
	Enabled bool     `yaml:"enabled"`
	Addr    string   `yaml:"addr"`
	TTL     Duration `yaml:"ttl"`
}

// RegistryConfig configures artifact storage
type RegistryConfig struct {
	Dir   string      `yaml:"dir"`
	Cache CacheConfig `yaml:"cache"`
}

// Config is the root configuration document
type Config struct {
	Dataset  DatasetConfig         `yaml:"dataset"`
	Schedule schedule.Config       `yaml:"schedule"`
	Model    ModelConfig           `yaml:"model"`
	Trainer  TrainerConfig         `yaml:"trainer"`
	Registry RegistryConfig        `yaml:"registry"`
	Database db.Config             `yaml:"database"`
	Server   httpapi.ServerConfig  `yaml:"server"`
}

// Default returns the baseline configuration a minimal deployment needs
func Default() Config {
	return Config{
		Dataset: DatasetConfig{
			TimeColumn:    "date",
			EntityColumn:  "ticker",
			FeaturePrefix: "feat_",
			Target:        "target_fwd",
		},
		Schedule: schedule.Config{
			Mode: schedule.ModeRolling,
		},
		Model: ModelConfig{
			Variant: string(model.VariantBaseline),
		},
		Trainer: TrainerConfig{
			Metrics: []string{"mse"},
			Workers: 1,
		},
		Registry: RegistryConfig{
			Dir: "artifacts",
			Cache: CacheConfig{
				TTL: Duration(5 * time.Minute),
			},
		},
		Database: db.DefaultConfig(),
		Server:   httpapi.DefaultServerConfig(),
	}
}

// Load reads, merges over defaults, and validates a YAML config file
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks everything that can be checked without touching the
// dataset or any backing service
func (c Config) Validate() error {
	if c.Dataset.Path == "" {
		return fmt.Errorf("dataset.path is required")
	}
	if c.Dataset.Target == "" {
		return fmt.Errorf("dataset.target is required")
	}

	if err := c.Schedule.Validate(); err != nil {
		return err
	}

	if _, err := model.NewFactory(model.Variant(c.Model.Variant)); err != nil {
		return err
	}

	if _, err := metrics.ByName(c.Trainer.Metrics...); err != nil {
		return err
	}
	if c.Trainer.Workers < 0 {
		return fmt.Errorf("trainer.workers must be >= 0")
	}
	if c.Trainer.Timeout < 0 {
		return fmt.Errorf("trainer.timeout must be >= 0")
	}

	if c.Registry.Dir == "" {
		return fmt.Errorf("registry.dir is required")
	}
	if c.Registry.Cache.Enabled && c.Registry.Cache.Addr == "" {
		return fmt.Errorf("registry.cache.addr is required when the cache is enabled")
	}

	return nil
}

// ModelParams converts the YAML model section into adapter parameters
func (c Config) ModelParams() model.Config {
	return model.Config{
		Seed:          c.Model.Seed,
		FeaturePrefix: c.Dataset.FeaturePrefix,
		Rounds:        c.Model.Rounds,
		LearningRate:  c.Model.LearningRate,
		Hidden:        c.Model.Hidden,
		Epochs:        c.Model.Epochs,
	}
}
