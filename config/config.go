// Package config loads the service and training configuration from a YAML
// file, applies HOUSEPRICE_* environment overrides and validates the result.
package config

import (
	"bytes"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/houseprice/api"
	"github.com/YuminosukeSato/houseprice/pkg/errors"
	"github.com/YuminosukeSato/houseprice/pkg/log"
	"github.com/YuminosukeSato/houseprice/training"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "HOUSEPRICE_"

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Training  TrainingConfig  `yaml:"training"`
	Model     ModelConfig     `yaml:"model"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Registry  RegistryConfig  `yaml:"registry"`
	Inference InferenceConfig `yaml:"inference"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ReadTimeout     int      `yaml:"read_timeout"`     // seconds
	WriteTimeout    int      `yaml:"write_timeout"`    // seconds
	ShutdownTimeout int      `yaml:"shutdown_timeout"` // seconds
	MaxBodyBytes    int64    `yaml:"max_body_bytes"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
}

// TrainingConfig holds dataset and split settings.
type TrainingConfig struct {
	DatasetPath     string  `yaml:"dataset_path"`
	TestSize        float64 `yaml:"test_size"`
	ValidationSplit float64 `yaml:"validation_split"`
	Seed            int64   `yaml:"seed"`
	PlotHistory     bool    `yaml:"plot_history"`
}

// ModelConfig holds network hyperparameters.
type ModelConfig struct {
	HiddenLayers          []int     `yaml:"hidden_layers"`
	Dropout               []float64 `yaml:"dropout"`
	LearningRate          float64   `yaml:"learning_rate"`
	BatchSize             int       `yaml:"batch_size"`
	MaxEpochs             int       `yaml:"max_epochs"`
	Patience              int       `yaml:"patience"`
	EarlyStopping         bool      `yaml:"early_stopping"`
	TargetStandardization bool      `yaml:"target_standardization"`
}

// ArtifactsConfig holds artifact store settings.
type ArtifactsConfig struct {
	Dir          string `yaml:"dir"`
	KeepVersions int    `yaml:"keep_versions"`
}

// RegistryConfig holds the training-run registry settings. An empty path
// disables the registry.
type RegistryConfig struct {
	Path string `yaml:"path"`
}

// InferenceConfig holds serving settings.
type InferenceConfig struct {
	CacheSize int `yaml:"cache_size"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // json, console
	Output     string `yaml:"output"` // stdout, file, both
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"` // MB
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
	Compress   bool   `yaml:"compress"`
}

// Default returns the built-in configuration.
func Default() *Config {
	tc := training.DefaultConfig()
	sc := api.DefaultServerConfig()
	return &Config{
		Server: ServerConfig{
			Addr:            sc.Addr,
			ReadTimeout:     int(sc.ReadTimeout / time.Second),
			WriteTimeout:    int(sc.WriteTimeout / time.Second),
			ShutdownTimeout: int(sc.ShutdownTimeout / time.Second),
			MaxBodyBytes:    sc.MaxBodyBytes,
			AllowedOrigins:  sc.AllowedOrigins,
		},
		Training: TrainingConfig{
			DatasetPath:     tc.DatasetPath,
			TestSize:        tc.TestSize,
			ValidationSplit: tc.ValidationSplit,
			Seed:            tc.Seed,
			PlotHistory:     tc.PlotHistory,
		},
		Model: ModelConfig{
			HiddenLayers:          tc.Model.HiddenLayers,
			Dropout:               tc.Model.Dropout,
			LearningRate:          tc.Model.LearningRate,
			BatchSize:             tc.Model.BatchSize,
			MaxEpochs:             tc.Model.MaxEpochs,
			Patience:              tc.Model.Patience,
			EarlyStopping:         true,
			TargetStandardization: tc.Model.TargetStandardization,
		},
		Artifacts: ArtifactsConfig{
			Dir:          "artifacts",
			KeepVersions: 5,
		},
		Registry: RegistryConfig{
			Path: "artifacts/runs.db",
		},
		Inference: InferenceConfig{
			CacheSize: 1024,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := cfg.decode(data); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode strictly unmarshals YAML into cfg; unknown keys are errors.
func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && err != io.EOF {
		return err
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

// applyEnv overrides fields from HOUSEPRICE_* variables.
func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, set func(string) error) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		if err := set(v); err != nil {
			return errors.NewValidationError(EnvPrefix+name, "invalid value", v)
		}
		return nil
	}
	atoi := func(dst *int) func(string) error {
		return func(v string) error {
			n, err := strconv.Atoi(v)
			*dst = n
			return err
		}
	}

	str("ADDR", &c.Server.Addr)
	str("DATASET_PATH", &c.Training.DatasetPath)
	str("ARTIFACT_DIR", &c.Artifacts.Dir)
	str("REGISTRY_PATH", &c.Registry.Path)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("LOG_OUTPUT", &c.Logging.Output)
	str("LOG_FILE", &c.Logging.FilePath)

	for _, o := range []struct {
		name string
		set  func(string) error
	}{
		{"KEEP_VERSIONS", atoi(&c.Artifacts.KeepVersions)},
		{"CACHE_SIZE", atoi(&c.Inference.CacheSize)},
		{"MAX_EPOCHS", atoi(&c.Model.MaxEpochs)},
		{"SEED", func(v string) error {
			n, err := strconv.ParseInt(v, 10, 64)
			c.Training.Seed = n
			return err
		}},
	} {
		if err := num(o.name, o.set); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.NewValidationError("server.addr", "must not be empty", c.Server.Addr)
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 || c.Server.ShutdownTimeout <= 0 {
		return errors.NewValueError("Config.Validate", "server timeouts must be positive")
	}
	if c.Artifacts.Dir == "" {
		return errors.NewValidationError("artifacts.dir", "must not be empty", c.Artifacts.Dir)
	}
	if c.Artifacts.KeepVersions < 1 {
		return errors.NewValidationError("artifacts.keep_versions", "must be at least 1", c.Artifacts.KeepVersions)
	}
	if c.Inference.CacheSize < 0 {
		return errors.NewValidationError("inference.cache_size", "must not be negative", c.Inference.CacheSize)
	}
	if _, ok := log.ParseLevel(c.Logging.Level); !ok {
		return errors.NewValidationError("logging.level", "unknown level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return errors.NewValidationError("logging.format", "must be json or console", c.Logging.Format)
	}
	switch c.Logging.Output {
	case "stdout":
	case "file", "both":
		if c.Logging.FilePath == "" {
			return errors.NewValidationError("logging.file_path", "required for file output", c.Logging.FilePath)
		}
	default:
		return errors.NewValidationError("logging.output", "must be stdout, file or both", c.Logging.Output)
	}
	return c.TrainingConfig().Validate()
}

// TrainingConfig converts the training and model sections.
func (c *Config) TrainingConfig() training.Config {
	return training.Config{
		DatasetPath:     c.Training.DatasetPath,
		TestSize:        c.Training.TestSize,
		ValidationSplit: c.Training.ValidationSplit,
		Seed:            c.Training.Seed,
		PlotHistory:     c.Training.PlotHistory,
		Model: training.ModelConfig{
			HiddenLayers:          c.Model.HiddenLayers,
			Dropout:               c.Model.Dropout,
			LearningRate:          c.Model.LearningRate,
			BatchSize:             c.Model.BatchSize,
			MaxEpochs:             c.Model.MaxEpochs,
			Patience:              c.Model.Patience,
			DisableEarlyStopping:  !c.Model.EarlyStopping,
			TargetStandardization: c.Model.TargetStandardization,
		},
	}
}

// APIConfig converts the server section.
func (c *Config) APIConfig() api.ServerConfig {
	return api.ServerConfig{
		Addr:            c.Server.Addr,
		ReadTimeout:     time.Duration(c.Server.ReadTimeout) * time.Second,
		WriteTimeout:    time.Duration(c.Server.WriteTimeout) * time.Second,
		ShutdownTimeout: time.Duration(c.Server.ShutdownTimeout) * time.Second,
		MaxBodyBytes:    c.Server.MaxBodyBytes,
		AllowedOrigins:  c.Server.AllowedOrigins,
	}
}

// LogOptions converts the logging section.
func (c *Config) LogOptions() log.Options {
	l := c.Logging
	return log.Options{
		Level:      l.Level,
		Format:     l.Format,
		Output:     l.Output,
		FilePath:   l.FilePath,
		MaxSize:    l.MaxSize,
		MaxBackups: l.MaxBackups,
		MaxAge:     l.MaxAge,
		Compress:   l.Compress,
	}
}
