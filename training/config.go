package training

import (
	"github.com/YuminosukeSato/houseprice/neural"
	"github.com/YuminosukeSato/houseprice/pkg/errors"
)

// ModelConfig holds the network hyperparameters. Zero values fall back to
// the network defaults.
type ModelConfig struct {
	HiddenLayers          []int
	Dropout               []float64
	LearningRate          float64
	BatchSize             int
	MaxEpochs             int
	Patience              int
	DisableEarlyStopping  bool
	TargetStandardization bool
}

// Config controls a training run.
type Config struct {
	// DatasetPath is the labeled CSV file.
	DatasetPath string

	TestSize        float64
	ValidationSplit float64
	Seed            int64

	Model ModelConfig

	// PlotHistory renders the loss curves into the bundle.
	PlotHistory bool
}

// DefaultConfig returns the settings used by the reference training run.
func DefaultConfig() Config {
	return Config{
		DatasetPath:     "data/Housing.csv",
		TestSize:        0.2,
		ValidationSplit: 0.2,
		Seed:            42,
		Model: ModelConfig{
			HiddenLayers:          []int{128, 64, 32, 16},
			Dropout:               []float64{0.3, 0.3, 0.2},
			LearningRate:          0.001,
			BatchSize:             32,
			MaxEpochs:             200,
			Patience:              20,
			TargetStandardization: true,
		},
		PlotHistory: true,
	}
}

// Validate checks the fields that cannot be caught later by the model.
func (c Config) Validate() error {
	if c.DatasetPath == "" {
		return errors.NewValidationError("dataset_path", "must not be empty", c.DatasetPath)
	}
	if c.TestSize <= 0 || c.TestSize >= 1 {
		return errors.NewValidationError("test_size", "must be in (0, 1)", c.TestSize)
	}
	if c.ValidationSplit < 0 || c.ValidationSplit >= 1 {
		return errors.NewValidationError("validation_split", "must be in [0, 1)", c.ValidationSplit)
	}
	if c.Model.LearningRate < 0 {
		return errors.NewValidationError("learning_rate", "must not be negative", c.Model.LearningRate)
	}
	if c.Model.BatchSize < 0 || c.Model.MaxEpochs < 0 || c.Model.Patience < 0 {
		return errors.NewValueError("Config.Validate", "batch size, epochs and patience must not be negative")
	}
	return nil
}

func (c Config) modelOptions() []neural.Option {
	m := c.Model
	opts := []neural.Option{
		neural.WithRandomState(c.Seed),
		neural.WithTargetStandardization(m.TargetStandardization),
	}
	if len(m.HiddenLayers) > 0 {
		opts = append(opts, neural.WithHiddenLayers(m.HiddenLayers...))
	}
	if m.Dropout != nil {
		opts = append(opts, neural.WithDropout(m.Dropout...))
	}
	if m.LearningRate > 0 {
		opts = append(opts, neural.WithLearningRate(m.LearningRate))
	}
	if m.BatchSize > 0 {
		opts = append(opts, neural.WithBatchSize(m.BatchSize))
	}
	if m.MaxEpochs > 0 {
		opts = append(opts, neural.WithMaxEpochs(m.MaxEpochs))
	}
	switch {
	case m.DisableEarlyStopping:
		// 早期終了なしなら最後のエポックの重みをそのまま使う
		opts = append(opts, neural.WithPatience(0), neural.WithRestoreBestWeights(false))
	case m.Patience > 0:
		opts = append(opts, neural.WithPatience(m.Patience))
	}
	return opts
}
