package neural

import "github.com/YuminosukeSato/houseprice/pkg/log"

// Option is a function that configures MLPRegressor
type Option func(*MLPRegressor)

// WithHiddenLayers sets the widths of the hidden layers
func WithHiddenLayers(sizes ...int) Option {
	return func(m *MLPRegressor) {
		m.hiddenLayers = append([]int(nil), sizes...)
	}
}

// WithDropout sets the dropout rate applied after each hidden layer.
// Missing trailing rates mean no dropout.
func WithDropout(rates ...float64) Option {
	return func(m *MLPRegressor) {
		m.dropout = append([]float64(nil), rates...)
	}
}

// WithLearningRate sets the Adam step size
func WithLearningRate(lr float64) Option {
	return func(m *MLPRegressor) {
		m.learningRate = lr
	}
}

// WithBatchSize sets the minibatch size
func WithBatchSize(n int) Option {
	return func(m *MLPRegressor) {
		m.batchSize = n
	}
}

// WithMaxEpochs sets the maximum number of passes over the training data
func WithMaxEpochs(n int) Option {
	return func(m *MLPRegressor) {
		m.maxEpochs = n
	}
}

// WithPatience sets the early stopping patience. Zero disables early stopping.
func WithPatience(n int) Option {
	return func(m *MLPRegressor) {
		m.patience = n
	}
}

// WithRestoreBestWeights sets whether the best-scoring weights are restored
// when training ends
func WithRestoreBestWeights(restore bool) Option {
	return func(m *MLPRegressor) {
		m.restoreBest = restore
	}
}

// WithTargetStandardization sets whether targets are standardized during
// training. Predictions are always returned in the original units.
func WithTargetStandardization(enabled bool) Option {
	return func(m *MLPRegressor) {
		m.standardizeTarget = enabled
	}
}

// WithRandomState sets the seed for weight initialization, shuffling and dropout
func WithRandomState(seed int64) Option {
	return func(m *MLPRegressor) {
		m.randomState = seed
	}
}

// WithNJobs sets the number of workers used by batched Predict
func WithNJobs(n int) Option {
	return func(m *MLPRegressor) {
		m.nJobs = n
	}
}

// WithLogger sets the logger used for per-epoch progress
func WithLogger(logger log.Logger) Option {
	return func(m *MLPRegressor) {
		m.logger = logger
	}
}

// WithEpochCallback registers a function called after every epoch
func WithEpochCallback(fn func(EpochResult)) Option {
	return func(m *MLPRegressor) {
		m.onEpoch = fn
	}
}
