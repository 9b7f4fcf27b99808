// Package neural implements the feedforward regression network used to
// predict house prices: dense ReLU layers with inverted dropout, trained with
// Adam on mean squared error, with early stopping on a validation set.
//
// A fitted MLPRegressor is read-only. PredictRow and Predict may be called
// concurrently, and Predict runs every row through PredictRow's code path so
// that a single prediction is bit-for-bit equal to the same row in a batch.
package neural

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"time"

	"github.com/YuminosukeSato/houseprice/core/model"
	"github.com/YuminosukeSato/houseprice/core/parallel"
	"github.com/YuminosukeSato/houseprice/pkg/errors"
	"github.com/YuminosukeSato/houseprice/pkg/log"
	"gonum.org/v1/gonum/mat"
)

// EpochResult is the outcome of one training epoch. Loss values are mean
// squared errors in training units (standardized targets when target
// standardization is on). MAE values are in price units. Validation fields
// are NaN when no validation data is given.
type EpochResult struct {
	Epoch   int
	Loss    float64
	MAE     float64
	ValLoss float64
	ValMAE  float64
}

// History collects per-epoch results of a training run.
type History struct {
	Loss    []float64
	MAE     []float64
	ValLoss []float64
	ValMAE  []float64

	// BestEpoch is the 1-based epoch with the lowest monitored loss.
	BestEpoch    int
	EpochsRun    int
	StoppedEarly bool
}

func (h *History) append(r EpochResult) {
	h.Loss = append(h.Loss, r.Loss)
	h.MAE = append(h.MAE, r.MAE)
	h.ValLoss = append(h.ValLoss, r.ValLoss)
	h.ValMAE = append(h.ValMAE, r.ValMAE)
	h.EpochsRun = r.Epoch
}

var (
	_ model.Regressor       = (*MLPRegressor)(nil)
	_ model.ParameterGetter = (*MLPRegressor)(nil)
)

// MLPRegressor is a multilayer perceptron with a single linear output.
type MLPRegressor struct {
	model.BaseEstimator

	hiddenLayers      []int
	dropout           []float64
	learningRate      float64
	beta1             float64
	beta2             float64
	epsilon           float64
	batchSize         int
	maxEpochs         int
	patience          int
	restoreBest       bool
	standardizeTarget bool
	randomState       int64
	nJobs             int
	logger            log.Logger
	onEpoch           func(EpochResult)

	layers      []*denseLayer
	targetMean  float64
	targetScale float64
	history     *History
}

// NewMLPRegressor creates an unfitted network. Defaults: hidden layers
// 128-64-32-16, dropout 0.3/0.3/0.2, Adam lr 0.001, batch 32, 200 epochs,
// patience 20 with best weights restored, standardized targets, seed 42.
func NewMLPRegressor(opts ...Option) *MLPRegressor {
	m := &MLPRegressor{
		hiddenLayers:      []int{128, 64, 32, 16},
		dropout:           []float64{0.3, 0.3, 0.2},
		learningRate:      0.001,
		beta1:             0.9,
		beta2:             0.999,
		epsilon:           1e-7,
		batchSize:         32,
		maxEpochs:         200,
		patience:          20,
		restoreBest:       true,
		standardizeTarget: true,
		randomState:       42,
		nJobs:             runtime.NumCPU(),
		logger:            log.GetLoggerWithName("neural.mlp"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MLPRegressor) validateParams() error {
	if len(m.hiddenLayers) == 0 {
		return errors.NewValidationError("hidden_layers", "at least one hidden layer is required", m.hiddenLayers)
	}
	for _, w := range m.hiddenLayers {
		if w <= 0 {
			return errors.NewValidationError("hidden_layers", "widths must be positive", m.hiddenLayers)
		}
	}
	if len(m.dropout) > len(m.hiddenLayers) {
		return errors.NewValidationError("dropout", "more rates than hidden layers", m.dropout)
	}
	for _, p := range m.dropout {
		if p < 0 || p >= 1 {
			return errors.NewValidationError("dropout", "rates must be in [0, 1)", m.dropout)
		}
	}
	if !(m.learningRate > 0) {
		return errors.NewValidationError("learning_rate", "must be positive", m.learningRate)
	}
	if m.batchSize <= 0 {
		return errors.NewValidationError("batch_size", "must be positive", m.batchSize)
	}
	if m.maxEpochs <= 0 {
		return errors.NewValidationError("max_epochs", "must be positive", m.maxEpochs)
	}
	if m.patience < 0 {
		return errors.NewValidationError("patience", "must not be negative", m.patience)
	}
	return nil
}

func (m *MLPRegressor) dropoutRate(layer int) float64 {
	if layer < len(m.dropout) {
		return m.dropout[layer]
	}
	return 0
}

// Fit trains on X and y without a validation set; early stopping then
// monitors the training loss.
func (m *MLPRegressor) Fit(X, y mat.Matrix) error {
	_, err := m.FitWithValidation(context.Background(), X, y, nil, nil)
	return err
}

// FitWithValidation trains on X and y, monitoring the loss on (Xval, yval)
// for early stopping. Xval and yval may both be nil. ctx is checked between
// epochs.
func (m *MLPRegressor) FitWithValidation(ctx context.Context, X, y, Xval, yval mat.Matrix) (*History, error) {
	if err := m.validateParams(); err != nil {
		return nil, err
	}

	n, d := X.Dims()
	if n == 0 || d == 0 {
		return nil, errors.NewModelError("MLPRegressor.Fit", "empty data", errors.ErrEmptyData)
	}
	targets, err := targetColumn("MLPRegressor.Fit", y, n)
	if err != nil {
		return nil, err
	}
	Xd := mat.DenseCopyOf(X)
	if err := errors.CheckNumericalStability("MLPRegressor.Fit.X", Xd.RawMatrix().Data, 0); err != nil {
		return nil, err
	}
	if err := errors.CheckNumericalStability("MLPRegressor.Fit.y", targets, 0); err != nil {
		return nil, err
	}

	var (
		Xv      *mat.Dense
		yvalRaw []float64
	)
	if Xval != nil || yval != nil {
		if Xval == nil || yval == nil {
			return nil, errors.NewValueError("MLPRegressor.Fit", "validation X and y must be given together")
		}
		nv, dv := Xval.Dims()
		if dv != d {
			return nil, errors.NewDimensionError("MLPRegressor.Fit", d, dv, 1)
		}
		if nv == 0 {
			return nil, errors.NewModelError("MLPRegressor.Fit", "empty validation data", errors.ErrEmptyData)
		}
		if yvalRaw, err = targetColumn("MLPRegressor.Fit", yval, nv); err != nil {
			return nil, err
		}
		Xv = mat.DenseCopyOf(Xval)
	}

	// 目的変数の標準化
	targetMean, targetScale := 0.0, 1.0
	if m.standardizeTarget {
		targetMean, targetScale = meanStd(targets)
	}
	scaleTargets := func(v []float64) []float64 {
		out := make([]float64, len(v))
		for i, t := range v {
			out[i] = (t - targetMean) / targetScale
		}
		return out
	}
	yTrain := scaleTargets(targets)
	var yVal []float64
	if Xv != nil {
		yVal = scaleTargets(yvalRaw)
	}

	rng := rand.New(rand.NewSource(m.randomState))
	sizes := append(append([]int{d}, m.hiddenLayers...), 1)
	layers := make([]*denseLayer, len(sizes)-1)
	for i := range layers {
		layers[i] = newGlorotLayer(sizes[i], sizes[i+1], rng)
	}
	opt := newAdam(layers, m.learningRate, m.beta1, m.beta2, m.epsilon)
	es := NewEarlyStopping(m.patience)
	history := &History{}
	var best []*denseLayer

	logger := m.logger
	if logger == nil {
		logger = log.GetLoggerWithName("neural.mlp")
	}
	logger.Info("Training started",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, n,
		log.FeaturesKey, d,
		log.BatchSizeKey, m.batchSize,
		log.LearningRateKey, m.learningRate,
		log.RandomSeedKey, m.randomState,
	)
	start := time.Now()

	for epoch := 1; epoch <= m.maxEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "training cancelled at epoch %d", epoch)
		}

		perm := rng.Perm(n)
		var sumLoss, sumAbs float64
		for s := 0; s < n; s += m.batchSize {
			e := s + m.batchSize
			if e > n {
				e = n
			}
			Xb, yb := gatherBatch(Xd, yTrain, perm[s:e])
			loss, absErr, grads := m.trainBatch(layers, Xb, yb, rng)
			opt.update(layers, grads)
			sumLoss += loss * float64(e-s)
			sumAbs += absErr
		}

		result := EpochResult{
			Epoch:   epoch,
			Loss:    sumLoss / float64(n),
			MAE:     sumAbs / float64(n) * targetScale,
			ValLoss: math.NaN(),
			ValMAE:  math.NaN(),
		}
		if err := errors.CheckScalar("train_loss", result.Loss, epoch); err != nil {
			logger.Error("Training diverged", err, log.EpochKey, epoch)
			return nil, err
		}

		monitored := result.Loss
		if Xv != nil {
			valLoss, valMAE := evaluate(layers, Xv, yVal)
			if err := errors.CheckScalar("val_loss", valLoss, epoch); err != nil {
				logger.Error("Training diverged", err, log.EpochKey, epoch)
				return nil, err
			}
			result.ValLoss = valLoss
			result.ValMAE = valMAE * targetScale
			monitored = valLoss
		}

		if es.Update(epoch, monitored) {
			best = cloneLayers(layers)
		}
		history.append(result)
		if m.onEpoch != nil {
			m.onEpoch(result)
		}
		fields := []any{log.EpochKey, epoch, log.LossKey, result.Loss, log.MAEKey, result.MAE}
		if Xv != nil {
			fields = append(fields, log.ValLossKey, result.ValLoss, log.ValMAEKey, result.ValMAE)
		}
		logger.Debug("Epoch finished", fields...)

		if es.ShouldStop() {
			history.StoppedEarly = true
			break
		}
	}
	history.BestEpoch = es.BestEpoch

	if m.restoreBest && best != nil {
		layers = best
	}
	m.layers = layers
	m.targetMean = targetMean
	m.targetScale = targetScale
	m.history = history
	m.SetFitted(d)

	if !history.StoppedEarly && m.patience > 0 && history.BestEpoch == history.EpochsRun {
		errors.Warn(errors.NewConvergenceWarning("MLPRegressor", history.EpochsRun,
			"monitored loss was still improving at the last epoch; consider raising max_epochs"))
	}

	logger.Info("Training finished",
		log.OperationKey, log.OperationFit,
		log.EpochKey, history.EpochsRun,
		log.BestEpochKey, history.BestEpoch,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return history, nil
}

// trainBatch runs a forward pass in training mode and backpropagates the
// mean squared error. It returns the batch loss, the summed absolute error and
// the gradients in the layout expected by adam.update.
func (m *MLPRegressor) trainBatch(layers []*denseLayer, Xb *mat.Dense, yb []float64, rng *rand.Rand) (float64, float64, [][]float64) {
	b := len(yb)
	nLayers := len(layers)
	acts := make([]*mat.Dense, nLayers+1)
	pre := make([]*mat.Dense, nLayers)
	masks := make([]*mat.Dense, nLayers)
	acts[0] = Xb

	for l, layer := range layers {
		Z := layer.forwardBatch(acts[l])
		pre[l] = Z
		if l == nLayers-1 {
			acts[l+1] = Z
			break
		}

		_, out := Z.Dims()
		A := mat.NewDense(b, out, nil)
		rate := m.dropoutRate(l)
		var M *mat.Dense
		if rate > 0 {
			M = mat.NewDense(b, out, nil)
		}
		keepScale := 1 / (1 - rate)
		for i := 0; i < b; i++ {
			for j := 0; j < out; j++ {
				v := relu(Z.At(i, j))
				if M != nil {
					if rng.Float64() < rate {
						v = 0
					} else {
						M.Set(i, j, keepScale)
						v *= keepScale
					}
				}
				A.Set(i, j, v)
			}
		}
		masks[l] = M
		acts[l+1] = A
	}

	var loss, absErr float64
	dA := mat.NewDense(b, 1, nil)
	for i := 0; i < b; i++ {
		diff := acts[nLayers].At(i, 0) - yb[i]
		loss += diff * diff
		absErr += math.Abs(diff)
		dA.Set(i, 0, 2*diff/float64(b))
	}
	loss /= float64(b)

	grads := make([][]float64, 2*nLayers)
	for l := nLayers - 1; l >= 0; l-- {
		dZ := dA
		if l < nLayers-1 {
			_, out := dZ.Dims()
			for i := 0; i < b; i++ {
				for j := 0; j < out; j++ {
					if pre[l].At(i, j) <= 0 {
						dZ.Set(i, j, 0)
						continue
					}
					if masks[l] != nil {
						dZ.Set(i, j, dZ.At(i, j)*masks[l].At(i, j))
					}
				}
			}
		}

		in, out := layers[l].dims()
		gW := mat.NewDense(in, out, nil)
		gW.Mul(acts[l].T(), dZ)
		gB := make([]float64, out)
		for i := 0; i < b; i++ {
			for j := 0; j < out; j++ {
				gB[j] += dZ.At(i, j)
			}
		}
		grads[2*l] = gW.RawMatrix().Data
		grads[2*l+1] = gB

		if l > 0 {
			prev := mat.NewDense(b, in, nil)
			prev.Mul(dZ, layers[l].W.T())
			dA = prev
		}
	}
	return loss, absErr, grads
}

// evaluate computes MSE and MAE in inference mode.
func evaluate(layers []*denseLayer, X *mat.Dense, y []float64) (mse, mae float64) {
	A := X
	for l, layer := range layers {
		Z := layer.forwardBatch(A)
		if l < len(layers)-1 {
			Z.Apply(func(_, _ int, v float64) float64 { return relu(v) }, Z)
		}
		A = Z
	}
	for i, t := range y {
		diff := A.At(i, 0) - t
		mse += diff * diff
		mae += math.Abs(diff)
	}
	n := float64(len(y))
	return mse / n, mae / n
}

// PredictRow predicts the price of one feature vector.
func (m *MLPRegressor) PredictRow(x []float64) (float64, error) {
	if !m.IsFitted() {
		return 0, errors.NewNotFittedError("MLPRegressor", "PredictRow")
	}
	if len(x) != m.NFeatures() {
		return 0, errors.NewDimensionError("MLPRegressor.PredictRow", m.NFeatures(), len(x), 1)
	}
	return m.forwardRow(x), nil
}

func (m *MLPRegressor) forwardRow(x []float64) float64 {
	h := x
	for l, layer := range m.layers {
		z := layer.forwardRow(h)
		if l < len(m.layers)-1 {
			for j := range z {
				z[j] = relu(z[j])
			}
		}
		h = z
	}
	return h[0]*m.targetScale + m.targetMean
}

// Predict returns an n × 1 matrix of predicted prices. Rows are processed in
// parallel through the PredictRow code path.
func (m *MLPRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if !m.IsFitted() {
		return nil, errors.NewNotFittedError("MLPRegressor", "Predict")
	}
	n, d := X.Dims()
	if d != m.NFeatures() {
		return nil, errors.NewDimensionError("MLPRegressor.Predict", m.NFeatures(), d, 1)
	}

	out := make([]float64, n)
	parallel.ParallelizeN(n, m.nJobs, func(start, end int) {
		row := make([]float64, d)
		for i := start; i < end; i++ {
			mat.Row(row, i, X)
			out[i] = m.forwardRow(row)
		}
	})
	return mat.NewDense(n, 1, out), nil
}

// History returns the per-epoch results of the last Fit, or nil for a model
// restored from weights.
func (m *MLPRegressor) History() *History {
	return m.history
}

// GetParams returns the hyperparameters of the network.
func (m *MLPRegressor) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"hidden_layers":      append([]int(nil), m.hiddenLayers...),
		"dropout":            append([]float64(nil), m.dropout...),
		"activation":         "relu",
		"optimizer":          "adam",
		"learning_rate":      m.learningRate,
		"beta_1":             m.beta1,
		"beta_2":             m.beta2,
		"epsilon":            m.epsilon,
		"loss":               "mse",
		"batch_size":         m.batchSize,
		"max_epochs":         m.maxEpochs,
		"patience":           m.patience,
		"restore_best":       m.restoreBest,
		"standardize_target": m.standardizeTarget,
		"random_state":       m.randomState,
	}
}

// String returns a short description of the network.
func (m *MLPRegressor) String() string {
	if !m.IsFitted() {
		return fmt.Sprintf("MLPRegressor(hidden_layers=%v)", m.hiddenLayers)
	}
	return fmt.Sprintf("MLPRegressor(hidden_layers=%v, n_features=%d)", m.hiddenLayers, m.NFeatures())
}

func targetColumn(op string, y mat.Matrix, n int) ([]float64, error) {
	ry, cy := y.Dims()
	if ry != n {
		return nil, errors.NewDimensionError(op, n, ry, 0)
	}
	if cy != 1 {
		return nil, errors.NewDimensionError(op, 1, cy, 1)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = y.At(i, 0)
	}
	return out, nil
}

func gatherBatch(X *mat.Dense, y []float64, idx []int) (*mat.Dense, []float64) {
	_, d := X.Dims()
	Xb := mat.NewDense(len(idx), d, nil)
	yb := make([]float64, len(idx))
	for i, k := range idx {
		Xb.SetRow(i, X.RawRowView(k))
		yb[i] = y[k]
	}
	return Xb, yb
}

func cloneLayers(layers []*denseLayer) []*denseLayer {
	out := make([]*denseLayer, len(layers))
	for i, l := range layers {
		out[i] = l.clone()
	}
	return out
}

// meanStd returns the mean and population standard deviation of v. A
// (near-)zero deviation is reported as 1.
func meanStd(v []float64) (float64, float64) {
	var sum float64
	for _, x := range v {
		sum += x
	}
	mean := sum / float64(len(v))
	var ss float64
	for _, x := range v {
		ss += (x - mean) * (x - mean)
	}
	std := math.Sqrt(ss / float64(len(v)))
	if std < 1e-8 {
		std = 1
	}
	return mean, std
}
