package neural

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/YuminosukeSato/houseprice/pkg/errors"
	"github.com/YuminosukeSato/houseprice/pkg/log"
	"gonum.org/v1/gonum/mat"
)

// linearData returns n samples of y = 2x + 1 with x in [-1, 1].
func linearData(n int, seed int64) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewSource(seed))
	X := mat.NewDense(n, 1, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x := rng.Float64()*2 - 1
		X.Set(i, 0, x)
		y.Set(i, 0, 2*x+1)
	}
	return X, y
}

func quietLogger() log.Logger {
	logger, _ := log.NewTestLogger(log.LevelError)
	return logger
}

func smallNetwork(opts ...Option) *MLPRegressor {
	base := []Option{
		WithHiddenLayers(16, 8),
		WithDropout(),
		WithLearningRate(0.01),
		WithBatchSize(16),
		WithMaxEpochs(200),
		WithPatience(0),
		WithRandomState(7),
		WithLogger(quietLogger()),
	}
	return NewMLPRegressor(append(base, opts...)...)
}

func TestMLPRegressorLearnsLinearFunction(t *testing.T) {
	X, y := linearData(64, 1)
	m := smallNetwork()

	history, err := m.FitWithValidation(context.Background(), X, y, nil, nil)
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if history.EpochsRun != 200 {
		t.Errorf("EpochsRun = %d, want 200", history.EpochsRun)
	}
	first, last := history.Loss[0], history.Loss[len(history.Loss)-1]
	if !(last < 0.1*first) {
		t.Errorf("loss did not decrease enough: first=%v last=%v", first, last)
	}
	if !math.IsNaN(history.ValLoss[0]) {
		t.Error("ValLoss should be NaN without validation data")
	}
}

func TestMLPRegressorDefaults(t *testing.T) {
	m := NewMLPRegressor()
	params := m.GetParams()

	hidden := params["hidden_layers"].([]int)
	want := []int{128, 64, 32, 16}
	if len(hidden) != len(want) {
		t.Fatalf("hidden_layers = %v, want %v", hidden, want)
	}
	for i := range want {
		if hidden[i] != want[i] {
			t.Errorf("hidden_layers = %v, want %v", hidden, want)
		}
	}
	if params["learning_rate"] != 0.001 || params["batch_size"] != 32 ||
		params["max_epochs"] != 200 || params["patience"] != 20 {
		t.Errorf("unexpected defaults: %v", params)
	}
	if params["epsilon"] != 1e-7 {
		t.Errorf("epsilon = %v, want 1e-7", params["epsilon"])
	}
}

func TestMLPRegressorPredictRowMatchesPredict(t *testing.T) {
	X, y := linearData(40, 2)
	m := smallNetwork(WithMaxEpochs(20), WithDropout(0.2, 0.1), WithNJobs(4))
	if err := m.Fit(X, y); err != nil {
		t.Fatal(err)
	}

	batch, err := m.Predict(X)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	for i := 0; i < 40; i++ {
		single, err := m.PredictRow(X.RawRowView(i))
		if err != nil {
			t.Fatal(err)
		}
		if single != batch.At(i, 0) {
			t.Errorf("row %d: single=%v batch=%v", i, single, batch.At(i, 0))
		}
	}
}

func TestMLPRegressorDeterministicTraining(t *testing.T) {
	X, y := linearData(32, 3)

	a := smallNetwork(WithMaxEpochs(10), WithDropout(0.3))
	b := smallNetwork(WithMaxEpochs(10), WithDropout(0.3))
	if err := a.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if err := b.Fit(X, y); err != nil {
		t.Fatal(err)
	}

	probe := []float64{0.25}
	pa, _ := a.PredictRow(probe)
	pb, _ := b.PredictRow(probe)
	if pa != pb {
		t.Errorf("same seed gave different models: %v vs %v", pa, pb)
	}

	c := smallNetwork(WithMaxEpochs(10), WithDropout(0.3), WithRandomState(8))
	if err := c.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if pc, _ := c.PredictRow(probe); pc == pa {
		t.Error("different seeds gave identical predictions")
	}
}

func TestMLPRegressorInferenceIgnoresDropout(t *testing.T) {
	X, y := linearData(32, 4)
	m := smallNetwork(WithMaxEpochs(5), WithDropout(0.5, 0.5))
	if err := m.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	first, _ := m.PredictRow([]float64{0.5})
	for i := 0; i < 10; i++ {
		if got, _ := m.PredictRow([]float64{0.5}); got != first {
			t.Fatalf("prediction changed between calls: %v vs %v", got, first)
		}
	}
}

func TestMLPRegressorConcurrentPredict(t *testing.T) {
	X, y := linearData(32, 5)
	m := smallNetwork(WithMaxEpochs(5))
	if err := m.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	want, _ := m.PredictRow([]float64{-0.3})

	var wg sync.WaitGroup
	errs := make(chan string, 16)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if got, _ := m.PredictRow([]float64{-0.3}); got != want {
					errs <- "concurrent prediction differs"
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
}

func TestMLPRegressorEarlyStoppingRestoresBest(t *testing.T) {
	X, y := linearData(64, 6)
	// 検証データは学習データと逆の関係を持つので、学習が進むほど val_loss は悪化する
	Xv, yv := linearData(16, 7)
	for i := 0; i < 16; i++ {
		yv.Set(i, 0, -yv.At(i, 0))
	}

	m := smallNetwork(WithPatience(3), WithRestoreBestWeights(true))
	history, err := m.FitWithValidation(context.Background(), X, y, Xv, yv)
	if err != nil {
		t.Fatal(err)
	}
	if !history.StoppedEarly {
		t.Fatalf("expected early stop, ran %d epochs", history.EpochsRun)
	}
	if history.EpochsRun != history.BestEpoch+3 {
		t.Errorf("EpochsRun = %d, BestEpoch = %d, patience 3", history.EpochsRun, history.BestEpoch)
	}

	best := history.ValLoss[history.BestEpoch-1]
	for _, v := range history.ValLoss {
		if v < best {
			t.Errorf("BestEpoch does not hold the minimum val_loss: %v < %v", v, best)
		}
	}

	// 復元後のモデルの検証損失は最良エポックの値と一致する
	pred, err := m.Predict(Xv)
	if err != nil {
		t.Fatal(err)
	}
	var mse float64
	for i := 0; i < 16; i++ {
		d := (pred.At(i, 0) - yv.At(i, 0)) / m.targetScale
		mse += d * d
	}
	mse /= 16
	if math.Abs(mse-best) > 1e-9 {
		t.Errorf("restored model val_loss = %v, want %v", mse, best)
	}
}

func TestMLPRegressorEpochCallback(t *testing.T) {
	X, y := linearData(16, 8)
	var epochs []int
	m := smallNetwork(WithMaxEpochs(4), WithEpochCallback(func(r EpochResult) {
		epochs = append(epochs, r.Epoch)
	}))
	if err := m.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if len(epochs) != 4 || epochs[0] != 1 || epochs[3] != 4 {
		t.Errorf("callback epochs = %v", epochs)
	}
}

func TestMLPRegressorNumericalInstability(t *testing.T) {
	X, _ := linearData(16, 9)
	y := mat.NewDense(16, 1, nil)
	for i := 0; i < 16; i++ {
		y.Set(i, 0, 1e200)
	}
	m := smallNetwork(WithTargetStandardization(false))

	_, err := m.FitWithValidation(context.Background(), X, y, nil, nil)
	var instability *errors.NumericalInstabilityError
	if !errors.As(err, &instability) {
		t.Fatalf("expected NumericalInstabilityError, got %v", err)
	}
	if instability.Iteration != 1 {
		t.Errorf("Iteration = %d, want 1", instability.Iteration)
	}
	if m.IsFitted() {
		t.Error("model must not be marked fitted after a failed run")
	}
}

func TestMLPRegressorContextCancel(t *testing.T) {
	X, y := linearData(16, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := smallNetwork()
	_, err := m.FitWithValidation(ctx, X, y, nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMLPRegressorInputErrors(t *testing.T) {
	m := smallNetwork()

	var notFitted *errors.NotFittedError
	if _, err := m.PredictRow([]float64{1}); !errors.As(err, &notFitted) {
		t.Errorf("expected NotFittedError, got %v", err)
	}
	if _, err := m.Weights(); !errors.As(err, &notFitted) {
		t.Errorf("expected NotFittedError from Weights, got %v", err)
	}

	X, y := linearData(8, 11)
	if err := m.Fit(X, mat.NewDense(7, 1, nil)); err == nil {
		t.Error("expected row mismatch error")
	}
	if _, err := m.FitWithValidation(context.Background(), X, y, X, nil); err == nil {
		t.Error("expected error when only validation X is given")
	}
	if err := m.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	var dimErr *errors.DimensionError
	if _, err := m.PredictRow([]float64{1, 2}); !errors.As(err, &dimErr) {
		t.Errorf("expected DimensionError, got %v", err)
	}

	bad := []Option{
		WithHiddenLayers(),
		WithHiddenLayers(4, 0),
		WithDropout(1.0),
		WithDropout(0.1, 0.1, 0.1),
		WithLearningRate(0),
		WithBatchSize(0),
		WithMaxEpochs(0),
		WithPatience(-1),
	}
	for i, opt := range bad {
		if err := smallNetwork(opt).Fit(X, y); err == nil {
			t.Errorf("option %d: expected validation error", i)
		}
	}
}

func TestWeightsRoundTrip(t *testing.T) {
	X, y := linearData(32, 12)
	m := smallNetwork(WithMaxEpochs(10))
	if err := m.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	w, err := m.Weights()
	if err != nil {
		t.Fatal(err)
	}
	if len(w.Layers) != 3 || w.Layers[0].In != 1 || w.Layers[2].Out != 1 {
		t.Fatalf("unexpected layer shapes: %+v", w.Layers)
	}

	restored, err := NewMLPRegressorFromWeights(w, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewMLPRegressorFromWeights() error = %v", err)
	}
	for i := 0; i < 32; i++ {
		a, _ := m.PredictRow(X.RawRowView(i))
		b, _ := restored.PredictRow(X.RawRowView(i))
		if a != b {
			t.Fatalf("row %d: restored=%v original=%v", i, b, a)
		}
	}
	if restored.History() != nil {
		t.Error("restored model should have no history")
	}

	// 復元後のモデルは元の重みと独立している
	w.Layers[0].W[0] += 1
	a, _ := m.PredictRow([]float64{0.5})
	b, _ := restored.PredictRow([]float64{0.5})
	if a != b {
		t.Error("mutating exported weights changed a restored model")
	}
}

func TestNewMLPRegressorFromWeightsRejectsBadShapes(t *testing.T) {
	valid := func() *Weights {
		return &Weights{
			Activation:  "relu",
			TargetScale: 1,
			Layers: []LayerWeights{
				{In: 2, Out: 2, W: []float64{1, 0, 0, 1}, B: []float64{0, 0}},
				{In: 2, Out: 1, W: []float64{1, 1}, B: []float64{0}},
			},
		}
	}
	if _, err := NewMLPRegressorFromWeights(valid()); err != nil {
		t.Fatalf("valid weights rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(w *Weights)
	}{
		{"nil layers", func(w *Weights) { w.Layers = nil }},
		{"activation", func(w *Weights) { w.Activation = "tanh" }},
		{"zero target scale", func(w *Weights) { w.TargetScale = 0 }},
		{"broken chain", func(w *Weights) { w.Layers[1].In = 3; w.Layers[1].W = []float64{1, 1, 1} }},
		{"short weights", func(w *Weights) { w.Layers[0].W = []float64{1} }},
		{"short biases", func(w *Weights) { w.Layers[0].B = nil }},
		{"two outputs", func(w *Weights) { w.Layers[1].Out = 2; w.Layers[1].W = []float64{1, 1, 1, 1}; w.Layers[1].B = []float64{0, 0} }},
		{"nan weight", func(w *Weights) { w.Layers[0].W[0] = math.NaN() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := valid()
			tt.mutate(w)
			if _, err := NewMLPRegressorFromWeights(w); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestEarlyStopping(t *testing.T) {
	es := NewEarlyStopping(2)
	scores := []float64{1.0, 0.8, 0.9, 0.85}
	for i, s := range scores {
		es.Update(i+1, s)
	}
	if es.BestEpoch != 2 || es.BestScore != 0.8 {
		t.Errorf("best = (%d, %v), want (2, 0.8)", es.BestEpoch, es.BestScore)
	}
	if !es.ShouldStop() {
		t.Error("expected stop after two epochs without improvement")
	}

	disabled := NewEarlyStopping(0)
	for i := 0; i < 5; i++ {
		disabled.Update(i+1, 1.0)
	}
	if disabled.ShouldStop() {
		t.Error("disabled early stopping must never stop")
	}
	if disabled.BestEpoch != 1 {
		t.Errorf("BestEpoch = %d, want 1", disabled.BestEpoch)
	}
}
