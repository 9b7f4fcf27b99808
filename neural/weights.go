package neural

import (
	"fmt"
	"math"

	"github.com/YuminosukeSato/houseprice/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// LayerWeights is one dense layer in serializable form. W is row-major with
// In rows and Out columns.
type LayerWeights struct {
	In  int       `json:"in"`
	Out int       `json:"out"`
	W   []float64 `json:"weights"`
	B   []float64 `json:"biases"`
}

// Weights is everything needed to reproduce a fitted network's forward pass.
type Weights struct {
	Layers      []LayerWeights `json:"layers"`
	Activation  string         `json:"activation"`
	TargetMean  float64        `json:"target_mean"`
	TargetScale float64        `json:"target_scale"`
}

// Weights returns a deep copy of the fitted parameters.
func (m *MLPRegressor) Weights() (*Weights, error) {
	if !m.IsFitted() {
		return nil, errors.NewNotFittedError("MLPRegressor", "Weights")
	}
	w := &Weights{
		Activation:  "relu",
		TargetMean:  m.targetMean,
		TargetScale: m.targetScale,
	}
	for _, l := range m.layers {
		in, out := l.dims()
		data := make([]float64, 0, in*out)
		for i := 0; i < in; i++ {
			data = append(data, l.W.RawRowView(i)...)
		}
		w.Layers = append(w.Layers, LayerWeights{
			In:  in,
			Out: out,
			W:   data,
			B:   append([]float64(nil), l.B...),
		})
	}
	return w, nil
}

// NewMLPRegressorFromWeights restores a fitted network. Layer shapes must
// chain, end in a single output, and hold only finite values. opts may set
// inference settings such as WithNJobs.
func NewMLPRegressorFromWeights(w *Weights, opts ...Option) (*MLPRegressor, error) {
	if w == nil || len(w.Layers) < 2 {
		return nil, errors.NewValueError("NewMLPRegressorFromWeights", "at least one hidden and one output layer required")
	}
	if w.Activation != "relu" {
		return nil, errors.NewValidationError("activation", "unsupported activation", w.Activation)
	}
	if math.IsNaN(w.TargetMean) || math.IsInf(w.TargetMean, 0) {
		return nil, errors.NewValidationError("target_mean", "must be finite", w.TargetMean)
	}
	if !(w.TargetScale > 0) || math.IsInf(w.TargetScale, 0) {
		return nil, errors.NewValidationError("target_scale", "must be positive and finite", w.TargetScale)
	}

	layers := make([]*denseLayer, len(w.Layers))
	hidden := make([]int, 0, len(w.Layers)-1)
	for i, lw := range w.Layers {
		if lw.In <= 0 || lw.Out <= 0 {
			return nil, errors.NewValidationError("layers", fmt.Sprintf("layer %d has non-positive shape %dx%d", i, lw.In, lw.Out), lw.In)
		}
		if i > 0 && lw.In != w.Layers[i-1].Out {
			return nil, errors.NewDimensionError(fmt.Sprintf("NewMLPRegressorFromWeights layer %d", i), w.Layers[i-1].Out, lw.In, 1)
		}
		if len(lw.W) != lw.In*lw.Out {
			return nil, errors.NewDimensionError(fmt.Sprintf("NewMLPRegressorFromWeights layer %d weights", i), lw.In*lw.Out, len(lw.W), 0)
		}
		if len(lw.B) != lw.Out {
			return nil, errors.NewDimensionError(fmt.Sprintf("NewMLPRegressorFromWeights layer %d biases", i), lw.Out, len(lw.B), 0)
		}
		if err := errors.CheckNumericalStability(fmt.Sprintf("layer %d weights", i), lw.W, 0); err != nil {
			return nil, err
		}
		if err := errors.CheckNumericalStability(fmt.Sprintf("layer %d biases", i), lw.B, 0); err != nil {
			return nil, err
		}
		layers[i] = &denseLayer{
			W: mat.NewDense(lw.In, lw.Out, append([]float64(nil), lw.W...)),
			B: append([]float64(nil), lw.B...),
		}
		if i < len(w.Layers)-1 {
			hidden = append(hidden, lw.Out)
		}
	}
	if last := w.Layers[len(w.Layers)-1]; last.Out != 1 {
		return nil, errors.NewDimensionError("NewMLPRegressorFromWeights output", 1, last.Out, 1)
	}

	m := NewMLPRegressor(opts...)
	m.hiddenLayers = hidden
	m.layers = layers
	m.targetMean = w.TargetMean
	m.targetScale = w.TargetScale
	m.SetFitted(w.Layers[0].In)
	return m, nil
}
