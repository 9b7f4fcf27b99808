package neural

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// denseLayer is a fully connected layer y = xW + b. W is in × out.
type denseLayer struct {
	W *mat.Dense
	B []float64
}

// newGlorotLayer initializes W from U(-limit, limit) with
// limit = sqrt(6 / (fan_in + fan_out)) and zero biases.
func newGlorotLayer(in, out int, rng *rand.Rand) *denseLayer {
	limit := math.Sqrt(6.0 / float64(in+out))
	data := make([]float64, in*out)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
	return &denseLayer{
		W: mat.NewDense(in, out, data),
		B: make([]float64, out),
	}
}

func (l *denseLayer) dims() (in, out int) {
	return l.W.Dims()
}

func (l *denseLayer) clone() *denseLayer {
	return &denseLayer{
		W: mat.DenseCopyOf(l.W),
		B: append([]float64(nil), l.B...),
	}
}

// forwardRow computes xW + b for one row with a fixed summation order.
func (l *denseLayer) forwardRow(x []float64) []float64 {
	in, out := l.dims()
	raw := l.W.RawMatrix()
	y := make([]float64, out)
	copy(y, l.B)
	for i := 0; i < in; i++ {
		xi := x[i]
		row := raw.Data[i*raw.Stride : i*raw.Stride+out]
		for j, w := range row {
			y[j] += xi * w
		}
	}
	return y
}

// forwardBatch computes XW + b for a batch.
func (l *denseLayer) forwardBatch(X *mat.Dense) *mat.Dense {
	n, _ := X.Dims()
	_, out := l.dims()
	Z := mat.NewDense(n, out, nil)
	Z.Mul(X, l.W)
	for i := 0; i < n; i++ {
		row := Z.RawRowView(i)
		for j := range row {
			row[j] += l.B[j]
		}
	}
	return Z
}

func relu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}
