package neural

import "math"

// adam holds the first and second moment estimates for every parameter of
// the network, laid out layer by layer (weights then biases).
type adam struct {
	lr, beta1, beta2, eps float64

	step int
	m    [][]float64
	v    [][]float64
}

func newAdam(layers []*denseLayer, lr, beta1, beta2, eps float64) *adam {
	a := &adam{lr: lr, beta1: beta1, beta2: beta2, eps: eps}
	for _, l := range layers {
		in, out := l.dims()
		a.m = append(a.m, make([]float64, in*out), make([]float64, out))
		a.v = append(a.v, make([]float64, in*out), make([]float64, out))
	}
	return a
}

// update applies one Adam step. grads follows the same layout as m and v.
func (a *adam) update(layers []*denseLayer, grads [][]float64) {
	a.step++
	t := float64(a.step)
	lrT := a.lr * math.Sqrt(1-math.Pow(a.beta2, t)) / (1 - math.Pow(a.beta1, t))

	for li, l := range layers {
		params := [][]float64{l.W.RawMatrix().Data, l.B}
		for k, p := range params {
			idx := 2*li + k
			g := grads[idx]
			m := a.m[idx]
			v := a.v[idx]
			for i := range p {
				m[i] = a.beta1*m[i] + (1-a.beta1)*g[i]
				v[i] = a.beta2*v[i] + (1-a.beta2)*g[i]*g[i]
				p[i] -= lrT * m[i] / (math.Sqrt(v[i]) + a.eps)
			}
		}
	}
}
