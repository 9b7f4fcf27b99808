package linear

import (
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/houseprice/pkg/errors"
)

// linearData は y = 1 + Σ (j+1)/2 · x_j + 小さなノイズ のデータを生成する
func linearData(rows, cols int, noise float64) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewPCG(42, 42))
	X := mat.NewDense(rows, cols, nil)
	y := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		sum := 1.0
		for j := 0; j < cols; j++ {
			v := rng.Float64()*2.0 - 1.0
			X.Set(i, j, v)
			sum += v * float64(j+1) * 0.5
		}
		sum += (rng.Float64() - 0.5) * noise
		y.Set(i, 0, sum)
	}
	return X, y
}

func TestLinearRegressionRecoversCoefficients(t *testing.T) {
	X, y := linearData(200, 3, 0)
	lr := NewLinearRegression()
	if err := lr.Fit(X, y); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	if math.Abs(lr.Intercept()-1) > 1e-8 {
		t.Errorf("Intercept = %v, want 1", lr.Intercept())
	}
	for j, w := range lr.Coefficients() {
		want := float64(j+1) * 0.5
		if math.Abs(w-want) > 1e-8 {
			t.Errorf("Coefficients[%d] = %v, want %v", j, w, want)
		}
	}
	if lr.NFeatures() != 3 {
		t.Errorf("NFeatures = %d", lr.NFeatures())
	}
}

func TestLinearRegressionPredictMatchesRow(t *testing.T) {
	X, y := linearData(50, 4, 0.1)
	lr := NewLinearRegression(WithAlpha(0.5))
	if err := lr.Fit(X, y); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	pred, err := lr.Predict(X)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	for i := 0; i < 50; i++ {
		got, err := lr.PredictRow(mat.Row(nil, i, X))
		if err != nil {
			t.Fatal(err)
		}
		if got != pred.At(i, 0) {
			t.Fatalf("row %d: PredictRow %v != Predict %v", i, got, pred.At(i, 0))
		}
	}
}

func TestLinearRegressionRidgeShrinks(t *testing.T) {
	X, y := linearData(100, 2, 0.1)
	ols := NewLinearRegression()
	ridge := NewLinearRegression(WithAlpha(1000))
	if err := ols.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if err := ridge.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	for j := range ols.Coefficients() {
		if math.Abs(ridge.Coefficients()[j]) >= math.Abs(ols.Coefficients()[j]) {
			t.Errorf("coefficient %d not shrunk: ridge %v, ols %v", j, ridge.Coefficients()[j], ols.Coefficients()[j])
		}
	}
}

func TestLinearRegressionErrors(t *testing.T) {
	tests := []struct {
		name string
		run  func() error
		is   error
	}{
		{
			name: "empty",
			run: func() error {
				return NewLinearRegression().Fit(&mat.Dense{}, &mat.Dense{})
			},
			is: errors.ErrEmptyData,
		},
		{
			name: "singular",
			run: func() error {
				// 2列目が1列目と同一
				X := mat.NewDense(4, 2, []float64{1, 1, 2, 2, 3, 3, 4, 4})
				y := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
				return NewLinearRegression().Fit(X, y)
			},
			is: errors.ErrSingularMatrix,
		},
		{
			name: "row mismatch",
			run: func() error {
				return NewLinearRegression().Fit(mat.NewDense(3, 1, nil), mat.NewDense(2, 1, nil))
			},
		},
		{
			name: "not fitted",
			run: func() error {
				_, err := NewLinearRegression().PredictRow([]float64{1})
				return err
			},
		},
		{
			name: "negative alpha",
			run: func() error {
				X, y := linearData(10, 1, 0)
				return NewLinearRegression(WithAlpha(-1)).Fit(X, y)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("error %v is not %v", err, tt.is)
			}
		})
	}
}

// BenchmarkLinearRegressionFit はFitメソッドのベンチマークを実行する
func BenchmarkLinearRegressionFit(b *testing.B) {
	sizes := []struct {
		name string
		rows int
		cols int
	}{
		{"Small_500x12", 500, 12},
		{"Medium_2000x12", 2000, 12}, // 並列処理の閾値を超える
		{"Large_10000x20", 10000, 20},
	}

	for _, size := range sizes {
		b.Run(size.name, func(b *testing.B) {
			X, y := linearData(size.rows, size.cols, 0.1)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := NewLinearRegression().Fit(X, y); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
