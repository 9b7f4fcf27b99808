// Package linear provides an ordinary least squares regressor. The training
// pipeline fits it on the same scaled features as the network and reports
// its test error as a baseline.
package linear

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/houseprice/core/model"
	"github.com/YuminosukeSato/houseprice/core/parallel"
	"github.com/YuminosukeSato/houseprice/pkg/errors"
)

var (
	_ model.Regressor       = (*LinearRegression)(nil)
	_ model.ParameterGetter = (*LinearRegression)(nil)
)

// LinearRegression は線形回帰モデル
type LinearRegression struct {
	model.BaseEstimator

	alpha     float64
	weights   []float64
	intercept float64
}

// NewLinearRegression は新しい線形回帰モデルを作成する
func NewLinearRegression(opts ...Option) *LinearRegression {
	lr := &LinearRegression{}
	for _, opt := range opts {
		opt(lr)
	}
	return lr
}

// Fit はモデルを訓練データで学習させる
// 正規方程式 w = (X^T X + αI)^(-1) X^T y を使用（切片には正則化をかけない）
func (lr *LinearRegression) Fit(X, y mat.Matrix) error {
	r, c := X.Dims()
	ry, cy := y.Dims()

	if r == 0 || c == 0 {
		return errors.NewModelError("LinearRegression.Fit", "empty data", errors.ErrEmptyData)
	}
	if ry != r {
		return errors.NewDimensionError("LinearRegression.Fit", r, ry, 0)
	}
	if cy != 1 {
		return errors.NewValueError("LinearRegression.Fit", "y must be a column vector")
	}
	if lr.alpha < 0 {
		return errors.NewValidationError("alpha", "must not be negative", lr.alpha)
	}

	// 切片項のために X に 1 の列を追加
	XWithIntercept := mat.NewDense(r, c+1, nil)

	// 並列処理の閾値（この値以下の行数では逐次処理を使用）
	const parallelThreshold = 1000

	parallel.ParallelizeWithThreshold(r, parallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			XWithIntercept.Set(i, 0, 1.0)
			for j := 0; j < c; j++ {
				XWithIntercept.Set(i, j+1, X.At(i, j))
			}
		}
	})

	var XTX mat.Dense
	XTX.Mul(XWithIntercept.T(), XWithIntercept)
	for j := 1; j <= c; j++ {
		XTX.Set(j, j, XTX.At(j, j)+lr.alpha)
	}

	var XTXInv mat.Dense
	if err := XTXInv.Inverse(&XTX); err != nil {
		return errors.NewModelError("LinearRegression.Fit", "singular matrix", errors.ErrSingularMatrix)
	}

	yVec := mat.NewVecDense(r, nil)
	for i := 0; i < r; i++ {
		yVec.SetVec(i, y.At(i, 0))
	}

	var XTy mat.VecDense
	XTy.MulVec(XWithIntercept.T(), yVec)

	var w mat.VecDense
	w.MulVec(&XTXInv, &XTy)
	if err := errors.CheckNumericalStability("LinearRegression.Fit", w.RawVector().Data, 0); err != nil {
		return err
	}

	lr.intercept = w.AtVec(0)
	lr.weights = make([]float64, c)
	for i := range lr.weights {
		lr.weights[i] = w.AtVec(i + 1)
	}
	lr.SetFitted(c)
	return nil
}

// PredictRow は1行分の予測を行う
func (lr *LinearRegression) PredictRow(x []float64) (float64, error) {
	if !lr.IsFitted() {
		return 0, errors.NewNotFittedError("LinearRegression", "PredictRow")
	}
	if len(x) != lr.NFeatures() {
		return 0, errors.NewDimensionError("LinearRegression.PredictRow", lr.NFeatures(), len(x), 1)
	}
	pred := lr.intercept
	for j, v := range x {
		pred += v * lr.weights[j]
	}
	return pred, nil
}

// Predict は入力データに対する予測を行う（n×1 行列）
func (lr *LinearRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	if !lr.IsFitted() {
		return nil, errors.NewNotFittedError("LinearRegression", "Predict")
	}
	r, c := X.Dims()
	if c != lr.NFeatures() {
		return nil, errors.NewDimensionError("LinearRegression.Predict", lr.NFeatures(), c, 1)
	}

	predictions := mat.NewDense(r, 1, nil)
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(row, i, X)
		pred, _ := lr.PredictRow(row)
		predictions.Set(i, 0, pred)
	}
	return predictions, nil
}

// Coefficients は学習された重み（係数）のコピーを返す
func (lr *LinearRegression) Coefficients() []float64 {
	return append([]float64(nil), lr.weights...)
}

// Intercept は学習された切片を返す
func (lr *LinearRegression) Intercept() float64 {
	return lr.intercept
}

// GetParams はハイパーパラメータを返す
func (lr *LinearRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{"alpha": lr.alpha}
}

func (lr *LinearRegression) String() string {
	if !lr.IsFitted() {
		return fmt.Sprintf("LinearRegression(alpha=%g)", lr.alpha)
	}
	return fmt.Sprintf("LinearRegression(alpha=%g, n_features=%d)", lr.alpha, lr.NFeatures())
}
