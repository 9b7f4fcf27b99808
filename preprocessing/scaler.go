package preprocessing

import (
	"fmt"
	"math"

	"github.com/YuminosukeSato/houseprice/core/model"
	"github.com/YuminosukeSato/houseprice/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// zeroStdThreshold 未満の標準偏差は定数列とみなし、スケールを1.0にする
const zeroStdThreshold = 1e-8

var (
	_ model.Transformer    = (*StandardScaler)(nil)
	_ model.RowTransformer = (*StandardScaler)(nil)
)

// StandardScaler は特徴量ごとに平均0・分散1へ標準化するスケーラー。
// 標準偏差は母標準偏差（nで割る）を用いる。
//
// 学習後のパラメータは読み取り専用として扱われ、Transform と TransformRow は
// 同じ行に対してビット単位で同一の結果を返す。
type StandardScaler struct {
	model.BaseEstimator

	// Mean は各特徴量の平均値
	Mean []float64

	// Scale は各特徴量の標準偏差（定数列は1.0）
	Scale []float64
}

// ScalerParams は永続化用のスケーラーパラメータ
type ScalerParams struct {
	Mean  []float64
	Scale []float64
}

// NewStandardScaler は未学習のStandardScalerを作成する
//
// 使用例:
//
//	scaler := preprocessing.NewStandardScaler()
//	err := scaler.Fit(X)
//	XScaled, err := scaler.Transform(X)
func NewStandardScaler() *StandardScaler {
	return &StandardScaler{}
}

// NewStandardScalerFromParams は保存済みのパラメータから学習済みスケーラーを復元する。
// 長さの不一致、非有限値、非正のスケールはエラーになる。
func NewStandardScalerFromParams(mean, scale []float64) (*StandardScaler, error) {
	if len(mean) == 0 {
		return nil, errors.NewValueError("NewStandardScalerFromParams", "empty parameters")
	}
	if len(mean) != len(scale) {
		return nil, errors.NewDimensionError("NewStandardScalerFromParams", len(mean), len(scale), 1)
	}
	for j := range mean {
		if math.IsNaN(mean[j]) || math.IsInf(mean[j], 0) {
			return nil, errors.NewValidationError("mean", fmt.Sprintf("non-finite value at index %d", j), mean[j])
		}
		if !(scale[j] > 0) || math.IsInf(scale[j], 0) {
			return nil, errors.NewValidationError("scale", fmt.Sprintf("must be positive and finite at index %d", j), scale[j])
		}
	}

	s := &StandardScaler{
		Mean:  append([]float64(nil), mean...),
		Scale: append([]float64(nil), scale...),
	}
	s.SetFitted(len(mean))
	return s, nil
}

// Fit は訓練データから各列の平均と標準偏差を計算する
//
// パラメータ:
//   - X: 訓練データ (n_samples × n_features の行列)
func (s *StandardScaler) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("StandardScaler.Fit", "empty data", errors.ErrEmptyData)
	}

	mean := make([]float64, c)
	scale := make([]float64, c)

	for j := 0; j < c; j++ {
		sum := 0.0
		for i := 0; i < r; i++ {
			v := X.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.NewValidationError("X", fmt.Sprintf("non-finite value at (%d, %d)", i, j), v)
			}
			sum += v
		}
		mean[j] = sum / float64(r)
	}

	for j := 0; j < c; j++ {
		sumSquares := 0.0
		for i := 0; i < r; i++ {
			diff := X.At(i, j) - mean[j]
			sumSquares += diff * diff
		}
		scale[j] = math.Sqrt(sumSquares / float64(r))

		// 定数列は中心化のみ行う
		if math.Abs(scale[j]) < zeroStdThreshold {
			scale[j] = 1.0
		}
	}

	s.Mean = mean
	s.Scale = scale
	s.SetFitted(c)
	return nil
}

// TransformRow は1行を標準化する。入力スライスは変更しない。
func (s *StandardScaler) TransformRow(x []float64) ([]float64, error) {
	if !s.IsFitted() {
		return nil, errors.NewNotFittedError("StandardScaler", "TransformRow")
	}
	if len(x) != s.NFeatures() {
		return nil, errors.NewDimensionError("StandardScaler.TransformRow", s.NFeatures(), len(x), 1)
	}

	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out, nil
}

// Transform は学習済みの統計情報を使ってデータを標準化する。
// 各行は TransformRow と同じ式で計算される。
func (s *StandardScaler) Transform(X mat.Matrix) (mat.Matrix, error) {
	if !s.IsFitted() {
		return nil, errors.NewNotFittedError("StandardScaler", "Transform")
	}

	r, c := X.Dims()
	if c != s.NFeatures() {
		return nil, errors.NewDimensionError("StandardScaler.Transform", s.NFeatures(), c, 1)
	}

	result := mat.NewDense(r, c, nil)
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(row, i, X)
		scaled, err := s.TransformRow(row)
		if err != nil {
			return nil, err
		}
		result.SetRow(i, scaled)
	}
	return result, nil
}

// FitTransform は訓練データで学習し、同じデータを変換する
func (s *StandardScaler) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// InverseTransform は標準化されたデータを元のスケールに戻す
func (s *StandardScaler) InverseTransform(X mat.Matrix) (mat.Matrix, error) {
	if !s.IsFitted() {
		return nil, errors.NewNotFittedError("StandardScaler", "InverseTransform")
	}

	r, c := X.Dims()
	if c != s.NFeatures() {
		return nil, errors.NewDimensionError("StandardScaler.InverseTransform", s.NFeatures(), c, 1)
	}

	result := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			result.Set(i, j, X.At(i, j)*s.Scale[j]+s.Mean[j])
		}
	}
	return result, nil
}

// Params は学習済みパラメータのコピーを返す
func (s *StandardScaler) Params() (ScalerParams, error) {
	if !s.IsFitted() {
		return ScalerParams{}, errors.NewNotFittedError("StandardScaler", "Params")
	}
	return ScalerParams{
		Mean:  append([]float64(nil), s.Mean...),
		Scale: append([]float64(nil), s.Scale...),
	}, nil
}

// String はスケーラーの文字列表現を返す
func (s *StandardScaler) String() string {
	if !s.IsFitted() {
		return "StandardScaler()"
	}
	return fmt.Sprintf("StandardScaler(n_features=%d)", s.NFeatures())
}
