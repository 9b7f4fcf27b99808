package model

import "gonum.org/v1/gonum/mat"

// Fitter は学習可能なモデルのインターフェース
type Fitter interface {
	// Fit はモデルを訓練データで学習させる
	Fit(X, y mat.Matrix) error
}

// Predictor は予測可能なモデルのインターフェース
type Predictor interface {
	// Predict は入力データに対する予測を行う（n×1 行列を返す）
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// RowPredictor は単一行の推論を行うモデルのインターフェース。
// バッチ推論と同じ計算経路を通ることを保証する。
type RowPredictor interface {
	PredictRow(x []float64) (float64, error)
}
