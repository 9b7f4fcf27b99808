// Package artifacttest builds small fitted bundles for tests.
package artifacttest

import (
	"testing"

	"github.com/YuminosukeSato/houseprice/artifact"
	"github.com/YuminosukeSato/houseprice/features"
	"github.com/YuminosukeSato/houseprice/housing"
	"github.com/YuminosukeSato/houseprice/housing/housingtest"
	"github.com/YuminosukeSato/houseprice/neural"
	"github.com/YuminosukeSato/houseprice/pkg/log"
	"github.com/YuminosukeSato/houseprice/preprocessing"
	"gonum.org/v1/gonum/mat"
)

// NewBundle fits a codec, a scaler and a small network on synthetic data.
// opts are applied after the small-network defaults.
func NewBundle(t testing.TB, opts ...neural.Option) *artifact.Bundle {
	t.Helper()
	examples := housingtest.Synthetic(60, 1)
	records := housing.Records(examples)

	codec, err := features.FitCodec(records)
	if err != nil {
		t.Fatalf("fit codec: %v", err)
	}
	X, err := codec.EncodeBatch(records)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	scaler := preprocessing.NewStandardScaler()
	Xs, err := scaler.FitTransform(X)
	if err != nil {
		t.Fatalf("fit scaler: %v", err)
	}

	quiet, _ := log.NewTestLogger(log.LevelError)
	model := neural.NewMLPRegressor(append([]neural.Option{
		neural.WithHiddenLayers(8, 4),
		neural.WithDropout(),
		neural.WithMaxEpochs(3),
		neural.WithPatience(0),
		neural.WithLearningRate(0.01),
		neural.WithLogger(quiet),
	}, opts...)...)
	prices := housing.Prices(examples)
	if err := model.Fit(Xs, mat.NewDense(len(prices), 1, prices)); err != nil {
		t.Fatalf("fit model: %v", err)
	}

	return &artifact.Bundle{
		Codec:  codec,
		Scaler: scaler,
		Model:  model,
		Metadata: artifact.Metadata{
			Metrics:   artifact.Metrics{TrainRMSE: 1, TestRMSE: 2, TrainMAE: 1, TestMAE: 2, TrainR2: 0.5, TestR2: 0.4},
			EpochsRun: 3,
			BestEpoch: 3,
			Dataset:   artifact.DatasetSizes{Total: 60, Train: 60},
		},
	}
}

// SaveBundle publishes NewBundle into a store rooted at a temp directory.
func SaveBundle(t testing.TB) (*artifact.Store, *artifact.Bundle) {
	t.Helper()
	quiet, _ := log.NewTestLogger(log.LevelError)
	store := artifact.NewStore(t.TempDir(), artifact.WithStoreLogger(quiet))
	b := NewBundle(t)
	if _, err := store.Save(b); err != nil {
		t.Fatalf("save bundle: %v", err)
	}
	return store, b
}
