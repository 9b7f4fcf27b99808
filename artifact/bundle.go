// Package artifact persists and restores the artifact bundle shared by the
// training and serving processes: the fitted model, the feature scaler, the
// label encoding, the feature column order and the run metadata.
//
// Bundles are immutable once written. A Store keeps every bundle in its own
// versioned directory and switches the CURRENT pointer atomically, so a
// reader always sees either the previous bundle or the new one in full.
package artifact

import (
	"fmt"
	"time"

	"github.com/YuminosukeSato/houseprice/features"
	"github.com/YuminosukeSato/houseprice/neural"
	"github.com/YuminosukeSato/houseprice/pkg/errors"
	"github.com/YuminosukeSato/houseprice/preprocessing"
)

// Defaults written into Metadata when a field is left empty.
const (
	DefaultVersion   = "1.0.0"
	DefaultAlgorithm = "Neural Network Regression"
)

// Metrics are the evaluation results recorded for a training run.
type Metrics struct {
	TrainRMSE float64 `json:"train_rmse"`
	TestRMSE  float64 `json:"test_rmse"`
	TrainMAE  float64 `json:"train_mae"`
	TestMAE   float64 `json:"test_mae"`
	TrainR2   float64 `json:"train_r2"`
	TestR2    float64 `json:"test_r2"`
}

// Baseline is the test error of a linear model fitted on the same features.
type Baseline struct {
	Algorithm string  `json:"algorithm"`
	TestRMSE  float64 `json:"test_rmse"`
	TestMAE   float64 `json:"test_mae"`
	TestR2    float64 `json:"test_r2"`
}

// DatasetSizes records how many rows went into each partition.
type DatasetSizes struct {
	Total      int `json:"total"`
	Train      int `json:"train"`
	Validation int `json:"validation"`
	Test       int `json:"test"`
}

// Metadata describes a bundle. It is persisted as model_metrics.json.
type Metadata struct {
	SchemaVersion           int                    `json:"schema_version"`
	Version                 string                 `json:"version"`
	BundleID                string                 `json:"bundle_id"`
	TrainedDate             time.Time              `json:"trained_date"`
	Algorithm               string                 `json:"algorithm"`
	InputFeatures           []string               `json:"input_features"`
	FurnishingStatusMapping map[string]int         `json:"furnishing_status_mapping"`
	Metrics                 Metrics                `json:"metrics"`
	Baseline                *Baseline              `json:"baseline,omitempty"`
	EpochsRun               int                    `json:"epochs_run"`
	BestEpoch               int                    `json:"best_epoch"`
	Hyperparameters         map[string]interface{} `json:"hyperparameters,omitempty"`
	Dataset                 DatasetSizes           `json:"dataset"`
}

// Bundle is everything the inference side needs to reproduce training-time
// transforms and predictions.
type Bundle struct {
	Codec    *features.Codec
	Scaler   *preprocessing.StandardScaler
	Model    *neural.MLPRegressor
	Metadata Metadata

	// HistoryPlot is an optional PNG of the training loss curves.
	HistoryPlot []byte

	// Dir is the directory the bundle was loaded from or saved to.
	Dir string
}

// Validate checks that the codec, scaler and model agree on the feature
// width and that the metadata column list matches the codec.
func (b *Bundle) Validate() error {
	if b == nil || b.Codec == nil || b.Scaler == nil || b.Model == nil {
		return errors.NewValueError("Bundle.Validate", "codec, scaler and model are required")
	}
	if !b.Scaler.IsFitted() {
		return errors.NewNotFittedError("StandardScaler", "Bundle.Validate")
	}
	if !b.Model.IsFitted() {
		return errors.NewNotFittedError("MLPRegressor", "Bundle.Validate")
	}

	width := b.Codec.Width()
	if b.Scaler.NFeatures() != width {
		return errors.NewDimensionError("Bundle.Validate scaler", width, b.Scaler.NFeatures(), 1)
	}
	if b.Model.NFeatures() != width {
		return errors.NewDimensionError("Bundle.Validate model", width, b.Model.NFeatures(), 1)
	}
	if cols := b.Metadata.InputFeatures; len(cols) > 0 {
		if err := sameColumns(b.Codec.Columns(), cols); err != nil {
			return errors.Wrap(err, "metadata input_features")
		}
	}
	return nil
}

func sameColumns(want, got []string) error {
	if len(want) != len(got) {
		return errors.NewDimensionError("columns", len(want), len(got), 1)
	}
	for i := range want {
		if want[i] != got[i] {
			return errors.NewValueError("columns", fmt.Sprintf("position %d is %q, want %q", i, got[i], want[i]))
		}
	}
	return nil
}
