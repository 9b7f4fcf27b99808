// Package features turns raw house records into ordered numeric feature
// vectors.
//
// A Codec is built once (fitted during training, or restored from an artifact
// bundle) and is read-only afterwards. The position of every value in the
// vector is taken from the codec's column list, never from struct field or
// JSON key order, so training and serving agree as long as they share the
// persisted column order.
package features

import (
	"fmt"

	"github.com/YuminosukeSato/houseprice/housing"
	"github.com/YuminosukeSato/houseprice/pkg/errors"
	"github.com/YuminosukeSato/houseprice/preprocessing"
	"gonum.org/v1/gonum/mat"
)

// Codec encodes Records into feature vectors in a fixed column order.
type Codec struct {
	columns    []string
	kinds      []housing.ColumnKind
	furnishing *preprocessing.LabelEncoder
}

// NewCodec builds a codec over columns. Names outside the record schema and
// duplicates are rejected. When columns include the furnishing status, a
// fitted label encoder is required.
func NewCodec(columns []string, furnishing *preprocessing.LabelEncoder) (*Codec, error) {
	if len(columns) == 0 {
		return nil, errors.NewValueError("NewCodec", "no feature columns")
	}
	seen := make(map[string]bool, len(columns))
	kinds := make([]housing.ColumnKind, len(columns))
	for i, col := range columns {
		kind, ok := housing.KindOf(col)
		if !ok {
			return nil, errors.NewValidationError("columns", fmt.Sprintf("unknown feature column %q", col), col)
		}
		if seen[col] {
			return nil, errors.NewValidationError("columns", fmt.Sprintf("duplicate feature column %q", col), col)
		}
		seen[col] = true
		kinds[i] = kind
		if kind == housing.KindCategorical && (furnishing == nil || !furnishing.IsFitted()) {
			return nil, errors.NewNotFittedError("LabelEncoder", "NewCodec")
		}
	}
	return &Codec{
		columns:    append([]string(nil), columns...),
		kinds:      kinds,
		furnishing: furnishing,
	}, nil
}

// FitCodec learns the furnishing status vocabulary from records and returns a
// codec over the canonical feature columns.
func FitCodec(records []housing.Record) (*Codec, error) {
	if len(records) == 0 {
		return nil, errors.ErrEmptyData
	}
	values := make([]string, len(records))
	for i, r := range records {
		values[i] = r.FurnishingStatus
	}
	enc := preprocessing.NewLabelEncoder(housing.ColFurnishingStatus)
	if err := enc.Fit(values); err != nil {
		return nil, err
	}
	return NewCodec(housing.FeatureColumns(), enc)
}

// Columns returns a copy of the column order.
func (c *Codec) Columns() []string {
	return append([]string(nil), c.columns...)
}

// Width is the length of every encoded vector.
func (c *Codec) Width() int {
	return len(c.columns)
}

// Furnishing returns the label encoder for the furnishing status column.
func (c *Codec) Furnishing() *preprocessing.LabelEncoder {
	return c.furnishing
}

// Validate checks a record without encoding it: numeric ranges first, then
// every yes/no and categorical value in column order.
func (c *Codec) Validate(r housing.Record) error {
	_, err := c.Encode(r)
	return err
}

// Encode returns the feature vector for r.
func (c *Codec) Encode(r housing.Record) ([]float64, error) {
	if err := r.ValidateNumeric(); err != nil {
		return nil, err
	}

	out := make([]float64, len(c.columns))
	for i, col := range c.columns {
		switch c.kinds[i] {
		case housing.KindNumeric:
			v, _ := r.Numeric(col)
			out[i] = v
		case housing.KindBinary:
			raw, _ := r.Binary(col)
			v, err := preprocessing.EncodeBinary(col, raw)
			if err != nil {
				return nil, err
			}
			out[i] = v
		case housing.KindCategorical:
			code, err := c.furnishing.Encode(r.FurnishingStatus)
			if err != nil {
				return nil, err
			}
			out[i] = float64(code)
		}
	}
	return out, nil
}

// EncodeBatch encodes records into an n × Width matrix. The first invalid
// record aborts the batch with its row index in the error.
func (c *Codec) EncodeBatch(records []housing.Record) (*mat.Dense, error) {
	if len(records) == 0 {
		return nil, errors.ErrEmptyData
	}
	X := mat.NewDense(len(records), len(c.columns), nil)
	for i, r := range records {
		row, err := c.Encode(r)
		if err != nil {
			return nil, errors.Wrapf(err, "record %d", i)
		}
		X.SetRow(i, row)
	}
	return X, nil
}
