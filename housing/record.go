// Package housing declares the raw record schema of a house observation and
// loads labeled datasets from CSV.
//
// Every field's representation is fixed: numeric fields are numbers, the six
// binary amenities are the strings "yes"/"no", and the furnishing status is a
// free string validated later against the vocabulary learned at training time.
package housing

import (
	"math"

	"github.com/YuminosukeSato/houseprice/pkg/errors"
)

// Column names as they appear in the dataset header and in the persisted
// feature column order.
const (
	ColPrice            = "price"
	ColArea             = "area"
	ColBedrooms         = "bedrooms"
	ColBathrooms        = "bathrooms"
	ColStories          = "stories"
	ColMainRoad         = "mainroad"
	ColGuestRoom        = "guestroom"
	ColBasement         = "basement"
	ColHotWaterHeating  = "hotwaterheating"
	ColAirConditioning  = "airconditioning"
	ColParking          = "parking"
	ColPrefArea         = "prefarea"
	ColFurnishingStatus = "furnishingstatus"
)

// FeatureColumns returns the dataset's feature columns (every column except
// the label) in header order. This is the order a training run records.
func FeatureColumns() []string {
	return []string{
		ColArea, ColBedrooms, ColBathrooms, ColStories,
		ColMainRoad, ColGuestRoom, ColBasement, ColHotWaterHeating, ColAirConditioning,
		ColParking, ColPrefArea, ColFurnishingStatus,
	}
}

// BinaryColumns returns the yes/no amenity columns.
func BinaryColumns() []string {
	return []string{
		ColMainRoad, ColGuestRoom, ColBasement,
		ColHotWaterHeating, ColAirConditioning, ColPrefArea,
	}
}

// ColumnKind tells how a column is represented in a Record.
type ColumnKind int

const (
	KindNumeric ColumnKind = iota
	KindBinary
	KindCategorical
)

// KindOf reports the representation of a feature column. ok is false for
// names outside the schema.
func KindOf(col string) (kind ColumnKind, ok bool) {
	switch col {
	case ColArea, ColBedrooms, ColBathrooms, ColStories, ColParking:
		return KindNumeric, true
	case ColMainRoad, ColGuestRoom, ColBasement, ColHotWaterHeating, ColAirConditioning, ColPrefArea:
		return KindBinary, true
	case ColFurnishingStatus:
		return KindCategorical, true
	default:
		return 0, false
	}
}

// Record is one house observation before any encoding.
type Record struct {
	Area             float64 `json:"area"`
	Bedrooms         int     `json:"bedrooms"`
	Bathrooms        int     `json:"bathrooms"`
	Stories          int     `json:"stories"`
	MainRoad         string  `json:"mainroad"`
	GuestRoom        string  `json:"guestroom"`
	Basement         string  `json:"basement"`
	HotWaterHeating  string  `json:"hotwaterheating"`
	AirConditioning  string  `json:"airconditioning"`
	Parking          int     `json:"parking"`
	PrefArea         string  `json:"prefarea"`
	FurnishingStatus string  `json:"furnishingstatus"`
}

// Example is a Record with its observed price.
type Example struct {
	Record
	Price float64 `json:"price"`
}

// Numeric returns a numeric field as float64.
func (r Record) Numeric(col string) (float64, bool) {
	switch col {
	case ColArea:
		return r.Area, true
	case ColBedrooms:
		return float64(r.Bedrooms), true
	case ColBathrooms:
		return float64(r.Bathrooms), true
	case ColStories:
		return float64(r.Stories), true
	case ColParking:
		return float64(r.Parking), true
	default:
		return 0, false
	}
}

// Binary returns the raw string of a yes/no field.
func (r Record) Binary(col string) (string, bool) {
	switch col {
	case ColMainRoad:
		return r.MainRoad, true
	case ColGuestRoom:
		return r.GuestRoom, true
	case ColBasement:
		return r.Basement, true
	case ColHotWaterHeating:
		return r.HotWaterHeating, true
	case ColAirConditioning:
		return r.AirConditioning, true
	case ColPrefArea:
		return r.PrefArea, true
	default:
		return "", false
	}
}

// ValidateNumeric rejects non-finite or negative numeric fields.
func (r Record) ValidateNumeric() error {
	if math.IsNaN(r.Area) || math.IsInf(r.Area, 0) {
		return errors.NewMalformedInputError(ColArea, "must be a finite number")
	}
	if r.Area < 0 {
		return errors.NewMalformedInputError(ColArea, "must not be negative")
	}
	counts := []struct {
		col string
		v   int
	}{
		{ColBedrooms, r.Bedrooms},
		{ColBathrooms, r.Bathrooms},
		{ColStories, r.Stories},
		{ColParking, r.Parking},
	}
	for _, c := range counts {
		if c.v < 0 {
			return errors.NewMalformedInputError(c.col, "must not be negative")
		}
	}
	return nil
}
