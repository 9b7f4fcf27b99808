package housing

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/YuminosukeSato/houseprice/pkg/errors"
)

// rawRecord mirrors Record with pointers so that absent fields can be told
// apart from zero values.
type rawRecord struct {
	Area             *float64 `json:"area"`
	Bedrooms         *int     `json:"bedrooms"`
	Bathrooms        *int     `json:"bathrooms"`
	Stories          *int     `json:"stories"`
	MainRoad         *string  `json:"mainroad"`
	GuestRoom        *string  `json:"guestroom"`
	Basement         *string  `json:"basement"`
	HotWaterHeating  *string  `json:"hotwaterheating"`
	AirConditioning  *string  `json:"airconditioning"`
	Parking          *int     `json:"parking"`
	PrefArea         *string  `json:"prefarea"`
	FurnishingStatus *string  `json:"furnishingstatus"`
}

// DecodeRecord strictly decodes one JSON object into a Record. Unknown
// fields, missing fields, wrong JSON types (a number for a yes/no field, a
// fraction for a count) and trailing data all fail with MalformedInputError.
func DecodeRecord(r io.Reader) (Record, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var raw rawRecord
	if err := dec.Decode(&raw); err != nil {
		return Record{}, translateDecodeError(err)
	}
	if dec.More() {
		return Record{}, errors.NewMalformedInputError("", "request body must contain a single JSON object")
	}

	missing := func(col string) error {
		return errors.NewMalformedInputError(col, "field required")
	}
	switch {
	case raw.Area == nil:
		return Record{}, missing(ColArea)
	case raw.Bedrooms == nil:
		return Record{}, missing(ColBedrooms)
	case raw.Bathrooms == nil:
		return Record{}, missing(ColBathrooms)
	case raw.Stories == nil:
		return Record{}, missing(ColStories)
	case raw.MainRoad == nil:
		return Record{}, missing(ColMainRoad)
	case raw.GuestRoom == nil:
		return Record{}, missing(ColGuestRoom)
	case raw.Basement == nil:
		return Record{}, missing(ColBasement)
	case raw.HotWaterHeating == nil:
		return Record{}, missing(ColHotWaterHeating)
	case raw.AirConditioning == nil:
		return Record{}, missing(ColAirConditioning)
	case raw.Parking == nil:
		return Record{}, missing(ColParking)
	case raw.PrefArea == nil:
		return Record{}, missing(ColPrefArea)
	case raw.FurnishingStatus == nil:
		return Record{}, missing(ColFurnishingStatus)
	}

	return Record{
		Area:             *raw.Area,
		Bedrooms:         *raw.Bedrooms,
		Bathrooms:        *raw.Bathrooms,
		Stories:          *raw.Stories,
		MainRoad:         *raw.MainRoad,
		GuestRoom:        *raw.GuestRoom,
		Basement:         *raw.Basement,
		HotWaterHeating:  *raw.HotWaterHeating,
		AirConditioning:  *raw.AirConditioning,
		Parking:          *raw.Parking,
		PrefArea:         *raw.PrefArea,
		FurnishingStatus: *raw.FurnishingStatus,
	}, nil
}

func translateDecodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return errors.NewMalformedInputError(typeErr.Field,
			fmt.Sprintf("expected %s, got JSON %s", typeErr.Type, typeErr.Value))
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return errors.NewMalformedInputError("", fmt.Sprintf("invalid JSON at offset %d", syntaxErr.Offset))
	}
	if err == io.EOF {
		return errors.NewMalformedInputError("", "empty request body")
	}
	// encoding/json reports unknown fields as `json: unknown field "x"`.
	if msg := err.Error(); strings.HasPrefix(msg, "json: unknown field ") {
		field := strings.Trim(strings.TrimPrefix(msg, "json: unknown field "), `"`)
		return errors.NewMalformedInputError(field, "unknown field")
	}
	return errors.NewMalformedInputError("", err.Error())
}
