package housing

import (
	"encoding/csv"
	"io"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/houseprice/pkg/errors"
)

// LoadCSV reads a labeled dataset. A path that does not exist fails with
// TrainingDataMissingError.
func LoadCSV(path string) ([]Example, error) {
	if err := CheckDataset(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open dataset %s", path)
	}
	defer f.Close()

	examples, err := ReadCSV(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read dataset %s", path)
	}
	return examples, nil
}

// ReadCSV parses a dataset with a header row. Columns may appear in any
// order; extra columns are ignored.
func ReadCSV(r io.Reader) ([]Example, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.ErrEmptyData
	}
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, col := range append([]string{ColPrice}, FeatureColumns()...) {
		if _, ok := index[col]; !ok {
			return nil, errors.NewValueError("ReadCSV", "missing column "+strconv.Quote(col))
		}
	}

	var examples []Example
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		ex, err := parseRow(row, index)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		examples = append(examples, ex)
	}
	if len(examples) == 0 {
		return nil, errors.ErrEmptyData
	}
	return examples, nil
}

func parseRow(row []string, index map[string]int) (Example, error) {
	field := func(col string) string {
		return strings.TrimSpace(row[index[col]])
	}
	float := func(col string) (float64, error) {
		v, err := strconv.ParseFloat(field(col), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, errors.NewMalformedInputError(col, "not a finite number: "+strconv.Quote(field(col)))
		}
		return v, nil
	}
	integer := func(col string) (int, error) {
		v, err := strconv.Atoi(field(col))
		if err != nil {
			return 0, errors.NewMalformedInputError(col, "not an integer: "+strconv.Quote(field(col)))
		}
		return v, nil
	}

	var (
		ex  Example
		err error
	)
	if ex.Price, err = float(ColPrice); err != nil {
		return ex, err
	}
	if ex.Area, err = float(ColArea); err != nil {
		return ex, err
	}
	if ex.Bedrooms, err = integer(ColBedrooms); err != nil {
		return ex, err
	}
	if ex.Bathrooms, err = integer(ColBathrooms); err != nil {
		return ex, err
	}
	if ex.Stories, err = integer(ColStories); err != nil {
		return ex, err
	}
	if ex.Parking, err = integer(ColParking); err != nil {
		return ex, err
	}
	ex.MainRoad = field(ColMainRoad)
	ex.GuestRoom = field(ColGuestRoom)
	ex.Basement = field(ColBasement)
	ex.HotWaterHeating = field(ColHotWaterHeating)
	ex.AirConditioning = field(ColAirConditioning)
	ex.PrefArea = field(ColPrefArea)
	ex.FurnishingStatus = field(ColFurnishingStatus)
	return ex, nil
}

// Split holds the three disjoint partitions used by a training run.
type Split struct {
	Train      []Example
	Validation []Example
	Test       []Example
}

// SplitDataset shuffles examples with a seeded RNG, holds out ceil(n*testFrac)
// rows as the test set, and takes the last valFrac of the remaining shuffled
// rows as the validation set. The same seed always yields the same split.
func SplitDataset(examples []Example, testFrac, valFrac float64, seed int64) (Split, error) {
	if testFrac < 0 || testFrac >= 1 {
		return Split{}, errors.NewValidationError("test_size", "must be in [0, 1)", testFrac)
	}
	if valFrac < 0 || valFrac >= 1 {
		return Split{}, errors.NewValidationError("validation_split", "must be in [0, 1)", valFrac)
	}
	n := len(examples)
	if n == 0 {
		return Split{}, errors.ErrEmptyData
	}

	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(n)
	shuffled := make([]Example, n)
	for i, j := range perm {
		shuffled[i] = examples[j]
	}

	nTest := int(math.Ceil(testFrac * float64(n)))
	rest := shuffled[nTest:]
	splitAt := int(float64(len(rest)) * (1 - valFrac))

	s := Split{
		Test:       shuffled[:nTest],
		Train:      rest[:splitAt],
		Validation: rest[splitAt:],
	}
	if len(s.Train) == 0 {
		return Split{}, errors.NewValueError("SplitDataset", "training partition is empty; dataset too small")
	}
	if valFrac > 0 && len(s.Validation) == 0 {
		return Split{}, errors.NewValueError("SplitDataset", "validation partition is empty; dataset too small")
	}
	return s, nil
}

// Records strips the labels from examples.
func Records(examples []Example) []Record {
	out := make([]Record, len(examples))
	for i, ex := range examples {
		out[i] = ex.Record
	}
	return out
}

// Prices returns the labels of examples in order.
func Prices(examples []Example) []float64 {
	out := make([]float64, len(examples))
	for i, ex := range examples {
		out[i] = ex.Price
	}
	return out
}

// WriteCSV writes examples with a header in the canonical column order.
func WriteCSV(w io.Writer, examples []Example) error {
	cw := csv.NewWriter(w)
	header := append([]string{ColPrice}, FeatureColumns()...)
	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, "write header")
	}
	for _, ex := range examples {
		row := []string{
			strconv.FormatFloat(ex.Price, 'f', -1, 64),
			strconv.FormatFloat(ex.Area, 'f', -1, 64),
			strconv.Itoa(ex.Bedrooms),
			strconv.Itoa(ex.Bathrooms),
			strconv.Itoa(ex.Stories),
			ex.MainRoad,
			ex.GuestRoom,
			ex.Basement,
			ex.HotWaterHeating,
			ex.AirConditioning,
			strconv.Itoa(ex.Parking),
			ex.PrefArea,
			ex.FurnishingStatus,
		}
		if err := cw.Write(row); err != nil {
			return errors.Wrap(err, "write row")
		}
	}
	cw.Flush()
	return cw.Error()
}

// CheckDataset reports a TrainingDataMissingError if path does not name a
// readable regular file.
func CheckDataset(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NewTrainingDataMissingError(path)
		}
		return errors.Wrapf(err, "stat dataset %s", path)
	}
	if info.IsDir() {
		return errors.NewTrainingDataMissingError(path)
	}
	return nil
}
