// Package housingtest generates deterministic synthetic housing data for tests.
package housingtest

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/YuminosukeSato/houseprice/housing"
)

// FurnishingStatuses is the vocabulary used by Synthetic.
var FurnishingStatuses = []string{"furnished", "semi-furnished", "unfurnished"}

// Synthetic returns n examples whose price is a noisy linear function of the
// features, shaped like the public housing dataset.
func Synthetic(n int, seed int64) []housing.Example {
	rng := rand.New(rand.NewSource(seed))
	yesNo := func(p float64) string {
		if rng.Float64() < p {
			return "yes"
		}
		return "no"
	}

	examples := make([]housing.Example, n)
	for i := range examples {
		rec := housing.Record{
			Area:             float64(1650 + rng.Intn(14000)),
			Bedrooms:         1 + rng.Intn(5),
			Bathrooms:        1 + rng.Intn(3),
			Stories:          1 + rng.Intn(4),
			MainRoad:         yesNo(0.85),
			GuestRoom:        yesNo(0.2),
			Basement:         yesNo(0.35),
			HotWaterHeating:  yesNo(0.05),
			AirConditioning:  yesNo(0.3),
			Parking:          rng.Intn(4),
			PrefArea:         yesNo(0.25),
			FurnishingStatus: FurnishingStatuses[i%len(FurnishingStatuses)],
		}
		price := 1_500_000 +
			350*rec.Area +
			400_000*float64(rec.Bedrooms) +
			900_000*float64(rec.Bathrooms) +
			450_000*float64(rec.Stories) +
			250_000*float64(rec.Parking)
		if rec.AirConditioning == "yes" {
			price += 800_000
		}
		if rec.PrefArea == "yes" {
			price += 600_000
		}
		if rec.FurnishingStatus == "unfurnished" {
			price -= 400_000
		}
		price += rng.NormFloat64() * 150_000
		examples[i] = housing.Example{Record: rec, Price: price}
	}
	return examples
}

// WriteDataset writes Synthetic(n, seed) to a CSV file in a temp dir and
// returns its path.
func WriteDataset(t testing.TB, n int, seed int64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Housing.csv")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create dataset: %v", err)
	}
	defer f.Close()
	if err := housing.WriteCSV(f, Synthetic(n, seed)); err != nil {
		t.Fatalf("write dataset: %v", err)
	}
	return path
}

// Record returns a valid request record.
func Record() housing.Record {
	return housing.Record{
		Area:             7420,
		Bedrooms:         4,
		Bathrooms:        2,
		Stories:          3,
		MainRoad:         "yes",
		GuestRoom:        "no",
		Basement:         "no",
		HotWaterHeating:  "no",
		AirConditioning:  "yes",
		Parking:          2,
		PrefArea:         "yes",
		FurnishingStatus: "furnished",
	}
}
