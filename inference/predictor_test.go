package inference_test

import (
	"context"
	"sync"
	"testing"

	"github.com/YuminosukeSato/houseprice/artifact/artifacttest"
	"github.com/YuminosukeSato/houseprice/housing"
	"github.com/YuminosukeSato/houseprice/housing/housingtest"
	"github.com/YuminosukeSato/houseprice/inference"
	"github.com/YuminosukeSato/houseprice/neural"
	"github.com/YuminosukeSato/houseprice/pkg/errors"
	"github.com/YuminosukeSato/houseprice/pkg/log"
)

func newPredictor(t *testing.T, opts ...inference.Option) *inference.Predictor {
	t.Helper()
	quiet, _ := log.NewTestLogger(log.LevelError)
	b := artifacttest.NewBundle(t, neural.WithHiddenLayers(32, 16), neural.WithMaxEpochs(10))
	p, err := inference.New(b, append([]inference.Option{inference.WithLogger(quiet)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestPredictMatchesTrainingPath(t *testing.T) {
	quiet, _ := log.NewTestLogger(log.LevelError)
	b := artifacttest.NewBundle(t)
	p, err := inference.New(b, inference.WithLogger(quiet))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rec := housingtest.Record()
	vec, err := b.Codec.Encode(rec)
	if err != nil {
		t.Fatal(err)
	}
	scaled, err := b.Scaler.TransformRow(vec)
	if err != nil {
		t.Fatal(err)
	}
	want, err := b.Model.PredictRow(scaled)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := p.Predict(context.Background(), rec)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if resp.PredictedPrice != want {
		t.Errorf("PredictedPrice = %v, want %v", resp.PredictedPrice, want)
	}
	if resp.Features != rec {
		t.Errorf("Features echo = %+v, want %+v", resp.Features, rec)
	}
}

func TestPredictRejectsUnknownFurnishingStatus(t *testing.T) {
	p := newPredictor(t)
	rec := housingtest.Record()
	rec.FurnishingStatus = "luxury"

	_, err := p.Predict(context.Background(), rec)
	var unknown *errors.UnknownCategoryError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownCategoryError, got %v", err)
	}
	want := []string{"furnished", "semi-furnished", "unfurnished"}
	if len(unknown.Allowed) != len(want) {
		t.Fatalf("Allowed = %v, want %v", unknown.Allowed, want)
	}
	for i := range want {
		if unknown.Allowed[i] != want[i] {
			t.Errorf("Allowed[%d] = %q, want %q", i, unknown.Allowed[i], want[i])
		}
	}
	if unknown.Field != "furnishingstatus" || unknown.Value != "luxury" {
		t.Errorf("unexpected field/value %q/%q", unknown.Field, unknown.Value)
	}
	if got := inference.Classify(err); got != inference.ClassClient {
		t.Errorf("Classify = %v, want client", got)
	}

	stats := p.Stats()
	if stats.ModelCalls != 0 {
		t.Errorf("model was called %d times for a rejected request", stats.ModelCalls)
	}
	if stats.Rejected != 1 || stats.Requests != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPredictRejectsInvalidInput(t *testing.T) {
	p := newPredictor(t)
	tests := []struct {
		name   string
		mutate func(r *housing.Record)
		check  func(error) bool
	}{
		{
			name:   "binary as word",
			mutate: func(r *housing.Record) { r.MainRoad = "maybe" },
			check: func(err error) bool {
				var e *errors.InvalidCategoryError
				return errors.As(err, &e) && e.Field == "mainroad"
			},
		},
		{
			name:   "binary as digit",
			mutate: func(r *housing.Record) { r.Basement = "1" },
			check: func(err error) bool {
				var e *errors.InvalidCategoryError
				return errors.As(err, &e) && e.Field == "basement"
			},
		},
		{
			name:   "negative area",
			mutate: func(r *housing.Record) { r.Area = -5 },
			check: func(err error) bool {
				var e *errors.MalformedInputError
				return errors.As(err, &e) && e.Field == "area"
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := housingtest.Record()
			tt.mutate(&rec)
			_, err := p.Predict(context.Background(), rec)
			if !tt.check(err) {
				t.Errorf("unexpected error %v", err)
			}
			if err := p.Validate(rec); err == nil {
				t.Error("Validate accepted an invalid record")
			}
		})
	}
	if calls := p.Stats().ModelCalls; calls != 0 {
		t.Errorf("model was called %d times", calls)
	}
}

func TestPredictAreaChangesPrice(t *testing.T) {
	p := newPredictor(t)
	ctx := context.Background()

	small := housingtest.Record()
	small.Area = 1000
	large := housingtest.Record()
	large.Area = 2000

	a, err := p.Predict(ctx, small)
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Predict(ctx, large)
	if err != nil {
		t.Fatal(err)
	}
	if a.PredictedPrice == b.PredictedPrice {
		t.Errorf("area 1000 and 2000 both predicted %v", a.PredictedPrice)
	}

	again, err := p.Predict(ctx, small)
	if err != nil {
		t.Fatal(err)
	}
	if again.PredictedPrice != a.PredictedPrice {
		t.Errorf("repeat prediction %v != %v", again.PredictedPrice, a.PredictedPrice)
	}
}

func TestPredictCache(t *testing.T) {
	p := newPredictor(t, inference.WithCache(8))
	ctx := context.Background()
	rec := housingtest.Record()

	first, err := p.Predict(ctx, rec)
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Predict(ctx, rec)
	if err != nil {
		t.Fatal(err)
	}
	if first.PredictedPrice != second.PredictedPrice {
		t.Errorf("cached price %v != %v", second.PredictedPrice, first.PredictedPrice)
	}
	stats := p.Stats()
	if stats.ModelCalls != 1 || stats.CacheHits != 1 || stats.Requests != 2 {
		t.Errorf("stats = %+v", stats)
	}

	// 不正な入力はキャッシュより先に拒否される
	bad := rec
	bad.FurnishingStatus = "luxury"
	if _, err := p.Predict(ctx, bad); err == nil {
		t.Error("expected rejection")
	}
}

func TestPredictConcurrent(t *testing.T) {
	p := newPredictor(t)
	rec := housingtest.Record()
	want, err := p.Predict(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan string, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := p.Predict(context.Background(), rec)
			if err != nil || got.PredictedPrice != want.PredictedPrice {
				errs <- "concurrent prediction differs"
			}
		}()
	}
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Error(msg)
	}
}

func TestPredictCancelled(t *testing.T) {
	p := newPredictor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Predict(ctx, housingtest.Record()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls := p.Stats().ModelCalls; calls != 0 {
		t.Errorf("model was called %d times", calls)
	}
}

func TestNewRejectsIncompleteBundle(t *testing.T) {
	if _, err := inference.New(nil); !errors.IsUnavailable(err) {
		t.Errorf("nil bundle: got %v", err)
	}
	b := artifacttest.NewBundle(t)
	b.Scaler = nil
	if _, err := inference.New(b); err == nil {
		t.Error("expected error for bundle without scaler")
	}
}

func TestAccessors(t *testing.T) {
	p := newPredictor(t)
	if got := len(p.Columns()); got != 12 {
		t.Errorf("Columns() has %d entries", got)
	}
	if got := p.FurnishingStatuses(); len(got) != 3 || got[1] != "semi-furnished" {
		t.Errorf("FurnishingStatuses() = %v", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want inference.Class
	}{
		{"nil", nil, inference.ClassNone},
		{"unknown category", errors.NewUnknownCategoryError("furnishingstatus", "x", nil), inference.ClassClient},
		{"invalid category", errors.NewInvalidCategoryError("mainroad", "x", nil), inference.ClassClient},
		{"malformed", errors.Wrap(errors.NewMalformedInputError("area", "negative"), "request"), inference.ClassClient},
		{"missing artifact", errors.NewArtifactMissingError("model", "/tmp/model.json"), inference.ClassUnavailable},
		{"corrupt artifact", errors.NewArtifactCorruptError("scaler", "/tmp/scaler.json", "bad"), inference.ClassUnavailable},
		{"other", errors.New("boom"), inference.ClassInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := inference.Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}
