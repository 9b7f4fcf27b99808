package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/YuminosukeSato/houseprice/artifact"
	"github.com/YuminosukeSato/houseprice/artifact/artifacttest"
	"github.com/YuminosukeSato/houseprice/housing"
	"github.com/YuminosukeSato/houseprice/inference"
	"github.com/YuminosukeSato/houseprice/pkg/errors"
	"github.com/YuminosukeSato/houseprice/pkg/log"
)

const validBody = `{
	"area": 7420, "bedrooms": 4, "bathrooms": 2, "stories": 3,
	"mainroad": "yes", "guestroom": "no", "basement": "no",
	"hotwaterheating": "no", "airconditioning": "yes", "parking": 2,
	"prefarea": "yes", "furnishingstatus": "furnished"
}`

type fakePredictor struct {
	err   error
	panic bool
}

func (f *fakePredictor) Predict(ctx context.Context, r housing.Record) (*inference.Response, error) {
	if f.panic {
		panic("forward pass exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &inference.Response{PredictedPrice: 1, Features: r}, nil
}

func (f *fakePredictor) Metadata() artifact.Metadata { return artifact.Metadata{Version: "test"} }
func (f *fakePredictor) Columns() []string           { return housing.FeatureColumns() }

func newTestHandler(t *testing.T, p Predictor) http.Handler {
	t.Helper()
	quiet, _ := log.NewTestLogger(log.LevelError)
	return NewHandler(p, DefaultServerConfig(), quiet)
}

func realPredictor(t *testing.T) *inference.Predictor {
	t.Helper()
	quiet, _ := log.NewTestLogger(log.LevelError)
	p, err := inference.New(artifacttest.NewBundle(t), inference.WithLogger(quiet))
	if err != nil {
		t.Fatalf("inference.New: %v", err)
	}
	return p
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid json %q: %v", w.Body.String(), err)
	}
}

func TestRoot(t *testing.T) {
	w := do(newTestHandler(t, nil), http.MethodGet, "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var payload map[string]interface{}
	decode(t, w, &payload)
	if payload["message"] != "House Price Prediction API" {
		t.Errorf("unexpected message %v", payload["message"])
	}
}

func TestHealth(t *testing.T) {
	w := do(newTestHandler(t, realPredictor(t)), http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var health HealthResponse
	decode(t, w, &health)
	if !health.ModelLoaded || health.Status != "healthy" {
		t.Errorf("unexpected health %+v", health)
	}
	if len(health.Features) != 12 || health.Features[11] != "furnishingstatus" {
		t.Errorf("unexpected features %v", health.Features)
	}

	w = do(newTestHandler(t, nil), http.MethodGet, "/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without model, got %d", w.Code)
	}
	decode(t, w, &health)
	if health.ModelLoaded {
		t.Error("model_loaded should be false")
	}
}

func TestModelMetadata(t *testing.T) {
	w := do(newTestHandler(t, realPredictor(t)), http.MethodGet, "/model", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var md artifact.Metadata
	decode(t, w, &md)
	if md.Metrics.TestRMSE != 2 {
		t.Errorf("unexpected metrics %+v", md.Metrics)
	}
}

func TestPredict(t *testing.T) {
	h := newTestHandler(t, realPredictor(t))

	w := do(h, http.MethodPost, "/predict", validBody)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp inference.Response
	decode(t, w, &resp)
	if resp.Features.Area != 7420 || resp.Features.FurnishingStatus != "furnished" {
		t.Errorf("unexpected echo %+v", resp.Features)
	}

	// 同じ入力には同じ価格を返す
	w2 := do(h, http.MethodPost, "/predict", validBody)
	var resp2 inference.Response
	decode(t, w2, &resp2)
	if resp2.PredictedPrice != resp.PredictedPrice {
		t.Errorf("repeat prediction %v != %v", resp2.PredictedPrice, resp.PredictedPrice)
	}
}

func TestPredictClientErrors(t *testing.T) {
	h := newTestHandler(t, realPredictor(t))
	tests := []struct {
		name      string
		body      string
		errorType string
		field     string
		allowed   int
	}{
		{
			name:      "unknown furnishing status",
			body:      strings.Replace(validBody, `"furnished"`, `"luxury"`, 1),
			errorType: "unknown_category",
			field:     "furnishingstatus",
			allowed:   3,
		},
		{
			name:      "binary word",
			body:      strings.Replace(validBody, `"mainroad": "yes"`, `"mainroad": "maybe"`, 1),
			errorType: "invalid_category",
			field:     "mainroad",
			allowed:   2,
		},
		{
			name:      "binary number",
			body:      strings.Replace(validBody, `"mainroad": "yes"`, `"mainroad": 1`, 1),
			errorType: "malformed_input",
			field:     "mainroad",
		},
		{
			name:      "missing field",
			body:      strings.Replace(validBody, `"parking": 2,`, ``, 1),
			errorType: "malformed_input",
			field:     "parking",
		},
		{
			name:      "unknown field",
			body:      strings.Replace(validBody, `"parking": 2,`, `"parking": 2, "pool": "yes",`, 1),
			errorType: "malformed_input",
			field:     "pool",
		},
		{
			name:      "negative area",
			body:      strings.Replace(validBody, `"area": 7420`, `"area": -1`, 1),
			errorType: "malformed_input",
			field:     "area",
		},
		{
			name:      "not json",
			body:      `{area`,
			errorType: "malformed_input",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(h, http.MethodPost, "/predict", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			var body ErrorResponse
			decode(t, w, &body)
			if body.ErrorType != tt.errorType || body.Field != tt.field {
				t.Errorf("got type %q field %q, want %q %q", body.ErrorType, body.Field, tt.errorType, tt.field)
			}
			if len(body.Allowed) != tt.allowed {
				t.Errorf("allowed = %v", body.Allowed)
			}
			if body.Detail == "" {
				t.Error("empty detail")
			}
		})
	}
}

func TestPredictServerErrors(t *testing.T) {
	tests := []struct {
		name string
		p    Predictor
		want int
	}{
		{"no model", nil, http.StatusServiceUnavailable},
		{"corrupt artifact", &fakePredictor{err: errors.NewArtifactCorruptError("model", "/x", "bad")}, http.StatusServiceUnavailable},
		{"internal", &fakePredictor{err: errors.New("boom")}, http.StatusInternalServerError},
		{"panic", &fakePredictor{panic: true}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(newTestHandler(t, tt.p), http.MethodPost, "/predict", validBody)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, w.Code)
			}
			if strings.Contains(w.Body.String(), "boom") {
				t.Error("internal error text leaked to the client")
			}
		})
	}
}

func TestCORS(t *testing.T) {
	h := newTestHandler(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	quiet, _ := log.NewTestLogger(log.LevelError)
	cfg := DefaultServerConfig()
	cfg.AllowedOrigins = []string{"http://allowed.example"}
	h = NewHandler(nil, cfg, quiet)
	w = do(h, http.MethodGet, "/", "")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("origin not in list got header %q", got)
	}
}

func TestUnknownRoute(t *testing.T) {
	w := do(newTestHandler(t, nil), http.MethodGet, "/nope", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestServerRunStopsOnCancel(t *testing.T) {
	quiet, _ := log.NewTestLogger(log.LevelError)
	cfg := DefaultServerConfig()
	cfg.Addr = "127.0.0.1:0"
	s := NewServer(nil, cfg, quiet)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx); err != nil {
		t.Errorf("Run() = %v", err)
	}
}

func TestPredictResponseKeys(t *testing.T) {
	h := newTestHandler(t, realPredictor(t))
	w := do(h, http.MethodPost, "/predict", validBody)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var raw map[string]json.RawMessage
	decode(t, w, &raw)
	if len(raw) != 2 {
		t.Errorf("keys = %v, want predicted_price and features", raw)
	}
	if _, ok := raw["predicted_price"]; !ok {
		t.Error("missing predicted_price")
	}
	var echoed map[string]interface{}
	if err := json.Unmarshal(raw["features"], &echoed); err != nil {
		t.Fatalf("features: %v", err)
	}
	if echoed["area"] != 7420.0 || echoed["furnishingstatus"] != "furnished" {
		t.Errorf("features = %v", echoed)
	}
}

// brokenWriter accepts headers but fails every body write.
type brokenWriter struct {
	*httptest.ResponseRecorder
}

func (brokenWriter) Write([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestWriteFailureIsLogged(t *testing.T) {
	logger, _ := log.NewTestLogger(log.LevelWarn)
	h := NewHandlers(&fakePredictor{}, logger)
	mux := http.NewServeMux()
	h.Register(mux)

	w := brokenWriter{httptest.NewRecorder()}
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if !logger.ContainsMessage("Writing response failed") {
		t.Error("encode failure was not logged")
	}
	if !logger.ContainsField("status", float64(http.StatusOK)) {
		t.Error("status field missing from log entry")
	}
}
