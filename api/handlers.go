// Package api exposes a Predictor over HTTP.
//
// Routes:
//
//	GET  /         service information
//	GET  /health   liveness and model status
//	GET  /model    metadata of the served bundle
//	POST /predict  price prediction for one house record
//
// Errors are JSON objects with a "detail" message. Invalid requests answer
// 400, missing or unreadable model artifacts 503, and anything else 500.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/YuminosukeSato/houseprice/artifact"
	"github.com/YuminosukeSato/houseprice/housing"
	"github.com/YuminosukeSato/houseprice/inference"
	"github.com/YuminosukeSato/houseprice/pkg/errors"
	"github.com/YuminosukeSato/houseprice/pkg/log"
)

// Predictor is the part of inference.Predictor the handlers use.
type Predictor interface {
	Predict(ctx context.Context, r housing.Record) (*inference.Response, error)
	Metadata() artifact.Metadata
	Columns() []string
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Detail    string   `json:"detail"`
	ErrorType string   `json:"error_type,omitempty"`
	Field     string   `json:"field,omitempty"`
	Allowed   []string `json:"allowed,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status       string   `json:"status"`
	ModelLoaded  bool     `json:"model_loaded"`
	BundleID     string   `json:"bundle_id,omitempty"`
	ModelVersion string   `json:"model_version,omitempty"`
	Features     []string `json:"features,omitempty"`
}

// Handlers serves the routes. A nil predictor means no model is loaded.
type Handlers struct {
	predictor Predictor
	logger    log.Logger
}

// NewHandlers creates handlers over p, which may be nil.
func NewHandlers(p Predictor, logger log.Logger) *Handlers {
	if logger == nil {
		logger = log.GetLoggerWithName("api")
	}
	return &Handlers{predictor: p, logger: logger}
}

// Register adds the routes to mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.handleRoot)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /model", h.handleModel)
	mux.HandleFunc("POST /predict", h.handlePredict)
}

func (h *Handlers) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(h.logger, w, http.StatusOK, map[string]interface{}{
		"message": "House Price Prediction API",
		"version": artifact.DefaultVersion,
		"endpoints": map[string]string{
			"health":  "GET /health",
			"model":   "GET /model",
			"predict": "POST /predict",
		},
	})
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.predictor == nil {
		writeJSON(h.logger, w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy"})
		return
	}
	md := h.predictor.Metadata()
	writeJSON(h.logger, w, http.StatusOK, HealthResponse{
		Status:       "healthy",
		ModelLoaded:  true,
		BundleID:     md.BundleID,
		ModelVersion: md.Version,
		Features:     h.predictor.Columns(),
	})
}

func (h *Handlers) handleModel(w http.ResponseWriter, r *http.Request) {
	if h.predictor == nil {
		h.writeFailure(w, errors.NewArtifactMissingError("model", ""))
		return
	}
	writeJSON(h.logger, w, http.StatusOK, h.predictor.Metadata())
}

func (h *Handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	if h.predictor == nil {
		h.writeFailure(w, errors.NewArtifactMissingError("model", ""))
		return
	}
	rec, err := housing.DecodeRecord(r.Body)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	resp, err := h.predictor.Predict(r.Context(), rec)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, resp)
}

// writeFailure maps err to a status code and an ErrorResponse.
func (h *Handlers) writeFailure(w http.ResponseWriter, err error) {
	body := ErrorResponse{Detail: err.Error()}
	var (
		unknown   *errors.UnknownCategoryError
		invalid   *errors.InvalidCategoryError
		malformed *errors.MalformedInputError
	)
	switch {
	case errors.As(err, &unknown):
		body = ErrorResponse{Detail: unknown.Error(), ErrorType: "unknown_category", Field: unknown.Field, Allowed: unknown.Allowed}
	case errors.As(err, &invalid):
		body = ErrorResponse{Detail: invalid.Error(), ErrorType: "invalid_category", Field: invalid.Field, Allowed: invalid.Allowed}
	case errors.As(err, &malformed):
		body = ErrorResponse{Detail: malformed.Error(), ErrorType: "malformed_input", Field: malformed.Field}
	}

	var status int
	switch inference.Classify(err) {
	case inference.ClassClient:
		status = http.StatusBadRequest
	case inference.ClassUnavailable:
		status = http.StatusServiceUnavailable
		body = ErrorResponse{Detail: "model not loaded", ErrorType: "unavailable"}
		h.logger.Error("Model unavailable", err)
	default:
		status = http.StatusInternalServerError
		body = ErrorResponse{Detail: "prediction failed", ErrorType: "internal"}
		h.logger.Error("Prediction failed", err)
	}
	writeJSON(h.logger, w, status, body)
}

func writeJSON(logger log.Logger, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// ヘッダは送信済みなのでログに残すだけ
		logger.Warn("Writing response failed", err, "status", status)
	}
}

func writeError(logger log.Logger, w http.ResponseWriter, status int, detail string) {
	writeJSON(logger, w, status, ErrorResponse{Detail: detail})
}
