// Package inference answers single-record price predictions from a loaded
// artifact bundle.
//
// A Predictor is immutable after New and safe for concurrent use. Requests go
// through the same codec, scaler and network row path that training used, in
// the persisted column order.
package inference

import (
	"context"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/YuminosukeSato/houseprice/artifact"
	"github.com/YuminosukeSato/houseprice/housing"
	"github.com/YuminosukeSato/houseprice/pkg/errors"
	"github.com/YuminosukeSato/houseprice/pkg/log"
)

// Response is the result of one prediction.
type Response struct {
	PredictedPrice float64        `json:"predicted_price"`
	Features       housing.Record `json:"features"`
}

// Stats counts the work done by a Predictor.
type Stats struct {
	Requests   uint64
	CacheHits  uint64
	ModelCalls uint64
	Rejected   uint64
}

// Predictor serves predictions from one bundle.
type Predictor struct {
	bundle *artifact.Bundle
	cache  *lru.Cache[housing.Record, float64]
	logger log.Logger

	cacheSize int

	requests   atomic.Uint64
	cacheHits  atomic.Uint64
	modelCalls atomic.Uint64
	rejected   atomic.Uint64
}

// Option configures a Predictor.
type Option func(*Predictor)

// WithCache keeps the last size predictions keyed by the validated record.
// A size of zero or less disables the cache.
func WithCache(size int) Option {
	return func(p *Predictor) {
		p.cacheSize = size
	}
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(p *Predictor) {
		p.logger = logger
	}
}

// New builds a predictor over b. The bundle must be complete and consistent.
func New(b *artifact.Bundle, opts ...Option) (*Predictor, error) {
	if b == nil {
		return nil, errors.NewArtifactMissingError("bundle", "")
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	p := &Predictor{
		bundle: b,
		logger: log.GetLoggerWithName("inference"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cacheSize > 0 {
		cache, err := lru.New[housing.Record, float64](p.cacheSize)
		if err != nil {
			return nil, errors.Wrap(err, "create prediction cache")
		}
		p.cache = cache
	}
	p.logger.Info("Predictor ready",
		log.BundleIDKey, b.Metadata.BundleID,
		log.FeaturesKey, b.Codec.Width(),
		"cache_size", p.cacheSize,
	)
	return p, nil
}

// Predict validates r, encodes it with the persisted column order, scales it
// with the persisted parameters and runs the network. Invalid categories and
// malformed values are rejected before any numeric transform.
func (p *Predictor) Predict(ctx context.Context, r housing.Record) (*Response, error) {
	p.requests.Add(1)

	vec, err := p.bundle.Codec.Encode(r)
	if err != nil {
		p.rejected.Add(1)
		p.logger.Debug("Request rejected", err, log.ErrorTypeKey, errorType(err))
		return nil, err
	}

	if p.cache != nil {
		if price, ok := p.cache.Get(r); ok {
			p.cacheHits.Add(1)
			p.logger.Debug("Prediction served",
				log.OperationKey, log.OperationPredict,
				log.PredictionKey, price,
				log.CacheHitKey, true,
			)
			return &Response{PredictedPrice: price, Features: r}, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var price float64
	err = errors.SafeExecute("Predictor.Predict", func() error {
		scaled, err := p.bundle.Scaler.TransformRow(vec)
		if err != nil {
			return err
		}
		p.modelCalls.Add(1)
		price, err = p.bundle.Model.PredictRow(scaled)
		if err != nil {
			return err
		}
		return errors.CheckScalar("Predictor.Predict", price, 0)
	})
	if err != nil {
		p.logger.Error("Prediction failed", err)
		return nil, err
	}

	if p.cache != nil {
		p.cache.Add(r, price)
	}
	p.logger.Debug("Prediction served",
		log.OperationKey, log.OperationPredict,
		log.PredictionKey, price,
		log.CacheHitKey, false,
	)
	return &Response{PredictedPrice: price, Features: r}, nil
}

// Validate reports whether r would be accepted by Predict without running
// the model.
func (p *Predictor) Validate(r housing.Record) error {
	return p.bundle.Codec.Validate(r)
}

// Metadata returns the metadata of the served bundle.
func (p *Predictor) Metadata() artifact.Metadata {
	return p.bundle.Metadata
}

// Columns returns the persisted feature column order.
func (p *Predictor) Columns() []string {
	return p.bundle.Codec.Columns()
}

// FurnishingStatuses returns the accepted furnishing status values.
func (p *Predictor) FurnishingStatuses() []string {
	if enc := p.bundle.Codec.Furnishing(); enc != nil {
		return enc.Classes()
	}
	return nil
}

// Stats returns a snapshot of the request counters.
func (p *Predictor) Stats() Stats {
	return Stats{
		Requests:   p.requests.Load(),
		CacheHits:  p.cacheHits.Load(),
		ModelCalls: p.modelCalls.Load(),
		Rejected:   p.rejected.Load(),
	}
}
