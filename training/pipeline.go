// Package training runs the batch training pipeline: load the labeled
// dataset, fit the feature codec, split, fit the scaler, train the network,
// evaluate it and publish an artifact bundle.
//
// The pipeline is a small state machine. Every transition is logged and
// recorded, and a failure in any state moves the pipeline to Failed.
package training

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/houseprice/artifact"
	"github.com/YuminosukeSato/houseprice/core/model"
	"github.com/YuminosukeSato/houseprice/features"
	"github.com/YuminosukeSato/houseprice/housing"
	"github.com/YuminosukeSato/houseprice/linear"
	"github.com/YuminosukeSato/houseprice/metrics"
	"github.com/YuminosukeSato/houseprice/neural"
	"github.com/YuminosukeSato/houseprice/pkg/errors"
	"github.com/YuminosukeSato/houseprice/pkg/log"
	"github.com/YuminosukeSato/houseprice/preprocessing"
	"github.com/YuminosukeSato/houseprice/registry"
)

// State is a pipeline stage.
type State int

const (
	StateLoadData State = iota
	StateFitCodec
	StateSplit
	StateFitScaler
	StateTrainModel
	StateEvaluate
	StatePersist
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateLoadData:   "load_data",
	StateFitCodec:   "fit_codec",
	StateSplit:      "split",
	StateFitScaler:  "fit_scaler",
	StateTrainModel: "train_model",
	StateEvaluate:   "evaluate",
	StatePersist:    "persist",
	StateDone:       "done",
	StateFailed:     "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Result summarizes a successful run.
type Result struct {
	RunID    string
	BundleID string
	Bundle   *artifact.Bundle
	History  *neural.History
	Train    metrics.Report
	Test     metrics.Report
	// Baseline is the test report of a linear model on the same features,
	// or nil if it could not be fitted.
	Baseline *metrics.Report
	Dataset  artifact.DatasetSizes
	Duration time.Duration
}

// Pipeline trains a model and publishes it to a store. A Pipeline runs once;
// create a new one for every run.
type Pipeline struct {
	cfg      Config
	store    *artifact.Store
	registry *registry.Registry
	logger   log.Logger
	modelOpt []neural.Option

	runID  string
	ran    bool
	failed bool
	states []State
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger. The network logs through it too
// unless WithModelOptions supplies its own logger.
func WithLogger(logger log.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithRegistry records the run in reg.
func WithRegistry(reg *registry.Registry) Option {
	return func(p *Pipeline) {
		p.registry = reg
	}
}

// WithModelOptions appends options applied to the network after those
// derived from the configuration.
func WithModelOptions(opts ...neural.Option) Option {
	return func(p *Pipeline) {
		p.modelOpt = append(p.modelOpt, opts...)
	}
}

// New creates a pipeline that publishes into store.
func New(cfg Config, store *artifact.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:    cfg,
		store:  store,
		logger: log.GetLoggerWithName("training"),
		runID:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunID returns the identifier recorded in the registry.
func (p *Pipeline) RunID() string {
	return p.runID
}

// States returns the states entered so far, in order.
func (p *Pipeline) States() []State {
	return append([]State(nil), p.states...)
}

// State returns the current state. A run rejected before LoadData reports
// StateFailed with no recorded states.
func (p *Pipeline) State() State {
	if len(p.states) == 0 {
		if p.failed {
			return StateFailed
		}
		return StateLoadData
	}
	return p.states[len(p.states)-1]
}

func (p *Pipeline) enter(s State) {
	p.states = append(p.states, s)
	p.logger.Info("Pipeline state", log.StateKey, s.String())
}

// Run executes the pipeline. ctx is checked between states and between
// training epochs.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if p.ran {
		return nil, errors.NewValueError("Pipeline.Run", "pipeline has already run")
	}
	if err := p.cfg.Validate(); err != nil {
		return nil, err
	}
	p.ran = true
	start := time.Now()
	p.recordRun(ctx, registry.Run{
		ID:          p.runID,
		Status:      registry.StatusRunning,
		StartedAt:   start,
		DatasetPath: p.cfg.DatasetPath,
		Seed:        p.cfg.Seed,
	})

	// データセットが無ければ状態遷移の前に中断する
	err := housing.CheckDataset(p.cfg.DatasetPath)
	var res *Result
	if err == nil {
		res, err = p.run(ctx)
	}
	run := registry.Run{
		ID:          p.runID,
		StartedAt:   start,
		FinishedAt:  time.Now(),
		DatasetPath: p.cfg.DatasetPath,
		Seed:        p.cfg.Seed,
	}
	if err != nil {
		p.failed = true
		if len(p.states) > 0 {
			p.enter(StateFailed)
		}
		p.logger.Error("Training failed", err, log.StateKey, StateFailed.String())
		run.Status = registry.StatusFailed
		run.Error = err.Error()
		p.recordRun(context.WithoutCancel(ctx), run)
		return nil, err
	}
	p.enter(StateDone)
	res.Duration = time.Since(start)

	run.Status = registry.StatusSucceeded
	run.Samples = res.Dataset.Total
	run.BundleID = res.BundleID
	run.EpochsRun = res.History.EpochsRun
	run.BestEpoch = res.History.BestEpoch
	run.Metrics = res.Bundle.Metadata.Metrics
	p.recordRun(ctx, run)

	p.logger.Info("Training finished",
		log.BundleIDKey, res.BundleID,
		log.DurationMsKey, res.Duration.Milliseconds(),
	)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context) (*Result, error) {
	res := &Result{RunID: p.runID}

	p.enter(StateLoadData)
	examples, err := housing.LoadCSV(p.cfg.DatasetPath)
	if err != nil {
		return nil, err
	}
	p.logger.Info("Dataset loaded",
		log.SamplesKey, len(examples),
		log.ArtifactPathKey, p.cfg.DatasetPath,
	)

	if err := p.step(ctx, StateFitCodec); err != nil {
		return nil, err
	}
	// エンコーダは分割前の全データで学習する
	codec, err := features.FitCodec(housing.Records(examples))
	if err != nil {
		return nil, errors.Wrap(err, "fit feature codec")
	}
	p.logger.Info("Furnishing status encoding", "mapping", codec.Furnishing().Mapping())

	if err := p.step(ctx, StateSplit); err != nil {
		return nil, err
	}
	split, err := housing.SplitDataset(examples, p.cfg.TestSize, p.cfg.ValidationSplit, p.cfg.Seed)
	if err != nil {
		return nil, err
	}
	res.Dataset = artifact.DatasetSizes{
		Total:      len(examples),
		Train:      len(split.Train),
		Validation: len(split.Validation),
		Test:       len(split.Test),
	}
	p.logger.Info("Dataset split",
		log.RandomSeedKey, p.cfg.Seed,
		"train", res.Dataset.Train,
		"validation", res.Dataset.Validation,
		"test", res.Dataset.Test,
	)

	Xtrain, err := codec.EncodeBatch(housing.Records(split.Train))
	if err != nil {
		return nil, errors.Wrap(err, "encode training split")
	}
	Xtest, err := codec.EncodeBatch(housing.Records(split.Test))
	if err != nil {
		return nil, errors.Wrap(err, "encode test split")
	}

	if err := p.step(ctx, StateFitScaler); err != nil {
		return nil, err
	}
	// スケーラは訓練分割のみで学習する（検証・テストには transform のみ）
	scaler := preprocessing.NewStandardScaler()
	XtrainScaled, err := scaler.FitTransform(Xtrain)
	if err != nil {
		return nil, errors.Wrap(err, "fit scaler")
	}
	XtestScaled, err := scaler.Transform(Xtest)
	if err != nil {
		return nil, errors.Wrap(err, "scale test split")
	}

	if err := p.step(ctx, StateTrainModel); err != nil {
		return nil, err
	}
	netOpts := append([]neural.Option{neural.WithLogger(p.logger.With(log.ComponentKey, "neural"))}, p.cfg.modelOptions()...)
	net := neural.NewMLPRegressor(append(netOpts, p.modelOpt...)...)
	ytrain := columnOf(housing.Prices(split.Train))

	var history *neural.History
	if len(split.Validation) > 0 {
		XvalScaled, verr := scaleValidation(codec, scaler, split.Validation)
		if verr != nil {
			return nil, verr
		}
		yval := columnOf(housing.Prices(split.Validation))
		history, err = net.FitWithValidation(ctx, XtrainScaled, ytrain, XvalScaled, yval)
	} else {
		history, err = net.FitWithValidation(ctx, XtrainScaled, ytrain, nil, nil)
	}
	if err != nil {
		return nil, errors.Wrap(err, "train model")
	}
	res.History = history
	p.logger.Info("Model trained",
		log.EpochKey, history.EpochsRun,
		log.BestEpochKey, history.BestEpoch,
		"stopped_early", history.StoppedEarly,
	)

	if err := p.step(ctx, StateEvaluate); err != nil {
		return nil, err
	}
	if res.Train, err = evaluate(net, XtrainScaled, housing.Prices(split.Train)); err != nil {
		return nil, errors.Wrap(err, "evaluate training part")
	}
	if res.Test, err = evaluate(net, XtestScaled, housing.Prices(split.Test)); err != nil {
		return nil, errors.Wrap(err, "evaluate test part")
	}
	res.Baseline = p.fitBaseline(XtrainScaled, housing.Prices(split.Train), XtestScaled, housing.Prices(split.Test))

	for _, r := range []struct {
		split  string
		report metrics.Report
	}{{"train", res.Train}, {"test", res.Test}} {
		p.logger.Info("Model evaluated",
			log.OperationKey, log.OperationEvaluate,
			log.SplitKey, r.split,
			log.RMSEKey, r.report.RMSE,
			log.MAEKey, r.report.MAE,
			log.R2ScoreKey, r.report.R2,
		)
	}

	if err := p.step(ctx, StatePersist); err != nil {
		return nil, err
	}
	bundle := &artifact.Bundle{
		Codec:  codec,
		Scaler: scaler,
		Model:  net,
		Metadata: artifact.Metadata{
			Metrics: artifact.Metrics{
				TrainRMSE: res.Train.RMSE,
				TestRMSE:  res.Test.RMSE,
				TrainMAE:  res.Train.MAE,
				TestMAE:   res.Test.MAE,
				TrainR2:   res.Train.R2,
				TestR2:    res.Test.R2,
			},
			Baseline:        baselineMetadata(res.Baseline),
			EpochsRun:       history.EpochsRun,
			BestEpoch:       history.BestEpoch,
			Hyperparameters: net.GetParams(),
			Dataset:         res.Dataset,
		},
	}
	if p.cfg.PlotHistory {
		png, err := PlotHistory(history)
		if err != nil {
			// グラフは任意なので失敗しても保存は続ける
			p.logger.Warn("Loss plot skipped", err)
		} else {
			bundle.HistoryPlot = png
		}
	}
	id, err := p.store.Save(bundle)
	if err != nil {
		return nil, errors.Wrap(err, "persist bundle")
	}
	res.BundleID = id
	res.Bundle = bundle
	return res, nil
}

// scaleValidation encodes the validation split and applies the scaler fitted
// on the training split.
func scaleValidation(codec *features.Codec, scaler *preprocessing.StandardScaler, val []housing.Example) (mat.Matrix, error) {
	Xval, err := codec.EncodeBatch(housing.Records(val))
	if err != nil {
		return nil, errors.Wrap(err, "encode validation split")
	}
	scaled, err := scaler.Transform(Xval)
	if err != nil {
		return nil, errors.Wrap(err, "scale validation split")
	}
	return scaled, nil
}

// fitBaseline fits a least squares model on the training part and reports
// its test error. Failures are logged and yield nil.
func (p *Pipeline) fitBaseline(Xtrain mat.Matrix, ytrain []float64, Xtest mat.Matrix, ytest []float64) *metrics.Report {
	lr := linear.NewLinearRegression()
	if err := lr.Fit(Xtrain, columnOf(ytrain)); err != nil {
		p.logger.Warn("Linear baseline skipped", err)
		return nil
	}
	report, err := evaluate(lr, Xtest, ytest)
	if err != nil {
		p.logger.Warn("Linear baseline skipped", err)
		return nil
	}
	p.logger.Info("Baseline evaluated",
		log.ModelNameKey, "LinearRegression",
		log.SplitKey, "test",
		log.RMSEKey, report.RMSE,
		log.R2ScoreKey, report.R2,
	)
	return &report
}

func baselineMetadata(r *metrics.Report) *artifact.Baseline {
	if r == nil {
		return nil
	}
	return &artifact.Baseline{
		Algorithm: "Linear Regression",
		TestRMSE:  r.RMSE,
		TestMAE:   r.MAE,
		TestR2:    r.R2,
	}
}

// step checks ctx and enters s.
func (p *Pipeline) step(ctx context.Context, s State) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "cancelled before %s", s)
	}
	p.enter(s)
	return nil
}

func (p *Pipeline) recordRun(ctx context.Context, run registry.Run) {
	if p.registry == nil {
		return
	}
	if err := p.registry.Record(ctx, run); err != nil {
		p.logger.Warn("Recording training run failed", err, "run_id", run.ID)
	}
}

func evaluate(m model.Predictor, X mat.Matrix, prices []float64) (metrics.Report, error) {
	pred, err := m.Predict(X)
	if err != nil {
		return metrics.Report{}, err
	}
	n, _ := pred.Dims()
	yPred := make([]float64, n)
	for i := range yPred {
		yPred[i] = pred.At(i, 0)
	}
	return metrics.Evaluate(prices, yPred)
}

func columnOf(v []float64) *mat.Dense {
	return mat.NewDense(len(v), 1, v)
}
