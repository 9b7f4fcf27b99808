// Standard attribute keys for training and serving logs.
//
// Keys follow a hierarchical naming convention ("data.samples",
// "metrics.loss") so that log pipelines can filter on prefixes.

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the type of model or transformer.
	// Examples: "MLPRegressor", "StandardScaler", "LabelEncoder"
	ModelNameKey = "model.name"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "transform", "evaluate", "persist"
	OperationKey = "ml.operation"

	// ComponentKey identifies which component emitted the record.
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of model lifecycle.
	PhaseKey = "ml.phase"

	// StateKey is the training pipeline state being entered.
	StateKey = "pipeline.state"
)

// Data Shape
const (
	SamplesKey   = "data.samples"
	FeaturesKey  = "data.features"
	BatchSizeKey = "data.batch_size"

	// SplitKey names a dataset partition: "train", "validation", "test".
	SplitKey = "data.split"
)

// Performance Metrics
const (
	DurationMsKey = "perf.duration_ms"
	LossKey       = "metrics.loss"
	ValLossKey    = "metrics.val_loss"
	MAEKey        = "metrics.mae"
	ValMAEKey     = "metrics.val_mae"
	RMSEKey       = "metrics.rmse"
	R2ScoreKey    = "metrics.r2_score"
	EpochKey      = "training.epoch"
	BestEpochKey  = "training.best_epoch"
)

// Hyperparameters and Configuration
const (
	LearningRateKey = "hyperparams.learning_rate"
	RandomSeedKey   = "config.random_seed"
)

// Artifact and request context
const (
	// BundleIDKey identifies a published artifact bundle.
	BundleIDKey = "artifact.bundle_id"

	// ArtifactPathKey is a filesystem path of an artifact or bundle directory.
	ArtifactPathKey = "artifact.path"

	// PredictionKey records a predicted price.
	PredictionKey = "preds.value"

	// CacheHitKey reports whether a prediction came from the cache.
	CacheHitKey = "preds.cache_hit"
)

// Error Context
const (
	ErrorCodeKey  = "error.code"
	ErrorTypeKey  = "error.type"
	StacktraceKey = "error.stacktrace"
)

// Standard attribute values.
const (
	OperationFit       = "fit"
	OperationPredict   = "predict"
	OperationTransform = "transform"
	OperationEvaluate  = "evaluate"
	OperationPersist   = "persist"
	OperationLoad      = "load"

	PhaseTraining      = "training"
	PhaseValidation    = "validation"
	PhaseTesting       = "testing"
	PhaseInference     = "inference"
	PhasePreprocessing = "preprocessing"

	ErrorArtifactMissing = "ARTIFACT_MISSING"
	ErrorUnknownCategory = "UNKNOWN_CATEGORY"
	ErrorMalformedInput  = "MALFORMED_INPUT"
	ErrorNotFitted       = "NOT_FITTED"
)
