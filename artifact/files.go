package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/YuminosukeSato/houseprice/features"
	"github.com/YuminosukeSato/houseprice/housing"
	"github.com/YuminosukeSato/houseprice/neural"
	"github.com/YuminosukeSato/houseprice/pkg/errors"
	"github.com/YuminosukeSato/houseprice/preprocessing"
)

// SchemaVersion is written into every JSON artifact. Load rejects others.
const SchemaVersion = 1

// File names inside a bundle directory.
const (
	FileModel          = "model.json"
	FileScaler         = "scaler.json"
	FileLabelEncoder   = "label_encoder.json"
	FileFeatureColumns = "feature_columns.json"
	FileMetadata       = "model_metrics.json"
	FileHistoryPlot    = "training_history.png"
)

// requiredFile pairs a logical artifact name with its file.
type requiredFile struct {
	name string
	file string
}

// requiredFiles lists the bundle files in the order they are checked.
var requiredFiles = []requiredFile{
	{"model", FileModel},
	{"scaler", FileScaler},
	{"label_encoder", FileLabelEncoder},
	{"feature_columns", FileFeatureColumns},
	{"metadata", FileMetadata},
}

// RequiredFiles returns the file names every bundle must contain.
func RequiredFiles() []string {
	out := make([]string, len(requiredFiles))
	for i, f := range requiredFiles {
		out[i] = f.file
	}
	return out
}

type modelFile struct {
	SchemaVersion int `json:"schema_version"`
	neural.Weights
}

type scalerFile struct {
	SchemaVersion int       `json:"schema_version"`
	Mean          []float64 `json:"mean"`
	Scale         []float64 `json:"scale"`
}

type labelEncoderFile struct {
	SchemaVersion int      `json:"schema_version"`
	Field         string   `json:"field"`
	Classes       []string `json:"classes"`
}

type featureColumnsFile struct {
	SchemaVersion int      `json:"schema_version"`
	Columns       []string `json:"columns"`
}

// writeJSON writes v as indented JSON and fsyncs the file.
func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encode %s", filepath.Base(path))
	}
	return writeFileSync(path, append(data, '\n'))
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrapf(err, "sync %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}

// syncDir flushes directory entries so that renames survive a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return errors.Wrapf(err, "open dir %s", dir)
	}
	defer d.Close()
	return errors.Wrapf(d.Sync(), "sync dir %s", dir)
}

// readJSON strictly decodes an artifact file and checks its schema version.
func readJSON(name, path string, v interface{ version() int }) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NewArtifactMissingError(name, path)
		}
		return errors.Wrapf(err, "read %s", path)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.NewArtifactCorruptError(name, path, err.Error())
	}
	if got := v.version(); got != SchemaVersion {
		return errors.NewArtifactCorruptError(name, path,
			fmt.Sprintf("unsupported schema_version %d (want %d)", got, SchemaVersion))
	}
	return nil
}

func (f *modelFile) version() int          { return f.SchemaVersion }
func (f *scalerFile) version() int         { return f.SchemaVersion }
func (f *labelEncoderFile) version() int   { return f.SchemaVersion }
func (f *featureColumnsFile) version() int { return f.SchemaVersion }
func (m *Metadata) version() int           { return m.SchemaVersion }

// writeBundle writes every artifact of b into dir.
func writeBundle(dir string, b *Bundle) error {
	weights, err := b.Model.Weights()
	if err != nil {
		return err
	}
	params, err := b.Scaler.Params()
	if err != nil {
		return err
	}

	enc := b.Codec.Furnishing()
	encFile := labelEncoderFile{SchemaVersion: SchemaVersion, Field: housing.ColFurnishingStatus}
	if enc != nil {
		encFile.Field = enc.Field
		encFile.Classes = enc.Classes()
	}

	files := []struct {
		file string
		v    interface{}
	}{
		{FileModel, &modelFile{SchemaVersion: SchemaVersion, Weights: *weights}},
		{FileScaler, &scalerFile{SchemaVersion: SchemaVersion, Mean: params.Mean, Scale: params.Scale}},
		{FileLabelEncoder, &encFile},
		{FileFeatureColumns, &featureColumnsFile{SchemaVersion: SchemaVersion, Columns: b.Codec.Columns()}},
		{FileMetadata, &b.Metadata},
	}
	for _, f := range files {
		if err := writeJSON(filepath.Join(dir, f.file), f.v); err != nil {
			return err
		}
	}
	if len(b.HistoryPlot) > 0 {
		if err := writeFileSync(filepath.Join(dir, FileHistoryPlot), b.HistoryPlot); err != nil {
			return err
		}
	}
	return nil
}

// LoadDir loads the bundle stored in dir. Every required file is checked
// before anything is decoded; the first absent one is reported as
// ArtifactMissingError. Inconsistent contents yield ArtifactCorruptError.
func LoadDir(dir string) (*Bundle, error) {
	path := func(file string) string { return filepath.Join(dir, file) }

	for _, f := range requiredFiles {
		if _, err := os.Stat(path(f.file)); err != nil {
			if os.IsNotExist(err) {
				return nil, errors.NewArtifactMissingError(f.name, path(f.file))
			}
			return nil, errors.Wrapf(err, "stat %s", path(f.file))
		}
	}

	var (
		mf  modelFile
		sf  scalerFile
		lf  labelEncoderFile
		cf  featureColumnsFile
		md  Metadata
		err error
	)
	if err = readJSON("model", path(FileModel), &mf); err != nil {
		return nil, err
	}
	if err = readJSON("scaler", path(FileScaler), &sf); err != nil {
		return nil, err
	}
	if err = readJSON("label_encoder", path(FileLabelEncoder), &lf); err != nil {
		return nil, err
	}
	if err = readJSON("feature_columns", path(FileFeatureColumns), &cf); err != nil {
		return nil, err
	}
	if err = readJSON("metadata", path(FileMetadata), &md); err != nil {
		return nil, err
	}

	corrupt := func(name, file string, cause error) error {
		return errors.NewArtifactCorruptError(name, path(file), cause.Error())
	}

	scaler, err := preprocessing.NewStandardScalerFromParams(sf.Mean, sf.Scale)
	if err != nil {
		return nil, corrupt("scaler", FileScaler, err)
	}
	var enc *preprocessing.LabelEncoder
	if len(lf.Classes) > 0 {
		if enc, err = preprocessing.NewLabelEncoderFromClasses(lf.Field, lf.Classes); err != nil {
			return nil, corrupt("label_encoder", FileLabelEncoder, err)
		}
	}
	codec, err := features.NewCodec(cf.Columns, enc)
	if err != nil {
		return nil, corrupt("feature_columns", FileFeatureColumns, err)
	}
	model, err := neural.NewMLPRegressorFromWeights(&mf.Weights)
	if err != nil {
		return nil, corrupt("model", FileModel, err)
	}

	if scaler.NFeatures() != codec.Width() {
		return nil, errors.NewArtifactCorruptError("scaler", path(FileScaler),
			fmt.Sprintf("scaler has %d features but feature_columns lists %d", scaler.NFeatures(), codec.Width()))
	}
	if model.NFeatures() != codec.Width() {
		return nil, errors.NewArtifactCorruptError("model", path(FileModel),
			fmt.Sprintf("model expects %d inputs but feature_columns lists %d", model.NFeatures(), codec.Width()))
	}
	if len(md.InputFeatures) > 0 {
		if err := sameColumns(cf.Columns, md.InputFeatures); err != nil {
			return nil, corrupt("metadata", FileMetadata, err)
		}
	}

	b := &Bundle{
		Codec:    codec,
		Scaler:   scaler,
		Model:    model,
		Metadata: md,
		Dir:      dir,
	}
	if png, err := os.ReadFile(path(FileHistoryPlot)); err == nil {
		b.HistoryPlot = png
	}
	return b, nil
}
