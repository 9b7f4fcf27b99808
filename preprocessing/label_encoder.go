// Package preprocessing provides the fitted transforms applied to raw house
// records before they reach the model: a per-column standard scaler, a label
// encoder for categorical columns and a fixed yes/no encoder.
package preprocessing

import (
	"fmt"
	"sort"

	"github.com/YuminosukeSato/houseprice/pkg/errors"
)

// LabelEncoder はカテゴリ文字列を整数コードへ写像する。
// クラスは辞書順にソートされ、コードはその位置（0始まり）になる。
type LabelEncoder struct {
	// Field はエラーメッセージに使う列名
	Field string

	classes []string
	index   map[string]int
}

// NewLabelEncoder は未学習のLabelEncoderを作成する
func NewLabelEncoder(field string) *LabelEncoder {
	return &LabelEncoder{Field: field}
}

// NewLabelEncoderFromClasses は保存済みのクラス一覧から学習済みエンコーダを復元する。
// クラスは空でなく、重複がなく、辞書順に並んでいなければならない。
func NewLabelEncoderFromClasses(field string, classes []string) (*LabelEncoder, error) {
	if len(classes) == 0 {
		return nil, errors.NewValueError("NewLabelEncoderFromClasses", "empty class list")
	}
	for i := 1; i < len(classes); i++ {
		if classes[i-1] >= classes[i] {
			return nil, errors.NewValidationError("classes",
				fmt.Sprintf("must be sorted and unique, got %q before %q", classes[i-1], classes[i]), classes)
		}
	}
	e := &LabelEncoder{Field: field}
	e.setClasses(append([]string(nil), classes...))
	return e, nil
}

// Fit は観測値から一意なクラスを学習する
func (e *LabelEncoder) Fit(values []string) error {
	if len(values) == 0 {
		return errors.NewModelError("LabelEncoder.Fit", "empty data", errors.ErrEmptyData)
	}
	seen := make(map[string]struct{}, 4)
	classes := make([]string, 0, 4)
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		classes = append(classes, v)
	}
	sort.Strings(classes)
	e.setClasses(classes)
	return nil
}

func (e *LabelEncoder) setClasses(classes []string) {
	e.classes = classes
	e.index = make(map[string]int, len(classes))
	for i, c := range classes {
		e.index[c] = i
	}
}

// IsFitted はクラスが学習済みかどうかを返す
func (e *LabelEncoder) IsFitted() bool {
	return len(e.classes) > 0
}

// Encode は1つの値をコードに変換する。未知の値は UnknownCategoryError になる。
func (e *LabelEncoder) Encode(value string) (int, error) {
	if !e.IsFitted() {
		return 0, errors.NewNotFittedError("LabelEncoder", "Encode")
	}
	code, ok := e.index[value]
	if !ok {
		return 0, errors.NewUnknownCategoryError(e.Field, value, e.classes)
	}
	return code, nil
}

// Transform は値の列をコードの列に変換する
func (e *LabelEncoder) Transform(values []string) ([]int, error) {
	codes := make([]int, len(values))
	for i, v := range values {
		code, err := e.Encode(v)
		if err != nil {
			return nil, err
		}
		codes[i] = code
	}
	return codes, nil
}

// FitTransform は学習と変換を同時に行う
func (e *LabelEncoder) FitTransform(values []string) ([]int, error) {
	if err := e.Fit(values); err != nil {
		return nil, err
	}
	return e.Transform(values)
}

// InverseTransform はコードを元の文字列に戻す
func (e *LabelEncoder) InverseTransform(codes []int) ([]string, error) {
	if !e.IsFitted() {
		return nil, errors.NewNotFittedError("LabelEncoder", "InverseTransform")
	}
	out := make([]string, len(codes))
	for i, c := range codes {
		if c < 0 || c >= len(e.classes) {
			return nil, errors.NewValidationError("code", fmt.Sprintf("out of range [0, %d)", len(e.classes)), c)
		}
		out[i] = e.classes[c]
	}
	return out, nil
}

// Classes は学習済みクラスのコピーを辞書順で返す
func (e *LabelEncoder) Classes() []string {
	return append([]string(nil), e.classes...)
}

// Mapping はクラスからコードへの対応表のコピーを返す
func (e *LabelEncoder) Mapping() map[string]int {
	m := make(map[string]int, len(e.index))
	for k, v := range e.index {
		m[k] = v
	}
	return m
}

// String はエンコーダの文字列表現を返す
func (e *LabelEncoder) String() string {
	return fmt.Sprintf("LabelEncoder(field=%s, classes=%v)", e.Field, e.classes)
}
