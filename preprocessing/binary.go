package preprocessing

import "github.com/YuminosukeSato/houseprice/pkg/errors"

// 二値列の固定語彙。学習はせず、常にこの対応で変換する。
const (
	BinaryYes = "yes"
	BinaryNo  = "no"
)

var binaryVocabulary = []string{BinaryNo, BinaryYes}

// EncodeBinary は "yes" を1、"no" を0に変換する。
// 大文字小文字や前後の空白は許容しない。それ以外は InvalidCategoryError。
func EncodeBinary(field, value string) (float64, error) {
	switch value {
	case BinaryYes:
		return 1, nil
	case BinaryNo:
		return 0, nil
	default:
		return 0, errors.NewInvalidCategoryError(field, value, binaryVocabulary)
	}
}
