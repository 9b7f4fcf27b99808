package inference

import (
	"github.com/YuminosukeSato/houseprice/pkg/errors"
)

// Class groups prediction errors by who has to act on them.
type Class int

const (
	// ClassNone is the class of a nil error.
	ClassNone Class = iota
	// ClassClient means the request itself is invalid.
	ClassClient
	// ClassUnavailable means the model artifacts are missing or unreadable.
	ClassUnavailable
	// ClassInternal is every other failure.
	ClassInternal
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassClient:
		return "client"
	case ClassUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Classify maps err to a Class.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case errors.IsClientError(err):
		return ClassClient
	case errors.IsUnavailable(err):
		return ClassUnavailable
	default:
		return ClassInternal
	}
}

func errorType(err error) string {
	var (
		unknown   *errors.UnknownCategoryError
		invalid   *errors.InvalidCategoryError
		malformed *errors.MalformedInputError
	)
	switch {
	case errors.As(err, &unknown):
		return "unknown_category"
	case errors.As(err, &invalid):
		return "invalid_category"
	case errors.As(err, &malformed):
		return "malformed_input"
	default:
		return Classify(err).String()
	}
}
