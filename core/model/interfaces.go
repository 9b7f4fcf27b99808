// Package model defines the estimator contracts shared by the preprocessing
// and neural packages.
package model

// Regressor combines the fitting and prediction contracts of a regression model.
type Regressor interface {
	Fitter
	Predictor
	RowPredictor
}

// ParameterGetter is the interface for models that expose their hyperparameters.
type ParameterGetter interface {
	GetParams() map[string]interface{}
}
