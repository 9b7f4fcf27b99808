package linear

// Option is a function that configures LinearRegression
type Option func(*LinearRegression)

// WithAlpha sets the L2 penalty added to the normal equations. The
// intercept is not penalized.
func WithAlpha(alpha float64) Option {
	return func(lr *LinearRegression) {
		lr.alpha = alpha
	}
}
