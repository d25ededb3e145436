package repair

import "gonum.org/v1/gonum/interp"

// constant predicts the same value everywhere.
type constant float64

func (c constant) Predict(float64) float64 { return float64(c) }

// interpolator fits a natural cubic spline through four or more knots and a
// straight line through fewer. Knots must be strictly increasing; a fit that
// fails degrades to the line and then to the last value.
func interpolator(x, y []float64) interp.Predictor {
	if len(x) >= 4 {
		var nc interp.NaturalCubic
		if err := nc.Fit(x, y); err == nil {
			return &nc
		}
	}
	if len(x) >= 2 {
		var pl interp.PiecewiseLinear
		if err := pl.Fit(x, y); err == nil {
			return &pl
		}
	}
	if len(y) == 0 {
		return constant(0)
	}
	return constant(y[len(y)-1])
}
