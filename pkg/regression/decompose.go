package regression

import (
	"fmt"

	"github.com/3leaps/lagsearch/pkg/modelspace"
	"github.com/3leaps/lagsearch/pkg/series"
)

// Decomposition splits a fitted model's prediction into per-factor
// contributions: each design column times its coefficient.
type Decomposition struct {
	ActualY       series.Series `json:"actual_y"`
	PredictedY    series.Series `json:"predicted_y"`
	Contributions series.Set    `json:"contributions"`
}

// Decompose refits spec on the frame and returns the contribution of every
// factor at each observation, with the constant first.
func Decompose(f *series.Frame, spec modelspace.Specification) (*Decomposition, error) {
	d, err := buildDesign(f, spec)
	if err != nil {
		return nil, err
	}
	n := len(d.y)
	need := len(spec.Regressors) + 1
	if spec.IncludeConstant {
		need++
	}
	if n == 0 || n < need {
		return nil, &InsufficientDataError{Observations: n}
	}

	fit, err := fitOLS(d.x, d.y)
	if err != nil {
		return nil, fmt.Errorf("fit ols: %w", err)
	}

	out := &Decomposition{
		ActualY:       make(series.Series, n),
		PredictedY:    make(series.Series, n),
		Contributions: make(series.Set, len(d.columns)),
	}
	for i := 0; i < n; i++ {
		out.ActualY[i] = series.Point{Time: d.times[i], Value: d.y[i]}
		out.PredictedY[i] = series.Point{Time: d.times[i], Value: fit.fitted[i]}
	}
	for j, name := range d.columns {
		contrib := make(series.Series, n)
		for i := 0; i < n; i++ {
			contrib[i] = series.Point{Time: d.times[i], Value: d.x.At(i, j) * fit.beta[j]}
		}
		out.Contributions[j] = series.Named{Name: name, Data: contrib}
	}
	return out, nil
}
