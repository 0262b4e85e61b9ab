package series

import (
	"fmt"
	"time"
)

// Frame is the dependent variable and every regressor aligned on the
// dependent variable's timestamps.
type Frame struct {
	Index []time.Time
	Y     []float64
	X     map[string][]float64
	Names []string
}

// Align cleans y and every regressor and reindexes the regressors onto y's
// timestamps. Regressors with no usable observations are kept as all-NaN
// columns so that model lookups by name still resolve.
func Align(y Series, regressors Set) (*Frame, error) {
	yc := y.Clean()
	if len(yc) == 0 {
		return nil, fmt.Errorf("dependent variable: %w", ErrEmpty)
	}
	index := yc.Times()

	f := &Frame{
		Index: index,
		Y:     yc.Values(),
		X:     make(map[string][]float64, len(regressors)),
		Names: regressors.Names(),
	}
	for _, r := range regressors {
		f.X[r.Name] = r.Data.Clean().Reindex(index)
	}
	return f, nil
}

// Column returns regressor name shifted by lag positions on the frame index.
func (f *Frame) Column(name string, lag int) ([]float64, bool) {
	values, ok := f.X[name]
	if !ok {
		return nil, false
	}
	if lag == 0 {
		out := make([]float64, len(values))
		copy(out, values)
		return out, true
	}
	return Shift(values, lag), true
}
