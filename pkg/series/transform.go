package series

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Transform names accepted by Apply.
const (
	TransformDiffAbs   = "diff_abs"
	TransformDiffPct   = "diff_pct"
	TransformNormalize = "normalize"
)

// ErrUnknownTransform is returned for an unsupported transform name.
var ErrUnknownTransform = errors.New("unknown transform")

// TransformRequest is the input for a stateless series transform.
//
// Diff transforms read SeriesData and Periods. Normalize reads
// NumeratorData and DenominatorData.
type TransformRequest struct {
	Operation       string `json:"operation"`
	SeriesName      string `json:"series_name,omitempty"`
	SeriesData      Series `json:"series_data,omitempty"`
	Periods         int    `json:"periods,omitempty"`
	NumeratorName   string `json:"numerator_name,omitempty"`
	NumeratorData   Series `json:"numerator_data,omitempty"`
	DenominatorName string `json:"denominator_name,omitempty"`
	DenominatorData Series `json:"denominator_data,omitempty"`
}

// Apply runs the requested transform.
func Apply(req TransformRequest) (Series, error) {
	switch strings.ToLower(strings.TrimSpace(req.Operation)) {
	case TransformDiffAbs:
		return DiffAbs(req.SeriesData, req.Periods)
	case TransformDiffPct:
		return DiffPct(req.SeriesData, req.Periods)
	case TransformNormalize:
		return Normalize(req.NumeratorData, req.DenominatorData)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransform, req.Operation)
	}
}

func checkPeriods(periods int) (int, error) {
	if periods == 0 {
		return 1, nil
	}
	if periods < 0 {
		return 0, errors.New("periods must be positive")
	}
	return periods, nil
}

// DiffAbs returns s[t] - s[t-periods]. The first periods values are missing.
func DiffAbs(s Series, periods int) (Series, error) {
	periods, err := checkPeriods(periods)
	if err != nil {
		return nil, err
	}
	c := s.Clean()
	if len(c) == 0 {
		return nil, ErrEmpty
	}
	out := make(Series, len(c))
	for i, p := range c {
		v := math.NaN()
		if i >= periods {
			v = p.Value - c[i-periods].Value
		}
		out[i] = Point{Time: p.Time, Value: v}
	}
	return out, nil
}

// DiffPct returns the percent change over periods, times 100. Division by
// zero yields a missing value.
func DiffPct(s Series, periods int) (Series, error) {
	periods, err := checkPeriods(periods)
	if err != nil {
		return nil, err
	}
	c := s.Clean()
	if len(c) == 0 {
		return nil, ErrEmpty
	}
	out := make(Series, len(c))
	for i, p := range c {
		v := math.NaN()
		if i >= periods {
			prev := c[i-periods].Value
			v = (p.Value/prev - 1) * 100
			if math.IsInf(v, 0) {
				v = math.NaN()
			}
		}
		out[i] = Point{Time: p.Time, Value: v}
	}
	return out, nil
}

// Normalize divides numerator by denominator on the union of their
// timestamps. Gaps in the denominator are filled by linear interpolation by
// position, then forward and backward fill. Points where the result is
// missing or infinite are dropped.
func Normalize(num, den Series) (Series, error) {
	nc, dc := num.Clean(), den.Clean()
	if len(nc) == 0 || len(dc) == 0 {
		return nil, errors.New("numerator or denominator series empty after cleaning")
	}

	index := unionTimes(nc.Times(), dc.Times())
	nv := nc.Reindex(index)
	dv := fillGaps(dc.Reindex(index))

	out := make(Series, 0, len(index))
	for i, t := range index {
		v := nv[i] / dv[i]
		if Missing(v) {
			continue
		}
		out = append(out, Point{Time: t, Value: v})
	}
	if len(out) == 0 {
		return nil, errors.New("result is empty after normalization")
	}
	return out, nil
}

func unionTimes(a, b []time.Time) []time.Time {
	seen := make(map[int64]time.Time, len(a)+len(b))
	for _, t := range a {
		seen[t.UnixNano()] = t
	}
	for _, t := range b {
		seen[t.UnixNano()] = t
	}
	out := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// fillGaps interpolates interior NaN runs linearly and fills the edges with
// the nearest known value.
func fillGaps(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)

	last := -1
	for i := range out {
		if math.IsNaN(out[i]) {
			continue
		}
		if last >= 0 && i-last > 1 {
			step := (out[i] - out[last]) / float64(i-last)
			for j := last + 1; j < i; j++ {
				out[j] = out[last] + step*float64(j-last)
			}
		}
		last = i
	}
	if last < 0 {
		return out
	}
	for i := last + 1; i < len(out); i++ {
		out[i] = out[last]
	}
	first := -1
	for i := range out {
		if !math.IsNaN(out[i]) {
			first = i
			break
		}
	}
	for i := 0; i < first; i++ {
		out[i] = out[first]
	}
	return out
}
