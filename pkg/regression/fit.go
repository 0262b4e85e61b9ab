package regression

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/3leaps/lagsearch/pkg/modelspace"
	"github.com/3leaps/lagsearch/pkg/series"
)

// ConstName is the coefficient name of the intercept.
const ConstName = "const"

// ErrUnknownRegressor is returned when a specification names a regressor
// that is not in the data frame.
var ErrUnknownRegressor = errors.New("regressor not found in data")

// InsufficientDataError reports that too few complete rows remain after
// lagging to fit the model. Callers treat it as a skip rather than a failure.
type InsufficientDataError struct {
	Observations int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("Not enough observations (%d)", e.Observations)
}

// IsInsufficientData reports whether err is an InsufficientDataError.
func IsInsufficientData(err error) bool {
	var target *InsufficientDataError
	return errors.As(err, &target)
}

// TestResults holds the outcome of the validity tests.
type TestResults struct {
	PValueOK             bool              `json:"p_value_ok"`
	VIFOK                bool              `json:"vif_ok"`
	VIFValues            map[string]Number `json:"vif_values,omitempty"`
	HeteroskedasticityOK bool              `json:"heteroskedasticity_ok"`
	BPPValue             *Number           `json:"bp_pvalue,omitempty"`
}

// Result is the payload of a completed fit.
type Result struct {
	Coefficients map[string]Number `json:"coefficients"`
	PValues      map[string]Number `json:"p_values"`
	NObs         int               `json:"n_obs"`
	RSquared     Number            `json:"rsquared"`
	RSquaredAdj  Number            `json:"rsquared_adj"`
	AIC          Number            `json:"aic"`
	BIC          Number            `json:"bic"`
	Metrics      map[string]Number `json:"metrics"`
	TestResults  TestResults       `json:"test_results"`
	IsValid      bool              `json:"is_valid"`
}

// design is the cleaned regression input for one specification.
type design struct {
	columns  []string
	hasConst bool
	times    []time.Time
	y        []float64
	x        *mat.Dense
}

// ColumnName returns the design column name for a lagged regressor.
func ColumnName(name string, lag int) string {
	return fmt.Sprintf("%s_L%d", name, lag)
}

// buildDesign lags the regressors named in spec, drops rows with any missing
// value and prepends the constant column when requested.
func buildDesign(f *series.Frame, spec modelspace.Specification) (*design, error) {
	cols := make([][]float64, 0, len(spec.Regressors))
	names := make([]string, 0, len(spec.Regressors)+1)
	if spec.IncludeConstant {
		names = append(names, ConstName)
	}
	for _, r := range spec.Regressors {
		col, ok := f.Column(r.Name, r.Lag)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRegressor, r.Name)
		}
		cols = append(cols, col)
		names = append(names, ColumnName(r.Name, r.Lag))
	}

	keep := make([]int, 0, len(f.Y))
	for i := range f.Y {
		if series.Missing(f.Y[i]) {
			continue
		}
		complete := true
		for _, col := range cols {
			if series.Missing(col[i]) {
				complete = false
				break
			}
		}
		if complete {
			keep = append(keep, i)
		}
	}

	d := &design{columns: names, hasConst: spec.IncludeConstant}
	if len(keep) == 0 || len(names) == 0 {
		d.y = nil
		return d, nil
	}

	p := len(names)
	data := make([]float64, 0, len(keep)*p)
	d.y = make([]float64, len(keep))
	d.times = make([]time.Time, len(keep))
	for r, i := range keep {
		d.y[r] = f.Y[i]
		d.times[r] = f.Index[i]
		if spec.IncludeConstant {
			data = append(data, 1)
		}
		for _, col := range cols {
			data = append(data, col[i])
		}
	}
	d.x = mat.NewDense(len(keep), p, data)
	return d, nil
}

// Fit estimates one specification and runs the requested diagnostics.
//
// A model with fewer complete rows than regressors plus two returns an
// InsufficientDataError.
func Fit(f *series.Frame, spec modelspace.Specification, opts Options) (*Result, error) {
	d, err := buildDesign(f, spec)
	if err != nil {
		return nil, err
	}
	n := len(d.y)
	if n == 0 || n < len(spec.Regressors)+2 {
		return nil, &InsufficientDataError{Observations: n}
	}

	fit, err := fitOLS(d.x, d.y)
	if err != nil {
		return nil, fmt.Errorf("fit ols: %w", err)
	}

	kConst := 0
	if d.hasConst {
		kConst = 1
	}
	dfResid := float64(n - fit.rank)
	dfModel := float64(fit.rank - kConst)

	res := &Result{
		Coefficients: make(map[string]Number, fit.p),
		PValues:      make(map[string]Number, fit.p),
		NObs:         n,
		Metrics:      map[string]Number{},
		TestResults: TestResults{
			PValueOK:             true,
			VIFOK:                true,
			HeteroskedasticityOK: true,
		},
		IsValid: true,
	}

	scale := math.NaN()
	if dfResid > 0 {
		scale = fit.ssr / dfResid
	}
	tdist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: dfResid}
	pvals := make([]float64, fit.p)
	for j, name := range d.columns {
		res.Coefficients[name] = Number(fit.beta[j])
		bse := math.Sqrt(fit.normCov.At(j, j) * scale)
		pv := math.NaN()
		if dfResid > 0 && bse > 0 {
			pv = 2 * tdist.Survival(math.Abs(fit.beta[j]/bse))
		}
		pvals[j] = pv
		res.PValues[name] = Number(pv)
	}

	r2 := fit.rSquared(d.y, d.hasConst)
	r2adj := math.NaN()
	if dfResid > 0 {
		r2adj = 1 - float64(n-kConst)/dfResid*(1-r2)
	}
	res.RSquared = Number(r2)
	res.RSquaredAdj = Number(r2adj)

	nf := float64(n)
	llf := -nf / 2 * (math.Log(2*math.Pi) + math.Log(fit.ssr/nf) + 1)
	res.AIC = Number(-2*llf + 2*(dfModel+float64(kConst)))
	res.BIC = Number(-2*llf + math.Log(nf)*(dfModel+float64(kConst)))

	computeMetrics(res, d.y, fit.resid, opts.Metrics, r2, r2adj)

	if opts.Tests.PValue {
		threshold := opts.PValueThreshold
		for j, name := range d.columns {
			if name == ConstName || math.IsNaN(pvals[j]) {
				continue
			}
			if pvals[j] > threshold {
				res.TestResults.PValueOK = false
				res.IsValid = false
				break
			}
		}
	}

	if opts.Tests.VIF {
		runVIF(res, d)
	}

	if opts.Tests.Heteroskedasticity && fit.p > 0 {
		runBreuschPagan(res, d, fit)
	}

	return res, nil
}

func computeMetrics(res *Result, y, resid []float64, m Metrics, r2, r2adj float64) {
	n := len(resid)
	if m.MAE {
		abs := make([]float64, n)
		for i, r := range resid {
			abs[i] = math.Abs(r)
		}
		res.Metrics["mae"] = Number(stat.Mean(abs, nil))
	}
	if m.MAPE {
		mape := math.Inf(1)
		allNonZero := true
		for _, v := range y {
			if v == 0 {
				allNonZero = false
				break
			}
		}
		if allNonZero {
			rel := make([]float64, n)
			for i, r := range resid {
				rel[i] = math.Abs(r / y[i])
			}
			mape = stat.Mean(rel, nil) * 100
		}
		res.Metrics["mape"] = Number(mape)
	}
	if m.RMSE {
		sq := make([]float64, n)
		for i, r := range resid {
			sq[i] = r * r
		}
		res.Metrics["rmse"] = Number(math.Sqrt(stat.Mean(sq, nil)))
	}
	if m.RSquared {
		res.Metrics["r_squared"] = Number(r2)
		res.Metrics["adj_r_squared"] = Number(r2adj)
	}
}

// runVIF regresses each non-constant column on the others without an
// intercept and reports 1/(1-R^2).
func runVIF(res *Result, d *design) {
	start := 0
	if d.hasConst {
		start = 1
	}
	_, p := d.x.Dims()
	if p-start < 2 {
		return
	}

	xt := d.x
	if d.hasConst {
		xt = dropColumn(d.x, 0)
	}
	n, q := xt.Dims()

	values := make(map[string]Number, q)
	worst := 0.0
	for j := 0; j < q; j++ {
		target := make([]float64, n)
		for i := 0; i < n; i++ {
			target[i] = xt.At(i, j)
		}
		r2, err := auxRSquared(dropColumn(xt, j), target, false)
		if err != nil {
			res.TestResults.VIFOK = false
			res.IsValid = false
			return
		}
		vif := 1 / (1 - r2)
		if r2 >= 1 {
			vif = math.Inf(1)
		}
		values[d.columns[start+j]] = Number(vif)
		if vif > worst {
			worst = vif
		}
	}
	res.TestResults.VIFValues = values
	if worst > VIFLimit {
		res.TestResults.VIFOK = false
		res.IsValid = false
	}
}

// runBreuschPagan runs the studentized Breusch-Pagan test of squared
// residuals on the model's own regressors: LM = n * R^2 with p-1 degrees
// of freedom.
func runBreuschPagan(res *Result, d *design, fit *olsFit) {
	df := fit.p - 1
	if df < 1 {
		return
	}
	sq := make([]float64, len(fit.resid))
	for i, r := range fit.resid {
		sq[i] = r * r
	}
	r2, err := auxRSquared(d.x, sq, d.hasConst)
	if err != nil {
		res.TestResults.HeteroskedasticityOK = false
		res.IsValid = false
		return
	}
	lm := float64(fit.n) * r2
	pv := distuv.ChiSquared{K: float64(df)}.Survival(lm)
	bp := Number(pv)
	res.TestResults.BPPValue = &bp
	if pv < HeteroskedasticityAlpha {
		res.TestResults.HeteroskedasticityOK = false
		res.IsValid = false
	}
}
