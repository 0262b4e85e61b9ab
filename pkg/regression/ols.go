package regression

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrFactorize is returned when the design matrix cannot be decomposed.
var ErrFactorize = errors.New("svd factorization failed")

// olsFit holds the pieces of a least squares fit used by the diagnostics.
type olsFit struct {
	n, p    int
	rank    int
	beta    []float64
	normCov *mat.Dense
	fitted  []float64
	resid   []float64
	ssr     float64
}

// fitOLS solves min ||y - Xb|| with a pseudo-inverse from a thin SVD, so
// rank-deficient designs still produce a minimum-norm solution.
func fitOLS(x *mat.Dense, y []float64) (*olsFit, error) {
	n, p := x.Dims()

	var svd mat.SVD
	if ok := svd.Factorize(x, mat.SVDThin); !ok {
		return nil, ErrFactorize
	}
	s := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	maxS := 0.0
	for _, sv := range s {
		if sv > maxS {
			maxS = sv
		}
	}
	cutoff := 1e-15 * maxS * float64(max(n, p))
	inv := make([]float64, len(s))
	rank := 0
	for i, sv := range s {
		if sv > cutoff {
			inv[i] = 1 / sv
			rank++
		}
	}

	// pinv = V diag(1/s) U^T, p x n
	pinv := mat.NewDense(p, n, nil)
	for r := 0; r < p; r++ {
		for c := 0; c < n; c++ {
			var sum float64
			for k := range s {
				if inv[k] == 0 {
					continue
				}
				sum += v.At(r, k) * inv[k] * u.At(c, k)
			}
			pinv.Set(r, c, sum)
		}
	}

	beta := make([]float64, p)
	for r := 0; r < p; r++ {
		var sum float64
		for c := 0; c < n; c++ {
			sum += pinv.At(r, c) * y[c]
		}
		beta[r] = sum
	}

	var normCov mat.Dense
	normCov.Mul(pinv, pinv.T())

	fitted := make([]float64, n)
	resid := make([]float64, n)
	var ssr float64
	for i := 0; i < n; i++ {
		var yhat float64
		for j := 0; j < p; j++ {
			yhat += x.At(i, j) * beta[j]
		}
		fitted[i] = yhat
		resid[i] = y[i] - yhat
		ssr += resid[i] * resid[i]
	}

	return &olsFit{
		n:       n,
		p:       p,
		rank:    rank,
		beta:    beta,
		normCov: &normCov,
		fitted:  fitted,
		resid:   resid,
		ssr:     ssr,
	}, nil
}

// rSquared is centered around the mean when the model has an intercept and
// uncentered otherwise.
func (f *olsFit) rSquared(y []float64, centered bool) float64 {
	var tss float64
	mean := 0.0
	if centered {
		for _, v := range y {
			mean += v
		}
		mean /= float64(len(y))
	}
	for _, v := range y {
		d := v - mean
		tss += d * d
	}
	if tss == 0 {
		return math.NaN()
	}
	return 1 - f.ssr/tss
}

// auxRSquared regresses y on x and returns the R squared of that fit.
func auxRSquared(x *mat.Dense, y []float64, centered bool) (float64, error) {
	f, err := fitOLS(x, y)
	if err != nil {
		return math.NaN(), err
	}
	return f.rSquared(y, centered), nil
}

// dropColumn returns x without column j.
func dropColumn(x *mat.Dense, j int) *mat.Dense {
	n, p := x.Dims()
	out := mat.NewDense(n, p-1, nil)
	for r := 0; r < n; r++ {
		cc := 0
		for c := 0; c < p; c++ {
			if c == j {
				continue
			}
			out.Set(r, cc, x.At(r, c))
			cc++
		}
	}
	return out
}
