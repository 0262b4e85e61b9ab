package modelspace

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Errors returned by enumeration helpers.
var (
	// ErrNoModels is returned when a configuration yields zero specifications.
	ErrNoModels = errors.New("configuration yields no models")

	// ErrCountOverflow is returned when the model count does not fit in an int64.
	ErrCountOverflow = errors.New("model count overflows")

	// ErrNegativeLag is returned when the max lag depth is below zero.
	ErrNegativeLag = errors.New("max lag depth must be >= 0")

	// ErrDuplicateRegressor is returned when a regressor name appears twice.
	ErrDuplicateRegressor = errors.New("duplicate regressor name")
)

// CheckInputs validates the enumerator inputs.
func CheckInputs(names []string, maxLag int, policy ConstantPolicy) error {
	if maxLag < 0 {
		return ErrNegativeLag
	}
	if _, err := ParseConstantPolicy(string(policy)); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			return errors.New("regressor name is empty")
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateRegressor, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// Count returns the number of specifications Enumerate would produce without
// building them.
//
// The base count is sum over m of C(k,m)*(N+1)^m, which is (N+2)^k.
func Count(k, maxLag int, policy ConstantPolicy) (int64, error) {
	if k < 0 {
		return 0, errors.New("regressor count must be >= 0")
	}
	if maxLag < 0 {
		return 0, ErrNegativeLag
	}
	policy, err := ParseConstantPolicy(string(policy))
	if err != nil {
		return 0, err
	}

	base := int64(maxLag) + 2
	b := int64(1)
	for i := 0; i < k; i++ {
		if b > math.MaxInt64/base {
			return 0, ErrCountOverflow
		}
		b *= base
	}

	switch policy {
	case ConstantExclude:
		return b - 1, nil
	case ConstantTest:
		if b-1 > (math.MaxInt64-1)/2 {
			return 0, ErrCountOverflow
		}
		return 2*(b-1) + 1, nil
	default:
		return b, nil
	}
}

// Enumerate returns every specification for the given regressors, lag depth
// and constant policy.
//
// Order: subset size ascending, then subsets in input order, then lag
// assignments with the last regressor varying fastest. Ids come from a
// counter that advances for every emitted specification: m_<n> for include
// and exclude, m_<n>_c and m_<n>_nc for test.
//
// Inputs are assumed valid; see CheckInputs.
func Enumerate(names []string, maxLag int, policy ConstantPolicy) []Specification {
	policy, err := ParseConstantPolicy(string(policy))
	if err != nil || maxLag < 0 {
		return nil
	}

	var out []Specification
	if n, err := Count(len(names), maxLag, policy); err == nil && n < 1<<20 {
		out = make([]Specification, 0, n)
	}

	Walk(names, maxLag, policy, func(spec Specification) bool {
		out = append(out, spec)
		return true
	})
	return out
}

// Walk calls fn for each specification in enumeration order. Returning false
// from fn stops the walk.
func Walk(names []string, maxLag int, policy ConstantPolicy, fn func(Specification) bool) {
	k := len(names)
	counter := 0

	emit := func(regs []Lag) bool {
		m := len(regs)
		switch policy {
		case ConstantInclude:
			counter++
			return fn(Specification{ID: fmt.Sprintf("m_%d", counter), Regressors: cloneLags(regs), IncludeConstant: true})
		case ConstantExclude:
			if m == 0 {
				return true
			}
			counter++
			return fn(Specification{ID: fmt.Sprintf("m_%d", counter), Regressors: cloneLags(regs), IncludeConstant: false})
		case ConstantTest:
			counter++
			if !fn(Specification{ID: fmt.Sprintf("m_%d_c", counter), Regressors: cloneLags(regs), IncludeConstant: true}) {
				return false
			}
			if m == 0 {
				return true
			}
			counter++
			return fn(Specification{ID: fmt.Sprintf("m_%d_nc", counter), Regressors: cloneLags(regs), IncludeConstant: false})
		}
		return true
	}

	for m := 0; m <= k; m++ {
		idx := make([]int, m)
		for i := range idx {
			idx[i] = i
		}
		for {
			if !walkLags(names, idx, maxLag, emit) {
				return
			}
			if !nextCombination(idx, k) {
				break
			}
		}
	}
}

// walkLags iterates the (maxLag+1)^m lag assignments for one subset.
func walkLags(names []string, idx []int, maxLag int, emit func([]Lag) bool) bool {
	regs := make([]Lag, len(idx))
	for i, j := range idx {
		regs[i] = Lag{Name: names[j]}
	}
	for {
		if !emit(regs) {
			return false
		}
		pos := len(regs) - 1
		for pos >= 0 {
			if regs[pos].Lag < maxLag {
				regs[pos].Lag++
				break
			}
			regs[pos].Lag = 0
			pos--
		}
		if pos < 0 {
			return true
		}
	}
}

// nextCombination advances idx to the next m-combination of [0,k) in
// lexicographic order.
func nextCombination(idx []int, k int) bool {
	m := len(idx)
	i := m - 1
	for i >= 0 && idx[i] == k-m+i {
		i--
	}
	if i < 0 {
		return false
	}
	idx[i]++
	for j := i + 1; j < m; j++ {
		idx[j] = idx[j-1] + 1
	}
	return true
}

func cloneLags(regs []Lag) []Lag {
	if len(regs) == 0 {
		return nil
	}
	out := make([]Lag, len(regs))
	copy(out, regs)
	return out
}
