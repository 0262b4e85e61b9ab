package modelspace

import (
	"errors"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrInvalidPattern is returned when a selection pattern cannot be compiled.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// Selection narrows the regressor set with glob patterns.
//
// A name is kept when it matches at least one include (or there are no
// includes) and no exclude. Input order is preserved.
type Selection struct {
	Includes []string `json:"include,omitempty" yaml:"include,omitempty"`
	Excludes []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`
}

// Empty reports whether the selection keeps every name.
func (s Selection) Empty() bool {
	return len(s.Includes) == 0 && len(s.Excludes) == 0
}

// Apply filters names in order.
func (s Selection) Apply(names []string) ([]string, error) {
	for _, p := range s.Includes {
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: p, Err: ErrInvalidPattern}
		}
	}
	for _, p := range s.Excludes {
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: p, Err: ErrInvalidPattern}
		}
	}

	out := make([]string, 0, len(names))
	for _, name := range names {
		if len(s.Includes) > 0 && !matchAny(s.Includes, name) {
			continue
		}
		if matchAny(s.Excludes, name) {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		matched, err := doublestar.Match(p, name)
		if err != nil {
			// Patterns are validated before matching.
			continue
		}
		if matched {
			return true
		}
	}
	return false
}
