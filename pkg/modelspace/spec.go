// Package modelspace enumerates the candidate regression models for a search.
//
// A model specification pairs a subset of the configured regressors with a
// lag for each chosen regressor and a constant-term flag. The full space is
// the cross product of regressor subsets, lag assignments and the constant
// policy. Enumeration order is deterministic so that ids are stable for the
// lifetime of a job.
package modelspace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ConstantPolicy controls how the intercept term is treated during enumeration.
type ConstantPolicy string

const (
	// ConstantInclude emits every model with an intercept.
	ConstantInclude ConstantPolicy = "include"

	// ConstantExclude emits every model without an intercept and skips the
	// empty model.
	ConstantExclude ConstantPolicy = "exclude"

	// ConstantTest emits both variants for every non-empty model.
	ConstantTest ConstantPolicy = "test"
)

// ErrUnknownPolicy is returned when a constant policy string is not recognized.
var ErrUnknownPolicy = errors.New("unknown constant policy")

// ErrMissingRegressors is returned when a specification has no
// regressors_with_lags object. An empty object is a valid intercept-only model.
var ErrMissingRegressors = errors.New("regressors_with_lags is required")

// ParseConstantPolicy normalizes a policy string. An empty value means include.
func ParseConstantPolicy(s string) (ConstantPolicy, error) {
	switch ConstantPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", ConstantInclude:
		return ConstantInclude, nil
	case ConstantExclude:
		return ConstantExclude, nil
	case ConstantTest:
		return ConstantTest, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// Lag is one regressor with the number of periods it is shifted by.
type Lag struct {
	Name string
	Lag  int
}

// Specification is one candidate model.
//
// Regressors keep enumeration order; the JSON form is an object keyed by
// regressor name, written in that same order.
type Specification struct {
	ID              string
	Regressors      []Lag
	IncludeConstant bool
}

// RegressorNames returns the names of the regressors in model order.
func (s Specification) RegressorNames() []string {
	out := make([]string, len(s.Regressors))
	for i, r := range s.Regressors {
		out[i] = r.Name
	}
	return out
}

// LagMap returns the regressor to lag mapping.
func (s Specification) LagMap() map[string]int {
	out := make(map[string]int, len(s.Regressors))
	for _, r := range s.Regressors {
		out[r.Name] = r.Lag
	}
	return out
}

type specificationJSON struct {
	ID                 string     `json:"id,omitempty"`
	RegressorsWithLags orderedLag `json:"regressors_with_lags"`
	IncludeConstant    *bool      `json:"include_constant,omitempty"`
}

// MarshalJSON writes the wire form used by clients and workers.
func (s Specification) MarshalJSON() ([]byte, error) {
	include := s.IncludeConstant
	return json.Marshal(specificationJSON{
		ID:                 s.ID,
		RegressorsWithLags: orderedLag(s.Regressors),
		IncludeConstant:    &include,
	})
}

// UnmarshalJSON reads the wire form. A missing include_constant means true.
func (s *Specification) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return ErrMissingRegressors
	}
	var present struct {
		RegressorsWithLags json.RawMessage `json:"regressors_with_lags"`
	}
	if err := json.Unmarshal(data, &present); err != nil {
		return err
	}
	if isNull(present.RegressorsWithLags) {
		return ErrMissingRegressors
	}
	var raw specificationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.ID = raw.ID
	s.Regressors = []Lag(raw.RegressorsWithLags)
	s.IncludeConstant = true
	if raw.IncludeConstant != nil {
		s.IncludeConstant = *raw.IncludeConstant
	}
	return nil
}

func isNull(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || string(trimmed) == "null"
}

// Validate checks the specification against the configured regressor set and
// lag depth. A negative maxLag skips the lag upper bound.
func (s Specification) Validate(known []string, maxLag int) error {
	allowed := make(map[string]struct{}, len(known))
	for _, name := range known {
		allowed[name] = struct{}{}
	}
	seen := make(map[string]struct{}, len(s.Regressors))
	for _, r := range s.Regressors {
		if strings.TrimSpace(r.Name) == "" {
			return errors.New("regressor name is empty")
		}
		if _, ok := seen[r.Name]; ok {
			return fmt.Errorf("regressor %q listed twice", r.Name)
		}
		seen[r.Name] = struct{}{}
		if known != nil {
			if _, ok := allowed[r.Name]; !ok {
				return fmt.Errorf("regressor %q is not part of the search", r.Name)
			}
		}
		if r.Lag < 0 {
			return fmt.Errorf("regressor %q has negative lag %d", r.Name, r.Lag)
		}
		if maxLag >= 0 && r.Lag > maxLag {
			return fmt.Errorf("regressor %q lag %d exceeds max lag depth %d", r.Name, r.Lag, maxLag)
		}
	}
	if len(s.Regressors) == 0 && !s.IncludeConstant {
		return errors.New("model has neither regressors nor a constant")
	}
	return nil
}

// orderedLag is a JSON object of name -> lag that keeps key order.
type orderedLag []Lag

func (o orderedLag) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, l := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(l.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		fmt.Fprintf(&buf, "%d", l.Lag)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (o *orderedLag) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*o = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("regressors_with_lags must be an object")
	}
	var out []Lag
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := keyTok.(string)
		var n json.Number
		if err := dec.Decode(&n); err != nil {
			return fmt.Errorf("lag for %q: %w", name, err)
		}
		lag, err := n.Int64()
		if err != nil {
			return fmt.Errorf("lag for %q must be an integer", name)
		}
		out = append(out, Lag{Name: name, Lag: int(lag)})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*o = out
	return nil
}
