package series

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Named is a series with its name.
type Named struct {
	Name string `json:"name"`
	Data Series `json:"data"`
}

// Set is an ordered collection of named series.
//
// The JSON form is an object keyed by name. Key order is kept because it
// decides the regressor order used for model enumeration.
type Set []Named

// Names returns the series names in order.
func (s Set) Names() []string {
	out := make([]string, len(s))
	for i, n := range s {
		out[i] = n.Name
	}
	return out
}

// Get returns the series with the given name.
func (s Set) Get(name string) (Series, bool) {
	for _, n := range s {
		if n.Name == name {
			return n.Data, true
		}
	}
	return nil, false
}

// Subset returns the series named in names, in that order.
func (s Set) Subset(names []string) Set {
	out := make(Set, 0, len(names))
	for _, name := range names {
		if data, ok := s.Get(name); ok {
			out = append(out, Named{Name: name, Data: data})
		}
	}
	return out
}

// UnmarshalJSON decodes {"name": [[ts, v], ...], ...} keeping key order.
func (s *Set) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*s = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("regressors must be an object of name to series")
	}

	var out Set
	seen := map[string]struct{}{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := keyTok.(string)
		var data Series
		if err := dec.Decode(&data); err != nil {
			return fmt.Errorf("regressor %q: %w", name, err)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("regressor %q listed twice", name)
		}
		seen[name] = struct{}{}
		out = append(out, Named{Name: name, Data: data})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*s = out
	return nil
}

// MarshalJSON encodes the set as an object in order.
func (s Set) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(n.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := n.Data.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
