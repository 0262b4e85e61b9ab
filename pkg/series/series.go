// Package series holds time-indexed numeric data and the alignment and
// transform helpers used before model fitting.
//
// The wire form of a series is a JSON array of [timestamp, value] pairs.
// Timestamps may be RFC3339 strings, plain dates, or unix milliseconds.
// A null value marks a missing observation.
package series

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Point is a single observation. Missing values are NaN.
type Point struct {
	Time  time.Time
	Value float64
}

// Series is an ordered list of observations.
type Series []Point

// Errors returned while decoding series.
var (
	// ErrEmpty is returned when a series has no usable observations.
	ErrEmpty = errors.New("series is empty")

	// ErrBadPoint is returned when a point is not a [timestamp, value] pair.
	ErrBadPoint = errors.New("point must be a [timestamp, value] pair")
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006-01",
	"02.01.2006",
	"01/02/2006",
}

// ParseTime parses a timestamp in any of the accepted layouts.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// UnmarshalJSON decodes [[timestamp, value], ...]. Points with timestamps
// that cannot be parsed are dropped, matching how the data is cleaned later.
func (s *Series) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Series, 0, len(raw))
	for i, item := range raw {
		p, ok, err := decodePoint(item)
		if err != nil {
			return fmt.Errorf("point %d: %w", i, err)
		}
		if ok {
			out = append(out, p)
		}
	}
	*s = out
	return nil
}

func decodePoint(item json.RawMessage) (Point, bool, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(item, &pair); err != nil || len(pair) < 2 {
		return Point{}, false, ErrBadPoint
	}

	ts, ok := decodeTime(pair[0])
	if !ok {
		return Point{}, false, nil
	}

	v := math.NaN()
	trimmed := bytes.TrimSpace(pair[1])
	switch {
	case bytes.Equal(trimmed, []byte("null")):
	case len(trimmed) > 0 && trimmed[0] == '"':
		var str string
		if err := json.Unmarshal(trimmed, &str); err != nil {
			return Point{}, false, err
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil {
			v = f
		}
	default:
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return Point{}, false, fmt.Errorf("value: %w", err)
		}
	}
	return Point{Time: ts, Value: v}, true, nil
}

func decodeTime(raw json.RawMessage) (time.Time, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, false
	}
	if raw[0] == '"' {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return time.Time{}, false
		}
		t, err := ParseTime(str)
		return t, err == nil
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(ms)).UTC(), true
}

// MarshalJSON encodes the series as [[RFC3339 timestamp, value|null], ...].
func (s Series) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, p := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(`["`)
		buf.WriteString(p.Time.UTC().Format(time.RFC3339Nano))
		buf.WriteString(`",`)
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			buf.WriteString("null")
		} else {
			buf.WriteString(strconv.FormatFloat(p.Value, 'g', -1, 64))
		}
		buf.WriteByte(']')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// Clean sorts by time and keeps the first value for duplicated timestamps.
// The input order decides which duplicate wins.
func (s Series) Clean() Series {
	out := make(Series, len(s))
	copy(out, s)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })

	dedup := out[:0]
	for i, p := range out {
		if i > 0 && p.Time.Equal(dedup[len(dedup)-1].Time) {
			continue
		}
		dedup = append(dedup, p)
	}
	return dedup
}

// Times returns the timestamps of the series.
func (s Series) Times() []time.Time {
	out := make([]time.Time, len(s))
	for i, p := range s {
		out[i] = p.Time
	}
	return out
}

// Values returns the values of the series.
func (s Series) Values() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Value
	}
	return out
}

// Reindex returns the values of s at each of the given timestamps. Missing
// timestamps produce NaN. s must be clean.
func (s Series) Reindex(index []time.Time) []float64 {
	lookup := make(map[int64]float64, len(s))
	for _, p := range s {
		lookup[p.Time.UnixNano()] = p.Value
	}
	out := make([]float64, len(index))
	for i, t := range index {
		v, ok := lookup[t.UnixNano()]
		if !ok {
			v = math.NaN()
		}
		out[i] = v
	}
	return out
}

// Shift moves values forward by lag positions, filling the head with NaN.
func Shift(values []float64, lag int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		j := i - lag
		if j < 0 || j >= len(values) {
			out[i] = math.NaN()
			continue
		}
		out[i] = values[j]
	}
	return out
}

// Missing reports whether v is not a usable observation.
func Missing(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
