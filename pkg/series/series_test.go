package series

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestSeries_UnmarshalFormats(t *testing.T) {
	input := `[
		["2024-01-02", 2],
		["2024-01-01T00:00:00Z", 1],
		[1704240000000, "3.5"],
		["not a date", 9],
		["2024-01-04", null]
	]`

	var s Series
	require.NoError(t, json.Unmarshal([]byte(input), &s))
	require.Len(t, s, 4)

	c := s.Clean()
	assert.Equal(t, []time.Time{day(1), day(2), day(3), day(4)}, c.Times())
	assert.Equal(t, 1.0, c[0].Value)
	assert.Equal(t, 3.5, c[2].Value)
	assert.True(t, math.IsNaN(c[3].Value))
}

func TestSeries_UnmarshalRejectsBadPoints(t *testing.T) {
	var s Series
	assert.Error(t, json.Unmarshal([]byte(`[[1]]`), &s))
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &s))
}

func TestSeries_MarshalNullsMissing(t *testing.T) {
	s := Series{{Time: day(1), Value: 1.5}, {Time: day(2), Value: math.NaN()}}
	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `[["2024-01-01T00:00:00Z",1.5],["2024-01-02T00:00:00Z",null]]`, string(b))
}

func TestSeries_CleanKeepsFirstDuplicate(t *testing.T) {
	s := Series{{day(2), 20}, {day(1), 10}, {day(2), 99}}
	c := s.Clean()
	require.Len(t, c, 2)
	assert.Equal(t, 20.0, c[1].Value)
}

func TestShift(t *testing.T) {
	got := Shift([]float64{1, 2, 3, 4}, 2)
	assert.True(t, math.IsNaN(got[0]))
	assert.True(t, math.IsNaN(got[1]))
	assert.Equal(t, []float64{1, 2}, got[2:])
}

func TestAlign(t *testing.T) {
	y := Series{{day(1), 1}, {day(2), 2}, {day(3), 3}}
	x := Set{
		{Name: "b", Data: Series{{day(3), 30}, {day(1), 10}}},
		{Name: "a", Data: Series{{day(2), 200}, {day(9), 900}}},
	}

	f, err := Align(y, x)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, f.Names)
	assert.Equal(t, []float64{1, 2, 3}, f.Y)

	b := f.X["b"]
	assert.Equal(t, 10.0, b[0])
	assert.True(t, math.IsNaN(b[1]))
	assert.Equal(t, 30.0, b[2])

	lagged, ok := f.Column("a", 1)
	require.True(t, ok)
	assert.True(t, math.IsNaN(lagged[0]))
	assert.True(t, math.IsNaN(lagged[1]))
	assert.Equal(t, 200.0, lagged[2])

	_, ok = f.Column("missing", 0)
	assert.False(t, ok)

	_, err = Align(nil, x)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestSet_JSONKeepsOrder(t *testing.T) {
	input := `{"zeta":[["2024-01-01",1]],"alpha":[["2024-01-01",2]],"mid":[]}`
	var s Set
	require.NoError(t, json.Unmarshal([]byte(input), &s))
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, s.Names())

	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":[["2024-01-01T00:00:00Z",1]],"alpha":[["2024-01-01T00:00:00Z",2]],"mid":[]}`, string(b))

	sub := s.Subset([]string{"mid", "zeta", "nope"})
	assert.Equal(t, []string{"mid", "zeta"}, sub.Names())

	assert.Error(t, json.Unmarshal([]byte(`{"a":[],"a":[]}`), &s))
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &s))
}

func TestTransforms(t *testing.T) {
	s := Series{{day(1), 10}, {day(2), 12}, {day(3), 0}, {day(4), 6}}

	t.Run("diff_abs", func(t *testing.T) {
		got, err := Apply(TransformRequest{Operation: "diff_abs", SeriesData: s, Periods: 1})
		require.NoError(t, err)
		assert.True(t, math.IsNaN(got[0].Value))
		assert.Equal(t, []float64{2, -12, 6}, got.Values()[1:])
	})

	t.Run("diff_abs default periods", func(t *testing.T) {
		got, err := DiffAbs(s, 0)
		require.NoError(t, err)
		assert.Equal(t, 2.0, got[1].Value)
	})

	t.Run("diff_pct", func(t *testing.T) {
		got, err := Apply(TransformRequest{Operation: "diff_pct", SeriesData: s, Periods: 1})
		require.NoError(t, err)
		assert.InDelta(t, 20.0, got[1].Value, 1e-9)
		assert.InDelta(t, -100.0, got[2].Value, 1e-9)
		// division by zero
		assert.True(t, math.IsNaN(got[3].Value))
	})

	t.Run("negative periods", func(t *testing.T) {
		_, err := DiffPct(s, -1)
		assert.Error(t, err)
	})

	t.Run("normalize", func(t *testing.T) {
		num := Series{{day(1), 10}, {day(2), 20}, {day(3), 30}}
		den := Series{{day(1), 2}, {day(3), 6}}
		got, err := Apply(TransformRequest{Operation: "normalize", NumeratorData: num, DenominatorData: den})
		require.NoError(t, err)
		assert.Equal(t, []float64{5, 5, 5}, got.Values())
	})

	t.Run("normalize drops zero denominators", func(t *testing.T) {
		num := Series{{day(1), 10}, {day(2), 20}}
		den := Series{{day(1), 0}, {day(2), 4}}
		got, err := Normalize(num, den)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 5.0, got[0].Value)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := Apply(TransformRequest{Operation: "log"})
		assert.ErrorIs(t, err, ErrUnknownTransform)
	})
}
