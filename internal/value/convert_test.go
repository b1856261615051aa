package value

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/jsbridge/internal/core"
)

func TestConvertCoercesIntToFloatForFloatTarget(t *testing.T) {
	f, err := Convert[float64](4)
	require.NoError(t, err)
	assert.Equal(t, 4.0, f)

	f32, err := Convert[float32](4)
	require.NoError(t, err)
	assert.Equal(t, float32(4), f32)
}

func TestConvertDynamicTargetIsNotCoerced(t *testing.T) {
	v, err := Convert[any](4)
	require.NoError(t, err)
	assert.IsType(t, 0, v)

	l, err := Convert[[]any]([]any{1, 2.5})
	require.NoError(t, err)
	assert.IsType(t, 0, l[0])
	assert.IsType(t, 0.0, l[1])
}

func TestConvertNested(t *testing.T) {
	fs, err := Convert[[]float64]([]any{1, 2.5})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2.5}, fs)

	m, err := Convert[map[string]int](map[string]any{"a": 1, "b": 2.0})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1, "b": 2}, m)
}

func TestConvertStruct(t *testing.T) {
	type target struct {
		Name  string
		Score float64 `json:"score"`
		Tags  []string
	}
	got, err := Convert[target](map[string]any{"name": "x", "score": 3, "Tags": []any{"a"}})
	require.NoError(t, err)
	assert.Equal(t, target{Name: "x", Score: 3, Tags: []string{"a"}}, got)
}

func TestConvertMismatch(t *testing.T) {
	_, err := Convert[int]("nope")
	assert.ErrorIs(t, err, core.ErrUnsupportedType)

	_, err = Convert[int](2.5)
	assert.Error(t, err)

	_, err = Convert[int8](1000)
	assert.Error(t, err)
}

func TestConvertNil(t *testing.T) {
	s, err := Convert[*string](nil)
	require.NoError(t, err)
	assert.Nil(t, s)

	n, err := Convert[int](nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestConvertDecodedGraph(t *testing.T) {
	type point struct {
		X, Y float64
	}
	type shape struct {
		Name   string
		Points []point
		Origin *point
		Meta   map[string]int
	}
	in := map[string]any{
		"name":   "tri",
		"points": []any{map[string]any{"x": 0, "y": 0}, map[string]any{"x": 1, "y": 0.5}},
		"origin": map[string]any{"x": 2, "y": 3},
		"meta":   map[string]any{"sides": 3},
	}
	tv, err := Encode(in)
	require.NoError(t, err)
	decoded, err := Decode(tv)
	require.NoError(t, err)

	got, err := Convert[shape](decoded)
	require.NoError(t, err)
	want := shape{
		Name:   "tri",
		Points: []point{{0, 0}, {1, 0.5}},
		Origin: &point{2, 3},
		Meta:   map[string]int{"sides": 3},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Convert mismatch (-want +got):\n%s", diff)
	}
}
