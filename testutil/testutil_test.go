package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRNGDeterministic(t *testing.T) {
	a := NewRNG(7).UniformVectors(3, 4)
	b := NewRNG(7).UniformVectors(3, 4)
	assert.Equal(t, a, b)
}

func TestUnitVectors(t *testing.T) {
	for _, v := range NewRNG(1).UnitVectors(10, 16) {
		var sum float32
		for _, x := range v {
			sum += x * x
		}

		assert.InDelta(t, 1, sum, 1e-4)
	}
}

func TestExactTopKAndRecall(t *testing.T) {
	l1 := func(a, b []float32) float32 {
		var s float32
		for i := range a {
			d := a[i] - b[i]
			if d < 0 {
				d = -d
			}
			s += d
		}
		return s
	}

	data := map[string][]float32{"a": {0}, "b": {1}, "c": {5}}
	top := ExactTopK([]float32{0.2}, data, 2, l1)

	assert.Equal(t, []string{"a", "b"}, []string{top[0].ID, top[1].ID})
	assert.Equal(t, 1.0, Recall([]string{"b", "a"}, top))
	assert.Equal(t, 0.5, Recall([]string{"a", "c"}, top))
	assert.Equal(t, []string{"x-000000", "x-000001"}, IDs("x", 2))
}
