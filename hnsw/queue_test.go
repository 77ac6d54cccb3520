package hnsw

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var distances = []float32{0.4, 9, 0.001, 0.0534, 0.234, 2.03, 2.042, 2.532, 1.0009, 0.329, 0.193, 0.999, 0.020391, 2.0991, 1.203, 10.03, 1.039, 1.0008, 5.029, 0.789}

func fill(q *queue) {
	for k, v := range distances {
		q.push(item{slot: uint32(k), dist: v})
	}
}

func TestMaxQueue(t *testing.T) {
	q := newQueue(true, len(distances))
	fill(q)

	assert.Equal(t, 20, q.Len())
	assert.Equal(t, float32(10.03), q.top().dist)
	assert.Equal(t, uint32(15), q.top().slot)

	for q.Len() > 10 {
		q.pop()
	}

	assert.Equal(t, float32(1.0008), q.top().dist)
	assert.Equal(t, uint32(17), q.top().slot)
}

func TestMinQueue(t *testing.T) {
	q := newQueue(false, len(distances))
	fill(q)

	assert.Equal(t, float32(0.001), q.top().dist)
	assert.Equal(t, uint32(2), q.top().slot)
}

func TestDrainOrdersNearestFirst(t *testing.T) {
	for _, max := range []bool{true, false} {
		q := newQueue(max, len(distances))
		fill(q)

		out := q.drain()
		assert.Len(t, out, len(distances))
		assert.Equal(t, 0, q.Len())

		for i := 1; i < len(out); i++ {
			assert.LessOrEqual(t, out[i-1].dist, out[i].dist)
		}
	}
}
