package testutil

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// RNG is a seeded random source. It is safe for concurrent use.
type RNG struct {
	mu   sync.Mutex
	rand *rand.Rand
	seed int64
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{rand: rand.New(rand.NewSource(seed)), seed: seed} // nolint gosec
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 { return r.seed }

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.rand.Intn(n)
}

// Vector returns one vector with values in [0, 1).
func (r *RNG) Vector(dimensions int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := make([]float32, dimensions)
	for i := range v {
		v[i] = r.rand.Float32()
	}

	return v
}

// UniformVectors generates random vectors with values in range [0, 1).
func (r *RNG) UniformVectors(num, dimensions int) [][]float32 {
	out := make([][]float32, num)
	for i := range out {
		out[i] = r.Vector(dimensions)
	}

	return out
}

// UnitVectors generates L2-normalized Gaussian vectors.
func (r *RNG) UnitVectors(num, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([][]float32, num)

	for i := range out {
		v := make([]float32, dimensions)

		var norm float64

		for j := range v {
			x := r.rand.NormFloat64()
			v[j] = float32(x)
			norm += x * x
		}

		if norm > 0 {
			inv := float32(1 / math.Sqrt(norm))
			for j := range v {
				v[j] *= inv
			}
		}

		out[i] = v
	}

	return out
}

// IDs returns n ids of the form prefix-000042.
func IDs(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s-%06d", prefix, i)
	}

	return out
}

// Neighbor is an exact search result.
type Neighbor struct {
	ID       string
	Distance float32
}

// ExactTopK computes the k nearest entries of dataset by brute force.
func ExactTopK(query []float32, dataset map[string][]float32, k int, dist func(a, b []float32) float32) []Neighbor {
	all := make([]Neighbor, 0, len(dataset))
	for id, v := range dataset {
		all = append(all, Neighbor{ID: id, Distance: dist(query, v)})
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Distance == all[j].Distance {
			return all[i].ID < all[j].ID
		}

		return all[i].Distance < all[j].Distance
	})

	if len(all) > k {
		all = all[:k]
	}

	return all
}

// Recall returns the fraction of truth ids present in got.
func Recall(got []string, truth []Neighbor) float64 {
	if len(truth) == 0 {
		return 1
	}

	seen := make(map[string]struct{}, len(got))
	for _, id := range got {
		seen[id] = struct{}{}
	}

	hits := 0

	for _, n := range truth {
		if _, ok := seen[n.ID]; ok {
			hits++
		}
	}

	return float64(hits) / float64(len(truth))
}
