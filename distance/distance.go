package distance

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/blas/gonum"
)

var engine = gonum.Implementation{}

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	if len(a) == 0 {
		return 0
	}

	return engine.Sdot(len(a), a, 1, b, 1)
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float32 {
	if len(v) == 0 {
		return 0
	}

	return engine.Snrm2(len(v), v, 1)
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	var sum float32

	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}

	return sum
}

// CosineDistance returns 1 - cos(a, b). A zero vector is maximally distant.
func CosineDistance(a, b []float32) float32 {
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 1
	}

	return 1 - Dot(a, b)/(na*nb)
}

// NegativeDot returns -dot(a, b) so that larger inner products sort first.
func NegativeDot(a, b []float32) float32 {
	return -Dot(a, b)
}

// Metric represents the distance metric used for vector comparison.
type Metric int

const (
	Cosine Metric = iota
	Euclidean
	DotProduct
)

func (m Metric) String() string {
	switch m {
	case Cosine:
		return "cosine"
	case Euclidean:
		return "euclidean"
	case DotProduct:
		return "dot"
	default:
		return fmt.Sprintf("unknown(%d)", m)
	}
}

// ParseMetric resolves a metric name. Matching is case-insensitive.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cosine":
		return Cosine, nil
	case "euclidean", "l2":
		return Euclidean, nil
	case "dot", "ip", "inner":
		return DotProduct, nil
	default:
		return 0, fmt.Errorf("unsupported metric: %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Metric) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Metric) UnmarshalText(b []byte) error {
	v, err := ParseMetric(string(b))
	if err != nil {
		return err
	}

	*m = v

	return nil
}

// Func is a function type for distance calculation.
type Func func(a, b []float32) float32

// Provider returns the distance function for the given metric.
func Provider(m Metric) (Func, error) {
	switch m {
	case Cosine:
		return CosineDistance, nil
	case Euclidean:
		return SquaredL2, nil
	case DotProduct:
		return NegativeDot, nil
	default:
		return nil, fmt.Errorf("unsupported metric: %v", m)
	}
}

// Similarity converts a distance produced by the metric's kernel into a
// score where larger is better. Cosine yields 1 for identical directions.
func Similarity(m Metric, d float32) float32 {
	switch m {
	case Cosine:
		return 1 - d
	case Euclidean:
		return 1 / (1 + float32(math.Sqrt(float64(d))))
	case DotProduct:
		return -d
	default:
		return -d
	}
}
