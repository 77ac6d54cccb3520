// Package distance provides the distance kernels used by the ANN index.
//
// Kernels are backed by the pure-Go gonum BLAS implementation.
//
// # Supported Metrics
//
//   - Cosine: 1 - cos(a, b) (default)
//   - Euclidean: squared L2 distance
//   - Dot: negative inner product
//
// Every kernel returns a distance where smaller means closer. Similarity
// converts a distance back into the user-facing score.
//
// # Usage
//
//	fn, _ := distance.Provider(distance.Cosine)
//	d := fn(a, b)
//	score := distance.Similarity(distance.Cosine, d)
package distance
