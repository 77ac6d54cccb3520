// Package testutil provides testing helpers for localvec packages.
//
// It is intended for tests only: deterministic random vectors, exact
// nearest neighbours as ground truth and recall measurement.
//
//	rng := testutil.NewRNG(42)
//	vecs := rng.UnitVectors(1000, 64)
//	truth := testutil.ExactTopK(query, dataset, 10, distance.CosineDistance)
//	recall := testutil.Recall(got, truth)
package testutil
