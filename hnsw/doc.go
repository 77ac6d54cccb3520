// Package hnsw implements a Hierarchical Navigable Small World graph for
// approximate nearest neighbour search over float32 vectors keyed by string
// ids.
//
// The package is pure in-memory state: it performs no I/O and is not safe
// for concurrent use. Serialize captures topology only; Deserialize
// rehydrates it with vectors supplied by the caller.
//
//	h, _ := hnsw.New(384, func(o *hnsw.Options) { o.M = 16 })
//	_ = h.Add("doc-1", vec)
//	results, _ := h.Search(query, 10)
package hnsw
