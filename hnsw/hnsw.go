package hnsw

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/localvec/distance"
)

// maxLevelCap bounds the stochastic level assignment.
const maxLevelCap = 32

var (
	// ErrInvalidID is returned when a node id is empty.
	ErrInvalidID = errors.New("hnsw: id must not be empty")

	// ErrInvalidK is returned when a search asks for fewer than one result.
	ErrInvalidK = errors.New("hnsw: k must be positive")
)

// ErrDimensionMismatch is a named error type for dimension mismatch
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

// Error returns the error message for dimension mismatch
func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Options represents the options for configuring HNSW.
type Options struct {
	// M is the number of neighbours a new element connects to on every level
	// above the base layer, and the bound enforced when pruning.
	// The range M=12-48 is ok for most use cases.
	M int

	// M0 bounds the neighbour list on the base layer. Zero means M.
	M0 int

	// EfConstruction is the size of the dynamic candidate list while inserting.
	EfConstruction int

	// EfSearch is the size of the dynamic candidate list at query time.
	// Larger values improve recall at the cost of latency.
	EfSearch int

	// Metric selects the distance kernel.
	Metric distance.Metric

	// Heuristic selects the diversity heuristic for choosing neighbours
	// instead of keeping the plain nearest ones.
	Heuristic bool

	// Seed seeds level assignment. Zero seeds from the clock.
	Seed int64
}

// DefaultOptions holds the default index configuration.
var DefaultOptions = Options{
	M:              16,
	EfConstruction: 200,
	EfSearch:       50,
	Metric:         distance.Cosine,
	Heuristic:      true,
}

// Result is a single search hit ordered by ascending distance.
type Result struct {
	ID       string
	Distance float32
	Score    float32
}

type node struct {
	id          string
	vector      []float32
	level       int
	connections [][]uint32 // per level, slot ids
}

// HNSW is a Hierarchical Navigable Small World graph keyed by string ids.
//
// An HNSW is not safe for concurrent use. Callers that share an index
// between goroutines must guard it themselves.
type HNSW struct {
	dimension int
	opts      Options
	mmax      int     // bound for levels > 0
	mmax0     int     // bound for level 0
	ml        float64 // level normalization factor
	dist      distance.Func
	rng       *rand.Rand

	nodes []*node // slot -> node, nil for free slots
	ids   map[string]uint32
	free  *roaring.Bitmap

	ep       uint32
	hasEP    bool
	maxLevel int
}

// New creates a new HNSW instance with the given dimension and options
func New(dimension int, optFns ...func(o *Options)) (*HNSW, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if dimension <= 0 {
		return nil, fmt.Errorf("hnsw: dimension must be positive, got %d", dimension)
	}

	if opts.M < 2 {
		// M == 1 would divide by ln(1) = 0
		opts.M = 2
	}

	if opts.M0 <= 0 {
		opts.M0 = opts.M
	}

	if opts.EfConstruction < opts.M {
		opts.EfConstruction = opts.M
	}

	if opts.EfSearch <= 0 {
		opts.EfSearch = DefaultOptions.EfSearch
	}

	fn, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, err
	}

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &HNSW{
		dimension: dimension,
		opts:      opts,
		mmax:      opts.M,
		mmax0:     opts.M0,
		ml:        1 / math.Log(float64(opts.M)),
		dist:      fn,
		rng:       rand.New(rand.NewSource(seed)), // nolint gosec
		ids:       make(map[string]uint32),
		free:      roaring.New(),
	}, nil
}

// Dimension returns the vector length accepted by the index.
func (h *HNSW) Dimension() int { return h.dimension }

// Options returns the effective configuration.
func (h *HNSW) Options() Options { return h.opts }

// Len returns the number of indexed ids.
func (h *HNSW) Len() int { return len(h.ids) }

// Contains reports whether id is indexed.
func (h *HNSW) Contains(id string) bool {
	_, ok := h.ids[id]
	return ok
}

// Vector returns the indexed vector for id. The slice must not be modified.
func (h *HNSW) Vector(id string) ([]float32, bool) {
	slot, ok := h.ids[id]
	if !ok {
		return nil, false
	}

	return h.nodes[slot].vector, true
}

// IDs returns all indexed ids in lexical order.
func (h *HNSW) IDs() []string {
	out := make([]string, 0, len(h.ids))
	for id := range h.ids {
		out = append(out, id)
	}

	sort.Strings(out)

	return out
}

// EntryPoint returns the id every traversal starts from.
func (h *HNSW) EntryPoint() (string, bool) {
	if !h.hasEP {
		return "", false
	}

	return h.nodes[h.ep].id, true
}

// MaxLevel returns the level of the entry point.
func (h *HNSW) MaxLevel() int { return h.maxLevel }

// Add inserts id with vector. Adding an existing id replaces its vector and
// its position in the graph.
func (h *HNSW) Add(id string, vector []float32) error {
	if id == "" {
		return ErrInvalidID
	}

	if len(vector) != h.dimension {
		return &ErrDimensionMismatch{Expected: h.dimension, Actual: len(vector)}
	}

	if _, ok := h.ids[id]; ok {
		h.Delete(id)
	}

	vec := make([]float32, len(vector))
	copy(vec, vector)

	h.insert(id, vec, h.randomLevel())

	return nil
}

func (h *HNSW) randomLevel() int {
	level := int(math.Floor(-math.Log(1-h.rng.Float64()) * h.ml))
	return min(level, maxLevelCap)
}

func (h *HNSW) allocSlot(n *node) uint32 {
	if !h.free.IsEmpty() {
		slot := h.free.Minimum()
		h.free.Remove(slot)
		h.nodes[slot] = n

		return slot
	}

	h.nodes = append(h.nodes, n)

	return uint32(len(h.nodes) - 1)
}

func (h *HNSW) insert(id string, vec []float32, level int) {
	n := &node{
		id:          id,
		vector:      vec,
		level:       level,
		connections: make([][]uint32, level+1),
	}

	slot := h.allocSlot(n)
	h.ids[id] = slot

	if !h.hasEP {
		h.ep, h.hasEP, h.maxLevel = slot, true, level
		return
	}

	curr := item{slot: h.ep, dist: h.dist(vec, h.nodes[h.ep].vector)}

	// Greedy descent through the levels above the new node.
	for l := h.maxLevel; l > level; l-- {
		curr = h.greedy(vec, curr, l)
	}

	for l := min(level, h.maxLevel); l >= 0; l-- {
		candidates := h.searchLayer(vec, []item{curr}, h.opts.EfConstruction, l, slot)
		if len(candidates) == 0 {
			continue
		}

		selected := h.selectNeighbours(candidates, h.opts.M)

		n.connections[l] = make([]uint32, len(selected))
		for i, c := range selected {
			n.connections[l][i] = c.slot
		}

		for _, c := range selected {
			h.link(c.slot, slot, l)
		}

		curr = candidates[0]
	}

	if level > h.maxLevel {
		h.ep, h.maxLevel = slot, level
	}
}

// greedy hops to the closest neighbour on level until no improvement remains.
func (h *HNSW) greedy(q []float32, curr item, level int) item {
	changed := true
	for changed {
		changed = false

		n := h.nodes[curr.slot]
		if level >= len(n.connections) {
			return curr
		}

		for _, s := range n.connections[level] {
			d := h.dist(q, h.nodes[s].vector)
			if d < curr.dist {
				curr = item{slot: s, dist: d}
				changed = true
			}
		}
	}

	return curr
}

// searchLayer runs a beam search of width ef on level and returns the found
// items nearest first. The skip slot is never returned.
func (h *HNSW) searchLayer(q []float32, eps []item, ef int, level int, skip uint32) []item {
	var visited bitset.BitSet

	visited.Set(uint(skip))

	candidates := newQueue(false, ef)
	top := newQueue(true, ef+1)

	for _, ep := range eps {
		if visited.Test(uint(ep.slot)) {
			continue
		}

		visited.Set(uint(ep.slot))
		candidates.push(ep)
		top.push(ep)
	}

	for candidates.Len() > 0 {
		c := candidates.pop()
		if top.Len() >= ef && c.dist > top.top().dist {
			break
		}

		n := h.nodes[c.slot]
		if level >= len(n.connections) {
			continue
		}

		for _, s := range n.connections[level] {
			if visited.Test(uint(s)) {
				continue
			}

			visited.Set(uint(s))

			d := h.dist(q, h.nodes[s].vector)
			if top.Len() < ef || d < top.top().dist {
				candidates.push(item{slot: s, dist: d})
				top.push(item{slot: s, dist: d})

				if top.Len() > ef {
					top.pop()
				}
			}
		}
	}

	return top.drain()
}

// selectNeighbours picks up to m items from candidates ordered nearest first.
func (h *HNSW) selectNeighbours(candidates []item, m int) []item {
	if len(candidates) <= m {
		return candidates
	}

	if !h.opts.Heuristic {
		return candidates[:m]
	}

	selected := make([]item, 0, m)
	pruned := make([]item, 0, len(candidates))

	for _, c := range candidates {
		if len(selected) >= m {
			break
		}

		keep := true

		for _, s := range selected {
			if h.dist(h.nodes[s.slot].vector, h.nodes[c.slot].vector) < c.dist {
				keep = false
				break
			}
		}

		if keep {
			selected = append(selected, c)
		} else {
			pruned = append(pruned, c)
		}
	}

	// Top up with the nearest discarded candidates.
	for i := 0; len(selected) < m && i < len(pruned); i++ {
		selected = append(selected, pruned[i])
	}

	return selected
}

func (h *HNSW) bound(level int) int {
	if level == 0 {
		return h.mmax0
	}

	return h.mmax
}

// link adds target to the neighbour list of from on level and prunes the
// list back to its bound when it overflows.
func (h *HNSW) link(from, target uint32, level int) {
	n := h.nodes[from]

	for _, s := range n.connections[level] {
		if s == target {
			return
		}
	}

	n.connections[level] = append(n.connections[level], target)

	if len(n.connections[level]) > h.bound(level) {
		h.shrink(from, n.connections[level], level)
	}
}

// shrink replaces the neighbour list of slot on level with the best entries
// of candidates.
func (h *HNSW) shrink(slot uint32, candidates []uint32, level int) {
	n := h.nodes[slot]

	items := make([]item, 0, len(candidates))
	for _, s := range candidates {
		items = append(items, item{slot: s, dist: h.dist(n.vector, h.nodes[s].vector)})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].dist < items[j].dist })

	selected := h.selectNeighbours(items, h.bound(level))

	conns := make([]uint32, len(selected))
	for i, c := range selected {
		conns[i] = c.slot
	}

	n.connections[level] = conns
}

// Search returns the k nearest ids to query using the configured EfSearch.
func (h *HNSW) Search(query []float32, k int) ([]Result, error) {
	return h.SearchWithEf(query, k, h.opts.EfSearch)
}

// SearchWithEf returns the k nearest ids to query with a beam of width
// max(ef, k) on the base layer.
func (h *HNSW) SearchWithEf(query []float32, k int, ef int) ([]Result, error) {
	if len(query) != h.dimension {
		return nil, &ErrDimensionMismatch{Expected: h.dimension, Actual: len(query)}
	}

	if k <= 0 {
		return nil, ErrInvalidK
	}

	if !h.hasEP {
		return []Result{}, nil
	}

	curr := item{slot: h.ep, dist: h.dist(query, h.nodes[h.ep].vector)}

	for l := h.maxLevel; l > 0; l-- {
		curr = h.greedy(query, curr, l)
	}

	// Sentinel slot past the end so nothing is skipped.
	found := h.searchLayer(query, []item{curr}, max(ef, k), 0, uint32(len(h.nodes)))

	if len(found) > k {
		found = found[:k]
	}

	results := make([]Result, len(found))
	for i, f := range found {
		results[i] = Result{
			ID:       h.nodes[f.slot].id,
			Distance: f.dist,
			Score:    distance.Similarity(h.opts.Metric, f.dist),
		}
	}

	return results, nil
}

// BruteSearch scans every node. It is exact and meant as a recall reference.
func (h *HNSW) BruteSearch(query []float32, k int) ([]Result, error) {
	if len(query) != h.dimension {
		return nil, &ErrDimensionMismatch{Expected: h.dimension, Actual: len(query)}
	}

	if k <= 0 {
		return nil, ErrInvalidK
	}

	top := newQueue(true, k+1)

	for slot, n := range h.nodes {
		if n == nil {
			continue
		}

		d := h.dist(query, n.vector)
		if top.Len() < k || d < top.top().dist {
			top.push(item{slot: uint32(slot), dist: d})

			if top.Len() > k {
				top.pop()
			}
		}
	}

	found := top.drain()

	results := make([]Result, len(found))
	for i, f := range found {
		results[i] = Result{
			ID:       h.nodes[f.slot].id,
			Distance: f.dist,
			Score:    distance.Similarity(h.opts.Metric, f.dist),
		}
	}

	return results, nil
}

// Delete removes id together with every inbound and outbound edge. Former
// neighbours are reconnected from the deleted node's neighbourhood. It
// reports whether id was indexed.
func (h *HNSW) Delete(id string) bool {
	slot, ok := h.ids[id]
	if !ok {
		return false
	}

	dead := h.nodes[slot]

	for l := 0; l <= dead.level; l++ {
		for s, n := range h.nodes {
			if n == nil || uint32(s) == slot || n.level < l {
				continue
			}

			idx := indexOf(n.connections[l], slot)
			if idx < 0 {
				continue
			}

			remaining := append(n.connections[l][:idx:idx], n.connections[l][idx+1:]...)
			h.repair(uint32(s), remaining, dead.connections[l], slot, l)
		}
	}

	h.nodes[slot] = nil
	delete(h.ids, id)
	h.free.Add(slot)

	if h.ep == slot {
		h.reassignEntryPoint()
	}

	return true
}

// repair rebuilds the neighbour list of slot on level from its remaining
// neighbours and the neighbourhood of the removed node.
func (h *HNSW) repair(slot uint32, remaining, inherited []uint32, removed uint32, level int) {
	seen := make(map[uint32]struct{}, len(remaining)+len(inherited))
	candidates := make([]uint32, 0, len(remaining)+len(inherited))

	for _, list := range [][]uint32{remaining, inherited} {
		for _, s := range list {
			if s == slot || s == removed {
				continue
			}

			if _, dup := seen[s]; dup {
				continue
			}

			seen[s] = struct{}{}
			candidates = append(candidates, s)
		}
	}

	h.shrink(slot, candidates, level)
}

func (h *HNSW) reassignEntryPoint() {
	h.hasEP = false
	h.maxLevel = 0

	for s, n := range h.nodes {
		if n == nil {
			continue
		}

		if !h.hasEP || n.level > h.maxLevel {
			h.ep, h.hasEP, h.maxLevel = uint32(s), true, n.level
		}
	}
}

func indexOf(list []uint32, v uint32) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}

	return -1
}
