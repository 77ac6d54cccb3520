package hnsw

import "container/heap"

// Compile time check to ensure queue satisfies the heap interface.
var _ heap.Interface = (*queue)(nil)

// item pairs a graph slot with its distance to the current query.
type item struct {
	slot uint32
	dist float32
}

// queue is a binary heap of items ordered by distance.
// A max queue keeps the farthest item on top.
type queue struct {
	max   bool
	items []item
}

func newQueue(max bool, capacity int) *queue {
	return &queue{max: max, items: make([]item, 0, capacity)}
}

func (q *queue) Len() int { return len(q.items) }

func (q *queue) Less(i, j int) bool {
	if q.max {
		return q.items[i].dist > q.items[j].dist
	}

	return q.items[i].dist < q.items[j].dist
}

func (q *queue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *queue) Push(x any) { q.items = append(q.items, x.(item)) }

func (q *queue) Pop() any {
	n := len(q.items)
	it := q.items[n-1]
	q.items = q.items[:n-1]

	return it
}

func (q *queue) push(it item) { heap.Push(q, it) }

func (q *queue) pop() item { return heap.Pop(q).(item) }

func (q *queue) top() item { return q.items[0] }

// drain empties the queue and returns its items ordered nearest first.
func (q *queue) drain() []item {
	out := make([]item, q.Len())

	if q.max {
		for i := len(out) - 1; i >= 0; i-- {
			out[i] = q.pop()
		}
	} else {
		for i := range out {
			out[i] = q.pop()
		}
	}

	return out
}
