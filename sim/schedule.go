package sim

import "container/heap"

// BuildSpec names a prototype to build, how many copies, and the children
// each copy gets as soon as it has entered.
type BuildSpec struct {
	Prototype string
	Number    int // 0 means 1
	Children  []BuildSpec
}

func (b BuildSpec) count() int {
	if b.Number <= 0 {
		return 1
	}
	return b.Number
}

type buildOrder struct {
	time   int
	seq    int
	parent Agent // nil for regions
	spec   BuildSpec
}

// buildQueue is a priority queue of pending builds.
// Ordering: time → scheduling sequence
type buildQueue struct {
	items []buildOrder
	seq   int
}

func (q *buildQueue) Len() int { return len(q.items) }

func (q *buildQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.time != b.time {
		return a.time < b.time
	}
	return a.seq < b.seq
}

func (q *buildQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *buildQueue) Push(x any) { q.items = append(q.items, x.(buildOrder)) }

func (q *buildQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	q.items = old[:n-1]
	return item
}

// schedule adds a build, stamping it with the next sequence number.
func (q *buildQueue) schedule(o buildOrder) {
	q.seq++
	o.seq = q.seq
	heap.Push(q, o)
}

// popDue removes and returns the next build due at or before t.
func (q *buildQueue) popDue(t int) (buildOrder, bool) {
	if q.Len() == 0 || q.items[0].time > t {
		return buildOrder{}, false
	}
	return heap.Pop(q).(buildOrder), true
}
