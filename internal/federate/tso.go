package federate

import "container/heap"

// tsoItem is a timestamp ordered delivery waiting for a grant.
type tsoItem[T any] struct {
	time    T
	seq     uint64
	deliver func()
}

// tsoQueue orders deliveries by timestamp, then by arrival.
type tsoQueue[T any] struct {
	items   []tsoItem[T]
	compare func(a, b T) int
	seq     uint64
}

func newTSOQueue[T any](compare func(a, b T) int) *tsoQueue[T] {
	return &tsoQueue[T]{compare: compare}
}

func (q *tsoQueue[T]) Len() int { return len(q.items) }

func (q *tsoQueue[T]) Less(i, j int) bool {
	if c := q.compare(q.items[i].time, q.items[j].time); c != 0 {
		return c < 0
	}
	return q.items[i].seq < q.items[j].seq
}

func (q *tsoQueue[T]) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *tsoQueue[T]) Push(x any) { q.items = append(q.items, x.(tsoItem[T])) }

func (q *tsoQueue[T]) Pop() any {
	n := len(q.items)
	item := q.items[n-1]
	q.items[n-1] = tsoItem[T]{}
	q.items = q.items[:n-1]
	return item
}

func (q *tsoQueue[T]) push(t T, deliver func()) {
	q.seq++
	heap.Push(q, tsoItem[T]{time: t, seq: q.seq, deliver: deliver})
}

// peek returns the earliest waiting timestamp.
func (q *tsoQueue[T]) peek() (T, bool) {
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	return q.items[0].time, true
}

// popThrough removes the earliest item when its timestamp is at most t.
func (q *tsoQueue[T]) popThrough(t T) (tsoItem[T], bool) {
	if len(q.items) == 0 || q.compare(q.items[0].time, t) > 0 {
		return tsoItem[T]{}, false
	}
	return heap.Pop(q).(tsoItem[T]), true
}

// drain removes every item in delivery order.
func (q *tsoQueue[T]) drain() []tsoItem[T] {
	out := make([]tsoItem[T], 0, len(q.items))
	for len(q.items) > 0 {
		out = append(out, heap.Pop(q).(tsoItem[T]))
	}
	return out
}
