package hnsw

import (
	"container/heap"
	"sort"
)

type candidate struct {
	id   uint32
	dist float32
}

// closer orders candidates by distance, breaking ties by slot so that
// earlier insertions win.
func closer(a, b candidate) bool {
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	return a.id < b.id
}

// priorityQueue is a binary heap of candidates. With farthest set the top is
// the worst candidate, otherwise the best.
type priorityQueue struct {
	items    []candidate
	farthest bool
}

var _ heap.Interface = (*priorityQueue)(nil)

func newQueue(farthest bool, capacity int) *priorityQueue {
	return &priorityQueue{items: make([]candidate, 0, capacity), farthest: farthest}
}

func (pq *priorityQueue) Len() int { return len(pq.items) }

func (pq *priorityQueue) Less(i, j int) bool {
	if pq.farthest {
		return closer(pq.items[j], pq.items[i])
	}
	return closer(pq.items[i], pq.items[j])
}

func (pq *priorityQueue) Swap(i, j int) { pq.items[i], pq.items[j] = pq.items[j], pq.items[i] }

func (pq *priorityQueue) Push(x any) { pq.items = append(pq.items, x.(candidate)) }

func (pq *priorityQueue) Pop() any {
	old := pq.items
	n := len(old)
	item := old[n-1]
	pq.items = old[:n-1]
	return item
}

func (pq *priorityQueue) push(c candidate) { heap.Push(pq, c) }

func (pq *priorityQueue) pop() candidate { return heap.Pop(pq).(candidate) }

func (pq *priorityQueue) top() candidate { return pq.items[0] }

// sorted returns the queue's items closest first. The queue is left empty.
func (pq *priorityQueue) sorted() []candidate {
	out := pq.items
	pq.items = nil
	sort.Slice(out, func(i, j int) bool { return closer(out[i], out[j]) })
	return out
}
