package audio

import (
	"container/heap"
	"sync"
)

// Fragment is one chunk of audio as carried by a single SOUND packet.
type Fragment struct {
	SequenceID uint32
	Frames     Frames
}

// PushResult describes what SequenceQueue.Push did with a fragment.
type PushResult int

const (
	Queued PushResult = iota
	// QueuedEvicted means the fragment was queued and the oldest queued
	// fragment was dropped to stay within capacity.
	QueuedEvicted
	DroppedStale
	DroppedDuplicate
)

// QueueOptions configures a SequenceQueue.
type QueueOptions struct {
	// Capacity bounds the number of queued fragments. Zero means unbounded.
	Capacity int
	// DropStale rejects fragments whose id is not newer than the last popped
	// id, and fragments whose id is already queued.
	DropStale bool
}

// SequenceQueue orders fragments by ascending sequence id on read.
// Fragments with equal ids are returned in arrival order.
// It is safe for concurrent use and never blocks.
type SequenceQueue struct {
	mu      sync.Mutex
	opts    QueueOptions
	items   fragmentHeap
	queued  map[uint32]int
	arrival uint64

	popped  bool
	lastPop uint32
}

func NewSequenceQueue(opts QueueOptions) *SequenceQueue {
	return &SequenceQueue{opts: opts, queued: make(map[uint32]int)}
}

// Push queues a fragment.
func (q *SequenceQueue) Push(f Fragment) PushResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.opts.DropStale {
		if q.popped && f.SequenceID <= q.lastPop {
			return DroppedStale
		}
		if q.queued[f.SequenceID] > 0 {
			return DroppedDuplicate
		}
	}

	result := Queued
	if q.opts.Capacity > 0 && q.items.Len() >= q.opts.Capacity {
		q.popLocked()
		result = QueuedEvicted
	}

	q.arrival++
	heap.Push(&q.items, queuedFragment{Fragment: f, arrival: q.arrival})
	q.queued[f.SequenceID]++
	return result
}

// Pop removes and returns the fragment with the lowest sequence id.
// ok is false when the queue is empty.
func (q *SequenceQueue) Pop() (f Fragment, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *SequenceQueue) popLocked() (Fragment, bool) {
	if q.items.Len() == 0 {
		return Fragment{}, false
	}
	item := heap.Pop(&q.items).(queuedFragment)
	if n := q.queued[item.SequenceID]; n <= 1 {
		delete(q.queued, item.SequenceID)
	} else {
		q.queued[item.SequenceID] = n - 1
	}
	q.popped = true
	q.lastPop = item.SequenceID
	return item.Fragment, true
}

// Len returns the number of queued fragments.
func (q *SequenceQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

type queuedFragment struct {
	Fragment
	arrival uint64
}

type fragmentHeap []queuedFragment

func (h fragmentHeap) Len() int { return len(h) }

func (h fragmentHeap) Less(i, j int) bool {
	if h[i].SequenceID != h[j].SequenceID {
		return h[i].SequenceID < h[j].SequenceID
	}
	return h[i].arrival < h[j].arrival
}

func (h fragmentHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *fragmentHeap) Push(x any) { *h = append(*h, x.(queuedFragment)) }

func (h *fragmentHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = queuedFragment{}
	*h = old[:n-1]
	return item
}
