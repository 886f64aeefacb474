// Package queue is a FIFO of buffer handles with its own lock, used for the
// pending and complete queues of a stream.
package queue

import (
	"sync"

	"github.com/lanikai/vout/internal/buffer"
)

// Queue is a ring-buffer deque. All methods are safe for concurrent use.
type Queue struct {
	mu    sync.RWMutex
	ring  []buffer.Handle
	head  int
	count int
}

func New(capacity int) *Queue {
	if capacity < 4 {
		capacity = 4
	}
	return &Queue{ring: make([]buffer.Handle, capacity)}
}

func (q *Queue) grow() {
	ring := make([]buffer.Handle, 2*len(q.ring))
	for i := 0; i < q.count; i++ {
		ring[i] = q.ring[(q.head+i)%len(q.ring)]
	}
	q.ring = ring
	q.head = 0
}

func (q *Queue) at(i int) int {
	return (q.head + i) % len(q.ring)
}

func (q *Queue) PushBack(h buffer.Handle) {
	q.mu.Lock()
	if q.count == len(q.ring) {
		q.grow()
	}
	q.ring[q.at(q.count)] = h
	q.count++
	q.mu.Unlock()
}

// PushFront puts h back at the head, e.g. after a failed submission.
func (q *Queue) PushFront(h buffer.Handle) {
	q.mu.Lock()
	if q.count == len(q.ring) {
		q.grow()
	}
	q.head = (q.head + len(q.ring) - 1) % len(q.ring)
	q.ring[q.head] = h
	q.count++
	q.mu.Unlock()
}

func (q *Queue) PopFront() (buffer.Handle, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return buffer.Handle{}, false
	}
	h := q.ring[q.head]
	q.ring[q.head] = buffer.Handle{}
	q.head = q.at(1)
	q.count--
	return h, true
}

func (q *Queue) Front() (buffer.Handle, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.count == 0 {
		return buffer.Handle{}, false
	}
	return q.ring[q.head], true
}

// PopFrontIf removes the head only if it is still h. Used after a slow
// operation on the head to avoid removing an entry that replaced it.
func (q *Queue) PopFrontIf(h buffer.Handle) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 || q.ring[q.head] != h {
		return false
	}
	q.ring[q.head] = buffer.Handle{}
	q.head = q.at(1)
	q.count--
	return true
}

// Remove deletes h wherever it is, preserving the order of the rest.
func (q *Queue) Remove(h buffer.Handle) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := 0; i < q.count; i++ {
		if q.ring[q.at(i)] != h {
			continue
		}
		for j := i; j < q.count-1; j++ {
			q.ring[q.at(j)] = q.ring[q.at(j+1)]
		}
		q.ring[q.at(q.count-1)] = buffer.Handle{}
		q.count--
		return true
	}
	return false
}

func (q *Queue) Contains(h buffer.Handle) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for i := 0; i < q.count; i++ {
		if q.ring[q.at(i)] == h {
			return true
		}
	}
	return false
}

func (q *Queue) Empty() bool {
	return q.Len() == 0
}

func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.count
}

// Drain empties the queue, returning its contents in order.
func (q *Queue) Drain() []buffer.Handle {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]buffer.Handle, q.count)
	for i := range out {
		out[i] = q.ring[q.at(i)]
		q.ring[q.at(i)] = buffer.Handle{}
	}
	q.head, q.count = 0, 0
	return out
}
