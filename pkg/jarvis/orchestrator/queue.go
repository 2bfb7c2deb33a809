package orchestrator

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/jarvis/pkg/jarvis/action"
)

// Queue is a blocking min-heap of actions ordered by (priority, sequence).
// It is safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	items actionHeap
	seq   uint64

	// active counts popped actions not yet marked Done.
	active int

	// notify has capacity 1; a pending token means "items may be available".
	notify chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push assigns the next sequence number and inserts a. It never blocks
// beyond acquiring the queue lock. The stamped action is returned.
func (q *Queue) Push(a action.Action) action.Action {
	q.mu.Lock()
	q.seq++
	a.Sequence = q.seq
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.EnqueuedAt.IsZero() {
		a.EnqueuedAt = time.Now()
	}
	heap.Push(&q.items, a)
	q.mu.Unlock()

	q.signal()
	return a
}

// Pop removes and returns the most urgent action, blocking until one is
// available or ctx is cancelled. Callers must call Done when finished.
func (q *Queue) Pop(ctx context.Context) (action.Action, error) {
	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			a := heap.Pop(&q.items).(action.Action)
			q.active++
			more := q.items.Len() > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return a, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return action.Action{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// restore puts back an action popped by a worker that is shutting down,
// keeping its original sequence.
func (q *Queue) restore(a action.Action) {
	q.mu.Lock()
	q.active--
	heap.Push(&q.items, a)
	q.mu.Unlock()
	q.signal()
}

// Done marks an action returned by Pop as finished.
func (q *Queue) Done() {
	q.mu.Lock()
	q.active--
	q.mu.Unlock()
}

// Idle reports whether the queue is empty and every popped action is Done.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len() == 0 && q.active == 0
}

// Len returns the number of queued actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Snapshot returns the queued actions in dispatch order without removing them.
func (q *Queue) Snapshot() []action.Action {
	q.mu.Lock()
	cp := make(actionHeap, len(q.items))
	copy(cp, q.items)
	q.mu.Unlock()

	out := make([]action.Action, 0, len(cp))
	for cp.Len() > 0 {
		out = append(out, heap.Pop(&cp).(action.Action))
	}
	return out
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

type actionHeap []action.Action

func (h actionHeap) Len() int { return len(h) }

func (h actionHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].Sequence < h[j].Sequence
}

func (h actionHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *actionHeap) Push(x any) { *h = append(*h, x.(action.Action)) }

func (h *actionHeap) Pop() any {
	old := *h
	n := len(old)
	a := old[n-1]
	old[n-1] = action.Action{}
	*h = old[:n-1]
	return a
}
