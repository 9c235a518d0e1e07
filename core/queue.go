package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	defaultQueueCap     = 16
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when len < cap/4
)

type queuedTask struct {
	id         uuid.UUID
	task       Task
	sequence   uint64
	enqueuedAt time.Time
}

// TaskQueue is a named FIFO work queue owned by a QueueManager. Tasks within
// one queue execute in posting order; across queues the manager picks the
// highest-priority queue first and falls back to global posting order between
// queues at the same priority. All mutable queue state is guarded by the
// owning manager's lock so that queue selection sees a consistent view.
type TaskQueue struct {
	manager *QueueManager
	name    string

	// Guarded by manager.mu.
	priority     QueuePriority
	enabled      bool
	tasks        []queuedTask
	observers    []TaskObserver
	unregistered bool
}

// Name returns the queue's name.
func (q *TaskQueue) Name() string {
	return q.name
}

// PostTask enqueues task for execution.
func (q *TaskQueue) PostTask(task Task) {
	m := q.manager
	m.mu.Lock()
	if m.isShutdownLocked() || q.unregistered {
		m.mu.Unlock()
		return
	}
	q.tasks = append(q.tasks, queuedTask{
		id:         uuid.New(),
		task:       task,
		sequence:   m.nextSequence,
		enqueuedAt: m.timeDomain.Now(),
	})
	m.nextSequence++
	m.mu.Unlock()

	m.signalWork()
}

// PostDelayedTask enqueues task to run after delay, measured on the manager's
// TimeDomain. The returned handle cancels the pending run; cancellation after
// firing is a harmless no-op.
func (q *TaskQueue) PostDelayedTask(task Task, delay time.Duration) *CancelableClosure {
	handle := NewCancelableClosure(nil)
	guarded := func(ctx context.Context) {
		if handle.tryRun() {
			task(ctx)
		}
	}
	q.manager.delayManager.AddDelayedTask(guarded, delay, q, handle)
	return handle
}

// SetPriority changes the queue's priority level. Takes effect for the next
// dequeue decision; an in-flight task is unaffected.
func (q *TaskQueue) SetPriority(p QueuePriority) {
	m := q.manager
	m.mu.Lock()
	q.priority = p
	m.mu.Unlock()
	m.signalWork()
}

// Priority returns the queue's current priority level.
func (q *TaskQueue) Priority() QueuePriority {
	q.manager.mu.Lock()
	defer q.manager.mu.Unlock()
	return q.priority
}

// SetEnabled toggles dequeuing independently of priority. Used for queues
// that are gated by an external condition, like the idle queue which only
// runs inside an idle period.
func (q *TaskQueue) SetEnabled(enabled bool) {
	m := q.manager
	m.mu.Lock()
	q.enabled = enabled
	m.mu.Unlock()
	if enabled {
		m.signalWork()
	}
}

// IsEnabled reports whether the queue can currently be dequeued from: it must
// be enabled and not at DisabledPriority.
func (q *TaskQueue) IsEnabled() bool {
	q.manager.mu.Lock()
	defer q.manager.mu.Unlock()
	return q.dequeuableLocked()
}

func (q *TaskQueue) dequeuableLocked() bool {
	return q.enabled && q.priority != DisabledPriority && !q.unregistered
}

// HasPendingImmediateTask reports whether any task is queued, regardless of
// whether the queue is currently dequeuable.
func (q *TaskQueue) HasPendingImmediateTask() bool {
	q.manager.mu.Lock()
	defer q.manager.mu.Unlock()
	return len(q.tasks) > 0
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int {
	q.manager.mu.Lock()
	defer q.manager.mu.Unlock()
	return len(q.tasks)
}

// AddTaskObserver attaches obs to this queue. Observers run around every task
// executed from the queue, on the scheduling goroutine.
func (q *TaskQueue) AddTaskObserver(obs TaskObserver) {
	q.manager.mu.Lock()
	defer q.manager.mu.Unlock()
	q.observers = append(q.observers, obs)
}

// RemoveTaskObserver detaches obs. Removing an observer that was never
// registered is a programming error.
func (q *TaskQueue) RemoveTaskObserver(obs TaskObserver) {
	q.manager.mu.Lock()
	defer q.manager.mu.Unlock()
	for i, o := range q.observers {
		if o == obs {
			q.observers = append(q.observers[:i], q.observers[i+1:]...)
			return
		}
	}
	panic(fmt.Sprintf("RemoveTaskObserver: observer not registered on queue %q", q.name))
}

// popLocked removes and returns the head task. Caller holds manager.mu and
// has verified the queue is non-empty.
func (q *TaskQueue) popLocked() queuedTask {
	item := q.tasks[0]
	q.tasks[0] = queuedTask{} // release references held by the slot
	q.tasks = q.tasks[1:]
	q.maybeCompactLocked()
	return item
}

func (q *TaskQueue) headSequenceLocked() (uint64, bool) {
	if len(q.tasks) == 0 {
		return 0, false
	}
	return q.tasks[0].sequence, true
}

func (q *TaskQueue) maybeCompactLocked() {
	n := len(q.tasks)
	c := cap(q.tasks)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.tasks = make([]queuedTask, 0, defaultQueueCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	newCap := max(max(c/2, defaultQueueCap), n)

	newSlice := make([]queuedTask, n, newCap)
	copy(newSlice, q.tasks)
	q.tasks = newSlice
}

// clearLocked drops all queued tasks and releases their references.
func (q *TaskQueue) clearLocked() {
	q.tasks = make([]queuedTask, 0, defaultQueueCap)
}
