package core

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// delayedTask represents a task scheduled for the future
type delayedTask struct {
	runAt  time.Time
	task   Task
	target *TaskQueue
	handle *CancelableClosure
	index  int // for heap interface
}

// delayedTaskHeap implements heap.Interface
type delayedTaskHeap []*delayedTask

func (h delayedTaskHeap) Len() int           { return len(h) }
func (h delayedTaskHeap) Less(i, j int) bool { return h[i].runAt.Before(h[j].runAt) }
func (h delayedTaskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *delayedTaskHeap) Push(x any) {
	n := len(*h)
	item := x.(*delayedTask)
	item.index = n
	*h = append(*h, item)
}

func (h *delayedTaskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

func (h *delayedTaskHeap) Peek() *delayedTask {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0]
}

// DelayManager holds tasks until their run time arrives on the owning
// TimeDomain, then moves them onto their target queue. With a real time
// domain a timer loop does the releasing; with a virtual domain the manager's
// pump calls WakeUpReadyDelayedTasks after each time advancement, so delayed
// behavior stays deterministic under test.
type DelayManager struct {
	pq         delayedTaskHeap
	mu         sync.Mutex
	timeDomain TimeDomain
	wakeup     chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	loopDone   chan struct{}
	loopOnce   sync.Once
}

// NewDelayManager creates a DelayManager reading time from domain. No
// goroutine is started until StartTimerLoop.
func NewDelayManager(domain TimeDomain) *DelayManager {
	ctx, cancel := context.WithCancel(context.Background())
	dm := &DelayManager{
		pq:         make(delayedTaskHeap, 0),
		timeDomain: domain,
		wakeup:     make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
		loopDone:   make(chan struct{}),
	}
	heap.Init(&dm.pq)
	return dm
}

// AddDelayedTask schedules task onto target after delay. handle, if non-nil,
// lets the pending entry be recognized as canceled before it is released.
func (dm *DelayManager) AddDelayedTask(task Task, delay time.Duration, target *TaskQueue, handle *CancelableClosure) {
	dm.mu.Lock()

	item := &delayedTask{
		runAt:  dm.timeDomain.Now().Add(delay),
		task:   task,
		target: target,
		handle: handle,
	}
	heap.Push(&dm.pq, item)
	isNext := item.index == 0
	dm.mu.Unlock()

	if isNext {
		select {
		case dm.wakeup <- struct{}{}:
		default:
		}
	}
}

// NextRunTime returns the run time of the earliest pending delayed task.
// Canceled entries at the head of the heap are dropped rather than reported,
// so a withdrawn closure cannot shrink an idle period it no longer bounds.
func (dm *DelayManager) NextRunTime() (time.Time, bool) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	for {
		item := dm.pq.Peek()
		if item == nil {
			return time.Time{}, false
		}
		if item.handle != nil && item.handle.IsCanceled() {
			heap.Pop(&dm.pq)
			continue
		}
		return item.runAt, true
	}
}

// WakeUpReadyDelayedTasks posts every task whose run time is at or before now
// onto its target queue, returning how many were released.
func (dm *DelayManager) WakeUpReadyDelayedTasks(now time.Time) int {
	dm.mu.Lock()

	// Collect all expired tasks to avoid holding the lock while posting.
	var expired []*delayedTask
	for dm.pq.Len() > 0 {
		item := dm.pq.Peek()
		if item.runAt.After(now) {
			break
		}
		heap.Pop(&dm.pq)
		expired = append(expired, item)
	}
	dm.mu.Unlock()

	for _, item := range expired {
		item.target.PostTask(item.task)
	}
	return len(expired)
}

// StartTimerLoop spawns the release goroutine. Only meaningful with a real
// time domain; under virtual time the pump releases tasks explicitly.
func (dm *DelayManager) StartTimerLoop() {
	dm.loopOnce.Do(func() {
		go dm.loop()
	})
}

func (dm *DelayManager) loop() {
	defer close(dm.loopDone)

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		nextRun := dm.calculateNextRun()
		if nextRun <= 0 {
			// No tasks, wait for a wakeup.
			nextRun = 1000 * time.Hour
		}

		timer.Reset(nextRun)

		select {
		case <-dm.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			dm.WakeUpReadyDelayedTasks(dm.timeDomain.Now())
		case <-dm.wakeup:
			// New earliest task, recalculate the timer.
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			dm.WakeUpReadyDelayedTasks(dm.timeDomain.Now())
		}
	}
}

// calculateNextRun determines how long to wait until the next task.
// Returns <= 0 if there is nothing pending.
func (dm *DelayManager) calculateNextRun() time.Duration {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	item := dm.pq.Peek()
	if item == nil {
		return 0
	}

	now := dm.timeDomain.Now()
	if !item.runAt.After(now) {
		return time.Nanosecond // already expired, release immediately
	}
	return item.runAt.Sub(now)
}

// TaskCount returns the number of pending delayed tasks.
func (dm *DelayManager) TaskCount() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.pq)
}

// Stop halts the timer loop and drops all pending entries, releasing their
// queue references.
func (dm *DelayManager) Stop() {
	dm.cancel()

	dm.mu.Lock()
	dm.pq = make(delayedTaskHeap, 0)
	heap.Init(&dm.pq)
	dm.mu.Unlock()
}
