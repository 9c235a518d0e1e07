package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// ManagerConfig holds construction options for QueueManager. All fields are
// optional except TimeDomain.
type ManagerConfig struct {
	// TimeDomain supplies the clock for task timing and delayed tasks.
	TimeDomain TimeDomain

	// Logger defaults to DefaultLogger.
	Logger Logger

	// PanicHandler is called when a task panics. Defaults to LoggingPanicHandler.
	PanicHandler PanicHandler

	// HistoryCapacity bounds the execution-record ring buffer.
	HistoryCapacity int
}

// Observer is notified when a queue is unregistered so its owner can detach
// task observers before the queue goes away.
type Observer interface {
	OnUnregisterTaskQueue(queue *TaskQueue)
}

// QueueManager multiplexes a set of TaskQueues onto one logical scheduling
// goroutine. Queues drain strictly by priority; at equal priority, tasks run
// in global posting order (FIFO within and across queues).
//
// Two pumping modes exist. Start spawns a dedicated goroutine that drains
// continuously (the production mode, shaped like a dedicated-thread message
// loop). Without Start, the embedder pumps explicitly with RunUntilIdle or
// RunPendingTasks from a single goroutine; combined with VirtualTimeDomain
// this gives fully deterministic execution for tests and trace replay.
type QueueManager struct {
	mu           sync.Mutex
	queues       []*TaskQueue
	nextSequence uint64

	timeDomain   TimeDomain
	delayManager *DelayManager
	logger       Logger
	panicHandler PanicHandler
	history      *executionHistory
	observer     Observer

	thread ThreadChecker

	signal       chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
	started      atomic.Bool
	stopped      chan struct{}
	shutdownOnce sync.Once
	wasShutdown  atomic.Bool
}

// NewQueueManager creates a manager with no queues. The caller creates queues
// with NewTaskQueue and then either calls Start or pumps manually.
func NewQueueManager(config ManagerConfig) *QueueManager {
	if config.TimeDomain == nil {
		panic("QueueManager requires a TimeDomain")
	}
	logger := config.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	panicHandler := config.PanicHandler
	if panicHandler == nil {
		panicHandler = &LoggingPanicHandler{Logger: logger}
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &QueueManager{
		timeDomain:   config.TimeDomain,
		logger:       logger,
		panicHandler: panicHandler,
		history:      newExecutionHistory(config.HistoryCapacity),
		signal:       make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
		stopped:      make(chan struct{}),
	}
	m.delayManager = NewDelayManager(config.TimeDomain)
	return m
}

// Now returns the current time on the manager's TimeDomain.
func (m *QueueManager) Now() time.Time {
	return m.timeDomain.Now()
}

// TimeDomain returns the manager's clock.
func (m *QueueManager) TimeDomain() TimeDomain {
	return m.timeDomain
}

// Logger returns the manager's logger.
func (m *QueueManager) Logger() Logger {
	return m.logger
}

// ThreadChecker returns the checker bound to the scheduling goroutine, for
// components that keep main-thread-only state of their own.
func (m *QueueManager) ThreadChecker() *ThreadChecker {
	return &m.thread
}

// SetObserver registers the unregistration observer. Must be called before
// any queue is unregistered.
func (m *QueueManager) SetObserver(obs Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = obs
}

// NewTaskQueue creates and registers a queue at NormalPriority, enabled.
func (m *QueueManager) NewTaskQueue(name string) *TaskQueue {
	if m.IsShutdown() {
		panic(fmt.Sprintf("NewTaskQueue(%q) after shutdown", name))
	}
	q := &TaskQueue{
		manager:  m,
		name:     name,
		priority: NormalPriority,
		enabled:  true,
		tasks:    make([]queuedTask, 0, defaultQueueCap),
	}
	m.mu.Lock()
	m.queues = append(m.queues, q)
	m.mu.Unlock()
	return q
}

// UnregisterTaskQueue removes queue from scheduling and drops its pending
// tasks. The registered Observer runs first so owners can detach task
// observers; afterwards the queue accepts no more posts.
func (m *QueueManager) UnregisterTaskQueue(queue *TaskQueue) {
	m.mu.Lock()
	obs := m.observer
	m.mu.Unlock()
	if obs != nil {
		obs.OnUnregisterTaskQueue(queue)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, q := range m.queues {
		if q == queue {
			m.queues = append(m.queues[:i], m.queues[i+1:]...)
			queue.unregistered = true
			queue.clearLocked()
			return
		}
	}
	panic(fmt.Sprintf("UnregisterTaskQueue: queue %q is not registered", queue.name))
}

// NextDelayedRunTime returns the run time of the earliest pending delayed
// task, used to bound long idle periods.
func (m *QueueManager) NextDelayedRunTime() (time.Time, bool) {
	return m.delayManager.NextRunTime()
}

// WakeUpReadyDelayedTasks moves due delayed tasks onto their queues. The
// manual pump calls this after every virtual-time advancement.
func (m *QueueManager) WakeUpReadyDelayedTasks() int {
	return m.delayManager.WakeUpReadyDelayedTasks(m.timeDomain.Now())
}

// IsShutdown reports whether Shutdown has been called.
func (m *QueueManager) IsShutdown() bool {
	return m.wasShutdown.Load()
}

func (m *QueueManager) isShutdownLocked() bool {
	return m.wasShutdown.Load()
}

// signalWork nudges the run loop; a full channel means a wakeup is already
// pending, which is enough.
func (m *QueueManager) signalWork() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// =============================================================================
// Queue selection
// =============================================================================

// takeNextTaskLocked pops the head of the best runnable queue: highest
// priority first, smallest global sequence among equals.
func (m *QueueManager) takeNextTaskLocked() (*TaskQueue, queuedTask, bool) {
	var best *TaskQueue
	var bestSeq uint64
	for _, q := range m.queues {
		if !q.dequeuableLocked() {
			continue
		}
		seq, ok := q.headSequenceLocked()
		if !ok {
			continue
		}
		if best == nil || q.priority > best.priority ||
			(q.priority == best.priority && seq < bestSeq) {
			best = q
			bestSeq = seq
		}
	}
	if best == nil {
		return nil, queuedTask{}, false
	}
	return best, best.popLocked(), true
}

// runOneReadyTask releases due delayed tasks and executes at most one queued
// task. Returns false when no work was runnable.
func (m *QueueManager) runOneReadyTask() bool {
	m.delayManager.WakeUpReadyDelayedTasks(m.timeDomain.Now())

	m.mu.Lock()
	queue, item, ok := m.takeNextTaskLocked()
	var observers []TaskObserver
	if ok {
		observers = append(observers, queue.observers...)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	m.runTask(queue, item, observers)
	return true
}

func (m *QueueManager) runTask(queue *TaskQueue, item queuedTask, observers []TaskObserver) {
	for _, obs := range observers {
		obs.WillProcessTask(queue.name)
	}

	start := m.timeDomain.Now()
	panicked := m.executeWithPanicRecovery(queue, item)
	end := m.timeDomain.Now()

	for _, obs := range observers {
		obs.DidProcessTask(queue.name, start, end)
	}

	m.history.Add(TaskExecutionRecord{
		TaskID:     item.id,
		QueueName:  queue.name,
		Priority:   queue.Priority(),
		EnqueuedAt: item.enqueuedAt,
		StartedAt:  start,
		FinishedAt: end,
		Duration:   end.Sub(start),
		Panicked:   panicked,
	})
}

func (m *QueueManager) executeWithPanicRecovery(queue *TaskQueue, item queuedTask) (panicked bool) {
	defer func() {
		if rec := recover(); rec != nil {
			panicked = true
			m.panicHandler.HandlePanic(m.ctx, queue.name, rec, debug.Stack())
		}
	}()
	runCtx := context.WithValue(m.ctx, queueKey, queue)
	item.task(runCtx)
	return false
}

// =============================================================================
// Manual pumping
// =============================================================================

// RunPendingTasks runs every task that is ready at the moment of the call and
// returns how many ran. Tasks posted by those tasks wait for the next call.
func (m *QueueManager) RunPendingTasks() int {
	m.thread.Check()
	m.delayManager.WakeUpReadyDelayedTasks(m.timeDomain.Now())

	m.mu.Lock()
	fence := m.nextSequence
	m.mu.Unlock()

	ran := 0
	for {
		m.mu.Lock()
		queue, item, ok := m.takeNextTaskLocked()
		var observers []TaskObserver
		if ok && item.sequence < fence {
			observers = append(observers, queue.observers...)
		} else if ok {
			// Put it back: posted after the fence.
			queue.tasks = append([]queuedTask{item}, queue.tasks...)
			ok = false
		}
		m.mu.Unlock()
		if !ok {
			return ran
		}
		m.runTask(queue, item, observers)
		ran++
	}
}

// RunUntilIdle pumps until no queue has a runnable task, including work
// posted while pumping. Delayed tasks whose time has not arrived stay put.
func (m *QueueManager) RunUntilIdle() int {
	m.thread.Check()
	ran := 0
	for m.runOneReadyTask() {
		ran++
	}
	return ran
}

// =============================================================================
// Dedicated-goroutine mode
// =============================================================================

// Start spawns the scheduling goroutine and the delayed-task timer loop.
// Calling Start twice is a no-op.
func (m *QueueManager) Start() {
	if m.started.Swap(true) {
		return
	}
	m.thread.Detach()
	m.delayManager.StartTimerLoop()
	go m.runLoop()
}

func (m *QueueManager) runLoop() {
	m.thread.BindToCurrent()
	defer close(m.stopped)

	for {
		if m.runOneReadyTask() {
			continue
		}
		select {
		case <-m.signal:
		case <-m.ctx.Done():
			return
		}
	}
}

// Shutdown stops the scheduling goroutine (if any), halts delayed-task
// delivery and drops all queued work. Idempotent. After Shutdown, posted
// tasks are silently discarded; creating queues panics.
func (m *QueueManager) Shutdown() {
	m.shutdownOnce.Do(func() {
		m.wasShutdown.Store(true)
		m.delayManager.Stop()
		m.cancel()

		// Wait for the run loop unless we are the run loop: a task calling
		// Shutdown on its own manager must not deadlock.
		if m.started.Load() && !m.thread.CalledOnValidThread() {
			<-m.stopped
		}

		m.mu.Lock()
		for _, q := range m.queues {
			q.clearLocked()
		}
		m.mu.Unlock()
	})
}
