package core

import (
	"context"
	"time"
)

// Task is the unit of work (Closure)
type Task func(ctx context.Context)

// =============================================================================
// QueuePriority: Per-queue priority levels
// =============================================================================

// QueuePriority orders entire task queues rather than individual tasks. The
// queue selector always drains the highest-priority non-empty enabled queue;
// a queue at DisabledPriority is never dequeued.
type QueuePriority int

const (
	// DisabledPriority: the queue is never selected while at this priority.
	DisabledPriority QueuePriority = iota

	// BestEffortPriority: selected only when no higher-priority queue has work.
	BestEffortPriority

	// NormalPriority: the default priority for new queues.
	NormalPriority

	// HighPriority: preempts normal and best-effort work.
	HighPriority

	// ControlPriority: reserved for scheduler-internal bookkeeping tasks.
	// User work must never be posted at this level.
	ControlPriority
)

func (p QueuePriority) String() string {
	switch p {
	case DisabledPriority:
		return "disabled"
	case BestEffortPriority:
		return "best_effort"
	case NormalPriority:
		return "normal"
	case HighPriority:
		return "high"
	case ControlPriority:
		return "control"
	default:
		return "unknown"
	}
}

// =============================================================================
// TaskObserver: per-queue execution hooks
// =============================================================================

// TaskObserver is notified around every task executed from a queue it is
// attached to. Both hooks run on the scheduling goroutine.
type TaskObserver interface {
	WillProcessTask(queueName string)

	// DidProcessTask receives the start and end instants of the task as
	// measured by the manager's TimeDomain, so observers under virtual time
	// see the durations the test arranged rather than wall-clock noise.
	DidProcessTask(queueName string, start, end time.Time)
}

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task panics during execution.
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	HandlePanic(ctx context.Context, queueName string, panicInfo any, stackTrace []byte)
}

// LoggingPanicHandler reports panics through a Logger. This is the default.
type LoggingPanicHandler struct {
	Logger Logger
}

// HandlePanic logs the panic value and stack trace.
func (h *LoggingPanicHandler) HandlePanic(ctx context.Context, queueName string, panicInfo any, stackTrace []byte) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Error("task panicked",
		F("queue", queueName),
		F("panic", panicInfo),
		F("stack", string(stackTrace)))
}

// =============================================================================
// Context Helper
// =============================================================================
type queueKeyType struct{}

var queueKey queueKeyType

// GetCurrentTaskQueue returns the TaskQueue the running task was dequeued
// from, or nil outside task execution.
func GetCurrentTaskQueue(ctx context.Context) *TaskQueue {
	if v := ctx.Value(queueKey); v != nil {
		return v.(*TaskQueue)
	}
	return nil
}
