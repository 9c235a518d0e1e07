package renderscheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/renderloop/go-render-scheduler/core"
)

// IdlePeriodState is the idle sub-scheduler's state machine.
type IdlePeriodState int

const (
	// IdlePeriodNotInIdle: no idle period is active; the idle queue is disabled.
	IdlePeriodNotInIdle IdlePeriodState = iota

	// IdlePeriodInShortIdle: an idle period bounded by the next expected frame.
	IdlePeriodInShortIdle

	// IdlePeriodInLongIdle: a self-renewing idle period entered when no frames
	// are expected.
	IdlePeriodInLongIdle

	// IdlePeriodInLongIdlePaused: a long idle period was requested but entry is
	// currently disallowed; a retry is pending.
	IdlePeriodInLongIdlePaused
)

func (s IdlePeriodState) String() string {
	switch s {
	case IdlePeriodNotInIdle:
		return "not_in_idle_period"
	case IdlePeriodInShortIdle:
		return "in_short_idle_period"
	case IdlePeriodInLongIdle:
		return "in_long_idle_period"
	case IdlePeriodInLongIdlePaused:
		return "in_long_idle_period_paused"
	default:
		return "unknown"
	}
}

// isActiveIdle reports whether the idle queue must be runnable in this state.
func (s IdlePeriodState) isActiveIdle() bool {
	return s == IdlePeriodInShortIdle || s == IdlePeriodInLongIdle
}

// IdleTask runs only inside an idle period. The deadline is a hard upper
// bound; tasks must check it cooperatively and stop when it passes, the
// scheduler never interrupts them.
type IdleTask func(ctx context.Context, deadline time.Time)

// IdleHelperDelegate is how the idle sub-scheduler consults and notifies its
// owner. All calls happen on the scheduling goroutine.
type IdleHelperDelegate interface {
	// CanEnterLongIdlePeriod reports whether a long idle period may start now.
	// When it may not (a touch start response is pending, say), retryAfter
	// says when the blocking condition is due to expire.
	CanEnterLongIdlePeriod(now time.Time) (ok bool, retryAfter time.Duration)

	OnIdlePeriodStarted()
	OnIdlePeriodEnded()
}

// IdleHelper carves guaranteed idle time out of the schedule. It owns the
// idle task queue and the short/long idle state machine; the owning scheduler
// drives it from frame and visibility signals. All state is main-thread-only.
type IdleHelper struct {
	manager      *core.QueueManager
	controlQueue *core.TaskQueue
	idleQueue    *core.TaskQueue
	delegate     IdleHelperDelegate
	settings     IdleSettings
	logger       core.Logger

	state              IdlePeriodState
	idlePeriodDeadline time.Time
	lastIdlePeriodEnd  time.Time

	// Next scheduled EnableLongIdlePeriod, either a paused retry or the
	// renewal due at a long idle deadline; canceled whenever the state
	// machine moves on before it fires.
	pendingEnableLongIdle *core.CancelableClosure
}

// NewIdleHelper creates the helper and its idle queue. The queue starts
// disabled; it only opens inside an idle period.
func NewIdleHelper(manager *core.QueueManager, controlQueue *core.TaskQueue, delegate IdleHelperDelegate, settings IdleSettings) *IdleHelper {
	idleQueue := manager.NewTaskQueue("idle_tq")
	idleQueue.SetEnabled(false)
	return &IdleHelper{
		manager:      manager,
		controlQueue: controlQueue,
		idleQueue:    idleQueue,
		delegate:     delegate,
		settings:     settings,
		logger:       manager.Logger(),
		state:        IdlePeriodNotInIdle,
	}
}

// IdleQueue returns the idle task queue, for priority policy and inspection.
func (h *IdleHelper) IdleQueue() *core.TaskQueue {
	return h.idleQueue
}

// State returns the current idle period state.
func (h *IdleHelper) State() IdlePeriodState {
	h.manager.ThreadChecker().Check()
	return h.state
}

// CurrentIdleTaskDeadline returns the deadline idle tasks must respect, zero
// outside an active idle period.
func (h *IdleHelper) CurrentIdleTaskDeadline() time.Time {
	if !h.state.isActiveIdle() {
		return time.Time{}
	}
	return h.idlePeriodDeadline
}

// CanExceedIdleDeadlineIfRequired reports whether an idle task may run past
// its deadline. Only a long idle period allows it: no frame is expected, so
// overrunning cannot cause a missed frame.
func (h *IdleHelper) CanExceedIdleDeadlineIfRequired() bool {
	h.manager.ThreadChecker().Check()
	return h.state == IdlePeriodInLongIdle
}

// HadAnIdlePeriodRecently reports whether an idle period ended within the
// starvation threshold, meaning idle work has not been starved for long.
func (h *IdleHelper) HadAnIdlePeriodRecently(now time.Time) bool {
	if h.lastIdlePeriodEnd.IsZero() {
		return false
	}
	return now.Sub(h.lastIdlePeriodEnd) < h.settings.StarvationThreshold()
}

// PostIdleTask enqueues task for the next idle period. The task receives the
// deadline in effect when it actually runs.
func (h *IdleHelper) PostIdleTask(task IdleTask) {
	h.idleQueue.PostTask(func(ctx context.Context) {
		task(ctx, h.idlePeriodDeadline)
		h.updateLongIdlePeriodAfterIdleTask()
	})
}

// StartIdlePeriod enters a short or long idle period ending at deadline.
// Double-starting without an intervening end is a programming error.
func (h *IdleHelper) StartIdlePeriod(state IdlePeriodState, now, deadline time.Time) {
	h.manager.ThreadChecker().Check()
	if !state.isActiveIdle() {
		panic(fmt.Sprintf("StartIdlePeriod: %v is not an idle period state", state))
	}
	if h.state.isActiveIdle() {
		panic(fmt.Sprintf("StartIdlePeriod: already in %v", h.state))
	}
	h.cancelPendingEnable()
	h.enterIdlePeriod(state, deadline)
}

func (h *IdleHelper) enterIdlePeriod(state IdlePeriodState, deadline time.Time) {
	h.state = state
	h.idlePeriodDeadline = deadline
	h.idleQueue.SetEnabled(true)
	if state == IdlePeriodInLongIdle {
		// Renew at the deadline even when no idle task runs to completion
		// before then, so late-posted idle tasks never see a stale deadline.
		h.pendingEnableLongIdle = h.controlQueue.PostDelayedTask(func(ctx context.Context) {
			h.EnableLongIdlePeriod()
		}, deadline.Sub(h.manager.Now()))
	}
	h.logger.Debug("idle period started",
		core.F("state", state.String()),
		core.F("deadline", deadline))
	h.delegate.OnIdlePeriodStarted()
}

// EndIdlePeriod leaves any idle state. Calling it when no idle period is
// active is a tolerated no-op; frame and visibility signals race benignly.
func (h *IdleHelper) EndIdlePeriod() {
	h.manager.ThreadChecker().Check()
	h.cancelPendingEnable()

	wasActive := h.state.isActiveIdle()
	if h.state == IdlePeriodNotInIdle {
		return
	}
	h.state = IdlePeriodNotInIdle
	h.idlePeriodDeadline = time.Time{}
	if !wasActive {
		// Paused long idle: nothing was started, nothing to notify.
		return
	}
	h.idleQueue.SetEnabled(false)
	h.lastIdlePeriodEnd = h.manager.Now()
	h.logger.Debug("idle period ended")
	h.delegate.OnIdlePeriodEnded()
}

// EnableLongIdlePeriod requests a long idle period. If the delegate currently
// disallows entry the helper parks in the paused state and retries when the
// blocking condition is due to expire; if too little time remains before the
// next pending delayed task it likewise pauses until that task is due.
func (h *IdleHelper) EnableLongIdlePeriod() {
	h.manager.ThreadChecker().Check()
	h.cancelPendingEnable()
	if h.state.isActiveIdle() {
		h.EndIdlePeriod()
	}

	now := h.manager.Now()
	ok, retryAfter := h.delegate.CanEnterLongIdlePeriod(now)
	if !ok {
		h.pauseAndRetry(retryAfter)
		return
	}

	duration := h.longIdlePeriodDuration(now)
	if duration < h.settings.MinimumIdlePeriodDuration() {
		// A delayed task is about to run; wait for it rather than opening a
		// uselessly short window.
		h.pauseAndRetry(duration)
		return
	}
	h.state = IdlePeriodNotInIdle
	h.enterIdlePeriod(IdlePeriodInLongIdle, now.Add(duration))
}

// longIdlePeriodDuration bounds the long idle window by the earlier of the
// maximum idle period and the next pending delayed task.
func (h *IdleHelper) longIdlePeriodDuration(now time.Time) time.Duration {
	duration := h.settings.MaximumIdlePeriod()
	if next, ok := h.manager.NextDelayedRunTime(); ok {
		if until := next.Sub(now); until < duration {
			duration = until
		}
	}
	if duration < 0 {
		duration = 0
	}
	return duration
}

func (h *IdleHelper) pauseAndRetry(retryAfter time.Duration) {
	h.state = IdlePeriodInLongIdlePaused
	if retryAfter < h.settings.MinimumIdlePeriodDuration() {
		retryAfter = h.settings.MinimumIdlePeriodDuration()
	}
	h.pendingEnableLongIdle = h.controlQueue.PostDelayedTask(func(ctx context.Context) {
		h.EnableLongIdlePeriod()
	}, retryAfter)
}

// updateLongIdlePeriodAfterIdleTask renews a long idle period whose deadline
// an idle task has drained past, keeping idle work flowing while no frames
// are expected.
func (h *IdleHelper) updateLongIdlePeriodAfterIdleTask() {
	if h.state != IdlePeriodInLongIdle {
		return
	}
	if h.manager.Now().Before(h.idlePeriodDeadline) {
		return
	}
	h.EnableLongIdlePeriod()
}

func (h *IdleHelper) cancelPendingEnable() {
	if h.pendingEnableLongIdle != nil {
		h.pendingEnableLongIdle.Cancel()
		h.pendingEnableLongIdle = nil
	}
}
