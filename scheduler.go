package renderscheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/renderloop/go-render-scheduler/core"
)

// BeginFrameArgs describes an upcoming compositor frame.
type BeginFrameArgs struct {
	// FrameTime is when the frame began.
	FrameTime time.Time

	// Interval is the expected time between frames.
	Interval time.Duration

	// OnCriticalPath reports whether this frame's main-thread work is on the
	// critical rendering path.
	OnCriticalPath bool
}

// Config holds construction options for RendererScheduler.
type Config struct {
	// TimeDomain supplies the clock. Defaults to RealTimeDomain.
	TimeDomain core.TimeDomain

	// Logger defaults to core.DefaultLogger.
	Logger core.Logger

	// Settings defaults to DefaultSettings().
	Settings *Settings
}

// RendererScheduler multiplexes compositor, input, loading, timer and idle
// work onto one scheduling goroutine. It classifies incoming signals (frame
// ticks, input events, navigation, visibility) into a UseCase, derives a
// Policy from it and the observed task costs, and applies that policy to the
// task queues. An idle sub-scheduler carves out guaranteed idle time between
// frames.
//
// Threading: lifecycle notifications and task-runner accessors are
// main-thread APIs (the goroutine that pumps the queue manager, asserted via
// its ThreadChecker). DidHandleInputEventOnCompositorThread and
// DidAnimateForInputOnCompositorThread may be called from any goroutine; the
// small set of state shared between the two sides lives behind one mutex.
type RendererScheduler struct {
	manager  *core.QueueManager
	settings Settings
	logger   core.Logger

	controlQueue    *core.TaskQueue
	defaultQueue    *core.TaskQueue
	compositorQueue *core.TaskQueue
	loadingQueues   []*core.TaskQueue
	timerQueues     []*core.TaskQueue

	idleHelper *IdleHelper

	loadingTaskCostEstimator *TaskCostEstimator
	timerTaskCostEstimator   *TaskCostEstimator
	idleTimeEstimator        *IdleTimeEstimator

	main       mainThreadState
	compositor compositorThreadState

	anyThreadLock sync.Mutex
	anyThread     anyThreadState
}

// mainThreadState is touched exclusively by the scheduling goroutine.
type mainThreadState struct {
	currentUseCase          UseCase
	currentPolicy           Policy
	policyExpiration        time.Time
	estimatedNextFrameBegin time.Time
	compositorFrameInterval time.Duration

	rendererHidden       bool
	rendererBackgrounded bool

	timerQueueSuspendCount                 int
	timerQueueSuspendedWhenBackgrounded    bool
	timerSuspensionWhenBackgroundedEnabled bool

	navigationTaskExpectedCount            int
	haveSeenABeginMainFrame                bool
	hasVisibleRenderWidgetWithTouchHandler bool

	loadingTasksSeemExpensive bool
	timerTasksSeemExpensive   bool
	touchstartExpectedSoon    bool
	expectedIdleDuration      time.Duration

	delayedUpdatePolicy           *core.CancelableClosure
	endIdleWhenHidden             *core.CancelableClosure
	suspendTimersWhenBackgrounded *core.CancelableClosure

	wasShutdown bool
}

// compositorThreadState has a single writer, the compositor-side caller of
// DidHandleInputEventOnCompositorThread; no lock needed.
type compositorThreadState struct {
	lastInputType InputEventType
}

// anyThreadState is shared between the compositor side and the scheduling
// goroutine, guarded by anyThreadLock.
type anyThreadState struct {
	userModel                         UserModel
	awaitingTouchStartResponse        bool
	beginMainFrameOnCriticalPath      bool
	lastGestureWasCompositorDriven    bool
	flingCompositorEscalationDeadline time.Time
	railsLoadingPriorityDeadline      time.Time
	inIdlePeriod                      bool
	policyMayNeedUpdate               bool
}

// New creates a scheduler with its queue manager and queues. The caller then
// either calls Start for a dedicated scheduling goroutine or pumps manually
// through Manager().
func New(config Config) *RendererScheduler {
	timeDomain := config.TimeDomain
	if timeDomain == nil {
		timeDomain = core.NewRealTimeDomain()
	}
	settings := DefaultSettings()
	if config.Settings != nil {
		settings = *config.Settings
	}

	manager := core.NewQueueManager(core.ManagerConfig{
		TimeDomain: timeDomain,
		Logger:     config.Logger,
	})

	s := &RendererScheduler{
		manager:  manager,
		settings: settings,
		logger:   manager.Logger(),
		loadingTaskCostEstimator: NewTaskCostEstimator(
			settings.Estimators.LoadingTaskSampleCount,
			settings.Estimators.LoadingTaskPercentile),
		timerTaskCostEstimator: NewTaskCostEstimator(
			settings.Estimators.TimerTaskSampleCount,
			settings.Estimators.TimerTaskPercentile),
		idleTimeEstimator: NewIdleTimeEstimator(
			settings.Estimators.ShortIdleSampleCount,
			settings.Estimators.ShortIdlePercentile),
	}
	s.anyThread.userModel = NewUserModel(settings.Gestures)
	s.main.currentPolicy = defaultPolicy()
	s.main.timerSuspensionWhenBackgroundedEnabled = true

	s.controlQueue = manager.NewTaskQueue("control_tq")
	s.controlQueue.SetPriority(core.ControlPriority)
	s.defaultQueue = manager.NewTaskQueue("default_tq")
	s.compositorQueue = manager.NewTaskQueue("compositor_tq")
	s.compositorQueue.AddTaskObserver(s.idleTimeEstimator)

	s.loadingQueues = []*core.TaskQueue{manager.NewTaskQueue("default_loading_tq")}
	s.loadingQueues[0].AddTaskObserver(s.loadingTaskCostEstimator)
	s.timerQueues = []*core.TaskQueue{manager.NewTaskQueue("default_timer_tq")}
	s.timerQueues[0].AddTaskObserver(s.timerTaskCostEstimator)

	s.idleHelper = NewIdleHelper(manager, s.controlQueue, (*idleDelegate)(s), settings.Idle)
	manager.SetObserver(s)
	return s
}

// Manager exposes the underlying queue manager for pumping and for embedding
// in a larger loop.
func (s *RendererScheduler) Manager() *core.QueueManager {
	return s.manager
}

// Start spawns the dedicated scheduling goroutine.
func (s *RendererScheduler) Start() {
	s.manager.Start()
}

// =============================================================================
// Task runners
// =============================================================================

// DefaultTaskRunner returns the queue for ordinary main-thread work.
func (s *RendererScheduler) DefaultTaskRunner() *core.TaskQueue {
	return s.defaultQueue
}

// CompositorTaskRunner returns the queue for main-thread compositor work.
func (s *RendererScheduler) CompositorTaskRunner() *core.TaskQueue {
	return s.compositorQueue
}

// LoadingTaskRunner returns the default loading queue.
func (s *RendererScheduler) LoadingTaskRunner() *core.TaskQueue {
	return s.loadingQueues[0]
}

// TimerTaskRunner returns the default timer queue.
func (s *RendererScheduler) TimerTaskRunner() *core.TaskQueue {
	return s.timerQueues[0]
}

// NewLoadingTaskRunner creates an additional loading queue. Its task costs
// feed the shared loading estimator and it follows the loading priority of
// the current policy. Unregister it through the Manager when done; the
// estimator observer is detached automatically.
func (s *RendererScheduler) NewLoadingTaskRunner(name string) *core.TaskQueue {
	s.checkOnMainThread()
	q := s.manager.NewTaskQueue(name)
	q.AddTaskObserver(s.loadingTaskCostEstimator)
	q.SetPriority(s.main.currentPolicy.LoadingQueuePriority)
	s.loadingQueues = append(s.loadingQueues, q)
	return q
}

// NewTimerTaskRunner creates an additional timer queue, analogous to
// NewLoadingTaskRunner.
func (s *RendererScheduler) NewTimerTaskRunner(name string) *core.TaskQueue {
	s.checkOnMainThread()
	q := s.manager.NewTaskQueue(name)
	q.AddTaskObserver(s.timerTaskCostEstimator)
	q.SetPriority(s.main.currentPolicy.TimerQueuePriority)
	s.timerQueues = append(s.timerQueues, q)
	return q
}

// PostIdleTask enqueues task to run inside the next idle period, with the
// period's deadline as argument.
func (s *RendererScheduler) PostIdleTask(task IdleTask) {
	s.idleHelper.PostIdleTask(task)
}

// IdleHelper exposes the idle sub-scheduler for inspection.
func (s *RendererScheduler) IdleHelper() *IdleHelper {
	return s.idleHelper
}

// OnUnregisterTaskQueue implements core.Observer: before a queue goes away,
// detach the estimator observer that was auto-registered on creation.
func (s *RendererScheduler) OnUnregisterTaskQueue(queue *core.TaskQueue) {
	for i, q := range s.loadingQueues {
		if q == queue {
			q.RemoveTaskObserver(s.loadingTaskCostEstimator)
			s.loadingQueues = append(s.loadingQueues[:i], s.loadingQueues[i+1:]...)
			return
		}
	}
	for i, q := range s.timerQueues {
		if q == queue {
			q.RemoveTaskObserver(s.timerTaskCostEstimator)
			s.timerQueues = append(s.timerQueues[:i], s.timerQueues[i+1:]...)
			return
		}
	}
}

// AddTaskObserver attaches obs to every queue the scheduler owns.
func (s *RendererScheduler) AddTaskObserver(obs core.TaskObserver) {
	s.checkOnMainThread()
	for _, q := range s.allQueues() {
		q.AddTaskObserver(obs)
	}
}

// RemoveTaskObserver detaches obs from every queue the scheduler owns.
func (s *RendererScheduler) RemoveTaskObserver(obs core.TaskObserver) {
	s.checkOnMainThread()
	for _, q := range s.allQueues() {
		q.RemoveTaskObserver(obs)
	}
}

func (s *RendererScheduler) allQueues() []*core.TaskQueue {
	queues := []*core.TaskQueue{
		s.controlQueue, s.defaultQueue, s.compositorQueue, s.idleHelper.IdleQueue(),
	}
	queues = append(queues, s.loadingQueues...)
	queues = append(queues, s.timerQueues...)
	return queues
}

// =============================================================================
// Frame and visibility lifecycle
// =============================================================================

// WillBeginFrame is called when the compositor commits to producing a frame.
// It ends any active idle period and records the expected frame timing.
func (s *RendererScheduler) WillBeginFrame(args BeginFrameArgs) {
	s.checkOnMainThread()
	s.assertNotShutdown("WillBeginFrame")

	s.idleHelper.EndIdlePeriod()
	s.main.estimatedNextFrameBegin = args.FrameTime.Add(args.Interval)
	s.main.compositorFrameInterval = args.Interval
	s.main.haveSeenABeginMainFrame = true

	s.anyThreadLock.Lock()
	s.anyThread.beginMainFrameOnCriticalPath = args.OnCriticalPath
	s.anyThreadLock.Unlock()
}

// DidCommitFrameToCompositor is called when the main thread's part of the
// frame is done. Whatever remains of the frame interval becomes a short idle
// period.
func (s *RendererScheduler) DidCommitFrameToCompositor() {
	s.checkOnMainThread()
	s.assertNotShutdown("DidCommitFrameToCompositor")

	now := s.manager.Now()
	if now.Before(s.main.estimatedNextFrameBegin) {
		s.idleHelper.StartIdlePeriod(IdlePeriodInShortIdle, now, s.main.estimatedNextFrameBegin)
	}
	s.idleTimeEstimator.DidCommitFrameToCompositor()
}

// BeginFrameNotExpectedSoon signals that no frames are coming; long idle
// periods take over.
func (s *RendererScheduler) BeginFrameNotExpectedSoon() {
	s.checkOnMainThread()
	s.assertNotShutdown("BeginFrameNotExpectedSoon")

	s.idleHelper.EnableLongIdlePeriod()
	s.anyThreadLock.Lock()
	s.anyThread.beginMainFrameOnCriticalPath = false
	s.anyThreadLock.Unlock()
}

// SetAllRenderWidgetsHidden switches idle scheduling when the renderer's
// widgets all hide or any becomes visible again. Hiding enables long idle
// immediately but arms a deferred end so a hidden renderer cannot burn cycles
// on idle work indefinitely.
func (s *RendererScheduler) SetAllRenderWidgetsHidden(hidden bool) {
	s.checkOnMainThread()
	s.assertNotShutdown("SetAllRenderWidgetsHidden")

	if s.main.rendererHidden == hidden {
		return
	}
	if hidden {
		s.idleHelper.EnableLongIdlePeriod()
		cancelClosure(&s.main.endIdleWhenHidden)
		s.main.endIdleWhenHidden = s.controlQueue.PostDelayedTask(func(ctx context.Context) {
			s.idleHelper.EndIdlePeriod()
		}, s.settings.Idle.EndIdleWhenHiddenDelay())
	} else {
		cancelClosure(&s.main.endIdleWhenHidden)
		s.idleHelper.EndIdlePeriod()
	}
	s.main.rendererHidden = hidden
	s.logger.Debug("renderer visibility changed", core.F("hidden", hidden))
}

// SetHasVisibleRenderWidgetWithTouchHandler forces a policy recompute when
// the value changes, since touch handling affects yielding decisions.
func (s *RendererScheduler) SetHasVisibleRenderWidgetWithTouchHandler(hasHandler bool) {
	s.checkOnMainThread()
	s.assertNotShutdown("SetHasVisibleRenderWidgetWithTouchHandler")

	if s.main.hasVisibleRenderWidgetWithTouchHandler == hasHandler {
		return
	}
	s.main.hasVisibleRenderWidgetWithTouchHandler = hasHandler
	s.ForceUpdatePolicy()
}

// OnRendererBackgrounded arms the deferred timer-queue suspension, if that
// feature is on. The delay keeps short tab switches cheap.
func (s *RendererScheduler) OnRendererBackgrounded() {
	s.checkOnMainThread()
	s.assertNotShutdown("OnRendererBackgrounded")

	if s.main.rendererBackgrounded {
		return
	}
	s.main.rendererBackgrounded = true
	if !s.main.timerSuspensionWhenBackgroundedEnabled {
		return
	}
	cancelClosure(&s.main.suspendTimersWhenBackgrounded)
	s.main.suspendTimersWhenBackgrounded = s.controlQueue.PostDelayedTask(func(ctx context.Context) {
		s.suspendTimerQueueWhenBackgrounded()
	}, s.settings.Lifecycle.SuspendTimersWhenBackgroundedDelay())
}

// OnRendererForegrounded cancels any pending suspension and resumes timers if
// they were suspended by backgrounding.
func (s *RendererScheduler) OnRendererForegrounded() {
	s.checkOnMainThread()
	s.assertNotShutdown("OnRendererForegrounded")

	if !s.main.rendererBackgrounded {
		return
	}
	s.main.rendererBackgrounded = false
	cancelClosure(&s.main.suspendTimersWhenBackgrounded)
	if s.main.timerQueueSuspendedWhenBackgrounded {
		s.main.timerQueueSuspendedWhenBackgrounded = false
		s.ForceUpdatePolicy()
	}
}

func (s *RendererScheduler) suspendTimerQueueWhenBackgrounded() {
	if !s.main.rendererBackgrounded || s.main.timerQueueSuspendedWhenBackgrounded {
		return
	}
	s.main.timerQueueSuspendedWhenBackgrounded = true
	s.logger.Debug("timer queues suspended while backgrounded")
	s.ForceUpdatePolicy()
}

// SetTimerQueueSuspensionWhenBackgroundedEnabled toggles the feature gating
// the deferred backgrounded suspension. Disabling it releases an active
// suspension.
func (s *RendererScheduler) SetTimerQueueSuspensionWhenBackgroundedEnabled(enabled bool) {
	s.checkOnMainThread()
	s.main.timerSuspensionWhenBackgroundedEnabled = enabled
	if !enabled {
		cancelClosure(&s.main.suspendTimersWhenBackgrounded)
		if s.main.timerQueueSuspendedWhenBackgrounded {
			s.main.timerQueueSuspendedWhenBackgrounded = false
			s.ForceUpdatePolicy()
		}
	}
}

// =============================================================================
// Explicit timer suspension
// =============================================================================

// SuspendTimerQueue suspends timer work, reference-counted. After the call
// all timer queues observably report disabled.
func (s *RendererScheduler) SuspendTimerQueue() {
	s.checkOnMainThread()
	s.assertNotShutdown("SuspendTimerQueue")
	s.main.timerQueueSuspendCount++
	s.ForceUpdatePolicy()
}

// ResumeTimerQueue releases one SuspendTimerQueue. Unbalanced calls are a
// programming error.
func (s *RendererScheduler) ResumeTimerQueue() {
	s.checkOnMainThread()
	s.assertNotShutdown("ResumeTimerQueue")
	if s.main.timerQueueSuspendCount == 0 {
		panic("ResumeTimerQueue without matching SuspendTimerQueue")
	}
	s.main.timerQueueSuspendCount--
	s.ForceUpdatePolicy()
}

// =============================================================================
// Navigation
// =============================================================================

// AddPendingNavigation records that navigation work is expected; while any is
// pending, cost-based blocking of loading/timer queues is suppressed so stale
// estimates from the old page cannot starve the new one.
func (s *RendererScheduler) AddPendingNavigation() {
	s.checkOnMainThread()
	s.assertNotShutdown("AddPendingNavigation")
	s.main.navigationTaskExpectedCount++
	s.UpdatePolicy()
}

// RemovePendingNavigation undoes one AddPendingNavigation.
func (s *RendererScheduler) RemovePendingNavigation() {
	s.checkOnMainThread()
	s.assertNotShutdown("RemovePendingNavigation")
	if s.main.navigationTaskExpectedCount > 0 {
		s.main.navigationTaskExpectedCount--
	}
	s.UpdatePolicy()
}

// OnNavigationStarted opens the initial-loading prioritization window and
// resets everything learned about the old page.
func (s *RendererScheduler) OnNavigationStarted() {
	s.checkOnMainThread()
	s.assertNotShutdown("OnNavigationStarted")

	now := s.manager.Now()
	s.anyThreadLock.Lock()
	s.anyThread.railsLoadingPriorityDeadline = now.Add(s.settings.Lifecycle.RailsInitialLoadingPrioritization())
	s.resetForNavigationLocked(now)
	s.anyThreadLock.Unlock()
	s.UpdatePolicy()
}

// ResetForNavigation clears the estimators and the user model without
// opening a loading prioritization window.
func (s *RendererScheduler) ResetForNavigation() {
	s.checkOnMainThread()
	s.assertNotShutdown("ResetForNavigation")

	s.anyThreadLock.Lock()
	s.resetForNavigationLocked(s.manager.Now())
	s.anyThreadLock.Unlock()
	s.UpdatePolicy()
}

// resetForNavigationLocked requires anyThreadLock. The estimators and frame
// flag are main-thread-only, but clearing them together with the user model
// keeps the navigation boundary atomic for concurrent use-case computation.
func (s *RendererScheduler) resetForNavigationLocked(now time.Time) {
	s.anyThread.userModel.Reset(now)
	s.anyThread.awaitingTouchStartResponse = false
	s.loadingTaskCostEstimator.Clear()
	s.timerTaskCostEstimator.Clear()
	s.idleTimeEstimator.Clear()
	s.main.haveSeenABeginMainFrame = false
}

// =============================================================================
// Input (any-thread entry points)
// =============================================================================

// DidHandleInputEventOnCompositorThread is the compositor side's report of an
// input event. Safe to call from any goroutine. Events that do not indicate
// user interaction (plain mouse moves, keyboard) are ignored.
func (s *RendererScheduler) DidHandleInputEventOnCompositorThread(event InputEvent, state InputEventState) {
	if s.manager.IsShutdown() {
		return
	}
	if !ShouldPrioritizeInputEvent(event) {
		return
	}
	s.updateForInputEventOnCompositorThread(event.Type, state)
}

func (s *RendererScheduler) updateForInputEventOnCompositorThread(eventType InputEventType, state InputEventState) {
	s.anyThreadLock.Lock()
	now := s.manager.Now()

	gestureAlreadyInProgress := s.inputSignalsSuggestGestureInProgressLocked(now)
	wasAwaitingTouchStartResponse := s.anyThread.awaitingTouchStartResponse

	s.anyThread.userModel.DidStartProcessingInputEvent(eventType, now)
	if state == InputEventConsumedByCompositor {
		// The main thread will never see this event, so close the bracket
		// here; otherwise DidHandleInputEventOnMainThread closes it.
		s.anyThread.userModel.DidFinishProcessingInputEvent(now)
	}

	switch eventType {
	case InputEventTouchStart:
		s.anyThread.awaitingTouchStartResponse = true
		// The gesture driver is unknown until a scroll or pinch begins.
		s.anyThread.lastGestureWasCompositorDriven = false

	case InputEventTouchMove:
		// Two consecutive touchmoves without a gesture-begin mean the page is
		// really scrolling (or consuming the moves); the touch start has been
		// responded to.
		if s.anyThread.awaitingTouchStartResponse &&
			s.compositor.lastInputType == InputEventTouchMove {
			s.anyThread.awaitingTouchStartResponse = false
		}

	case InputEventGesturePinchBegin, InputEventGestureScrollBegin:
		s.anyThread.lastGestureWasCompositorDriven = state == InputEventConsumedByCompositor
		s.anyThread.awaitingTouchStartResponse = false

	case InputEventGestureFlingCancel:
		s.anyThread.flingCompositorEscalationDeadline = time.Time{}

	case InputEventGestureTapDown, InputEventGestureShowPress, InputEventGestureScrollEnd:
		// These have no impact on scheduling priority.

	default:
		s.anyThread.awaitingTouchStartResponse = false
	}

	// Skip the urgent update when a gesture was already in progress and the
	// event changed nothing observable; the armed policy expiration covers it.
	needsUpdate := !gestureAlreadyInProgress ||
		wasAwaitingTouchStartResponse != s.anyThread.awaitingTouchStartResponse
	if needsUpdate {
		s.ensureUrgentPolicyUpdatePostedLocked()
	}
	s.anyThreadLock.Unlock()

	s.compositor.lastInputType = eventType
}

// DidHandleInputEventOnMainThread closes the input-processing bracket opened
// on the compositor side, for events that were forwarded here.
func (s *RendererScheduler) DidHandleInputEventOnMainThread(event InputEvent) {
	s.checkOnMainThread()
	if s.manager.IsShutdown() {
		return
	}
	if !ShouldPrioritizeInputEvent(event) {
		return
	}
	s.anyThreadLock.Lock()
	s.anyThread.userModel.DidFinishProcessingInputEvent(s.manager.Now())
	s.anyThreadLock.Unlock()
}

// DidAnimateForInputOnCompositorThread extends the fling escalation deadline:
// compositor-driven animation ticks keep compositor-priority scheduling alive
// because fling end is never signaled explicitly.
func (s *RendererScheduler) DidAnimateForInputOnCompositorThread() {
	if s.manager.IsShutdown() {
		return
	}
	s.anyThreadLock.Lock()
	s.anyThread.flingCompositorEscalationDeadline =
		s.manager.Now().Add(s.settings.Gestures.FlingEscalationLimit())
	s.anyThreadLock.Unlock()
}

// InputSignalsSuggestGestureInProgress reports whether the input signals
// indicate a user gesture is being handled right now.
func (s *RendererScheduler) InputSignalsSuggestGestureInProgress(now time.Time) bool {
	s.anyThreadLock.Lock()
	defer s.anyThreadLock.Unlock()
	return s.inputSignalsSuggestGestureInProgressLocked(now)
}

func (s *RendererScheduler) inputSignalsSuggestGestureInProgressLocked(now time.Time) bool {
	if s.anyThread.flingCompositorEscalationDeadline.After(now) {
		return true
	}
	return s.anyThread.userModel.TimeLeftInUserGesture(now) > 0
}

// =============================================================================
// Embedder queries
// =============================================================================

// IsHighPriorityWorkAnticipated reports whether high-priority work is likely
// in the near future, so embedders can defer non-critical work.
func (s *RendererScheduler) IsHighPriorityWorkAnticipated() bool {
	s.checkOnMainThread()
	if s.manager.IsShutdown() {
		return false
	}
	s.MaybeUpdatePolicy()
	// Touchstart and main-thread gesture handling strongly predict more
	// high-priority work.
	useCase := s.main.currentUseCase
	return s.main.touchstartExpectedSoon ||
		useCase == UseCaseTouchstart ||
		useCase == UseCaseMainThreadGesture ||
		useCase == UseCaseSynchronizedGesture
}

// ShouldYieldForHighPriorityWork reports whether long-running work should
// yield control back to the scheduler now.
func (s *RendererScheduler) ShouldYieldForHighPriorityWork() bool {
	s.checkOnMainThread()
	if s.manager.IsShutdown() {
		return false
	}
	s.MaybeUpdatePolicy()
	// Yielding is bad for performance, so only do it when the alternative is
	// visibly degraded interaction.
	switch s.main.currentUseCase {
	case UseCaseNone, UseCaseCompositorGesture:
		return s.main.touchstartExpectedSoon
	case UseCaseMainThreadGesture, UseCaseSynchronizedGesture:
		return s.compositorQueue.HasPendingImmediateTask() || s.main.touchstartExpectedSoon
	case UseCaseTouchstart:
		return true
	case UseCaseLoading:
		return false
	default:
		panic(fmt.Sprintf("ShouldYieldForHighPriorityWork: unknown use case %d", s.main.currentUseCase))
	}
}

// CurrentUseCase returns the use case of the most recent policy computation.
func (s *RendererScheduler) CurrentUseCase() UseCase {
	s.checkOnMainThread()
	return s.main.currentUseCase
}

// CurrentPolicy returns the currently applied policy.
func (s *RendererScheduler) CurrentPolicy() Policy {
	s.checkOnMainThread()
	return s.main.currentPolicy
}

// CanExceedIdleDeadlineIfRequired passes through the idle sub-scheduler's
// answer.
func (s *RendererScheduler) CanExceedIdleDeadlineIfRequired() bool {
	return s.idleHelper.CanExceedIdleDeadlineIfRequired()
}

// =============================================================================
// Policy engine
// =============================================================================

// ensureUrgentPolicyUpdatePostedLocked posts one UpdatePolicy task to the
// control queue unless one is already pending. Requires anyThreadLock.
func (s *RendererScheduler) ensureUrgentPolicyUpdatePostedLocked() {
	if s.anyThread.policyMayNeedUpdate {
		return
	}
	s.anyThread.policyMayNeedUpdate = true
	s.controlQueue.PostTask(func(ctx context.Context) {
		s.UpdatePolicy()
	})
}

// MaybeUpdatePolicy recomputes the policy only if an urgent update was
// requested and has not run yet.
func (s *RendererScheduler) MaybeUpdatePolicy() {
	s.checkOnMainThread()
	s.anyThreadLock.Lock()
	needed := s.anyThread.policyMayNeedUpdate
	s.anyThreadLock.Unlock()
	if needed {
		s.UpdatePolicy()
	}
}

// UpdatePolicy recomputes the use case and policy, skipping reapplication
// when nothing changed.
func (s *RendererScheduler) UpdatePolicy() {
	s.checkOnMainThread()
	s.anyThreadLock.Lock()
	defer s.anyThreadLock.Unlock()
	s.updatePolicyLocked(true)
}

// ForceUpdatePolicy recomputes and reapplies unconditionally.
func (s *RendererScheduler) ForceUpdatePolicy() {
	s.checkOnMainThread()
	s.anyThreadLock.Lock()
	defer s.anyThreadLock.Unlock()
	s.updatePolicyLocked(false)
}

func (s *RendererScheduler) updatePolicyLocked(mayEarlyOutIfPolicyUnchanged bool) {
	if s.main.wasShutdown {
		return
	}
	s.anyThread.policyMayNeedUpdate = false
	now := s.manager.Now()

	useCase, useCaseValidFor := s.computeCurrentUseCaseLocked(now)
	s.main.currentUseCase = useCase

	// A touchstart prediction only makes sense when something on screen can
	// actually receive one.
	touchstartExpectedSoon := false
	var expectedSoonValidFor time.Duration
	if s.main.hasVisibleRenderWidgetWithTouchHandler {
		touchstartExpectedSoon, expectedSoonValidFor = s.anyThread.userModel.IsGestureExpectedSoon(now)
	}
	s.main.touchstartExpectedSoon = touchstartExpectedSoon

	// A task is admissible when it fits in the slack the frame cadence has
	// been leaving; with no cadence observed the interval is zero and nothing
	// fits, which is harmless because blocking also requires a seen frame.
	expectedIdleDuration := s.idleTimeEstimator.GetExpectedIdleDuration(s.main.compositorFrameInterval)
	s.main.expectedIdleDuration = expectedIdleDuration
	loadingSeemExpensive := s.loadingTaskCostEstimator.ExpectedTaskDuration() > expectedIdleDuration
	timerSeemExpensive := s.timerTaskCostEstimator.ExpectedTaskDuration() > expectedIdleDuration
	s.main.loadingTasksSeemExpensive = loadingSeemExpensive
	s.main.timerTasksSeemExpensive = timerSeemExpensive

	newPolicy := defaultPolicy()
	blockLoading := false
	blockTimer := false

	switch useCase {
	case UseCaseCompositorGesture:
		if touchstartExpectedSoon {
			newPolicy.CompositorQueuePriority = core.HighPriority
			blockLoading = loadingSeemExpensive
			blockTimer = timerSeemExpensive
		} else {
			// The gesture runs entirely on the compositor; deprioritizing the
			// main-thread compositor queue leaves room for loading work.
			// Boosting loading priority directly proved unsafe, so this proxy
			// stays.
			newPolicy.CompositorQueuePriority = core.BestEffortPriority
		}

	case UseCaseSynchronizedGesture:
		newPolicy.CompositorQueuePriority = core.HighPriority
		blockLoading = loadingSeemExpensive
		blockTimer = timerSeemExpensive

	case UseCaseMainThreadGesture:
		newPolicy.CompositorQueuePriority = core.HighPriority
		blockTimer = timerSeemExpensive
		if touchstartExpectedSoon {
			blockLoading = loadingSeemExpensive
		}

	case UseCaseTouchstart:
		// Everything except compositor and control is shed until the page
		// responds to the touch start.
		newPolicy.CompositorQueuePriority = core.HighPriority
		newPolicy.LoadingQueuePriority = core.DisabledPriority
		newPolicy.TimerQueuePriority = core.DisabledPriority

	case UseCaseNone:
		if touchstartExpectedSoon {
			blockLoading = loadingSeemExpensive
			blockTimer = timerSeemExpensive
		}

	case UseCaseLoading:
		newPolicy.LoadingQueuePriority = core.HighPriority
		newPolicy.DefaultQueuePriority = core.HighPriority

	default:
		panic(fmt.Sprintf("updatePolicyLocked: unknown use case %d", useCase))
	}

	// Never block work before any frame signal exists, and never while a
	// navigation is expected; stale cost estimates must not starve either.
	if !s.main.haveSeenABeginMainFrame || s.main.navigationTaskExpectedCount > 0 {
		blockLoading = false
		blockTimer = false
	}
	if blockLoading {
		newPolicy.LoadingQueuePriority = core.DisabledPriority
	}
	if blockTimer {
		newPolicy.TimerQueuePriority = core.DisabledPriority
	}
	if s.main.timerQueueSuspendCount != 0 || s.main.timerQueueSuspendedWhenBackgrounded {
		newPolicy.TimerQueuePriority = core.DisabledPriority
	}
	// Default-queue IPC-driven work must not fall behind high-priority
	// loading tasks.
	if newPolicy.LoadingQueuePriority == core.HighPriority &&
		newPolicy.DefaultQueuePriority < core.HighPriority {
		newPolicy.DefaultQueuePriority = core.HighPriority
	}

	s.armDeferredPolicyRecompute(now, useCaseValidFor, expectedSoonValidFor)

	if mayEarlyOutIfPolicyUnchanged && newPolicy == s.main.currentPolicy {
		return
	}
	newPolicy.apply(s.compositorQueue, s.defaultQueue, s.loadingQueues, s.timerQueues)
	s.main.currentPolicy = newPolicy
	s.logger.Debug("policy updated",
		core.F("use_case", useCase.String()),
		core.F("compositor", newPolicy.CompositorQueuePriority.String()),
		core.F("loading", newPolicy.LoadingQueuePriority.String()),
		core.F("timer", newPolicy.TimerQueuePriority.String()),
		core.F("default", newPolicy.DefaultQueuePriority.String()),
		core.F("touchstart_expected_soon", touchstartExpectedSoon))
}

// armDeferredPolicyRecompute schedules a one-shot recompute when either the
// use case or the touchstart prediction has a bounded validity, and cancels
// any previously armed one.
func (s *RendererScheduler) armDeferredPolicyRecompute(now time.Time, durations ...time.Duration) {
	var minValid time.Duration
	for _, d := range durations {
		if d > 0 && (minValid == 0 || d < minValid) {
			minValid = d
		}
	}

	cancelClosure(&s.main.delayedUpdatePolicy)
	if minValid == 0 {
		s.main.policyExpiration = time.Time{}
		return
	}
	s.main.policyExpiration = now.Add(minValid)
	s.main.delayedUpdatePolicy = s.controlQueue.PostDelayedTask(func(ctx context.Context) {
		s.UpdatePolicy()
	}, minValid)
}

// computeCurrentUseCaseLocked classifies the current activity from a
// consistent snapshot of the any-thread state. Returns the use case and how
// long the classification stays valid (zero means no scheduled
// re-evaluation).
func (s *RendererScheduler) computeCurrentUseCaseLocked(now time.Time) (UseCase, time.Duration) {
	if s.anyThread.flingCompositorEscalationDeadline.After(now) {
		return UseCaseCompositorGesture, s.anyThread.flingCompositorEscalationDeadline.Sub(now)
	}

	gestureTimeLeft := s.anyThread.userModel.TimeLeftInUserGesture(now)
	if gestureTimeLeft > 0 {
		if s.anyThread.awaitingTouchStartResponse {
			return UseCaseTouchstart, gestureTimeLeft
		}
		if s.anyThread.lastGestureWasCompositorDriven {
			if s.anyThread.beginMainFrameOnCriticalPath {
				return UseCaseSynchronizedGesture, gestureTimeLeft
			}
			return UseCaseCompositorGesture, gestureTimeLeft
		}
		return UseCaseMainThreadGesture, gestureTimeLeft
	}

	if s.anyThread.railsLoadingPriorityDeadline.After(now) {
		return UseCaseLoading, s.anyThread.railsLoadingPriorityDeadline.Sub(now)
	}
	return UseCaseNone, 0
}

// =============================================================================
// Idle delegate
// =============================================================================

// idleDelegate adapts the scheduler to IdleHelperDelegate without widening
// the public method set.
type idleDelegate RendererScheduler

func (d *idleDelegate) scheduler() *RendererScheduler {
	return (*RendererScheduler)(d)
}

// CanEnterLongIdlePeriod refuses while a touch start response is pending:
// idle work must not delay it. The retry lands when the touchstart policy is
// due to expire.
func (d *idleDelegate) CanEnterLongIdlePeriod(now time.Time) (bool, time.Duration) {
	s := d.scheduler()
	s.MaybeUpdatePolicy()
	if !s.main.policyExpiration.IsZero() && !now.Before(s.main.policyExpiration) {
		// The classification this retry was scheduled against has expired;
		// recompute before deciding.
		s.UpdatePolicy()
	}
	if s.main.currentUseCase == UseCaseTouchstart {
		retryAfter := s.main.policyExpiration.Sub(now)
		if retryAfter <= 0 {
			retryAfter = s.settings.Idle.MinimumIdlePeriodDuration()
		}
		return false, retryAfter
	}
	return true, 0
}

func (d *idleDelegate) OnIdlePeriodStarted() {
	s := d.scheduler()
	s.anyThreadLock.Lock()
	s.anyThread.inIdlePeriod = true
	s.anyThreadLock.Unlock()
	s.UpdatePolicy()
}

func (d *idleDelegate) OnIdlePeriodEnded() {
	s := d.scheduler()
	s.anyThreadLock.Lock()
	s.anyThread.inIdlePeriod = false
	s.anyThreadLock.Unlock()
	s.UpdatePolicy()
}

// RequestSnapshot captures a StateSnapshot on the scheduling goroutine and
// delivers it to fn there. Safe to call from any goroutine; fn must be quick,
// it runs at control priority. No-op after shutdown.
func (s *RendererScheduler) RequestSnapshot(fn func(StateSnapshot)) {
	s.controlQueue.PostTask(func(ctx context.Context) {
		fn(s.Snapshot())
	})
}

// =============================================================================
// Shutdown
// =============================================================================

// Shutdown tears down the queue engine. Further lifecycle calls are a
// programming error; input reports from the compositor side become no-ops.
func (s *RendererScheduler) Shutdown() {
	s.checkOnMainThread()
	if s.main.wasShutdown {
		return
	}
	cancelClosure(&s.main.delayedUpdatePolicy)
	cancelClosure(&s.main.endIdleWhenHidden)
	cancelClosure(&s.main.suspendTimersWhenBackgrounded)
	s.main.wasShutdown = true
	s.manager.Shutdown()
	s.logger.Debug("scheduler shut down")
}

// WasShutdown reports whether Shutdown has run.
func (s *RendererScheduler) WasShutdown() bool {
	return s.main.wasShutdown
}

func (s *RendererScheduler) assertNotShutdown(op string) {
	if s.main.wasShutdown {
		panic(op + " called after Shutdown")
	}
}

func (s *RendererScheduler) checkOnMainThread() {
	s.manager.ThreadChecker().Check()
}

func cancelClosure(c **core.CancelableClosure) {
	if *c != nil {
		(*c).Cancel()
		*c = nil
	}
}
