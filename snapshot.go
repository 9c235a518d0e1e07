package renderscheduler

import "time"

// PolicySnapshot names the applied per-queue priorities.
type PolicySnapshot struct {
	CompositorQueuePriority string `json:"compositor_queue_priority"`
	LoadingQueuePriority    string `json:"loading_queue_priority"`
	TimerQueuePriority      string `json:"timer_queue_priority"`
	DefaultQueuePriority    string `json:"default_queue_priority"`
}

// StateSnapshot is a structured dump of the scheduler's state for tracing
// and debugging. Field names are part of the observability contract; the
// serialization format is not.
type StateSnapshot struct {
	Now            time.Time      `json:"now"`
	CurrentUseCase string         `json:"current_use_case"`
	Policy         PolicySnapshot `json:"policy"`

	IdlePeriodState         string    `json:"idle_period_state"`
	IdlePeriodDeadline      time.Time `json:"idle_period_deadline"`
	InIdlePeriod            bool      `json:"in_idle_period"`
	HadAnIdlePeriodRecently bool      `json:"had_an_idle_period_recently"`

	RendererHidden       bool `json:"renderer_hidden"`
	RendererBackgrounded bool `json:"renderer_backgrounded"`

	TimerQueueSuspendCount              int  `json:"timer_queue_suspend_count"`
	TimerQueueSuspendedWhenBackgrounded bool `json:"timer_queue_suspended_when_backgrounded"`

	NavigationTaskExpectedCount            int  `json:"navigation_task_expected_count"`
	HaveSeenABeginMainFrame                bool `json:"have_seen_a_begin_main_frame"`
	HasVisibleRenderWidgetWithTouchHandler bool `json:"has_visible_render_widget_with_touch_handler"`

	LoadingTasksSeemExpensive   bool          `json:"loading_tasks_seem_expensive"`
	TimerTasksSeemExpensive     bool          `json:"timer_tasks_seem_expensive"`
	TouchstartExpectedSoon      bool          `json:"touchstart_expected_soon"`
	ExpectedLoadingTaskDuration time.Duration `json:"expected_loading_task_duration_ns"`
	ExpectedTimerTaskDuration   time.Duration `json:"expected_timer_task_duration_ns"`
	ExpectedIdleDuration        time.Duration `json:"expected_idle_duration_ns"`

	EstimatedNextFrameBegin time.Time     `json:"estimated_next_frame_begin"`
	CompositorFrameInterval time.Duration `json:"compositor_frame_interval_ns"`

	AwaitingTouchStartResponse        bool      `json:"awaiting_touch_start_response"`
	BeginMainFrameOnCriticalPath      bool      `json:"begin_main_frame_on_critical_path"`
	LastGestureWasCompositorDriven    bool      `json:"last_gesture_was_compositor_driven"`
	FlingCompositorEscalationDeadline time.Time `json:"fling_compositor_escalation_deadline"`
	RailsLoadingPriorityDeadline      time.Time `json:"rails_loading_priority_deadline"`

	UserModel UserModelSnapshot `json:"user_model"`

	WasShutdown bool `json:"was_shutdown"`
}

// Snapshot captures the full scheduler state. Main-thread only; the
// any-thread fields are read in one critical section so the dump is
// internally consistent.
func (s *RendererScheduler) Snapshot() StateSnapshot {
	s.checkOnMainThread()
	now := s.manager.Now()

	snapshot := StateSnapshot{
		Now:            now,
		CurrentUseCase: s.main.currentUseCase.String(),
		Policy: PolicySnapshot{
			CompositorQueuePriority: s.main.currentPolicy.CompositorQueuePriority.String(),
			LoadingQueuePriority:    s.main.currentPolicy.LoadingQueuePriority.String(),
			TimerQueuePriority:      s.main.currentPolicy.TimerQueuePriority.String(),
			DefaultQueuePriority:    s.main.currentPolicy.DefaultQueuePriority.String(),
		},
		IdlePeriodState:         s.idleHelper.State().String(),
		IdlePeriodDeadline:      s.idleHelper.CurrentIdleTaskDeadline(),
		HadAnIdlePeriodRecently: s.idleHelper.HadAnIdlePeriodRecently(now),

		RendererHidden:       s.main.rendererHidden,
		RendererBackgrounded: s.main.rendererBackgrounded,

		TimerQueueSuspendCount:              s.main.timerQueueSuspendCount,
		TimerQueueSuspendedWhenBackgrounded: s.main.timerQueueSuspendedWhenBackgrounded,

		NavigationTaskExpectedCount:            s.main.navigationTaskExpectedCount,
		HaveSeenABeginMainFrame:                s.main.haveSeenABeginMainFrame,
		HasVisibleRenderWidgetWithTouchHandler: s.main.hasVisibleRenderWidgetWithTouchHandler,

		LoadingTasksSeemExpensive:   s.main.loadingTasksSeemExpensive,
		TimerTasksSeemExpensive:     s.main.timerTasksSeemExpensive,
		TouchstartExpectedSoon:      s.main.touchstartExpectedSoon,
		ExpectedLoadingTaskDuration: s.loadingTaskCostEstimator.ExpectedTaskDuration(),
		ExpectedTimerTaskDuration:   s.timerTaskCostEstimator.ExpectedTaskDuration(),
		ExpectedIdleDuration:        s.main.expectedIdleDuration,

		EstimatedNextFrameBegin: s.main.estimatedNextFrameBegin,
		CompositorFrameInterval: s.main.compositorFrameInterval,

		WasShutdown: s.main.wasShutdown,
	}

	s.anyThreadLock.Lock()
	snapshot.AwaitingTouchStartResponse = s.anyThread.awaitingTouchStartResponse
	snapshot.BeginMainFrameOnCriticalPath = s.anyThread.beginMainFrameOnCriticalPath
	snapshot.LastGestureWasCompositorDriven = s.anyThread.lastGestureWasCompositorDriven
	snapshot.FlingCompositorEscalationDeadline = s.anyThread.flingCompositorEscalationDeadline
	snapshot.RailsLoadingPriorityDeadline = s.anyThread.railsLoadingPriorityDeadline
	snapshot.InIdlePeriod = s.anyThread.inIdlePeriod
	snapshot.UserModel = s.anyThread.userModel.snapshot()
	s.anyThreadLock.Unlock()

	return snapshot
}
