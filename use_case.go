package renderscheduler

// UseCase is the scheduler's classification of what the user and page are
// doing right now. Exactly one value is current at any policy-recompute
// instant; the priority policy is derived from it.
type UseCase int

const (
	// UseCaseNone: no dominant activity; balanced scheduling.
	UseCaseNone UseCase = iota

	// UseCaseCompositorGesture: a gesture is being handled entirely on the
	// compositor thread (including flings).
	UseCaseCompositorGesture

	// UseCaseMainThreadGesture: a gesture is being processed on the main
	// thread.
	UseCaseMainThreadGesture

	// UseCaseSynchronizedGesture: a compositor-driven gesture whose frames
	// still depend on main-thread work on the critical path.
	UseCaseSynchronizedGesture

	// UseCaseTouchstart: a touch start is awaiting its response; everything
	// except compositor and control work is shed to keep the response fast.
	UseCaseTouchstart

	// UseCaseLoading: the page is in its initial loading burst after a
	// navigation.
	UseCaseLoading
)

func (u UseCase) String() string {
	switch u {
	case UseCaseNone:
		return "none"
	case UseCaseCompositorGesture:
		return "compositor_gesture"
	case UseCaseMainThreadGesture:
		return "main_thread_gesture"
	case UseCaseSynchronizedGesture:
		return "synchronized_gesture"
	case UseCaseTouchstart:
		return "touchstart"
	case UseCaseLoading:
		return "loading"
	default:
		return "unknown"
	}
}
