package renderscheduler

import "time"

// UserModel tracks recent input activity and derives two signals the policy
// engine consumes: how much longer the current gesture should keep input
// priority escalated, and whether another gesture looks imminent. It is
// mutated only under the scheduler's any-thread lock.
type UserModel struct {
	settings GestureSettings

	pendingInputEventCount    int
	lastInputSignalTime       time.Time
	lastGestureStartTime      time.Time
	lastContinuousGestureTime time.Time
}

// NewUserModel creates a model with no input history.
func NewUserModel(settings GestureSettings) UserModel {
	return UserModel{settings: settings}
}

// DidStartProcessingInputEvent opens the processing bracket for one event.
// Multiple events may be in flight at once; the bracket is counted, not
// boolean, so overlapping events do not corrupt the bookkeeping.
func (m *UserModel) DidStartProcessingInputEvent(eventType InputEventType, now time.Time) {
	m.lastInputSignalTime = now
	if eventType == InputEventGestureScrollBegin ||
		eventType == InputEventGesturePinchBegin {
		m.lastGestureStartTime = now
	}
	// Touchmoves and scroll updates indicate an established, continuing
	// gesture rather than a one-off tap.
	if eventType == InputEventTouchMove ||
		eventType == InputEventGestureScrollUpdate {
		m.lastContinuousGestureTime = now
	}
	m.pendingInputEventCount++
}

// DidFinishProcessingInputEvent closes the processing bracket. Finishing an
// event that was never started is a no-op.
func (m *UserModel) DidFinishProcessingInputEvent(now time.Time) {
	m.lastInputSignalTime = now
	if m.pendingInputEventCount > 0 {
		m.pendingInputEventCount--
	}
}

// TimeLeftInUserGesture returns how much longer the gesture budget window
// stays open, or zero if no gesture is active. While an event is still being
// processed the full window is reported so the policy is re-evaluated after
// it completes.
func (m *UserModel) TimeLeftInUserGesture(now time.Time) time.Duration {
	limit := m.settings.EstimationLimit()

	if m.pendingInputEventCount > 0 {
		return limit
	}
	if m.lastInputSignalTime.IsZero() {
		return 0
	}
	deadline := m.lastInputSignalTime.Add(limit)
	if !deadline.After(now) {
		return 0
	}
	return deadline.Sub(now)
}

// IsGestureExpectedSoon predicts whether a touch-driven gesture is imminent,
// based on recent gesture cadence. The returned duration says how long the
// prediction can be trusted before it should be recomputed; it is zero when
// the prediction is false and no future event would change it.
func (m *UserModel) IsGestureExpectedSoon(now time.Time) (bool, time.Duration) {
	if m.lastGestureStartTime.IsZero() {
		return false, 0
	}

	median := m.settings.MedianGestureDuration()
	window := m.settings.ExpectSubsequentGestureWindow()

	if m.TimeLeftInUserGesture(now) > 0 {
		// A gesture is in flight. Once it has outlived the typical gesture
		// its end is near, and users tend to follow one gesture with another
		// (repeated flicks down a long page).
		elapsed := now.Sub(m.lastGestureStartTime)
		if elapsed >= median {
			return true, window
		}
		// Too early to predict; re-evaluate when the gesture passes the
		// median duration.
		return false, median - elapsed
	}

	// No gesture active: expect a follow-up shortly after recent continuous
	// gesture activity.
	if m.lastContinuousGestureTime.IsZero() {
		return false, 0
	}
	validUntil := m.lastContinuousGestureTime.Add(window)
	if validUntil.After(now) {
		return true, validUntil.Sub(now)
	}
	return false, 0
}

// Reset clears all input history. Called at navigation boundaries since the
// old page's interaction pattern does not predict the new one's.
func (m *UserModel) Reset(now time.Time) {
	m.pendingInputEventCount = 0
	m.lastInputSignalTime = time.Time{}
	m.lastGestureStartTime = time.Time{}
	m.lastContinuousGestureTime = time.Time{}
}

// snapshot fields for the structured state dump.
func (m *UserModel) snapshot() UserModelSnapshot {
	return UserModelSnapshot{
		PendingInputEventCount:    m.pendingInputEventCount,
		LastInputSignalTime:       m.lastInputSignalTime,
		LastGestureStartTime:      m.lastGestureStartTime,
		LastContinuousGestureTime: m.lastContinuousGestureTime,
	}
}

// UserModelSnapshot is the user model's contribution to the scheduler's
// structured state dump.
type UserModelSnapshot struct {
	PendingInputEventCount    int       `json:"pending_input_event_count"`
	LastInputSignalTime       time.Time `json:"last_input_signal_time"`
	LastGestureStartTime      time.Time `json:"last_gesture_start_time"`
	LastContinuousGestureTime time.Time `json:"last_continuous_gesture_time"`
}
