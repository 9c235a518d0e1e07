package renderscheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGestureSettings() GestureSettings {
	return DefaultSettings().Gestures
}

func TestUserModelGestureWindowDecays(t *testing.T) {
	m := NewUserModel(testGestureSettings())
	t0 := time.Unix(5000, 0)

	m.DidStartProcessingInputEvent(InputEventTouchStart, t0)
	m.DidFinishProcessingInputEvent(t0)

	limit := testGestureSettings().EstimationLimit()
	assert.Equal(t, limit, m.TimeLeftInUserGesture(t0))
	assert.Equal(t, limit/2, m.TimeLeftInUserGesture(t0.Add(limit/2)))
	assert.Equal(t, time.Duration(0), m.TimeLeftInUserGesture(t0.Add(limit)))
}

func TestUserModelFullWindowWhileEventInFlight(t *testing.T) {
	m := NewUserModel(testGestureSettings())
	t0 := time.Unix(5000, 0)
	limit := testGestureSettings().EstimationLimit()

	m.DidStartProcessingInputEvent(InputEventTouchMove, t0)
	// The event is still being processed: the full budget is reported no
	// matter how much time has passed.
	assert.Equal(t, limit, m.TimeLeftInUserGesture(t0.Add(10*limit)))

	m.DidFinishProcessingInputEvent(t0.Add(10 * limit))
	assert.Equal(t, limit, m.TimeLeftInUserGesture(t0.Add(10*limit)))
	assert.Equal(t, time.Duration(0), m.TimeLeftInUserGesture(t0.Add(11*limit)))
}

func TestUserModelOverlappingEventsAreCounted(t *testing.T) {
	m := NewUserModel(testGestureSettings())
	t0 := time.Unix(5000, 0)

	m.DidStartProcessingInputEvent(InputEventTouchMove, t0)
	m.DidStartProcessingInputEvent(InputEventTouchMove, t0)
	m.DidFinishProcessingInputEvent(t0)
	// One event is still in flight.
	assert.Equal(t, testGestureSettings().EstimationLimit(),
		m.TimeLeftInUserGesture(t0.Add(time.Hour)))

	m.DidFinishProcessingInputEvent(t0.Add(time.Hour))
	assert.Equal(t, time.Duration(0),
		m.TimeLeftInUserGesture(t0.Add(time.Hour).Add(testGestureSettings().EstimationLimit())))
}

func TestUserModelFinishWithoutStartIsNoOp(t *testing.T) {
	m := NewUserModel(testGestureSettings())
	t0 := time.Unix(5000, 0)

	assert.NotPanics(t, func() {
		m.DidFinishProcessingInputEvent(t0)
		m.DidFinishProcessingInputEvent(t0)
	})
	assert.Equal(t, 0, m.snapshot().PendingInputEventCount)
}

func TestUserModelGestureExpectedSoon(t *testing.T) {
	settings := testGestureSettings()
	m := NewUserModel(settings)
	t0 := time.Unix(5000, 0)

	// No gesture has ever started: no prediction.
	expected, _ := m.IsGestureExpectedSoon(t0)
	require.False(t, expected)

	m.DidStartProcessingInputEvent(InputEventGestureScrollBegin, t0)
	m.DidFinishProcessingInputEvent(t0)

	// Young gesture: too early to predict the next one; the prediction
	// becomes re-evaluable when the gesture passes the median duration.
	expected, validFor := m.IsGestureExpectedSoon(t0)
	assert.False(t, expected)
	assert.Equal(t, settings.MedianGestureDuration(), validFor)

	// Keep the gesture alive past the median with scroll updates.
	cursor := t0
	for cursor.Sub(t0) < settings.MedianGestureDuration() {
		cursor = cursor.Add(50 * time.Millisecond)
		m.DidStartProcessingInputEvent(InputEventGestureScrollUpdate, cursor)
		m.DidFinishProcessingInputEvent(cursor)
	}
	expected, validFor = m.IsGestureExpectedSoon(cursor)
	assert.True(t, expected, "a gesture older than the median predicts a follow-up")
	assert.Equal(t, settings.ExpectSubsequentGestureWindow(), validFor)
}

func TestUserModelResetClearsHistory(t *testing.T) {
	m := NewUserModel(testGestureSettings())
	t0 := time.Unix(5000, 0)

	m.DidStartProcessingInputEvent(InputEventGestureScrollBegin, t0)
	m.Reset(t0)

	assert.Equal(t, time.Duration(0), m.TimeLeftInUserGesture(t0))
	expected, _ := m.IsGestureExpectedSoon(t0)
	assert.False(t, expected)
	snap := m.snapshot()
	assert.Equal(t, 0, snap.PendingInputEventCount)
	assert.True(t, snap.LastGestureStartTime.IsZero())
}
