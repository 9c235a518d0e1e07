package renderscheduler

// InputEventType classifies the input events the compositor reports to the
// scheduler. Only the scheduling-relevant distinctions are modeled.
type InputEventType int

const (
	InputEventUndefined InputEventType = iota

	InputEventTouchStart
	InputEventTouchMove
	InputEventTouchEnd

	InputEventGestureScrollBegin
	InputEventGestureScrollUpdate
	InputEventGestureScrollEnd
	InputEventGesturePinchBegin
	InputEventGesturePinchEnd
	InputEventGestureFlingStart
	InputEventGestureFlingCancel
	InputEventGestureTapDown
	InputEventGestureTap
	InputEventGestureShowPress

	InputEventMouseDown
	InputEventMouseUp
	InputEventMouseMove
	InputEventMouseWheel

	InputEventKeyDown
	InputEventKeyUp
	InputEventChar
)

func (t InputEventType) String() string {
	switch t {
	case InputEventTouchStart:
		return "touch_start"
	case InputEventTouchMove:
		return "touch_move"
	case InputEventTouchEnd:
		return "touch_end"
	case InputEventGestureScrollBegin:
		return "gesture_scroll_begin"
	case InputEventGestureScrollUpdate:
		return "gesture_scroll_update"
	case InputEventGestureScrollEnd:
		return "gesture_scroll_end"
	case InputEventGesturePinchBegin:
		return "gesture_pinch_begin"
	case InputEventGesturePinchEnd:
		return "gesture_pinch_end"
	case InputEventGestureFlingStart:
		return "gesture_fling_start"
	case InputEventGestureFlingCancel:
		return "gesture_fling_cancel"
	case InputEventGestureTapDown:
		return "gesture_tap_down"
	case InputEventGestureTap:
		return "gesture_tap"
	case InputEventGestureShowPress:
		return "gesture_show_press"
	case InputEventMouseDown:
		return "mouse_down"
	case InputEventMouseUp:
		return "mouse_up"
	case InputEventMouseMove:
		return "mouse_move"
	case InputEventMouseWheel:
		return "mouse_wheel"
	case InputEventKeyDown:
		return "key_down"
	case InputEventKeyUp:
		return "key_up"
	case InputEventChar:
		return "char"
	default:
		return "undefined"
	}
}

func (t InputEventType) isMouseEvent() bool {
	switch t {
	case InputEventMouseDown, InputEventMouseUp, InputEventMouseMove:
		return true
	}
	return false
}

func (t InputEventType) isKeyboardEvent() bool {
	switch t {
	case InputEventKeyDown, InputEventKeyUp, InputEventChar:
		return true
	}
	return false
}

// InputEvent is the scheduler's view of one input event.
type InputEvent struct {
	Type InputEventType

	// LeftButtonDown applies to mouse events only.
	LeftButtonDown bool
}

// InputEventState records whether the compositor consumed the event itself or
// forwarded it to the main thread.
type InputEventState int

const (
	// InputEventConsumedByCompositor: the compositor handled the event without
	// main-thread involvement.
	InputEventConsumedByCompositor InputEventState = iota

	// InputEventForwardedToMainThread: the main thread will process the event;
	// the processing bracket closes in DidHandleInputEventOnMainThread.
	InputEventForwardedToMainThread
)

func (s InputEventState) String() string {
	if s == InputEventConsumedByCompositor {
		return "consumed_by_compositor"
	}
	return "forwarded_to_main_thread"
}

// ShouldPrioritizeInputEvent decides whether an event counts as user
// interaction needing a smooth frame rate. MouseMove with the left button
// down is a drag and qualifies; other mouse events and all keyboard events do
// not. Mouse wheel is not classified as a mouse event here and does qualify.
func ShouldPrioritizeInputEvent(event InputEvent) bool {
	if event.Type == InputEventMouseMove && event.LeftButtonDown {
		return true
	}
	if event.Type.isMouseEvent() || event.Type.isKeyboardEvent() {
		return false
	}
	return true
}
