package renderscheduler

import (
	"time"

	"github.com/renderloop/go-render-scheduler/core"
)

// IdleTimeEstimator predicts how much idle time is typically available inside
// a compositor frame. It observes the compositor queue, accumulating how much
// main-thread time each frame's tasks consumed; on frame commit that total
// becomes one sample, and the expected idle duration is the frame interval
// minus a percentile of the per-frame totals.
type IdleTimeEstimator struct {
	perFrameTaskTime *percentileWindow
	percentile       float64

	currentFrameTaskTime time.Duration
}

// NewIdleTimeEstimator keeps the last sampleCount per-frame compositor task
// totals and reports the given percentile of them.
func NewIdleTimeEstimator(sampleCount int, percentile float64) *IdleTimeEstimator {
	return &IdleTimeEstimator{
		perFrameTaskTime: newPercentileWindow(sampleCount),
		percentile:       percentile,
	}
}

// DidCommitFrameToCompositor closes out the current frame: the accumulated
// task time becomes a sample and the accumulator resets.
func (e *IdleTimeEstimator) DidCommitFrameToCompositor() {
	e.perFrameTaskTime.Add(e.currentFrameTaskTime)
	e.currentFrameTaskTime = 0
}

// GetExpectedIdleDuration estimates the slack left in a frame of the given
// interval. With no samples the whole interval is reported as idle.
func (e *IdleTimeEstimator) GetExpectedIdleDuration(compositorFrameInterval time.Duration) time.Duration {
	busy := e.perFrameTaskTime.Percentile(e.percentile)
	if busy >= compositorFrameInterval {
		return 0
	}
	return compositorFrameInterval - busy
}

// Clear drops all samples and the running accumulator.
func (e *IdleTimeEstimator) Clear() {
	e.perFrameTaskTime.Clear()
	e.currentFrameTaskTime = 0
}

// WillProcessTask implements core.TaskObserver.
func (e *IdleTimeEstimator) WillProcessTask(queueName string) {}

// DidProcessTask implements core.TaskObserver, charging the task's runtime to
// the current frame.
func (e *IdleTimeEstimator) DidProcessTask(queueName string, start, end time.Time) {
	e.currentFrameTaskTime += end.Sub(start)
}

var _ core.TaskObserver = (*IdleTimeEstimator)(nil)
