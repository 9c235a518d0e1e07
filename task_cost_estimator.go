package renderscheduler

import (
	"math"
	"slices"
	"time"

	"github.com/renderloop/go-render-scheduler/core"
)

// TaskCostEstimator keeps a rolling percentile estimate of task duration for
// one category of work. Task cost is strongly bimodal (most tasks are cheap,
// a rare few are very expensive), so callers get a high percentile rather
// than a mean: admission decisions need the pessimistic view.
//
// The estimator implements core.TaskObserver so it can be attached directly
// to the queues whose cost it tracks. All methods run on the scheduling
// goroutine.
type TaskCostEstimator struct {
	samples    *percentileWindow
	percentile float64
}

// NewTaskCostEstimator keeps the last sampleCount durations and reports the
// given percentile of them.
func NewTaskCostEstimator(sampleCount int, percentile float64) *TaskCostEstimator {
	return &TaskCostEstimator{
		samples:    newPercentileWindow(sampleCount),
		percentile: percentile,
	}
}

// RecordTaskDuration adds one observed duration.
func (e *TaskCostEstimator) RecordTaskDuration(duration time.Duration) {
	e.samples.Add(duration)
}

// ExpectedTaskDuration returns the configured percentile over the samples
// collected so far, or zero when no samples exist.
func (e *TaskCostEstimator) ExpectedTaskDuration() time.Duration {
	return e.samples.Percentile(e.percentile)
}

// Clear drops all samples. Called on navigation: historical cost no longer
// predicts the new page.
func (e *TaskCostEstimator) Clear() {
	e.samples.Clear()
}

// WillProcessTask implements core.TaskObserver.
func (e *TaskCostEstimator) WillProcessTask(queueName string) {}

// DidProcessTask implements core.TaskObserver, recording the task's duration.
func (e *TaskCostEstimator) DidProcessTask(queueName string, start, end time.Time) {
	e.RecordTaskDuration(end.Sub(start))
}

var _ core.TaskObserver = (*TaskCostEstimator)(nil)

// =============================================================================
// percentileWindow: bounded sample window with percentile queries
// =============================================================================

// percentileWindow is a ring buffer of the last N durations. Queries sort a
// copy; windows are small (tens to a thousand entries) and queries happen at
// policy-update frequency, so the simple approach holds up.
type percentileWindow struct {
	samples []time.Duration
	head    int
	count   int
}

func newPercentileWindow(capacity int) *percentileWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &percentileWindow{samples: make([]time.Duration, capacity)}
}

func (w *percentileWindow) Add(d time.Duration) {
	w.samples[w.head] = d
	w.head = (w.head + 1) % len(w.samples)
	if w.count < len(w.samples) {
		w.count++
	}
}

// Percentile returns the pct-th percentile (0, 100] of the retained samples,
// or zero for an empty window.
func (w *percentileWindow) Percentile(pct float64) time.Duration {
	if w.count == 0 {
		return 0
	}
	sorted := make([]time.Duration, w.count)
	copy(sorted, w.samples[:w.count])
	slices.Sort(sorted)

	rank := int(math.Ceil(pct/100*float64(w.count))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= w.count {
		rank = w.count - 1
	}
	return sorted[rank]
}

func (w *percentileWindow) Clear() {
	w.head = 0
	w.count = 0
}

func (w *percentileWindow) Count() int {
	return w.count
}
