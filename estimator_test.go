package renderscheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTaskCostEstimatorReportsPercentile(t *testing.T) {
	e := NewTaskCostEstimator(100, 90)
	for i := 1; i <= 10; i++ {
		e.RecordTaskDuration(time.Duration(i) * time.Millisecond)
	}
	// 90th percentile over ten samples is the 9th smallest.
	assert.Equal(t, 9*time.Millisecond, e.ExpectedTaskDuration())
}

func TestTaskCostEstimatorNoSamplesMeansZero(t *testing.T) {
	e := NewTaskCostEstimator(100, 98)
	assert.Equal(t, time.Duration(0), e.ExpectedTaskDuration(),
		"no history must read as cheap, never as expensive")
}

func TestTaskCostEstimatorInsertionOrderIrrelevant(t *testing.T) {
	a := NewTaskCostEstimator(100, 50)
	b := NewTaskCostEstimator(100, 50)
	samples := []time.Duration{
		40 * time.Millisecond, time.Millisecond, 8 * time.Millisecond,
		2 * time.Millisecond, 15 * time.Millisecond,
	}
	for _, d := range samples {
		a.RecordTaskDuration(d)
	}
	for i := len(samples) - 1; i >= 0; i-- {
		b.RecordTaskDuration(samples[i])
	}
	assert.Equal(t, 8*time.Millisecond, a.ExpectedTaskDuration())
	assert.Equal(t, a.ExpectedTaskDuration(), b.ExpectedTaskDuration())
}

func TestTaskCostEstimatorWindowEvictsOldest(t *testing.T) {
	e := NewTaskCostEstimator(3, 100)
	e.RecordTaskDuration(time.Second)
	e.RecordTaskDuration(time.Millisecond)
	e.RecordTaskDuration(time.Millisecond)
	assert.Equal(t, time.Second, e.ExpectedTaskDuration())

	// One more sample pushes the expensive outlier out of the window.
	e.RecordTaskDuration(time.Millisecond)
	assert.Equal(t, time.Millisecond, e.ExpectedTaskDuration())
}

func TestTaskCostEstimatorClear(t *testing.T) {
	e := NewTaskCostEstimator(100, 98)
	e.RecordTaskDuration(500 * time.Millisecond)
	assert.Equal(t, 500*time.Millisecond, e.ExpectedTaskDuration())

	e.Clear()
	assert.Equal(t, time.Duration(0), e.ExpectedTaskDuration())
}

func TestTaskCostEstimatorObservesTaskDurations(t *testing.T) {
	e := NewTaskCostEstimator(100, 98)
	start := time.Unix(5000, 0)
	e.WillProcessTask("loading_tq")
	e.DidProcessTask("loading_tq", start, start.Add(30*time.Millisecond))
	assert.Equal(t, 30*time.Millisecond, e.ExpectedTaskDuration())
}

func TestIdleTimeEstimatorAccumulatesPerFrame(t *testing.T) {
	e := NewIdleTimeEstimator(10, 50)
	interval := 16 * time.Millisecond
	start := time.Unix(5000, 0)

	// Two tasks in one frame are charged together.
	e.DidProcessTask("compositor_tq", start, start.Add(3*time.Millisecond))
	e.DidProcessTask("compositor_tq", start, start.Add(5*time.Millisecond))
	e.DidCommitFrameToCompositor()

	assert.Equal(t, interval-8*time.Millisecond, e.GetExpectedIdleDuration(interval))
}

func TestIdleTimeEstimatorEmptyFrameCountsAsFullyIdle(t *testing.T) {
	e := NewIdleTimeEstimator(10, 50)
	interval := 16 * time.Millisecond

	assert.Equal(t, interval, e.GetExpectedIdleDuration(interval),
		"no history means the whole frame reads as idle")

	e.DidCommitFrameToCompositor()
	assert.Equal(t, interval, e.GetExpectedIdleDuration(interval))
}

func TestIdleTimeEstimatorBusyFrameYieldsZeroIdle(t *testing.T) {
	e := NewIdleTimeEstimator(10, 50)
	interval := 16 * time.Millisecond
	start := time.Unix(5000, 0)

	e.DidProcessTask("compositor_tq", start, start.Add(20*time.Millisecond))
	e.DidCommitFrameToCompositor()
	assert.Equal(t, time.Duration(0), e.GetExpectedIdleDuration(interval),
		"idle time never goes negative")
}

func TestIdleTimeEstimatorClearDropsAccumulator(t *testing.T) {
	e := NewIdleTimeEstimator(10, 50)
	interval := 16 * time.Millisecond
	start := time.Unix(5000, 0)

	e.DidProcessTask("compositor_tq", start, start.Add(10*time.Millisecond))
	e.Clear()
	e.DidCommitFrameToCompositor()
	assert.Equal(t, interval, e.GetExpectedIdleDuration(interval),
		"pre-clear task time must not leak into the next frame sample")
}
