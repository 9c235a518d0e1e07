package prometheus

import (
	"context"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	renderscheduler "github.com/renderloop/go-render-scheduler"
	"github.com/renderloop/go-render-scheduler/core"
)

type schedulerStub struct {
	snap renderscheduler.StateSnapshot
}

func (s schedulerStub) RequestSnapshot(fn func(renderscheduler.StateSnapshot)) {
	fn(s.snap)
}

type queueStatsStub struct {
	stats []core.QueueStat
}

func (s queueStatsStub) QueueStats() []core.QueueStat { return s.stats }

func TestSnapshotPoller_CollectsSnapshotAndQueueStats(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	poller.SetScheduler(schedulerStub{snap: renderscheduler.StateSnapshot{
		CurrentUseCase:              "touchstart",
		TouchstartExpectedSoon:      true,
		InIdlePeriod:                false,
		LoadingTasksSeemExpensive:   true,
		ExpectedLoadingTaskDuration: 250 * time.Millisecond,
	}})
	poller.SetQueueStats(queueStatsStub{stats: []core.QueueStat{
		{Name: "timer_tq", Priority: core.DisabledPriority, Enabled: false, Pending: 5},
		{Name: "compositor_tq", Priority: core.HighPriority, Enabled: true, Pending: 1},
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx)
	defer poller.Stop()

	assertEventually(t, 2*time.Second, func() bool {
		active := testutil.ToFloat64(poller.useCase.WithLabelValues("touchstart"))
		depth := testutil.ToFloat64(poller.queueDepth.WithLabelValues("timer_tq"))
		return active == 1 && depth == 5
	})

	if got := testutil.ToFloat64(poller.useCase.WithLabelValues("none")); got != 0 {
		t.Fatalf("use case gauge is not one-hot: none = %v, want 0", got)
	}
	if got := testutil.ToFloat64(poller.queueEnabled.WithLabelValues("timer_tq")); got != 0 {
		t.Fatalf("timer queue enabled gauge = %v, want 0", got)
	}
	if got := testutil.ToFloat64(poller.queuePriority.WithLabelValues("compositor_tq")); got != float64(core.HighPriority) {
		t.Fatalf("compositor priority gauge = %v, want %v", got, float64(core.HighPriority))
	}
	if got := testutil.ToFloat64(poller.expensiveFlags.WithLabelValues("loading")); got != 1 {
		t.Fatalf("loading expensive gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(poller.expectedCost.WithLabelValues("loading")); got != 0.25 {
		t.Fatalf("loading expected cost gauge = %v, want 0.25", got)
	}
}

func TestSnapshotPoller_ExportIsOneHotAcrossUpdates(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, time.Second)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	poller.export(renderscheduler.StateSnapshot{CurrentUseCase: "loading"})
	poller.export(renderscheduler.StateSnapshot{CurrentUseCase: "none"})

	if got := testutil.ToFloat64(poller.useCase.WithLabelValues("loading")); got != 0 {
		t.Fatalf("stale use case still set: loading = %v, want 0", got)
	}
	if got := testutil.ToFloat64(poller.useCase.WithLabelValues("none")); got != 1 {
		t.Fatalf("current use case not set: none = %v, want 1", got)
	}
}

func TestSnapshotPoller_StartStop_Idempotent(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller.Start(ctx)
	poller.Start(ctx)
	poller.Stop()
	poller.Stop()
}

func assertEventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
