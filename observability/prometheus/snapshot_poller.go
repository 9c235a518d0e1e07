package prometheus

import (
	"context"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	renderscheduler "github.com/renderloop/go-render-scheduler"
	"github.com/renderloop/go-render-scheduler/core"
)

// SnapshotSource hands out scheduler state snapshots asynchronously; the
// callback runs on the scheduling goroutine. RendererScheduler satisfies it.
type SnapshotSource interface {
	RequestSnapshot(fn func(renderscheduler.StateSnapshot))
}

// QueueStatsSource exposes point-in-time queue stats. core.QueueManager
// satisfies it.
type QueueStatsSource interface {
	QueueStats() []core.QueueStat
}

// SnapshotPoller periodically exports scheduler state into Prometheus gauges:
// the current use case, the applied policy, the derived flags and estimates,
// and per-queue depth and priority.
type SnapshotPoller struct {
	interval time.Duration

	sourcesMu sync.RWMutex
	scheduler SnapshotSource
	queues    QueueStatsSource

	useCase        *prom.GaugeVec
	queuePriority  *prom.GaugeVec
	queueDepth     *prom.GaugeVec
	queueEnabled   *prom.GaugeVec
	touchstartSoon prom.Gauge
	inIdlePeriod   prom.Gauge
	expensiveFlags *prom.GaugeVec
	expectedCost   *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	useCase := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "renderscheduler",
		Name:      "use_case",
		Help:      "Current use case (exactly one series is 1).",
	}, []string{"use_case"})
	queuePriority := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "renderscheduler",
		Name:      "queue_priority",
		Help:      "Current queue priority level (0=disabled .. 4=control).",
	}, []string{"queue"})
	queueDepth := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "renderscheduler",
		Name:      "queue_depth",
		Help:      "Pending immediate tasks per queue.",
	}, []string{"queue"})
	queueEnabled := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "renderscheduler",
		Name:      "queue_enabled",
		Help:      "Queue dequeuable state (1=enabled, 0=disabled).",
	}, []string{"queue"})
	touchstartSoon := prom.NewGauge(prom.GaugeOpts{
		Namespace: "renderscheduler",
		Name:      "touchstart_expected_soon",
		Help:      "Whether a touch start is predicted imminent (1/0).",
	})
	inIdlePeriod := prom.NewGauge(prom.GaugeOpts{
		Namespace: "renderscheduler",
		Name:      "in_idle_period",
		Help:      "Whether an idle period is active (1/0).",
	})
	expensiveFlags := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "renderscheduler",
		Name:      "tasks_seem_expensive",
		Help:      "Whether a work category's tasks look too expensive to admit (1/0).",
	}, []string{"category"})
	expectedCost := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "renderscheduler",
		Name:      "expected_task_duration_seconds",
		Help:      "Percentile task cost estimate per work category.",
	}, []string{"category"})

	var err error
	if useCase, err = registerCollector(reg, useCase); err != nil {
		return nil, err
	}
	if queuePriority, err = registerCollector(reg, queuePriority); err != nil {
		return nil, err
	}
	if queueDepth, err = registerCollector(reg, queueDepth); err != nil {
		return nil, err
	}
	if queueEnabled, err = registerCollector(reg, queueEnabled); err != nil {
		return nil, err
	}
	if touchstartSoon, err = registerCollector(reg, touchstartSoon); err != nil {
		return nil, err
	}
	if inIdlePeriod, err = registerCollector(reg, inIdlePeriod); err != nil {
		return nil, err
	}
	if expensiveFlags, err = registerCollector(reg, expensiveFlags); err != nil {
		return nil, err
	}
	if expectedCost, err = registerCollector(reg, expectedCost); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:       interval,
		useCase:        useCase,
		queuePriority:  queuePriority,
		queueDepth:     queueDepth,
		queueEnabled:   queueEnabled,
		touchstartSoon: touchstartSoon,
		inIdlePeriod:   inIdlePeriod,
		expensiveFlags: expensiveFlags,
		expectedCost:   expectedCost,
	}, nil
}

// SetScheduler attaches the scheduler whose snapshots are polled.
func (p *SnapshotPoller) SetScheduler(source SnapshotSource) {
	if p == nil {
		return
	}
	p.sourcesMu.Lock()
	p.scheduler = source
	p.sourcesMu.Unlock()
}

// SetQueueStats attaches the queue stats source.
func (p *SnapshotPoller) SetQueueStats(source QueueStatsSource) {
	if p == nil {
		return
	}
	p.sourcesMu.Lock()
	p.queues = source
	p.sourcesMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce(ctx)
		}
	}
}

func (p *SnapshotPoller) collectOnce(ctx context.Context) {
	p.sourcesMu.RLock()
	scheduler := p.scheduler
	queues := p.queues
	p.sourcesMu.RUnlock()

	if queues != nil {
		for _, stat := range queues.QueueStats() {
			name := normalizeLabel(stat.Name, "unknown")
			p.queuePriority.WithLabelValues(name).Set(float64(stat.Priority))
			p.queueDepth.WithLabelValues(name).Set(float64(stat.Pending))
			p.queueEnabled.WithLabelValues(name).Set(boolGauge(stat.Enabled))
		}
	}

	if scheduler == nil {
		return
	}
	snapCh := make(chan renderscheduler.StateSnapshot, 1)
	scheduler.RequestSnapshot(func(snap renderscheduler.StateSnapshot) {
		snapCh <- snap
	})
	select {
	case snap := <-snapCh:
		p.export(snap)
	case <-ctx.Done():
	case <-time.After(p.interval):
		// The scheduling goroutine is saturated or stopped; skip this cycle.
	}
}

var useCaseLabels = []string{
	"none", "compositor_gesture", "main_thread_gesture",
	"synchronized_gesture", "touchstart", "loading",
}

func (p *SnapshotPoller) export(snap renderscheduler.StateSnapshot) {
	for _, label := range useCaseLabels {
		p.useCase.WithLabelValues(label).Set(boolGauge(label == snap.CurrentUseCase))
	}
	p.touchstartSoon.Set(boolGauge(snap.TouchstartExpectedSoon))
	p.inIdlePeriod.Set(boolGauge(snap.InIdlePeriod))
	p.expensiveFlags.WithLabelValues("loading").Set(boolGauge(snap.LoadingTasksSeemExpensive))
	p.expensiveFlags.WithLabelValues("timer").Set(boolGauge(snap.TimerTasksSeemExpensive))
	p.expectedCost.WithLabelValues("loading").Set(snap.ExpectedLoadingTaskDuration.Seconds())
	p.expectedCost.WithLabelValues("timer").Set(snap.ExpectedTimerTaskDuration.Seconds())
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
