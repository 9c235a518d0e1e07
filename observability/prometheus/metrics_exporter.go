package prometheus

import (
	"errors"
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/renderloop/go-render-scheduler/core"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter is a core.TaskObserver that feeds per-queue task execution
// metrics into Prometheus. Attach it with RendererScheduler.AddTaskObserver
// to cover every queue, or to individual queues.
type MetricsExporter struct {
	taskDurationSeconds *prom.HistogramVec
	taskTotal           *prom.CounterVec
}

var _ core.TaskObserver = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers the task execution collectors.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "renderscheduler"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		// Task durations cluster well under a frame; default buckets start
		// far too coarse for that.
		buckets = []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1, .25, 1}
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task execution duration in seconds, per queue.",
		Buckets:   buckets,
	}, []string{"queue"})
	totalVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_total",
		Help:      "Total number of executed tasks, per queue.",
	}, []string{"queue"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if totalVec, err = registerCollector(reg, totalVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		taskDurationSeconds: durationVec,
		taskTotal:           totalVec,
	}, nil
}

// WillProcessTask implements core.TaskObserver.
func (m *MetricsExporter) WillProcessTask(queueName string) {}

// DidProcessTask implements core.TaskObserver.
func (m *MetricsExporter) DidProcessTask(queueName string, start, end time.Time) {
	if m == nil {
		return
	}
	queue := normalizeLabel(queueName, "unknown")
	m.taskDurationSeconds.WithLabelValues(queue).Observe(end.Sub(start).Seconds())
	m.taskTotal.WithLabelValues(queue).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
