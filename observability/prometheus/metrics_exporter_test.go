package prometheus

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsExporter_DidProcessTask(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("renderscheduler", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}

	start := time.Unix(5000, 0)
	exporter.WillProcessTask("compositor_tq")
	exporter.DidProcessTask("compositor_tq", start, start.Add(250*time.Millisecond))
	exporter.DidProcessTask("compositor_tq", start, start.Add(time.Millisecond))

	total := testutil.ToFloat64(exporter.taskTotal.WithLabelValues("compositor_tq"))
	if total != 2 {
		t.Fatalf("task total = %v, want 2", total)
	}

	histCount, err := histogramSampleCount(exporter.taskDurationSeconds.WithLabelValues("compositor_tq"))
	if err != nil {
		t.Fatalf("histogramSampleCount failed: %v", err)
	}
	if histCount != 2 {
		t.Fatalf("duration sample count = %d, want 2", histCount)
	}
}

func TestMetricsExporter_EmptyQueueNameNormalized(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("renderscheduler", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}

	start := time.Unix(5000, 0)
	exporter.DidProcessTask("", start, start.Add(time.Millisecond))

	got := testutil.ToFloat64(exporter.taskTotal.WithLabelValues("unknown"))
	if got != 1 {
		t.Fatalf("unknown-queue task total = %v, want 1", got)
	}
}

func TestMetricsExporter_AlreadyRegisteredReuse(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewMetricsExporter("renderscheduler", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("first NewMetricsExporter failed: %v", err)
	}
	second, err := NewMetricsExporter("renderscheduler", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("second NewMetricsExporter failed: %v", err)
	}

	start := time.Unix(5000, 0)
	first.DidProcessTask("timer_tq", start, start.Add(time.Millisecond))
	second.DidProcessTask("timer_tq", start, start.Add(time.Millisecond))

	got := testutil.ToFloat64(first.taskTotal.WithLabelValues("timer_tq"))
	if got != 2 {
		t.Fatalf("shared task counter = %v, want 2", got)
	}
}

func histogramSampleCount(observer prom.Observer) (uint64, error) {
	collector, ok := observer.(prom.Collector)
	if !ok {
		return 0, nil
	}

	metricCh := make(chan prom.Metric, 1)
	collector.Collect(metricCh)
	close(metricCh)
	for metric := range metricCh {
		msg := &dto.Metric{}
		if err := metric.Write(msg); err != nil {
			return 0, err
		}
		if msg.Histogram != nil {
			return msg.Histogram.GetSampleCount(), nil
		}
	}
	return 0, nil
}
