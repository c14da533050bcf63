package prometheus

import (
	"errors"
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/overdrive-engine/overdrive/core"
)

const defaultNamespace = "overdrive"

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	// DurationBuckets defaults to frame-scale buckets from 100µs to 250ms.
	DurationBuckets []float64
}

var frameBuckets = []float64{0.0001, 0.0005, 0.001, 0.002, 0.004, 0.008, 0.016, 0.033, 0.066, 0.125, 0.25}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	taskDurationSeconds *prom.HistogramVec
	taskPanicTotal      *prom.CounterVec
	queueDepth          *prom.GaugeVec
	broadcastTotal      *prom.CounterVec
	deliveriesTotal     *prom.CounterVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = frameBuckets
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task execution duration in seconds.",
		Buckets:   buckets,
	}, []string{"processor", "queue"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_panic_total",
		Help:      "Total number of task panics.",
	}, []string{"processor", "queue"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Tasks waiting in a processor queue.",
	}, []string{"processor", "queue"})
	broadcastVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "bus_broadcast_total",
		Help:      "Total number of Broadcast calls per message type.",
	}, []string{"message"})
	deliveriesVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "bus_deliveries_total",
		Help:      "Total number of handler invocations per message type.",
	}, []string{"message"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}
	if broadcastVec, err = registerCollector(reg, broadcastVec); err != nil {
		return nil, err
	}
	if deliveriesVec, err = registerCollector(reg, deliveriesVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		taskDurationSeconds: durationVec,
		taskPanicTotal:      panicVec,
		queueDepth:          queueDepthVec,
		broadcastTotal:      broadcastVec,
		deliveriesTotal:     deliveriesVec,
	}, nil
}

// RecordTaskDuration records task execution duration.
func (m *MetricsExporter) RecordTaskDuration(processorID string, queue core.QueueKind, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskDurationSeconds.WithLabelValues(normalizeLabel(processorID, "unknown"), queue.String()).Observe(duration.Seconds())
}

// RecordTaskPanic records task panic events.
func (m *MetricsExporter) RecordTaskPanic(processorID string, queue core.QueueKind, panicInfo any) {
	if m == nil {
		return
	}
	m.taskPanicTotal.WithLabelValues(normalizeLabel(processorID, "unknown"), queue.String()).Inc()
}

// RecordQueueDepth records queue depth.
func (m *MetricsExporter) RecordQueueDepth(processorID string, queue core.QueueKind, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(processorID, "unknown"), queue.String()).Set(float64(depth))
}

// RecordBroadcast records one broadcast and its deliveries.
func (m *MetricsExporter) RecordBroadcast(messageType string, deliveries int) {
	if m == nil {
		return
	}
	label := normalizeLabel(messageType, "unknown")
	m.broadcastTotal.WithLabelValues(label).Inc()
	m.deliveriesTotal.WithLabelValues(label).Add(float64(deliveries))
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
