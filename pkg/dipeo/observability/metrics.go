package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records execution metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordNodeExecution records a node invocation with its duration and error status.
	RecordNodeExecution(ctx context.Context, nodeID, nodeType string, duration time.Duration, err error)

	// RecordRun records a diagram execution completion.
	RecordRun(ctx context.Context, diagram string, success bool, duration time.Duration)

	// RecordDispatchWave records one scheduler wave and its width.
	RecordDispatchWave(ctx context.Context, width int)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	nodeExecutions metric.Int64Counter
	nodeLatency    metric.Float64Histogram
	nodeErrors     metric.Int64Counter
	runs           metric.Int64Counter
	runLatency     metric.Float64Histogram
	waveWidth      metric.Int64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("dipeo")

	nodeExecutions, err := meter.Int64Counter("dipeo.node.executions",
		metric.WithDescription("Number of node invocations"),
	)
	if err != nil {
		return nil, err
	}

	nodeLatency, err := meter.Float64Histogram("dipeo.node.latency_ms",
		metric.WithDescription("Node invocation latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	nodeErrors, err := meter.Int64Counter("dipeo.node.errors",
		metric.WithDescription("Number of node invocation errors"),
	)
	if err != nil {
		return nil, err
	}

	runs, err := meter.Int64Counter("dipeo.runs",
		metric.WithDescription("Number of diagram executions"),
	)
	if err != nil {
		return nil, err
	}

	runLatency, err := meter.Float64Histogram("dipeo.run.latency_ms",
		metric.WithDescription("Diagram execution latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	waveWidth, err := meter.Int64Histogram("dipeo.scheduler.wave_width",
		metric.WithDescription("Nodes dispatched per scheduler wave"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		nodeExecutions: nodeExecutions,
		nodeLatency:    nodeLatency,
		nodeErrors:     nodeErrors,
		runs:           runs,
		runLatency:     runLatency,
		waveWidth:      waveWidth,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordNodeExecution records a node invocation.
func (m *otelMetrics) RecordNodeExecution(ctx context.Context, nodeID, nodeType string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("node_id", nodeID),
		attribute.String("node_type", nodeType),
	}

	m.nodeExecutions.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.nodeLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		m.nodeErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordRun records a diagram execution.
func (m *otelMetrics) RecordRun(ctx context.Context, diagram string, success bool, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("diagram", diagram),
		attribute.Bool("success", success),
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.runLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordDispatchWave records one scheduler wave.
func (m *otelMetrics) RecordDispatchWave(ctx context.Context, width int) {
	m.waveWidth.Record(ctx, int64(width))
}
