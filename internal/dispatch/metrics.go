package dispatch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/dispatchd/internal/dispatch"

// Metrics holds the dispatch instruments. A nil *Metrics records
// nothing, as does any instrument that failed to initialize.
type Metrics struct {
	meter      metric.Meter
	log        *logging.Logger
	requests   metric.Int64Counter
	duration   metric.Float64Histogram
	operations metric.Int64Counter
}

// NewMetrics creates the dispatch metrics on the global meter provider.
func NewMetrics(log *logging.Logger) *Metrics {
	if log == nil {
		log = logging.NewNop()
	}
	m := &Metrics{
		meter: otel.Meter(instrumentationName),
		log:   log,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	ctx := context.Background()
	var err error

	m.requests, err = m.meter.Int64Counter(
		"dispatch.requests",
		metric.WithDescription("Total dispatched requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.log.Warn(ctx, "failed to create requests counter", zap.Error(err))
	}

	m.duration, err = m.meter.Float64Histogram(
		"dispatch.duration",
		metric.WithDescription("Duration of request dispatch"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		m.log.Warn(ctx, "failed to create duration histogram", zap.Error(err))
	}

	m.operations, err = m.meter.Int64Counter(
		"dispatch.operations",
		metric.WithDescription("Total capability invocations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		m.log.Warn(ctx, "failed to create operations counter", zap.Error(err))
	}
}

// RecordRequest records one finished dispatch.
func (m *Metrics) RecordRequest(ctx context.Context, taskType, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("task_type", taskType),
		attribute.String("status", status),
	}
	if m.requests != nil {
		m.requests.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if m.duration != nil {
		m.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
			attribute.String("task_type", taskType),
		))
	}
}

// RecordOperation records one capability invocation.
func (m *Metrics) RecordOperation(ctx context.Context, service string, success bool) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.Bool("success", success),
	))
}
