package obs

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "quantloop/core"

// Metrics groups the execution-core counters. All instruments are no-ops
// until a real meter provider is installed via lib/telemetry.
type Metrics struct {
	ordersSubmitted metric.Int64Counter
	fills           metric.Int64Counter
	cancels         metric.Int64Counter
	rejections      metric.Int64Counter
	notifications   metric.Int64Counter
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
)

// GetMetrics lazily initialises the shared counter set.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		meter := otel.Meter(meterName)
		m := &Metrics{}
		m.ordersSubmitted, _ = meter.Int64Counter("quantloop.orders.submitted",
			metric.WithDescription("Order intents accepted by the execution engine"))
		m.fills, _ = meter.Int64Counter("quantloop.fills",
			metric.WithDescription("Confirmed fills applied to the position ledger"))
		m.cancels, _ = meter.Int64Counter("quantloop.orders.cancelled",
			metric.WithDescription("Pending orders transitioned to cancelled"))
		m.rejections, _ = meter.Int64Counter("quantloop.orders.rejected",
			metric.WithDescription("Orders rejected by validation or the gateway"))
		m.notifications, _ = meter.Int64Counter("quantloop.notifications.delivered",
			metric.WithDescription("Notifications delivered to observers"))
		metricsInst = m
	})
	return metricsInst
}

// RecordOrder counts one accepted order intent.
func (m *Metrics) RecordOrder(ctx context.Context, instrument string) {
	if m == nil || m.ordersSubmitted == nil {
		return
	}
	m.ordersSubmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("instrument", instrument)))
}

// RecordFill counts one confirmed fill.
func (m *Metrics) RecordFill(ctx context.Context, instrument string) {
	if m == nil || m.fills == nil {
		return
	}
	m.fills.Add(ctx, 1, metric.WithAttributes(attribute.String("instrument", instrument)))
}

// RecordCancel counts one confirmed cancellation.
func (m *Metrics) RecordCancel(ctx context.Context, instrument string) {
	if m == nil || m.cancels == nil {
		return
	}
	m.cancels.Add(ctx, 1, metric.WithAttributes(attribute.String("instrument", instrument)))
}

// RecordRejection counts one rejection.
func (m *Metrics) RecordRejection(ctx context.Context, instrument string) {
	if m == nil || m.rejections == nil {
		return
	}
	m.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("instrument", instrument)))
}

// RecordDelivery counts notifications handed to observers.
func (m *Metrics) RecordDelivery(ctx context.Context, instrument string, count int64) {
	if m == nil || m.notifications == nil {
		return
	}
	m.notifications.Add(ctx, count, metric.WithAttributes(attribute.String("instrument", instrument)))
}
