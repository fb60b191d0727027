package navigation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/agentworkforce/courierlink/internal/navigation"

type dispatchMetrics struct {
	intents    metric.Int64Counter
	executions metric.Int64Counter
}

func newDispatchMetrics(meter metric.Meter) *dispatchMetrics {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	m := &dispatchMetrics{}
	// A failed instrument stays nil and is skipped.
	m.intents, _ = meter.Int64Counter("courierlink.navigation.intents",
		metric.WithDescription("Navigation intents by entry point and outcome"))
	m.executions, _ = meter.Int64Counter("courierlink.navigation.executions",
		metric.WithDescription("Router invocations by result"))
	return m
}

func (m *dispatchMetrics) intent(ctx context.Context, entry EntryPoint, outcome Outcome) {
	if m == nil || m.intents == nil {
		return
	}
	m.intents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entry", string(entry)),
		attribute.String("outcome", string(outcome)),
	))
}

func (m *dispatchMetrics) execution(ctx context.Context, result string) {
	if m == nil || m.executions == nil {
		return
	}
	m.executions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
