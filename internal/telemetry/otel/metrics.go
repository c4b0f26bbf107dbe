package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics are the domain counters recorded by the services. The zero value is unusable; use NewMetrics or NopMetrics.
type Metrics struct {
	transitions      metric.Int64Counter
	gatewayLogins    metric.Int64Counter
	refreshRotations metric.Int64Counter
	webhookOutcomes  metric.Int64Counter
}

// NewMetrics creates the counters on meter. Instrument creation errors fall back to no-op counters.
func NewMetrics(meter metric.Meter) *Metrics {
	if meter == nil {
		return NopMetrics()
	}
	nm := noop.NewMeterProvider().Meter("noop")
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			c, _ = nm.Int64Counter(name)
		}
		return c
	}
	return &Metrics{
		transitions:      counter("elearn.payment.transitions", "Transaction status transitions"),
		gatewayLogins:    counter("elearn.gateway.logins", "Upstream gateway logins"),
		refreshRotations: counter("elearn.session.refresh_rotations", "Refresh secret rotations"),
		webhookOutcomes:  counter("elearn.webhook.outcomes", "Processed gateway confirmations by outcome"),
	}
}

// NopMetrics returns counters that record nothing.
func NopMetrics() *Metrics {
	return NewMetrics(noop.NewMeterProvider().Meter("noop"))
}

func (m *Metrics) Transition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("from", from), attribute.String("to", to)))
}

func (m *Metrics) GatewayLogin(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	m.gatewayLogins.Add(ctx, 1, metric.WithAttributes(attribute.Bool("ok", ok)))
}

func (m *Metrics) RefreshRotation(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.refreshRotations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) WebhookOutcome(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.webhookOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
