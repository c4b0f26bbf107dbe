package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMetrics_RecordsTransitions(t *testing.T) {
	ctx := context.Background()
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	defer func() { _ = mp.Shutdown(ctx) }()

	m := NewMetrics(mp.Meter("test"))
	m.Transition(ctx, "PENDING", "COMPLETED")
	m.Transition(ctx, "PENDING", "COMPLETED")
	m.GatewayLogin(ctx, true)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[md.Name] += dp.Value
			}
		}
	}
	if totals["elearn.payment.transitions"] != 2 {
		t.Errorf("transitions = %d, want 2", totals["elearn.payment.transitions"])
	}
	if totals["elearn.gateway.logins"] != 1 {
		t.Errorf("gateway logins = %d, want 1", totals["elearn.gateway.logins"])
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.Transition(context.Background(), "a", "b")
	m.WebhookOutcome(context.Background(), "applied")
	NopMetrics().RefreshRotation(context.Background(), "rotated")
}
