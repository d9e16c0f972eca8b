package otel

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: true, Exporter: "none"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if m.OutboundDispatched == nil || m.InboundPublished == nil || m.UnrecognizedDropped == nil {
		t.Error("message counters not created")
	}
	if m.CollaboratorLatency == nil || m.CollaboratorErrors == nil {
		t.Error("collaborator instruments not created")
	}
	if m.SessionRejects == nil || m.KeyEvents == nil || m.FilesRead == nil || m.TrackEvents == nil {
		t.Error("adapter counters not created")
	}
	if m.BootstrapDuration == nil || m.ActiveSurfaces == nil {
		t.Error("bootstrap instruments not created")
	}
}

func TestNewMetrics_NoopMeter(t *testing.T) {
	p := Noop()
	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics with noop: %v", err)
	}
	if m == nil {
		t.Fatal("expected non-nil Metrics")
	}
	m.Dispatched(context.Background(), "save")
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.Dispatched(ctx, "save")
	m.Published(ctx, "login succeeded")
	m.Unrecognized(ctx)
	m.SessionRejected(ctx, "logout")
	m.KeyForwarded(ctx, "down")
	m.FileSelected(ctx, "read")
	m.Tracked(ctx)
	m.ObserveCollaborator(ctx, "auth", "login", time.Millisecond, errors.New("boom"))
	m.ObserveBootstrap(ctx, "offline", time.Millisecond)
	m.SurfaceMounted(ctx, 1)
}

func TestMetrics_RecordsThroughManualReader(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	p, err := Init(context.Background(), Config{Enabled: true, Exporter: "none"}, WithMetricReader(reader))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ctx := context.Background()
	m.Dispatched(ctx, "save")
	m.Dispatched(ctx, "track")
	m.ObserveCollaborator(ctx, "auth", "login", 5*time.Millisecond, errors.New("incorrect password"))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if sum, ok := md.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					sums[md.Name] += dp.Value
				}
			}
		}
	}
	if got := sums["paintbridge.outbound.dispatched"]; got != 2 {
		t.Fatalf("dispatched = %d, want 2", got)
	}
	if got := sums["paintbridge.collaborator.errors"]; got != 1 {
		t.Fatalf("collaborator errors = %d, want 1", got)
	}
}
