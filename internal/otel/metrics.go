package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the bridge's metric instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	OutboundDispatched  metric.Int64Counter
	InboundPublished    metric.Int64Counter
	UnrecognizedDropped metric.Int64Counter
	CollaboratorLatency metric.Float64Histogram
	CollaboratorErrors  metric.Int64Counter
	SessionRejects      metric.Int64Counter
	KeyEvents           metric.Int64Counter
	FilesRead           metric.Int64Counter
	BootstrapDuration   metric.Float64Histogram
	TrackEvents         metric.Int64Counter
	ActiveSurfaces      metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.OutboundDispatched, "paintbridge.outbound.dispatched", "Outbound messages dispatched, by tag"},
		{&m.InboundPublished, "paintbridge.inbound.published", "Inbound messages published to the surface, by tag"},
		{&m.UnrecognizedDropped, "paintbridge.outbound.unrecognized", "Outbound messages dropped as unrecognized"},
		{&m.CollaboratorErrors, "paintbridge.collaborator.errors", "Collaborator call failures, by origin and operation"},
		{&m.SessionRejects, "paintbridge.session.rejects", "Login or logout requests rejected while another was outstanding"},
		{&m.KeyEvents, "paintbridge.keyboard.events", "Key events forwarded while the keyboard adapter was attached"},
		{&m.FilesRead, "paintbridge.upload.files", "Selected files, by outcome"},
		{&m.TrackEvents, "paintbridge.tracking.events", "Analytics events recorded"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}

	m.CollaboratorLatency, err = meter.Float64Histogram("paintbridge.collaborator.duration",
		metric.WithDescription("Collaborator call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.BootstrapDuration, err = meter.Float64Histogram("paintbridge.bootstrap.duration",
		metric.WithDescription("Time from start to surface mount in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveSurfaces, err = meter.Int64UpDownCounter("paintbridge.surfaces.active",
		metric.WithDescription("Currently mounted surfaces"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) add(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if m == nil || c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// Dispatched counts one handled outbound message.
func (m *Metrics) Dispatched(ctx context.Context, tag string) {
	if m == nil {
		return
	}
	m.add(ctx, m.OutboundDispatched, AttrTag.String(tag))
}

// Published counts one inbound message handed to the bus.
func (m *Metrics) Published(ctx context.Context, tag string) {
	if m == nil {
		return
	}
	m.add(ctx, m.InboundPublished, AttrTag.String(tag))
}

// Unrecognized counts one dropped outbound message.
func (m *Metrics) Unrecognized(ctx context.Context) {
	if m == nil {
		return
	}
	m.add(ctx, m.UnrecognizedDropped)
}

// SessionRejected counts one login or logout rejected as concurrent.
func (m *Metrics) SessionRejected(ctx context.Context, tag string) {
	if m == nil {
		return
	}
	m.add(ctx, m.SessionRejects, AttrTag.String(tag))
}

// KeyForwarded counts one forwarded key event.
func (m *Metrics) KeyForwarded(ctx context.Context, direction string) {
	if m == nil {
		return
	}
	m.add(ctx, m.KeyEvents, AttrOutcome.String(direction))
}

// FileSelected counts one selected file by outcome (read, not_image, too_large, error).
func (m *Metrics) FileSelected(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.add(ctx, m.FilesRead, AttrOutcome.String(outcome))
}

// Tracked counts one recorded analytics event.
func (m *Metrics) Tracked(ctx context.Context) {
	if m == nil {
		return
	}
	m.add(ctx, m.TrackEvents)
}

// ObserveCollaborator records one collaborator call.
func (m *Metrics) ObserveCollaborator(ctx context.Context, origin, op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(AttrOrigin.String(origin), AttrOperation.String(op))
	m.CollaboratorLatency.Record(ctx, elapsed.Seconds(), attrs)
	if err != nil {
		m.CollaboratorErrors.Add(ctx, 1, attrs)
	}
}

// ObserveBootstrap records the time taken to mount a surface.
func (m *Metrics) ObserveBootstrap(ctx context.Context, user string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.BootstrapDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(AttrUserState.String(user)))
}

// SurfaceMounted adjusts the active surface gauge by delta.
func (m *Metrics) SurfaceMounted(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.ActiveSurfaces.Add(ctx, delta)
}
