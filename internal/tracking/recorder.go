// Package tracking records analytics events sent by the drawing surface.
package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/basket/paintbridge/internal/otel"
	"github.com/basket/paintbridge/internal/storage"
	"github.com/basket/paintbridge/internal/telemetry"
)

const maxEventBytes = 64 << 10

// EventStore appends event payloads.
type EventStore interface {
	RecordTrackEvent(ctx context.Context, owner string, payload []byte) error
}

// Recorder persists each event with its owner and counts it.
type Recorder struct {
	store   EventStore
	owner   storage.OwnerFunc
	metrics *otel.Metrics
	logger  *slog.Logger
}

func NewRecorder(store EventStore, owner storage.OwnerFunc, metrics *otel.Metrics, logger *slog.Logger) *Recorder {
	if owner == nil {
		owner = storage.Anonymous
	}
	return &Recorder{
		store:   store,
		owner:   owner,
		metrics: metrics,
		logger:  telemetry.Component(logger, "tracking"),
	}
}

func (r *Recorder) Track(ctx context.Context, event json.RawMessage) error {
	if len(event) == 0 {
		return errors.New("empty track event")
	}
	if len(event) > maxEventBytes {
		return fmt.Errorf("track event is %d bytes, limit %d", len(event), maxEventBytes)
	}
	if !json.Valid(event) {
		return errors.New("track event is not valid JSON")
	}
	owner, err := r.owner(ctx)
	if err != nil {
		return fmt.Errorf("resolve owner: %w", err)
	}
	if err := r.store.RecordTrackEvent(ctx, owner, event); err != nil {
		return err
	}
	r.metrics.Tracked(ctx)
	r.logger.Debug("event tracked", "name", eventName(event), "anonymous", owner == "")
	return nil
}

func eventName(event json.RawMessage) string {
	var probe struct {
		Name  string `json:"name"`
		Event string `json:"event"`
	}
	if json.Unmarshal(event, &probe) != nil {
		return ""
	}
	if probe.Name != "" {
		return probe.Name
	}
	return probe.Event
}
