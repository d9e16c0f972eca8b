// Package adapter turns native environment events into inbound messages:
// key presses, selected files and the unload prompt.
package adapter

import (
	"context"
	"log/slog"
	"sync"

	"github.com/basket/paintbridge/internal/bridge"
	"github.com/basket/paintbridge/internal/bus"
	"github.com/basket/paintbridge/internal/otel"
)

// NativeKey is a key transition as reported by the environment.
type NativeKey struct {
	Code      string
	Shift     bool
	Meta      bool
	Ctrl      bool
	Direction bridge.Direction
}

// Keyboard forwards native key events while attached. Attach and Detach
// switch both directions at once, and no event is delivered mid-switch.
type Keyboard struct {
	mu       sync.Mutex
	attached bool

	bus     *bus.Bus
	logger  *slog.Logger
	metrics *otel.Metrics
}

// NewKeyboard returns an attached keyboard publishing onto b.
func NewKeyboard(b *bus.Bus, logger *slog.Logger, metrics *otel.Metrics) *Keyboard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Keyboard{attached: true, bus: b, logger: logger, metrics: metrics}
}

// Attach resumes forwarding. Idempotent.
func (k *Keyboard) Attach() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.attached {
		k.logger.Debug("keyboard attached")
	}
	k.attached = true
}

// Detach stops forwarding so another element can take keyboard focus. Idempotent.
func (k *Keyboard) Detach() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.attached {
		k.logger.Debug("keyboard detached")
	}
	k.attached = false
}

func (k *Keyboard) Attached() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.attached
}

// HandleNative publishes key as a KeyEvent when attached. A true result
// means the event was consumed and the environment must suppress its
// default handling.
func (k *Keyboard) HandleNative(key NativeKey) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.attached {
		return false
	}
	dir := key.Direction
	if dir == "" {
		dir = bridge.KeyDown
	}
	k.bus.PublishTagged(bridge.KeyEvent{
		Code:      key.Code,
		Shift:     key.Shift,
		Meta:      key.Meta,
		Ctrl:      key.Ctrl,
		Direction: dir,
	})
	k.metrics.KeyForwarded(context.Background(), string(dir))
	return true
}
