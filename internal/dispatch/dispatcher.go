// Package dispatch performs the side effects requested by outbound messages
// and reports their results as inbound messages.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/basket/paintbridge/internal/adapter"
	"github.com/basket/paintbridge/internal/bridge"
	"github.com/basket/paintbridge/internal/bus"
	"github.com/basket/paintbridge/internal/capability"
	"github.com/basket/paintbridge/internal/environ"
	"github.com/basket/paintbridge/internal/otel"
	"github.com/basket/paintbridge/internal/shared"
	"github.com/basket/paintbridge/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

type Config struct {
	Registry *capability.Registry
	Bus      *bus.Bus
	Keyboard *adapter.Keyboard
	Files    *adapter.FileUpload
	Guard    *adapter.UnloadGuard
	Env      environ.Environment

	// Initial is the user state resolved at bootstrap.
	Initial bridge.UserState

	Logger  *slog.Logger
	Metrics *otel.Metrics
	Tracer  trace.Tracer
}

// Dispatcher handles outbound messages one at a time in arrival order.
// Collaborator calls run on their own goroutines and are not cancelled when
// the dispatching context ends.
type Dispatcher struct {
	reg      *capability.Registry
	bus      *bus.Bus
	keyboard *adapter.Keyboard
	files    *adapter.FileUpload
	guard    *adapter.UnloadGuard
	env      environ.Environment
	logger   *slog.Logger
	metrics  *otel.Metrics
	tracer   trace.Tracer

	mu   sync.RWMutex
	user bridge.UserState

	inflight sync.WaitGroup
}

func New(cfg Config) (*Dispatcher, error) {
	switch {
	case cfg.Registry == nil:
		return nil, errors.New("dispatch: registry is required")
	case cfg.Bus == nil:
		return nil, errors.New("dispatch: bus is required")
	case cfg.Keyboard == nil, cfg.Files == nil, cfg.Guard == nil:
		return nil, errors.New("dispatch: keyboard, file upload and unload guard are required")
	}
	d := &Dispatcher{
		reg:      cfg.Registry,
		bus:      cfg.Bus,
		keyboard: cfg.Keyboard,
		files:    cfg.Files,
		guard:    cfg.Guard,
		env:      cfg.Env.WithDefaults(),
		logger:   telemetry.Component(cfg.Logger, "dispatch"),
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
		user:     cfg.Initial,
	}
	if d.user == nil {
		d.user = bridge.Unauthenticated{}
	}
	if d.tracer == nil {
		d.tracer = nooptrace.NewTracerProvider().Tracer(otel.ScopeName)
	}
	return d, nil
}

// User returns the current user state.
func (d *Dispatcher) User() bridge.UserState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.user
}

func (d *Dispatcher) setUser(u bridge.UserState) {
	d.mu.Lock()
	d.user = u
	d.mu.Unlock()
}

// Run dispatches messages from outbound until it is closed (nil) or ctx ends.
// Per-message failures are logged, not returned.
func (d *Dispatcher) Run(ctx context.Context, outbound <-chan bridge.Outbound) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-outbound:
			if !ok {
				return nil
			}
			if err := d.Dispatch(ctx, msg); err != nil {
				telemetry.ForContext(ctx, d.logger).Warn("outbound message not handled", "error", err)
			}
		}
	}
}

// Wait blocks until every in-flight effect has finished.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// Dispatch handles one outbound message. It returns once the effect has been
// started; results arrive later on the bus.
func (d *Dispatcher) Dispatch(ctx context.Context, msg bridge.Outbound) (err error) {
	if shared.TraceID(ctx) == "-" {
		ctx = shared.WithTraceID(ctx, shared.NewTraceID())
	}
	tag := "<nil>"
	if msg != nil {
		tag = msg.Tag()
	}
	ctx, span := otel.StartSpan(ctx, d.tracer, "dispatch "+tag, otel.AttrTag.String(tag))
	defer func() { otel.EndSpan(span, err) }()
	logger := telemetry.ForContext(ctx, d.logger).With("tag", tag)

	switch m := msg.(type) {
	case bridge.Save:
		d.effect(ctx, tag, func(ctx context.Context) { d.save(ctx, logger, m) })
	case bridge.StealFocus:
		d.keyboard.Detach()
	case bridge.ReturnFocus:
		d.keyboard.Attach()
	case bridge.Download:
		d.effect(ctx, tag, func(ctx context.Context) { d.download(ctx, logger, m) })
	case bridge.AttemptLogin:
		release, err := d.acquireSession(ctx, tag)
		if err != nil {
			d.effect(ctx, tag, func(ctx context.Context) { d.publish(ctx, bridge.LoginFailed{Reason: err.Error()}) })
			return err
		}
		d.effect(ctx, tag, func(ctx context.Context) { d.login(ctx, logger, m, release) })
	case bridge.Logout:
		release, err := d.acquireSession(ctx, tag)
		if err != nil {
			d.effect(ctx, tag, func(ctx context.Context) { d.publish(ctx, bridge.LogoutFailed{Reason: err.Error()}) })
			return err
		}
		d.effect(ctx, tag, func(ctx context.Context) { d.logout(ctx, logger, release) })
	case bridge.OpenWindow:
		d.effect(ctx, tag, func(ctx context.Context) {
			if err := d.env.Navigator.OpenWindow(ctx, m.URL); err != nil {
				logger.Warn("open window failed", "url", m.URL, "error", err)
			}
		})
	case bridge.RedirectTo:
		d.guard.Disarm()
		d.effect(ctx, tag, func(ctx context.Context) {
			if err := d.env.Navigator.Navigate(ctx, m.URL); err != nil {
				logger.Warn("redirect failed", "url", m.URL, "error", err)
			}
		})
	case bridge.OpenFileUpload:
		d.files.Open(ctx)
	case bridge.LoadDrawing:
		d.effect(ctx, tag, func(ctx context.Context) { d.loadDrawing(ctx, logger, m) })
	case bridge.Track:
		d.effect(ctx, tag, func(ctx context.Context) { d.reg.Track(ctx, m.Event) })
	default:
		d.metrics.Unrecognized(ctx)
		return &bridge.UnrecognizedMessageError{Tag: tag}
	}
	d.metrics.Dispatched(ctx, tag)
	return nil
}

// effect runs fn on its own goroutine, detached from ctx cancellation.
func (d *Dispatcher) effect(ctx context.Context, tag string, fn func(context.Context)) {
	ctx = context.WithoutCancel(ctx)
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		defer func() {
			if p := recover(); p != nil {
				telemetry.ForContext(ctx, d.logger).Error("effect panicked", "tag", tag, "panic", fmt.Sprint(p))
			}
		}()
		fn(ctx)
	}()
}

// publish delivers an effect's result. It waits for the surface to take it
// and only gives up once the surface has unsubscribed.
func (d *Dispatcher) publish(ctx context.Context, msg bridge.Inbound) {
	if n := d.bus.DeliverTagged(ctx, msg); n == 0 {
		telemetry.ForContext(ctx, d.logger).Warn("inbound message not delivered", "inbound", msg.Tag())
		return
	}
	d.metrics.Published(ctx, msg.Tag())
}

func (d *Dispatcher) acquireSession(ctx context.Context, tag string) (func(), error) {
	release, err := d.reg.BeginSessionChange()
	if err != nil {
		d.metrics.SessionRejected(ctx, tag)
		return nil, err
	}
	return release, nil
}

func (d *Dispatcher) save(ctx context.Context, logger *slog.Logger, m bridge.Save) {
	id, err := d.reg.CreateDrawing(ctx, m.Drawing)
	if err != nil {
		logger.Error("save failed", "reason", bridge.ReasonOf(err))
		d.publish(ctx, bridge.DrawingSaveFailed{Reason: bridge.ReasonOf(err)})
		return
	}
	logger.Info("drawing saved", "drawing_id", id)
	d.publish(ctx, bridge.DrawingSaved{ID: id})
}

func (d *Dispatcher) download(ctx context.Context, logger *slog.Logger, m bridge.Download) {
	png, err := d.env.Canvas.Capture(ctx)
	if err != nil {
		logger.Warn("download failed: canvas capture", "filename", m.Filename, "error", err)
		return
	}
	if err := d.env.Downloader.SaveAs(ctx, m.Filename, png); err != nil {
		logger.Warn("download failed", "filename", m.Filename, "error", err)
		return
	}
	logger.Info("download saved", "filename", m.Filename, "bytes", len(png))
}

func (d *Dispatcher) login(ctx context.Context, logger *slog.Logger, m bridge.AttemptLogin, release func()) {
	profile, err := d.reg.Login(ctx, m.Credentials)
	if err == nil {
		d.setUser(bridge.Authenticated{Profile: profile})
	}
	release()

	if err != nil {
		logger.Info("login failed", "reason", bridge.ReasonOf(err))
		d.publish(ctx, bridge.LoginFailed{Reason: bridge.ReasonOf(err)})
		return
	}
	logger.Info("login succeeded")
	d.publish(ctx, bridge.LoginSucceeded{Profile: profile})
}

func (d *Dispatcher) logout(ctx context.Context, logger *slog.Logger, release func()) {
	err := d.reg.Logout(ctx)
	if err != nil && capability.IsNotSignedIn(err) {
		logger.Info("logout with no signed-in user treated as success")
		err = nil
	}
	if err == nil {
		d.setUser(bridge.Unauthenticated{})
	}
	release()

	if err != nil {
		logger.Warn("logout failed", "reason", bridge.ReasonOf(err))
		d.publish(ctx, bridge.LogoutFailed{Reason: bridge.ReasonOf(err)})
		return
	}
	d.publish(ctx, bridge.LogoutSucceeded{})
}

func (d *Dispatcher) loadDrawing(ctx context.Context, logger *slog.Logger, m bridge.LoadDrawing) {
	drawing, err := d.reg.GetDrawing(ctx, m.ID)
	if err != nil {
		logger.Warn("load drawing failed", "drawing_id", m.ID, "reason", bridge.ReasonOf(err))
		d.publish(ctx, bridge.DrawingLoadFailed{ID: m.ID, Reason: bridge.ReasonOf(err)})
		return
	}
	d.publish(ctx, bridge.DrawingLoaded{ID: m.ID, Drawing: drawing})
}
