// Package bootstrap resolves the initial session, mounts the rendering
// surface and wires its outbound channel to a dispatcher.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/basket/paintbridge/internal/adapter"
	"github.com/basket/paintbridge/internal/bridge"
	"github.com/basket/paintbridge/internal/bus"
	"github.com/basket/paintbridge/internal/capability"
	"github.com/basket/paintbridge/internal/dispatch"
	"github.com/basket/paintbridge/internal/environ"
	"github.com/basket/paintbridge/internal/otel"
	"github.com/basket/paintbridge/internal/session"
	"github.com/basket/paintbridge/internal/shared"
	"github.com/basket/paintbridge/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// State is the orchestrator's lifecycle position. It only moves forward.
type State int32

const (
	Idle State = iota
	Resolving
	Mounted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Resolving:
		return "resolving"
	case Mounted:
		return "mounted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrAlreadyStarted is returned by a second Start call.
var ErrAlreadyStarted = errors.New("bootstrap already started")

// Ports is what a surface receives at mount besides the initial flags.
type Ports struct {
	// Inbound delivers every inbound message as a bus event whose payload is
	// a bridge.Inbound.
	Inbound *bus.Subscription
	// Keys receives native key events from the surface's environment.
	Keys *adapter.Keyboard
	// Guard tells the surface whether leaving needs confirmation.
	Guard *adapter.UnloadGuard
}

// Surface is the rendering surface. Mount returns the outbound channel; the
// surface closes it when it exits.
type Surface interface {
	Mount(ctx context.Context, flags bridge.InitialFlags, ports Ports) (<-chan bridge.Outbound, error)
}

type Config struct {
	Registry *capability.Registry
	Surface  Surface
	Env      environ.Environment
	Manifest bridge.Manifest

	MaxUploadBytes int64

	Logger  *slog.Logger
	Metrics *otel.Metrics
	Tracer  trace.Tracer
}

// Orchestrator runs one bootstrap: Idle, then Resolving, then Mounted.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger
	state  atomic.Int32
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Registry == nil {
		return nil, errors.New("bootstrap: registry is required")
	}
	if cfg.Surface == nil {
		return nil, errors.New("bootstrap: surface is required")
	}
	if cfg.Tracer == nil {
		cfg.Tracer = nooptrace.NewTracerProvider().Tracer(otel.ScopeName)
	}
	return &Orchestrator{cfg: cfg, logger: telemetry.Component(cfg.Logger, "bootstrap")}, nil
}

func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Start resolves the session, mounts the surface and starts dispatching.
// It runs once; the surface keeps running after Start returns, until ctx
// ends or the surface closes its outbound channel.
func (o *Orchestrator) Start(ctx context.Context) (*Handle, error) {
	if !o.state.CompareAndSwap(int32(Idle), int32(Resolving)) {
		return nil, ErrAlreadyStarted
	}
	started := time.Now()
	if shared.TraceID(ctx) == "-" {
		ctx = shared.WithTraceID(ctx, shared.NewTraceID())
	}
	logger := telemetry.ForContext(ctx, o.logger)

	spanCtx, span := otel.StartSpan(ctx, o.cfg.Tracer, "bootstrap")
	user := o.resolve(spanCtx, logger)
	span.SetAttributes(otel.AttrUserState.String(user.String()))
	flags := bridge.InitialFlags{User: user, Manifest: o.cfg.Manifest}

	b := bus.New()
	inbound := b.Subscribe(bus.TopicInbound)
	keyboard := adapter.NewKeyboard(b, o.cfg.Logger, o.cfg.Metrics)
	guard := adapter.NewUnloadGuard()
	files := adapter.NewFileUpload(adapter.UploadConfig{
		Picker:   o.cfg.Env.WithDefaults().Picker,
		Bus:      b,
		MaxBytes: o.cfg.MaxUploadBytes,
		Logger:   o.cfg.Logger,
		Metrics:  o.cfg.Metrics,
	})
	d, err := dispatch.New(dispatch.Config{
		Registry: o.cfg.Registry,
		Bus:      b,
		Keyboard: keyboard,
		Files:    files,
		Guard:    guard,
		Env:      o.cfg.Env,
		Initial:  user,
		Logger:   o.cfg.Logger,
		Metrics:  o.cfg.Metrics,
		Tracer:   o.cfg.Tracer,
	})
	if err != nil {
		b.Unsubscribe(inbound)
		otel.EndSpan(span, err)
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	outbound, err := o.cfg.Surface.Mount(runCtx, flags, Ports{Inbound: inbound, Keys: keyboard, Guard: guard})
	if err != nil {
		cancel()
		b.Unsubscribe(inbound)
		err = fmt.Errorf("mount surface: %w", err)
		otel.EndSpan(span, err)
		return nil, err
	}
	o.state.Store(int32(Mounted))
	otel.EndSpan(span, nil)
	o.cfg.Metrics.ObserveBootstrap(ctx, user.String(), time.Since(started))
	o.cfg.Metrics.SurfaceMounted(ctx, 1)
	logger.Info("surface mounted", "user_state", user.String(), "init", o.cfg.Manifest.Init.Type)

	h := &Handle{
		Flags:      flags,
		Dispatcher: d,
		Keyboard:   keyboard,
		Guard:      guard,
		done:       make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		h.err = d.Run(runCtx, outbound)
		cancel()
		// The surface is gone; unsubscribing releases effects still
		// waiting to deliver a result.
		b.Unsubscribe(inbound)
		d.Wait()
		files.Wait()
		o.cfg.Metrics.SurfaceMounted(context.Background(), -1)
		logger.Info("surface closed", "user_state", d.User().String())
	}()
	return h, nil
}

// resolve runs the session resolver. An unclassified failure defaults to
// Unauthenticated.
func (o *Orchestrator) resolve(ctx context.Context, logger *slog.Logger) bridge.UserState {
	user, err := session.NewResolver(o.cfg.Registry, logger).Resolve(ctx)
	if err != nil {
		logger.Warn("session unresolved; starting unauthenticated", "error", err)
		return bridge.Unauthenticated{}
	}
	return user
}

// Handle is the caller's reference to a mounted surface.
type Handle struct {
	Flags      bridge.InitialFlags
	Dispatcher *dispatch.Dispatcher
	Keyboard   *adapter.Keyboard
	Guard      *adapter.UnloadGuard

	done chan struct{}
	err  error
}

// Done is closed once the surface has exited and in-flight effects drained.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until Done and returns the dispatch loop's error, which is nil
// when the surface closed its outbound channel.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}
