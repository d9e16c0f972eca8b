package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/basket/paintbridge/internal/bridge"
	"github.com/basket/paintbridge/internal/otel"
	"go.opentelemetry.io/otel/trace"
)

// Hooks carries optional observability for collaborator calls.
type Hooks struct {
	Tracer  trace.Tracer
	Metrics *otel.Metrics
}

// Registry is the set of collaborator clients. It is immutable after
// NewRegistry and safe for concurrent use. Every surface sharing a registry
// shares its auth session, so session changes are serialized here.
type Registry struct {
	auth    AuthClient
	storage StorageClient
	tracker Tracker
	quota   QuotaChecker
	logger  *slog.Logger
	hooks   Hooks

	sessionBusy atomic.Bool
}

func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Auth == nil {
		return nil, errors.New("capability: auth client is required")
	}
	if cfg.Storage == nil {
		return nil, errors.New("capability: storage client is required")
	}
	r := &Registry{
		auth:    cfg.Auth,
		storage: cfg.Storage,
		tracker: cfg.Tracker,
		quota:   cfg.Quota,
		logger:  cfg.Logger,
		hooks:   cfg.Hooks,
	}
	if r.tracker == nil {
		r.tracker = nopTracker{}
	}
	if r.quota == nil {
		r.quota = nopQuota{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r, nil
}

// invoke runs one collaborator call with a client span, latency metric and
// panic recovery. Failures come back as *bridge.CollaboratorFailure.
func invoke[T any](ctx context.Context, r *Registry, origin bridge.Origin, op string, f func(context.Context) (T, error)) (out T, err error) {
	if r.hooks.Tracer != nil {
		var span trace.Span
		ctx, span = otel.StartClientSpan(ctx, r.hooks.Tracer, string(origin)+"."+op,
			otel.AttrOrigin.String(string(origin)),
			otel.AttrOperation.String(op),
		)
		defer func() { otel.EndSpan(span, err) }()
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("collaborator panic: %v", p)
		}
		if err != nil {
			err = &bridge.CollaboratorFailure{Origin: origin, Op: op, Err: err}
		}
		r.hooks.Metrics.ObserveCollaborator(ctx, string(origin), op, time.Since(start), err)
	}()
	return f(ctx)
}

// BeginSessionChange claims the auth session for one login or logout. It
// fails with bridge.ErrConcurrentSessionMutation while another claim is
// outstanding; the returned release ends the claim and is idempotent.
func (r *Registry) BeginSessionChange() (release func(), err error) {
	if !r.sessionBusy.CompareAndSwap(false, true) {
		return nil, bridge.ErrConcurrentSessionMutation
	}
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			r.sessionBusy.Store(false)
		}
	}, nil
}

// Session looks up the current user.
func (r *Registry) Session(ctx context.Context) (bridge.UserProfile, error) {
	attrs, err := invoke(ctx, r, bridge.OriginAuth, "get_session", r.auth.GetSession)
	if err != nil {
		return bridge.UserProfile{}, err
	}
	return bridge.ProfileFromAttributes(attrs), nil
}

// Login authenticates creds and returns the resulting profile.
func (r *Registry) Login(ctx context.Context, creds bridge.Credentials) (bridge.UserProfile, error) {
	attrs, err := invoke(ctx, r, bridge.OriginAuth, "login", func(ctx context.Context) ([]bridge.Attribute, error) {
		return r.auth.Login(ctx, creds)
	})
	if err != nil {
		return bridge.UserProfile{}, err
	}
	return bridge.ProfileFromAttributes(attrs), nil
}

func (r *Registry) Logout(ctx context.Context) error {
	_, err := invoke(ctx, r, bridge.OriginAuth, "logout", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.auth.Logout(ctx)
	})
	return err
}

// CreateDrawing stores d and returns its id.
func (r *Registry) CreateDrawing(ctx context.Context, d bridge.Drawing) (string, error) {
	return invoke(ctx, r, bridge.OriginStorage, "create_drawing", func(ctx context.Context) (string, error) {
		return r.storage.CreateDrawing(ctx, d)
	})
}

func (r *Registry) GetDrawing(ctx context.Context, id string) (bridge.Drawing, error) {
	return invoke(ctx, r, bridge.OriginStorage, "get_drawing", func(ctx context.Context) (bridge.Drawing, error) {
		return r.storage.GetDrawing(ctx, id)
	})
}

// Track forwards an analytics event. Failures are logged and dropped.
func (r *Registry) Track(ctx context.Context, event json.RawMessage) {
	_, err := invoke(ctx, r, bridge.OriginTracking, "track", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.tracker.Track(ctx, event)
	})
	if err != nil {
		r.logger.Warn("tracking event dropped", "reason", bridge.ReasonOf(err))
	}
}

// QuotaExceeded reports whether the current user is over their allowance.
func (r *Registry) QuotaExceeded(ctx context.Context) (bool, error) {
	return invoke(ctx, r, bridge.OriginQuota, "exceeded", r.quota.Exceeded)
}
