// Package session resolves the initial user state from one session lookup.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/basket/paintbridge/internal/bridge"
	"github.com/basket/paintbridge/internal/capability"
)

// ErrAlreadyResolved is returned by a second Resolve call.
var ErrAlreadyResolved = errors.New("session already resolved")

// UnclassifiedError is a session lookup failure that maps to no user state.
type UnclassifiedError struct {
	Reason string
	Err    error
}

func (e *UnclassifiedError) Error() string {
	return fmt.Sprintf("unclassified session failure: %s", e.Reason)
}

func (e *UnclassifiedError) Unwrap() error { return e.Err }

// Lookup is the part of the capability registry the resolver needs.
type Lookup interface {
	Session(ctx context.Context) (bridge.UserProfile, error)
	QuotaExceeded(ctx context.Context) (bool, error)
}

var _ Lookup = (*capability.Registry)(nil)

// Resolver turns one session lookup into a UserState. It is single-use.
type Resolver struct {
	lookup Lookup
	logger *slog.Logger
	used   atomic.Bool
}

func NewResolver(lookup Lookup, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{lookup: lookup, logger: logger}
}

// Resolve makes exactly one session lookup and classifies the outcome. A
// successful lookup is always Authenticated. Only after a failed lookup is
// the anonymous allowance consulted, and an exceeded allowance then wins
// over the failure's own class. The lookup is never retried.
func (r *Resolver) Resolve(ctx context.Context) (bridge.UserState, error) {
	if !r.used.CompareAndSwap(false, true) {
		return nil, ErrAlreadyResolved
	}

	profile, err := r.lookup.Session(ctx)
	if err == nil {
		return bridge.Authenticated{Profile: profile}, nil
	}
	if r.quotaExceeded(ctx) {
		return bridge.AllowanceExceeded{}, nil
	}
	return r.classify(err)
}

// quotaExceeded treats a failed quota check as not exceeded.
func (r *Resolver) quotaExceeded(ctx context.Context) bool {
	exceeded, err := r.lookup.QuotaExceeded(ctx)
	if err != nil {
		r.logger.Warn("quota check failed; assuming allowance available", "reason", bridge.ReasonOf(err))
		return false
	}
	return exceeded
}

func (r *Resolver) classify(err error) (bridge.UserState, error) {
	switch {
	case capability.IsNoSession(err):
		return bridge.Unauthenticated{}, nil
	case capability.IsNetworkFailure(err):
		return bridge.Offline{}, nil
	default:
		reason := bridge.ReasonOf(err)
		r.logger.Error("session lookup failed with unclassified reason", "reason", reason)
		return nil, &UnclassifiedError{Reason: reason, Err: err}
	}
}
