// Package capability holds the immutable set of collaborator clients the
// core calls: auth, storage, tracking and quota. Every call is traced, timed
// and its failures wrapped in *bridge.CollaboratorFailure.
package capability

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/basket/paintbridge/internal/bridge"
)

// Sentinel collaborator reasons. The string forms match what session
// services report on the wire, so a bare error carrying the same text
// classifies the same way.
var (
	ErrNoSession      = errors.New("no session")
	ErrNetworkFailure = errors.New("NetworkingError: Network Failure")
	ErrNotSignedIn    = errors.New("user was not signed in")
)

// AuthClient is the session service.
type AuthClient interface {
	// GetSession returns the current user's attributes, or ErrNoSession.
	GetSession(ctx context.Context) ([]bridge.Attribute, error)
	// Login authenticates and returns the user's attributes.
	Login(ctx context.Context, creds bridge.Credentials) ([]bridge.Attribute, error)
	Logout(ctx context.Context) error
}

// StorageClient persists drawings.
type StorageClient interface {
	CreateDrawing(ctx context.Context, d bridge.Drawing) (string, error)
	GetDrawing(ctx context.Context, id string) (bridge.Drawing, error)
}

// Tracker records analytics events.
type Tracker interface {
	Track(ctx context.Context, event json.RawMessage) error
}

// QuotaChecker reports whether the current user is over their allowance.
type QuotaChecker interface {
	Exceeded(ctx context.Context) (bool, error)
}

// Config wires a Registry. Auth and Storage are required.
type Config struct {
	Auth    AuthClient
	Storage StorageClient
	Tracker Tracker
	Quota   QuotaChecker

	Logger *slog.Logger
	Hooks  Hooks
}

type nopTracker struct{}

func (nopTracker) Track(context.Context, json.RawMessage) error { return nil }

type nopQuota struct{}

func (nopQuota) Exceeded(context.Context) (bool, error) { return false, nil }

// FuncAuth adapts plain functions to AuthClient. Nil functions report
// ErrNoSession (GetSession) or succeed (Logout).
type FuncAuth struct {
	SessionFunc func(ctx context.Context) ([]bridge.Attribute, error)
	LoginFunc   func(ctx context.Context, creds bridge.Credentials) ([]bridge.Attribute, error)
	LogoutFunc  func(ctx context.Context) error
}

func (f FuncAuth) GetSession(ctx context.Context) ([]bridge.Attribute, error) {
	if f.SessionFunc == nil {
		return nil, ErrNoSession
	}
	return f.SessionFunc(ctx)
}

func (f FuncAuth) Login(ctx context.Context, creds bridge.Credentials) ([]bridge.Attribute, error) {
	if f.LoginFunc == nil {
		return nil, errors.New("login unavailable")
	}
	return f.LoginFunc(ctx, creds)
}

func (f FuncAuth) Logout(ctx context.Context) error {
	if f.LogoutFunc == nil {
		return nil
	}
	return f.LogoutFunc(ctx)
}
