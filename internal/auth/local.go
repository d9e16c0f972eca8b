// Package auth provides the session services the core signs users in
// against: Local keeps accounts in the sqlite store, Remote talks to an
// HTTP session endpoint.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/basket/paintbridge/internal/bridge"
	"github.com/basket/paintbridge/internal/capability"
	"github.com/basket/paintbridge/internal/persistence"
	"github.com/basket/paintbridge/internal/telemetry"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is the login failure reason for an unknown user or a
// wrong password. Both look the same to the caller.
var ErrInvalidCredentials = errors.New("incorrect username or password")

const sessionKey = "session.current"

// Local is a single-seat session service: at most one user is signed in.
type Local struct {
	store  *persistence.Store
	logger *slog.Logger
	cost   int
}

func NewLocal(store *persistence.Store, logger *slog.Logger) *Local {
	return &Local{
		store:  store,
		logger: telemetry.Component(logger, "auth"),
		cost:   bcrypt.DefaultCost,
	}
}

// Register creates an account. Attributes are returned verbatim by
// GetSession and Login.
func (l *Local) Register(ctx context.Context, username, password string, attrs []bridge.Attribute) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return errors.New("username is required")
	}
	if password == "" {
		return errors.New("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), l.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	stored := make([]persistence.AccountAttribute, 0, len(attrs))
	for _, a := range attrs {
		stored = append(stored, persistence.AccountAttribute{Name: a.Name, Value: a.Value})
	}
	if err := l.store.CreateAccount(ctx, persistence.Account{
		Username:     username,
		PasswordHash: hash,
		Attributes:   stored,
	}); err != nil {
		return err
	}
	l.logger.Info("account registered", "username", username, "attributes", len(attrs))
	return nil
}

// GetSession returns the signed-in user's attributes or
// capability.ErrNoSession.
func (l *Local) GetSession(ctx context.Context) ([]bridge.Attribute, error) {
	username, err := l.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if username == "" {
		return nil, capability.ErrNoSession
	}
	acct, err := l.store.GetAccount(ctx, username)
	if errors.Is(err, persistence.ErrNotFound) {
		// Account removed under a live session.
		if _, derr := l.store.KVDelete(ctx, sessionKey); derr != nil {
			l.logger.Warn("clear stale session failed", "error", derr)
		}
		return nil, capability.ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	return attributesOf(acct), nil
}

func (l *Local) Login(ctx context.Context, creds bridge.Credentials) ([]bridge.Attribute, error) {
	acct, err := l.store.GetAccount(ctx, strings.TrimSpace(creds.Username))
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword(acct.PasswordHash, []byte(creds.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if err := l.store.KVSet(ctx, sessionKey, acct.Username); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	l.logger.Info("signed in", "username", acct.Username)
	return attributesOf(acct), nil
}

// Logout ends the session. Without one it returns capability.ErrNotSignedIn.
func (l *Local) Logout(ctx context.Context) error {
	existed, err := l.store.KVDelete(ctx, sessionKey)
	if err != nil {
		return err
	}
	if !existed {
		return capability.ErrNotSignedIn
	}
	l.logger.Info("signed out")
	return nil
}

// CurrentUser returns the signed-in username, or "" when nobody is.
func (l *Local) CurrentUser(ctx context.Context) (string, error) {
	username, err := l.store.KVGet(ctx, sessionKey)
	if err != nil {
		return "", fmt.Errorf("read session: %w", err)
	}
	return username, nil
}

func attributesOf(acct *persistence.Account) []bridge.Attribute {
	out := make([]bridge.Attribute, 0, len(acct.Attributes))
	for _, a := range acct.Attributes {
		out = append(out, bridge.Attribute{Name: a.Name, Value: a.Value})
	}
	return out
}
