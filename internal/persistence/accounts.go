package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// AccountAttribute is one profile attribute stored with an account.
type AccountAttribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Account struct {
	Username     string
	PasswordHash []byte
	Attributes   []AccountAttribute
	CreatedAt    time.Time
}

// CreateAccount inserts a new account. Returns ErrConflict if the username is taken.
func (s *Store) CreateAccount(ctx context.Context, acct Account) error {
	attrs := acct.Attributes
	if attrs == nil {
		attrs = []AccountAttribute{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	err = retryOnBusy(ctx, busyRetries, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO accounts (username, password_hash, attributes)
			VALUES (?, ?, ?);
		`, acct.Username, acct.PasswordHash, string(attrsJSON))
		return err
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("account %q: %w", acct.Username, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetAccount loads an account by username. Returns ErrNotFound if absent.
func (s *Store) GetAccount(ctx context.Context, username string) (*Account, error) {
	var (
		acct      Account
		attrsJSON string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password_hash, attributes, created_at
		FROM accounts WHERE username = ?;
	`, username).Scan(&acct.Username, &acct.PasswordHash, &attrsJSON, &acct.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %q: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if err := json.Unmarshal([]byte(attrsJSON), &acct.Attributes); err != nil {
		return nil, fmt.Errorf("decode attributes for %q: %w", username, err)
	}
	return &acct, nil
}
