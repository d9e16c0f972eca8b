package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type DrawingRecord struct {
	ID        string
	Owner     string
	Body      []byte
	CreatedAt time.Time
}

// CreateDrawing stores body under a new id. An empty owner marks an
// anonymous drawing.
func (s *Store) CreateDrawing(ctx context.Context, owner string, body []byte) (string, error) {
	id := uuid.NewString()
	err := retryOnBusy(ctx, busyRetries, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO drawings (id, owner, body) VALUES (?, ?, ?);
		`, id, owner, string(body))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("insert drawing: %w", err)
	}
	return id, nil
}

// GetDrawing loads a drawing by id. Returns ErrNotFound if absent.
func (s *Store) GetDrawing(ctx context.Context, id string) (*DrawingRecord, error) {
	var (
		rec  DrawingRecord
		body string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner, body, created_at FROM drawings WHERE id = ?;
	`, id).Scan(&rec.ID, &rec.Owner, &body, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("drawing %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get drawing: %w", err)
	}
	rec.Body = []byte(body)
	return &rec, nil
}

// CountDrawings returns how many drawings owner has stored.
func (s *Store) CountDrawings(ctx context.Context, owner string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM drawings WHERE owner = ?;`, owner).Scan(&n); err != nil {
		return 0, fmt.Errorf("count drawings: %w", err)
	}
	return n, nil
}
