// Package storage adapts the sqlite store to the drawing storage the core
// saves to and loads from.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/basket/paintbridge/internal/bridge"
	"github.com/basket/paintbridge/internal/persistence"
	"github.com/basket/paintbridge/internal/telemetry"
)

// ErrDrawingNotFound is the load failure reason for an unknown id.
var ErrDrawingNotFound = errors.New("drawing not found")

// OwnerFunc reports the signed-in username, or "" when anonymous.
type OwnerFunc func(ctx context.Context) (string, error)

// Anonymous is an OwnerFunc for deployments without accounts.
func Anonymous(context.Context) (string, error) { return "", nil }

type Client struct {
	store  *persistence.Store
	owner  OwnerFunc
	logger *slog.Logger
}

func NewClient(store *persistence.Store, owner OwnerFunc, logger *slog.Logger) *Client {
	if owner == nil {
		owner = Anonymous
	}
	return &Client{store: store, owner: owner, logger: telemetry.Component(logger, "storage")}
}

// CreateDrawing stores d under the current owner. The body must be JSON; it
// is otherwise kept byte for byte.
func (c *Client) CreateDrawing(ctx context.Context, d bridge.Drawing) (string, error) {
	if !json.Valid(d) {
		return "", errors.New("drawing is not valid JSON")
	}
	owner, err := c.owner(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve owner: %w", err)
	}
	id, err := c.store.CreateDrawing(ctx, owner, d)
	if err != nil {
		return "", err
	}
	c.logger.Info("drawing stored", "drawing_id", id, "anonymous", owner == "", "bytes", len(d))
	return id, nil
}

func (c *Client) GetDrawing(ctx context.Context, id string) (bridge.Drawing, error) {
	rec, err := c.store.GetDrawing(ctx, id)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, ErrDrawingNotFound
	}
	if err != nil {
		return nil, err
	}
	return bridge.Drawing(rec.Body), nil
}
