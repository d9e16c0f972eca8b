// Package quota decides whether the current user has used up their drawing
// allowance.
package quota

import (
	"context"
	"fmt"

	"github.com/basket/paintbridge/internal/storage"
)

// Counter counts stored drawings per owner.
type Counter interface {
	CountDrawings(ctx context.Context, owner string) (int, error)
}

// Allowance limits anonymous use. Signed-in users are never over it.
type Allowance struct {
	Drawings Counter
	Owner    storage.OwnerFunc
	// MaxAnonymous is the number of anonymous drawings allowed; 0 means
	// unlimited.
	MaxAnonymous int
}

func (a Allowance) Exceeded(ctx context.Context) (bool, error) {
	if a.MaxAnonymous <= 0 {
		return false, nil
	}
	if a.Owner != nil {
		owner, err := a.Owner(ctx)
		if err != nil {
			return false, fmt.Errorf("resolve owner: %w", err)
		}
		if owner != "" {
			return false, nil
		}
	}
	n, err := a.Drawings.CountDrawings(ctx, "")
	if err != nil {
		return false, err
	}
	return n >= a.MaxAnonymous, nil
}
