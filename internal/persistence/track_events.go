package persistence

import (
	"context"
	"fmt"
	"time"
)

// RecordTrackEvent appends one analytics payload.
func (s *Store) RecordTrackEvent(ctx context.Context, owner string, payload []byte) error {
	err := retryOnBusy(ctx, busyRetries, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO track_events (owner, payload, created_at) VALUES (?, ?, ?);
		`, owner, string(payload), time.Now().UTC())
		return err
	})
	if err != nil {
		return fmt.Errorf("insert track event: %w", err)
	}
	return nil
}

// PruneTrackEvents deletes events recorded before cutoff. The job is idempotent.
func (s *Store) PruneTrackEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	err := retryOnBusy(ctx, busyRetries, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM track_events WHERE created_at < ?;`, cutoff.UTC())
		if err != nil {
			return err
		}
		purged, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purge track_events: %w", err)
	}
	return purged, nil
}

func (s *Store) CountTrackEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM track_events;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count track events: %w", err)
	}
	return n, nil
}
