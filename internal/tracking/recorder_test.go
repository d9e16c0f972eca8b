package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/paintbridge/internal/persistence"
)

func TestRecorder_PersistsWithOwner(t *testing.T) {
	store, err := persistence.Open(filepath.Join(t.TempDir(), "paintbridge.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	r := NewRecorder(store, func(context.Context) (string, error) { return "ada", nil }, nil, nil)
	ctx := context.Background()
	if err := r.Track(ctx, json.RawMessage(`{"name":"stroke","tool":"pencil"}`)); err != nil {
		t.Fatalf("Track: %v", err)
	}
	var owner, payload string
	if err := store.DB().QueryRowContext(ctx, `SELECT owner, payload FROM track_events`).Scan(&owner, &payload); err != nil {
		t.Fatalf("query: %v", err)
	}
	if owner != "ada" {
		t.Errorf("owner = %q, want ada", owner)
	}
	if payload != `{"name":"stroke","tool":"pencil"}` {
		t.Errorf("payload = %s", payload)
	}
}

type countingStore struct{ n int }

func (c *countingStore) RecordTrackEvent(context.Context, string, []byte) error {
	c.n++
	return nil
}

func TestRecorder_RejectsBadEvents(t *testing.T) {
	store := &countingStore{}
	r := NewRecorder(store, nil, nil, nil)
	for _, ev := range []json.RawMessage{
		nil,
		json.RawMessage(`{"name":`),
		json.RawMessage(`"` + strings.Repeat("x", maxEventBytes) + `"`),
	} {
		if err := r.Track(context.Background(), ev); err == nil {
			t.Errorf("Track(%.20s) succeeded", ev)
		}
	}
	if store.n != 0 {
		t.Fatalf("stored %d rejected events", store.n)
	}
}

func TestRecorder_OwnerFailure(t *testing.T) {
	store := &countingStore{}
	boom := errors.New("session store offline")
	r := NewRecorder(store, func(context.Context) (string, error) { return "", boom }, nil, nil)
	if err := r.Track(context.Background(), json.RawMessage(`{}`)); !errors.Is(err, boom) {
		t.Fatalf("Track = %v, want wrapped owner error", err)
	}
}

func TestEventName(t *testing.T) {
	tests := map[string]string{
		`{"name":"save"}`:   "save",
		`{"event":"clear"}`: "clear",
		`[1,2]`:             "",
	}
	for in, want := range tests {
		if got := eventName(json.RawMessage(in)); got != want {
			t.Errorf("eventName(%s) = %q, want %q", in, got, want)
		}
	}
}
