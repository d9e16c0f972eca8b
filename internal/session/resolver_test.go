package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/basket/paintbridge/internal/bridge"
	"github.com/basket/paintbridge/internal/capability"
	"github.com/google/go-cmp/cmp"
)

type fakeLookup struct {
	profile  bridge.UserProfile
	err      error
	exceeded bool
	quotaErr error
	delay    time.Duration

	sessionCalls atomic.Int32
	quotaCalls   atomic.Int32
}

func (f *fakeLookup) Session(context.Context) (bridge.UserProfile, error) {
	f.sessionCalls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return bridge.UserProfile{}, &bridge.CollaboratorFailure{Origin: bridge.OriginAuth, Op: "get_session", Err: f.err}
	}
	return f.profile, nil
}

func (f *fakeLookup) QuotaExceeded(context.Context) (bool, error) {
	f.quotaCalls.Add(1)
	return f.exceeded, f.quotaErr
}

func TestResolve_Classification(t *testing.T) {
	profile := bridge.UserProfile{Attributes: map[string]string{"email": "ann@example.com"}}
	tests := []struct {
		name   string
		lookup *fakeLookup
		want   bridge.UserState
	}{
		{"success", &fakeLookup{profile: profile}, bridge.Authenticated{Profile: profile}},
		{"no session", &fakeLookup{err: capability.ErrNoSession}, bridge.Unauthenticated{}},
		{"no session text", &fakeLookup{err: errors.New("no session")}, bridge.Unauthenticated{}},
		{"network failure", &fakeLookup{err: errors.New("NetworkingError: Network Failure")}, bridge.Offline{}},
		{"success ignores quota", &fakeLookup{profile: profile, exceeded: true}, bridge.Authenticated{Profile: profile}},
		{"quota beats network", &fakeLookup{err: capability.ErrNetworkFailure, exceeded: true}, bridge.AllowanceExceeded{}},
		{"quota beats no session", &fakeLookup{err: capability.ErrNoSession, exceeded: true}, bridge.AllowanceExceeded{}},
		{"quota beats unclassified", &fakeLookup{err: errors.New("token expired"), exceeded: true}, bridge.AllowanceExceeded{}},
		{"quota error ignored", &fakeLookup{err: capability.ErrNoSession, quotaErr: errors.New("quota down")}, bridge.Unauthenticated{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewResolver(tt.lookup, nil).Resolve(context.Background())
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("state mismatch (-want +got):\n%s", diff)
			}
			if n := tt.lookup.sessionCalls.Load(); n != 1 {
				t.Fatalf("session calls = %d, want exactly 1", n)
			}
			if tt.lookup.err == nil && tt.lookup.quotaCalls.Load() != 0 {
				t.Fatal("quota consulted after a successful lookup")
			}
		})
	}
}

func TestResolve_UnclassifiedFailure(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("token expired")}
	state, err := NewResolver(lookup, nil).Resolve(context.Background())
	if state != nil {
		t.Fatalf("state = %v, want nil", state)
	}
	var unclassified *UnclassifiedError
	if !errors.As(err, &unclassified) {
		t.Fatalf("err = %v, want UnclassifiedError", err)
	}
	if unclassified.Reason != "token expired" {
		t.Fatalf("reason = %q, want %q", unclassified.Reason, "token expired")
	}
	if n := lookup.sessionCalls.Load(); n != 1 {
		t.Fatalf("session calls = %d, want 1 (no retry)", n)
	}
}

func TestResolve_SingleUse(t *testing.T) {
	r := NewResolver(&fakeLookup{}, nil)
	if _, err := r.Resolve(context.Background()); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	if _, err := r.Resolve(context.Background()); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("second Resolve err = %v, want ErrAlreadyResolved", err)
	}
}

func TestResolve_WaitsForSlowLookup(t *testing.T) {
	lookup := &fakeLookup{delay: 30 * time.Millisecond, err: capability.ErrNoSession}
	start := time.Now()
	state, err := NewResolver(lookup, nil).Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, ok := state.(bridge.Unauthenticated); !ok {
		t.Fatalf("state = %v, want unauthenticated", state)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatal("Resolve returned before the lookup completed")
	}
}
