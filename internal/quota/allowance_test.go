package quota

import (
	"context"
	"errors"
	"testing"
)

type fixedCount struct {
	n   int
	err error
}

func (f fixedCount) CountDrawings(context.Context, string) (int, error) { return f.n, f.err }

func owner(name string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return name, nil }
}

func TestAllowance_Exceeded(t *testing.T) {
	tests := []struct {
		name string
		a    Allowance
		want bool
	}{
		{"unlimited", Allowance{Drawings: fixedCount{n: 99}}, false},
		{"under", Allowance{Drawings: fixedCount{n: 2}, MaxAnonymous: 3}, false},
		{"at limit", Allowance{Drawings: fixedCount{n: 3}, MaxAnonymous: 3}, true},
		{"anonymous owner", Allowance{Drawings: fixedCount{n: 5}, Owner: owner(""), MaxAnonymous: 3}, true},
		{"signed in", Allowance{Drawings: fixedCount{n: 5}, Owner: owner("ada"), MaxAnonymous: 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.a.Exceeded(context.Background())
			if err != nil {
				t.Fatalf("Exceeded: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Exceeded = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAllowance_CountError(t *testing.T) {
	boom := errors.New("disk I/O error")
	a := Allowance{Drawings: fixedCount{err: boom}, MaxAnonymous: 1}
	if _, err := a.Exceeded(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Exceeded = %v, want %v", err, boom)
	}
}
