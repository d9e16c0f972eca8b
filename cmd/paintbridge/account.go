package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/basket/paintbridge/internal/auth"
	"github.com/basket/paintbridge/internal/bridge"
	"github.com/basket/paintbridge/internal/config"
	"github.com/basket/paintbridge/internal/persistence"
)

const accountUsage = "usage: paintbridge account add [-password <pw>] <username> [name=value...]"

func runAccountCommand(ctx context.Context, args []string) int {
	if len(args) == 0 || args[0] != "add" {
		fmt.Fprintln(os.Stderr, accountUsage)
		return 2
	}
	fs := flag.NewFlagSet("account add", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	password := fs.String("password", os.Getenv("PAINTBRIDGE_PASSWORD"), "account password")
	if err := fs.Parse(args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, accountUsage)
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 || strings.TrimSpace(rest[0]) == "" {
		fmt.Fprintln(os.Stderr, accountUsage)
		return 2
	}
	attrs, err := parseAttributes(rest[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}
	store, err := persistence.Open(cfg.DBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		return 1
	}
	defer store.Close()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	if err := auth.NewLocal(store, logger).Register(ctx, rest[0], *password, attrs); err != nil {
		fmt.Fprintf(os.Stderr, "account add: %v\n", err)
		return 1
	}
	fmt.Printf("account %q created\n", rest[0])
	return 0
}

// parseAttributes reads name=value pairs in order. Names are kept verbatim.
func parseAttributes(pairs []string) ([]bridge.Attribute, error) {
	attrs := make([]bridge.Attribute, 0, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("attribute %q: want name=value", p)
		}
		attrs = append(attrs, bridge.Attribute{Name: name, Value: value})
	}
	return attrs, nil
}
