package environ

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
)

// Browser opens URLs with the platform's default handler.
type Browser struct {
	// AfterNavigate runs once Navigate has handed the page off, e.g. to quit
	// the terminal surface.
	AfterNavigate func()

	run func(ctx context.Context, name string, args ...string) error
}

func NewBrowser(afterNavigate func()) *Browser {
	return &Browser{AfterNavigate: afterNavigate, run: runCommand}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Start()
}

func openerCommand(goos string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", nil
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler"}
	default:
		return "xdg-open", nil
	}
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "mailto":
		return nil
	default:
		return fmt.Errorf("refusing to open url with scheme %q", u.Scheme)
	}
}

func (b *Browser) open(ctx context.Context, raw string) error {
	if err := checkURL(raw); err != nil {
		return err
	}
	name, args := openerCommand(runtime.GOOS)
	run := b.run
	if run == nil {
		run = runCommand
	}
	if err := run(ctx, name, append(args, raw)...); err != nil {
		return fmt.Errorf("open %s: %w", raw, err)
	}
	return nil
}

func (b *Browser) OpenWindow(ctx context.Context, raw string) error {
	return b.open(ctx, raw)
}

func (b *Browser) Navigate(ctx context.Context, raw string) error {
	if err := b.open(ctx, raw); err != nil {
		return err
	}
	if b.AfterNavigate != nil {
		b.AfterNavigate()
	}
	return nil
}
