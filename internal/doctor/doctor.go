// Package doctor runs local diagnostics for a paintbridge installation.
package doctor

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/basket/paintbridge/internal/config"
	"github.com/basket/paintbridge/internal/persistence"
	"golang.org/x/sync/errgroup"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Failed counts FAIL results.
func (d Diagnosis) Failed() int {
	n := 0
	for _, r := range d.Results {
		if r.Status == "FAIL" {
			n++
		}
	}
	return n
}

// Run executes all diagnostic checks concurrently. Results keep the check
// order.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkDatabase,
		checkDirectories,
		checkOpener,
		checkAuth,
	}
	d.Results = make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			d.Results[i] = check(ctx, cfg)
			return nil
		})
	}
	_ = g.Wait()
	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	if cfg.FirstRun {
		return CheckResult{Name: "Config", Status: "WARN", Message: "No config.yaml; using defaults", Detail: config.ConfigPath(cfg.HomeDir)}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("Loaded from %s", cfg.HomeDir), Detail: cfg.Fingerprint()}
}

func checkDatabase(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Database", Status: "SKIP", Message: "Config missing"}
	}
	store, err := persistence.Open(cfg.DBPath())
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Connection failed: %v", err)}
	}
	defer store.Close()

	events, err := store.CountTrackEvents(ctx)
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Query failed: %v", err)}
	}
	return CheckResult{Name: "Database", Status: "PASS", Message: "Connection and schema valid", Detail: fmt.Sprintf("track_events=%d", events)}
}

// checkDirectories verifies the home, downloads and uploads directories can
// be written.
func checkDirectories(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Directories", Status: "SKIP", Message: "Config missing"}
	}
	for _, dir := range []string{cfg.HomeDir, cfg.Environment.DownloadsDir, cfg.Environment.UploadsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return CheckResult{Name: "Directories", Status: "FAIL", Message: fmt.Sprintf("Cannot create %s: %v", dir, err)}
		}
		probe := filepath.Join(dir, ".write_test")
		if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
			return CheckResult{Name: "Directories", Status: "FAIL", Message: fmt.Sprintf("%s unwritable: %v", dir, err)}
		}
		os.Remove(probe)
	}
	return CheckResult{Name: "Directories", Status: "PASS", Message: "Home, downloads and uploads writable"}
}

// checkOpener looks for the command used to open windows and redirects.
func checkOpener(_ context.Context, cfg *config.Config) CheckResult {
	if cfg != nil && cfg.Surface == config.SurfaceGateway {
		return CheckResult{Name: "URL Opener", Status: "SKIP", Message: "Pages open URLs themselves"}
	}
	name := "xdg-open"
	switch runtime.GOOS {
	case "darwin":
		name = "open"
	case "windows":
		name = "rundll32"
	}
	if _, err := exec.LookPath(name); err != nil {
		return CheckResult{
			Name:    "URL Opener",
			Status:  "WARN",
			Message: fmt.Sprintf("%s not found", name),
			Detail:  "open window and redirect will fail in the terminal surface",
		}
	}
	return CheckResult{Name: "URL Opener", Status: "PASS", Message: fmt.Sprintf("%s available", name)}
}

func checkAuth(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Auth", Status: "SKIP", Message: "Config missing"}
	}
	if cfg.Auth.Mode != config.AuthRemote {
		return CheckResult{Name: "Auth", Status: "PASS", Message: "Local accounts"}
	}

	u, err := url.Parse(cfg.Auth.Endpoint)
	if err != nil || u.Hostname() == "" {
		return CheckResult{Name: "Auth", Status: "FAIL", Message: fmt.Sprintf("Invalid endpoint %q", cfg.Auth.Endpoint)}
	}
	host := u.Hostname()

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	addrs, err := net.DefaultResolver.LookupHost(lookupCtx, host)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Name:    "Auth",
			Status:  "FAIL",
			Message: fmt.Sprintf("DNS lookup failed for %s: %v", host, err),
			Detail:  fmt.Sprintf("latency=%dms; sessions will resolve as offline", latency.Milliseconds()),
		}
	}
	return CheckResult{
		Name:    "Auth",
		Status:  "PASS",
		Message: fmt.Sprintf("DNS resolved %s (%d addresses, %dms)", host, len(addrs), latency.Milliseconds()),
		Detail:  fmt.Sprintf("addresses=%v", addrs),
	}
}
