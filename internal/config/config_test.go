package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/paintbridge/internal/config"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("PAINTBRIDGE_HOME", home)
	if body != "" {
		if err := os.WriteFile(config.ConfigPath(home), []byte(body), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	return home
}

func TestLoad_DefaultsApplied(t *testing.T) {
	home := writeConfig(t, "")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.FirstRun {
		t.Fatal("expected FirstRun when config.yaml is missing")
	}
	if cfg.Surface != config.SurfaceTUI {
		t.Fatalf("surface = %q, want %q", cfg.Surface, config.SurfaceTUI)
	}
	if cfg.Auth.Mode != config.AuthLocal {
		t.Fatalf("auth.mode = %q, want %q", cfg.Auth.Mode, config.AuthLocal)
	}
	if cfg.BindAddr != "127.0.0.1:18790" {
		t.Fatalf("bind_addr = %q", cfg.BindAddr)
	}
	if cfg.Environment.UploadsDir != filepath.Join(home, "uploads") {
		t.Fatalf("uploads_dir = %q", cfg.Environment.UploadsDir)
	}
	if cfg.Environment.MaxUploadBytes != 10<<20 {
		t.Fatalf("max_upload_bytes = %d", cfg.Environment.MaxUploadBytes)
	}
	if cfg.Tracking.RetentionSchedule != "@daily" {
		t.Fatalf("retention_schedule = %q", cfg.Tracking.RetentionSchedule)
	}
	if cfg.Manifest.MountPath != "/" {
		t.Fatalf("mount_path = %q", cfg.Manifest.MountPath)
	}
	if cfg.DBPath() != filepath.Join(home, "paintbridge.db") {
		t.Fatalf("db path = %q", cfg.DBPath())
	}
}

func TestLoad_FromYAML(t *testing.T) {
	writeConfig(t, `
surface: gateway
allow_origins: ["https://paint.example.com"]
auth:
  mode: remote
  endpoint: https://auth.example.com
allowance:
  max_anonymous_drawings: 3
manifest:
  mount_path: /paint
  build_number: 42
`)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.FirstRun {
		t.Fatal("did not expect FirstRun")
	}
	if cfg.Surface != config.SurfaceGateway {
		t.Fatalf("surface = %q", cfg.Surface)
	}
	if cfg.Auth.Endpoint != "https://auth.example.com" {
		t.Fatalf("auth.endpoint = %q", cfg.Auth.Endpoint)
	}
	if cfg.Allowance.MaxAnonymousDrawings != 3 {
		t.Fatalf("max_anonymous_drawings = %d", cfg.Allowance.MaxAnonymousDrawings)
	}
	if cfg.Manifest.BuildNumber != 42 || cfg.Manifest.MountPath != "/paint" {
		t.Fatalf("manifest = %+v", cfg.Manifest)
	}
	if len(cfg.AllowOrigins) != 1 {
		t.Fatalf("allow_origins = %v", cfg.AllowOrigins)
	}
}

func TestLoad_EnvOverridesConfig(t *testing.T) {
	writeConfig(t, "log_level: info\nbind_addr: 127.0.0.1:9000\n")
	t.Setenv("PAINTBRIDGE_LOG_LEVEL", "debug")
	t.Setenv("PAINTBRIDGE_BIND_ADDR", "0.0.0.0:9999")
	t.Setenv("PAINTBRIDGE_SURFACE", "Gateway")
	t.Setenv("PAINTBRIDGE_AUTH_ENDPOINT", "http://localhost:7000")
	t.Setenv("PAINTBRIDGE_BUILD_NUMBER", "17")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log_level = %q, want debug", cfg.LogLevel)
	}
	if cfg.BindAddr != "0.0.0.0:9999" {
		t.Fatalf("bind_addr = %q", cfg.BindAddr)
	}
	if cfg.Surface != config.SurfaceGateway {
		t.Fatalf("surface = %q", cfg.Surface)
	}
	if cfg.Auth.Mode != config.AuthRemote || cfg.Auth.Endpoint != "http://localhost:7000" {
		t.Fatalf("auth = %+v", cfg.Auth)
	}
	if cfg.Manifest.BuildNumber != 17 {
		t.Fatalf("build_number = %d", cfg.Manifest.BuildNumber)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown surface", "surface: canvas\n", "surface"},
		{"remote without endpoint", "auth:\n  mode: remote\n", "auth.endpoint"},
		{"unknown auth mode", "auth:\n  mode: ldap\n", "auth.mode"},
		{"negative allowance", "allowance:\n  max_anonymous_drawings: -1\n", "max_anonymous_drawings"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeConfig(t, tt.body)
			_, err := config.Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Load error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	writeConfig(t, "surface: [unterminated\n")
	if _, err := config.Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSetValue_PreservesOtherKeys(t *testing.T) {
	home := writeConfig(t, "log_level: warn\nauth:\n  timeout_seconds: 5\n")

	if err := config.SetValue(home, "auth.mode", "remote"); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if err := config.SetValue(home, "manifest.build_number", 9); err != nil {
		t.Fatalf("SetValue: %v", err)
	}

	data, err := os.ReadFile(config.ConfigPath(home))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["log_level"] != "warn" {
		t.Fatalf("log_level lost: %v", raw)
	}
	auth, _ := raw["auth"].(map[string]any)
	if auth["mode"] != "remote" || auth["timeout_seconds"] != 5 {
		t.Fatalf("auth = %v", auth)
	}
	manifest, _ := raw["manifest"].(map[string]any)
	if manifest["build_number"] != 9 {
		t.Fatalf("manifest = %v", manifest)
	}
}

func TestSetValue_RejectsEmptySegment(t *testing.T) {
	home := t.TempDir()
	if err := config.SetValue(home, "auth..mode", "x"); err == nil {
		t.Fatal("expected error for empty key segment")
	}
}

func TestFingerprint_ChangesWithConfig(t *testing.T) {
	a := config.Config{Surface: "tui", BindAddr: "127.0.0.1:1"}
	b := a
	b.Manifest.BuildNumber = 2
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("expected fingerprint to change with build number")
	}
	if a.Fingerprint() != a.Fingerprint() {
		t.Fatal("expected stable fingerprint")
	}
}
