package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/basket/paintbridge/internal/otel"
	"gopkg.in/yaml.v3"
)

// Surfaces the bridge can mount.
const (
	SurfaceTUI     = "tui"
	SurfaceGateway = "gateway"
)

// Auth modes.
const (
	AuthLocal  = "local"
	AuthRemote = "remote"
)

// AuthConfig selects the auth collaborator.
type AuthConfig struct {
	// Mode is "local" (accounts in the sqlite store) or "remote" (HTTP session service).
	Mode           string `yaml:"mode"`
	Endpoint       string `yaml:"endpoint"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// AllowanceConfig limits what anonymous users may store. 0 = unlimited.
type AllowanceConfig struct {
	MaxAnonymousDrawings int `yaml:"max_anonymous_drawings"`
}

// EnvironmentConfig configures the local environment providers.
type EnvironmentConfig struct {
	DownloadsDir   string `yaml:"downloads_dir"`
	UploadsDir     string `yaml:"uploads_dir"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// TrackingConfig controls analytics event retention.
type TrackingConfig struct {
	Enabled           bool   `yaml:"enabled"`
	RetentionDays     int    `yaml:"retention_days"`
	RetentionSchedule string `yaml:"retention_schedule"`
}

// GatewayConfig bounds the websocket surface.
type GatewayConfig struct {
	// ConnectionsPerMinute limits page loads per client address; 0 = unlimited.
	ConnectionsPerMinute int   `yaml:"connections_per_minute"`
	ConnectionBurst      int   `yaml:"connection_burst"`
	MaxFrameBytes        int64 `yaml:"max_frame_bytes"`
}

// ManifestConfig feeds the manifest handed to the surface at mount.
type ManifestConfig struct {
	MountPath   string `yaml:"mount_path"`
	BuildNumber int    `yaml:"build_number"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`
	Surface  string `yaml:"surface"`
	BindAddr string `yaml:"bind_addr"`

	// AllowOrigins controls which Origin headers are accepted for browser WS connections.
	// Empty means local-only (no browser Origin required).
	AllowOrigins []string `yaml:"allow_origins"`

	Gateway     GatewayConfig     `yaml:"gateway"`
	Auth        AuthConfig        `yaml:"auth"`
	Allowance   AllowanceConfig   `yaml:"allowance"`
	Environment EnvironmentConfig `yaml:"environment"`
	Tracking    TrackingConfig    `yaml:"tracking"`
	Telemetry   otel.Config       `yaml:"telemetry"`
	Manifest    ManifestConfig    `yaml:"manifest"`

	// FirstRun is set when no config.yaml existed.
	FirstRun bool `yaml:"-"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// DBPath returns the sqlite database path within the home directory.
func (c Config) DBPath() string {
	return filepath.Join(c.HomeDir, "paintbridge.db")
}

// loadRawConfig reads config.yaml into a generic map, returning an empty map if the file doesn't exist.
func loadRawConfig(path string) (map[string]interface{}, error) {
	raw := make(map[string]interface{})
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse config.yaml: %w", err)
		}
	}
	return raw, nil
}

// saveRawConfig marshals and writes a generic map back to config.yaml.
func saveRawConfig(path string, raw map[string]interface{}) error {
	out, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal config.yaml: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

// SetValue updates one dotted key (e.g. "auth.mode") in config.yaml,
// preserving other settings.
func SetValue(homeDir, key string, value interface{}) error {
	parts := strings.Split(key, ".")
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("invalid config key %q", key)
		}
	}
	configPath := ConfigPath(homeDir)
	raw, err := loadRawConfig(configPath)
	if err != nil {
		return err
	}
	node := raw
	for _, p := range parts[:len(parts)-1] {
		child, _ := node[p].(map[string]interface{})
		if child == nil {
			child = make(map[string]interface{})
			node[p] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = value
	return saveRawConfig(configPath, raw)
}

// Fingerprint returns a stable hash of the active config.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "surface=%s|bind=%s|log=%s|auth=%s@%s|allowance=%d|origins=%v|build=%d",
		c.Surface, c.BindAddr, c.LogLevel, c.Auth.Mode, c.Auth.Endpoint,
		c.Allowance.MaxAnonymousDrawings, c.AllowOrigins, c.Manifest.BuildNumber)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Surface:  SurfaceTUI,
		BindAddr: "127.0.0.1:18790",
		Auth: AuthConfig{
			Mode:           AuthLocal,
			TimeoutSeconds: 10,
		},
		Environment: EnvironmentConfig{
			MaxUploadBytes: 10 << 20,
		},
		Tracking: TrackingConfig{
			Enabled:           true,
			RetentionDays:     30,
			RetentionSchedule: "@daily",
		},
		Manifest: ManifestConfig{
			MountPath: "/",
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("PAINTBRIDGE_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".paintbridge")
}

func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create paintbridge home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.FirstRun = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	cfg.Surface = strings.ToLower(strings.TrimSpace(cfg.Surface))
	if cfg.Surface == "" {
		cfg.Surface = SurfaceTUI
	}
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:18790"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.Auth.Mode = strings.ToLower(strings.TrimSpace(cfg.Auth.Mode))
	if cfg.Auth.Mode == "" {
		cfg.Auth.Mode = AuthLocal
	}
	if cfg.Auth.TimeoutSeconds <= 0 {
		cfg.Auth.TimeoutSeconds = 10
	}
	if cfg.Environment.DownloadsDir == "" {
		cfg.Environment.DownloadsDir = filepath.Join(cfg.HomeDir, "downloads")
	}
	if cfg.Environment.UploadsDir == "" {
		cfg.Environment.UploadsDir = filepath.Join(cfg.HomeDir, "uploads")
	}
	if cfg.Environment.MaxUploadBytes <= 0 {
		cfg.Environment.MaxUploadBytes = 10 << 20
	}
	if cfg.Tracking.RetentionSchedule == "" {
		cfg.Tracking.RetentionSchedule = "@daily"
	}
	if cfg.Manifest.MountPath == "" {
		cfg.Manifest.MountPath = "/"
	}
}

func validate(cfg Config) error {
	switch cfg.Surface {
	case SurfaceTUI, SurfaceGateway:
	default:
		return fmt.Errorf("surface %q: must be %q or %q", cfg.Surface, SurfaceTUI, SurfaceGateway)
	}
	switch cfg.Auth.Mode {
	case AuthLocal:
	case AuthRemote:
		if strings.TrimSpace(cfg.Auth.Endpoint) == "" {
			return fmt.Errorf("auth.endpoint is required when auth.mode is %q", AuthRemote)
		}
	default:
		return fmt.Errorf("auth.mode %q: must be %q or %q", cfg.Auth.Mode, AuthLocal, AuthRemote)
	}
	if cfg.Allowance.MaxAnonymousDrawings < 0 {
		return fmt.Errorf("allowance.max_anonymous_drawings must be >= 0, got %d", cfg.Allowance.MaxAnonymousDrawings)
	}
	if cfg.Gateway.ConnectionsPerMinute < 0 {
		return fmt.Errorf("gateway.connections_per_minute must be >= 0, got %d", cfg.Gateway.ConnectionsPerMinute)
	}
	if cfg.Tracking.RetentionDays < 0 {
		return fmt.Errorf("tracking.retention_days must be >= 0, got %d", cfg.Tracking.RetentionDays)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("PAINTBRIDGE_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("PAINTBRIDGE_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("PAINTBRIDGE_SURFACE"); raw != "" {
		cfg.Surface = raw
	}
	if raw := os.Getenv("PAINTBRIDGE_AUTH_ENDPOINT"); raw != "" {
		cfg.Auth.Endpoint = raw
		cfg.Auth.Mode = AuthRemote
	}
	if raw := os.Getenv("PAINTBRIDGE_BUILD_NUMBER"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Manifest.BuildNumber = v
		}
	}
}
