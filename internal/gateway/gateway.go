// Package gateway serves the drawing surface to browsers over websockets.
// Each connection is one page load with its own bootstrap: the server sends
// the initial flags, streams inbound messages, accepts outbound messages and
// asks the page to act as the environment.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/paintbridge/internal/bootstrap"
	"github.com/basket/paintbridge/internal/bridge"
	"github.com/basket/paintbridge/internal/capability"
	"github.com/basket/paintbridge/internal/otel"
	"github.com/basket/paintbridge/internal/shared"
	"github.com/basket/paintbridge/internal/telemetry"
)

const defaultMaxFrameBytes = 32 << 20

type Config struct {
	Registry *capability.Registry
	Manifest bridge.Manifest

	// AllowOrigins controls accepted Origin headers for browser websocket
	// connections. Empty means same-origin only.
	AllowOrigins []string

	MaxUploadBytes int64
	// MaxFrameBytes caps a single page frame. Uploads arrive base64 encoded
	// inside one frame.
	MaxFrameBytes int64

	// ConnectionsPerMinute limits new page loads per client address; 0
	// disables the limit.
	ConnectionsPerMinute int
	ConnectionBurst      int

	ConfigFingerprint string

	Logger  *slog.Logger
	Metrics *otel.Metrics
	Tracer  trace.Tracer
}

type Server struct {
	cfg    Config
	logger *slog.Logger
	limit  *RateLimiter

	manifestMu sync.RWMutex
	manifest   bridge.Manifest

	pages  atomic.Int64
	served atomic.Int64
	wg     sync.WaitGroup
}

func New(cfg Config) *Server {
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = defaultMaxFrameBytes
	}
	return &Server{
		cfg:      cfg,
		logger:   telemetry.Component(cfg.Logger, "gateway"),
		limit:    NewRateLimiter(cfg.ConnectionsPerMinute, cfg.ConnectionBurst),
		manifest: cfg.Manifest,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s.limit.Wrap(http.HandlerFunc(s.handleWS)))
	mux.HandleFunc("/healthz", s.handleHealthz)
	return otelhttp.NewHandler(NewCORSMiddleware(s.cfg.AllowOrigins)(mux), "gateway")
}

// SetManifest replaces the manifest handed to later page loads.
func (s *Server) SetManifest(m bridge.Manifest) {
	s.manifestMu.Lock()
	defer s.manifestMu.Unlock()
	s.manifest = m
}

func (s *Server) Manifest() bridge.Manifest {
	s.manifestMu.RLock()
	defer s.manifestMu.RUnlock()
	return s.manifest
}

// Pages returns the number of connected page loads.
func (s *Server) Pages() int64 {
	return s.pages.Load()
}

// Wait blocks until every page handler has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

// StartEviction drops idle rate-limit buckets until ctx ends.
func (s *Server) StartEviction(ctx context.Context) {
	s.limit.StartEviction(ctx, time.Minute, 10*time.Minute)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	manifest := s.Manifest()
	payload := map[string]any{
		"healthy":            true,
		"pages":              s.pages.Load(),
		"pages_served":       s.served.Load(),
		"build_number":       manifest.BuildNumber,
		"mount_path":         manifest.MountPath,
		"config_fingerprint": s.cfg.ConfigFingerprint,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Same-origin requests are always allowed by the websocket library.
		OriginPatterns: s.cfg.AllowOrigins,
	})
	if err != nil {
		return
	}
	conn.SetReadLimit(s.cfg.MaxFrameBytes)

	s.wg.Add(1)
	defer s.wg.Done()
	s.pages.Add(1)
	s.served.Add(1)
	defer s.pages.Add(-1)

	p := newPage(conn, s.logger, s.cfg.Metrics)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	ctx = shared.WithSurfaceID(shared.WithTraceID(ctx, shared.NewTraceID()), p.id)
	logger := telemetry.ForContext(ctx, s.logger)
	logger.Info("page connected", "remote_addr", r.RemoteAddr)

	orch, err := bootstrap.New(bootstrap.Config{
		Registry:       s.cfg.Registry,
		Surface:        p,
		Env:            p.environment(),
		Manifest:       s.Manifest(),
		MaxUploadBytes: s.cfg.MaxUploadBytes,
		Logger:         s.cfg.Logger,
		Metrics:        s.cfg.Metrics,
		Tracer:         s.cfg.Tracer,
	})
	if err != nil {
		logger.Error("bootstrap setup failed", "error", err)
		_ = conn.Close(websocket.StatusInternalError, "bootstrap failed")
		return
	}
	h, err := orch.Start(ctx)
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		p.shutdown()
		_ = conn.Close(websocket.StatusInternalError, "bootstrap failed")
		return
	}

	readErr := p.readLoop(ctx)
	status := websocket.CloseStatus(readErr)
	if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
		logger.Warn("page read ended", "error", readErr)
	}

	p.shutdown()
	if err := h.Wait(); err != nil {
		logger.Debug("dispatch loop ended", "error", err)
	}
	cancel()
	p.wg.Wait()
	logger.Info("page disconnected", "user_state", h.Dispatcher.User().String())
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}
