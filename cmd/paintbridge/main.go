package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/paintbridge/internal/auth"
	"github.com/basket/paintbridge/internal/bootstrap"
	"github.com/basket/paintbridge/internal/bridge"
	"github.com/basket/paintbridge/internal/capability"
	"github.com/basket/paintbridge/internal/config"
	"github.com/basket/paintbridge/internal/cron"
	"github.com/basket/paintbridge/internal/environ"
	"github.com/basket/paintbridge/internal/gateway"
	otelPkg "github.com/basket/paintbridge/internal/otel"
	"github.com/basket/paintbridge/internal/persistence"
	"github.com/basket/paintbridge/internal/quota"
	"github.com/basket/paintbridge/internal/storage"
	"github.com/basket/paintbridge/internal/telemetry"
	"github.com/basket/paintbridge/internal/tracking"
	"github.com/basket/paintbridge/internal/tui"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s [flags]                         Mount the drawing surface

SUBCOMMANDS:
  %s account add <user> [k=v...]     Create a local account
                                      Flags: -password (default $PAINTBRIDGE_PASSWORD)
  %s status                          Show gateway health (/healthz)
  %s doctor [-json]                  Run diagnostic checks
  %s version                         Print the version

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  PAINTBRIDGE_HOME           Data directory (default: ~/.paintbridge)
  PAINTBRIDGE_SURFACE        tui or gateway
  PAINTBRIDGE_AUTH_ENDPOINT  Use a remote session service

EXAMPLES:
  Draw in the terminal:      %s
  Open a saved drawing:      %s -drawing 3f2a...
  Serve browser pages:       %s -surface gateway
`, os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	surfaceFlag := flag.String("surface", "", "surface to mount: tui or gateway (default from config.yaml)")
	drawingFlag := flag.String("drawing", "", "open the saved drawing with this id")
	imageFlag := flag.String("image", "", "open the image at this url")
	newFlag := flag.Bool("new", false, "start with a new drawing")
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			os.Exit(0)
		case "account":
			os.Exit(runAccountCommand(ctx, args[1:]))
		case "status":
			os.Exit(runStatusCommand(ctx, args[1:]))
		case "doctor":
			os.Exit(runDoctorCommand(ctx, args[1:]))
		case "version":
			fmt.Println(Version)
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}
	if err := applySurfaceFlag(&cfg, *surfaceFlag); err != nil {
		fatalStartup(nil, "E_FLAGS", err)
	}
	initMsg, err := initFromFlags(*drawingFlag, *imageFlag, *newFlag)
	if err != nil {
		fatalStartup(nil, "E_FLAGS", err)
	}

	// The terminal belongs to the drawing surface; logs go to file only.
	quietLogs := cfg.Surface == config.SurfaceTUI && isatty.IsTerminal(os.Stdout.Fd())
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quietLogs)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "surface", cfg.Surface, "first_run", cfg.FirstRun)

	otelPkg.Version = Version
	otelProvider, err := otelPkg.Init(ctx, cfg.Telemetry)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())
	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_METRICS_INIT", err)
	}

	store, err := persistence.Open(cfg.DBPath())
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	logger.Info("startup phase", "phase", "schema_migrated")

	registry, err := buildRegistry(cfg, store, logger, metrics, otelProvider)
	if err != nil {
		fatalStartup(logger, "E_REGISTRY_INIT", err)
	}

	if cfg.Tracking.Enabled && cfg.Tracking.RetentionDays > 0 {
		retention, err := cron.NewScheduler(cron.Config{
			Store:     store,
			Logger:    logger,
			Schedule:  cfg.Tracking.RetentionSchedule,
			Retention: time.Duration(cfg.Tracking.RetentionDays) * 24 * time.Hour,
		})
		if err != nil {
			fatalStartup(logger, "E_RETENTION_SCHEDULE", err)
		}
		retention.Start(ctx)
		defer retention.Stop()
		logger.Info("startup phase", "phase", "retention_scheduled", "next_run", retention.NextRun())
	}

	manifest := manifestFor(cfg, initMsg)
	switch cfg.Surface {
	case config.SurfaceGateway:
		err = runGateway(ctx, cfg, manifest, registry, logger, metrics, otelProvider)
	default:
		err = runTUI(ctx, cfg, manifest, registry, logger, metrics, otelProvider)
	}
	if err != nil {
		logger.Error("surface exited with error", "error", err)
		stop()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func applySurfaceFlag(cfg *config.Config, surface string) error {
	surface = strings.ToLower(strings.TrimSpace(surface))
	switch surface {
	case "":
		return nil
	case config.SurfaceTUI, config.SurfaceGateway:
		cfg.Surface = surface
		return nil
	default:
		return fmt.Errorf("-surface %q: must be %q or %q", surface, config.SurfaceTUI, config.SurfaceGateway)
	}
}

// initFromFlags picks what the surface opens first. At most one of the
// three may be given; none means the plain paint app.
func initFromFlags(drawing, image string, fresh bool) (bridge.InitMsg, error) {
	drawing, image = strings.TrimSpace(drawing), strings.TrimSpace(image)
	set := 0
	for _, on := range []bool{drawing != "", image != "", fresh} {
		if on {
			set++
		}
	}
	if set > 1 {
		return bridge.InitMsg{}, errors.New("-drawing, -image and -new are mutually exclusive")
	}
	switch {
	case drawing != "":
		return bridge.InitMsg{Type: bridge.InitDrawing, Payload: drawing}, nil
	case image != "":
		return bridge.InitMsg{Type: bridge.InitImage, Payload: image}, nil
	case fresh:
		return bridge.InitMsg{Type: bridge.InitNewDrawing}, nil
	default:
		return bridge.InitMsg{Type: bridge.InitPaintApp}, nil
	}
}

func manifestFor(cfg config.Config, init bridge.InitMsg) bridge.Manifest {
	return bridge.Manifest{
		Init:        init,
		MountPath:   cfg.Manifest.MountPath,
		BuildNumber: cfg.Manifest.BuildNumber,
	}
}

func buildRegistry(cfg config.Config, store *persistence.Store, logger *slog.Logger, metrics *otelPkg.Metrics, provider *otelPkg.Provider) (*capability.Registry, error) {
	var (
		authClient capability.AuthClient
		owner      storage.OwnerFunc
	)
	switch cfg.Auth.Mode {
	case config.AuthRemote:
		remote, err := auth.NewRemote(cfg.Auth.Endpoint, time.Duration(cfg.Auth.TimeoutSeconds)*time.Second, logger)
		if err != nil {
			return nil, err
		}
		authClient, owner = remote, remote.CurrentUser
	default:
		local := auth.NewLocal(store, logger)
		authClient, owner = local, local.CurrentUser
	}

	var tracker capability.Tracker
	if cfg.Tracking.Enabled {
		tracker = tracking.NewRecorder(store, owner, metrics, logger)
	}

	return capability.NewRegistry(capability.Config{
		Auth:    authClient,
		Storage: storage.NewClient(store, owner, logger),
		Tracker: tracker,
		Quota: quota.Allowance{
			Drawings:     store,
			Owner:        owner,
			MaxAnonymous: cfg.Allowance.MaxAnonymousDrawings,
		},
		Logger: logger,
		Hooks:  capability.Hooks{Tracer: provider.Tracer, Metrics: metrics},
	})
}

func runTUI(ctx context.Context, cfg config.Config, manifest bridge.Manifest, registry *capability.Registry, logger *slog.Logger, metrics *otelPkg.Metrics, provider *otelPkg.Provider) error {
	surface := tui.NewSurface(tui.Options{
		Input:     os.Stdin,
		Output:    os.Stdout,
		AltScreen: true,
		Logger:    logger,
	})
	env := environ.Environment{
		// Redirecting hands the user to the browser, so the terminal surface ends.
		Navigator:  environ.NewBrowser(surface.Close),
		Canvas:     surface,
		Downloader: environ.DownloadDir{Dir: cfg.Environment.DownloadsDir},
		Picker:     environ.DropDirPicker{Dir: cfg.Environment.UploadsDir, Logger: logger},
	}

	orch, err := bootstrap.New(bootstrap.Config{
		Registry:       registry,
		Surface:        surface,
		Env:            env,
		Manifest:       manifest,
		MaxUploadBytes: cfg.Environment.MaxUploadBytes,
		Logger:         logger,
		Metrics:        metrics,
		Tracer:         provider.Tracer,
	})
	if err != nil {
		return err
	}
	h, err := orch.Start(ctx)
	if err != nil {
		return err
	}
	logger.Info("surface mounted", "surface", config.SurfaceTUI, "user_state", h.Flags.User.String(),
		"downloads_dir", cfg.Environment.DownloadsDir, "uploads_dir", cfg.Environment.UploadsDir)
	err = h.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func runGateway(ctx context.Context, cfg config.Config, manifest bridge.Manifest, registry *capability.Registry, logger *slog.Logger, metrics *otelPkg.Metrics, provider *otelPkg.Provider) error {
	if host, _, err := net.SplitHostPort(cfg.BindAddr); err == nil {
		h := strings.TrimSpace(strings.ToLower(host))
		loopback := h == "127.0.0.1" || h == "localhost" || h == "::1"
		if !loopback && len(cfg.AllowOrigins) == 0 {
			logger.Warn("allow_origins is empty on non-loopback bind; cross-origin pages will be rejected (same-origin only)", "bind_addr", cfg.BindAddr)
		}
	}

	gw := gateway.New(gateway.Config{
		Registry:             registry,
		Manifest:             manifest,
		AllowOrigins:         cfg.AllowOrigins,
		MaxUploadBytes:       cfg.Environment.MaxUploadBytes,
		MaxFrameBytes:        cfg.Gateway.MaxFrameBytes,
		ConnectionsPerMinute: cfg.Gateway.ConnectionsPerMinute,
		ConnectionBurst:      cfg.Gateway.ConnectionBurst,
		ConfigFingerprint:    cfg.Fingerprint(),
		Logger:               logger,
		Metrics:              metrics,
		Tracer:               provider.Tracer,
	})
	gw.StartEviction(ctx)
	watchManifest(ctx, cfg.HomeDir, manifest.Init, gw, logger)

	server := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.BindAddr)
	if err != nil {
		if isAddrInUse(err) {
			return fmt.Errorf("%w: stop the other process or change bind_addr in config.yaml", err)
		}
		return err
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.BindAddr, "ws", "/ws")
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("gateway server: %w", err)
	}

	// Stop intake, then let connected pages finish their dispatch loops.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	done := make(chan struct{})
	go func() {
		gw.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("pages still connected at shutdown", "pages", gw.Pages())
	}
	return nil
}

// watchManifest reloads config.yaml on change and hands the new manifest to
// pages that load afterwards. Pages already mounted keep theirs.
func watchManifest(ctx context.Context, homeDir string, init bridge.InitMsg, gw *gateway.Server, logger *slog.Logger) {
	w := config.NewWatcher(homeDir, logger)
	if err := w.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
		return
	}
	go func() {
		for range w.Events() {
			cfg, err := config.Load()
			if err != nil {
				logger.Error("config reload failed", "error", err)
				continue
			}
			gw.SetManifest(manifestFor(cfg, init))
			logger.Info("manifest reloaded", "build_number", cfg.Manifest.BuildNumber, "mount_path", cfg.Manifest.MountPath)
		}
	}()
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"runtime","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

func isAddrInUse(err error) bool {
	if errors.Is(err, syscall.EADDRINUSE) {
		return true
	}
	return strings.Contains(err.Error(), "address already in use")
}
