package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dgnsrekt/viewcast/internal/api"
	"github.com/dgnsrekt/viewcast/internal/browser"
	"github.com/dgnsrekt/viewcast/internal/cdp"
	"github.com/dgnsrekt/viewcast/internal/config"
	"github.com/dgnsrekt/viewcast/internal/controller"
	"github.com/dgnsrekt/viewcast/internal/headless"
	"github.com/dgnsrekt/viewcast/internal/host"
	"github.com/dgnsrekt/viewcast/internal/native"
	"github.com/dgnsrekt/viewcast/internal/netutil"
	"github.com/dgnsrekt/viewcast/internal/snapshot"
	"github.com/dgnsrekt/viewcast/internal/tabs"
	"github.com/dgnsrekt/viewcast/internal/webviewui"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	backendFlag := flag.String("backend", "", "rendering backend: native or headless")
	startURLFlag := flag.String("start-url", "", "initial page URL")
	bindFlag := flag.String("bind", "", "HTTP listen address")
	widthFlag := flag.Int("width", 0, "window width in pixels")
	heightFlag := flag.Int("height", 0, "window height in pixels")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load host config", "error", err)
		os.Exit(1)
	}

	// Explicitly set flags win over env.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend = strings.ToLower(*backendFlag)
		case "start-url":
			cfg.StartURL = *startURLFlag
		case "bind":
			cfg.BindAddr = *bindFlag
		case "width":
			cfg.WindowWidth = *widthFlag
		case "height":
			cfg.WindowHeight = *heightFlag
		}
	})
	if cfg.Backend != "native" && cfg.Backend != "headless" {
		slog.Error("unknown backend", "backend", cfg.Backend)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("viewcast host config loaded",
		"bind_addr", cfg.BindAddr,
		"backend", cfg.Backend,
		"start_url", cfg.StartURL,
		"window_width", cfg.WindowWidth,
		"window_height", cfg.WindowHeight,
		"capture_timeout_ms", cfg.CaptureTimeoutMS,
		"log_level", cfg.LogLevel,
		"snapshot_dir", cfg.SnapshotDir,
	)

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	snapStore, err := snapshot.NewStore(cfg.SnapshotDir)
	if err != nil {
		slog.Error("failed to create snapshot store", "dir", cfg.SnapshotDir, "error", err)
		os.Exit(1)
	}

	startURLs := resolveStartURLs(cfg)

	switch cfg.Backend {
	case "headless":
		runHeadless(cfg, bindAddr, snapStore, startURLs)
	default:
		runNative(cfg, bindAddr, snapStore, startURLs)
	}
}

// resolveStartURLs returns the tabs to open at boot: the start-pages file
// when present, otherwise the single start URL.
func resolveStartURLs(cfg *config.Config) []string {
	pages, err := config.LoadStartPages(cfg.StartPagesPath)
	switch {
	case err == nil:
		urls := make([]string, 0, len(pages.Pages))
		for _, page := range pages.Pages {
			urls = append(urls, page.URL)
		}
		slog.Info("start pages loaded", "path", cfg.StartPagesPath, "count", len(urls))
		return urls
	case errors.Is(err, os.ErrNotExist):
		slog.Debug("no start pages file", "path", cfg.StartPagesPath)
	default:
		slog.Error("failed to load start pages", "path", cfg.StartPagesPath, "error", err)
		os.Exit(1)
	}
	return []string{cfg.StartURL}
}

// runNative renders through a real window. The webview owns the main
// goroutine; the host loop and HTTP server run beside it.
func runNative(cfg *config.Config, bindAddr string, snaps *snapshot.Store, startURLs []string) {
	ui, err := webviewui.New(cfg.WindowWidth, cfg.WindowHeight, "viewcast")
	if err != nil {
		slog.Error("failed to create native window", "error", err)
		os.Exit(1)
	}
	hostLoop := host.New(native.New(ui, nil), tabs.NewStore(), host.Options{CallTimeout: cfg.CaptureTimeout()})

	// The bind callback fires on the UI thread and must not block on the
	// host loop.
	ui.BindCommands(func(cmd host.Command) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.CaptureTimeout())
			defer cancel()
			if err := hostLoop.SubmitCommand(ctx, cmd); err != nil {
				slog.Warn("toolbar command failed", "action", cmd.Action, "error", err)
			}
		}()
	})

	if err := bootstrapTabs(hostLoop, startURLs); err != nil {
		slog.Error("failed to open start tabs", "error", err)
		os.Exit(1)
	}

	srv := serveHTTP(bindAddr, hostLoop, snaps)

	var once sync.Once
	shutdown := func() {
		once.Do(func() { stopServer(srv, hostLoop) })
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutdown signal received")
		shutdown()
		ui.Terminate()
	}()

	ui.Run()
	shutdown()
	ui.Destroy()
	slog.Info("viewcast host stopped")
}

// runHeadless drives a remote-debugged browser, launching one first when
// none is listening.
func runHeadless(cfg *config.Config, bindAddr string, snaps *snapshot.Store, startURLs []string) {
	var launcher *browser.Launcher
	if cfg.LaunchBrowser {
		launcher = browser.NewLauncher(browser.Config{
			CDPAddress:   cfg.CDPAddress,
			CDPPort:      cfg.CDPPort,
			ChromeBin:    cfg.ChromeBin,
			WindowWidth:  cfg.WindowWidth,
			WindowHeight: cfg.WindowHeight,
		})
		launchCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := launcher.Launch(launchCtx)
		cancel()
		if err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
	}

	engine := headless.New(cdp.NewConn(cfg.CDPURL()))
	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	err := engine.Start(startCtx)
	cancel()
	if err != nil {
		slog.Error("failed to connect to engine", "cdp_url", cfg.CDPURL(), "error", err)
		if launcher != nil && launcher.Running() {
			launcher.Stop()
		}
		os.Exit(1)
	}

	hostLoop := host.New(engine, tabs.NewStore(), host.Options{CallTimeout: cfg.CaptureTimeout()})

	if err := bootstrapTabs(hostLoop, startURLs); err != nil {
		slog.Error("failed to open start tabs", "error", err)
		if closeErr := hostLoop.Close(); closeErr != nil {
			slog.Debug("host close failed", "error", closeErr)
		}
		if launcher != nil && launcher.Running() {
			launcher.Stop()
		}
		os.Exit(1)
	}

	srv := serveHTTP(bindAddr, hostLoop, snaps)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutdown signal received")

	stopServer(srv, hostLoop)
	if launcher != nil && launcher.Running() {
		launcher.Stop()
	}
	slog.Info("viewcast host stopped")
}

// bootstrapTabs seeds the first tab (fatal on failure) and opens the rest
// best-effort, leaving the first one active.
func bootstrapTabs(h *host.Host, urls []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	first, err := h.Bootstrap(ctx, urls[0])
	if err != nil {
		return err
	}
	for _, url := range urls[1:] {
		if _, err := h.OpenTab(ctx, url); err != nil {
			slog.Warn("failed to open start tab", "url", url, "error", err)
		}
	}
	if len(urls) > 1 {
		if err := h.SwitchTab(ctx, first); err != nil {
			slog.Warn("failed to re-activate first tab", "tab_id", first, "error", err)
		}
	}
	return nil
}

func serveHTTP(bindAddr string, hostLoop *host.Host, snaps *snapshot.Store) *http.Server {
	svc := controller.NewService(hostLoop, snaps)
	srv := &http.Server{Addr: bindAddr, Handler: api.NewServer(svc)}

	go func() {
		slog.Info("viewcast host listening",
			"addr", bindAddr,
			"viewer", "http://"+bindAddr+"/",
			"docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("viewcast host server failed", "error", err)
			os.Exit(1)
		}
	}()
	return srv
}

func stopServer(srv *http.Server, hostLoop *host.Host) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	if err := hostLoop.Close(); err != nil {
		slog.Debug("host close failed", "error", err)
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll("logs", 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
