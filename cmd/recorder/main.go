package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgnsrekt/viewcast/internal/config"
	"github.com/dgnsrekt/viewcast/internal/recorder"
	"github.com/dgnsrekt/viewcast/internal/snapshot"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.LoadRecorder()
	if err != nil {
		slog.Error("failed to load recorder config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("recorder config loaded",
		"cdp_address", cfg.CDPAddress,
		"cdp_port", cfg.CDPPort,
		"data_dir", cfg.DataDir,
		"tab_url_filter", cfg.TabURLFilter,
		"capture_console", cfg.CaptureConsole,
		"capture_network", cfg.CaptureNetwork,
		"snapshot_interval_sec", cfg.SnapshotIntervalSec,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	journals := recorder.NewJournals(cfg.DataDir, cfg.BufferSize, cfg.MaxFileSizeMB)
	defer func() {
		if err := journals.Close(); err != nil {
			slog.Warn("journal close failed", "error", err)
		}
	}()

	var snaps *snapshot.Store
	if cfg.SnapshotInterval() > 0 {
		snaps, err = snapshot.NewStore(cfg.SnapshotDir)
		if err != nil {
			slog.Error("failed to create snapshot store", "dir", cfg.SnapshotDir, "error", err)
			os.Exit(1)
		}
	}

	obs := recorder.NewObserver(cfg, journals, snaps)
	if err := obs.Connect(ctx); err != nil {
		slog.Error("failed to connect to browser", "cdp_url", cfg.CDPURL(), "error", err)
		slog.Info("make sure the host is running with VIEWCAST_BACKEND=headless")
		os.Exit(1)
	}
	defer func() {
		if err := obs.Close(); err != nil {
			slog.Warn("observer close failed", "error", err)
		}
	}()

	slog.Info("recorder running", "tabs", obs.TabCount(), "data_dir", cfg.DataDir)
	slog.Info("press Ctrl+C to stop")

	<-sigCh
	slog.Info("shutdown signal received")
	cancel()
	slog.Info("recorder stopped")
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
