// Package main provides a microphone capture service: a single capture
// session at a time, controlled over HTTP and WebSocket, with the device
// audio state restored when the session ends.
//
// Usage:
//
//	capture [-config path/to/config.json]
//
// If -config is not specified, the service looks for config.json in the same
// directory as the binary.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/oszuidwest/zwfm-capture/internal/archive"
	"github.com/oszuidwest/zwfm-capture/internal/audio"
	"github.com/oszuidwest/zwfm-capture/internal/config"
	"github.com/oszuidwest/zwfm-capture/internal/engine"
	"github.com/oszuidwest/zwfm-capture/internal/eventlog"
	"github.com/oszuidwest/zwfm-capture/internal/ffmpeg"
	"github.com/oszuidwest/zwfm-capture/internal/notify"
	"github.com/oszuidwest/zwfm-capture/internal/resource"
	"github.com/oszuidwest/zwfm-capture/internal/session"
)

// Build information, set via -ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// shutdownTimeout bounds the whole shutdown sequence.
const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	slog.Info("using config file", "path", *configPath)

	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	snap := cfg.Snapshot()

	// Check FFmpeg availability
	ffmpegPath, err := ffmpeg.Resolve(snap.FFmpegPath)
	if err != nil {
		slog.Warn("sessions will fail to start", "error", err, "configured_path", snap.FFmpegPath)
	} else {
		vctx, vcancel := context.WithTimeout(context.Background(), 5*time.Second)
		version, verr := ffmpeg.Version(vctx, ffmpegPath)
		vcancel()
		if verr != nil {
			version = "unknown"
		}
		slog.Info("FFmpeg found", "path", ffmpegPath, "version", version)
	}
	slog.Info("audio input", "device", snap.AudioInput, "available", len(audio.Devices()))

	sys, manager := resource.Detect(resource.VirtualOptions{
		InitialVolume: snap.InitialVolume,
		Legacy:        snap.LegacyRouting,
		NoSpeaker:     snap.NoSpeaker,
	})
	slog.Info("audio manager", "backend", manager)
	guard := resource.NewGuard(sys, snap.UnmuteLevel)
	ctrl := session.NewController(engine.NewFFmpegEngine(ffmpegPath), guard, session.Options{})

	logPath := snap.LogPath
	if logPath == "" {
		logPath = eventlog.DefaultLogPath(snap.WebPort)
	}
	events, err := eventlog.NewLogger(logPath)
	if err != nil {
		slog.Warn("event log disabled", "path", logPath, "error", err)
		events, logPath = nil, ""
	}

	notifier := notify.NewNotifier(cfg)

	var uploader *archive.Uploader
	if snap.HasArchive() {
		uploader = archive.NewUploader(snap.Archive, events)
		uploader.OnAbandoned(notifier.UploadAbandoned)
		uploader.Start()
		slog.Info("archive enabled", "bucket", snap.Archive.Bucket)
	}

	cleaner := archive.NewCleaner(snap.OutputDir, snap.RetentionDays, snap.Archive, func() string {
		if status := ctrl.Status(); status.State.IsActive() {
			return status.Path
		}
		return ""
	})
	if cleaner.Enabled() {
		cleaner.Start()
	}

	srv := NewServer(cfg, ctrl, notifier, logPath)

	d := newDispatcher(nil, nil, notifier, srv)
	if events != nil {
		d.events = events
	}
	if uploader != nil {
		d.archive = uploader
	}
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		d.run(ctrl.States(), ctrl.Chunks())
	}()

	// Start web server.
	httpServer := srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, shutdownSignals...)
	<-sigChan

	slog.Info("shutting down")

	// Stop background schedulers
	srv.version.Stop()
	cleaner.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Dispose closes the sinks, which ends the dispatcher.
	if err := ctrl.Dispose(ctx); err != nil {
		slog.Error("error disposing capture session", "error", err)
	}
	select {
	case <-dispatched:
	case <-ctx.Done():
	}

	var errs []error
	if uploader != nil {
		errs = append(errs, uploader.Stop(ctx))
	}
	notifier.Wait()
	if events != nil {
		errs = append(errs, events.Close())
	}
	if err := errors.Join(errs...); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}
