// Package stationrun bootstraps a station process: logging, the ledger, the
// station itself, the observer API and signal handling. It is shared by the
// CLI and the daemon entrypoint.
package stationrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"qrattend/internal/api"
	"qrattend/internal/capture"
	"qrattend/internal/config"
	"qrattend/internal/ledger"
	"qrattend/internal/logging"
	"qrattend/internal/station"
)

// Options configures process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Reader replaces the camera, e.g. with a replay of image files.
	Reader capture.Reader
	// ExitWhenCaptureEnds stops the process once the capture loop exits,
	// which is how a finite replay finishes.
	ExitWhenCaptureEnds bool
	// Logger overrides the logger built from config.
	Logger *slog.Logger
}

// Run starts a station and blocks until a signal arrives or cmdCtx ends.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = newLogger(cfg, opts)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
	}

	logDependencySnapshot(logger, cfg, opts.Reader != nil)
	pidPath := filepath.Join(cfg.Paths.LogDir, "qrattend.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := ledger.Open(cfg)
	if err != nil {
		logger.Error("open ledger", logging.Error(err))
		return err
	}
	defer store.Close()

	st, err := station.New(cfg, station.Dependencies{
		Store:  store,
		Reader: opts.Reader,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("create station: %w", err)
	}

	if err := st.Start(signalCtx); err != nil {
		if errors.Is(err, station.ErrLocked) {
			return err
		}
		logging.WarnWithContext(logger, "station start failed", "station_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration and ledger access"),
			logging.String(logging.FieldImpact, "attendance is not being captured"),
		)
		return err
	}
	defer st.Stop()

	server := api.New(cfg, api.Dependencies{
		Ledger:  store,
		Feed:    st.Feed(),
		Metrics: st.Metrics(),
		Status:  st,
		Logger:  logger,
	})
	if err := server.Start(signalCtx); err != nil {
		logging.WarnWithContext(logger, "api server unavailable", "api_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check api.bind is free"),
			logging.String(logging.FieldImpact, "observers cannot read the feed"),
		)
	}
	defer server.Stop()

	if opts.ExitWhenCaptureEnds {
		if !st.CaptureRunning() {
			if err := st.LastError(); err != nil {
				return err
			}
			return errors.New("capture did not start")
		}
		select {
		case <-st.CaptureDone():
			logger.Info("capture finished")
			return st.LastError()
		case <-signalCtx.Done():
		}
	} else {
		<-signalCtx.Done()
	}
	logger.Info("qrattend station shutting down")
	return nil
}

func newLogger(cfg *config.Config, opts Options) (*slog.Logger, error) {
	if opts.LogLevel == "" && !opts.Development {
		return logging.NewFromConfig(cfg)
	}
	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	return logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, "qrattend.log")},
		Development: opts.Development,
	})
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config, replay bool) {
	if logger == nil || cfg == nil {
		return
	}
	ffmpeg := cfg.Capture.FFmpegBinary
	_, deviceErr := os.Stat(cfg.DevicePath())
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("replay", replay),
		logging.Bool("ffmpeg_available", binaryAvailable(ffmpeg)),
		logging.String("ffmpeg_binary", ffmpeg),
		logging.String("device", cfg.DevicePath()),
		logging.Bool("device_present", deviceErr == nil),
		logging.String("ledger_driver", cfg.Ledger.Driver),
		logging.Bool("api_enabled", strings.TrimSpace(cfg.API.Bind) != ""),
		logging.Bool("api_token_present", cfg.API.Token != ""),
		logging.Bool("redis_enabled", cfg.Redis.Enabled),
	)
}

func binaryAvailable(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	_, err := exec.LookPath(name)
	return err == nil
}
