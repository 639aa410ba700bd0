package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"applypilot/internal/config"
	"applypilot/internal/logging"
	"applypilot/internal/workflow"
)

// Options configures the long-running serve process.
type Options struct {
	LogLevel    string
	Development bool
	// Apply starts the submission pool in continuous mode alongside the API.
	Apply bool
}

// Serve runs the control API until SIGINT or SIGTERM.
func Serve(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if strings.TrimSpace(cfg.Paths.APIBind) == "" {
		return fmt.Errorf("paths.api_bind is empty; nothing to serve")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	logPath := cfg.LogPath()
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	pidPath := filepath.Join(cfg.Paths.DataDir, "applypilot.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	rt, err := Build(cfg, logger, BuildOptions{})
	if err != nil {
		logger.Error("build runtime", logging.Error(err))
		return err
	}
	defer rt.Close()
	logDependencySnapshot(logger, cfg)

	if err := rt.Daemon.Start(signalCtx); err != nil {
		return fmt.Errorf("start api: %w", err)
	}
	if opts.Apply {
		if err := rt.Daemon.StartApply(signalCtx, workflow.ApplyOptions{Continuous: true, DryRun: cfg.Apply.DryRun}); err != nil {
			logging.WarnWithContext(logger, "submission pool not started", "pool_start_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "ready jobs wait until apply is started through the API"),
				logging.String(logging.FieldErrorHint, "set collaborators.submit or run apply separately"),
			)
		}
	}

	logger.Info("applypilot serving",
		logging.String(logging.FieldEventType, "serve_start"),
		logging.String("address", rt.Daemon.Addr()),
		logging.String("database", rt.Store.Path()),
	)
	<-signalCtx.Done()
	logger.Info("applypilot shutting down", logging.String(logging.FieldEventType, "serve_stop"))
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	c := cfg.Collaborators
	logger.Info("collaborator snapshot",
		logging.String(logging.FieldEventType, "collaborator_snapshot"),
		logging.Int("discovery_sources", len(cfg.Discovery.Sources)),
		logging.Bool("enrich_http", c.EnrichHTTP),
		logging.Bool("enrich_available", binaryAvailable(c.Enrich)),
		logging.Bool("score_available", binaryAvailable(c.Score)),
		logging.Bool("tailor_available", binaryAvailable(c.Tailor)),
		logging.Bool("cover_available", binaryAvailable(c.Cover)),
		logging.Bool("submit_available", binaryAvailable(c.Submit)),
		logging.Bool("api_token_set", strings.TrimSpace(cfg.Paths.APIToken) != ""),
		logging.Bool("notifications", cfg.Notifications.NtfyTopic != ""),
	)
}

func binaryAvailable(argv []string) bool {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return false
	}
	_, err := exec.LookPath(argv[0])
	return err == nil
}
