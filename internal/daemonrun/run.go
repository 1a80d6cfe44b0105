package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"discarchive/internal/config"
	"discarchive/internal/daemon"
	"discarchive/internal/delivery"
	"discarchive/internal/deps"
	"discarchive/internal/disc"
	"discarchive/internal/discmonitor"
	"discarchive/internal/jobqueue"
	"discarchive/internal/logging"
	"discarchive/internal/metadata"
	"discarchive/internal/queue"
	"discarchive/internal/services/makemkv"
	"discarchive/internal/transcode"
	"discarchive/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the daemon and blocks until SIGINT, SIGTERM, or cmdCtx ends.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}
	logger, err := newLogger(cfg, opts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	pidPath := filepath.Join(cfg.Paths.StateDir, "discarchive.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}
	defer store.Close()

	locks := disc.NewDeviceLocks()
	orchestrator, err := buildOrchestrator(cfg, store, locks, logger)
	if err != nil {
		return err
	}
	jobs := jobqueue.New(store, orchestrator, cfg, logger)

	var monitor discmonitor.Monitor
	if strings.TrimSpace(cfg.Drive.Device) != "" {
		classifier := disc.NewClassifier(cfg.Drive.MountRoot, locks, logger)
		monitor = discmonitor.New(cfg, classifier, logger)
	}

	d, err := daemon.New(cfg, store, jobs, monitor, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration and queue database access"),
			logging.String(logging.FieldImpact, "no discs will be processed"),
		)
		return err
	}
	defer d.Stop()

	<-signalCtx.Done()
	logger.Info("discarchive daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// buildOrchestrator constructs the pipeline engines. The extractor and the
// classifier share one lock registry so a rip never races a mount.
func buildOrchestrator(cfg *config.Config, store *queue.Store, locks *disc.DeviceLocks, logger *slog.Logger) (*workflow.Orchestrator, error) {
	extractor, err := makemkv.New(cfg.MakeMKV.Binary, cfg.MakeMKV.InfoTimeout(), cfg.MakeMKV.MinLengthSeconds, logger,
		makemkv.WithDeviceLocks(locks))
	if err != nil {
		return nil, fmt.Errorf("init makemkv: %w", err)
	}
	transcoder, err := transcode.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init transcoder: %w", err)
	}
	fetcher, err := metadata.NewFromConfig(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init metadata: %w", err)
	}
	destination, err := delivery.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init destination: %w", err)
	}

	collaborators := workflow.Dependencies{
		Store:       store,
		Extractor:   extractor,
		Transcoder:  transcoder,
		Destination: destination,
		Ejector:     disc.NewEjector(logger),
		DriveProbe:  disc.Status,
	}
	if len(fetcher.Providers()) > 0 {
		collaborators.Metadata = fetcher
	} else {
		logging.WarnWithContext(logger, "no metadata providers configured", "metadata_disabled",
			logging.String(logging.FieldErrorHint, "set metadata.tmdb_api_key or metadata.omdb_api_key"),
			logging.String(logging.FieldImpact, "archives are named from the disc label"),
		)
	}
	return workflow.New(cfg, collaborators, logger)
}

func newLogger(cfg *config.Config, opts Options) (*slog.Logger, error) {
	if strings.TrimSpace(opts.LogLevel) == "" && !opts.Development {
		return logging.NewFromConfig(cfg)
	}
	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	outputs := []string{"stdout"}
	if cfg.Paths.LogDir != "" {
		outputs = append(outputs, filepath.Join(cfg.Paths.LogDir, "discarchive.log"))
	}
	return logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: outputs,
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

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	binaries := deps.CheckBinaries(deps.Requirements(cfg))
	dirs := deps.CheckDirectories(deps.Directories(cfg))
	attrs := []any{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("transcode_engine", cfg.Transcode.Engine),
		logging.String("destination", cfg.Destination.Type),
		logging.Any("metadata_providers", cfg.EnabledProviders()),
	}
	for _, status := range binaries {
		attrs = append(attrs, logging.Bool(strings.ToLower(status.Name)+"_available", status.Available))
	}
	logger.Info("dependency snapshot", attrs...)

	for _, status := range deps.Missing(append(binaries, dirs...)) {
		logging.WarnWithContext(logger, "required dependency unavailable", "dependency_missing",
			logging.String("dependency", status.Name),
			logging.String("detail", status.Detail),
			logging.String(logging.FieldErrorHint, status.Description),
		)
	}
}
