package makemkv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"discarchive/internal/disc"
	"discarchive/internal/logging"
	"discarchive/internal/procrun"
	"discarchive/internal/services"
	"discarchive/internal/toolparse"
)

// DefaultInfoTimeout bounds a catalog scan.
const DefaultInfoTimeout = 5 * time.Minute

// ProgressUpdate captures rip progress.
type ProgressUpdate struct {
	Percent float64
	Message string
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec procrun.Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithDeviceLocks shares a lock registry with the disc classifier.
func WithDeviceLocks(locks *disc.DeviceLocks) Option {
	return func(c *Client) {
		if locks != nil {
			c.locks = locks
		}
	}
}

// Client wraps makemkvcon interactions.
type Client struct {
	binary      string
	infoTimeout time.Duration
	minLength   int
	exec        procrun.Executor
	locks       *disc.DeviceLocks
	logger      *slog.Logger
}

// New constructs a MakeMKV client.
func New(binary string, infoTimeout time.Duration, minLengthSeconds int, logger *slog.Logger, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, services.Wrap(services.ErrConfiguration, "makemkv", "init", "makemkv binary required", nil)
	}
	if infoTimeout <= 0 {
		infoTimeout = DefaultInfoTimeout
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "makemkv")
	client := &Client{
		binary:      binary,
		infoTimeout: infoTimeout,
		minLength:   minLengthSeconds,
		exec:        procrun.NewRunner(logger),
		locks:       disc.NewDeviceLocks(),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Catalog lists the titles on the disc in device.
func (c *Client) Catalog(ctx context.Context, device string) ([]toolparse.Title, error) {
	release, err := c.locks.Acquire(ctx, device)
	if err != nil {
		return nil, err
	}
	defer release()

	infoCtx, cancel := context.WithTimeoutCause(ctx, c.infoTimeout, services.ErrTimeout)
	defer cancel()

	logger := logging.WithContext(ctx, c.logger)
	parser := toolparse.NewCatalogParser()
	messages := newMessageMonitor(logger, nil)
	args := []string{"-r", "info", "dev:" + device}
	started := time.Now()

	runErr := c.exec.Run(infoCtx, procrun.Command{Binary: c.binary, Args: args}, func(line string) {
		parser.Feed(line)
		messages.observe(line)
	})
	if runErr != nil {
		if cause := context.Cause(ctx); cause != nil {
			return nil, cause
		}
		if errors.Is(context.Cause(infoCtx), services.ErrTimeout) {
			return nil, services.Wrap(services.ErrExtractionFailed, "ripping", "catalog",
				fmt.Sprintf("makemkvcon info timed out after %s", c.infoTimeout), runErr)
		}
		return nil, services.Wrap(services.ErrExtractionFailed, "ripping", "catalog", messages.summary(), runErr)
	}

	titles := parser.Titles()
	logger.Info("disc catalog read",
		logging.String(logging.FieldDevice, device),
		logging.String("disc_name", parser.DiscName()),
		logging.Int("titles", len(titles)),
		logging.Duration("elapsed", time.Since(started)),
	)
	return titles, nil
}

// MainTitle catalogs the disc and returns the largest title.
func (c *Client) MainTitle(ctx context.Context, device string) (toolparse.Title, error) {
	titles, err := c.Catalog(ctx, device)
	if err != nil {
		return toolparse.Title{}, err
	}
	main, ok := toolparse.SelectMainTitle(titles)
	if !ok {
		return toolparse.Title{}, services.Wrap(services.ErrNoTitleFound, "ripping", "catalog",
			"makemkv reported no titles on "+device, nil)
	}
	logging.WithContext(ctx, c.logger).Info("main title selected",
		logging.String("decision_type", "title_selection"),
		logging.String("decision_result", strconv.Itoa(main.Index)),
		logging.String("decision_reason", "largest title"),
		logging.String("title_name", main.Name),
		logging.Int64("size_bytes", main.SizeBytes),
		logging.Int("duration_seconds", main.DurationSeconds),
	)
	return main, nil
}

// Rip extracts one title into destDir and returns the path of the largest
// .mkv produced.
func (c *Client) Rip(ctx context.Context, device string, titleIndex int, destDir string, progress func(ProgressUpdate)) (string, error) {
	if destDir == "" {
		return "", errors.New("destination directory required")
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create destination: %w", err)
	}
	release, err := c.locks.Acquire(ctx, device)
	if err != nil {
		return "", err
	}
	defer release()

	ripCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	logger := logging.WithContext(ctx, c.logger)
	messages := newMessageMonitor(logger, cancel)
	args := []string{"-r", "--progress=-same"}
	if c.minLength > 0 {
		args = append(args, "--minlength="+strconv.Itoa(c.minLength))
	}
	args = append(args, "--noscan", "mkv", "dev:"+device, strconv.Itoa(titleIndex), destDir)

	runErr := c.exec.Run(ripCtx, procrun.Command{Binary: c.binary, Args: args}, func(line string) {
		if update, ok := toolparse.ParseRobotProgress(line); ok {
			if progress != nil {
				progress(ProgressUpdate{Percent: update.Percent, Message: "Ripping title " + strconv.Itoa(titleIndex)})
			}
			return
		}
		messages.observe(line)
	})
	if cause := context.Cause(ctx); cause != nil {
		return "", cause
	}
	if fatal := messages.fatal(); fatal != nil {
		return "", services.Wrap(services.ErrExtractionFailed, "ripping", "rip", "", fatal)
	}
	if runErr != nil {
		return "", services.Wrap(services.ErrExtractionFailed, "ripping", "rip", messages.summary(), runErr)
	}

	output, err := largestMKV(destDir)
	if err != nil {
		return "", services.Wrap(services.ErrExtractionFailed, "ripping", "inspect output", "", err)
	}
	if output == "" {
		return "", services.Wrap(services.ErrExtractionFailed, "ripping", "inspect output",
			"makemkv produced no output file; check disc for read errors", nil)
	}
	return output, nil
}

// largestMKV picks the biggest .mkv in dir. Equal sizes resolve to the
// lexically first name.
func largestMKV(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	type candidate struct {
		name string
		size int64
	}
	var files []candidate
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".mkv") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{name: entry.Name(), size: info.Size()})
	}
	if len(files) == 0 {
		return "", nil
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].size != files[j].size {
			return files[i].size > files[j].size
		}
		return files[i].name < files[j].name
	})
	return filepath.Join(dir, files[0].name), nil
}
