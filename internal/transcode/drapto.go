package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	draptolib "github.com/five82/drapto"

	"discarchive/internal/config"
	"discarchive/internal/logging"
	"discarchive/internal/services"
)

// EncodeFunc runs a drapto encode of input into outputDir.
type EncodeFunc func(ctx context.Context, input, outputDir string, reporter draptolib.Reporter) error

// Drapto encodes with the drapto library in-process.
type Drapto struct {
	encode EncodeFunc
	logger *slog.Logger
}

// NewDrapto constructs the drapto engine.
func NewDrapto(logger *slog.Logger) *Drapto {
	return NewDraptoWithEncoder(logger, encodeWithLibrary)
}

// NewDraptoWithEncoder overrides the encode call (primarily for tests).
func NewDraptoWithEncoder(logger *slog.Logger, encode EncodeFunc) *Drapto {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Drapto{encode: encode, logger: logging.NewComponentLogger(logger, "drapto")}
}

func encodeWithLibrary(ctx context.Context, input, outputDir string, reporter draptolib.Reporter) error {
	encoder, err := draptolib.New(draptolib.WithResponsive())
	if err != nil {
		return err
	}
	_, err = encoder.EncodeWithReporter(ctx, input, outputDir, reporter)
	return err
}

// Name identifies the engine.
func (d *Drapto) Name() string { return config.EngineDrapto }

// Container reports the output extension.
func (d *Drapto) Container() string { return "mkv" }

// Transcode encodes input into the directory of output. drapto chooses its own
// file name, so the result is the largest file left in that directory.
func (d *Drapto) Transcode(ctx context.Context, input, output string, progress func(Progress)) (string, error) {
	if input == "" || output == "" {
		return "", errors.New("input and output paths required")
	}
	outputDir := filepath.Dir(output)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	logger := logging.WithContext(ctx, d.logger)
	started := time.Now()
	logger.Info("transcode started", logging.String("input", input), logging.String("output_dir", outputDir))

	err := d.encode(ctx, input, outputDir, newReporter(logger, progress))
	if cause := context.Cause(ctx); cause != nil {
		return "", cause
	}
	if err != nil {
		return "", services.Wrap(services.ErrTranscodeFailed, "transcoding", "drapto", "", err)
	}
	produced, err := largestFile(outputDir)
	if err != nil {
		return "", services.Wrap(services.ErrTranscodeFailed, "transcoding", "inspect output", "", err)
	}
	if produced == "" {
		return "", services.Wrap(services.ErrTranscodeFailed, "transcoding", "inspect output", "drapto produced no output", nil)
	}
	if err := verifyOutput(produced); err != nil {
		return "", err
	}
	logger.Info("transcode finished", logging.String("output", produced), logging.Duration("elapsed", time.Since(started)))
	return produced, nil
}

func largestFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	type candidate struct {
		name string
		size int64
	}
	var files []candidate
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{entry.Name(), info.Size()})
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

var _ Engine = (*Drapto)(nil)
