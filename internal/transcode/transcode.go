package transcode

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"discarchive/internal/config"
	"discarchive/internal/services"
)

// Progress reports transcode advancement.
type Progress struct {
	Percent float64
	Message string
}

// Engine converts input into the archive format and returns the path of the
// produced file.
type Engine interface {
	Name() string
	// Container is the file extension, without dot, the engine produces.
	Container() string
	Transcode(ctx context.Context, input, output string, progress func(Progress)) (string, error)
}

type sourceDurationKey struct{}

// WithSourceDuration attaches the expected runtime of the input so engines
// can report progress when the tool never prints one.
func WithSourceDuration(ctx context.Context, seconds int) context.Context {
	if seconds <= 0 {
		return ctx
	}
	return context.WithValue(ctx, sourceDurationKey{}, seconds)
}

func sourceDuration(ctx context.Context) float64 {
	seconds, _ := ctx.Value(sourceDurationKey{}).(int)
	return float64(seconds)
}

// New builds the engine selected by cfg.Transcode.Engine.
func New(cfg *config.Config, logger *slog.Logger) (Engine, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "transcoding", "init", "config required", nil)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Transcode.Engine)) {
	case "", config.EngineFFmpeg:
		return NewFFmpeg(cfg.Transcode, logger), nil
	case config.EngineDrapto:
		return NewDrapto(logger), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "transcoding", "init",
			fmt.Sprintf("unknown transcode engine %q", cfg.Transcode.Engine), nil)
	}
}

// OutputPath is where an engine should write the transcode of input inside dir.
func OutputPath(dir, input, container string) string {
	base := filepath.Base(input)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = base
	}
	return filepath.Join(dir, stem+"."+strings.TrimPrefix(container, "."))
}

// verifyOutput rejects a missing or empty output file.
func verifyOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return services.Wrap(services.ErrTranscodeFailed, "transcoding", "verify output", "output file missing", err)
	}
	if info.IsDir() || info.Size() == 0 {
		return services.Wrap(services.ErrTranscodeFailed, "transcoding", "verify output",
			"output file is empty: "+path, nil)
	}
	return nil
}
