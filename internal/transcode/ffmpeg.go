package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"discarchive/internal/config"
	"discarchive/internal/logging"
	"discarchive/internal/procrun"
	"discarchive/internal/services"
	"discarchive/internal/toolparse"
)

// FFmpegOption configures the ffmpeg engine.
type FFmpegOption func(*FFmpeg)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec procrun.Executor) FFmpegOption {
	return func(f *FFmpeg) {
		if exec != nil {
			f.exec = exec
		}
	}
}

// FFmpeg transcodes with the ffmpeg binary.
type FFmpeg struct {
	settings config.Transcode
	exec     procrun.Executor
	logger   *slog.Logger
}

// NewFFmpeg constructs the ffmpeg engine.
func NewFFmpeg(settings config.Transcode, logger *slog.Logger, opts ...FFmpegOption) *FFmpeg {
	if logger == nil {
		logger = logging.NewNop()
	}
	if strings.TrimSpace(settings.Binary) == "" {
		settings.Binary = "ffmpeg"
	}
	if settings.Container == "" {
		settings.Container = "mp4"
	}
	logger = logging.NewComponentLogger(logger, "ffmpeg")
	f := &FFmpeg{settings: settings, exec: procrun.NewRunner(logger), logger: logger}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name identifies the engine.
func (f *FFmpeg) Name() string { return config.EngineFFmpeg }

// Container reports the output extension.
func (f *FFmpeg) Container() string { return f.settings.Container }

// Args builds the ffmpeg argument list.
func (f *FFmpeg) Args(input, output string) []string {
	s := f.settings
	args := []string{"-hide_banner", "-y", "-i", input, "-c:v", s.VideoCodec}
	if s.Preset != "" {
		args = append(args, "-preset", s.Preset)
	}
	args = append(args, "-crf", strconv.Itoa(s.CRF), "-c:a", s.AudioCodec)
	if s.AudioBitrate != "" {
		args = append(args, "-b:a", s.AudioBitrate)
	}
	if strings.EqualFold(filepath.Ext(output), ".mp4") {
		args = append(args, "-movflags", "+faststart")
	}
	return append(args, "-progress", "pipe:1", "-stats", output)
}

// Transcode runs ffmpeg from input to output.
func (f *FFmpeg) Transcode(ctx context.Context, input, output string, progress func(Progress)) (string, error) {
	if input == "" || output == "" {
		return "", errors.New("input and output paths required")
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	logger := logging.WithContext(ctx, f.logger)
	tracker := &toolparse.FFmpegProgress{}
	tracker.SetTotal(sourceDuration(ctx))
	started := time.Now()
	logger.Info("transcode started",
		logging.String("input", input),
		logging.String("output", output),
		logging.String("video_codec", f.settings.VideoCodec),
		logging.Int("crf", f.settings.CRF),
	)

	cmd := procrun.Command{Binary: f.settings.Binary, Args: f.Args(input, output)}
	err := f.exec.Run(ctx, cmd, func(line string) {
		if percent, ok := tracker.Feed(line); ok && progress != nil {
			progress(Progress{Percent: percent, Message: "Transcoding"})
		}
	})
	if cause := context.Cause(ctx); cause != nil {
		_ = os.Remove(output)
		return "", cause
	}
	if err != nil {
		_ = os.Remove(output)
		var exitErr *procrun.ExitError
		if errors.As(err, &exitErr) {
			return "", services.Wrap(services.ErrTranscodeFailed, "transcoding", "ffmpeg",
				fmt.Sprintf("exit code %d: %s", exitErr.Code, strings.Join(exitErr.Tail, " | ")), err)
		}
		return "", services.Wrap(services.ErrTranscodeFailed, "transcoding", "ffmpeg", "", err)
	}
	if err := verifyOutput(output); err != nil {
		return "", err
	}
	logger.Info("transcode finished",
		logging.String("output", output),
		logging.Duration("elapsed", time.Since(started)),
		logging.Float64("source_seconds", tracker.TotalSeconds()),
	)
	return output, nil
}

var _ Engine = (*FFmpeg)(nil)
