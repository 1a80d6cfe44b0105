package transcode

import (
	"log/slog"

	draptolib "github.com/five82/drapto"

	"discarchive/internal/logging"
)

// reporter forwards drapto events to the progress callback and the log.
type reporter struct {
	logger   *slog.Logger
	progress func(Progress)
}

func newReporter(logger *slog.Logger, progress func(Progress)) *reporter {
	return &reporter{logger: logger, progress: progress}
}

func (r *reporter) emit(percent float64, message string) {
	if r.progress != nil {
		r.progress(Progress{Percent: percent, Message: message})
	}
}

func (r *reporter) Hardware(s draptolib.HardwareSummary) {
	r.logger.Debug("drapto hardware", logging.String("hostname", s.Hostname))
}

func (r *reporter) Initialization(s draptolib.InitializationSummary) {
	r.logger.Info("drapto source analyzed",
		logging.String("input", s.InputFile),
		logging.String("resolution", s.Resolution),
		logging.String("dynamic_range", s.DynamicRange),
	)
}

func (r *reporter) StageProgress(s draptolib.StageProgress) {
	r.emit(float64(s.Percent), s.Stage)
}

func (r *reporter) CropResult(s draptolib.CropSummary) {
	r.logger.Info("drapto crop detection",
		logging.String("crop", s.Crop),
		logging.Bool("required", s.Required),
		logging.Bool("disabled", s.Disabled),
	)
}

func (r *reporter) EncodingConfig(s draptolib.EncodingConfigSummary) {
	r.logger.Info("drapto encoding config",
		logging.String("encoder", s.Encoder),
		logging.String("preset", s.Preset),
		logging.String("quality", s.Quality),
		logging.String("audio_codec", s.AudioCodec),
	)
}

func (r *reporter) EncodingStarted(totalFrames uint64) {
	r.emit(0, "Encoding")
}

func (r *reporter) EncodingProgress(s draptolib.ProgressSnapshot) {
	r.emit(float64(s.Percent), "Encoding")
}

func (r *reporter) ValidationComplete(s draptolib.ValidationSummary) {
	if s.Passed {
		r.logger.Info("drapto validation passed", logging.Int("steps", len(s.Steps)))
		return
	}
	for _, step := range s.Steps {
		if !step.Passed {
			logging.WarnWithContext(r.logger, "drapto validation step failed", "drapto_validation_failed",
				logging.String("step", step.Name),
				logging.String("details", step.Details),
			)
		}
	}
}

func (r *reporter) EncodingComplete(s draptolib.EncodingOutcome) {
	r.emit(100, "Encoded")
	r.logger.Info("drapto encoding complete",
		logging.String("output", s.OutputPath),
		logging.Int64("original_size", int64(s.OriginalSize)),
		logging.Int64("encoded_size", int64(s.EncodedSize)),
	)
}

func (r *reporter) Warning(message string) {
	logging.WarnWithContext(r.logger, "drapto warning", "drapto_warning", logging.String("message", message))
}

func (r *reporter) Error(e draptolib.ReporterError) {
	r.logger.Error("drapto error",
		logging.String(logging.FieldEventType, "drapto_error"),
		logging.String("title", e.Title),
		logging.String("message", e.Message),
		logging.String(logging.FieldErrorHint, e.Suggestion),
	)
}

func (r *reporter) OperationComplete(message string) {
	r.logger.Debug("drapto operation complete", logging.String("message", message))
}

func (r *reporter) BatchStarted(s draptolib.BatchStartInfo) {
	r.logger.Debug("drapto batch started", logging.Int("files", s.TotalFiles))
}

func (r *reporter) FileProgress(s draptolib.FileProgressContext) {
	r.logger.Debug("drapto file progress", logging.Int("current", s.CurrentFile), logging.Int("total", s.TotalFiles))
}

func (r *reporter) BatchComplete(s draptolib.BatchSummary) {
	r.logger.Debug("drapto batch complete", logging.Int("successful", s.SuccessfulCount), logging.Int("total", s.TotalFiles))
}

var _ draptolib.Reporter = (*reporter)(nil)
