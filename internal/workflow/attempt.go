package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"discarchive/internal/config"
	"discarchive/internal/delivery"
	"discarchive/internal/disc"
	"discarchive/internal/logging"
	"discarchive/internal/metadata"
	"discarchive/internal/queue"
	"discarchive/internal/services"
	"discarchive/internal/services/makemkv"
	"discarchive/internal/staging"
	"discarchive/internal/textutil"
	"discarchive/internal/transcode"
)

// attempt runs the pipeline once. The attempt counter is persisted before
// any work starts so a crash mid-attempt still charges it.
func (o *Orchestrator) attempt(ctx context.Context, logger *slog.Logger, job *queue.Job, manual *metadata.Record) error {
	job.Attempts++
	if err := o.advance(ctx, job, queue.StatusAnalyzing); err != nil {
		return err
	}
	logger = logger.With(logging.Int("attempt", job.Attempts))
	logger.Info("attempt started",
		logging.Int("max_attempts", o.maxAttempts),
		logging.String(logging.FieldEventType, "attempt_start"),
	)

	runCtx, cancel := o.attemptContext(ctx)
	defer cancel()

	scratch, err := os.MkdirTemp(o.stagingDir, staging.ScratchPattern(job.ID))
	if err != nil {
		return services.Wrap(nil, string(queue.StatusAnalyzing), "create scratch", o.stagingDir, err)
	}
	defer o.removeScratch(logger, scratch)

	// analyzing
	if err := o.waitForDrive(runCtx, logger, job.DevicePath); err != nil {
		return o.stepError(runCtx, queue.StatusAnalyzing, err)
	}
	title, err := o.extractor.MainTitle(services.WithStep(runCtx, string(queue.StatusAnalyzing)), job.DevicePath)
	if err != nil {
		return o.stepError(runCtx, queue.StatusAnalyzing, err)
	}
	logger.Info("main title selected",
		logging.Int("title_index", title.Index),
		logging.Int("duration_seconds", title.DurationSeconds),
		logging.Int64("size_bytes", title.SizeBytes),
	)

	// ripping
	if err := o.advance(runCtx, job, queue.StatusRipping); err != nil {
		return err
	}
	ripProgress := o.newProgress(runCtx, logger, job)
	ripped, err := o.extractor.Rip(services.WithStep(runCtx, string(queue.StatusRipping)), job.DevicePath, title.Index,
		filepath.Join(scratch, "rip"), func(u makemkv.ProgressUpdate) {
			ripProgress.update(u.Percent, u.Message)
		})
	if err != nil {
		return o.stepError(runCtx, queue.StatusRipping, err)
	}

	// transcoding
	if err := o.advance(runCtx, job, queue.StatusTranscoding); err != nil {
		return err
	}
	encodeProgress := o.newProgress(runCtx, logger, job)
	output := transcode.OutputPath(filepath.Join(scratch, "encoded"), ripped, o.transcoder.Container())
	encodeCtx := transcode.WithSourceDuration(services.WithStep(runCtx, string(queue.StatusTranscoding)), title.DurationSeconds)
	encoded, err := o.transcoder.Transcode(encodeCtx, ripped, output,
		func(p transcode.Progress) {
			encodeProgress.update(p.Percent, p.Message)
		})
	if err != nil {
		return o.stepError(runCtx, queue.StatusTranscoding, err)
	}
	if err := os.Remove(ripped); err != nil && !os.IsNotExist(err) {
		logger.Debug("rip cleanup failed", logging.Error(err))
	}

	// fetching_metadata
	record := manual
	if record == nil {
		if err := o.advance(runCtx, job, queue.StatusFetchingMetadata); err != nil {
			return err
		}
		record, err = o.lookupMetadata(services.WithStep(runCtx, string(queue.StatusFetchingMetadata)), logger, job)
		if err != nil {
			return o.stepError(runCtx, queue.StatusFetchingMetadata, err)
		}
	} else {
		logger.Info("using caller supplied metadata", logging.String("title", record.Title), logging.Int("year", record.Year))
	}

	// archiving
	if err := o.advance(runCtx, job, queue.StatusArchiving); err != nil {
		return err
	}
	result, err := o.destination.Deliver(services.WithStep(runCtx, string(queue.StatusArchiving)), encoded, record)
	if err != nil {
		return o.stepError(runCtx, queue.StatusArchiving, err)
	}

	item := o.archivedItem(record, result)
	if err := o.store.CompleteJob(context.WithoutCancel(ctx), job, item); err != nil {
		return fmt.Errorf("record archived item: %w", err)
	}
	logger.Info("job completed",
		logging.Int64("archived_item_id", item.ID),
		logging.String("title", item.Title),
		logging.String("file_path", item.FilePath),
		logging.Int64("file_size_bytes", item.FileSizeBytes),
		logging.String(logging.FieldEventType, "job_completed"),
	)
	o.eject(ctx, logger, job)
	return nil
}

// attemptContext bounds one attempt by the configured ceiling.
func (o *Orchestrator) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.attemptTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	cause := services.Wrap(services.ErrTimeout, "", "attempt", fmt.Sprintf("exceeded %s ceiling", o.attemptTimeout), nil)
	return context.WithTimeoutCause(ctx, o.attemptTimeout, cause)
}

// advance moves the job to the next status and persists it, unless the run
// has already been cancelled.
func (o *Orchestrator) advance(ctx context.Context, job *queue.Job, status queue.Status) error {
	if cause := context.Cause(ctx); cause != nil {
		return o.stepError(ctx, job.Status, cause)
	}
	if err := job.Transition(status); err != nil {
		return err
	}
	if err := o.persist(ctx, job); err != nil {
		return fmt.Errorf("persist %s: %w", status, err)
	}
	return nil
}

// stepError prefers the cancellation cause over whatever the step reported
// while it was being torn down. An expired attempt ceiling is charged to the
// tool that was running in step.
func (o *Orchestrator) stepError(ctx context.Context, step queue.Status, err error) error {
	cause := context.Cause(ctx)
	if cause == nil {
		return err
	}
	if !errors.Is(cause, services.ErrTimeout) {
		return cause
	}
	marker, tool := services.ErrExtractionFailed, "makemkv"
	switch step {
	case queue.StatusTranscoding:
		marker, tool = services.ErrTranscodeFailed, o.transcoder.Name()
	case queue.StatusFetchingMetadata:
		marker, tool = services.ErrMetadataUnavailable, "metadata"
	case queue.StatusArchiving:
		marker, tool = services.ErrDeliveryTransfer, o.destination.Describe()
	}
	return services.Wrap(marker, string(step), tool, "timed out", cause)
}

func (o *Orchestrator) removeScratch(logger *slog.Logger, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		logging.WarnWithContext(logger, "scratch cleanup failed; staging space may leak", "scratch_cleanup_failed",
			logging.String("path", dir),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the directory by hand"),
		)
	}
}

// lookupMetadata resolves metadata for the disc label. Provider failures
// degrade to a label-derived title; only cancellation is returned.
func (o *Orchestrator) lookupMetadata(ctx context.Context, logger *slog.Logger, job *queue.Job) (*metadata.Record, error) {
	fallback := &metadata.Record{Title: textutil.TitleFromLabel(job.SourceLabel)}
	if o.metadata == nil {
		return fallback, nil
	}
	if textutil.IsGenericLabel(job.SourceLabel) {
		logger.Info("disc label is generic; skipping metadata search",
			logging.String("decision_type", "metadata_lookup"),
			logging.String("decision_result", "skipped"),
			logging.String("title", fallback.Title),
		)
		return fallback, nil
	}

	query := textutil.QueryFromLabel(job.SourceLabel)
	candidates, err := o.metadata.Search(ctx, query, 0)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return nil, cause
		}
		o.warnDegraded(logger, "metadata search failed", query, fallback, err)
		return fallback, nil
	}
	if len(candidates) == 0 {
		o.warnDegraded(logger, "no metadata match", query, fallback, nil)
		return fallback, nil
	}

	top := candidates[0]
	record, err := o.metadata.Details(ctx, top.Provider, top.ID)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return nil, cause
		}
		logging.WarnWithContext(logger, "metadata details failed; using search result", "metadata_degraded",
			logging.String("provider", top.Provider),
			logging.String("provider_id", top.ID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "archived item lacks cast, genres, and plot details"),
		)
		record = &metadata.Record{
			Provider:      top.Provider,
			ID:            top.ID,
			Title:         top.Title,
			OriginalTitle: top.OriginalTitle,
			Year:          top.Year,
			Plot:          top.Plot,
			PosterURL:     top.PosterURL,
		}
	}
	logger.Info("metadata resolved",
		logging.String("decision_type", "metadata_lookup"),
		logging.String("decision_result", "matched"),
		logging.String("query", query),
		logging.String("provider", record.Provider),
		logging.String("title", record.Title),
		logging.Int("year", record.Year),
		logging.Int("candidates", len(candidates)),
	)
	return record, nil
}

func (o *Orchestrator) warnDegraded(logger *slog.Logger, msg, query string, fallback *metadata.Record, err error) {
	attrs := []logging.Attr{
		logging.String("query", query),
		logging.String("title", fallback.Title),
		logging.String(logging.FieldImpact, "archived under the disc label instead of a catalog title"),
	}
	if err != nil {
		attrs = append(attrs, logging.Error(err))
	}
	logging.WarnWithContext(logger, msg+"; using disc label", "metadata_degraded", attrs...)
}

func (o *Orchestrator) archivedItem(record *metadata.Record, result delivery.Result) *queue.ArchivedItem {
	videoCodec, audioCodec := o.settings.VideoCodec, o.settings.AudioCodec
	if o.transcoder.Name() == config.EngineDrapto {
		videoCodec, audioCodec = "av1", "opus"
	}
	return &queue.ArchivedItem{
		Title:          record.Title,
		OriginalTitle:  record.OriginalTitle,
		Year:           record.Year,
		Plot:           record.Plot,
		Cast:           record.Cast,
		Genres:         record.Genres,
		Director:       record.Director,
		RuntimeMinutes: record.RuntimeMinutes,
		PosterURL:      record.PosterURL,
		ImdbID:         record.ImdbID,
		Provider:       record.Provider,
		ProviderID:     record.ID,
		FilePath:       result.Path,
		FileSizeBytes:  result.SizeBytes,
		Container:      o.transcoder.Container(),
		VideoCodec:     videoCodec,
		AudioCodec:     audioCodec,
	}
}

func (o *Orchestrator) eject(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	if !o.ejectOnSuccess || o.ejector == nil {
		return
	}
	ejectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ejectTimeout)
	defer cancel()
	if err := o.ejector.Eject(ejectCtx, job.DevicePath); err != nil {
		logging.WarnWithContext(logger, "disc eject failed", "eject_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "eject the disc manually"),
		)
	}
}

// waitForDrive blocks until the drive reports a readable disc.
func (o *Orchestrator) waitForDrive(ctx context.Context, logger *slog.Logger, device string) error {
	if o.probe == nil || o.readyTimeout <= 0 {
		return nil
	}
	status, err := disc.WaitForReady(ctx, device, o.readyTimeout, driveReadyInterval, o.probe)
	if err != nil {
		return err
	}
	logger.Debug("drive ready", logging.String(logging.FieldDevice, device), logging.String("status", status.String()))
	return nil
}
