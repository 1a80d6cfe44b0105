package discmonitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"discarchive/internal/disc"
	"discarchive/internal/logging"
)

// Callback receives each detected video disc.
type Callback func(ctx context.Context, info disc.Info)

// Classifier inspects a ready disc.
type Classifier interface {
	Classify(ctx context.Context, device string) (*disc.Info, error)
	EnsureUnmounted(ctx context.Context, device string)
}

// Options configures the shared detection behavior.
type Options struct {
	Device       string
	PollInterval time.Duration
	SettleDelay  time.Duration
	UnmountGrace time.Duration
	Probe        disc.StatusFunc
	Classifier   Classifier
	Logger       *slog.Logger
}

// detector fires the callback on the transition into DiscOK. A NoInfo
// sample is treated as "unknown" and leaves the previous status in place.
type detector struct {
	device       string
	settleDelay  time.Duration
	unmountGrace time.Duration
	probe        disc.StatusFunc
	classifier   Classifier
	logger       *slog.Logger

	evalMu     sync.Mutex
	mu         sync.Mutex
	lastStatus disc.DriveStatus
	callback   Callback
}

func newDetector(opts Options) *detector {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	probe := opts.Probe
	if probe == nil {
		probe = disc.Status
	}
	return &detector{
		device:       opts.Device,
		settleDelay:  opts.SettleDelay,
		unmountGrace: opts.UnmountGrace,
		probe:        probe,
		classifier:   opts.Classifier,
		logger:       logger,
		lastStatus:   disc.DriveStatusNoDisc,
	}
}

func (d *detector) setCallback(cb Callback) {
	d.mu.Lock()
	d.callback = cb
	d.mu.Unlock()
}

func (d *detector) currentCallback() Callback {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.callback
}

// status returns the most recent known drive status.
func (d *detector) status() disc.DriveStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastStatus
}

// evaluate samples the drive once and handles a fresh insertion. Concurrent
// calls are serialized so one insertion is never handled twice.
func (d *detector) evaluate(ctx context.Context) {
	d.evalMu.Lock()
	defer d.evalMu.Unlock()

	current := d.probe(d.device)
	if current == disc.DriveStatusNoInfo {
		return
	}
	d.mu.Lock()
	previous := d.lastStatus
	d.lastStatus = current
	d.mu.Unlock()

	if current != previous {
		d.logger.Debug("drive status changed",
			logging.String(logging.FieldDevice, d.device),
			logging.String("from", previous.String()),
			logging.String("to", current.String()),
		)
	}
	if current == disc.DriveStatusDiscOK && previous != disc.DriveStatusDiscOK {
		d.handleInsertion(ctx)
	}
}

func (d *detector) handleInsertion(ctx context.Context) {
	if err := sleepCtx(ctx, d.settleDelay); err != nil {
		return
	}
	if d.classifier == nil {
		d.logger.Warn("no classifier configured; disc ignored",
			logging.String(logging.FieldDevice, d.device),
			logging.String(logging.FieldEventType, "disc_classifier_missing"),
			logging.String(logging.FieldImpact, "disc not queued"),
		)
		return
	}

	info, err := d.classifier.Classify(ctx, d.device)
	switch {
	case errors.Is(err, disc.ErrDeviceBusy):
		d.logger.Debug("drive busy; disc already being handled",
			logging.String(logging.FieldDevice, d.device),
		)
		return
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		logging.WarnWithContext(d.logger, "disc classification failed", "disc_classify_failed",
			logging.String(logging.FieldDevice, d.device),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check mount permissions and that blkid is installed"),
			logging.String(logging.FieldImpact, "disc not queued"),
		)
		return
	case info == nil:
		d.logger.Debug("disc left the drive before classification",
			logging.String(logging.FieldDevice, d.device),
		)
		return
	}

	if !info.IsVideo {
		d.logger.Info("non-video disc ignored",
			logging.String(logging.FieldDevice, d.device),
			logging.String("label", info.Label),
			logging.String(logging.FieldEventType, "disc_ignored"),
		)
		return
	}

	d.classifier.EnsureUnmounted(ctx, d.device)
	if err := sleepCtx(ctx, d.unmountGrace); err != nil {
		return
	}
	d.logger.Info("video disc detected",
		logging.String(logging.FieldDevice, d.device),
		logging.String("label", info.Label),
		logging.String("kind", info.Kind),
		logging.String(logging.FieldEventType, "disc_detected"),
	)
	if cb := d.currentCallback(); cb != nil {
		cb(ctx, *info)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
