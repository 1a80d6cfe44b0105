package discmonitor

import (
	"log/slog"
	"strings"

	"discarchive/internal/config"
	"discarchive/internal/disc"
)

// New selects the monitor implementation from configuration.
func New(cfg *config.Config, classifier Classifier, logger *slog.Logger) Monitor {
	opts := Options{
		Device:       strings.TrimSpace(cfg.Drive.Device),
		PollInterval: cfg.Drive.PollInterval(),
		SettleDelay:  cfg.Drive.SettleDelay(),
		UnmountGrace: cfg.Drive.UnmountGrace(),
		Probe:        disc.Status,
		Classifier:   classifier,
		Logger:       logger,
	}
	if cfg.Drive.UseUdev {
		return NewUdevMonitor(opts)
	}
	return NewPollingMonitor(opts)
}
