package discmonitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"discarchive/internal/logging"
)

// DefaultPollInterval is used when no interval is configured.
const DefaultPollInterval = 2 * time.Second

// Monitor reports inserted video discs.
type Monitor interface {
	Start(ctx context.Context) error
	Stop()
	OnDiscDetected(cb Callback)
}

// PollingMonitor probes the drive on a fixed interval.
type PollingMonitor struct {
	det      *detector
	interval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPollingMonitor builds a polling monitor.
func NewPollingMonitor(opts Options) *PollingMonitor {
	opts.Logger = componentLogger(opts, "drive-poller")
	return newPollingMonitor(newDetector(opts), opts.PollInterval)
}

func newPollingMonitor(det *detector, interval time.Duration) *PollingMonitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollingMonitor{det: det, interval: interval}
}

// OnDiscDetected registers the insertion callback.
func (m *PollingMonitor) OnDiscDetected(cb Callback) {
	m.det.setCallback(cb)
}

// Start evaluates the drive once and then polls in the background.
func (m *PollingMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("drive monitor already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	done := m.done
	go func() {
		defer close(done)
		m.loop(runCtx, true)
	}()

	m.det.logger.Info("drive polling started",
		logging.String(logging.FieldDevice, m.det.device),
		logging.Duration("interval", m.interval),
		logging.String(logging.FieldEventType, "drive_monitor_started"),
	)
	return nil
}

// Stop ends polling and waits for the loop to exit. It is safe to call
// more than once.
func (m *PollingMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	<-done
	m.det.logger.Info("drive polling stopped",
		logging.String(logging.FieldEventType, "drive_monitor_stopped"),
	)
}

// loop polls until ctx ends. The udev monitor reuses it after a handoff,
// skipping the startup evaluation it already performed.
func (m *PollingMonitor) loop(ctx context.Context, startup bool) {
	if startup {
		m.det.evaluate(ctx)
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.det.evaluate(ctx)
		}
	}
}

func componentLogger(opts Options, component string) *slog.Logger {
	if opts.Logger == nil {
		return logging.NewNop()
	}
	return logging.NewComponentLogger(opts.Logger, component)
}
