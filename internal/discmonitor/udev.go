package discmonitor

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pilebones/go-udev/netlink"

	"discarchive/internal/logging"
)

// DefaultSafetyInterval bounds how long a missed udev event can go unnoticed.
const DefaultSafetyInterval = 30 * time.Second

// ueventSource is the subset of *netlink.UEventConn the monitor uses.
type ueventSource interface {
	Monitor(queue chan netlink.UEvent, errs chan error, matcher netlink.Matcher) chan struct{}
	Close() error
}

func connectNetlink() (ueventSource, error) {
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return nil, err
	}
	return conn, nil
}

// UdevMonitor re-probes the drive on udev block events for the device and
// on a slow safety ticker. If the netlink subscription cannot be opened or
// reports an error, it hands the loop to its polling fallback, which shares
// the same detector state and callback.
type UdevMonitor struct {
	det            *detector
	fallback       *PollingMonitor
	connect        func() (ueventSource, error)
	safetyInterval time.Duration

	mu      sync.Mutex
	running bool
	polling bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewUdevMonitor builds a udev-driven monitor with a polling fallback.
func NewUdevMonitor(opts Options) *UdevMonitor {
	opts.Logger = componentLogger(opts, "drive-udev")
	det := newDetector(opts)
	return &UdevMonitor{
		det:            det,
		fallback:       newPollingMonitor(det, opts.PollInterval),
		connect:        connectNetlink,
		safetyInterval: DefaultSafetyInterval,
	}
}

// OnDiscDetected registers the insertion callback.
func (m *UdevMonitor) OnDiscDetected(cb Callback) {
	m.det.setCallback(cb)
}

// UsingFallback reports whether polling has taken over.
func (m *UdevMonitor) UsingFallback() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.polling
}

// Start subscribes to udev events, or starts polling if that fails.
func (m *UdevMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("drive monitor already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	conn, err := m.connect()
	if err != nil {
		logging.WarnWithContext(m.det.logger, "udev subscription failed; polling instead", "udev_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "ensure the daemon may open netlink sockets"),
			logging.String(logging.FieldImpact, "disc detection falls back to polling"),
		)
		m.polling = true
	}

	done := m.done
	go func() {
		defer close(done)
		if conn == nil {
			m.fallback.loop(runCtx, true)
			return
		}
		m.listen(runCtx, conn)
	}()

	if conn != nil {
		m.det.logger.Info("udev monitor started",
			logging.String(logging.FieldDevice, m.det.device),
			logging.String(logging.FieldEventType, "drive_monitor_started"),
		)
	}
	return nil
}

// Stop ends monitoring and waits for the loop to exit. It is safe to call
// more than once.
func (m *UdevMonitor) Stop() {
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
	m.det.logger.Info("udev monitor stopped",
		logging.String(logging.FieldEventType, "drive_monitor_stopped"),
	)
}

func (m *UdevMonitor) listen(ctx context.Context, conn ueventSource) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	quit := conn.Monitor(queue, errs, buildMatcher())
	closeConn := func() {
		close(quit)
		_ = conn.Close()
	}

	m.det.evaluate(ctx)

	safety := time.NewTicker(m.safetyInterval)
	defer safety.Stop()
	for {
		select {
		case <-ctx.Done():
			closeConn()
			return
		case event := <-queue:
			if !m.matchesDevice(event) {
				continue
			}
			m.det.logger.Debug("udev event",
				logging.String("action", string(event.Action)),
				logging.String(logging.FieldDevice, m.det.device),
			)
			m.det.evaluate(ctx)
		case <-safety.C:
			m.det.evaluate(ctx)
		case err := <-errs:
			logging.WarnWithContext(m.det.logger, "udev monitor error; polling instead", "udev_monitor_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "disc detection falls back to polling"),
			)
			closeConn()
			m.mu.Lock()
			m.polling = true
			m.mu.Unlock()
			m.fallback.loop(ctx, false)
			return
		}
	}
}

func (m *UdevMonitor) matchesDevice(event netlink.UEvent) bool {
	name := event.Env["DEVNAME"]
	if name == "" {
		devpath := event.Env["DEVPATH"]
		if devpath == "" {
			return false
		}
		name = filepath.Base(devpath)
	}
	return filepath.Base(name) == filepath.Base(strings.TrimSpace(m.det.device))
}

// buildMatcher accepts block subsystem add, change, and remove events.
func buildMatcher() netlink.Matcher {
	action := "add|change|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "block",
		},
	})
	return rules
}
