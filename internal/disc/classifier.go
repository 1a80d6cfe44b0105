package disc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"discarchive/internal/logging"
)

// Disc kinds reported by the classifier.
const (
	KindDVD    = "dvd"
	KindBluRay = "bluray"
	KindData   = "data"
)

// videoMarkers maps a top-level directory to the disc kind it identifies.
var videoMarkers = []struct {
	dir  string
	kind string
}{
	{"VIDEO_TS", KindDVD},
	{"BDMV", KindBluRay},
}

var labelFiles = []string{".discinfo", "discinfo.txt"}

var mountAttempts = [][]string{
	{"-t", "udf"},
	{"-t", "iso9660"},
	{"-t", "auto"},
	nil,
}

const commandTimeout = 30 * time.Second

// Info describes a disc found in a drive.
type Info struct {
	Device     string
	Label      string
	IsVideo    bool
	Kind       string
	SizeBytes  int64
	DetectedAt time.Time
}

// Classifier inspects a loaded disc to decide whether it holds video.
type Classifier struct {
	mountRoot string
	exec      Executor
	status    StatusFunc
	locks     *DeviceLocks
	logger    *slog.Logger
}

// ClassifierOption customizes a Classifier.
type ClassifierOption func(*Classifier)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) ClassifierOption {
	return func(c *Classifier) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithStatusFunc replaces the ioctl drive probe.
func WithStatusFunc(fn StatusFunc) ClassifierOption {
	return func(c *Classifier) {
		if fn != nil {
			c.status = fn
		}
	}
}

// NewClassifier builds a classifier that mounts discs beneath mountRoot.
func NewClassifier(mountRoot string, locks *DeviceLocks, logger *slog.Logger, opts ...ClassifierOption) *Classifier {
	if logger == nil {
		logger = logging.NewNop()
	}
	if locks == nil {
		locks = NewDeviceLocks()
	}
	if strings.TrimSpace(mountRoot) == "" {
		mountRoot = os.TempDir()
	}
	c := &Classifier{
		mountRoot: mountRoot,
		exec:      commandExecutor{},
		status:    Status,
		locks:     locks,
		logger:    logging.NewComponentLogger(logger, "classifier"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MountPoint is the scratch directory used for a device.
func (c *Classifier) MountPoint(device string) string {
	return filepath.Join(c.mountRoot, "discarchive_mount_"+filepath.Base(device))
}

// Classify mounts the disc read-only, looks for a video marker, resolves
// the label and size, and always unmounts before returning. It returns nil
// without error when the drive does not report a ready disc, and
// ErrDeviceBusy when another operation holds the device.
func (c *Classifier) Classify(ctx context.Context, device string) (*Info, error) {
	if status := c.status(device); status != DriveStatusDiscOK {
		c.logger.Debug("drive not ready for classification",
			logging.String(logging.FieldDevice, device),
			logging.String("status", status.String()),
		)
		return nil, nil
	}
	release, err := c.locks.TryAcquire(device)
	if err != nil {
		return nil, err
	}
	defer release()

	info := &Info{Device: device, DetectedAt: time.Now().UTC()}
	reason := "no video marker"
	mountPoint, mounted := c.mount(ctx, device)
	if mounted {
		defer c.unmount(device, mountPoint)
		if marker, kind := detectMarker(mountPoint); kind != "" {
			info.Kind, info.IsVideo = kind, true
			reason = marker + " present"
		}
	}
	if !info.IsVideo && c.blkidReportsUDF(ctx, device) {
		info.Kind, info.IsVideo = KindDVD, true
		reason = "blkid TYPE=udf"
	}
	if info.Kind == "" {
		info.Kind = KindData
	}
	info.Label = c.readLabel(ctx, device, mountPoint, mounted)
	info.SizeBytes = c.readSize(ctx, device)

	c.logger.Info("disc classified",
		logging.String(logging.FieldDevice, device),
		logging.String("decision_type", "classification"),
		logging.String("decision_result", info.Kind),
		logging.String("decision_reason", reason),
		logging.String("label", info.Label),
		logging.Bool("mounted", mounted),
		logging.Int64("size_bytes", info.SizeBytes),
	)
	return info, nil
}

// EnsureUnmounted releases the scratch mount for device if one is still
// active.
func (c *Classifier) EnsureUnmounted(ctx context.Context, device string) {
	mountPoint := c.MountPoint(device)
	if c.isMountPoint(ctx, mountPoint) {
		c.unmount(device, mountPoint)
	}
}

func (c *Classifier) mount(ctx context.Context, device string) (string, bool) {
	mountPoint := c.MountPoint(device)
	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		c.logger.Warn("create mount point failed",
			logging.String("mount_point", mountPoint),
			logging.Error(err),
		)
		return mountPoint, false
	}
	if c.isMountPoint(ctx, mountPoint) {
		return mountPoint, true
	}
	var lastErr error
	for _, fsArgs := range mountAttempts {
		args := append([]string{"-o", "ro"}, fsArgs...)
		args = append(args, device, mountPoint)
		if _, err := c.run(ctx, "mount", args...); err != nil {
			lastErr = err
			continue
		}
		c.logger.Debug("disc mounted",
			logging.String(logging.FieldDevice, device),
			logging.String("mount_point", mountPoint),
			logging.String("args", strings.Join(fsArgs, " ")),
		)
		return mountPoint, true
	}
	c.logger.Info("disc could not be mounted; falling back to blkid",
		logging.String(logging.FieldDevice, device),
		logging.Error(lastErr),
	)
	_ = os.Remove(mountPoint)
	return mountPoint, false
}

func (c *Classifier) unmount(device, mountPoint string) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if _, err := c.run(ctx, "umount", mountPoint); err != nil {
		logging.WarnWithContext(c.logger, "unmount failed", "disc_unmount_failed",
			logging.String(logging.FieldDevice, device),
			logging.String("mount_point", mountPoint),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run umount manually before the next rip"),
		)
		return
	}
	_ = os.Remove(mountPoint)
}

func (c *Classifier) isMountPoint(ctx context.Context, path string) bool {
	_, err := c.run(ctx, "mountpoint", "-q", path)
	return err == nil
}

func detectMarker(mountPoint string) (string, string) {
	for _, marker := range videoMarkers {
		info, err := os.Stat(filepath.Join(mountPoint, marker.dir))
		if err == nil && info.IsDir() {
			return marker.dir, marker.kind
		}
	}
	return "", ""
}

func (c *Classifier) blkidReportsUDF(ctx context.Context, device string) bool {
	out, err := c.run(ctx, "blkid", "-p", "-o", "export", device)
	if err != nil {
		return false
	}
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if ok && key == "TYPE" {
			return strings.EqualFold(strings.Trim(value, "\""), "udf")
		}
	}
	return false
}

func (c *Classifier) readLabel(ctx context.Context, device, mountPoint string, mounted bool) string {
	if out, err := c.run(ctx, "blkid", "-s", "LABEL", "-o", "value", device); err == nil {
		if label := strings.TrimSpace(string(out)); label != "" {
			return label
		}
	}
	if !mounted {
		return ""
	}
	for _, name := range labelFiles {
		if label := firstLine(filepath.Join(mountPoint, name)); label != "" {
			return label
		}
	}
	return ""
}

func firstLine(path string) string {
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line
		}
	}
	return ""
}

func (c *Classifier) readSize(ctx context.Context, device string) int64 {
	out, err := c.run(ctx, "blockdev", "--getsize64", device)
	if err != nil {
		return 0
	}
	size, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil || size < 0 {
		return 0
	}
	return size
}

func (c *Classifier) run(ctx context.Context, binary string, args ...string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	out, err := c.exec.Run(runCtx, binary, args)
	if err != nil {
		var exitErr interface{ ExitCode() int }
		if errors.As(err, &exitErr) {
			return out, fmt.Errorf("%s exited %d: %w", binary, exitErr.ExitCode(), err)
		}
		return out, fmt.Errorf("%s: %w", binary, err)
	}
	return out, nil
}
