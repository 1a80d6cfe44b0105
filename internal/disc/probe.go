package disc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"discarchive/internal/services"
)

// ioctlCDROMDriveStatus is the Linux ioctl number for CDROM_DRIVE_STATUS.
const ioctlCDROMDriveStatus = 0x5326

// DriveStatus represents the result of a CDROM_DRIVE_STATUS ioctl call.
type DriveStatus int

const (
	DriveStatusNoInfo   DriveStatus = 0
	DriveStatusNoDisc   DriveStatus = 1
	DriveStatusTrayOpen DriveStatus = 2
	DriveStatusNotReady DriveStatus = 3
	DriveStatusDiscOK   DriveStatus = 4
)

// String returns a human-readable label for the drive status.
func (s DriveStatus) String() string {
	switch s {
	case DriveStatusNoInfo:
		return "no_info"
	case DriveStatusNoDisc:
		return "no_disc"
	case DriveStatusTrayOpen:
		return "tray_open"
	case DriveStatusNotReady:
		return "not_ready"
	case DriveStatusDiscOK:
		return "disc_ok"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// StatusFunc reports the drive state for a device.
type StatusFunc func(device string) DriveStatus

// CheckStatus queries the drive with CDROM_DRIVE_STATUS. Open and ioctl
// failures return DriveStatusNoInfo with an ErrDriveUnavailable error.
func CheckStatus(devicePath string) (DriveStatus, error) {
	devicePath = strings.TrimSpace(devicePath)
	if devicePath == "" {
		return DriveStatusNoInfo, services.Wrap(services.ErrDriveUnavailable, "probe", "open", "empty device path", nil)
	}

	fd, err := unix.Open(devicePath, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return DriveStatusNoInfo, services.Wrap(services.ErrDriveUnavailable, "probe", "open "+devicePath, "", err)
	}
	defer unix.Close(fd) //nolint:errcheck

	result, err := unix.IoctlRetInt(fd, ioctlCDROMDriveStatus)
	if err != nil {
		return DriveStatusNoInfo, services.Wrap(services.ErrDriveUnavailable, "probe", "ioctl CDROM_DRIVE_STATUS "+devicePath, "", err)
	}
	status := DriveStatus(result)
	if status < DriveStatusNoInfo || status > DriveStatusDiscOK {
		return DriveStatusNoInfo, nil
	}
	return status, nil
}

// Status is CheckStatus without the diagnostic error.
func Status(devicePath string) DriveStatus {
	status, _ := CheckStatus(devicePath)
	return status
}

// WaitForReady polls the drive once per interval until it reports
// DriveStatusDiscOK, the timeout elapses, or ctx ends.
func WaitForReady(ctx context.Context, devicePath string, timeout, interval time.Duration, probe StatusFunc) (DriveStatus, error) {
	if probe == nil {
		probe = Status
	}
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.Now().Add(timeout)

	for {
		status := probe(devicePath)
		if status == DriveStatusDiscOK {
			return status, nil
		}
		if !time.Now().Before(deadline) {
			return status, services.Wrap(services.ErrDriveUnavailable, "probe", "wait for ready",
				fmt.Sprintf("drive %s not ready after %s (last status: %s)", devicePath, timeout, status), nil)
		}
		select {
		case <-ctx.Done():
			return status, context.Cause(ctx)
		case <-time.After(interval):
		}
	}
}
