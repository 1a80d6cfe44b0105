package disc

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"discarchive/internal/services"
)

func TestDriveStatusString(t *testing.T) {
	tests := []struct {
		status DriveStatus
		want   string
	}{
		{DriveStatusNoInfo, "no_info"},
		{DriveStatusNoDisc, "no_disc"},
		{DriveStatusTrayOpen, "tray_open"},
		{DriveStatusNotReady, "not_ready"},
		{DriveStatusDiscOK, "disc_ok"},
		{DriveStatus(99), "unknown(99)"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("DriveStatus(%d).String() = %q, want %q", int(tt.status), got, tt.want)
		}
	}
}

func TestCheckStatusFailuresMapToNoInfo(t *testing.T) {
	for _, device := range []string{"", "/dev/nonexistent_device_12345"} {
		status, err := CheckStatus(device)
		if status != DriveStatusNoInfo {
			t.Errorf("CheckStatus(%q) = %s, want no_info", device, status)
		}
		if !errors.Is(err, services.ErrDriveUnavailable) {
			t.Errorf("CheckStatus(%q) error = %v, want ErrDriveUnavailable", device, err)
		}
		if Status(device) != DriveStatusNoInfo {
			t.Errorf("Status(%q) should be no_info", device)
		}
	}
}

func TestWaitForReady(t *testing.T) {
	calls := 0
	probe := func(string) DriveStatus {
		calls++
		if calls >= 3 {
			return DriveStatusDiscOK
		}
		return DriveStatusNotReady
	}
	status, err := WaitForReady(context.Background(), "/dev/sr0", time.Second, time.Millisecond, probe)
	if err != nil || status != DriveStatusDiscOK {
		t.Fatalf("WaitForReady = %s, %v", status, err)
	}

	status, err = WaitForReady(context.Background(), "/dev/sr0", 10*time.Millisecond, time.Millisecond,
		func(string) DriveStatus { return DriveStatusTrayOpen })
	if !errors.Is(err, services.ErrDriveUnavailable) || status != DriveStatusTrayOpen {
		t.Fatalf("expected timeout error, got %s, %v", status, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := WaitForReady(ctx, "/dev/sr0", time.Minute, time.Millisecond,
		func(string) DriveStatus { return DriveStatusNoDisc }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDeviceLocks(t *testing.T) {
	locks := NewDeviceLocks()
	release, err := locks.TryAcquire("/dev/sr0")
	if err != nil {
		t.Fatal(err)
	}
	if len(locks.slot("/dev/sr0")) == 0 {
		t.Fatal("expected lock held")
	}
	if _, err := locks.TryAcquire("/dev/sr0"); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("expected ErrDeviceBusy, got %v", err)
	}
	other, err := locks.TryAcquire("/dev/sr1")
	if err != nil {
		t.Fatalf("different device should not be blocked: %v", err)
	}
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locks.Acquire(ctx, "/dev/sr0"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}

	release()
	release()
	again, err := locks.Acquire(context.Background(), "/dev/sr0")
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	again()
}

func TestEjectorFallsThroughMethods(t *testing.T) {
	exec := &fakeExecutor{handler: func(binary string, args []string) ([]byte, error) {
		if binary == "sg_start" {
			return nil, nil
		}
		return nil, errCommand
	}}
	ejector := newDriveEjector(exec, func(string) error { return errors.New("ioctl unsupported") }, nil)
	if err := ejector.Eject(context.Background(), "/dev/sr0"); err != nil {
		t.Fatalf("Eject failed: %v", err)
	}
	if !exec.called("eject /dev/sr0") || !exec.called("sg_start --eject /dev/sr0") {
		t.Fatalf("unexpected calls: %v", exec.calls)
	}
}

func TestEjectorStopsAtFirstSuccess(t *testing.T) {
	exec := &fakeExecutor{handler: func(string, []string) ([]byte, error) { return nil, nil }}
	ejector := newDriveEjector(exec, func(string) error { return nil }, nil)
	if err := ejector.Eject(context.Background(), "/dev/sr0"); err != nil {
		t.Fatal(err)
	}
	if len(exec.calls) != 0 {
		t.Fatalf("ioctl success should skip commands, got %v", exec.calls)
	}
}

func TestEjectorJoinsErrors(t *testing.T) {
	exec := &fakeExecutor{handler: func(string, []string) ([]byte, error) { return nil, errCommand }}
	ejector := newDriveEjector(exec, func(string) error { return errors.New("ioctl failed") }, nil)
	err := ejector.Eject(context.Background(), "/dev/sr0")
	if err == nil {
		t.Fatal("expected error")
	}
	for _, name := range []string{"ioctl", "eject", "sg_start"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q should mention %s", err, name)
		}
	}
	if err := ejector.Eject(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty device")
	}
}
