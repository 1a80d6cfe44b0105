package disc

import (
	"context"
	"errors"
	"sync"
)

// ErrDeviceBusy is returned when another operation holds the device.
var ErrDeviceBusy = errors.New("device busy")

// DeviceLocks serializes access to each optical drive within the process.
// Classification and extraction both hold the lock for the whole time they
// touch the device.
type DeviceLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewDeviceLocks returns an empty registry.
func NewDeviceLocks() *DeviceLocks {
	return &DeviceLocks{slots: make(map[string]chan struct{})}
}

func (l *DeviceLocks) slot(device string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[device]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[device] = ch
	}
	return ch
}

// TryAcquire takes the device lock without waiting. It returns ErrDeviceBusy
// when the device is held.
func (l *DeviceLocks) TryAcquire(device string) (release func(), err error) {
	ch := l.slot(device)
	select {
	case ch <- struct{}{}:
		return releaseOnce(ch), nil
	default:
		return nil, ErrDeviceBusy
	}
}

// Acquire waits for the device lock or ctx to end.
func (l *DeviceLocks) Acquire(ctx context.Context, device string) (release func(), err error) {
	ch := l.slot(device)
	select {
	case ch <- struct{}{}:
		return releaseOnce(ch), nil
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

func releaseOnce(ch chan struct{}) func() {
	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}
}

