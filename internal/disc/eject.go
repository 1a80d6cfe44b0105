package disc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sys/unix"

	"discarchive/internal/logging"
)

// ioctlCDROMEject is the Linux ioctl number for CDROMEJECT.
const ioctlCDROMEject = 0x5309

// Ejector defines disc eject operations.
type Ejector interface {
	Eject(ctx context.Context, device string) error
}

type ejectMethod struct {
	name string
	run  func(ctx context.Context, device string) error
}

type driveEjector struct {
	methods []ejectMethod
	logger  *slog.Logger
}

// NewEjector returns an ejector that tries the CDROMEJECT ioctl, then the
// eject utility, then sg_start. The first method that succeeds wins.
func NewEjector(logger *slog.Logger) Ejector {
	return newDriveEjector(commandExecutor{}, ioctlEject, logger)
}

func newDriveEjector(exec Executor, ioctl func(device string) error, logger *slog.Logger) *driveEjector {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &driveEjector{
		logger: logging.NewComponentLogger(logger, "ejector"),
		methods: []ejectMethod{
			{name: "ioctl", run: func(_ context.Context, device string) error { return ioctl(device) }},
			{name: "eject", run: func(ctx context.Context, device string) error {
				_, err := exec.Run(ctx, "eject", []string{device})
				return err
			}},
			{name: "sg_start", run: func(ctx context.Context, device string) error {
				_, err := exec.Run(ctx, "sg_start", []string{"--eject", device})
				return err
			}},
		},
	}
}

func (e *driveEjector) Eject(ctx context.Context, device string) error {
	device = strings.TrimSpace(device)
	if device == "" {
		return errors.New("eject: no device specified")
	}
	var errs []error
	for _, method := range e.methods {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := method.run(ctx, device)
		if err == nil {
			e.logger.Info("disc ejected",
				logging.String(logging.FieldDevice, device),
				logging.String("method", method.name),
			)
			return nil
		}
		e.logger.Debug("eject method failed",
			logging.String(logging.FieldDevice, device),
			logging.String("method", method.name),
			logging.Error(err),
		)
		errs = append(errs, fmt.Errorf("%s: %w", method.name, err))
	}
	return fmt.Errorf("eject %s: %w", device, errors.Join(errs...))
}

func ioctlEject(device string) error {
	fd, err := unix.Open(device, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", device, err)
	}
	defer unix.Close(fd) //nolint:errcheck
	if _, err := unix.IoctlRetInt(fd, ioctlCDROMEject); err != nil {
		return fmt.Errorf("ioctl CDROMEJECT: %w", err)
	}
	return nil
}
