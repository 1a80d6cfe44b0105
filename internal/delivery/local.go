package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"discarchive/internal/fileutil"
	"discarchive/internal/logging"
	"discarchive/internal/metadata"
	"discarchive/internal/services"
)

// Local archives into a directory on this host.
type Local struct {
	root   string
	logger *slog.Logger
}

// NewLocal constructs a local destination rooted at root.
func NewLocal(root string, logger *slog.Logger) (*Local, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, services.Wrap(services.ErrConfiguration, "archiving", "init", "local archive path required", nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Local{root: filepath.Clean(root), logger: logging.NewComponentLogger(logger, "delivery")}, nil
}

// Describe names the destination for logs.
func (l *Local) Describe() string { return "local:" + l.root }

// Deliver moves source into the archive and writes the sidecar.
func (l *Local) Deliver(ctx context.Context, source string, record *metadata.Record) (Result, error) {
	info, err := os.Stat(source)
	if err != nil {
		return Result{}, services.Wrap(services.ErrDeliveryTransfer, "archiving", "stat source", "", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, context.Cause(ctx)
	}
	plan := newLayout(source, record)
	dir := filepath.Join(l.root, plan.folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, services.Wrap(services.ErrDeliveryTransfer, "archiving", "create folder", dir, err)
	}

	target, err := reserveLocal(dir, plan)
	if err != nil {
		return Result{}, services.Wrap(services.ErrDeliveryTransfer, "archiving", "reserve name", dir, err)
	}
	if err := fileutil.MoveFile(source, target); err != nil {
		_ = os.Remove(target)
		return Result{}, services.Wrap(services.ErrDeliveryTransfer, "archiving", "move file", target, err)
	}

	data, err := sidecar(record)
	if err != nil {
		return Result{}, services.Wrap(services.ErrDeliveryTransfer, "archiving", "encode sidecar", "", err)
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(dir, SidecarName), data, 0o644); err != nil {
		return Result{}, services.Wrap(services.ErrDeliveryTransfer, "archiving", "write sidecar", dir, err)
	}

	logging.WithContext(ctx, l.logger).Info("archived locally",
		logging.String("path", target),
		logging.Int64("size_bytes", info.Size()),
	)
	return Result{Path: target, SizeBytes: info.Size()}, nil
}

// reserveLocal creates the first free candidate name exclusively.
func reserveLocal(dir string, plan layout) (string, error) {
	for n := 0; n < maxNameAttempts; n++ {
		candidate := filepath.Join(dir, plan.fileName(n))
		f, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return candidate, f.Close()
		}
		if !errors.Is(err, os.ErrExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("no free name for %s after %d attempts", plan.base, maxNameAttempts)
}

var _ Destination = (*Local)(nil)
