package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"discarchive/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Timings are shortened so monitor and retry loops run quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StagingDir = filepath.Join(base, "staging")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Drive.MountRoot = filepath.Join(base, "mnt")
	cfgVal.Drive.UseUdev = false
	cfgVal.Drive.SettleDelaySeconds = 0
	cfgVal.Drive.UnmountGraceSeconds = 0
	cfgVal.Drive.ReadyTimeoutSeconds = 0
	cfgVal.Destination.Type = config.DestinationLocal
	cfgVal.Destination.Local.Path = filepath.Join(base, "archive")
	cfgVal.Metadata.Providers = nil
	cfgVal.Jobs.RetryDelaySeconds = 0
	cfgVal.Jobs.EjectOnSuccess = false
	cfgVal.Jobs.PollIntervalSeconds = 1

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithDevice overrides the optical drive path on the test config.
func WithDevice(path string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Drive.Device = path
	}
}

// WithMaxAttempts overrides the job retry budget.
func WithMaxAttempts(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Jobs.MaxAttempts = n
	}
}

// WithJobTimeout overrides the per-attempt ceiling.
func WithJobTimeout(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Jobs.JobTimeoutSeconds = seconds
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the default external binaries
// are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"makemkvcon", "ffmpeg", "mount", "umount", "blkid", "blockdev", "eject"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StagingDir)
}
