package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"

	"discarchive/internal/config"
	"discarchive/internal/services"
)

func TestMain(m *testing.M) {
	// Tests swap HOME between cases.
	homedir.DisableCache = true
	os.Exit(m.Run())
}

func TestLoadDefaultsExpandPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if want := filepath.Join(tempHome, ".config", "discarchive", "config.toml"); resolved != want {
		t.Fatalf("resolved path = %q, want %q", resolved, want)
	}
	if want := filepath.Join(tempHome, ".local", "share", "discarchive", "staging"); cfg.Paths.StagingDir != want {
		t.Fatalf("staging dir = %q, want %q", cfg.Paths.StagingDir, want)
	}
	if cfg.Drive.Device != "/dev/sr0" {
		t.Fatalf("unexpected device %q", cfg.Drive.Device)
	}
	if cfg.Jobs.MaxAttempts != 3 || cfg.Jobs.RetryDelay() != time.Minute || cfg.Jobs.JobTimeout() != 4*time.Hour {
		t.Fatalf("unexpected job defaults: %+v", cfg.Jobs)
	}
	if cfg.MakeMKV.InfoTimeout() != 5*time.Minute {
		t.Fatalf("unexpected info timeout %s", cfg.MakeMKV.InfoTimeout())
	}
	if len(cfg.EnabledProviders()) != 0 {
		t.Fatalf("expected no providers without keys, got %v", cfg.EnabledProviders())
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StagingDir, cfg.Paths.StateDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q: %v", dir, err)
		}
	}
	if filepath.Dir(cfg.DatabasePath()) != cfg.Paths.StateDir {
		t.Fatalf("database path %q outside state dir", cfg.DatabasePath())
	}
}

func TestLoadTOMLFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	payload := map[string]any{
		"drive":       map[string]any{"device": "/dev/sr1"},
		"transcode":   map[string]any{"crf": 20, "container": ".MKV"},
		"metadata":    map[string]any{"providers": []string{"TMDB", "tmdb"}, "tmdb_api_key": " key "},
		"destination": map[string]any{"type": "ssh", "ssh": map[string]any{"host": "nas", "user": "archiver", "key_path": "~/keys/id"}},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected config to exist")
	}
	if cfg.Drive.Device != "/dev/sr1" || cfg.Transcode.CRF != 20 || cfg.Transcode.Container != "mkv" {
		t.Fatalf("file values not applied: %+v %+v", cfg.Drive, cfg.Transcode)
	}
	if got := cfg.EnabledProviders(); len(got) != 1 || got[0] != "tmdb" {
		t.Fatalf("unexpected providers %v", got)
	}
	if cfg.Metadata.TMDBAPIKey != "key" {
		t.Fatalf("expected trimmed key, got %q", cfg.Metadata.TMDBAPIKey)
	}
	if !filepath.IsAbs(cfg.Destination.SSH.KeyPath) || strings.HasPrefix(cfg.Destination.SSH.KeyPath, "~") {
		t.Fatalf("expected expanded key path, got %q", cfg.Destination.SSH.KeyPath)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "settings.yml")
	content := "drive:\n  device: /dev/sr2\njobs:\n  max_attempts: 5\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Drive.Device != "/dev/sr2" || cfg.Jobs.MaxAttempts != 5 {
		t.Fatalf("yaml values not applied: %+v %+v", cfg.Drive, cfg.Jobs)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DISCARCHIVE_TMDB_API_KEY", "env-key")
	t.Setenv("DISCARCHIVE_DEVICE", "/dev/sr9")
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[drive]\ndevice = \"/dev/sr1\"\n[metadata]\ntmdb_api_key = \"file-key\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Metadata.TMDBAPIKey != "env-key" {
		t.Fatalf("expected env key, got %q", cfg.Metadata.TMDBAPIKey)
	}
	if cfg.Drive.Device != "/dev/sr9" {
		t.Fatalf("expected env device, got %q", cfg.Drive.Device)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[drive]\ndevise = \"/dev/sr1\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestCreateSampleLoads(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config should load: %v", err)
	}
	if !exists || cfg.Transcode.VideoCodec != "libx265" {
		t.Fatalf("unexpected sample config: %+v", cfg.Transcode)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"crf out of range", func(c *config.Config) { c.Transcode.CRF = 60 }, "CRF"},
		{"unknown engine", func(c *config.Config) { c.Transcode.Engine = "handbrake" }, "Engine"},
		{"unknown destination", func(c *config.Config) { c.Destination.Type = "s3" }, "Type"},
		{"ssh without host", func(c *config.Config) { c.Destination.Type = "ssh"; c.Destination.SSH.User = "me" }, "destination.ssh.host"},
		{"relative remote path", func(c *config.Config) {
			c.Destination.Type = "ssh"
			c.Destination.SSH.Host = "nas"
			c.Destination.SSH.User = "me"
			c.Destination.SSH.RemotePath = "archive"
		}, "remote_path"},
		{"zero attempts", func(c *config.Config) { c.Jobs.MaxAttempts = 0 }, "MaxAttempts"},
		{"heartbeat ordering", func(c *config.Config) { c.Jobs.HeartbeatTimeoutSeconds = 5 }, "heartbeat_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, services.ErrConfiguration) {
				t.Fatalf("expected configuration error marker, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in %q", tt.want, err.Error())
			}
		})
	}
}
